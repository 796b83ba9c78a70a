// Package jobs submits and runs asynchronous probe jobs: install, update and
// rules deployment. Jobs are addressed by probe name.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Name string

const (
	Install     Name = "install"
	Update      Name = "update"
	DeployRules Name = "deployRules"
)

var (
	// ErrEnqueue wraps every submission failure.
	ErrEnqueue    = errors.New("enqueue failed")
	ErrUnknownJob = errors.New("unknown job")
)

func (n Name) Valid() bool {
	switch n {
	case Install, Update, DeployRules:
		return true
	}
	return false
}

// Job is the message carried by the queue.
type Job struct {
	ID         uuid.UUID `json:"id"`
	Name       Name      `json:"job"`
	Probe      string    `json:"probe"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// Handle acknowledges a submitted job.
type Handle struct {
	ID         uuid.UUID `json:"id"`
	Job        Name      `json:"job"`
	Probe      string    `json:"probe"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

func (j Job) Handle() Handle {
	return Handle{ID: j.ID, Job: j.Name, Probe: j.Probe, EnqueuedAt: j.EnqueuedAt}
}

// Enqueuer submits jobs. A nil error means the job was accepted by the
// queue, not that it ran.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Name, probeName string) (Handle, error)
}

func newJob(name Name, probeName string, now time.Time) (Job, error) {
	if !name.Valid() {
		return Job{}, fmt.Errorf("%w: %w %q", ErrEnqueue, ErrUnknownJob, name)
	}
	if probeName == "" {
		return Job{}, fmt.Errorf("%w: empty probe name", ErrEnqueue)
	}
	return Job{ID: uuid.New(), Name: name, Probe: probeName, EnqueuedAt: now.UTC()}, nil
}
