// Package store persists probe records and the documents they reference.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/andrej220/probemanager/internal/probe"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrDuplicateName = errors.New("name already in use")
	ErrImmutableType = errors.New("probe type and subtype cannot change")
)

// ProbeStore is the persistence collaborator. Lookups report absence with
// found=false; err is reserved for storage faults.
type ProbeStore interface {
	GetByID(ctx context.Context, id string) (rec *probe.Record, found bool, err error)
	GetByName(ctx context.Context, name string) (rec *probe.Record, found bool, err error)
	GetAll(ctx context.Context) ([]*probe.Record, error)
	Save(ctx context.Context, rec *probe.Record) error
	UpdateRulesDate(ctx context.Context, name string, at time.Time) error
	// Hydrate loads the OS, ssh key and configuration referenced by rec.
	// Dangling references are left nil.
	Hydrate(ctx context.Context, rec *probe.Record) error
}

// checkUpdate enforces the invariants between a stored record and its
// replacement.
func checkUpdate(old, rec *probe.Record) error {
	if old.Type != rec.Type || old.Subtype != rec.Subtype {
		return ErrImmutableType
	}
	return nil
}
