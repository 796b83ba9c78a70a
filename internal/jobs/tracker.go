package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Status string

const (
	Pending Status = "pending"
	Running Status = "running"
	Success Status = "success"
	Failed  Status = "failed"
)

// Record is the observable state of one job.
type Record struct {
	ID         string     `bson:"_id" json:"id"`
	Job        Name       `bson:"job" json:"job"`
	Probe      string     `bson:"probe" json:"probe"`
	Status     Status     `bson:"status" json:"status"`
	Attempts   int        `bson:"attempts" json:"attempts"`
	Message    string     `bson:"message,omitempty" json:"message,omitempty"`
	Errors     string     `bson:"errors,omitempty" json:"errors,omitempty"`
	EnqueuedAt time.Time  `bson:"enqueued_at" json:"enqueuedAt"`
	StartedAt  *time.Time `bson:"started_at,omitempty" json:"startedAt,omitempty"`
	FinishedAt *time.Time `bson:"finished_at,omitempty" json:"finishedAt,omitempty"`
}

func pendingRecord(j Job) Record {
	return Record{ID: j.ID.String(), Job: j.Name, Probe: j.Probe, Status: Pending, EnqueuedAt: j.EnqueuedAt}
}

// Tracker stores job records.
type Tracker interface {
	Save(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, bool, error)
	List(ctx context.Context, probe string) ([]Record, error)
}

type MemoryTracker struct {
	mu   sync.RWMutex
	jobs map[string]Record
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{jobs: make(map[string]Record)}
}

func (t *MemoryTracker) Save(_ context.Context, rec Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[rec.ID] = rec
	return nil
}

func (t *MemoryTracker) Get(_ context.Context, id string) (Record, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.jobs[id]
	return rec, ok, nil
}

// List returns the jobs of probe, or all jobs when probe is empty, newest first.
func (t *MemoryTracker) List(_ context.Context, probe string) ([]Record, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Record
	for _, rec := range t.jobs {
		if probe == "" || rec.Probe == probe {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnqueuedAt.After(out[j].EnqueuedAt) })
	return out, nil
}

type MongoTracker struct {
	coll *mongo.Collection
}

func NewMongoTracker(db *mongo.Database) *MongoTracker {
	return &MongoTracker{coll: db.Collection("jobs")}
}

func (t *MongoTracker) Save(ctx context.Context, rec Record) error {
	_, err := t.coll.ReplaceOne(ctx, bson.M{"_id": rec.ID}, rec, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save job %s: %w", rec.ID, err)
	}
	return nil
}

func (t *MongoTracker) Get(ctx context.Context, id string) (Record, bool, error) {
	var rec Record
	err := t.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("load job %s: %w", id, err)
	}
	return rec, true, nil
}

func (t *MongoTracker) List(ctx context.Context, probe string) ([]Record, error) {
	filter := bson.M{}
	if probe != "" {
		filter["probe"] = probe
	}
	cur, err := t.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "enqueued_at", Value: -1}}).SetLimit(100))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	var out []Record
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode jobs: %w", err)
	}
	return out, nil
}
