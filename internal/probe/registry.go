package probe

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/andrej220/probemanager/internal/executor"
)

var ErrUnknownProbeType = errors.New("unknown probe type")

// Factory builds the family implementation for a record.
type Factory func(rec *Record, exec executor.Executor) Lifecycle

// Key returns subtype when set, type otherwise.
func Key(typ, subtype string) string {
	if subtype != "" {
		return subtype
	}
	return typ
}

// Registry maps a probe key to its family factory. It is populated once at
// startup and read concurrently afterwards.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. It panics on an empty key, a nil factory or a
// duplicate key.
func (r *Registry) Register(key string, f Factory) {
	if key == "" || f == nil {
		panic("probe: Register with empty key or nil factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[key]; dup {
		panic(fmt.Sprintf("probe: Register called twice for %q", key))
	}
	r.factories[key] = f
}

func (r *Registry) Resolve(typ, subtype string) (Factory, error) {
	key := Key(typ, subtype)
	r.mu.RLock()
	f, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProbeType, key)
	}
	return f, nil
}

// Build resolves rec and returns its Lifecycle bound to exec.
func (r *Registry) Build(rec *Record, exec executor.Executor) (Lifecycle, error) {
	f, err := r.Resolve(rec.Type, rec.Subtype)
	if err != nil {
		return nil, err
	}
	return f(rec, exec), nil
}

// Keys lists registered keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
