// Package configstore defines the contract shared by configuration backends.
package configstore

import "context"

type ConfigStore interface {
	Load(out any) error
	Save(data any) error
}

// Watcher notifies onChange after the stored document changed, until ctx
// is done.
type Watcher interface {
	Watch(ctx context.Context, onChange func()) error
}
