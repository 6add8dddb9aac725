package persist

import (
	"context"
	"errors"
	"fmt"
)

// Store is a durable home for the latest grid snapshot.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save durably replaces the stored snapshot with data. A crash during
	// Save must leave either the previous or the new snapshot intact.
	Save(ctx context.Context, data []byte) error

	// Load returns the latest snapshot. It returns ErrNotFound when nothing
	// has been saved yet.
	Load(ctx context.Context) ([]byte, error)

	// Name identifies the store in logs and metrics.
	Name() string

	// Close releases any resources held by the store.
	Close() error
}

// ErrNotFound is returned by Store.Load when no snapshot exists.
var ErrNotFound = errors.New("persist: snapshot not found")

// Error wraps a store failure with the operation and store name.
type Error struct {
	Op    string // "save" or "load"
	Store string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("persist: %s %s: %v", e.Op, e.Store, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
