// Package store persists the waitlist state record. Backends implement
// SnapshotStore; Writer sits between the queue's commit listeners and the
// backend so that no commit ever waits on I/O.
package store

import (
	"context"
	"errors"

	"github.com/matunokihanten/noda/internal/models"
)

var ErrPersistenceWrite = errors.New("persistence write failed")

type SnapshotStore interface {
	// Load returns the saved state; ok is false when nothing was saved yet.
	Load(ctx context.Context) (state models.State, ok bool, err error)
	Save(ctx context.Context, state models.State) error
	Close() error
}
