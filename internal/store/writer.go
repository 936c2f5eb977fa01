package store

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/matunokihanten/noda/internal/metrics"
	"github.com/matunokihanten/noda/internal/models"
)

const (
	retryDelay   = 5 * time.Second
	flushTimeout = 5 * time.Second
)

// Writer saves the latest committed state in the background. Commits that
// arrive while a save is pending replace it, so a burst of mutations
// results in one write of the final state.
type Writer struct {
	store    SnapshotStore
	debounce time.Duration
	now      func() time.Time

	mu      sync.Mutex
	pending *models.State
	saveMu  sync.Mutex
	wake    chan struct{}
}

func NewWriter(store SnapshotStore, debounce time.Duration) *Writer {
	return &Writer{
		store:    store,
		debounce: debounce,
		now:      time.Now,
		wake:     make(chan struct{}, 1),
	}
}

// Enqueue records snapshot as the state to save next. It never blocks and
// is meant to be registered as a queue commit listener.
func (w *Writer) Enqueue(snapshot models.Snapshot) {
	state := snapshot.State()
	w.mu.Lock()
	w.pending = &state
	w.mu.Unlock()
	w.signal()
}

func (w *Writer) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run saves pending state until ctx is done, then makes a final attempt
// so the last commit before shutdown is not lost.
func (w *Writer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			if err := w.Flush(flushCtx); err != nil {
				log.Printf("persistence final flush failed: %v", err)
			}
			cancel()
			return
		case <-w.wake:
		}

		if w.debounce > 0 {
			select {
			case <-ctx.Done():
				continue
			case <-time.After(w.debounce):
			}
		}

		if err := w.Flush(ctx); err != nil {
			log.Printf("persistence write failed, retrying in %s: %v", retryDelay, err)
			select {
			case <-ctx.Done():
			case <-time.After(retryDelay):
				w.signal()
			}
		}
	}
}

// Flush saves the pending state now, if any. A failed save is kept for
// the next attempt unless a newer commit has replaced it meanwhile.
func (w *Writer) Flush(ctx context.Context) error {
	w.saveMu.Lock()
	defer w.saveMu.Unlock()

	w.mu.Lock()
	state := w.pending
	w.pending = nil
	w.mu.Unlock()
	if state == nil {
		return nil
	}

	state.SavedAt = w.now()
	if err := w.store.Save(ctx, *state); err != nil {
		metrics.PersistenceFailures.Inc()
		w.mu.Lock()
		if w.pending == nil {
			w.pending = state
		}
		w.mu.Unlock()
		return fmt.Errorf("%w: version %d: %w", ErrPersistenceWrite, state.Version, err)
	}
	return nil
}
