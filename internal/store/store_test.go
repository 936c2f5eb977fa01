package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matunokihanten/noda/internal/models"
)

type fakeStore struct {
	mu       sync.Mutex
	saved    []models.State
	saveFunc func(models.State) error
}

func (f *fakeStore) Load(context.Context) (models.State, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saved) == 0 {
		return models.State{}, false, nil
	}
	return f.saved[len(f.saved)-1], true, nil
}

func (f *fakeStore) Save(_ context.Context, state models.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveFunc != nil {
		if err := f.saveFunc(state); err != nil {
			return err
		}
	}
	f.saved = append(f.saved, state)
	return nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) versions() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int64
	for _, state := range f.saved {
		out = append(out, state.Version)
	}
	return out
}

func snapshotAt(version int64) models.Snapshot {
	return models.Snapshot{
		Version:     version,
		NextNumber:  int(version) + 1,
		IsAccepting: true,
		ServiceDate: "2026-10-16",
		Queue: []models.Ticket{
			{DisplayID: "S-1", SequenceNumber: 1, Type: models.TypeShop, Status: models.StatusArrived},
		},
	}
}

func TestWriterKeepsLatestState(t *testing.T) {
	backend := &fakeStore{}
	w := NewWriter(backend, 0)

	for v := int64(1); v <= 5; v++ {
		w.Enqueue(snapshotAt(v))
	}
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("empty flush: %v", err)
	}

	versions := backend.versions()
	if len(versions) != 1 || versions[0] != 5 {
		t.Fatalf("saved versions=%v, want [5]", versions)
	}
	state, _, _ := backend.Load(context.Background())
	if state.LastResetDate != "2026-10-16" || state.NextNumber != 6 || state.SavedAt.IsZero() {
		t.Fatalf("saved state=%+v", state)
	}
	if state.Tickets[0].EstimatedWaitMinutes != nil {
		t.Fatalf("estimates must not be persisted")
	}
}

func TestWriterKeepsFailedStateForRetry(t *testing.T) {
	fail := true
	backend := &fakeStore{saveFunc: func(models.State) error {
		if fail {
			return errors.New("disk full")
		}
		return nil
	}}
	w := NewWriter(backend, 0)

	w.Enqueue(snapshotAt(7))
	err := w.Flush(context.Background())
	if !errors.Is(err, ErrPersistenceWrite) {
		t.Fatalf("expected ErrPersistenceWrite, got %v", err)
	}

	fail = false
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if versions := backend.versions(); len(versions) != 1 || versions[0] != 7 {
		t.Fatalf("saved versions=%v", versions)
	}
}

func TestWriterNewerCommitReplacesFailedState(t *testing.T) {
	var w *Writer
	backend := &fakeStore{}
	backend.saveFunc = func(state models.State) error {
		if state.Version == 1 {
			w.Enqueue(snapshotAt(2))
			return errors.New("timeout")
		}
		return nil
	}
	w = NewWriter(backend, 0)

	w.Enqueue(snapshotAt(1))
	if err := w.Flush(context.Background()); err == nil {
		t.Fatalf("expected failure")
	}
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if versions := backend.versions(); len(versions) != 1 || versions[0] != 2 {
		t.Fatalf("saved versions=%v, want [2]", versions)
	}
}

func TestWriterRunFlushesOnShutdown(t *testing.T) {
	backend := &fakeStore{}
	w := NewWriter(backend, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	w.Enqueue(snapshotAt(3))
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("writer did not stop")
	}
	if versions := backend.versions(); len(versions) != 1 || versions[0] != 3 {
		t.Fatalf("saved versions=%v", versions)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "waitlist.json")
	fs := NewFileStore(path)

	if _, ok, err := fs.Load(ctx); err != nil || ok {
		t.Fatalf("missing file: ok=%v err=%v", ok, err)
	}

	state := snapshotAt(4).State()
	state.SavedAt = time.Date(2026, 10, 16, 3, 0, 0, 0, time.UTC)
	if err := fs.Save(ctx, state); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, ok, err := fs.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if loaded.Version != 4 || loaded.NextNumber != 5 || len(loaded.Tickets) != 1 || !loaded.SavedAt.Equal(state.SavedAt) {
		t.Fatalf("loaded=%+v", loaded)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temporary files left behind: %d entries", len(entries))
	}
}

func TestFileStoreRejectsCorruptRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "waitlist.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := NewFileStore(path).Load(context.Background()); err == nil {
		t.Fatalf("expected decode error")
	}
}
