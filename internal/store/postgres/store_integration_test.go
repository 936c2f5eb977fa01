package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/matunokihanten/noda/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := setupTestStore(t, ctx)

	if _, ok, err := st.Load(ctx); err != nil || ok {
		t.Fatalf("empty table: ok=%v err=%v", ok, err)
	}

	saved := models.State{
		Tickets: []models.Ticket{
			{DisplayID: "S-1", SequenceNumber: 1, Type: models.TypeShop, Adults: 2, SeatPreference: models.SeatTable, Status: models.StatusArrived, RegisteredAt: time.Date(2026, 10, 16, 2, 0, 0, 0, time.UTC)},
		},
		NextNumber:    2,
		Stats:         models.Stats{TotalToday: 1},
		Acceptance:    models.Acceptance{IsAccepting: true},
		LastResetDate: "2026-10-16",
		Version:       3,
		SavedAt:       time.Date(2026, 10, 16, 2, 0, 1, 0, time.UTC),
	}
	if err := st.Save(ctx, saved); err != nil {
		t.Fatalf("save: %v", err)
	}

	stale := saved
	stale.Version = 2
	stale.NextNumber = 99
	if err := st.Save(ctx, stale); err != nil {
		t.Fatalf("save stale: %v", err)
	}

	loaded, ok, err := st.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if loaded.Version != 3 || loaded.NextNumber != 2 || len(loaded.Tickets) != 1 || loaded.Tickets[0].DisplayID != "S-1" {
		t.Fatalf("loaded=%+v", loaded)
	}
}

func setupTestStore(t *testing.T, ctx context.Context) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := execOnce(ctx, dsn, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	st := NewStore(pool, "")
	if err := st.EnsureSchema(ctx); err != nil {
		pool.Close()
		t.Fatalf("ensure schema: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
		_ = execOnce(context.Background(), dsn, "DROP SCHEMA "+schema+" CASCADE")
	})
	return st
}

func execOnce(ctx context.Context, dsn, sql string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, sql)
	return err
}
