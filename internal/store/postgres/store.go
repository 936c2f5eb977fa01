package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matunokihanten/noda/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const DefaultKey = "default"

const createTable = `
	CREATE TABLE IF NOT EXISTS waitlist_state (
		state_key TEXT PRIMARY KEY,
		version BIGINT NOT NULL,
		state JSONB NOT NULL,
		saved_at TIMESTAMPTZ NOT NULL
	)
`

// Store keeps the state record as one jsonb row per key.
type Store struct {
	pool *pgxpool.Pool
	key  string
}

func NewStore(pool *pgxpool.Pool, key string) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{pool: pool, key: key}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, createTable)
	return err
}

func (s *Store) Load(ctx context.Context) (models.State, bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT state FROM waitlist_state WHERE state_key = $1
	`, s.key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.State{}, false, nil
	}
	if err != nil {
		return models.State{}, false, err
	}
	var state models.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return models.State{}, false, fmt.Errorf("decode state %s: %w", s.key, err)
	}
	return state, true, nil
}

// Save upserts the record. A write carrying an older version than the
// stored one is ignored.
func (s *Store) Save(ctx context.Context, state models.State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO waitlist_state (state_key, version, state, saved_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (state_key) DO UPDATE
		SET version = EXCLUDED.version, state = EXCLUDED.state, saved_at = EXCLUDED.saved_at
		WHERE waitlist_state.version <= EXCLUDED.version
	`, s.key, state.Version, raw, state.SavedAt)
	return err
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
