package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matunokihanten/noda/internal/models"

	goredis "github.com/redis/go-redis/v9"
)

// Store keeps the state record as a JSON string under a single key.
type Store struct {
	client *goredis.Client
	key    string
}

func NewClient(addr, password string, db int) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewStore(client *goredis.Client, key string) *Store {
	return &Store{client: client, key: key}
}

func (s *Store) Load(ctx context.Context) (models.State, bool, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return models.State{}, false, nil
	}
	if err != nil {
		return models.State{}, false, err
	}
	var state models.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return models.State{}, false, fmt.Errorf("decode %s: %w", s.key, err)
	}
	return state, true, nil
}

func (s *Store) Save(ctx context.Context, state models.State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key, raw, 0).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}
