package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"

	"outreachd/config"
)

// persistedState is the durable snapshot of the limiter's windows. It is
// written on every mutation so quotas survive process recycling.
type persistedState struct {
	DailyCount   int         `json:"daily_count"`
	DailyResetAt time.Time   `json:"daily_reset_time"`
	MinuteWindow []time.Time `json:"minute_window"`
}

// StateStore persists limiter state. Save must be atomic: a reader never
// observes a partially written snapshot.
type StateStore interface {
	Save(state persistedState) error
	// Load returns the stored state, or ok=false when none exists yet.
	Load() (state persistedState, ok bool, err error)
}

// FileStore keeps the state in a JSON file, replaced atomically via rename.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Save(state persistedState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal rate state: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write rate state: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace rate state: %w", err)
	}
	return nil
}

func (f *FileStore) Load() (persistedState, bool, error) {
	var state persistedState
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return state, false, nil
		}
		return state, false, fmt.Errorf("read rate state: %w", err)
	}
	if err := json.Unmarshal(data, &state); err != nil {
		// A corrupt snapshot resets to a clean state rather than blocking
		// startup; under-counting is the acceptable direction.
		return persistedState{}, false, nil
	}
	return state, true, nil
}

// RedisStore keeps the state under a single key; SET is atomic so no partial
// writes can interleave.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(cfg config.RedisConfig, key string) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		key: key,
	}
}

func (r *RedisStore) Save(state persistedState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal rate state: %w", err)
	}
	return r.client.Set(context.Background(), r.key, data, 0).Err()
}

func (r *RedisStore) Load() (persistedState, bool, error) {
	var state persistedState
	data, err := r.client.Get(context.Background(), r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return state, false, nil
		}
		return state, false, err
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return persistedState{}, false, nil
	}
	return state, true, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
