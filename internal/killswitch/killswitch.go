// Package killswitch exposes the shared trading kill-switch flag. The flag
// lives in an external store so every service (and every operator) sees the
// same value. Reads are plain read-then-act: two concurrent runs can both
// observe "off" and proceed. Callers are responsible for not overlapping
// runs; this package does not serialize them.
package killswitch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// GlobalKillSwitch is the flag consulted before any order generation. It is
// a one-way latch: the pipeline sets it on a breaker trip and only a human
// clears it.
const GlobalKillSwitch = "GLOBAL_KILL_SWITCH"

// Store reads and writes named boolean flags in a shared external store.
type Store interface {
	Get(ctx context.Context, flag string) (bool, error)
	Set(ctx context.Context, flag string, value bool) error
}

// RedisStore keeps flags in redis, matching how the rest of the system
// shares them.
type RedisStore struct {
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore builds a flag store over an existing redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get returns the flag value; a missing key reads as false.
func (s *RedisStore) Get(ctx context.Context, flag string) (bool, error) {
	val, err := s.client.Get(ctx, flag).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read flag %s: %w", flag, err)
	}
	return val == "true", nil
}

// Set writes the flag value.
func (s *RedisStore) Set(ctx context.Context, flag string, value bool) error {
	if err := s.client.Set(ctx, flag, strconv.FormatBool(value), 0).Err(); err != nil {
		return fmt.Errorf("failed to set flag %s: %w", flag, err)
	}
	return nil
}

// Memory is an in-process Store for tests and for deployments without a
// shared flag store configured. Flags set here do not survive a restart.
type Memory struct {
	mu    sync.RWMutex
	flags map[string]bool
}

var _ Store = (*Memory)(nil)

// NewMemory builds an empty in-memory flag store.
func NewMemory() *Memory {
	return &Memory{flags: make(map[string]bool)}
}

// Get returns the flag value; unknown flags read as false.
func (m *Memory) Get(_ context.Context, flag string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flags[flag], nil
}

// Set writes the flag value.
func (m *Memory) Set(_ context.Context, flag string, value bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[flag] = value
	return nil
}
