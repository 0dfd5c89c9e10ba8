// SPDX-License-Identifier: Apache-2.0

package safety

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/liyecom/liye-ai-sub006/internal/core/policy"
)

// CounterStore tracks per-day consumption counters. Reserve must be atomic:
// two concurrent reservations against the same key must never jointly exceed
// the limit.
type CounterStore interface {
	// Used returns the current value of a counter, 0 when absent.
	Used(ctx context.Context, key string) (int64, error)
	// Reserve atomically consumes n units if used+n stays within limit.
	// A limit of 0 or below means uncapped. Returns false when the
	// reservation would exceed the limit; the counter is left unchanged.
	Reserve(ctx context.Context, key string, n, limit int64) (bool, error)
	// Release returns n units, flooring at zero.
	Release(ctx context.Context, key string, n int64) error
}

// DayKey builds the counter key for one tenant, counter name, and UTC day.
func DayKey(prefix, counter, tenantID string, day time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%s", prefix, counter, tenantID, day.UTC().Format("2006-01-02"))
}

// NewCounterStore builds the store selected by the policy's counter config.
func NewCounterStore(cfg policy.CountersConfig) (CounterStore, error) {
	switch cfg.Backend {
	case "", policy.CounterBackendMemory:
		return NewMemoryCounterStore(), nil
	case policy.CounterBackendRedis:
		return NewRedisCounterStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB), nil
	default:
		return nil, fmt.Errorf("unknown counter backend %q", cfg.Backend)
	}
}

// MemoryCounterStore for testing/single-instance deployments.
type MemoryCounterStore struct {
	mu   sync.Mutex
	used map[string]int64
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		used: make(map[string]int64),
	}
}

func (s *MemoryCounterStore) Used(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used[key], nil
}

func (s *MemoryCounterStore) Reserve(ctx context.Context, key string, n, limit int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit > 0 && s.used[key]+n > limit {
		return false, nil
	}
	s.used[key] += n
	return true, nil
}

func (s *MemoryCounterStore) Release(ctx context.Context, key string, n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n > s.used[key] {
		n = s.used[key]
	}
	s.used[key] -= n
	return nil
}
