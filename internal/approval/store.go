// SPDX-License-Identifier: Apache-2.0

package approval

import (
	"context"
	"fmt"
	"sync"

	"github.com/liyecom/liye-ai-sub006/internal/core/models"
)

// Store persists approval records. Implementations must return records by
// value; callers never share mutable state with the store.
type Store interface {
	Create(ctx context.Context, rec models.ApprovalRecord) error
	Get(ctx context.Context, id string) (models.ApprovalRecord, bool, error)
	Update(ctx context.Context, rec models.ApprovalRecord) error
	// List returns records newest first. An empty status matches all; a
	// limit of 0 or below means no limit.
	List(ctx context.Context, status models.ApprovalStatus, limit int) ([]models.ApprovalRecord, error)
	// FindByFingerprint returns every record for a proposal fingerprint,
	// newest first, so callers can tell an active record from a superseded
	// chain of terminal ones.
	FindByFingerprint(ctx context.Context, fingerprint string) ([]models.ApprovalRecord, error)
	Close() error
}

// AttemptStore records per-action execution outcomes keyed by the caller's
// idempotency key, so a re-run of the same plan replays stored results
// instead of re-executing writes.
type AttemptStore interface {
	GetAttempt(ctx context.Context, idempotencyKey, actionHash string) (models.PerActionResult, bool, error)
	SaveAttempt(ctx context.Context, idempotencyKey, actionHash string, result models.PerActionResult) error
}

// Replay looks up a previously recorded attempt. A missing idempotency key
// disables replay entirely.
func Replay(ctx context.Context, st AttemptStore, idempotencyKey, actionHash string) (models.PerActionResult, bool, error) {
	if idempotencyKey == "" {
		return models.PerActionResult{}, false, nil
	}
	return st.GetAttempt(ctx, idempotencyKey, actionHash)
}

// Save records an attempt outcome for later replay. No-op without a key.
func Save(ctx context.Context, st AttemptStore, idempotencyKey, actionHash string, result models.PerActionResult) error {
	if idempotencyKey == "" {
		return nil
	}
	return st.SaveAttempt(ctx, idempotencyKey, actionHash, result)
}

type attemptKey struct {
	idempotencyKey string
	actionHash     string
}

// MemoryStore for testing/single-instance deployments.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[string]models.ApprovalRecord
	order    []string
	attempts map[attemptKey]models.PerActionResult
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]models.ApprovalRecord),
		attempts: make(map[attemptKey]models.PerActionResult),
	}
}

func (s *MemoryStore) Create(ctx context.Context, rec models.ApprovalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("approval record %q already exists", rec.ID)
	}
	s.records[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (models.ApprovalRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	return rec, ok, nil
}

func (s *MemoryStore) Update(ctx context.Context, rec models.ApprovalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; !exists {
		return fmt.Errorf("approval record %q not found", rec.ID)
	}
	s.records[rec.ID] = rec
	return nil
}

func (s *MemoryStore) List(ctx context.Context, status models.ApprovalStatus, limit int) ([]models.ApprovalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.ApprovalRecord
	for i := len(s.order) - 1; i >= 0; i-- {
		rec := s.records[s.order[i]]
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) FindByFingerprint(ctx context.Context, fingerprint string) ([]models.ApprovalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.ApprovalRecord
	for i := len(s.order) - 1; i >= 0; i-- {
		if rec := s.records[s.order[i]]; rec.Fingerprint == fingerprint {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetAttempt(ctx context.Context, idempotencyKey, actionHash string) (models.PerActionResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, ok := s.attempts[attemptKey{idempotencyKey, actionHash}]
	return result, ok, nil
}

func (s *MemoryStore) SaveAttempt(ctx context.Context, idempotencyKey, actionHash string, result models.PerActionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts[attemptKey{idempotencyKey, actionHash}] = result
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
