// SPDX-License-Identifier: Apache-2.0

// Package approval tracks sign-off for proposals that need it. The state
// machine is DRAFT → SUBMITTED → {APPROVED, REJECTED} → EXECUTED; terminal
// records are immutable and re-submission creates a new record that
// references the superseded one.
package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/liyecom/liye-ai-sub006/internal/core/models"
	"github.com/liyecom/liye-ai-sub006/internal/core/policy"
)

// Machine applies lifecycle transitions to approval records. All state
// changes go through one validated choke point; an illegal transition is a
// hard error and leaves the stored record untouched.
type Machine struct {
	store Store
	now   func() time.Time
}

// NewMachine creates a machine over the given store.
func NewMachine(store Store) *Machine {
	return &Machine{store: store, now: time.Now}
}

// Submit returns the active approval record for a proposal, creating one when
// none exists. Re-submitting while a record is in flight is idempotent;
// re-submitting after a terminal decision creates a fresh record whose
// Supersedes field points at the most recent one.
func (m *Machine) Submit(ctx context.Context, proposal models.ActionProposal) (models.ApprovalRecord, error) {
	if proposal.Fingerprint == "" {
		return models.ApprovalRecord{}, fmt.Errorf("proposal %q has no fingerprint", proposal.ProposalID)
	}

	history, err := m.store.FindByFingerprint(ctx, proposal.Fingerprint)
	if err != nil {
		return models.ApprovalRecord{}, fmt.Errorf("error looking up approval history: %w", err)
	}
	for _, rec := range history {
		if !models.IsApprovalTerminal(rec.Status) {
			return rec, nil
		}
	}

	supersedes := ""
	if len(history) > 0 {
		supersedes = history[0].ID
	}

	now := m.now().UTC()
	rec := models.ApprovalRecord{
		ID:          uuid.NewString(),
		ProposalID:  proposal.ProposalID,
		Fingerprint: proposal.Fingerprint,
		TraceID:     proposal.TraceID,
		ActionID:    proposal.ActionID,
		Status:      models.ApprovalDraft,
		Supersedes:  supersedes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.transition(&rec, models.ApprovalSubmitted); err != nil {
		return models.ApprovalRecord{}, err
	}
	if err := m.store.Create(ctx, rec); err != nil {
		return models.ApprovalRecord{}, fmt.Errorf("error creating approval record: %w", err)
	}
	return rec, nil
}

// Approve records a reviewer's approval decision.
func (m *Machine) Approve(ctx context.Context, id, reviewer, comment string) (models.ApprovalRecord, error) {
	return m.decide(ctx, id, models.ApprovalApproved, reviewer, comment)
}

// Reject records a reviewer's rejection. Rejection is final.
func (m *Machine) Reject(ctx context.Context, id, reviewer, comment string) (models.ApprovalRecord, error) {
	return m.decide(ctx, id, models.ApprovalRejected, reviewer, comment)
}

// AutoApprove submits and immediately approves a proposal on behalf of the
// auto-execution policy. Callers invoke it only after eligibility and safety
// both passed.
func (m *Machine) AutoApprove(ctx context.Context, proposal models.ActionProposal, comment string) (models.ApprovalRecord, error) {
	rec, err := m.Submit(ctx, proposal)
	if err != nil {
		return models.ApprovalRecord{}, err
	}
	switch rec.Status {
	case models.ApprovalApproved:
		return rec, nil
	case models.ApprovalSubmitted:
		return m.decide(ctx, rec.ID, models.ApprovalApproved, policy.ReviewerAutoPolicy, comment)
	default:
		return models.ApprovalRecord{}, fmt.Errorf("cannot auto-approve record %q in status %q", rec.ID, rec.Status)
	}
}

// MarkExecuted finalizes an approved record after a successful real-write
// run referenced it.
func (m *Machine) MarkExecuted(ctx context.Context, id string) (models.ApprovalRecord, error) {
	rec, ok, err := m.store.Get(ctx, id)
	if err != nil {
		return models.ApprovalRecord{}, fmt.Errorf("error loading approval record: %w", err)
	}
	if !ok {
		return models.ApprovalRecord{}, fmt.Errorf("approval record %q not found", id)
	}
	if err := m.transition(&rec, models.ApprovalExecuted); err != nil {
		return models.ApprovalRecord{}, err
	}
	executedAt := m.now().UTC()
	rec.ExecutedAt = &executedAt
	if err := m.store.Update(ctx, rec); err != nil {
		return models.ApprovalRecord{}, fmt.Errorf("error saving approval record: %w", err)
	}
	return rec, nil
}

// Get returns one record by id.
func (m *Machine) Get(ctx context.Context, id string) (models.ApprovalRecord, bool, error) {
	return m.store.Get(ctx, id)
}

// List returns records newest first, optionally filtered by status.
func (m *Machine) List(ctx context.Context, status models.ApprovalStatus, limit int) ([]models.ApprovalRecord, error) {
	return m.store.List(ctx, status, limit)
}

func (m *Machine) decide(ctx context.Context, id string, to models.ApprovalStatus, reviewer, comment string) (models.ApprovalRecord, error) {
	rec, ok, err := m.store.Get(ctx, id)
	if err != nil {
		return models.ApprovalRecord{}, fmt.Errorf("error loading approval record: %w", err)
	}
	if !ok {
		return models.ApprovalRecord{}, fmt.Errorf("approval record %q not found", id)
	}
	if err := m.transition(&rec, to); err != nil {
		return models.ApprovalRecord{}, err
	}
	rec.Reviewer = reviewer
	rec.Comment = comment
	decidedAt := m.now().UTC()
	rec.DecidedAt = &decidedAt
	if err := m.store.Update(ctx, rec); err != nil {
		return models.ApprovalRecord{}, fmt.Errorf("error saving approval record: %w", err)
	}
	return rec, nil
}

func (m *Machine) transition(rec *models.ApprovalRecord, to models.ApprovalStatus) error {
	if err := models.ValidateApprovalTransition(rec.Status, to); err != nil {
		return err
	}
	rec.Status = to
	rec.UpdatedAt = m.now().UTC()
	return nil
}
