// SPDX-License-Identifier: Apache-2.0

package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/liyecom/liye-ai-sub006/internal/core/models"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists approval records and execution attempts in one
// database file so a decision and the runs that reference it share a
// transaction boundary.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (and migrates) the approval database at path.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening approval database: %w", err)
	}
	return NewSQLiteStore(db)
}

// NewSQLiteStore wraps an existing database handle, creating tables as
// needed.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS approvals (
        id TEXT PRIMARY KEY,
        proposal_id TEXT NOT NULL,
        fingerprint TEXT NOT NULL,
        trace_id TEXT,
        action_id TEXT,
        status TEXT NOT NULL,
        reviewer TEXT,
        comment TEXT,
        supersedes TEXT NOT NULL DEFAULT '',
        created_at DATETIME,
        updated_at DATETIME,
        decided_at DATETIME,
        executed_at DATETIME
    );
    CREATE INDEX IF NOT EXISTS idx_approvals_fingerprint ON approvals(fingerprint);
    CREATE TABLE IF NOT EXISTS attempts (
        idempotency_key TEXT NOT NULL,
        action_hash TEXT NOT NULL,
        result JSON,
        created_at DATETIME,
        PRIMARY KEY (idempotency_key, action_hash)
    );`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

const approvalColumns = "id, proposal_id, fingerprint, trace_id, action_id, status, reviewer, comment, supersedes, created_at, updated_at, decided_at, executed_at"

func (s *SQLiteStore) Create(ctx context.Context, rec models.ApprovalRecord) error {
	query := `INSERT INTO approvals (` + approvalColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.ProposalID, rec.Fingerprint, rec.TraceID, rec.ActionID,
		string(rec.Status), rec.Reviewer, rec.Comment, rec.Supersedes,
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
		formatTimePtr(rec.DecidedAt), formatTimePtr(rec.ExecutedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert approval record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (models.ApprovalRecord, bool, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE id = ?`
	rec, err := scanApproval(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return models.ApprovalRecord{}, false, nil
	}
	if err != nil {
		return models.ApprovalRecord{}, false, err
	}
	return rec, true, nil
}

func (s *SQLiteStore) Update(ctx context.Context, rec models.ApprovalRecord) error {
	query := `UPDATE approvals
        SET status = ?, reviewer = ?, comment = ?, supersedes = ?, updated_at = ?, decided_at = ?, executed_at = ?
        WHERE id = ?`

	res, err := s.db.ExecContext(ctx, query,
		string(rec.Status), rec.Reviewer, rec.Comment, rec.Supersedes,
		formatTime(rec.UpdatedAt), formatTimePtr(rec.DecidedAt), formatTimePtr(rec.ExecutedAt),
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update approval record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("approval record %q not found", rec.ID)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, status models.ApprovalStatus, limit int) ([]models.ApprovalRecord, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryRecords(ctx, query, args...)
}

func (s *SQLiteStore) FindByFingerprint(ctx context.Context, fingerprint string) ([]models.ApprovalRecord, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals
        WHERE fingerprint = ?
        ORDER BY created_at DESC, rowid DESC`
	return s.queryRecords(ctx, query, fingerprint)
}

func (s *SQLiteStore) queryRecords(ctx context.Context, query string, args ...interface{}) ([]models.ApprovalRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []models.ApprovalRecord
	for rows.Next() {
		rec, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *SQLiteStore) GetAttempt(ctx context.Context, idempotencyKey, actionHash string) (models.PerActionResult, bool, error) {
	query := `SELECT result FROM attempts WHERE idempotency_key = ? AND action_hash = ?`

	var blob string
	err := s.db.QueryRowContext(ctx, query, idempotencyKey, actionHash).Scan(&blob)
	if err == sql.ErrNoRows {
		return models.PerActionResult{}, false, nil
	}
	if err != nil {
		return models.PerActionResult{}, false, err
	}

	var result models.PerActionResult
	if err := json.Unmarshal([]byte(blob), &result); err != nil {
		return models.PerActionResult{}, false, fmt.Errorf("error decoding stored attempt: %w", err)
	}
	return result, true, nil
}

func (s *SQLiteStore) SaveAttempt(ctx context.Context, idempotencyKey, actionHash string, result models.PerActionResult) error {
	blob, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("error encoding attempt: %w", err)
	}

	query := `INSERT OR REPLACE INTO attempts (idempotency_key, action_hash, result, created_at)
        VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, idempotencyKey, actionHash, string(blob), formatTime(time.Now())); err != nil {
		return fmt.Errorf("failed to insert attempt: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanApproval(row rowScanner) (models.ApprovalRecord, error) {
	var (
		rec        models.ApprovalRecord
		status     string
		createdAt  string
		updatedAt  string
		decidedAt  sql.NullString
		executedAt sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.ProposalID, &rec.Fingerprint, &rec.TraceID, &rec.ActionID,
		&status, &rec.Reviewer, &rec.Comment, &rec.Supersedes,
		&createdAt, &updatedAt, &decidedAt, &executedAt)
	if err != nil {
		return models.ApprovalRecord{}, err
	}

	rec.Status = models.ApprovalStatus(status)
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	rec.DecidedAt = parseTimePtr(decidedAt)
	rec.ExecutedAt = parseTimePtr(executedAt)
	return rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}

func parseTimePtr(value sql.NullString) *time.Time {
	if !value.Valid || value.String == "" {
		return nil
	}
	t := parseTime(value.String)
	return &t
}
