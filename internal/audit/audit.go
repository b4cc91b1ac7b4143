// Package audit records authentication flow outcomes.
//
// The trail is append-only and advisory: nothing in the auth decision
// path reads it, and a failed write never fails the flow that produced
// it.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/trysts/auth-core/internal/infrastructure/database"
)

// idPrefixLength is how many UUID characters to use in entry IDs.
const idPrefixLength = 8

// Flow names recorded in the trail.
const (
	FlowLogin   = "login"
	FlowVerify  = "verify"
	FlowRefresh = "refresh"
	FlowLogout  = "logout"
)

// Entry is a single audit record.
type Entry struct {
	ID        string
	Flow      string
	Email     string
	Outcome   string
	RequestID string
	Details   string
	CreatedAt time.Time
}

// Filter narrows List results. Zero values mean no constraint.
type Filter struct {
	Flow  string
	Email string
	Limit int
}

// defaultListLimit caps List results when no limit is given.
const defaultListLimit = 100

// Recorder provides SQLite-backed audit storage.
type Recorder struct {
	db *database.DB
}

// NewRecorder creates a Recorder backed by the given database.
func NewRecorder(db *database.DB) *Recorder {
	return &Recorder{db: db}
}

// Record appends an entry to the trail. ID and CreatedAt are set here.
func (r *Recorder) Record(ctx context.Context, entry Entry) error {
	entry.ID = "aud-" + uuid.New().String()[:idPrefixLength]
	entry.CreatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO auth_audit (id, flow, email, outcome, request_id, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Flow, entry.Email, entry.Outcome,
		entry.RequestID, entry.Details,
		entry.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("recording audit entry: %w", err)
	}
	return nil
}

// List returns entries matching the filter, newest first.
func (r *Recorder) List(ctx context.Context, filter Filter) ([]Entry, error) {
	query := `
		SELECT id, flow, email, outcome, request_id, details, created_at
		FROM auth_audit`

	var (
		conditions []string
		args       []interface{}
	)
	if filter.Flow != "" {
		conditions = append(conditions, "flow = ?")
		args = append(args, filter.Flow)
	}
	if filter.Email != "" {
		conditions = append(conditions, "email = ?")
		args = append(args, filter.Email)
	}

	for i, cond := range conditions {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry     Entry
			createdAt string
		)
		if err := rows.Scan(
			&entry.ID, &entry.Flow, &entry.Email, &entry.Outcome,
			&entry.RequestID, &entry.Details, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		entry.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // Format is controlled
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}
	return entries, nil
}
