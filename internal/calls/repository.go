package calls

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrCallNotFound = errors.New("call not found")

// CallLog is one structured dispatch attempt.
type CallLog struct {
	ID              uuid.UUID  `json:"id"`
	LeadID          uuid.UUID  `json:"leadId"`
	ExternalCallID  *string    `json:"externalCallId,omitempty"`
	Status          string     `json:"status"`
	AttemptNumber   int        `json:"attemptNumber"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	DurationSeconds *int       `json:"durationSeconds,omitempty"`
	RecordingURL    *string    `json:"recordingUrl,omitempty"`
	Summary         *string    `json:"summary,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// EventRow is one observability entry.
type EventRow struct {
	LeadID         *uuid.UUID
	ExternalCallID string
	Status         string
	Notes          string
	Raw            json.RawMessage
}

// TerminalPatch carries the fields a terminal webhook writes.
type TerminalPatch struct {
	Status          string
	StartedAt       *time.Time
	EndedAt         *time.Time
	DurationSeconds *int
	RecordingURL    string
	Summary         string
}

// TerminalResult reports how a terminal event landed on the structured log.
type TerminalResult struct {
	// RowID is uuid.Nil when no structured log matched.
	RowID uuid.UUID
	// Applied is false when the row already held a terminal state this event
	// must not replace.
	Applied bool
	// Previous is the status the row held before the update.
	Previous string
}

// Repository provides pgx access to call_logs and call_events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new calls repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertQueued writes the structured log of a fresh dispatch.
func (r *Repository) InsertQueued(ctx context.Context, leadID uuid.UUID, attempt int, externalCallID string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		INSERT INTO call_logs (lead_id, external_call_id, status, attempt_number)
		VALUES ($1, NULLIF($2, ''), 'queued', $3)
		ON CONFLICT (external_call_id) DO UPDATE SET updated_at = now()
		RETURNING id
	`, leadID, externalCallID, attempt).Scan(&id)
	return id, err
}

// UpdateProgress moves a non-terminal log forward. Terminal rows are left alone.
func (r *Repository) UpdateProgress(ctx context.Context, externalCallID, status string) error {
	if externalCallID == "" {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE call_logs SET status = $2, updated_at = now()
		WHERE external_call_id = $1
			AND status NOT IN ('completed', 'no-answer', 'busy', 'failed', 'canceled')
	`, externalCallID, status)
	return err
}

// LeadIDForCall resolves the lead of a dispatched call.
func (r *Repository) LeadIDForCall(ctx context.Context, externalCallID string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		SELECT lead_id FROM call_logs WHERE external_call_id = $1
	`, externalCallID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrCallNotFound
	}
	return id, err
}

// ApplyTerminal writes a terminal event. The row is found by external id,
// falling back to the newest open row of the lead.
func (r *Repository) ApplyTerminal(ctx context.Context, leadID uuid.UUID, externalCallID string, patch TerminalPatch) (TerminalResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return TerminalResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		rowID     uuid.UUID
		prev      string
		prevEnded *time.Time
	)
	found := false
	if externalCallID != "" {
		err = tx.QueryRow(ctx, `
			SELECT id, status, ended_at FROM call_logs WHERE external_call_id = $1 FOR UPDATE
		`, externalCallID).Scan(&rowID, &prev, &prevEnded)
		switch {
		case err == nil:
			found = true
		case !errors.Is(err, pgx.ErrNoRows):
			return TerminalResult{}, err
		}
	}
	if !found {
		err = tx.QueryRow(ctx, `
			SELECT id, status, ended_at FROM call_logs
			WHERE lead_id = $1
				AND status NOT IN ('completed', 'no-answer', 'busy', 'failed', 'canceled')
			ORDER BY created_at DESC
			LIMIT 1
			FOR UPDATE
		`, leadID).Scan(&rowID, &prev, &prevEnded)
		if errors.Is(err, pgx.ErrNoRows) {
			return TerminalResult{}, nil
		}
		if err != nil {
			return TerminalResult{}, err
		}
	}

	result := TerminalResult{RowID: rowID, Previous: prev}
	if !supersedes(prev, prevEnded, patch.Status, patch.EndedAt) {
		return result, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `
		UPDATE call_logs
		SET status = $2,
			external_call_id = COALESCE(external_call_id, NULLIF($3, '')),
			started_at = COALESCE($4, started_at),
			ended_at = COALESCE($5, ended_at),
			duration_seconds = COALESCE($6, duration_seconds),
			recording_url = COALESCE(NULLIF($7, ''), recording_url),
			summary = COALESCE(NULLIF($8, ''), summary),
			updated_at = now()
		WHERE id = $1
	`, rowID, patch.Status, externalCallID, patch.StartedAt, patch.EndedAt, patch.DurationSeconds, patch.RecordingURL, patch.Summary)
	if err != nil {
		return TerminalResult{}, err
	}
	result.Applied = true
	return result, tx.Commit(ctx)
}

// supersedes decides whether a terminal event may replace the current status.
// Open rows always accept it; a terminal row only yields to a different
// terminal status that ended strictly later.
func supersedes(prev string, prevEnded *time.Time, next string, nextEnded *time.Time) bool {
	if !IsTerminal(prev) {
		return true
	}
	if prev == next || prevEnded == nil || nextEnded == nil {
		return false
	}
	return nextEnded.After(*prevEnded)
}

// RecordEvent appends an observability row.
func (r *Repository) RecordEvent(ctx context.Context, row EventRow) error {
	var raw any
	if len(row.Raw) > 0 {
		raw = row.Raw
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO call_events (lead_id, external_call_id, status, notes, raw)
		VALUES ($1, NULLIF($2, ''), $3, NULLIF($4, ''), $5)
	`, row.LeadID, row.ExternalCallID, row.Status, row.Notes, raw)
	return err
}

// ListForLead returns the structured call logs of a lead, newest first.
func (r *Repository) ListForLead(ctx context.Context, leadID uuid.UUID, limit int) ([]CallLog, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, lead_id, external_call_id, status, attempt_number, started_at, ended_at,
			duration_seconds, recording_url, summary, created_at
		FROM call_logs
		WHERE lead_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, leadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallLog
	for rows.Next() {
		var l CallLog
		if err := rows.Scan(&l.ID, &l.LeadID, &l.ExternalCallID, &l.Status, &l.AttemptNumber, &l.StartedAt,
			&l.EndedAt, &l.DurationSeconds, &l.RecordingURL, &l.Summary, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
