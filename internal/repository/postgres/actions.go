package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ignite/shipment-monitor/internal/domain"
)

// ActionRepo persists the action ledger.
type ActionRepo struct{ db *sql.DB }

// NewActionRepo creates a Postgres-backed action repository.
func NewActionRepo(db *sql.DB) *ActionRepo { return &ActionRepo{db: db} }

// CreatePlanned inserts a PLANNED action. The unique index on
// idempotency_key makes same-day replanning for the same (guide, protocol)
// a no-op: created=false and no second row.
func (r *ActionRepo) CreatePlanned(ctx context.Context, a *domain.Action) (bool, error) {
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return false, fmt.Errorf("marshal action metadata: %w", err)
	}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO contact_actions
			(guide_number, protocol_id, action_type, priority, status, idempotency_key, metadata)
		VALUES ($1, $2, $3, $4, 'PLANNED', $5, $6)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id, planned_at
	`, a.GuideNumber, a.ProtocolID, a.ActionType, a.Priority, a.IdempotencyKey, meta,
	).Scan(&a.ID, &a.PlannedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create planned action: %w", err)
	}
	a.Status = domain.ActionPlanned
	return true, nil
}

// ClaimBatch atomically transitions up to limit PLANNED actions to RUNNING
// for this worker. FOR UPDATE SKIP LOCKED keeps concurrent executor runs
// from ever claiming the same action.
func (r *ActionRepo) ClaimBatch(ctx context.Context, workerID string, limit int) ([]domain.Action, error) {
	rows, err := r.db.QueryContext(ctx, `
		WITH claimed AS (
			UPDATE contact_actions
			SET status = 'RUNNING', worker_id = $1, claimed_at = NOW()
			WHERE id IN (
				SELECT id FROM contact_actions
				WHERE status = 'PLANNED'
				ORDER BY CASE priority WHEN 'alta' THEN 0 WHEN 'media' THEN 1 ELSE 2 END, planned_at
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)
			RETURNING id, guide_number, protocol_id, action_type, priority,
			          idempotency_key, metadata, planned_at, claimed_at
		)
		SELECT id, guide_number, protocol_id, action_type, priority,
		       idempotency_key, metadata::text, planned_at, claimed_at
		FROM claimed
	`, workerID, limit)
	if err != nil {
		return nil, fmt.Errorf("claim actions: %w", err)
	}
	defer rows.Close()

	var out []domain.Action
	for rows.Next() {
		var a domain.Action
		var metaJSON string
		var claimedAt time.Time
		if err := rows.Scan(&a.ID, &a.GuideNumber, &a.ProtocolID, &a.ActionType, &a.Priority,
			&a.IdempotencyKey, &metaJSON, &a.PlannedAt, &claimedAt); err != nil {
			return nil, fmt.Errorf("scan claimed action: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &a.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal action metadata: %w", err)
		}
		a.Status = domain.ActionRunning
		a.WorkerID = workerID
		a.ClaimedAt = &claimedAt
		out = append(out, a)
	}
	return out, rows.Err()
}

// MarkResult finalizes a RUNNING action with the executor's outcome.
func (r *ActionRepo) MarkResult(ctx context.Context, res domain.ExecutionResult, providerID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE contact_actions
		SET status = $2, failure_reason = $3, retry_count = $4, provider_id = $5, finished_at = NOW()
		WHERE id = $1 AND status = 'RUNNING'
	`, res.ActionID, res.Status, res.FailureReason, res.RetryCount, providerID)
	if err != nil {
		return fmt.Errorf("mark action result: %w", err)
	}
	return nil
}

// Unclaim returns a claimed action to PLANNED untouched. Used when the
// pilot allow-list excludes the action's segment: it is not a failure and
// must remain eligible once the pilot widens.
func (r *ActionRepo) Unclaim(ctx context.Context, actionID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE contact_actions
		SET status = 'PLANNED', worker_id = '', claimed_at = NULL
		WHERE id = $1 AND status = 'RUNNING'
	`, actionID)
	if err != nil {
		return fmt.Errorf("unclaim action: %w", err)
	}
	return nil
}

// SentForKey reports whether a SUCCESS send already exists for the
// idempotency key. Guards against a re-planned action after a restart that
// lost the ledger row's status transition midway.
func (r *ActionRepo) SentForKey(ctx context.Context, idempotencyKey, excludeID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM contact_actions
			WHERE idempotency_key = $1 AND id <> $2 AND status = 'SUCCESS'
		)
	`, idempotencyKey, excludeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check sent for key: %w", err)
	}
	return exists, nil
}

// FailedExhausted returns FAILED actions finished since the given time,
// the escalation feed for the ticket service.
func (r *ActionRepo) FailedExhausted(ctx context.Context, since time.Time) ([]domain.Action, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, guide_number, protocol_id, action_type, priority,
		       idempotency_key, metadata::text, failure_reason, retry_count, planned_at
		FROM contact_actions
		WHERE status = 'FAILED' AND finished_at >= $1
		ORDER BY finished_at
	`, since)
	if err != nil {
		return nil, fmt.Errorf("list failed actions: %w", err)
	}
	defer rows.Close()

	var out []domain.Action
	for rows.Next() {
		var a domain.Action
		var metaJSON string
		if err := rows.Scan(&a.ID, &a.GuideNumber, &a.ProtocolID, &a.ActionType, &a.Priority,
			&a.IdempotencyKey, &metaJSON, &a.FailureReason, &a.RetryCount, &a.PlannedAt); err != nil {
			return nil, fmt.Errorf("scan failed action: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &a.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal action metadata: %w", err)
		}
		a.Status = domain.ActionFailed
		out = append(out, a)
	}
	return out, rows.Err()
}

// InsertRun persists one executor run summary.
func (r *ActionRepo) InsertRun(ctx context.Context, s domain.RunSummary, duration time.Duration) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO execution_runs (worker_id, attempted, success, failed, skipped, started_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.WorkerID, s.Attempted, s.Success, s.Failed, s.Skipped, s.StartedAt, duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert run summary: %w", err)
	}
	return nil
}
