package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/shipment-monitor/internal/domain"
)

// OutcomeRepo persists per-send outcome measurements.
type OutcomeRepo struct{ db *sql.DB }

// NewOutcomeRepo creates a Postgres-backed outcome repository.
func NewOutcomeRepo(db *sql.DB) *OutcomeRepo { return &OutcomeRepo{db: db} }

// Create records one outcome row for a SUCCESS send. Idempotent per action:
// re-recording after a crashed run inserts nothing.
func (r *OutcomeRepo) Create(ctx context.Context, o *domain.Outcome) (bool, error) {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO contact_outcomes (action_id, guide_number, protocol_id, city, carrier, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (action_id) DO NOTHING
		RETURNING id, created_at
	`, o.ActionID, o.GuideNumber, o.ProtocolID, o.City, o.Carrier, o.SentAt,
	).Scan(&o.ID, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create outcome: %w", err)
	}
	return true, nil
}

// PendingSweep returns outcomes still awaiting measurement: not yet swept,
// or swept before their 48h window closed.
func (r *OutcomeRepo) PendingSweep(ctx context.Context, now time.Time) ([]domain.Outcome, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, action_id, guide_number, protocol_id, city, carrier, sent_at,
		       moved_within_24h, moved_within_48h, ticket_created_after, swept_at, created_at
		FROM contact_outcomes
		WHERE swept_at IS NULL OR (swept_at < sent_at + INTERVAL '48 hours' AND sent_at > $1 - INTERVAL '72 hours')
		ORDER BY sent_at
	`, now)
	if err != nil {
		return nil, fmt.Errorf("pending outcomes: %w", err)
	}
	defer rows.Close()

	var out []domain.Outcome
	for rows.Next() {
		var o domain.Outcome
		var swept sql.NullTime
		if err := rows.Scan(&o.ID, &o.ActionID, &o.GuideNumber, &o.ProtocolID, &o.City, &o.Carrier,
			&o.SentAt, &o.MovedWithin24h, &o.MovedWithin48h, &o.TicketCreatedAfter, &swept, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		if swept.Valid {
			o.SweptAt = &swept.Time
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// SetFlags writes the sweep's measurements back.
func (r *OutcomeRepo) SetFlags(ctx context.Context, o domain.Outcome) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE contact_outcomes
		SET moved_within_24h = $2, moved_within_48h = $3, ticket_created_after = $4, swept_at = NOW()
		WHERE id = $1
	`, o.ID, o.MovedWithin24h, o.MovedWithin48h, o.TicketCreatedAfter)
	if err != nil {
		return fmt.Errorf("set outcome flags: %w", err)
	}
	return nil
}

// StuckAfterSuccess returns outcomes where the guide still shows no
// movement N days after a SUCCESS send, the second ticket trigger.
func (r *OutcomeRepo) StuckAfterSuccess(ctx context.Context, days int, now time.Time) ([]domain.Outcome, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT o.id, o.action_id, o.guide_number, o.protocol_id, o.city, o.carrier, o.sent_at
		FROM contact_outcomes o
		JOIN guide_states g ON g.guide_number = o.guide_number
		WHERE o.sent_at <= $2 - ($1 || ' days')::interval
		  AND NOT g.terminal
		  AND g.last_movement_at <= o.sent_at
	`, days, now)
	if err != nil {
		return nil, fmt.Errorf("stuck after success: %w", err)
	}
	defer rows.Close()

	var out []domain.Outcome
	for rows.Next() {
		var o domain.Outcome
		if err := rows.Scan(&o.ID, &o.ActionID, &o.GuideNumber, &o.ProtocolID, &o.City, &o.Carrier, &o.SentAt); err != nil {
			return nil, fmt.Errorf("scan stuck outcome: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// AggregateDay computes per-(city, carrier) metrics over one day's swept
// outcomes.
func (r *OutcomeRepo) AggregateDay(ctx context.Context, day time.Time) ([]domain.SegmentMetrics, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT city, carrier, COUNT(*),
		       COALESCE(AVG(CASE WHEN moved_within_24h THEN 100.0 ELSE 0.0 END), 0),
		       COALESCE(AVG(CASE WHEN moved_within_48h THEN 100.0 ELSE 0.0 END), 0),
		       COALESCE(AVG(CASE WHEN ticket_created_after THEN 100.0 ELSE 0.0 END), 0)
		FROM contact_outcomes
		WHERE sent_at >= $1 AND sent_at < $1 + INTERVAL '24 hours' AND swept_at IS NOT NULL
		GROUP BY city, carrier
		ORDER BY city, carrier
	`, day)
	if err != nil {
		return nil, fmt.Errorf("aggregate outcomes: %w", err)
	}
	defer rows.Close()

	var out []domain.SegmentMetrics
	for rows.Next() {
		var m domain.SegmentMetrics
		if err := rows.Scan(&m.City, &m.Carrier, &m.Sends, &m.Moved24hPct, &m.Moved48hPct, &m.TicketsAfterPct); err != nil {
			return nil, fmt.Errorf("scan segment metrics: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
