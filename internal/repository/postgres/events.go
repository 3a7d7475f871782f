// Package postgres implements the durable stores against PostgreSQL with
// hand-written SQL. Atomicity guarantees the services rely on (dedupe,
// ordering guard, claim, one-open-ticket) live in the statements here.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/shipment-monitor/internal/domain"
)

// EventRepo persists guide events and owns the guide_states projection.
type EventRepo struct{ db *sql.DB }

// NewEventRepo creates a Postgres-backed event repository.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

// InsertEvent appends an event row. The unique index on payload_hash is
// the dedupe point: a second delivery of the same underlying fact inserts
// nothing and returns created=false.
func (r *EventRepo) InsertEvent(ctx context.Context, e *domain.Event) (bool, error) {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO guide_events
			(guide_number, carrier, raw_status, canonical_status, exception_reason,
			 city, novelty, last_movement_at, occurred_at, source, payload_hash, phone_hash, applied)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, FALSE)
		ON CONFLICT (payload_hash) DO NOTHING
		RETURNING id
	`, e.GuideNumber, e.Carrier, e.RawStatus, e.CanonicalStatus, e.ExceptionReason,
		e.City, e.Novelty, e.LastMovementAt, e.OccurredAt, e.Source, e.PayloadHash, e.PhoneHash,
	).Scan(&e.ID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	return true, nil
}

// ApplyGuideState applies an event to the projection under the ordering
// guard, in one statement so concurrent ingestion for the same guide
// serializes at the row. The guard rejects the apply when the stored state
// is terminal or newer; last_movement_at never regresses.
func (r *EventRepo) ApplyGuideState(ctx context.Context, s domain.GuideState) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO guide_states
			(guide_number, carrier, city, canonical_status, exception_reason,
			 novelty, phone_hash, last_movement_at, last_event_at, terminal, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (guide_number) DO UPDATE SET
			carrier          = EXCLUDED.carrier,
			city             = EXCLUDED.city,
			canonical_status = EXCLUDED.canonical_status,
			exception_reason = EXCLUDED.exception_reason,
			novelty          = EXCLUDED.novelty,
			phone_hash       = CASE WHEN EXCLUDED.phone_hash <> '' THEN EXCLUDED.phone_hash ELSE guide_states.phone_hash END,
			last_movement_at = GREATEST(guide_states.last_movement_at, EXCLUDED.last_movement_at),
			last_event_at    = EXCLUDED.last_event_at,
			terminal         = EXCLUDED.terminal,
			updated_at       = NOW()
		WHERE NOT guide_states.terminal
		  AND guide_states.last_event_at <= EXCLUDED.last_event_at
	`, s.GuideNumber, s.Carrier, s.City, s.CanonicalStatus, s.ExceptionReason,
		s.Novelty, s.PhoneHash, s.LastMovementAt, s.LastEventAt, s.Terminal)
	if err != nil {
		return false, fmt.Errorf("apply guide state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("apply guide state: %w", err)
	}
	return n > 0, nil
}

// MarkEventApplied flips the audit flag once the projection accepted the event.
func (r *EventRepo) MarkEventApplied(ctx context.Context, eventID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE guide_events SET applied = TRUE WHERE id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("mark event applied: %w", err)
	}
	return nil
}

// GuideState returns the current projection for one guide, or nil when the
// guide has never been seen.
func (r *EventRepo) GuideState(ctx context.Context, guideNumber string) (*domain.GuideState, error) {
	s := &domain.GuideState{}
	err := r.db.QueryRowContext(ctx, `
		SELECT guide_number, carrier, city, canonical_status, exception_reason,
		       novelty, phone_hash, last_movement_at, last_event_at, terminal, updated_at
		FROM guide_states
		WHERE guide_number = $1
	`, guideNumber).Scan(
		&s.GuideNumber, &s.Carrier, &s.City, &s.CanonicalStatus, &s.ExceptionReason,
		&s.Novelty, &s.PhoneHash, &s.LastMovementAt, &s.LastEventAt, &s.Terminal, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get guide state: %w", err)
	}
	return s, nil
}

// ListActiveGuides returns non-terminal guides whose last event is not
// older than the staleness cutoff, the candidate set for one protocol tick.
func (r *EventRepo) ListActiveGuides(ctx context.Context, staleCutoff time.Time) ([]domain.GuideState, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT guide_number, carrier, city, canonical_status, exception_reason,
		       novelty, phone_hash, last_movement_at, last_event_at, terminal, updated_at
		FROM guide_states
		WHERE NOT terminal AND last_event_at >= $1
		ORDER BY last_event_at
	`, staleCutoff)
	if err != nil {
		return nil, fmt.Errorf("list active guides: %w", err)
	}
	defer rows.Close()

	var out []domain.GuideState
	for rows.Next() {
		var s domain.GuideState
		if err := rows.Scan(
			&s.GuideNumber, &s.Carrier, &s.City, &s.CanonicalStatus, &s.ExceptionReason,
			&s.Novelty, &s.PhoneHash, &s.LastMovementAt, &s.LastEventAt, &s.Terminal, &s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan guide state: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// FirstMovementAfter returns the timestamp of the earliest applied event
// after the given instant that represents real movement for the guide, or
// nil if none. Used by the outcome sweep.
func (r *EventRepo) FirstMovementAfter(ctx context.Context, guideNumber string, after time.Time) (*time.Time, error) {
	var ts sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT MIN(GREATEST(occurred_at, last_movement_at))
		FROM guide_events
		WHERE guide_number = $1
		  AND applied
		  AND (occurred_at > $2 OR last_movement_at > $2)
	`, guideNumber, after).Scan(&ts)
	if err != nil {
		return nil, fmt.Errorf("first movement after: %w", err)
	}
	if !ts.Valid {
		return nil, nil
	}
	return &ts.Time, nil
}
