package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/shipment-monitor/internal/domain"
)

// TicketRepo persists escalation tickets and their timelines.
type TicketRepo struct{ db *sql.DB }

// NewTicketRepo creates a Postgres-backed ticket repository.
func NewTicketRepo(db *sql.DB) *TicketRepo { return &TicketRepo{db: db} }

// Insert creates an OPEN ticket. The partial unique index on
// (guide_number, protocol_id) WHERE status='OPEN' enforces the one-open
// invariant even under concurrent escalation: a loser of the race gets
// created=false.
func (r *TicketRepo) Insert(ctx context.Context, t *domain.Ticket) (bool, error) {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO tickets (guide_number, protocol_id, trigger, priority, status, phone_hash)
		VALUES ($1, $2, $3, $4, 'OPEN', $5)
		ON CONFLICT (guide_number, protocol_id) WHERE status = 'OPEN' DO NOTHING
		RETURNING id, created_at, updated_at
	`, t.GuideNumber, t.ProtocolID, t.Trigger, t.Priority, t.PhoneHash,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert ticket: %w", err)
	}
	t.Status = domain.TicketOpen
	return true, nil
}

// GetOpen returns the OPEN ticket for (guide, protocol), or nil.
func (r *TicketRepo) GetOpen(ctx context.Context, guideNumber, protocolID string) (*domain.Ticket, error) {
	t := &domain.Ticket{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, guide_number, protocol_id, trigger, priority, status, phone_hash, created_at, updated_at
		FROM tickets
		WHERE guide_number = $1 AND protocol_id = $2 AND status = 'OPEN'
	`, guideNumber, protocolID).Scan(
		&t.ID, &t.GuideNumber, &t.ProtocolID, &t.Trigger, &t.Priority,
		&t.Status, &t.PhoneHash, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get open ticket: %w", err)
	}
	return t, nil
}

// AppendTimeline adds one append-only note and bumps the ticket.
func (r *TicketRepo) AppendTimeline(ctx context.Context, e domain.TimelineEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ticket_timeline (ticket_id, note, actor) VALUES ($1, $2, $3)
	`, e.TicketID, e.Note, e.Actor)
	if err != nil {
		return fmt.Errorf("append ticket timeline: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE tickets SET updated_at = NOW() WHERE id = $1`, e.TicketID)
	if err != nil {
		return fmt.Errorf("touch ticket: %w", err)
	}
	return nil
}

// Timeline returns a ticket's notes oldest first.
func (r *TicketRepo) Timeline(ctx context.Context, ticketID string) ([]domain.TimelineEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ticket_id, note, actor, created_at
		FROM ticket_timeline
		WHERE ticket_id = $1
		ORDER BY created_at
	`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("ticket timeline: %w", err)
	}
	defer rows.Close()

	var out []domain.TimelineEntry
	for rows.Next() {
		var e domain.TimelineEntry
		if err := rows.Scan(&e.TicketID, &e.Note, &e.Actor, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan timeline entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ExistsCreatedAfter reports whether any ticket for (guide, protocol) was
// created after the given instant. Failure proxy for the outcome sweep.
func (r *TicketRepo) ExistsCreatedAfter(ctx context.Context, guideNumber, protocolID string, after time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM tickets
			WHERE guide_number = $1 AND protocol_id = $2 AND created_at > $3
		)
	`, guideNumber, protocolID, after).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ticket exists after: %w", err)
	}
	return exists, nil
}
