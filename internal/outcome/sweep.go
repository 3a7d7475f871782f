// Package outcome measures whether automated contact produced real
// movement and feeds the measurements back into the decision thresholds.
package outcome

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/shipment-monitor/internal/domain"
	"github.com/ignite/shipment-monitor/internal/pkg/logger"
)

// Store is the outcome persistence the sweep needs.
type Store interface {
	PendingSweep(ctx context.Context, now time.Time) ([]domain.Outcome, error)
	SetFlags(ctx context.Context, o domain.Outcome) error
}

// MovementSource finds the first observed movement for a guide after a
// point in time.
type MovementSource interface {
	FirstMovementAfter(ctx context.Context, guideNumber string, after time.Time) (*time.Time, error)
}

// TicketSource answers whether a ticket was opened for a guide after a
// point in time.
type TicketSource interface {
	ExistsCreatedAfter(ctx context.Context, guideNumber, protocolID string, after time.Time) (bool, error)
}

// Sweeper fills in the movement and ticket flags on outcome rows as the
// measurement windows close.
type Sweeper struct {
	store    Store
	movement MovementSource
	tickets  TicketSource
}

// SweepSummary counts one measurement pass.
type SweepSummary struct {
	Inspected int `json:"inspected"`
	Measured  int `json:"measured"`
}

// NewSweeper creates an outcome sweeper.
func NewSweeper(store Store, movement MovementSource, tickets TicketSource) *Sweeper {
	return &Sweeper{store: store, movement: movement, tickets: tickets}
}

// Run measures every pending outcome whose 24h window has closed. The
// 48h flag and the ticket flag are written once the 48h window closes;
// an outcome measured at 24h gets swept again for the later flags.
func (s *Sweeper) Run(ctx context.Context, now time.Time) (SweepSummary, error) {
	var summary SweepSummary

	pending, err := s.store.PendingSweep(ctx, now)
	if err != nil {
		return summary, fmt.Errorf("pending outcomes: %w", err)
	}

	for _, o := range pending {
		summary.Inspected++
		if now.Before(o.SentAt.Add(24 * time.Hour)) {
			continue
		}

		first, err := s.movement.FirstMovementAfter(ctx, o.GuideNumber, o.SentAt)
		if err != nil {
			logger.Error("failed to look up movement",
				"guide_number", o.GuideNumber,
				"error", err.Error())
			continue
		}

		moved24 := first != nil && !first.After(o.SentAt.Add(24*time.Hour))
		o.MovedWithin24h = &moved24

		if !now.Before(o.SentAt.Add(48 * time.Hour)) {
			moved48 := first != nil && !first.After(o.SentAt.Add(48*time.Hour))
			o.MovedWithin48h = &moved48

			ticketed, err := s.tickets.ExistsCreatedAfter(ctx, o.GuideNumber, o.ProtocolID, o.SentAt)
			if err != nil {
				logger.Error("failed to look up tickets",
					"guide_number", o.GuideNumber,
					"error", err.Error())
				continue
			}
			o.TicketCreatedAfter = &ticketed
		}

		if err := s.store.SetFlags(ctx, o); err != nil {
			logger.Error("failed to write outcome flags",
				"outcome_id", o.ID,
				"error", err.Error())
			continue
		}
		summary.Measured++
	}

	if summary.Measured > 0 {
		logger.Info("outcome sweep complete",
			"inspected", summary.Inspected,
			"measured", summary.Measured)
	}
	return summary, nil
}
