// Package ticket escalates guides the automated pipeline could not
// resolve into human-facing support tickets.
package ticket

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/shipment-monitor/internal/domain"
	"github.com/ignite/shipment-monitor/internal/pkg/logger"
)

// Store is the ticket persistence the service needs.
type Store interface {
	Insert(ctx context.Context, t *domain.Ticket) (bool, error)
	GetOpen(ctx context.Context, guideNumber, protocolID string) (*domain.Ticket, error)
	AppendTimeline(ctx context.Context, e domain.TimelineEntry) error
}

// ActionSource feeds the service the failed actions to escalate.
type ActionSource interface {
	FailedExhausted(ctx context.Context, since time.Time) ([]domain.Action, error)
}

// OutcomeSource feeds the service sends whose guide never moved again.
type OutcomeSource interface {
	StuckAfterSuccess(ctx context.Context, days int, now time.Time) ([]domain.Outcome, error)
}

// GuideSource resolves guide state for the phone hash on the ticket.
type GuideSource interface {
	GuideState(ctx context.Context, guideNumber string) (*domain.GuideState, error)
}

// Service turns failed sends and stuck guides into tickets. Escalation
// is idempotent: an existing OPEN ticket for the same (guide, protocol)
// absorbs repeat triggers as timeline notes.
type Service struct {
	store         Store
	actions       ActionSource
	outcomes      OutcomeSource
	guides        GuideSource
	stuckDays     int
	lastActionRun time.Time
}

// SweepSummary counts one escalation sweep.
type SweepSummary struct {
	Opened   int `json:"opened"`
	Appended int `json:"appended"`
}

// New creates the ticket service. stuckDays is how long after a
// successful send a guide may sit without movement before escalating.
func New(store Store, actions ActionSource, outcomes OutcomeSource, guides GuideSource, stuckDays int) *Service {
	return &Service{
		store:     store,
		actions:   actions,
		outcomes:  outcomes,
		guides:    guides,
		stuckDays: stuckDays,
		// first sweep looks back a full day
		lastActionRun: time.Now().Add(-24 * time.Hour),
	}
}

// Sweep escalates both trigger classes: actions that exhausted their
// retries and successful sends whose guide still has not moved.
func (s *Service) Sweep(ctx context.Context, now time.Time) (SweepSummary, error) {
	var summary SweepSummary

	failed, err := s.actions.FailedExhausted(ctx, s.lastActionRun)
	if err != nil {
		return summary, fmt.Errorf("list failed actions: %w", err)
	}
	for _, a := range failed {
		opened, err := s.escalateFailedSend(ctx, a)
		if err != nil {
			logger.Error("failed to escalate action",
				"action_id", a.ID,
				"guide_number", a.GuideNumber,
				"error", err.Error())
			continue
		}
		if opened {
			summary.Opened++
		} else {
			summary.Appended++
		}
	}
	s.lastActionRun = now

	stuck, err := s.outcomes.StuckAfterSuccess(ctx, s.stuckDays, now)
	if err != nil {
		return summary, fmt.Errorf("list stuck outcomes: %w", err)
	}
	for _, o := range stuck {
		opened, err := s.escalateStuck(ctx, o, now)
		if err != nil {
			logger.Error("failed to escalate stuck guide",
				"guide_number", o.GuideNumber,
				"error", err.Error())
			continue
		}
		if opened {
			summary.Opened++
		} else {
			summary.Appended++
		}
	}

	if summary.Opened > 0 || summary.Appended > 0 {
		logger.Info("ticket sweep complete",
			"opened", summary.Opened,
			"appended", summary.Appended)
	}
	return summary, nil
}

// escalateFailedSend opens a ticket for an action whose send failed after
// exhausting retries. Returns true when a new ticket was opened.
func (s *Service) escalateFailedSend(ctx context.Context, a domain.Action) (bool, error) {
	note := fmt.Sprintf("contacto automático falló tras %d reintentos: %s", a.RetryCount, a.FailureReason)
	t := &domain.Ticket{
		GuideNumber: a.GuideNumber,
		ProtocolID:  a.ProtocolID,
		Trigger:     domain.TriggerSendFailed,
		Priority:    a.Priority,
		Status:      domain.TicketOpen,
		PhoneHash:   s.phoneHash(ctx, a.GuideNumber),
	}
	return s.open(ctx, t, note)
}

// escalateStuck opens a ticket for a guide that received a message but
// still shows no movement after the stuck window.
func (s *Service) escalateStuck(ctx context.Context, o domain.Outcome, now time.Time) (bool, error) {
	days := int(now.Sub(o.SentAt).Hours() / 24)
	note := fmt.Sprintf("guía sin movimiento %d días después del mensaje enviado", days)
	t := &domain.Ticket{
		GuideNumber: o.GuideNumber,
		ProtocolID:  o.ProtocolID,
		Trigger:     domain.TriggerStuckAfterSend,
		Priority:    domain.PriorityAlta,
		Status:      domain.TicketOpen,
		PhoneHash:   s.phoneHash(ctx, o.GuideNumber),
	}
	return s.open(ctx, t, note)
}

// open inserts the ticket, falling back to a timeline note when an OPEN
// ticket for the (guide, protocol) already exists.
func (s *Service) open(ctx context.Context, t *domain.Ticket, note string) (bool, error) {
	created, err := s.store.Insert(ctx, t)
	if err != nil {
		return false, err
	}
	if created {
		if err := s.store.AppendTimeline(ctx, domain.TimelineEntry{
			TicketID: t.ID,
			Note:     note,
			Actor:    "system",
		}); err != nil {
			return true, err
		}
		logger.Info("ticket opened",
			"ticket_id", t.ID,
			"guide_number", t.GuideNumber,
			"protocol_id", t.ProtocolID,
			"trigger", string(t.Trigger),
			"priority", string(t.Priority))
		return true, nil
	}

	existing, err := s.store.GetOpen(ctx, t.GuideNumber, t.ProtocolID)
	if err != nil {
		return false, err
	}
	if existing == nil {
		// lost a race with a concurrent resolve; nothing left to note on
		return false, nil
	}
	if err := s.store.AppendTimeline(ctx, domain.TimelineEntry{
		TicketID: existing.ID,
		Note:     note,
		Actor:    "system",
	}); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Service) phoneHash(ctx context.Context, guideNumber string) string {
	state, err := s.guides.GuideState(ctx, guideNumber)
	if err != nil || state == nil {
		return ""
	}
	return state.PhoneHash
}
