package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/shipment-monitor/internal/domain"
	"github.com/ignite/shipment-monitor/internal/pkg/logger"
)

// GuideSource supplies candidate guides for one evaluation tick.
// Implemented by postgres.EventRepo.
type GuideSource interface {
	ListActiveGuides(ctx context.Context, staleCutoff time.Time) ([]domain.GuideState, error)
}

// ActionStore persists planned actions. Implemented by postgres.ActionRepo.
type ActionStore interface {
	CreatePlanned(ctx context.Context, a *domain.Action) (bool, error)
}

// PauseList answers whether calibration has paused a city/carrier segment.
type PauseList interface {
	IsPaused(ctx context.Context, city, carrier string) bool
}

// TickSummary reports one engine pass.
type TickSummary struct {
	Evaluated int `json:"evaluated"`
	Planned   int `json:"planned"`
	AlreadyPlanned int `json:"already_planned"`
	Paused    int `json:"paused"`
}

// Engine evaluates the registered protocols against every active guide.
// Protocols run in registration order and evaluation stops at the first
// match per guide; appending to the list is how new protocols ship.
type Engine struct {
	protocols  []Protocol
	guides     GuideSource
	actions    ActionStore
	pause      PauseList
	staleGrace time.Duration
}

// NewEngine creates an engine over an ordered protocol list. staleGrace is
// the window beyond which a guide's data is considered too old to act on.
// pause may be nil when calibration pausing is disabled.
func NewEngine(protocols []Protocol, guides GuideSource, actions ActionStore, pause PauseList, staleGrace time.Duration) *Engine {
	return &Engine{
		protocols:  protocols,
		guides:     guides,
		actions:    actions,
		pause:      pause,
		staleGrace: staleGrace,
	}
}

// Tick runs one evaluation pass. Safe to re-run any number of times per
// day: planning is keyed by (guide, protocol, date), so repeats are no-ops.
func (e *Engine) Tick(ctx context.Context, now time.Time) (TickSummary, error) {
	var sum TickSummary

	guides, err := e.guides.ListActiveGuides(ctx, now.Add(-e.staleGrace))
	if err != nil {
		return sum, fmt.Errorf("protocol tick: %w", err)
	}

	for _, g := range guides {
		sum.Evaluated++

		if e.pause != nil && e.pause.IsPaused(ctx, g.City, g.Carrier) {
			sum.Paused++
			continue
		}

		match := e.firstMatch(g, now)
		if match == nil {
			continue
		}

		for _, action := range match.GenerateActions(g, now) {
			a := action
			created, err := e.actions.CreatePlanned(ctx, &a)
			if err != nil {
				return sum, fmt.Errorf("plan %s for %s: %w", match.ID(), g.GuideNumber, err)
			}
			if created {
				sum.Planned++
				logger.Info("action planned",
					"guide", g.GuideNumber, "protocol", match.ID(),
					"priority", string(a.Priority), "city", g.City, "carrier", g.Carrier)
			} else {
				sum.AlreadyPlanned++
			}
		}
	}

	return sum, nil
}

// firstMatch returns the first protocol whose predicate accepts the guide.
// The ordering is the designed tie-break, not an incidental detail.
func (e *Engine) firstMatch(g domain.GuideState, now time.Time) Protocol {
	if g.Terminal {
		return nil
	}
	for _, p := range e.protocols {
		if p.Evaluate(g, now) {
			return p
		}
	}
	return nil
}
