// Package protocol decides which guides need automated outbound contact.
// Business protocols are polymorphic strategies evaluated in registration
// order against the guide state projection; the first match wins so a
// guide never receives duplicate or contradictory actions in one tick.
package protocol

import (
	"fmt"
	"strings"
	"time"

	"github.com/ignite/shipment-monitor/internal/domain"
)

// Protocol is one business rule: a pure predicate plus an action generator.
// Implementations must be side-effect free; the engine owns persistence.
type Protocol interface {
	// ID is the stable trigger identifier, used in idempotency keys,
	// templates, tickets and outcome attribution.
	ID() string
	// Evaluate reports whether the guide matches this protocol right now.
	Evaluate(g domain.GuideState, now time.Time) bool
	// GenerateActions produces the planned actions for a matching guide.
	GenerateActions(g domain.GuideState, now time.Time) []domain.Action
}

// Protocol identifiers. Also the operational trigger tags on actions,
// templates and tickets.
const (
	ProtocolNoMovement = "sin_movimiento"
	ProtocolAtOffice   = "en_oficina_prolongado"
)

// IdempotencyKey derives the at-most-once-per-day planning key.
func IdempotencyKey(guideNumber, protocolID string, now time.Time) string {
	return fmt.Sprintf("%s:%s:%s", guideNumber, protocolID, now.UTC().Format("2006-01-02"))
}

// NoMovement fires for undelivered guides without movement for the
// configured window, unless the novelty notes say the case is resolved.
type NoMovement struct {
	Hours            float64
	ResolvedKeywords []string
}

// ID implements Protocol.
func (p NoMovement) ID() string { return ProtocolNoMovement }

// Evaluate implements Protocol.
func (p NoMovement) Evaluate(g domain.GuideState, now time.Time) bool {
	if g.CanonicalStatus == domain.StatusDelivered {
		return false
	}
	if now.Sub(g.LastMovementAt) < time.Duration(p.Hours*float64(time.Hour)) {
		return false
	}
	return !noveltyResolved(g.Novelty, p.ResolvedKeywords)
}

// GenerateActions implements Protocol.
func (p NoMovement) GenerateActions(g domain.GuideState, now time.Time) []domain.Action {
	return []domain.Action{{
		GuideNumber:    g.GuideNumber,
		ProtocolID:     p.ID(),
		ActionType:     domain.ActionSendWhatsApp,
		Priority:       domain.PriorityMedia,
		IdempotencyKey: IdempotencyKey(g.GuideNumber, p.ID(), now),
		Metadata: domain.ActionMetadata{
			City:              g.City,
			Carrier:           g.Carrier,
			DaysSinceMovement: g.DaysSinceMovement(now),
			Reason:            fmt.Sprintf("sin movimiento hace %.0fh o más", p.Hours),
		},
	}}
}

// AtOffice fires for guides parked at a carrier office beyond the
// configured window; these expire back to the seller, so priority is high.
type AtOffice struct {
	Hours float64
}

// ID implements Protocol.
func (p AtOffice) ID() string { return ProtocolAtOffice }

// Evaluate implements Protocol.
func (p AtOffice) Evaluate(g domain.GuideState, now time.Time) bool {
	return g.CanonicalStatus == domain.StatusInOffice &&
		now.Sub(g.LastMovementAt) >= time.Duration(p.Hours*float64(time.Hour))
}

// GenerateActions implements Protocol.
func (p AtOffice) GenerateActions(g domain.GuideState, now time.Time) []domain.Action {
	return []domain.Action{{
		GuideNumber:    g.GuideNumber,
		ProtocolID:     p.ID(),
		ActionType:     domain.ActionSendWhatsApp,
		Priority:       domain.PriorityAlta,
		IdempotencyKey: IdempotencyKey(g.GuideNumber, p.ID(), now),
		Metadata: domain.ActionMetadata{
			City:              g.City,
			Carrier:           g.Carrier,
			DaysSinceMovement: g.DaysSinceMovement(now),
			Reason:            fmt.Sprintf("en oficina hace %.0fh o más", p.Hours),
		},
	}}
}

func noveltyResolved(novelty string, keywords []string) bool {
	if strings.TrimSpace(novelty) == "" {
		return false
	}
	lower := strings.ToLower(novelty)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
