package protocol

import (
	"strings"
	"time"

	"github.com/ignite/shipment-monitor/internal/domain"
)

// DryRunMatch is one would-be action from a simulation pass, annotated
// with review flags instead of being written to the ledger.
type DryRunMatch struct {
	GuideNumber string          `json:"guide_number"`
	ProtocolID  string          `json:"protocol_id"`
	Priority    domain.Priority `json:"priority"`
	City        string          `json:"city"`
	Carrier     string          `json:"carrier"`
	DaysSinceMovement int       `json:"days_since_movement"`
	Suspicious  bool            `json:"suspicious"`
	Flags       []string        `json:"flags,omitempty"`
}

// DryRunReport summarizes a simulation over historical snapshots.
type DryRunReport struct {
	Evaluated  int           `json:"evaluated"`
	Matches    []DryRunMatch `json:"matches"`
	Suspicious int           `json:"suspicious"`
	RanAt      time.Time     `json:"ran_at"`
}

// Simulator runs the same protocol objects against historical guide
// snapshots without side effects, so new protocols or thresholds can be
// validated by a human before real execution is enabled.
type Simulator struct {
	protocols []Protocol
}

// NewSimulator creates a simulator over the same ordered protocol list the
// live engine would use.
func NewSimulator(protocols []Protocol) *Simulator {
	return &Simulator{protocols: protocols}
}

// Run evaluates every snapshot with first-match-wins semantics and flags
// statistically suspicious matches for review.
func (s *Simulator) Run(snapshots []domain.GuideState, now time.Time) DryRunReport {
	report := DryRunReport{RanAt: now}

	for _, g := range snapshots {
		report.Evaluated++
		if g.Terminal {
			continue
		}

		var match Protocol
		for _, p := range s.protocols {
			if p.Evaluate(g, now) {
				match = p
				break
			}
		}
		if match == nil {
			continue
		}

		for _, a := range match.GenerateActions(g, now) {
			m := DryRunMatch{
				GuideNumber:       g.GuideNumber,
				ProtocolID:        a.ProtocolID,
				Priority:          a.Priority,
				City:              g.City,
				Carrier:           g.Carrier,
				DaysSinceMovement: a.Metadata.DaysSinceMovement,
			}
			m.Flags = suspicionFlags(g, a, now)
			m.Suspicious = len(m.Flags) > 0
			if m.Suspicious {
				report.Suspicious++
			}
			report.Matches = append(report.Matches, m)
		}
	}

	return report
}

// Known false-positive patterns from pilot reviews. A flagged match is not
// discarded, only surfaced for a human decision.
func suspicionFlags(g domain.GuideState, a domain.Action, now time.Time) []string {
	var flags []string

	// Very old "movement" usually means a backfilled import, not a live
	// stuck shipment; contacting these annoys customers.
	if a.Metadata.DaysSinceMovement > 30 {
		flags = append(flags, "movement_older_than_30d")
	}

	// A rejected shipment will not move because of a WhatsApp nudge.
	if g.CanonicalStatus == domain.StatusIssue && g.ExceptionReason == domain.ExceptionRejected {
		flags = append(flags, "rejected_shipment")
	}

	// Non-empty novelty notes mean a human already touched the case; the
	// resolved-keyword check can miss informal phrasing.
	if strings.TrimSpace(g.Novelty) != "" {
		flags = append(flags, "novelty_present")
	}

	// No contact channel: the send would fail anyway.
	if g.PhoneHash == "" {
		flags = append(flags, "missing_phone")
	}

	return flags
}
