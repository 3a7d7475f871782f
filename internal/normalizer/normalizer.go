// Package normalizer maps carrier free-text shipment statuses to the
// canonical status set. Pure and deterministic: no I/O, never errors.
// Per-carrier mappings live in ordered YAML rule tables (see tables.go)
// so carriers can be extended without touching the matching engine.
package normalizer

import (
	"strings"

	"github.com/ignite/shipment-monitor/internal/domain"
)

// Result is the outcome of normalizing one raw status.
type Result struct {
	Carrier         string
	CanonicalStatus domain.CanonicalStatus
	ExceptionReason domain.ExceptionReason
	RawStatus       string
	Matched         bool
}

// Normalizer resolves carriers and normalizes raw statuses against the
// loaded rule tables. Stateless beyond the immutable tables; safe for
// concurrent use.
type Normalizer struct {
	tables *Tables
}

// New creates a normalizer over the given rule tables.
func New(tables *Tables) *Normalizer {
	return &Normalizer{tables: tables}
}

// DetectCarrier resolves a carrier identifier, which may be a code, a
// human-entered name, or absent. Resolution order: exact code match,
// name-substring match, tracking-number pattern heuristic, UNKNOWN.
func (n *Normalizer) DetectCarrier(identifier, guideNumber string) string {
	id := foldUpper(identifier)

	if id != "" {
		if _, ok := n.tables.byCode[id]; ok {
			return id
		}
		for _, code := range n.tables.order {
			for _, name := range n.tables.byCode[code].names {
				if name != "" && strings.Contains(id, name) {
					return code
				}
			}
		}
	}

	guide := strings.TrimSpace(guideNumber)
	if guide != "" {
		for _, code := range n.tables.order {
			ct := n.tables.byCode[code]
			if ct.trackingRe != nil && ct.trackingRe.MatchString(guide) {
				return code
			}
		}
	}

	return UnknownCarrier
}

// Normalize maps a raw free-text status to its canonical form. It scans
// the detected carrier's ordered rule table, first match wins; on a miss
// it retries against the UNKNOWN generic table; if still unmatched it
// defaults to ISSUE/OTHER. RawStatus is preserved verbatim.
func (n *Normalizer) Normalize(rawStatus, carrierID, guideNumber string) Result {
	carrier := n.DetectCarrier(carrierID, guideNumber)
	needle := foldUpper(rawStatus)

	if status, exception, ok := n.scan(carrier, needle); ok {
		return Result{
			Carrier:         carrier,
			CanonicalStatus: status,
			ExceptionReason: exception,
			RawStatus:       rawStatus,
			Matched:         true,
		}
	}

	if carrier != UnknownCarrier {
		if status, exception, ok := n.scan(UnknownCarrier, needle); ok {
			return Result{
				Carrier:         carrier,
				CanonicalStatus: status,
				ExceptionReason: exception,
				RawStatus:       rawStatus,
				Matched:         true,
			}
		}
	}

	return Result{
		Carrier:         carrier,
		CanonicalStatus: domain.StatusIssue,
		ExceptionReason: domain.ExceptionOther,
		RawStatus:       rawStatus,
		Matched:         false,
	}
}

func (n *Normalizer) scan(carrier, needle string) (domain.CanonicalStatus, domain.ExceptionReason, bool) {
	ct, ok := n.tables.byCode[carrier]
	if !ok {
		return "", "", false
	}
	for _, r := range ct.rules {
		if r.re.MatchString(needle) {
			return r.status, r.exception, true
		}
	}
	return "", "", false
}

// Folds the Spanish diacritics carrier feeds actually contain; anything
// else passes through unchanged.
var diacriticFold = strings.NewReplacer(
	"Á", "A", "É", "E", "Í", "I", "Ó", "O", "Ú", "U", "Ü", "U", "Ñ", "N",
	"á", "A", "é", "E", "í", "I", "ó", "O", "ú", "U", "ü", "U", "ñ", "N",
)

// foldUpper uppercases, trims, strips diacritics and collapses internal
// whitespace so rule patterns match one predictable shape.
func foldUpper(s string) string {
	s = diacriticFold.Replace(strings.TrimSpace(s))
	s = strings.ToUpper(s)
	return strings.Join(strings.Fields(s), " ")
}
