// Package eventlog ingests raw shipment status events: it normalizes them,
// collapses duplicate deliveries via a content-derived payload hash, and
// maintains the per-guide state projection under the ordering guard.
package eventlog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/shipment-monitor/internal/domain"
	"github.com/ignite/shipment-monitor/internal/normalizer"
	"github.com/ignite/shipment-monitor/internal/pkg/logger"
)

// ErrMissingGuide rejects events that cannot be attributed to a guide.
var ErrMissingGuide = errors.New("event has no guide number")

// Store is the durable store the event log needs. Implemented by
// postgres.EventRepo.
type Store interface {
	InsertEvent(ctx context.Context, e *domain.Event) (created bool, err error)
	ApplyGuideState(ctx context.Context, s domain.GuideState) (applied bool, err error)
	MarkEventApplied(ctx context.Context, eventID string) error
	GuideState(ctx context.Context, guideNumber string) (*domain.GuideState, error)
}

// Vault receives raw phone numbers keyed by hash so the executor can look
// them up later. The event log never persists the raw number.
type Vault interface {
	Put(phoneHash, phone string)
}

// RawEvent is one observed status change as delivered by a webhook, batch
// import or manual entry, before normalization.
type RawEvent struct {
	GuideNumber    string             `json:"guide_number"`
	Carrier        string             `json:"carrier"`
	RawStatus      string             `json:"status"`
	City           string             `json:"city"`
	Novelty        string             `json:"novelty"`
	Phone          string             `json:"phone"`
	LastMovementAt time.Time          `json:"last_movement_at"`
	OccurredAt     time.Time          `json:"occurred_at"`
	Source         domain.EventSource `json:"source"`
}

// IngestStatus classifies the outcome of one ingest call.
type IngestStatus string

const (
	IngestAccepted  IngestStatus = "accepted"
	IngestDuplicate IngestStatus = "duplicate"
	IngestRejected  IngestStatus = "rejected"
)

// IngestResult reports what one ingest call did. Applied is false for
// accepted events that lost the ordering guard: stored for audit, state
// untouched.
type IngestResult struct {
	Status  IngestStatus `json:"status"`
	Applied bool         `json:"applied"`
	Reason  string       `json:"reason,omitempty"`
	EventID string       `json:"event_id,omitempty"`
}

// Service is the ingestion front door. Safe for concurrent use; per-guide
// serialization happens at the store's guarded apply.
type Service struct {
	norm        *normalizer.Normalizer
	store       Store
	vault       Vault
	countryCode string
}

// NewService creates an event log service. countryCode is prepended to
// local phone numbers before hashing.
func NewService(norm *normalizer.Normalizer, store Store, vault Vault, countryCode string) *Service {
	return &Service{norm: norm, store: store, vault: vault, countryCode: countryCode}
}

// Ingest processes one raw event under at-least-once delivery semantics.
// Re-delivery of the same underlying fact returns duplicate with no side
// effects; a stale event is stored but never mutates guide state.
func (s *Service) Ingest(ctx context.Context, raw RawEvent) (IngestResult, error) {
	guide := strings.TrimSpace(raw.GuideNumber)
	if guide == "" {
		return IngestResult{Status: IngestRejected, Reason: ErrMissingGuide.Error()}, nil
	}

	res := s.norm.Normalize(raw.RawStatus, raw.Carrier, guide)
	if !res.Matched {
		logger.Warn("unmapped raw status, defaulted to ISSUE/OTHER",
			"carrier", res.Carrier, "raw_status", raw.RawStatus, "guide", guide)
	}

	occurredAt := raw.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	lastMovementAt := raw.LastMovementAt
	if lastMovementAt.IsZero() {
		lastMovementAt = occurredAt
	}

	event := &domain.Event{
		GuideNumber:     guide,
		Carrier:         res.Carrier,
		RawStatus:       raw.RawStatus,
		CanonicalStatus: res.CanonicalStatus,
		ExceptionReason: res.ExceptionReason,
		City:            strings.TrimSpace(raw.City),
		Novelty:         strings.TrimSpace(raw.Novelty),
		LastMovementAt:  lastMovementAt.UTC(),
		OccurredAt:      occurredAt.UTC(),
		Source:          raw.Source,
		PayloadHash:     payloadHash(guide, res.CanonicalStatus, lastMovementAt, raw.Novelty, raw.City, res.Carrier),
	}

	if phone := NormalizePhone(raw.Phone, s.countryCode); phone != "" {
		event.PhoneHash = HashPhone(phone)
		s.vault.Put(event.PhoneHash, phone)
	}

	created, err := s.store.InsertEvent(ctx, event)
	if err != nil {
		return IngestResult{}, fmt.Errorf("ingest %s: %w", guide, err)
	}
	if !created {
		return IngestResult{Status: IngestDuplicate}, nil
	}

	applied, err := s.store.ApplyGuideState(ctx, domain.GuideState{
		GuideNumber:     guide,
		Carrier:         res.Carrier,
		City:            event.City,
		CanonicalStatus: res.CanonicalStatus,
		ExceptionReason: res.ExceptionReason,
		Novelty:         event.Novelty,
		PhoneHash:       event.PhoneHash,
		LastMovementAt:  event.LastMovementAt,
		LastEventAt:     event.OccurredAt,
		Terminal:        res.CanonicalStatus.IsTerminal(),
	})
	if err != nil {
		return IngestResult{}, fmt.Errorf("ingest %s: %w", guide, err)
	}

	result := IngestResult{Status: IngestAccepted, Applied: applied, EventID: event.ID}
	if applied {
		if err := s.store.MarkEventApplied(ctx, event.ID); err != nil {
			return IngestResult{}, fmt.Errorf("ingest %s: %w", guide, err)
		}
	} else {
		result.Reason = "ordering guard: stale event or terminal guide"
		logger.Info("event stored without state change",
			"guide", guide, "status", string(res.CanonicalStatus), "occurred_at", event.OccurredAt)
	}
	return result, nil
}

// State exposes the current projection for one guide.
func (s *Service) State(ctx context.Context, guideNumber string) (*domain.GuideState, error) {
	return s.store.GuideState(ctx, guideNumber)
}

// payloadHash hashes the stable business fields only. Volatile metadata
// (delivery timestamps, request IDs) is excluded so a retried delivery of
// the same fact collapses onto the same hash.
func payloadHash(guide string, status domain.CanonicalStatus, lastMovementAt time.Time, novelty, city, carrier string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%s|%s|%s",
		guide, status, lastMovementAt.UTC().Unix(),
		strings.TrimSpace(novelty), strings.TrimSpace(city), carrier)
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizePhone reduces a phone number to digits and prepends the country
// code to local 10-digit numbers. Empty when the input has no usable digits.
func NormalizePhone(phone, countryCode string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < 7 {
		return ""
	}
	if len(digits) == 10 {
		return countryCode + digits
	}
	return digits
}

// HashPhone is the one-way hash used everywhere in place of the raw number.
func HashPhone(normalizedPhone string) string {
	sum := sha256.Sum256([]byte(normalizedPhone))
	return hex.EncodeToString(sum[:])
}
