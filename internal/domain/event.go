package domain

import "time"

// Event is one immutable observed status change for a guide.
// Rows are append-only; never mutated after ingestion. Events that fail
// the ordering guard are still stored (Applied=false) for audit.
type Event struct {
	ID              string          `json:"id" db:"id"`
	GuideNumber     string          `json:"guide_number" db:"guide_number"`
	Carrier         string          `json:"carrier" db:"carrier"`
	RawStatus       string          `json:"raw_status" db:"raw_status"`
	CanonicalStatus CanonicalStatus `json:"canonical_status" db:"canonical_status"`
	ExceptionReason ExceptionReason `json:"exception_reason,omitempty" db:"exception_reason"`
	City            string          `json:"city" db:"city"`
	Novelty         string          `json:"novelty,omitempty" db:"novelty"`
	LastMovementAt  time.Time       `json:"last_movement_at" db:"last_movement_at"`
	OccurredAt      time.Time       `json:"occurred_at" db:"occurred_at"`
	Source          EventSource     `json:"source" db:"source"`
	PayloadHash     string          `json:"payload_hash" db:"payload_hash"`
	PhoneHash       string          `json:"phone_hash,omitempty" db:"phone_hash"`
	Applied         bool            `json:"applied" db:"applied"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// GuideState is the derived single-row-per-guide projection of the event
// stream. Owned exclusively by the event log; mutated only through the
// ordering-guarded apply rule.
type GuideState struct {
	GuideNumber     string          `json:"guide_number" db:"guide_number"`
	Carrier         string          `json:"carrier" db:"carrier"`
	City            string          `json:"city" db:"city"`
	CanonicalStatus CanonicalStatus `json:"canonical_status" db:"canonical_status"`
	ExceptionReason ExceptionReason `json:"exception_reason,omitempty" db:"exception_reason"`
	Novelty         string          `json:"novelty,omitempty" db:"novelty"`
	PhoneHash       string          `json:"phone_hash,omitempty" db:"phone_hash"`
	LastMovementAt  time.Time       `json:"last_movement_at" db:"last_movement_at"`
	LastEventAt     time.Time       `json:"last_event_at" db:"last_event_at"`
	Terminal        bool            `json:"terminal" db:"terminal"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// DaysSinceMovement returns whole days between the guide's last movement
// and now.
func (g GuideState) DaysSinceMovement(now time.Time) int {
	if g.LastMovementAt.IsZero() {
		return 0
	}
	return int(now.Sub(g.LastMovementAt).Hours() / 24)
}
