package domain

import "time"

// Outcome measures whether a sent message was followed by real movement.
// One row per SUCCESS send; the movement and ticket flags are filled in
// asynchronously by the outcome sweep as later events arrive.
type Outcome struct {
	ID                 string     `json:"id" db:"id"`
	ActionID           string     `json:"action_id" db:"action_id"`
	GuideNumber        string     `json:"guide_number" db:"guide_number"`
	ProtocolID         string     `json:"protocol_id" db:"protocol_id"`
	City               string     `json:"city" db:"city"`
	Carrier            string     `json:"carrier" db:"carrier"`
	SentAt             time.Time  `json:"sent_at" db:"sent_at"`
	MovedWithin24h     *bool      `json:"moved_within_24h,omitempty" db:"moved_within_24h"`
	MovedWithin48h     *bool      `json:"moved_within_48h,omitempty" db:"moved_within_48h"`
	TicketCreatedAfter *bool      `json:"ticket_created_after,omitempty" db:"ticket_created_after"`
	SweptAt            *time.Time `json:"swept_at,omitempty" db:"swept_at"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
}

// SegmentMetrics aggregates outcomes for one city/carrier segment.
type SegmentMetrics struct {
	City             string  `json:"city"`
	Carrier          string  `json:"carrier"`
	Sends            int     `json:"sends"`
	Moved24hPct      float64 `json:"moved_24h_pct"`
	Moved48hPct      float64 `json:"moved_48h_pct"`
	TicketsAfterPct  float64 `json:"tickets_after_pct"`
}

// Recommendation is one proposed calibration change derived from a daily
// report. Only the bounded types below may be auto-applied.
type Recommendation struct {
	Type      RecommendationType `json:"type"`
	Parameter string             `json:"parameter"`
	City      string             `json:"city,omitempty"`
	Carrier   string             `json:"carrier,omitempty"`
	Current   float64            `json:"current,omitempty"`
	Proposed  float64            `json:"proposed,omitempty"`
	Reason    string             `json:"reason"`
}

// RecommendationType enumerates the calibration change types.
type RecommendationType string

const (
	RecommendAdjustThreshold RecommendationType = "adjust_threshold_hours"
	RecommendPauseSegment    RecommendationType = "pause_city_carrier"
)

// CalibrationReport is the daily aggregate of outcomes with ranked worst
// performers and proposed changes.
type CalibrationReport struct {
	Date            string           `json:"date" db:"date"`
	Segments        []SegmentMetrics `json:"segments"`
	WorstPerformers []SegmentMetrics `json:"worst_performers"`
	Recommendations []Recommendation `json:"recommendations"`
	TotalSends      int              `json:"total_sends" db:"total_sends"`
	GeneratedAt     time.Time        `json:"generated_at" db:"generated_at"`
}

// CalibrationChange is the audit record of one applied calibration change.
type CalibrationChange struct {
	ID        string    `json:"id" db:"id"`
	Actor     string    `json:"actor" db:"actor"`
	Parameter string    `json:"parameter" db:"parameter"`
	Before    float64   `json:"before" db:"before_value"`
	After     float64   `json:"after" db:"after_value"`
	Reason    string    `json:"reason" db:"reason"`
	AppliedAt time.Time `json:"applied_at" db:"applied_at"`
}
