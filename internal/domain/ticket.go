package domain

import "time"

// TicketStatus enumerates the lifecycle states of a support ticket.
type TicketStatus string

const (
	TicketOpen       TicketStatus = "OPEN"
	TicketInProgress TicketStatus = "IN_PROGRESS"
	TicketResolved   TicketStatus = "RESOLVED"
	TicketClosed     TicketStatus = "CLOSED"
)

// TicketTrigger identifies why a ticket was opened.
type TicketTrigger string

const (
	TriggerSendFailed     TicketTrigger = "send_failed"
	TriggerStuckAfterSend TicketTrigger = "stuck_after_send"
)

// Ticket is a human-facing escalation for a guide the automated pipeline
// could not resolve. At most one OPEN ticket exists per (guide, protocol);
// repeat triggers append to the timeline instead of opening duplicates.
// Stores the phone hash only, never the raw number.
type Ticket struct {
	ID          string          `json:"id" db:"id"`
	GuideNumber string          `json:"guide_number" db:"guide_number"`
	ProtocolID  string          `json:"protocol_id" db:"protocol_id"`
	Trigger     TicketTrigger   `json:"trigger" db:"trigger"`
	Priority    Priority        `json:"priority" db:"priority"`
	Status      TicketStatus    `json:"status" db:"status"`
	PhoneHash   string          `json:"phone_hash,omitempty" db:"phone_hash"`
	Timeline    []TimelineEntry `json:"timeline"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// TimelineEntry is one append-only note on a ticket.
type TimelineEntry struct {
	TicketID  string    `json:"ticket_id" db:"ticket_id"`
	Note      string    `json:"note" db:"note"`
	Actor     string    `json:"actor" db:"actor"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
