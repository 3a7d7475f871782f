package domain

import "time"

// ActionStatus enumerates the lifecycle states of one automated action.
type ActionStatus string

const (
	ActionPlanned          ActionStatus = "PLANNED"
	ActionRunning          ActionStatus = "RUNNING"
	ActionSuccess          ActionStatus = "SUCCESS"
	ActionFailed           ActionStatus = "FAILED"
	ActionSkippedRateLimit ActionStatus = "SKIPPED_RATE_LIMIT"
)

// ActionType enumerates the kinds of automated outbound actions.
type ActionType string

const (
	ActionSendWhatsApp ActionType = "SEND_WHATSAPP"
)

// Priority of a planned action. Values match the operational language the
// logistics team uses, so they surface verbatim in tickets and reports.
type Priority string

const (
	PriorityAlta  Priority = "alta"
	PriorityMedia Priority = "media"
	PriorityBaja  Priority = "baja"
)

// Action is one row of the action ledger: a decision made by the protocol
// engine, later claimed and executed by the executor. IdempotencyKey is
// derived from (guide, protocol, date) so planning is a same-day no-op and
// the executor refuses a second send across restarts.
type Action struct {
	ID             string         `json:"id" db:"id"`
	GuideNumber    string         `json:"guide_number" db:"guide_number"`
	ProtocolID     string         `json:"protocol_id" db:"protocol_id"`
	ActionType     ActionType     `json:"action_type" db:"action_type"`
	Priority       Priority       `json:"priority" db:"priority"`
	Status         ActionStatus   `json:"status" db:"status"`
	IdempotencyKey string         `json:"idempotency_key" db:"idempotency_key"`
	Metadata       ActionMetadata `json:"metadata" db:"metadata"`
	WorkerID       string         `json:"worker_id,omitempty" db:"worker_id"`
	FailureReason  string         `json:"failure_reason,omitempty" db:"failure_reason"`
	RetryCount     int            `json:"retry_count" db:"retry_count"`
	ProviderID     string         `json:"provider_id,omitempty" db:"provider_id"`
	PlannedAt      time.Time      `json:"planned_at" db:"planned_at"`
	ClaimedAt      *time.Time     `json:"claimed_at,omitempty" db:"claimed_at"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty" db:"finished_at"`
}

// ActionMetadata carries the logistics context an action was planned with.
// Only non-PII fields: this is what gets rendered into message templates.
type ActionMetadata struct {
	City              string `json:"city"`
	Carrier           string `json:"carrier"`
	DaysSinceMovement int    `json:"days_since_movement"`
	Reason            string `json:"reason"`
}

// ExecutionResult records the outcome of one executor attempt on an action.
type ExecutionResult struct {
	ActionID      string       `json:"action_id"`
	Status        ActionStatus `json:"status"`
	FailureReason string       `json:"failure_reason,omitempty"`
	RetryCount    int          `json:"retry_count"`
	Timestamp     time.Time    `json:"timestamp"`
}

// RunSummary aggregates one executor run for observability. Zero PII.
type RunSummary struct {
	RunID     string    `json:"run_id"`
	WorkerID  string    `json:"worker_id"`
	Attempted int       `json:"attempted"`
	Success   int       `json:"success"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
}
