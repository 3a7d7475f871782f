package domain

// CanonicalStatus is the fixed set of shipment states every carrier's
// free-text status is normalized into.
type CanonicalStatus string

const (
	StatusCreated        CanonicalStatus = "CREATED"
	StatusProcessing     CanonicalStatus = "PROCESSING"
	StatusShipped        CanonicalStatus = "SHIPPED"
	StatusInTransit      CanonicalStatus = "IN_TRANSIT"
	StatusOutForDelivery CanonicalStatus = "OUT_FOR_DELIVERY"
	StatusInOffice       CanonicalStatus = "IN_OFFICE"
	StatusDelivered      CanonicalStatus = "DELIVERED"
	StatusIssue          CanonicalStatus = "ISSUE"
	StatusReturned       CanonicalStatus = "RETURNED"
	StatusCancelled      CanonicalStatus = "CANCELLED"
)

// IsTerminal reports whether a guide in this status can never move again.
// Terminal guides are immutable to further events and are skipped by the
// protocol engine.
func (s CanonicalStatus) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusReturned, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is one of the known canonical statuses.
func (s CanonicalStatus) Valid() bool {
	switch s {
	case StatusCreated, StatusProcessing, StatusShipped, StatusInTransit,
		StatusOutForDelivery, StatusInOffice, StatusDelivered, StatusIssue,
		StatusReturned, StatusCancelled:
		return true
	}
	return false
}

// ExceptionReason sub-classifies an ISSUE status.
type ExceptionReason string

const (
	ExceptionNone                 ExceptionReason = ""
	ExceptionBadAddress           ExceptionReason = "BAD_ADDRESS"
	ExceptionRecipientUnavailable ExceptionReason = "RECIPIENT_UNAVAILABLE"
	ExceptionRejected             ExceptionReason = "REJECTED"
	ExceptionDamaged              ExceptionReason = "DAMAGED"
	ExceptionLost                 ExceptionReason = "LOST"
	ExceptionCODIssue             ExceptionReason = "COD_ISSUE"
	ExceptionOther                ExceptionReason = "OTHER"
)

// EventSource identifies where a raw status event entered the system.
type EventSource string

const (
	SourceWebhook EventSource = "webhook"
	SourceExcel   EventSource = "excel"
	SourceManual  EventSource = "manual"
	SourceSystem  EventSource = "system"
)
