package ticket

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/shipment-monitor/internal/domain"
	"github.com/ignite/shipment-monitor/internal/protocol"
)

// memTickets enforces the one-open-per-(guide,protocol) rule the partial
// unique index gives the real repository.
type memTickets struct {
	tickets  map[string]*domain.Ticket // key guide|protocol, OPEN only
	timeline map[string][]domain.TimelineEntry
	nextID   int
}

func newMemTickets() *memTickets {
	return &memTickets{
		tickets:  make(map[string]*domain.Ticket),
		timeline: make(map[string][]domain.TimelineEntry),
	}
}

func (m *memTickets) key(guide, proto string) string { return guide + "|" + proto }

func (m *memTickets) Insert(_ context.Context, t *domain.Ticket) (bool, error) {
	k := m.key(t.GuideNumber, t.ProtocolID)
	if _, exists := m.tickets[k]; exists {
		return false, nil
	}
	m.nextID++
	t.ID = fmt.Sprintf("t-%d", m.nextID)
	t.CreatedAt = time.Now()
	cp := *t
	m.tickets[k] = &cp
	return true, nil
}

func (m *memTickets) GetOpen(_ context.Context, guide, proto string) (*domain.Ticket, error) {
	t, ok := m.tickets[m.key(guide, proto)]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *memTickets) AppendTimeline(_ context.Context, e domain.TimelineEntry) error {
	m.timeline[e.TicketID] = append(m.timeline[e.TicketID], e)
	return nil
}

type memActions struct{ failed []domain.Action }

func (m *memActions) FailedExhausted(context.Context, time.Time) ([]domain.Action, error) {
	return m.failed, nil
}

type memOutcomes struct{ stuck []domain.Outcome }

func (m *memOutcomes) StuckAfterSuccess(context.Context, int, time.Time) ([]domain.Outcome, error) {
	return m.stuck, nil
}

type memGuides struct{ states map[string]*domain.GuideState }

func (m *memGuides) GuideState(_ context.Context, guide string) (*domain.GuideState, error) {
	return m.states[guide], nil
}

func TestSweepOpensTicketForFailedSend(t *testing.T) {
	store := newMemTickets()
	actions := &memActions{failed: []domain.Action{{
		ID:            "a1",
		GuideNumber:   "GU300",
		ProtocolID:    protocol.ProtocolNoMovement,
		Priority:      domain.PriorityMedia,
		FailureReason: "gateway error 503: unavailable",
		RetryCount:    3,
	}}}
	guides := &memGuides{states: map[string]*domain.GuideState{
		"GU300": {GuideNumber: "GU300", PhoneHash: "hash-300"},
	}}
	svc := New(store, actions, &memOutcomes{}, guides, 3)

	summary, err := svc.Sweep(context.Background(), time.Now())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Opened)
	opened, _ := store.GetOpen(context.Background(), "GU300", protocol.ProtocolNoMovement)
	require.NotNil(t, opened)
	assert.Equal(t, domain.TriggerSendFailed, opened.Trigger)
	assert.Equal(t, domain.PriorityMedia, opened.Priority)
	assert.Equal(t, "hash-300", opened.PhoneHash)

	notes := store.timeline[opened.ID]
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0].Note, "3 reintentos")
	assert.Equal(t, "system", notes[0].Actor)
}

func TestSweepRepeatTriggerAppendsInsteadOfDuplicating(t *testing.T) {
	store := newMemTickets()
	actions := &memActions{failed: []domain.Action{{
		ID:          "a1",
		GuideNumber: "GU301",
		ProtocolID:  protocol.ProtocolNoMovement,
		Priority:    domain.PriorityMedia,
		RetryCount:  3,
	}}}
	svc := New(store, actions, &memOutcomes{}, &memGuides{}, 3)

	_, err := svc.Sweep(context.Background(), time.Now())
	require.NoError(t, err)
	summary, err := svc.Sweep(context.Background(), time.Now())
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Opened)
	assert.Equal(t, 1, summary.Appended)
	assert.Len(t, store.tickets, 1)

	opened, _ := store.GetOpen(context.Background(), "GU301", protocol.ProtocolNoMovement)
	assert.Len(t, store.timeline[opened.ID], 2)
}

func TestSweepEscalatesStuckGuideAsAlta(t *testing.T) {
	store := newMemTickets()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	outcomes := &memOutcomes{stuck: []domain.Outcome{{
		ActionID:    "a2",
		GuideNumber: "GU302",
		ProtocolID:  protocol.ProtocolAtOffice,
		SentAt:      now.Add(-4 * 24 * time.Hour),
	}}}
	svc := New(store, &memActions{}, outcomes, &memGuides{}, 3)

	summary, err := svc.Sweep(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Opened)
	opened, _ := store.GetOpen(context.Background(), "GU302", protocol.ProtocolAtOffice)
	require.NotNil(t, opened)
	assert.Equal(t, domain.TriggerStuckAfterSend, opened.Trigger)
	assert.Equal(t, domain.PriorityAlta, opened.Priority)

	notes := store.timeline[opened.ID]
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0].Note, "4 días")
}

func TestSweepDifferentProtocolsGetSeparateTickets(t *testing.T) {
	store := newMemTickets()
	actions := &memActions{failed: []domain.Action{
		{ID: "a1", GuideNumber: "GU303", ProtocolID: protocol.ProtocolNoMovement, Priority: domain.PriorityMedia},
		{ID: "a2", GuideNumber: "GU303", ProtocolID: protocol.ProtocolAtOffice, Priority: domain.PriorityAlta},
	}}
	svc := New(store, actions, &memOutcomes{}, &memGuides{}, 3)

	summary, err := svc.Sweep(context.Background(), time.Now())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Opened)
	assert.Len(t, store.tickets, 2)
}
