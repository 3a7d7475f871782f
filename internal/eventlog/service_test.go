package eventlog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/shipment-monitor/internal/domain"
	"github.com/ignite/shipment-monitor/internal/normalizer"
)

// memStore mimics the SQL store's dedupe and ordering-guard semantics for
// service-level tests.
type memStore struct {
	events   map[string]*domain.Event // payloadHash → event
	byID     map[string]*domain.Event
	states   map[string]domain.GuideState
	applyLog int
}

func newMemStore() *memStore {
	return &memStore{
		events: make(map[string]*domain.Event),
		byID:   make(map[string]*domain.Event),
		states: make(map[string]domain.GuideState),
	}
}

func (m *memStore) InsertEvent(_ context.Context, e *domain.Event) (bool, error) {
	if _, ok := m.events[e.PayloadHash]; ok {
		return false, nil
	}
	e.ID = fmt.Sprintf("evt-%d", len(m.events)+1)
	m.events[e.PayloadHash] = e
	m.byID[e.ID] = e
	return true, nil
}

func (m *memStore) ApplyGuideState(_ context.Context, s domain.GuideState) (bool, error) {
	m.applyLog++
	cur, ok := m.states[s.GuideNumber]
	if ok {
		if cur.Terminal || cur.LastEventAt.After(s.LastEventAt) {
			return false, nil
		}
		if s.LastMovementAt.Before(cur.LastMovementAt) {
			s.LastMovementAt = cur.LastMovementAt
		}
	}
	m.states[s.GuideNumber] = s
	return true, nil
}

func (m *memStore) MarkEventApplied(_ context.Context, eventID string) error {
	if e, ok := m.byID[eventID]; ok {
		e.Applied = true
	}
	return nil
}

func (m *memStore) GuideState(_ context.Context, guide string) (*domain.GuideState, error) {
	if s, ok := m.states[guide]; ok {
		return &s, nil
	}
	return nil, nil
}

type memVault struct{ entries map[string]string }

func (v *memVault) Put(hash, phone string) {
	if v.entries == nil {
		v.entries = make(map[string]string)
	}
	v.entries[hash] = phone
}

func newTestService(t *testing.T) (*Service, *memStore, *memVault) {
	t.Helper()
	tables, err := normalizer.LoadDefaultTables()
	require.NoError(t, err)
	store := newMemStore()
	vault := &memVault{}
	return NewService(normalizer.New(tables), store, vault, "57"), store, vault
}

func rawEvent(guide, status string, movedAt time.Time) RawEvent {
	return RawEvent{
		GuideNumber:    guide,
		Carrier:        "SERVIENTREGA",
		RawStatus:      status,
		City:           "Bogota",
		Phone:          "300 123 4567",
		LastMovementAt: movedAt,
		OccurredAt:     movedAt,
		Source:         domain.SourceWebhook,
	}
}

func TestIngestAccepted(t *testing.T) {
	svc, store, vault := newTestService(t)

	res, err := svc.Ingest(context.Background(), rawEvent("G1", "En tránsito", time.Now().Add(-time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, IngestAccepted, res.Status)
	assert.True(t, res.Applied)

	state := store.states["G1"]
	assert.Equal(t, domain.StatusInTransit, state.CanonicalStatus)
	assert.False(t, state.Terminal)

	// The raw phone went to the vault, only the hash to the store.
	require.Len(t, vault.entries, 1)
	assert.Equal(t, "573001234567", vault.entries[state.PhoneHash])
	for _, e := range store.events {
		assert.NotContains(t, e.PhoneHash, "3001234567")
	}
}

func TestIngestDuplicateIsIdempotent(t *testing.T) {
	svc, store, _ := newTestService(t)
	moved := time.Now().Add(-time.Hour)

	first, err := svc.Ingest(context.Background(), rawEvent("G1", "En tránsito", moved))
	require.NoError(t, err)
	require.Equal(t, IngestAccepted, first.Status)
	stateAfterFirst := store.states["G1"]
	appliesAfterFirst := store.applyLog

	second, err := svc.Ingest(context.Background(), rawEvent("G1", "En tránsito", moved))
	require.NoError(t, err)
	assert.Equal(t, IngestDuplicate, second.Status)
	assert.Equal(t, stateAfterFirst, store.states["G1"], "duplicate must not change state")
	assert.Equal(t, appliesAfterFirst, store.applyLog, "duplicate must not reach the projection")
	assert.Len(t, store.events, 1)
}

func TestIngestStaleEventStoredButNotApplied(t *testing.T) {
	svc, store, _ := newTestService(t)
	now := time.Now()

	_, err := svc.Ingest(context.Background(), rawEvent("G1", "En reparto", now))
	require.NoError(t, err)

	res, err := svc.Ingest(context.Background(), rawEvent("G1", "En tránsito", now.Add(-6*time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, IngestAccepted, res.Status)
	assert.False(t, res.Applied)

	assert.Equal(t, domain.StatusOutForDelivery, store.states["G1"].CanonicalStatus)
	assert.Len(t, store.events, 2, "stale event is still stored for audit")
}

// Guide G3 scenario: a DELIVERED guide receives an older EN_REPARTO event.
// The event lands in the log; the state stays DELIVERED.
func TestIngestTerminalStateIsImmutable(t *testing.T) {
	svc, store, _ := newTestService(t)
	now := time.Now()

	_, err := svc.Ingest(context.Background(), rawEvent("G3", "Entregado", now))
	require.NoError(t, err)
	require.True(t, store.states["G3"].Terminal)

	res, err := svc.Ingest(context.Background(), rawEvent("G3", "En reparto", now.Add(-time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, IngestAccepted, res.Status)
	assert.False(t, res.Applied)
	assert.Equal(t, domain.StatusDelivered, store.states["G3"].CanonicalStatus)

	// Even a NEWER event cannot reopen a terminal guide.
	res, err = svc.Ingest(context.Background(), rawEvent("G3", "En tránsito", now.Add(time.Hour)))
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, domain.StatusDelivered, store.states["G3"].CanonicalStatus)
}

func TestIngestRejectsMissingGuide(t *testing.T) {
	svc, store, _ := newTestService(t)

	res, err := svc.Ingest(context.Background(), rawEvent("  ", "Entregado", time.Now()))
	require.NoError(t, err)
	assert.Equal(t, IngestRejected, res.Status)
	assert.Empty(t, store.events)
}

func TestIngestUnmappedStatusNeverErrors(t *testing.T) {
	svc, store, _ := newTestService(t)

	res, err := svc.Ingest(context.Background(), rawEvent("G9", "estado desconocido xyz", time.Now()))
	require.NoError(t, err)
	assert.Equal(t, IngestAccepted, res.Status)
	assert.Equal(t, domain.StatusIssue, store.states["G9"].CanonicalStatus)
	assert.Equal(t, domain.ExceptionOther, store.states["G9"].ExceptionReason)
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"300 123 4567", "573001234567"},
		{"+57 300 123 4567", "573001234567"},
		{"(300) 123-4567", "573001234567"},
		{"573001234567", "573001234567"},
		{"12345", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, NormalizePhone(tt.in, "57"), "input %q", tt.in)
	}
}

func TestPayloadHashIgnoresVolatileFields(t *testing.T) {
	moved := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	a := payloadHash("G1", domain.StatusInTransit, moved, "", "Bogota", "SERVIENTREGA")
	b := payloadHash("G1", domain.StatusInTransit, moved, "", "Bogota", "SERVIENTREGA")
	c := payloadHash("G1", domain.StatusInOffice, moved, "", "Bogota", "SERVIENTREGA")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
