package protocol

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/shipment-monitor/internal/domain"
)

type fakeGuides struct{ guides []domain.GuideState }

func (f *fakeGuides) ListActiveGuides(_ context.Context, cutoff time.Time) ([]domain.GuideState, error) {
	var out []domain.GuideState
	for _, g := range f.guides {
		if !g.Terminal && !g.LastEventAt.Before(cutoff) {
			out = append(out, g)
		}
	}
	return out, nil
}

type fakeActions struct {
	created map[string]domain.Action
}

func (f *fakeActions) CreatePlanned(_ context.Context, a *domain.Action) (bool, error) {
	if f.created == nil {
		f.created = make(map[string]domain.Action)
	}
	if _, ok := f.created[a.IdempotencyKey]; ok {
		return false, nil
	}
	a.ID = a.IdempotencyKey
	a.Status = domain.ActionPlanned
	f.created[a.IdempotencyKey] = *a
	return true, nil
}

type fakePause struct{ paused map[string]bool }

func (f *fakePause) IsPaused(_ context.Context, city, carrier string) bool {
	return f.paused[city+"|"+carrier]
}

func defaultProtocols() []Protocol {
	// AtOffice is registered ahead of NoMovement: an office-parked guide
	// gets the high-priority office message, not the generic one.
	return []Protocol{
		AtOffice{Hours: 72},
		NoMovement{Hours: 48, ResolvedKeywords: []string{"resuelto", "entregado"}},
	}
}

func guide(number string, status domain.CanonicalStatus, movedAgo time.Duration, now time.Time) domain.GuideState {
	return domain.GuideState{
		GuideNumber:     number,
		Carrier:         "SERVIENTREGA",
		City:            "Bogota",
		CanonicalStatus: status,
		PhoneHash:       "ph-" + number,
		LastMovementAt:  now.Add(-movedAgo),
		LastEventAt:     now.Add(-movedAgo),
		Terminal:        status.IsTerminal(),
	}
}

// Guide G1: IN_TRANSIT, 50h without movement, empty novelty. One PLANNED
// medium-priority send; re-running the engine the same day plans nothing new.
func TestEngineNoMovementFiresOnce(t *testing.T) {
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	guides := &fakeGuides{guides: []domain.GuideState{
		guide("G1", domain.StatusInTransit, 50*time.Hour, now),
	}}
	actions := &fakeActions{}
	engine := NewEngine(defaultProtocols(), guides, actions, nil, 14*24*time.Hour)

	sum, err := engine.Tick(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Planned)

	require.Len(t, actions.created, 1)
	for _, a := range actions.created {
		assert.Equal(t, ProtocolNoMovement, a.ProtocolID)
		assert.Equal(t, domain.PriorityMedia, a.Priority)
		assert.Equal(t, domain.ActionSendWhatsApp, a.ActionType)
		assert.Equal(t, 2, a.Metadata.DaysSinceMovement)
	}

	// Same day, second run: idempotent planning.
	sum, err = engine.Tick(context.Background(), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Planned)
	assert.Equal(t, 1, sum.AlreadyPlanned)
	assert.Len(t, actions.created, 1)
}

// Guide G2: IN_OFFICE for 80h matches AtOffice with priority alta, and
// first-match-wins means NoMovement is never consulted for it.
func TestEngineFirstMatchWins(t *testing.T) {
	now := time.Now()
	guides := &fakeGuides{guides: []domain.GuideState{
		guide("G2", domain.StatusInOffice, 80*time.Hour, now),
	}}
	actions := &fakeActions{}
	engine := NewEngine(defaultProtocols(), guides, actions, nil, 14*24*time.Hour)

	_, err := engine.Tick(context.Background(), now)
	require.NoError(t, err)

	require.Len(t, actions.created, 1)
	for _, a := range actions.created {
		assert.Equal(t, ProtocolAtOffice, a.ProtocolID)
		assert.Equal(t, domain.PriorityAlta, a.Priority)
	}
}

func TestEngineSkipsResolvedNovelty(t *testing.T) {
	now := time.Now()
	g := guide("G5", domain.StatusInTransit, 60*time.Hour, now)
	g.Novelty = "Cliente contactado, caso RESUELTO con la transportadora"
	guides := &fakeGuides{guides: []domain.GuideState{g}}
	actions := &fakeActions{}
	engine := NewEngine(defaultProtocols(), guides, actions, nil, 14*24*time.Hour)

	sum, err := engine.Tick(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Planned)
	assert.Empty(t, actions.created)
}

func TestEngineSkipsTerminalAndFresh(t *testing.T) {
	now := time.Now()
	guides := &fakeGuides{guides: []domain.GuideState{
		guide("D1", domain.StatusDelivered, 100*time.Hour, now),
		guide("F1", domain.StatusInTransit, 10*time.Hour, now),
	}}
	actions := &fakeActions{}
	engine := NewEngine(defaultProtocols(), guides, actions, nil, 14*24*time.Hour)

	_, err := engine.Tick(context.Background(), now)
	require.NoError(t, err)
	assert.Empty(t, actions.created)
}

// Guides whose last event predates the staleness grace window are not
// candidates at all: their data is too old to act on.
func TestEngineStalenessGraceWindow(t *testing.T) {
	now := time.Now()
	guides := &fakeGuides{guides: []domain.GuideState{
		guide("OLD1", domain.StatusInTransit, 20*24*time.Hour, now),
	}}
	actions := &fakeActions{}
	engine := NewEngine(defaultProtocols(), guides, actions, nil, 14*24*time.Hour)

	sum, err := engine.Tick(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Evaluated)
	assert.Empty(t, actions.created)
}

func TestEnginePausedSegment(t *testing.T) {
	now := time.Now()
	guides := &fakeGuides{guides: []domain.GuideState{
		guide("G1", domain.StatusInTransit, 50*time.Hour, now),
	}}
	actions := &fakeActions{}
	pause := &fakePause{paused: map[string]bool{"Bogota|SERVIENTREGA": true}}
	engine := NewEngine(defaultProtocols(), guides, actions, pause, 14*24*time.Hour)

	sum, err := engine.Tick(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Paused)
	assert.Empty(t, actions.created)
}

func TestDryRunWritesNothingAndFlags(t *testing.T) {
	now := time.Now()
	rejected := guide("R1", domain.StatusIssue, 50*time.Hour, now)
	rejected.ExceptionReason = domain.ExceptionRejected

	noPhone := guide("P1", domain.StatusInTransit, 50*time.Hour, now)
	noPhone.PhoneHash = ""

	ancient := guide("A1", domain.StatusInTransit, 40*24*time.Hour, now)

	clean := guide("C1", domain.StatusInTransit, 50*time.Hour, now)

	sim := NewSimulator(defaultProtocols())
	report := sim.Run([]domain.GuideState{rejected, noPhone, ancient, clean}, now)

	assert.Equal(t, 4, report.Evaluated)
	require.Len(t, report.Matches, 4)
	assert.Equal(t, 3, report.Suspicious)

	byGuide := map[string]DryRunMatch{}
	for _, m := range report.Matches {
		byGuide[m.GuideNumber] = m
	}
	assert.Contains(t, byGuide["R1"].Flags, "rejected_shipment")
	assert.Contains(t, byGuide["P1"].Flags, "missing_phone")
	assert.Contains(t, byGuide["A1"].Flags, "movement_older_than_30d")
	assert.False(t, byGuide["C1"].Suspicious)
}

func TestIdempotencyKeyFormat(t *testing.T) {
	now := time.Date(2026, 8, 30, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, "G1:sin_movimiento:2026-08-30", IdempotencyKey("G1", ProtocolNoMovement, now))
}
