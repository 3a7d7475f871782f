package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/shipment-monitor/internal/domain"
)

func testEvent() *domain.Event {
	return &domain.Event{
		GuideNumber:     "G1",
		Carrier:         "SERVIENTREGA",
		RawStatus:       "En tránsito",
		CanonicalStatus: domain.StatusInTransit,
		City:            "Bogota",
		LastMovementAt:  time.Now().Add(-2 * time.Hour),
		OccurredAt:      time.Now().Add(-1 * time.Hour),
		Source:          domain.SourceWebhook,
		PayloadHash:     "abc123",
	}
}

func TestInsertEventCreated(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("INSERT INTO guide_events").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("11111111-1111-1111-1111-111111111111"))

	repo := NewEventRepo(db)
	created, err := repo.InsertEvent(context.Background(), testEvent())
	require.NoError(t, err)
	assert.True(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

// A payload hash collision means ON CONFLICT DO NOTHING returns no row:
// the event is a duplicate delivery, not an error.
func TestInsertEventDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("INSERT INTO guide_events").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	repo := NewEventRepo(db)
	created, err := repo.InsertEvent(context.Background(), testEvent())
	require.NoError(t, err)
	assert.False(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyGuideStateGuardRejects(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// Zero rows affected: the stored state was terminal or newer.
	mock.ExpectExec("INSERT INTO guide_states").
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewEventRepo(db)
	applied, err := repo.ApplyGuideState(context.Background(), domain.GuideState{
		GuideNumber:     "G3",
		CanonicalStatus: domain.StatusOutForDelivery,
		LastMovementAt:  time.Now().Add(-72 * time.Hour),
		LastEventAt:     time.Now().Add(-72 * time.Hour),
	})
	require.NoError(t, err)
	assert.False(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyGuideStateAccepts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO guide_states").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewEventRepo(db)
	applied, err := repo.ApplyGuideState(context.Background(), domain.GuideState{
		GuideNumber:     "G1",
		CanonicalStatus: domain.StatusInTransit,
		LastMovementAt:  time.Now(),
		LastEventAt:     time.Now(),
	})
	require.NoError(t, err)
	assert.True(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePlannedIdempotent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("INSERT INTO contact_actions").
		WillReturnRows(sqlmock.NewRows([]string{"id", "planned_at"}))

	repo := NewActionRepo(db)
	created, err := repo.CreatePlanned(context.Background(), &domain.Action{
		GuideNumber:    "G1",
		ProtocolID:     "sin_movimiento",
		ActionType:     domain.ActionSendWhatsApp,
		Priority:       domain.PriorityMedia,
		IdempotencyKey: "G1:sin_movimiento:2026-08-30",
	})
	require.NoError(t, err)
	assert.False(t, created, "conflicting idempotency key must be a no-op")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketInsertOneOpenInvariant(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("INSERT INTO tickets").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}))

	repo := NewTicketRepo(db)
	created, err := repo.Insert(context.Background(), &domain.Ticket{
		GuideNumber: "G4",
		ProtocolID:  "sin_movimiento",
		Trigger:     domain.TriggerSendFailed,
		Priority:    domain.PriorityMedia,
	})
	require.NoError(t, err)
	assert.False(t, created, "second OPEN ticket for (guide, protocol) must not be created")
	require.NoError(t, mock.ExpectationsWereMet())
}
