package executor

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/shipment-monitor/internal/config"
	"github.com/ignite/shipment-monitor/internal/domain"
	"github.com/ignite/shipment-monitor/internal/gateway"
	"github.com/ignite/shipment-monitor/internal/piivault"
	"github.com/ignite/shipment-monitor/internal/protocol"
)

// fakeActions is an in-memory action ledger good enough for executor tests.
type fakeActions struct {
	queue     []domain.Action
	results   map[string]domain.ExecutionResult
	providers map[string]string
	unclaimed []string
	sentKeys  map[string]bool
	runs      []domain.RunSummary
}

func newFakeActions(queue ...domain.Action) *fakeActions {
	return &fakeActions{
		queue:     queue,
		results:   make(map[string]domain.ExecutionResult),
		providers: make(map[string]string),
		sentKeys:  make(map[string]bool),
	}
}

func (f *fakeActions) ClaimBatch(_ context.Context, workerID string, limit int) ([]domain.Action, error) {
	n := limit
	if n > len(f.queue) {
		n = len(f.queue)
	}
	batch := f.queue[:n]
	f.queue = f.queue[n:]
	for i := range batch {
		batch[i].Status = domain.ActionRunning
		batch[i].WorkerID = workerID
	}
	return batch, nil
}

func (f *fakeActions) MarkResult(_ context.Context, res domain.ExecutionResult, providerID string) error {
	f.results[res.ActionID] = res
	f.providers[res.ActionID] = providerID
	return nil
}

func (f *fakeActions) Unclaim(_ context.Context, actionID string) error {
	f.unclaimed = append(f.unclaimed, actionID)
	return nil
}

func (f *fakeActions) SentForKey(_ context.Context, key, _ string) (bool, error) {
	return f.sentKeys[key], nil
}

func (f *fakeActions) InsertRun(_ context.Context, s domain.RunSummary, _ time.Duration) error {
	f.runs = append(f.runs, s)
	return nil
}

type fakeGuides struct{ states map[string]*domain.GuideState }

func (f *fakeGuides) GuideState(_ context.Context, guide string) (*domain.GuideState, error) {
	return f.states[guide], nil
}

// fakeGateway returns scripted errors in order, then succeeds.
type fakeGateway struct {
	scripted []error
	calls    int
}

func (f *fakeGateway) Send(_ context.Context, _ gateway.SendRequest) (*gateway.SendResult, error) {
	f.calls++
	if len(f.scripted) > 0 {
		err := f.scripted[0]
		f.scripted = f.scripted[1:]
		if err != nil {
			return nil, err
		}
	}
	return &gateway.SendResult{ProviderID: "wamid.test.1"}, nil
}

type allowAll struct{}

func (allowAll) Allow(context.Context, string) (Decision, error) { return Decision{Allowed: true}, nil }

type denyAll struct{ scope string }

func (d denyAll) Allow(context.Context, string) (Decision, error) {
	return Decision{Allowed: false, Scope: d.scope}, nil
}

type fakeOutcomes struct{ created []domain.Outcome }

func (f *fakeOutcomes) Create(_ context.Context, o *domain.Outcome) (bool, error) {
	f.created = append(f.created, *o)
	return true, nil
}

func testAction(id, guide, protocolID string) domain.Action {
	return domain.Action{
		ID:             id,
		GuideNumber:    guide,
		ProtocolID:     protocolID,
		ActionType:     domain.ActionSendWhatsApp,
		Priority:       domain.PriorityMedia,
		Status:         domain.ActionPlanned,
		IdempotencyKey: guide + ":" + protocolID + ":2026-08-30",
		Metadata: domain.ActionMetadata{
			City:              "BOGOTA",
			Carrier:           "SERVIENTREGA",
			DaysSinceMovement: 3,
			Reason:            "no movement for 72h",
		},
	}
}

func testVault(hash, phone string) *piivault.Vault {
	v := piivault.New()
	v.Put(hash, phone)
	return v
}

func buildExecutor(actions *fakeActions, guides *fakeGuides, vault PhoneVault,
	limiter Limiter, gw gateway.Sender, outcomes *fakeOutcomes, cfg config.ExecutorConfig) *Executor {

	e := New(actions, guides, vault, limiter, gw, NewTemplateService(), outcomes, cfg, 3)
	// keep test backoff short
	e.policy.BaseDelay = 1 * time.Millisecond
	e.policy.MaxDelay = 2 * time.Millisecond
	return e
}

func TestExecutorTransientErrorsThenSuccess(t *testing.T) {
	actions := newFakeActions(testAction("a1", "GU100", protocol.ProtocolNoMovement))
	guides := &fakeGuides{states: map[string]*domain.GuideState{
		"GU100": {GuideNumber: "GU100", PhoneHash: "hash-1"},
	}}
	gw := &fakeGateway{scripted: []error{
		&gateway.Error{StatusCode: 503, Message: "unavailable"},
		&gateway.Error{StatusCode: 503, Message: "unavailable"},
		nil,
	}}
	outcomes := &fakeOutcomes{}
	e := buildExecutor(actions, guides, testVault("hash-1", "573001234567"), allowAll{}, gw, outcomes, config.ExecutorConfig{})

	summary, err := e.RunOnce(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Attempted)
	assert.Equal(t, 1, summary.Success)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 3, gw.calls)

	res := actions.results["a1"]
	assert.Equal(t, domain.ActionSuccess, res.Status)
	assert.Equal(t, 2, res.RetryCount)
	assert.Equal(t, "wamid.test.1", actions.providers["a1"])

	require.Len(t, outcomes.created, 1)
	assert.Equal(t, "a1", outcomes.created[0].ActionID)
	assert.Equal(t, "BOGOTA", outcomes.created[0].City)
	assert.Equal(t, "SERVIENTREGA", outcomes.created[0].Carrier)
}

func TestExecutorPermanentErrorNoRetry(t *testing.T) {
	actions := newFakeActions(testAction("a1", "GU101", protocol.ProtocolNoMovement))
	guides := &fakeGuides{states: map[string]*domain.GuideState{
		"GU101": {GuideNumber: "GU101", PhoneHash: "hash-1"},
	}}
	gw := &fakeGateway{scripted: []error{
		&gateway.Error{StatusCode: 400, Message: "invalid recipient"},
	}}
	outcomes := &fakeOutcomes{}
	e := buildExecutor(actions, guides, testVault("hash-1", "573001234567"), allowAll{}, gw, outcomes, config.ExecutorConfig{})

	summary, err := e.RunOnce(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, gw.calls, "4xx must not be retried")

	res := actions.results["a1"]
	assert.Equal(t, domain.ActionFailed, res.Status)
	assert.Equal(t, 0, res.RetryCount)
	assert.Contains(t, res.FailureReason, "invalid recipient")
	assert.Empty(t, outcomes.created, "failed sends open no outcome row")
}

func TestExecutorRateLimitedNeverCallsGateway(t *testing.T) {
	actions := newFakeActions(testAction("a1", "GU102", protocol.ProtocolAtOffice))
	guides := &fakeGuides{states: map[string]*domain.GuideState{
		"GU102": {GuideNumber: "GU102", PhoneHash: "hash-1"},
	}}
	gw := &fakeGateway{}
	e := buildExecutor(actions, guides, testVault("hash-1", "573001234567"),
		denyAll{scope: "phone_day"}, gw, &fakeOutcomes{}, config.ExecutorConfig{})

	summary, err := e.RunOnce(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, gw.calls)

	res := actions.results["a1"]
	assert.Equal(t, domain.ActionSkippedRateLimit, res.Status)
	assert.Equal(t, "rate_limit:phone_day", res.FailureReason)
}

func TestExecutorDuplicateKeySuppressed(t *testing.T) {
	a := testAction("a2", "GU103", protocol.ProtocolNoMovement)
	actions := newFakeActions(a)
	actions.sentKeys[a.IdempotencyKey] = true
	gw := &fakeGateway{}
	e := buildExecutor(actions, &fakeGuides{}, piivault.New(), allowAll{}, gw, &fakeOutcomes{}, config.ExecutorConfig{})

	summary, err := e.RunOnce(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Success)
	assert.Equal(t, 0, gw.calls, "prior send for the key means no second delivery")
	assert.Equal(t, domain.ActionSuccess, actions.results["a2"].Status)
}

func TestExecutorPilotSkipLeavesActionPlanned(t *testing.T) {
	a := testAction("a3", "GU104", protocol.ProtocolNoMovement)
	a.Metadata.City = "CALI"
	actions := newFakeActions(a)
	gw := &fakeGateway{}
	cfg := config.ExecutorConfig{
		PilotEnabled:  true,
		PilotSegments: []config.PilotSegment{{City: "BOGOTA", Carrier: "SERVIENTREGA"}},
	}
	e := buildExecutor(actions, &fakeGuides{}, piivault.New(), allowAll{}, gw, &fakeOutcomes{}, cfg)

	summary, err := e.RunOnce(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Attempted)
	assert.Equal(t, 0, gw.calls)
	assert.Equal(t, []string{"a3"}, actions.unclaimed)
	_, marked := actions.results["a3"]
	assert.False(t, marked, "out-of-pilot action must not be finalized")
}

func TestExecutorMissingPhoneFailsWithoutSend(t *testing.T) {
	actions := newFakeActions(testAction("a4", "GU105", protocol.ProtocolNoMovement))
	guides := &fakeGuides{states: map[string]*domain.GuideState{
		"GU105": {GuideNumber: "GU105"}, // no phone hash
	}}
	gw := &fakeGateway{}
	e := buildExecutor(actions, guides, piivault.New(), allowAll{}, gw, &fakeOutcomes{}, config.ExecutorConfig{})

	summary, err := e.RunOnce(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, gw.calls)
	assert.Equal(t, "missing_phone", actions.results["a4"].FailureReason)
}

func TestExecutorVaultMissDefersAction(t *testing.T) {
	actions := newFakeActions(testAction("a6", "GU107", protocol.ProtocolNoMovement))
	guides := &fakeGuides{states: map[string]*domain.GuideState{
		"GU107": {GuideNumber: "GU107", PhoneHash: "hash-unknown"},
	}}
	gw := &fakeGateway{}
	e := buildExecutor(actions, guides, piivault.New(), allowAll{}, gw, &fakeOutcomes{}, config.ExecutorConfig{})

	summary, err := e.RunOnce(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Attempted)
	assert.Equal(t, 0, gw.calls)
	assert.Equal(t, []string{"a6"}, actions.unclaimed, "action returns to PLANNED until a batch carries the phone")
	_, marked := actions.results["a6"]
	assert.False(t, marked)
}

func TestExecutorClearsVaultAfterRun(t *testing.T) {
	actions := newFakeActions(testAction("a7", "GU108", protocol.ProtocolNoMovement))
	guides := &fakeGuides{states: map[string]*domain.GuideState{
		"GU108": {GuideNumber: "GU108", PhoneHash: "hash-1"},
	}}
	vault := testVault("hash-1", "573001234567")
	e := buildExecutor(actions, guides, vault, allowAll{}, &fakeGateway{}, &fakeOutcomes{}, config.ExecutorConfig{})

	_, err := e.RunOnce(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, vault.Len(), "raw numbers must not outlive the batch")
}

func TestExecutorPersistsRunSummary(t *testing.T) {
	actions := newFakeActions(testAction("a5", "GU106", protocol.ProtocolNoMovement))
	guides := &fakeGuides{states: map[string]*domain.GuideState{
		"GU106": {GuideNumber: "GU106", PhoneHash: "hash-1"},
	}}
	e := buildExecutor(actions, guides, testVault("hash-1", "573001234567"), allowAll{}, &fakeGateway{}, &fakeOutcomes{}, config.ExecutorConfig{})

	_, err := e.RunOnce(context.Background(), 10)
	require.NoError(t, err)

	require.Len(t, actions.runs, 1)
	assert.Equal(t, 1, actions.runs[0].Attempted)
	assert.Equal(t, 1, actions.runs[0].Success)
	assert.NotEmpty(t, actions.runs[0].RunID)
}

func newTestLimiter(t *testing.T, limits RateLimits) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRateLimiter(client, limits), mr
}

func TestRateLimiterPerPhonePerDay(t *testing.T) {
	limiter, _ := newTestLimiter(t, RateLimits{
		GlobalPerMinute: 100,
		PerPhonePerDay:  2,
		AbsolutePerDay:  100,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := limiter.Allow(ctx, "phone-a")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	d, err := limiter.Allow(ctx, "phone-a")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "phone_day", d.Scope)

	// limit is per phone hash, not global
	d, err = limiter.Allow(ctx, "phone-b")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRateLimiterGlobalPerMinute(t *testing.T) {
	limiter, _ := newTestLimiter(t, RateLimits{
		GlobalPerMinute: 3,
		PerPhonePerDay:  100,
		AbsolutePerDay:  100,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := limiter.Allow(ctx, "phone-a")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	d, err := limiter.Allow(ctx, "phone-b")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "global_minute", d.Scope)
}

func TestRateLimiterAbsolutePerDay(t *testing.T) {
	limiter, _ := newTestLimiter(t, RateLimits{
		GlobalPerMinute: 100,
		PerPhonePerDay:  100,
		AbsolutePerDay:  2,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := limiter.Allow(ctx, "phone-a")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	d, err := limiter.Allow(ctx, "phone-b")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "absolute_day", d.Scope)
}

func TestRateLimiterDenialLeavesCountersUntouched(t *testing.T) {
	limiter, _ := newTestLimiter(t, RateLimits{
		GlobalPerMinute: 100,
		PerPhonePerDay:  1,
		AbsolutePerDay:  100,
	})
	ctx := context.Background()

	d, err := limiter.Allow(ctx, "phone-a")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	// Denied attempts must not consume global or daily budget.
	for i := 0; i < 5; i++ {
		d, err = limiter.Allow(ctx, "phone-a")
		require.NoError(t, err)
		assert.False(t, d.Allowed)
	}

	d, err = limiter.Allow(ctx, "phone-b")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestTemplateRenderNoMovement(t *testing.T) {
	ts := NewTemplateService()
	body, err := ts.Render(protocol.ProtocolNoMovement, map[string]interface{}{
		"guide_number":        "GU200",
		"carrier":             "COORDINADORA",
		"city":                "MEDELLIN",
		"days_since_movement": "4",
	})
	require.NoError(t, err)
	assert.Contains(t, body, "GU200")
	assert.Contains(t, body, "Coordinadora")
	assert.Contains(t, body, "Medellin")
	assert.Contains(t, body, "4 días")
}

func TestTemplateRenderUnknownProtocol(t *testing.T) {
	ts := NewTemplateService()
	_, err := ts.Render("no_such_protocol", nil)
	assert.Error(t, err)
}
