// Package executor claims planned actions and carries them out against the
// WhatsApp gateway, with idempotency, rate limiting and bounded retries.
package executor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/shipment-monitor/internal/config"
	"github.com/ignite/shipment-monitor/internal/domain"
	"github.com/ignite/shipment-monitor/internal/gateway"
	"github.com/ignite/shipment-monitor/internal/pkg/logger"
	"github.com/ignite/shipment-monitor/internal/pkg/retry"
)

// ActionStore is the slice of the action ledger the executor needs.
type ActionStore interface {
	ClaimBatch(ctx context.Context, workerID string, limit int) ([]domain.Action, error)
	MarkResult(ctx context.Context, res domain.ExecutionResult, providerID string) error
	Unclaim(ctx context.Context, actionID string) error
	SentForKey(ctx context.Context, idempotencyKey, excludeID string) (bool, error)
	InsertRun(ctx context.Context, s domain.RunSummary, duration time.Duration) error
}

// GuideSource resolves the current state of a guide, used to recover the
// phone hash an action must be delivered to.
type GuideSource interface {
	GuideState(ctx context.Context, guideNumber string) (*domain.GuideState, error)
}

// PhoneVault resolves phone hashes back to raw numbers for the duration
// of one run. The executor clears it unconditionally at batch end, on
// every exit path, so raw numbers never outlive the batch.
type PhoneVault interface {
	Lookup(phoneHash string) (string, bool)
	Clear()
}

// Limiter decides whether one more send is allowed right now.
type Limiter interface {
	Allow(ctx context.Context, phoneHash string) (Decision, error)
}

// OutcomeRecorder opens an outcome row for every successful send.
type OutcomeRecorder interface {
	Create(ctx context.Context, o *domain.Outcome) (bool, error)
}

// Executor drains the PLANNED queue: claim, guard, render, send, record.
type Executor struct {
	actions   ActionStore
	guides    GuideSource
	vault     PhoneVault
	limiter   Limiter
	gateway   gateway.Sender
	templates *TemplateService
	outcomes  OutcomeRecorder
	policy    *retry.Policy
	pilot     map[string]bool // "city|carrier", nil when pilot disabled
	workerID  string
}

// New creates an executor. The retry policy is shared across sends so
// backoff settings live in one place.
func New(actions ActionStore, guides GuideSource, vault PhoneVault, limiter Limiter,
	sender gateway.Sender, templates *TemplateService, outcomes OutcomeRecorder,
	cfg config.ExecutorConfig, maxRetries int) *Executor {

	var pilot map[string]bool
	if cfg.PilotEnabled {
		pilot = make(map[string]bool, len(cfg.PilotSegments))
		for _, s := range cfg.PilotSegments {
			pilot[segmentKey(s.City, s.Carrier)] = true
		}
	}

	return &Executor{
		actions:   actions,
		guides:    guides,
		vault:     vault,
		limiter:   limiter,
		gateway:   sender,
		templates: templates,
		outcomes:  outcomes,
		policy:    retry.NewPolicy(maxRetries, gateway.IsTransient),
		pilot:     pilot,
		workerID:  fmt.Sprintf("executor-%s", uuid.New().String()[:8]),
	}
}

// RunOnce claims and executes one batch of planned actions. Each action
// settles independently: one failure never aborts the batch.
func (e *Executor) RunOnce(ctx context.Context, batchSize int) (domain.RunSummary, error) {
	defer e.vault.Clear()

	start := time.Now()
	summary := domain.RunSummary{
		RunID:     uuid.New().String(),
		WorkerID:  e.workerID,
		StartedAt: start,
	}

	claimed, err := e.actions.ClaimBatch(ctx, e.workerID, batchSize)
	if err != nil {
		return summary, fmt.Errorf("claim batch: %w", err)
	}
	if len(claimed) == 0 {
		return summary, nil
	}

	for i := range claimed {
		res := e.execute(ctx, &claimed[i])
		switch res {
		case domain.ActionSuccess:
			summary.Attempted++
			summary.Success++
		case domain.ActionFailed:
			summary.Attempted++
			summary.Failed++
		case domain.ActionSkippedRateLimit:
			summary.Attempted++
			summary.Skipped++
		case domain.ActionPlanned:
			// unclaimed, not attempted
		}
	}

	duration := time.Since(start)
	summary.Duration = duration.Round(time.Millisecond).String()
	if err := e.actions.InsertRun(ctx, summary, duration); err != nil {
		logger.Error("failed to persist run summary",
			"run_id", summary.RunID,
			"error", err.Error())
	}

	logger.Info("executor run complete",
		"run_id", summary.RunID,
		"worker_id", summary.WorkerID,
		"attempted", summary.Attempted,
		"success", summary.Success,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"duration", summary.Duration)
	return summary, nil
}

// execute settles one claimed action and returns its final status.
// A return of ActionPlanned means the action was returned to the queue.
func (e *Executor) execute(ctx context.Context, a *domain.Action) domain.ActionStatus {
	// A SUCCESS under the same idempotency key means the message already
	// went out; re-sending would double-contact the customer.
	sent, err := e.actions.SentForKey(ctx, a.IdempotencyKey, a.ID)
	if err != nil {
		return e.fail(ctx, a, "idempotency check: "+err.Error(), 0)
	}
	if sent {
		logger.Info("duplicate send suppressed",
			"action_id", a.ID,
			"guide_number", a.GuideNumber,
			"idempotency_key", a.IdempotencyKey)
		e.mark(ctx, a, domain.ActionSuccess, "", 0, "")
		return domain.ActionSuccess
	}

	if e.pilot != nil && !e.pilot[segmentKey(a.Metadata.City, a.Metadata.Carrier)] {
		if err := e.actions.Unclaim(ctx, a.ID); err != nil {
			logger.Error("failed to unclaim out-of-pilot action",
				"action_id", a.ID,
				"error", err.Error())
		}
		return domain.ActionPlanned
	}

	state, err := e.guides.GuideState(ctx, a.GuideNumber)
	if err != nil {
		return e.fail(ctx, a, "guide lookup: "+err.Error(), 0)
	}
	if state == nil || state.PhoneHash == "" {
		return e.fail(ctx, a, "missing_phone", 0)
	}

	phone, ok := e.vault.Lookup(state.PhoneHash)
	if !ok {
		// Hash known but the raw number is not in this run's vault. Not a
		// failure: the action goes back to PLANNED and runs once a batch
		// carries the number again.
		if err := e.actions.Unclaim(ctx, a.ID); err != nil {
			logger.Error("failed to unclaim action awaiting phone",
				"action_id", a.ID,
				"error", err.Error())
		}
		logger.Info("send deferred, phone not in vault",
			"action_id", a.ID,
			"guide_number", a.GuideNumber)
		return domain.ActionPlanned
	}

	decision, err := e.limiter.Allow(ctx, state.PhoneHash)
	if err != nil {
		return e.fail(ctx, a, "rate limiter: "+err.Error(), 0)
	}
	if !decision.Allowed {
		logger.Info("send skipped by rate limit",
			"action_id", a.ID,
			"guide_number", a.GuideNumber,
			"scope", decision.Scope)
		e.mark(ctx, a, domain.ActionSkippedRateLimit, "rate_limit:"+decision.Scope, 0, "")
		return domain.ActionSkippedRateLimit
	}

	body, err := e.templates.Render(a.ProtocolID, map[string]interface{}{
		"guide_number":        a.GuideNumber,
		"carrier":             a.Metadata.Carrier,
		"city":                a.Metadata.City,
		"days_since_movement": strconv.Itoa(a.Metadata.DaysSinceMovement),
	})
	if err != nil {
		return e.fail(ctx, a, "render: "+err.Error(), 0)
	}

	var result *gateway.SendResult
	retries, err := e.policy.Do(ctx, func() error {
		var sendErr error
		result, sendErr = e.gateway.Send(ctx, gateway.SendRequest{
			TemplateID: a.ProtocolID,
			Recipient:  phone,
			Body:       body,
		})
		return sendErr
	})
	if err != nil {
		return e.fail(ctx, a, err.Error(), retries)
	}

	e.mark(ctx, a, domain.ActionSuccess, "", retries, result.ProviderID)

	created, err := e.outcomes.Create(ctx, &domain.Outcome{
		ActionID:    a.ID,
		GuideNumber: a.GuideNumber,
		ProtocolID:  a.ProtocolID,
		City:        a.Metadata.City,
		Carrier:     a.Metadata.Carrier,
		SentAt:      time.Now().UTC(),
	})
	if err != nil {
		logger.Error("failed to open outcome row",
			"action_id", a.ID,
			"error", err.Error())
	} else if created {
		logger.Info("outcome row opened",
			"action_id", a.ID,
			"guide_number", a.GuideNumber)
	}

	return domain.ActionSuccess
}

func (e *Executor) fail(ctx context.Context, a *domain.Action, reason string, retries int) domain.ActionStatus {
	logger.Warn("action failed",
		"action_id", a.ID,
		"guide_number", a.GuideNumber,
		"protocol_id", a.ProtocolID,
		"reason", reason,
		"retry_count", retries)
	e.mark(ctx, a, domain.ActionFailed, reason, retries, "")
	return domain.ActionFailed
}

func (e *Executor) mark(ctx context.Context, a *domain.Action, status domain.ActionStatus, reason string, retries int, providerID string) {
	err := e.actions.MarkResult(ctx, domain.ExecutionResult{
		ActionID:      a.ID,
		Status:        status,
		FailureReason: reason,
		RetryCount:    retries,
		Timestamp:     time.Now().UTC(),
	}, providerID)
	if err != nil {
		logger.Error("failed to record action result",
			"action_id", a.ID,
			"status", string(status),
			"error", err.Error())
	}
}

func segmentKey(city, carrier string) string {
	return city + "|" + carrier
}
