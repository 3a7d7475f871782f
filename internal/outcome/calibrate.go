package outcome

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/shipment-monitor/internal/config"
	"github.com/ignite/shipment-monitor/internal/domain"
	"github.com/ignite/shipment-monitor/internal/pkg/distlock"
	"github.com/ignite/shipment-monitor/internal/pkg/logger"
)

// ErrCalibrationLocked is returned when another calibration run holds
// the single-writer lock.
var ErrCalibrationLocked = errors.New("calibration already running")

// Pauses applied by calibration expire after a day; the next report
// re-proposes the pause if the segment is still underperforming.
const pauseTTL = 24 * time.Hour

// ParamStore is the calibration parameter persistence: current values,
// updates, and the per-change audit trail.
type ParamStore interface {
	Param(ctx context.Context, name string) (float64, error)
	SetParam(ctx context.Context, name string, hours float64) error
	InsertChange(ctx context.Context, c *domain.CalibrationChange) error
	LastChangeAt(ctx context.Context, parameter string) (*time.Time, error)
}

// Pauser pauses city/carrier segments.
type Pauser interface {
	Pause(ctx context.Context, city, carrier, reason string, ttl time.Duration) error
}

// Calibrator applies bounded recommendations. Every applied change is
// audited; dry-run mode logs what would change and touches nothing.
type Calibrator struct {
	params ParamStore
	pause  Pauser
	lock   distlock.DistLock
	cfg    config.CalibrationConfig
}

// ApplySummary counts one calibration run.
type ApplySummary struct {
	Applied   int `json:"applied"`
	SkippedCd int `json:"skipped_cooldown"`
	DryRun    int `json:"dry_run"`
}

// NewCalibrator creates a calibrator. lock serializes runs across
// processes; it must not be nil.
func NewCalibrator(params ParamStore, pause Pauser, lock distlock.DistLock, cfg config.CalibrationConfig) *Calibrator {
	return &Calibrator{params: params, pause: pause, lock: lock, cfg: cfg}
}

// Apply carries out the report's recommendations under the single-writer
// lock, honoring the per-run change cap and per-parameter cooldown.
func (c *Calibrator) Apply(ctx context.Context, actor string, recs []domain.Recommendation) (ApplySummary, error) {
	var summary ApplySummary

	acquired, err := c.lock.Acquire(ctx)
	if err != nil {
		return summary, fmt.Errorf("acquire calibration lock: %w", err)
	}
	if !acquired {
		return summary, ErrCalibrationLocked
	}
	defer c.lock.Release(ctx)

	for _, rec := range recs {
		if summary.Applied+summary.DryRun >= c.cfg.MaxChangesPerRun {
			logger.Info("calibration change cap reached",
				"cap", c.cfg.MaxChangesPerRun,
				"remaining", len(recs)-summary.Applied-summary.DryRun)
			break
		}

		cooled, err := c.cooledDown(ctx, c.cooldownKey(rec))
		if err != nil {
			return summary, err
		}
		if !cooled {
			summary.SkippedCd++
			continue
		}

		if c.cfg.DryRun {
			logger.Info("calibration dry-run, change not applied",
				"type", string(rec.Type),
				"parameter", rec.Parameter,
				"city", rec.City,
				"carrier", rec.Carrier,
				"proposed", rec.Proposed,
				"reason", rec.Reason)
			summary.DryRun++
			continue
		}

		switch rec.Type {
		case domain.RecommendAdjustThreshold:
			if err := c.applyThreshold(ctx, actor, rec); err != nil {
				return summary, err
			}
		case domain.RecommendPauseSegment:
			if err := c.applyPause(ctx, actor, rec); err != nil {
				return summary, err
			}
		default:
			// only bounded types may be auto-applied
			logger.Warn("unsupported recommendation type skipped", "type", string(rec.Type))
			continue
		}
		summary.Applied++
	}

	logger.Info("calibration run complete",
		"actor", actor,
		"applied", summary.Applied,
		"skipped_cooldown", summary.SkippedCd,
		"dry_run", summary.DryRun)
	return summary, nil
}

func (c *Calibrator) applyThreshold(ctx context.Context, actor string, rec domain.Recommendation) error {
	current, err := c.params.Param(ctx, rec.Parameter)
	if err != nil {
		return fmt.Errorf("read parameter %q: %w", rec.Parameter, err)
	}

	proposed := rec.Proposed
	if proposed < float64(c.cfg.ThresholdMinHours) {
		proposed = float64(c.cfg.ThresholdMinHours)
	}
	if proposed > float64(c.cfg.ThresholdMaxHours) {
		proposed = float64(c.cfg.ThresholdMaxHours)
	}
	if proposed == current {
		return nil
	}

	if err := c.params.SetParam(ctx, rec.Parameter, proposed); err != nil {
		return fmt.Errorf("set parameter %q: %w", rec.Parameter, err)
	}
	if err := c.params.InsertChange(ctx, &domain.CalibrationChange{
		Actor:     actor,
		Parameter: rec.Parameter,
		Before:    current,
		After:     proposed,
		Reason:    rec.Reason,
	}); err != nil {
		return fmt.Errorf("audit change: %w", err)
	}

	logger.Info("threshold adjusted",
		"actor", actor,
		"parameter", rec.Parameter,
		"before", current,
		"after", proposed)
	return nil
}

func (c *Calibrator) applyPause(ctx context.Context, actor string, rec domain.Recommendation) error {
	if err := c.pause.Pause(ctx, rec.City, rec.Carrier, rec.Reason, pauseTTL); err != nil {
		return err
	}
	if err := c.params.InsertChange(ctx, &domain.CalibrationChange{
		Actor:     actor,
		Parameter: c.cooldownKey(rec),
		Before:    0,
		After:     1,
		Reason:    rec.Reason,
	}); err != nil {
		return fmt.Errorf("audit pause: %w", err)
	}
	return nil
}

// cooldownKey names the thing a recommendation touches, so pauses of
// different segments cool down independently.
func (c *Calibrator) cooldownKey(rec domain.Recommendation) string {
	if rec.Type == domain.RecommendPauseSegment {
		return fmt.Sprintf("pause:%s|%s", rec.City, rec.Carrier)
	}
	return rec.Parameter
}

func (c *Calibrator) cooledDown(ctx context.Context, parameter string) (bool, error) {
	last, err := c.params.LastChangeAt(ctx, parameter)
	if err != nil {
		return false, fmt.Errorf("read last change: %w", err)
	}
	if last == nil {
		return true, nil
	}
	return time.Since(*last) >= time.Duration(c.cfg.CooldownHours)*time.Hour, nil
}
