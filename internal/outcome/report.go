package outcome

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ignite/shipment-monitor/internal/config"
	"github.com/ignite/shipment-monitor/internal/domain"
)

// Calibratable protocol parameter names as stored in protocol_params.
const (
	ParamNoMovementHours = "no_movement_hours"
	ParamAtOfficeHours   = "at_office_hours"
)

// How many segments the report ranks as worst performers.
const worstPerformerCount = 5

// Tickets-after-send above this share marks a segment as actively
// harmful: pausing beats threshold tuning there.
const pauseTicketPct = 30.0

// AggregateSource provides the day's per-segment metrics.
type AggregateSource interface {
	AggregateDay(ctx context.Context, day time.Time) ([]domain.SegmentMetrics, error)
}

// ParamSource reads the current value of a calibratable parameter.
type ParamSource interface {
	Param(ctx context.Context, name string) (float64, error)
}

// ReportStore persists daily reports.
type ReportStore interface {
	SaveReport(ctx context.Context, report *domain.CalibrationReport) error
}

// Reporter builds the daily calibration report: aggregated segment
// metrics, ranked worst performers, and bounded recommendations.
type Reporter struct {
	outcomes AggregateSource
	params   ParamSource
	store    ReportStore
	cfg      config.CalibrationConfig
}

// NewReporter creates a daily report builder.
func NewReporter(outcomes AggregateSource, params ParamSource, store ReportStore, cfg config.CalibrationConfig) *Reporter {
	return &Reporter{outcomes: outcomes, params: params, store: store, cfg: cfg}
}

// BuildDaily aggregates the given day's outcomes into a persisted report.
func (r *Reporter) BuildDaily(ctx context.Context, day time.Time) (*domain.CalibrationReport, error) {
	day = day.UTC().Truncate(24 * time.Hour)

	segments, err := r.outcomes.AggregateDay(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("aggregate day: %w", err)
	}

	report := &domain.CalibrationReport{
		Date:        day.Format("2006-01-02"),
		Segments:    segments,
		GeneratedAt: time.Now().UTC(),
	}
	for _, s := range segments {
		report.TotalSends += s.Sends
	}

	report.WorstPerformers = r.rankWorst(segments)
	report.Recommendations, err = r.recommend(ctx, report.WorstPerformers)
	if err != nil {
		return nil, err
	}

	if err := r.store.SaveReport(ctx, report); err != nil {
		return nil, fmt.Errorf("save report: %w", err)
	}
	return report, nil
}

// rankWorst orders segments with enough sample by ascending 48h movement
// and keeps the bottom few. Thin segments are noise, not signal.
func (r *Reporter) rankWorst(segments []domain.SegmentMetrics) []domain.SegmentMetrics {
	var eligible []domain.SegmentMetrics
	for _, s := range segments {
		if s.Sends >= r.cfg.MinSampleSize {
			eligible = append(eligible, s)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Moved48hPct != eligible[j].Moved48hPct {
			return eligible[i].Moved48hPct < eligible[j].Moved48hPct
		}
		return eligible[i].TicketsAfterPct > eligible[j].TicketsAfterPct
	})
	if len(eligible) > worstPerformerCount {
		eligible = eligible[:worstPerformerCount]
	}
	return eligible
}

// recommend proposes at most one change per worst performer. A segment
// generating tickets gets a pause; a segment merely below the movement
// target gets a threshold bump so it is contacted later and less often.
func (r *Reporter) recommend(ctx context.Context, worst []domain.SegmentMetrics) ([]domain.Recommendation, error) {
	var recs []domain.Recommendation
	thresholdProposed := false

	for _, s := range worst {
		if s.Moved48hPct >= r.cfg.Moved48TargetPct {
			continue
		}

		if s.TicketsAfterPct > pauseTicketPct {
			recs = append(recs, domain.Recommendation{
				Type:    domain.RecommendPauseSegment,
				City:    s.City,
				Carrier: s.Carrier,
				Reason: fmt.Sprintf("moved48h %.1f%% below target %.1f%% with %.1f%% tickets after send",
					s.Moved48hPct, r.cfg.Moved48TargetPct, s.TicketsAfterPct),
			})
			continue
		}

		// One threshold recommendation per report: the parameter is
		// global, not per segment.
		if thresholdProposed {
			continue
		}
		current, err := r.params.Param(ctx, ParamNoMovementHours)
		if err != nil {
			return nil, fmt.Errorf("read parameter: %w", err)
		}
		proposed := current + float64(r.cfg.ThresholdStepHours)
		if proposed > float64(r.cfg.ThresholdMaxHours) {
			continue
		}
		recs = append(recs, domain.Recommendation{
			Type:      domain.RecommendAdjustThreshold,
			Parameter: ParamNoMovementHours,
			Current:   current,
			Proposed:  proposed,
			Reason: fmt.Sprintf("moved48h %.1f%% below target %.1f%% in %s/%s",
				s.Moved48hPct, r.cfg.Moved48TargetPct, s.City, s.Carrier),
		})
		thresholdProposed = true
	}
	return recs, nil
}
