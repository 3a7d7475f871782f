// Package api exposes the HTTP surface: webhook ingestion, batch upload,
// dry-run simulation, calibration administration and health.
package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/shipment-monitor/internal/domain"
	"github.com/ignite/shipment-monitor/internal/eventlog"
	"github.com/ignite/shipment-monitor/internal/importer"
	"github.com/ignite/shipment-monitor/internal/outcome"
	"github.com/ignite/shipment-monitor/internal/pkg/httputil"
	"github.com/ignite/shipment-monitor/internal/protocol"
)

// Ingestor is the event log surface the webhook handler uses.
type Ingestor interface {
	Ingest(ctx context.Context, raw eventlog.RawEvent) (eventlog.IngestResult, error)
	State(ctx context.Context, guideNumber string) (*domain.GuideState, error)
}

// GuideLister feeds the dry-run endpoint the current active guides.
type GuideLister interface {
	ListActiveGuides(ctx context.Context, staleCutoff time.Time) ([]domain.GuideState, error)
}

// ReportSource reads persisted calibration reports.
type ReportSource interface {
	Report(ctx context.Context, date string) (*domain.CalibrationReport, error)
}

// Applier applies calibration recommendations.
type Applier interface {
	Apply(ctx context.Context, actor string, recs []domain.Recommendation) (outcome.ApplySummary, error)
}

// Handlers bundles the HTTP handlers and their dependencies.
type Handlers struct {
	ingest     Ingestor
	importer   *importer.Importer
	simulator  *protocol.Simulator
	guides     GuideLister
	reports    ReportSource
	calibrator Applier
	db         *sql.DB
	redis      *redis.Client
	staleGrace time.Duration
}

// NewHandlers wires the handler set.
func NewHandlers(ingest Ingestor, imp *importer.Importer, sim *protocol.Simulator,
	guides GuideLister, reports ReportSource, calibrator Applier,
	db *sql.DB, redisClient *redis.Client, staleGrace time.Duration) *Handlers {
	return &Handlers{
		ingest:     ingest,
		importer:   imp,
		simulator:  sim,
		guides:     guides,
		reports:    reports,
		calibrator: calibrator,
		db:         db,
		redis:      redisClient,
		staleGrace: staleGrace,
	}
}

// HealthCheck reports process and dependency liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	healthy := true

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			status["database"] = "unreachable"
			healthy = false
		} else {
			status["database"] = "ok"
		}
	}
	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			status["redis"] = "unreachable"
			healthy = false
		} else {
			status["redis"] = "ok"
			if last, err := h.redis.Get(ctx, importer.LastRunKey).Result(); err == nil {
				status["importer_last_run"] = last
			}
		}
	}

	if !healthy {
		status["status"] = "degraded"
		httputil.JSON(w, http.StatusServiceUnavailable, status)
		return
	}
	httputil.OK(w, status)
}

// IngestEvent accepts one webhook status event.
func (h *Handlers) IngestEvent(w http.ResponseWriter, r *http.Request) {
	var raw eventlog.RawEvent
	if !httputil.Decode(w, r, &raw) {
		return
	}
	if raw.Source == "" {
		raw.Source = domain.SourceWebhook
	}
	if raw.OccurredAt.IsZero() {
		raw.OccurredAt = time.Now().UTC()
	}

	result, err := h.ingest.Ingest(r.Context(), raw)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if result.Status == eventlog.IngestRejected {
		httputil.JSON(w, http.StatusUnprocessableEntity, result)
		return
	}
	httputil.OK(w, result)
}

// GetGuide returns the current state of one guide.
func (h *Handlers) GetGuide(w http.ResponseWriter, r *http.Request) {
	guide := chi.URLParam(r, "guideNumber")
	state, err := h.ingest.State(r.Context(), guide)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if state == nil {
		httputil.NotFound(w, "unknown guide")
		return
	}
	httputil.OK(w, state)
}

// ImportBatch accepts a CSV batch in the request body. A structural
// mismatch rejects the whole file with 422 and the column diff.
func (h *Handlers) ImportBatch(w http.ResponseWriter, r *http.Request) {
	summary, err := h.importer.ImportCSV(r.Context(), r.Body)
	if err != nil {
		if errors.Is(err, importer.ErrBadStructure) {
			httputil.JSON(w, http.StatusUnprocessableEntity, httputil.ErrorResponse{
				Error: err.Error(),
				Code:  "batch_structure_mismatch",
			})
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, summary)
}

// DryRun evaluates the protocols against current guides (or snapshots
// posted in the body) without writing any action.
func (h *Handlers) DryRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Snapshots []domain.GuideState `json:"snapshots"`
	}
	if r.ContentLength > 0 {
		if !httputil.Decode(w, r, &req) {
			return
		}
	}

	now := time.Now().UTC()
	snapshots := req.Snapshots
	if len(snapshots) == 0 {
		var err error
		snapshots, err = h.guides.ListActiveGuides(r.Context(), now.Add(-h.staleGrace))
		if err != nil {
			httputil.InternalError(w, err)
			return
		}
	}

	httputil.OK(w, h.simulator.Run(snapshots, now))
}

// GetCalibrationReport returns the persisted report for a date
// (YYYY-MM-DD).
func (h *Handlers) GetCalibrationReport(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if _, err := time.Parse("2006-01-02", date); err != nil {
		httputil.BadRequest(w, "date must be YYYY-MM-DD")
		return
	}
	report, err := h.reports.Report(r.Context(), date)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if report == nil {
		httputil.NotFound(w, "no report for date")
		return
	}
	httputil.OK(w, report)
}

// ApplyCalibration applies a report's recommendations. Admin gated; the
// actor is recorded on every audit row.
func (h *Handlers) ApplyCalibration(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date            string                  `json:"date"`
		Actor           string                  `json:"actor"`
		Recommendations []domain.Recommendation `json:"recommendations"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Actor == "" {
		httputil.BadRequest(w, "actor is required")
		return
	}

	recs := req.Recommendations
	if len(recs) == 0 {
		if req.Date == "" {
			httputil.BadRequest(w, "date or recommendations required")
			return
		}
		report, err := h.reports.Report(r.Context(), req.Date)
		if err != nil {
			httputil.InternalError(w, err)
			return
		}
		if report == nil {
			httputil.NotFound(w, "no report for date")
			return
		}
		recs = report.Recommendations
	}

	summary, err := h.calibrator.Apply(r.Context(), req.Actor, recs)
	if err != nil {
		if errors.Is(err, outcome.ErrCalibrationLocked) {
			httputil.Error(w, http.StatusConflict, "calibration already running")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, summary)
}
