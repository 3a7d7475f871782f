package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ignite/shipment-monitor/internal/domain"
)

// CalibrationRepo persists live protocol parameters, daily reports and the
// calibration audit trail.
type CalibrationRepo struct{ db *sql.DB }

// NewCalibrationRepo creates a Postgres-backed calibration repository.
func NewCalibrationRepo(db *sql.DB) *CalibrationRepo { return &CalibrationRepo{db: db} }

// SeedParam inserts a parameter with its configured default unless it
// already exists; existing (possibly calibrated) values win.
func (r *CalibrationRepo) SeedParam(ctx context.Context, name string, hours float64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO protocol_params (name, hours) VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING
	`, name, hours)
	if err != nil {
		return fmt.Errorf("seed param %s: %w", name, err)
	}
	return nil
}

// Param returns the current value of a protocol parameter.
func (r *CalibrationRepo) Param(ctx context.Context, name string) (float64, error) {
	var hours float64
	err := r.db.QueryRowContext(ctx,
		`SELECT hours FROM protocol_params WHERE name = $1`, name).Scan(&hours)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("param %s: not seeded", name)
	}
	if err != nil {
		return 0, fmt.Errorf("param %s: %w", name, err)
	}
	return hours, nil
}

// SetParam updates a parameter value. Callers must have recorded the audit
// entry via InsertChange in the same calibration cycle.
func (r *CalibrationRepo) SetParam(ctx context.Context, name string, hours float64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE protocol_params SET hours = $2, updated_at = NOW() WHERE name = $1`, name, hours)
	if err != nil {
		return fmt.Errorf("set param %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set param %s: not seeded", name)
	}
	return nil
}

// InsertChange appends one audit row for an applied calibration change.
func (r *CalibrationRepo) InsertChange(ctx context.Context, c *domain.CalibrationChange) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO calibration_changes (actor, parameter, before_value, after_value, reason)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, applied_at
	`, c.Actor, c.Parameter, c.Before, c.After, c.Reason).Scan(&c.ID, &c.AppliedAt)
	if err != nil {
		return fmt.Errorf("insert calibration change: %w", err)
	}
	return nil
}

// LastChangeAt returns when the parameter was last touched, or nil.
// Drives the per-parameter cooldown.
func (r *CalibrationRepo) LastChangeAt(ctx context.Context, parameter string) (*time.Time, error) {
	var ts sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT MAX(applied_at) FROM calibration_changes WHERE parameter = $1
	`, parameter).Scan(&ts)
	if err != nil {
		return nil, fmt.Errorf("last change for %s: %w", parameter, err)
	}
	if !ts.Valid {
		return nil, nil
	}
	return &ts.Time, nil
}

// SaveReport upserts one daily report as JSON.
func (r *CalibrationRepo) SaveReport(ctx context.Context, report *domain.CalibrationReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO calibration_reports (date, report, total_sends, generated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (date) DO UPDATE SET
			report = EXCLUDED.report,
			total_sends = EXCLUDED.total_sends,
			generated_at = EXCLUDED.generated_at
	`, report.Date, data, report.TotalSends, report.GeneratedAt)
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

// Report loads the report for one date, or nil.
func (r *CalibrationRepo) Report(ctx context.Context, date string) (*domain.CalibrationReport, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT report FROM calibration_reports WHERE date = $1`, date).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	var report domain.CalibrationReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("unmarshal report: %w", err)
	}
	return &report, nil
}
