// Package importer feeds batch shipment reports through the same ingest
// path as webhooks: a CSV adapter with strict structural validation and
// an S3 drop-bucket poller.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ignite/shipment-monitor/internal/domain"
	"github.com/ignite/shipment-monitor/internal/eventlog"
	"github.com/ignite/shipment-monitor/internal/pkg/logger"
)

// ErrBadStructure rejects a whole batch whose column set does not match
// the required layout exactly.
var ErrBadStructure = errors.New("batch structure mismatch")

// The exact column set a batch file must carry. Order does not matter;
// missing or extra columns reject the whole file.
var requiredColumns = []string{
	"fecha",
	"telefono",
	"numero_guia",
	"estado",
	"ciudad_destino",
	"transportadora",
	"novedad",
	"fecha_ultimo_movimiento",
	"descripcion_ultimo_movimiento",
	"fecha_generacion_guia",
}

// Ingestor is the slice of the event log the importer needs.
type Ingestor interface {
	Ingest(ctx context.Context, raw eventlog.RawEvent) (eventlog.IngestResult, error)
}

// Summary counts one imported batch.
type Summary struct {
	Rows       int `json:"rows"`
	Created    int `json:"created"`
	Duplicates int `json:"duplicates"`
	Rejected   int `json:"rejected"`
}

// Importer parses batch CSV files and feeds rows through event ingestion.
type Importer struct {
	ingest Ingestor
}

// New creates a batch importer.
func New(ingest Ingestor) *Importer {
	return &Importer{ingest: ingest}
}

// ImportCSV validates the file structure and ingests every row. A
// structural mismatch rejects the whole batch before any row is read;
// individual bad rows only bump the rejected count.
func (im *Importer) ImportCSV(ctx context.Context, r io.Reader) (Summary, error) {
	var summary Summary

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return summary, fmt.Errorf("read batch header: %w", err)
	}

	cols, err := validateHeader(header)
	if err != nil {
		return summary, err
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// malformed row, not a malformed batch
			summary.Rows++
			summary.Rejected++
			continue
		}
		summary.Rows++

		raw, err := rowToEvent(cols, record)
		if err != nil {
			logger.Warn("batch row rejected", "row", summary.Rows, "reason", err.Error())
			summary.Rejected++
			continue
		}

		result, err := im.ingest.Ingest(ctx, raw)
		if err != nil {
			return summary, fmt.Errorf("ingest row %d: %w", summary.Rows, err)
		}
		switch result.Status {
		case eventlog.IngestAccepted:
			summary.Created++
		case eventlog.IngestDuplicate:
			summary.Duplicates++
		default:
			summary.Rejected++
		}
	}

	logger.Info("batch import complete",
		"rows", summary.Rows,
		"created", summary.Created,
		"duplicates", summary.Duplicates,
		"rejected", summary.Rejected)
	return summary, nil
}

// validateHeader checks the exact required column set and returns a
// name-to-index map.
func validateHeader(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}

	var missing []string
	for _, want := range requiredColumns {
		if _, ok := cols[want]; !ok {
			missing = append(missing, want)
		}
	}
	var extra []string
	if len(cols) != len(requiredColumns) || len(missing) > 0 {
		wanted := make(map[string]bool, len(requiredColumns))
		for _, w := range requiredColumns {
			wanted[w] = true
		}
		for name := range cols {
			if !wanted[name] {
				extra = append(extra, name)
			}
		}
		return nil, fmt.Errorf("%w: missing %v, unexpected %v", ErrBadStructure, missing, extra)
	}
	return cols, nil
}

func rowToEvent(cols map[string]int, record []string) (eventlog.RawEvent, error) {
	get := func(name string) string {
		i := cols[name]
		if i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	guide := get("numero_guia")
	if guide == "" {
		return eventlog.RawEvent{}, errors.New("empty guide number")
	}

	occurredAt, err := parseDate(get("fecha"))
	if err != nil {
		return eventlog.RawEvent{}, fmt.Errorf("bad fecha: %w", err)
	}
	lastMovement, err := parseDate(get("fecha_ultimo_movimiento"))
	if err != nil {
		// fall back to the report date when the movement date is absent
		lastMovement = occurredAt
	}

	novelty := get("novedad")
	if desc := get("descripcion_ultimo_movimiento"); desc != "" && novelty == "" {
		novelty = desc
	}

	return eventlog.RawEvent{
		GuideNumber:    guide,
		Carrier:        get("transportadora"),
		RawStatus:      get("estado"),
		City:           get("ciudad_destino"),
		Novelty:        novelty,
		Phone:          get("telefono"),
		LastMovementAt: lastMovement,
		OccurredAt:     occurredAt,
		Source:         domain.SourceExcel,
	}, nil
}

// parseDate accepts the formats batch files arrive with.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	for _, layout := range []string{
		"2006-01-02 15:04:05",
		"2006-01-02",
		"02/01/2006 15:04",
		"02/01/2006",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}
