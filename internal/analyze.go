package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/starford/coherence/internal/ingest"
	"github.com/starford/coherence/internal/models"
	"github.com/starford/coherence/internal/monitor"
)

// Report is the offline analysis result.
type Report struct {
	Records    int                        `json:"records"`
	Rejected   int                        `json:"rejected"`
	Signals    []models.CoherenceSignal   `json:"signals"`
	Events     []models.CoherenceEvent    `json:"events"`
	Boundaries []models.CoherenceBoundary `json:"boundaries"`
	Errors     []string                   `json:"errors,omitempty"`
}

// Analyze runs the record files through a fresh in-memory monitor, flushes
// the last window and writes a JSON report to out. Nothing is persisted.
func Analyze(ctx context.Context, files []string, out io.Writer, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	logger := app.newLogger()

	var records []models.Record
	for _, name := range files {
		data, err := os.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		parsed, err := ingest.ParseFile(name, data)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		logger.Debug("records loaded", slog.String("file", name), slog.Int("records", len(parsed)))
		records = append(records, parsed...)
	}

	svc, err := monitor.NewService(app.config.Coherence, monitor.WithLogger(logger))
	if err != nil {
		return err
	}
	res, err := svc.Ingest(ctx, records)
	if err != nil {
		return err
	}
	if _, _, err := svc.Flush(ctx); err != nil {
		return err
	}

	report := Report{
		Records:    res.Accepted,
		Rejected:   res.Rejected,
		Signals:    svc.Signals(),
		Events:     svc.Events(app.config.Coherence.Detection.DefaultThreshold),
		Boundaries: svc.Boundaries(),
		Errors:     res.Errors,
	}
	if report.Signals == nil {
		report.Signals = []models.CoherenceSignal{}
	}
	if report.Events == nil {
		report.Events = []models.CoherenceEvent{}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
