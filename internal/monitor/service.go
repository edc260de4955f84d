// Package monitor coordinates the record log, the window controller and the
// coherence engine behind a single lock, and fans results out to subscribers.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/starford/coherence/internal/apperr"
	"github.com/starford/coherence/internal/coherence"
	"github.com/starford/coherence/internal/index"
	"github.com/starford/coherence/internal/ingest"
	"github.com/starford/coherence/internal/metrics"
	"github.com/starford/coherence/internal/models"
	"github.com/starford/coherence/internal/sse"
	"github.com/starford/coherence/internal/storage"
	"github.com/starford/coherence/internal/stream"
)

// maxReportedErrors caps the per-record messages returned from one ingest call.
const maxReportedErrors = 20

// Notifier receives computed signals and ingest notifications.
type Notifier interface {
	Publish(event sse.Event)
	PublishSignal(sig models.CoherenceSignal, events []models.CoherenceEvent)
}

// IngestResult summarises one ingest call.
type IngestResult struct {
	Accepted   int                      `json:"accepted"`
	Duplicates int                      `json:"duplicates"`
	Rejected   int                      `json:"rejected"`
	Signals    []models.CoherenceSignal `json:"signals"`
	Events     []models.CoherenceEvent  `json:"events"`
	Errors     []string                 `json:"errors,omitempty"`
}

func (r *IngestResult) reject(msg string) {
	r.Rejected++
	if len(r.Errors) < maxReportedErrors {
		r.Errors = append(r.Errors, msg)
	}
}

// Status describes the controller state.
type Status struct {
	State      string                 `json:"state"`
	Window     *models.TemporalWindow `json:"window"`
	Pending    int                    `json:"pending"`
	Signals    int                    `json:"signals"`
	Boundaries int                    `json:"boundaries"`
	Nodes      int                    `json:"nodes"`
	Edges      int                    `json:"edges"`
}

// Option configures a Service.
type Option func(*Service)

// WithRecordLog persists ingested records and deduplicates them.
func WithRecordLog(db index.RecordLog) Option {
	return func(s *Service) { s.db = db }
}

// WithStore enables batch file operations.
func WithStore(store storage.Provider) Option {
	return func(s *Service) { s.store = store }
}

// WithNotifier publishes signals and ingest notifications.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithMetrics records signal, event and record metrics.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Service) { s.metrics = c }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service serializes all access to one engine and its window controller.
type Service struct {
	mu     sync.Mutex
	engine *coherence.Engine
	ctrl   *stream.Controller

	db       index.RecordLog
	store    storage.Provider
	notifier Notifier
	metrics  *metrics.Collector
	logger   *slog.Logger
}

// NewService builds the engine and controller from cfg.
func NewService(cfg coherence.Config, opts ...Option) (*Service, error) {
	s := &Service{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	engineOpts := []coherence.Option{coherence.WithLogger(s.logger)}
	if s.metrics != nil {
		engineOpts = append(engineOpts, coherence.WithObserver(s.metrics))
	}
	engine, err := coherence.NewEngine(cfg, engineOpts...)
	if err != nil {
		return nil, err
	}
	s.engine = engine
	s.ctrl = stream.NewController(engine, stream.WithLogger(s.logger))
	return s, nil
}

// Config returns the engine configuration.
func (s *Service) Config() coherence.Config { return s.engine.Config() }

// Restore replays the record log through the controller. Nothing is
// published. It returns the number of replayed records.
func (s *Service) Restore(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	err := s.db.Replay(func(r models.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		n++
		_, err := s.ctrl.Process(ctx, r)
		if errors.Is(err, apperr.ErrOutOfOrderRecord) {
			return nil
		}
		return err
	})
	if err != nil {
		return n, fmt.Errorf("monitor: restore: %w", err)
	}
	s.logger.Info("history restored",
		slog.Int("records", n),
		slog.Int("signals", s.engine.SignalCount()))
	return n, nil
}

// Ingest validates records, drops duplicates and feeds the rest to the
// controller in timestamp order. Records the controller would reject as out
// of order are neither logged nor processed.
func (s *Service) Ingest(ctx context.Context, records []models.Record) (*IngestResult, error) {
	res := &IngestResult{Signals: []models.CoherenceSignal{}, Events: []models.CoherenceEvent{}}

	valid := make([]models.Record, 0, len(records))
	for i, r := range records {
		if err := ingest.Validate(r); err != nil {
			res.reject(fmt.Sprintf("record %d (%q): %v", i+1, r.ID, err))
			continue
		}
		valid = append(valid, r)
	}
	ingest.SortByTime(valid)

	s.mu.Lock()
	defer s.mu.Unlock()

	admitted := valid[:0]
	for _, r := range valid {
		if !s.ctrl.Accepts(r.Timestamp) {
			res.reject(fmt.Sprintf("record %q at %s: %v", r.ID, r.Timestamp, apperr.ErrOutOfOrderRecord))
			continue
		}
		admitted = append(admitted, r)
	}

	fresh := admitted
	if s.db != nil {
		var err error
		fresh, err = s.db.AppendRecords("", admitted)
		if err != nil {
			return nil, err
		}
	}
	res.Duplicates = len(admitted) - len(fresh)

	err := s.processLocked(ctx, fresh, res)
	s.observeRecords(res)
	if err != nil {
		return res, err
	}
	if s.notifier != nil && res.Accepted > 0 {
		s.notifier.Publish(sse.Event{Type: sse.TypeRecordsIngested, Data: map[string]int{
			"accepted":   res.Accepted,
			"duplicates": res.Duplicates,
			"rejected":   res.Rejected,
		}})
	}
	return res, nil
}

// HandleFileEvent processes records that a watcher found in a record file.
// It matches index.EventCallback.
func (s *Service) HandleFileEvent(kind, path string, records []models.Record) {
	s.mu.Lock()
	res := &IngestResult{}
	err := s.processLocked(context.Background(), records, res)
	s.observeRecords(res)
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("file ingest failed", slog.String("path", path), slog.String("error", err.Error()))
	}
	if res.Rejected > 0 {
		s.logger.Warn("file records rejected",
			slog.String("path", path),
			slog.Int("rejected", res.Rejected))
	}
	if s.notifier != nil {
		s.notifier.Publish(sse.Event{Type: sse.TypeFileIndexed, Data: map[string]any{
			"kind":     kind,
			"path":     path,
			"accepted": res.Accepted,
		}})
	}
}

// processLocked runs records through the controller. The caller holds s.mu.
func (s *Service) processLocked(ctx context.Context, records []models.Record, res *IngestResult) error {
	for _, r := range records {
		sig, err := s.ctrl.Process(ctx, r)
		if errors.Is(err, apperr.ErrOutOfOrderRecord) {
			res.reject(err.Error())
			continue
		}
		if err != nil {
			return fmt.Errorf("monitor: process %q: %w", r.ID, err)
		}
		res.Accepted++
		if sig != nil {
			res.Signals = append(res.Signals, *sig)
			res.Events = append(res.Events, s.emitLocked(*sig)...)
		}
	}
	return nil
}

// emitLocked detects the events introduced by the newest signal and
// publishes both.
func (s *Service) emitLocked(sig models.CoherenceSignal) []models.CoherenceEvent {
	threshold := s.engine.Config().Detection.DefaultThreshold
	events := s.engine.DetectEventsSince(threshold, s.engine.SignalCount()-1)
	if s.metrics != nil {
		s.metrics.ObserveEvents(events)
	}
	if s.notifier != nil {
		s.notifier.PublishSignal(sig, events)
	}
	for _, ev := range events {
		s.logger.Info("coherence event",
			slog.String("type", ev.Type.String()),
			slog.Float64("magnitude", ev.Magnitude),
			slog.Time("timestamp", ev.Timestamp))
	}
	return events
}

func (s *Service) observeRecords(res *IngestResult) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveRecords(metrics.OutcomeAccepted, res.Accepted)
	s.metrics.ObserveRecords(metrics.OutcomeDuplicate, res.Duplicates)
	s.metrics.ObserveRecords(metrics.OutcomeRejected, res.Rejected)
}

// Flush finalizes the open window.
func (s *Service) Flush(ctx context.Context) (*models.CoherenceSignal, []models.CoherenceEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, err := s.ctrl.Flush(ctx)
	if err != nil || sig == nil {
		return nil, nil, err
	}
	return sig, s.emitLocked(*sig), nil
}

// Signals returns the signal history.
func (s *Service) Signals() []models.CoherenceSignal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Signals()
}

// Latest returns the most recent signal or a not-found error.
func (s *Service) Latest() (models.CoherenceSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.engine.Latest()
	if !ok {
		return models.CoherenceSignal{}, apperr.E(apperr.KindNotFound, "monitor: latest", errors.New("no signals computed yet"))
	}
	return sig, nil
}

// Events re-runs event detection over the whole history.
func (s *Service) Events(threshold float64) []models.CoherenceEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.DetectEvents(threshold)
}

// Boundaries returns the tracked boundaries.
func (s *Service) Boundaries() []models.CoherenceBoundary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return nonNilSlice(s.engine.Boundaries())
}

// Status reports the controller state.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		State:      s.ctrl.State().String(),
		Pending:    s.ctrl.Pending(),
		Signals:    s.engine.SignalCount(),
		Boundaries: len(s.engine.Boundaries()),
		Nodes:      s.engine.NodeCount(),
		Edges:      s.engine.EdgeCount(),
	}
	if w, ok := s.ctrl.Window(); ok {
		st.Window = &w
	}
	return st
}

// SaveBatch validates a record file, writes it to the records directory and
// ingests its new records.
func (s *Service) SaveBatch(ctx context.Context, name string, data []byte) (*IngestResult, error) {
	const op = "monitor: save batch"
	if s.store == nil || s.db == nil {
		return nil, apperr.Errorf(apperr.KindConfiguration, op, "records directory not configured")
	}
	records, err := ingest.ParseFile(name, data)
	if err != nil {
		return nil, err
	}
	ingest.SortByTime(records)

	res := &IngestResult{Signals: []models.CoherenceSignal{}, Events: []models.CoherenceEvent{}}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(records) > 0 && !s.ctrl.Accepts(records[0].Timestamp) {
		return nil, apperr.Errorf(apperr.KindOutOfOrderRecord, op,
			"batch starts at %s, before the open window", records[0].Timestamp)
	}

	if err := s.store.Write(name, data); err != nil {
		return nil, err
	}
	fresh, err := index.IndexFile(s.db, name, data)
	if err != nil {
		return nil, err
	}
	res.Duplicates = len(records) - len(fresh)
	err = s.processLocked(ctx, fresh, res)
	s.observeRecords(res)
	return res, err
}

// ListBatches returns the indexed record files.
func (s *Service) ListBatches() ([]index.FileRow, error) {
	if s.db == nil {
		return []index.FileRow{}, nil
	}
	files, err := s.db.ListFiles()
	return nonNilSlice(files), err
}

// DeleteBatch removes a record file. Its records stay in the history.
func (s *Service) DeleteBatch(name string) error {
	if s.store == nil || s.db == nil {
		return apperr.Errorf(apperr.KindConfiguration, "monitor: delete batch", "records directory not configured")
	}
	if err := s.store.Delete(name); err != nil {
		return err
	}
	return s.db.DeleteFile(name)
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
