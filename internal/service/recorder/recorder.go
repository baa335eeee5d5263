package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/splax/timelogger/internal/domain"
	"github.com/splax/timelogger/internal/repository"
	"github.com/splax/timelogger/internal/ws"
)

const (
	defaultMaxBufferSize      = 10000
	defaultBatchSize          = 100
	defaultSlowWriteThreshold = time.Second
)

// StreamTopic is the hub topic status events are broadcast on.
const StreamTopic = "status"

// Config controls buffering and flush behaviour. Non-positive values fall
// back to the defaults.
type Config struct {
	MaxBufferSize      int
	BatchSize          int
	SlowWriteThreshold time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxBufferSize <= 0 {
		c.MaxBufferSize = defaultMaxBufferSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.SlowWriteThreshold <= 0 {
		c.SlowWriteThreshold = defaultSlowWriteThreshold
	}
	return c
}

// Service buffers capture instants and drains them to the store in batches.
// The buffer and the availability flag are safe for concurrent use; drains
// are single-flight so two attempts can never extract overlapping records.
type Service struct {
	repo    repository.TimeRecordRepository
	logger  *slog.Logger
	hub     *ws.Hub
	metrics *Metrics
	cfg     Config
	buffer  *timeBuffer

	dbAvailable atomic.Bool
	dropped     atomic.Int64
	written     atomic.Int64
	flushing    atomic.Bool
}

// New constructs a recorder service.
func New(repo repository.TimeRecordRepository, hub *ws.Hub, metrics *Metrics, logger *slog.Logger, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	s := &Service{
		repo:    repo,
		logger:  logger.With("component", "recorder"),
		hub:     hub,
		metrics: metrics,
		cfg:     cfg,
		buffer:  newTimeBuffer(cfg.MaxBufferSize),
	}
	s.dbAvailable.Store(true)
	return s
}

// Capture appends an instant to the buffer, evicting the oldest pending
// record when the buffer is full. It never blocks and never fails.
func (s *Service) Capture(instant time.Time) {
	evicted, dropped := s.buffer.append(instant)
	if dropped {
		s.dropped.Add(1)
		if s.metrics != nil {
			s.metrics.recordsDropped.Inc()
		}
		s.logger.Warn("buffer full, dropped oldest record",
			"max_buffer_size", s.cfg.MaxBufferSize, "evicted", evicted)
		s.broadcast(streamEvent{Type: "dropped", BufferSize: s.buffer.size(), DBAvailable: s.dbAvailable.Load()})
	}
}

// Flush drains at most one batch from the buffer into the store. It returns
// the number of records written, zero when the buffer was empty. On a store
// failure the batch is restored to the head of the buffer in original order
// and the store is marked unavailable.
func (s *Service) Flush(ctx context.Context) (int, error) {
	batch := s.buffer.extractBatch(s.cfg.BatchSize)
	if len(batch) == 0 {
		return 0, nil
	}

	start := time.Now()
	err := s.repo.InsertTimeRecords(ctx, batch)
	elapsed := time.Since(start)
	if s.metrics != nil {
		s.metrics.writeDuration.Observe(elapsed.Seconds())
	}
	if elapsed > s.cfg.SlowWriteThreshold {
		if s.metrics != nil {
			s.metrics.slowWrites.Inc()
		}
		s.logger.Warn("slow database write",
			"duration_ms", elapsed.Milliseconds(), "batch", len(batch), "buffer_size", s.buffer.size())
	}

	if err != nil {
		s.buffer.prependBatch(batch)
		s.markUnavailable()
		s.logger.Warn("write failed, batch returned to buffer", "batch", len(batch), "error", err)
		s.broadcast(streamEvent{Type: "flush_error", BufferSize: s.buffer.size(), DBAvailable: false})
		return 0, fmt.Errorf("%w: %v", repository.ErrUnavailable, err)
	}

	s.written.Add(int64(len(batch)))
	if s.metrics != nil {
		s.metrics.recordsWritten.Add(float64(len(batch)))
	}
	s.markAvailable("write succeeded")
	s.logger.Debug("batch written", "count", len(batch), "duration_ms", elapsed.Milliseconds())
	s.broadcast(streamEvent{Type: "flush", Written: len(batch), BufferSize: s.buffer.size(), DBAvailable: true})
	return len(batch), nil
}

// FlushAsync dispatches a drain on a fresh goroutine so the caller's cadence
// is never stalled by a slow store. A tick arriving while a drain is still in
// flight is skipped. The outcome is observable only through the availability
// flag and the counters.
func (s *Service) FlushAsync(ctx context.Context) {
	if !s.flushing.CompareAndSwap(false, true) {
		return
	}
	// A drain already started is allowed to finish even if the trigger's
	// context is torn down.
	flushCtx := context.WithoutCancel(ctx)
	go func() {
		defer s.flushing.Store(false)
		if _, err := s.Flush(flushCtx); err != nil {
			s.logger.Error("async flush failed", "error", err)
		}
	}()
}

// Probe issues a lightweight read against the store. A success while the
// store was considered unavailable flips it back to available; a failure
// changes nothing so a single flaky probe cannot mask sporadic health.
func (s *Service) Probe(ctx context.Context) error {
	if _, err := s.repo.CountTimeRecords(ctx); err != nil {
		s.logger.Warn("reconnect probe failed", "error", err)
		return fmt.Errorf("%w: %v", repository.ErrUnavailable, err)
	}
	s.markAvailable("probe succeeded")
	return nil
}

// List returns one page of persisted records. It fails fast while the store
// is unavailable.
func (s *Service) List(ctx context.Context, page, size int) ([]domain.TimeRecord, bool, error) {
	if !s.dbAvailable.Load() {
		return nil, false, repository.ErrUnavailable
	}
	records, hasNext, err := s.repo.ListTimeRecords(ctx, page, size)
	if err != nil {
		s.markUnavailable()
		s.logger.Error("failed to read records", "error", err)
		return nil, false, fmt.Errorf("%w: %v", repository.ErrUnavailable, err)
	}
	return records, hasNext, nil
}

// Count returns the number of persisted records, failing fast while the
// store is unavailable.
func (s *Service) Count(ctx context.Context) (int64, error) {
	if !s.dbAvailable.Load() {
		return 0, repository.ErrUnavailable
	}
	count, err := s.repo.CountTimeRecords(ctx)
	if err != nil {
		s.markUnavailable()
		s.logger.Error("failed to count records", "error", err)
		return 0, fmt.Errorf("%w: %v", repository.ErrUnavailable, err)
	}
	return count, nil
}

// Status assembles a snapshot of the subsystem. The store count is best
// effort: while unavailable, or when the count fails, TotalRecords degrades
// to -1 and the snapshot is still returned.
func (s *Service) Status(ctx context.Context) domain.StatusSnapshot {
	total := int64(-1)
	if s.dbAvailable.Load() {
		count, err := s.repo.CountTimeRecords(ctx)
		if err != nil {
			s.markUnavailable()
			s.logger.Warn("status count degraded", "error", err)
		} else {
			total = count
		}
	}
	return domain.StatusSnapshot{
		BufferSize:     s.buffer.size(),
		MaxBufferSize:  s.cfg.MaxBufferSize,
		DBAvailable:    s.dbAvailable.Load(),
		TotalRecords:   total,
		DroppedRecords: s.dropped.Load(),
	}
}

// Shutdown drains the buffer batch by batch until it empties or a write
// fails, whichever comes first. It returns the number of records saved and
// the number left behind.
func (s *Service) Shutdown(ctx context.Context) (saved, remaining int) {
	pending := s.buffer.size()
	if pending == 0 {
		s.logger.Info("shutdown: buffer empty, nothing to save")
		return 0, 0
	}

	s.logger.Info("shutdown: draining buffer", "pending", pending)
	for s.buffer.size() > 0 {
		n, err := s.Flush(ctx)
		if err != nil {
			s.logger.Error("shutdown drain aborted", "error", err)
			break
		}
		saved += n
	}
	remaining = s.buffer.size()
	s.logger.Info("shutdown complete", "saved", saved, "remaining", remaining)
	return saved, remaining
}

// BufferSize reports the number of records pending in the buffer.
func (s *Service) BufferSize() int { return s.buffer.size() }

// MaxBufferSize reports the configured buffer capacity.
func (s *Service) MaxBufferSize() int { return s.cfg.MaxBufferSize }

// DatabaseAvailable reports the last observed store health.
func (s *Service) DatabaseAvailable() bool { return s.dbAvailable.Load() }

// Written reports the number of records persisted since startup.
func (s *Service) Written() int64 { return s.written.Load() }

// Dropped reports the number of records evicted since startup.
func (s *Service) Dropped() int64 { return s.dropped.Load() }

// Hub returns the status stream hub (useful for HTTP handlers).
func (s *Service) Hub() *ws.Hub { return s.hub }

func (s *Service) markUnavailable() {
	if s.dbAvailable.CompareAndSwap(true, false) {
		s.logger.Warn("database marked unavailable")
		s.broadcast(streamEvent{Type: "availability", BufferSize: s.buffer.size(), DBAvailable: false})
	}
}

func (s *Service) markAvailable(reason string) {
	if s.dbAvailable.CompareAndSwap(false, true) {
		s.logger.Info("database connection restored", "reason", reason, "buffer_size", s.buffer.size())
		s.broadcast(streamEvent{Type: "availability", BufferSize: s.buffer.size(), DBAvailable: true})
	}
}

// streamEvent is the payload pushed to status stream subscribers.
type streamEvent struct {
	Type        string `json:"type"`
	Written     int    `json:"written,omitempty"`
	BufferSize  int    `json:"bufferSize"`
	DBAvailable bool   `json:"dbAvailable"`
}

func (s *Service) broadcast(event streamEvent) {
	if s.hub == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("failed to marshal stream event", "error", err)
		return
	}
	s.hub.Broadcast(StreamTopic, payload)
}
