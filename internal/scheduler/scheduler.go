package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/splax/timelogger/internal/service/recorder"
)

const (
	defaultCaptureInterval   = time.Second
	defaultFlushInterval     = time.Second
	defaultReconnectInterval = 5 * time.Second
)

// Scheduler drives the recorder on fixed cadences: capture a timestamp,
// trigger an asynchronous flush, and probe the store while it is down.
type Scheduler struct {
	recorder  *recorder.Service
	logger    *slog.Logger
	capture   time.Duration
	flush     time.Duration
	reconnect time.Duration
	now       func() time.Time
}

// New constructs a Scheduler with sane defaults for non-positive intervals.
func New(svc *recorder.Service, logger *slog.Logger, capture, flush, reconnect time.Duration) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if capture <= 0 {
		capture = defaultCaptureInterval
	}
	if flush <= 0 {
		flush = defaultFlushInterval
	}
	if reconnect <= 0 {
		reconnect = defaultReconnectInterval
	}
	return &Scheduler{
		recorder:  svc,
		logger:    logger.With("component", "scheduler"),
		capture:   capture,
		flush:     flush,
		reconnect: reconnect,
		now:       time.Now,
	}
}

// Run blocks until the context is cancelled, firing the periodic triggers.
// The final buffer drain is the caller's responsibility once Run returns.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started",
		"capture_interval", s.capture, "flush_interval", s.flush, "reconnect_interval", s.reconnect)

	captureTicker := time.NewTicker(s.capture)
	defer captureTicker.Stop()
	flushTicker := time.NewTicker(s.flush)
	defer flushTicker.Stop()
	reconnectTicker := time.NewTicker(s.reconnect)
	defer reconnectTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-captureTicker.C:
			s.recorder.Capture(s.now())
		case <-flushTicker.C:
			s.recorder.FlushAsync(ctx)
		case <-reconnectTicker.C:
			s.checkReconnect(ctx)
		}
	}
}

func (s *Scheduler) checkReconnect(ctx context.Context) {
	if s.recorder.DatabaseAvailable() {
		return
	}
	s.logger.Warn("database unavailable, probing for recovery")
	if err := s.recorder.Probe(ctx); err != nil {
		return
	}
	s.logger.Info("database connection recovered", "buffer_size", s.recorder.BufferSize())
}
