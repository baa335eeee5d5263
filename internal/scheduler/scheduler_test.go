package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/splax/timelogger/internal/domain"
	"github.com/splax/timelogger/internal/service/recorder"
)

type recordingRepo struct {
	mu       sync.Mutex
	inserted int
	counts   int
}

func (r *recordingRepo) InsertTimeRecords(ctx context.Context, recordedAt []time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inserted += len(recordedAt)
	return nil
}

func (r *recordingRepo) CountTimeRecords(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts++
	return int64(r.inserted), nil
}

func (r *recordingRepo) ListTimeRecords(ctx context.Context, page, size int) ([]domain.TimeRecord, bool, error) {
	return nil, false, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewAppliesDefaultIntervals(t *testing.T) {
	svc := recorder.New(&recordingRepo{}, nil, nil, testLogger(), recorder.Config{})
	sched := New(svc, testLogger(), 0, -time.Second, 0)
	if sched.capture != defaultCaptureInterval {
		t.Fatalf("expected default capture interval, got %s", sched.capture)
	}
	if sched.flush != defaultFlushInterval {
		t.Fatalf("expected default flush interval, got %s", sched.flush)
	}
	if sched.reconnect != defaultReconnectInterval {
		t.Fatalf("expected default reconnect interval, got %s", sched.reconnect)
	}
}

func TestRunCapturesAndFlushes(t *testing.T) {
	repo := &recordingRepo{}
	svc := recorder.New(repo, nil, nil, testLogger(), recorder.Config{BatchSize: 10})
	sched := New(svc, testLogger(), 5*time.Millisecond, 5*time.Millisecond, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	sched.Run(ctx)

	// Everything captured is either persisted already or still pending.
	repo.mu.Lock()
	persisted := repo.inserted
	repo.mu.Unlock()
	if persisted == 0 {
		t.Fatalf("expected periodic flush to persist captured records")
	}
	if svc.Dropped() != 0 {
		t.Fatalf("expected no drops with a healthy store, got %d", svc.Dropped())
	}
}

func TestReconnectSkippedWhileAvailable(t *testing.T) {
	repo := &recordingRepo{}
	svc := recorder.New(repo, nil, nil, testLogger(), recorder.Config{})
	sched := New(svc, testLogger(), time.Minute, time.Minute, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	sched.Run(ctx)

	repo.mu.Lock()
	counts := repo.counts
	repo.mu.Unlock()
	if counts != 0 {
		t.Fatalf("probe must not run while the store is available, got %d probes", counts)
	}
}
