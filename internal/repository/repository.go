package repository

import (
	"context"
	"time"

	"github.com/splax/timelogger/internal/domain"
)

// TimeRecordRepository persists captured timestamps.
type TimeRecordRepository interface {
	// InsertTimeRecords writes a batch of capture instants in one round trip.
	InsertTimeRecords(ctx context.Context, recordedAt []time.Time) error
	// CountTimeRecords returns the number of persisted records. It doubles as
	// the reconnect probe because it is cheap and side-effect free.
	CountTimeRecords(ctx context.Context) (int64, error)
	// ListTimeRecords returns one page of records in insertion order together
	// with a flag indicating whether another page exists.
	ListTimeRecords(ctx context.Context, page, size int) ([]domain.TimeRecord, bool, error)
}
