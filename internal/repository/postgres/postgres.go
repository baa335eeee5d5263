package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/timelogger/internal/domain"
	"github.com/splax/timelogger/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var _ repository.TimeRecordRepository = (*Repository)(nil)

// InsertTimeRecords persists a batch of capture instants in a single round trip.
func (r *Repository) InsertTimeRecords(ctx context.Context, recordedAt []time.Time) error {
	if len(recordedAt) == 0 {
		return nil
	}
	const query = `INSERT INTO time_records (recorded_at) VALUES ($1)`
	batch := &pgx.Batch{}
	for _, instant := range recordedAt {
		batch.Queue(query, instant)
	}
	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range recordedAt {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// CountTimeRecords returns the number of persisted records.
func (r *Repository) CountTimeRecords(ctx context.Context) (int64, error) {
	const query = `SELECT COUNT(1) FROM time_records`
	row := r.pool.QueryRow(ctx, query)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ListTimeRecords fetches one page of records in insertion order. It reads one
// row beyond the requested size to learn whether a further page exists.
func (r *Repository) ListTimeRecords(ctx context.Context, page, size int) ([]domain.TimeRecord, bool, error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = 20
	}
	const query = `SELECT id, recorded_at FROM time_records ORDER BY id LIMIT $1 OFFSET $2`
	rows, err := r.pool.Query(ctx, query, size+1, page*size)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var records []domain.TimeRecord
	for rows.Next() {
		var rec domain.TimeRecord
		if err := rows.Scan(&rec.ID, &rec.RecordedAt); err != nil {
			return nil, false, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	hasNext := len(records) > size
	if hasNext {
		records = records[:size]
	}
	return records, hasNext, nil
}
