package collaborator

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/cryptorun-bars/internal/domain"
)

// PostgresWriter is a real FeatureStoreWriter backed by Postgres, grounded
// on the teacher's trades_repo.go: sqlx for the connection and batched
// exec, lib/pq surfaced so a unique-violation can be told apart from any
// other failure. Unlike trades_repo.go's plain insert, the upsert here is
// the point — spec.md §6 defines the feature store write as idempotent on
// (product_id, end_timestamp_unix), so a redelivered bar after an
// at-least-once replay must overwrite, not duplicate, the existing row.
type PostgresWriter struct {
	db         *sqlx.DB
	timeout    time.Duration
	bufferSize int
	buffer     []domain.Bar
}

// NewPostgresWriter wires an already-open *sqlx.DB (use sqlx.Connect("postgres", dsn)
// to build one) into a buffered upsert writer flushing every bufferSize bars.
func NewPostgresWriter(db *sqlx.DB, bufferSize int, timeout time.Duration) *PostgresWriter {
	return &PostgresWriter{db: db, bufferSize: bufferSize, timeout: timeout}
}

// Write implements FeatureStoreWriter.
func (w *PostgresWriter) Write(bar domain.Bar) []domain.Bar {
	w.buffer = append(w.buffer, bar)
	if len(w.buffer) >= w.bufferSize {
		return w.Flush()
	}
	return nil
}

// Flush upserts the buffered batch in one transaction and returns it.
// A flush error is discarded (FeatureStoreWriter has no error return,
// matching MemoryWriter's signature); the batch is returned either way.
func (w *PostgresWriter) Flush() []domain.Bar {
	batch := w.buffer
	w.buffer = nil
	if len(batch) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	_ = w.upsert(ctx, batch)
	return batch
}

func (w *PostgresWriter) upsert(ctx context.Context, batch []domain.Bar) error {
	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("feature store: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO bars (product_id, bar_type, open, high, low, close, volume, ticks, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (product_id, end_time) DO UPDATE SET
			open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
			close = EXCLUDED.close, volume = EXCLUDED.volume,
			ticks = EXCLUDED.ticks, start_time = EXCLUDED.start_time`)
	if err != nil {
		return fmt.Errorf("feature store: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, bar := range batch {
		_, err := stmt.ExecContext(ctx,
			bar.ProductID, string(bar.Kind), bar.Open, bar.High, bar.Low, bar.Close,
			bar.Volume, bar.Ticks, bar.StartTime, bar.EndTime)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok {
				return fmt.Errorf("feature store: upsert bar %s@%s: %s (%s): %w", bar.ProductID, bar.EndTime, pqErr.Message, pqErr.Code, err)
			}
			return fmt.Errorf("feature store: upsert bar %s@%s: %w", bar.ProductID, bar.EndTime, err)
		}
	}
	return tx.Commit()
}

var _ FeatureStoreWriter = (*PostgresWriter)(nil)
