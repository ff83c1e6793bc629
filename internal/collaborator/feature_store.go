// Package collaborator models the feature-store writer the bars topic
// feeds into: an in-memory reference implementation for tests and a
// Postgres-backed one for a real deployment, both buffering and
// idempotently upserting on (product_id, end_timestamp_unix).
package collaborator

import "github.com/sawpanic/cryptorun-bars/internal/domain"

// FeatureStoreWriter consumes the bars topic, buffering up to a configured
// count or time window before flushing an idempotent upsert batch keyed on
// (product_id, end_timestamp_unix) (spec.md §6).
type FeatureStoreWriter interface {
	// Write buffers one bar. It returns a non-nil flushed slice when the
	// buffer reached its count threshold and was flushed as a side effect.
	Write(bar domain.Bar) (flushed []domain.Bar)

	// Flush forces a flush of whatever is currently buffered, e.g. on a
	// save_every_n_sec timer or on shutdown drain.
	Flush() []domain.Bar
}
