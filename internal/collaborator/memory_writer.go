package collaborator

import "github.com/sawpanic/cryptorun-bars/internal/domain"

// MemoryWriter is a reference FeatureStoreWriter used by tests: it buffers
// by count only (no timer) and de-duplicates on (product_id,
// end_timestamp_unix), keeping the last write for a given key — matching
// "idempotent upsert" semantics without a real store behind it.
type MemoryWriter struct {
	bufferSize int
	order      []string
	byKey      map[string]domain.Bar
	Upserts    []domain.Bar
}

// NewMemoryWriter builds a writer that flushes once bufferSize distinct
// keys are buffered.
func NewMemoryWriter(bufferSize int) *MemoryWriter {
	return &MemoryWriter{
		bufferSize: bufferSize,
		byKey:      make(map[string]domain.Bar),
	}
}

func key(bar domain.Bar) string {
	return bar.ProductID + "|" + bar.EndTime.UTC().Format("2006-01-02T15:04:05.000Z")
}

// Write implements FeatureStoreWriter.
func (w *MemoryWriter) Write(bar domain.Bar) []domain.Bar {
	k := key(bar)
	if _, exists := w.byKey[k]; !exists {
		w.order = append(w.order, k)
	}
	w.byKey[k] = bar

	if len(w.order) >= w.bufferSize {
		return w.Flush()
	}
	return nil
}

// Flush implements FeatureStoreWriter.
func (w *MemoryWriter) Flush() []domain.Bar {
	if len(w.order) == 0 {
		return nil
	}
	batch := make([]domain.Bar, 0, len(w.order))
	for _, k := range w.order {
		batch = append(batch, w.byKey[k])
	}
	w.Upserts = append(w.Upserts, batch...)
	w.order = nil
	w.byKey = make(map[string]domain.Bar)
	return batch
}

var _ FeatureStoreWriter = (*MemoryWriter)(nil)
