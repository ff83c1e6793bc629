package collaborator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/cryptorun-bars/internal/domain"
)

func mkBar(productID string, endTime time.Time) domain.Bar {
	return domain.Bar{ProductID: productID, Kind: domain.BarKindVolume, EndTime: endTime}
}

func TestWriteFlushesAtBufferSize(t *testing.T) {
	w := NewMemoryWriter(2)
	ts := time.Now()

	flushed := w.Write(mkBar("BTC-USD", ts))
	assert.Nil(t, flushed)

	flushed = w.Write(mkBar("ETH-USD", ts))
	require.Len(t, flushed, 2)
	assert.Len(t, w.Upserts, 2)
}

func TestWriteDeduplicatesByProductAndEndTime(t *testing.T) {
	w := NewMemoryWriter(10)
	ts := time.Now()

	bar := mkBar("BTC-USD", ts)
	w.Write(bar)

	updated := bar
	updated.Close = 999
	w.Write(updated)

	flushed := w.Flush()
	require.Len(t, flushed, 1)
	assert.Equal(t, 999.0, flushed[0].Close)
}

func TestFlushOnEmptyBufferReturnsNil(t *testing.T) {
	w := NewMemoryWriter(5)
	assert.Nil(t, w.Flush())
}
