package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBarStateBeginIfEmpty(t *testing.T) {
	s := &BarState{ProductID: "BTC-USD"}
	assert.True(t, s.IsEmpty())

	ts := time.Now()
	assert.True(t, s.BeginIfEmpty(100, ts))
	assert.False(t, s.IsEmpty())
	assert.Equal(t, 100.0, s.Open)
	assert.Equal(t, 100.0, s.High)
	assert.Equal(t, 100.0, s.Low)
	assert.Equal(t, ts, s.StartTime)

	// A second call is a no-op once initialized.
	assert.False(t, s.BeginIfEmpty(50, ts.Add(time.Second)))
	assert.Equal(t, 100.0, s.Open)
}

func TestBarStateUpdateHighLow(t *testing.T) {
	s := &BarState{}
	s.BeginIfEmpty(100, time.Now())
	s.UpdateHighLow(105)
	s.UpdateHighLow(95)
	s.UpdateHighLow(102)

	assert.Equal(t, 105.0, s.High)
	assert.Equal(t, 95.0, s.Low)
}

func TestBarStateRecordRun(t *testing.T) {
	s := &BarState{}
	for _, side := range []Side{SideBuy, SideBuy, SideBuy, SideSell, SideSell, SideBuy} {
		s.RecordRun(side)
	}

	require := assert.New(t)
	require.Len(s.TradeSequences, 3)
	require.Equal(Run{Side: SideBuy, Count: 3}, s.TradeSequences[0])
	require.Equal(Run{Side: SideSell, Count: 2}, s.TradeSequences[1])
	require.Equal(Run{Side: SideBuy, Count: 1}, s.TradeSequences[2])
}

func TestBarStateReset(t *testing.T) {
	s := &BarState{ProductID: "BTC-USD"}
	s.BeginIfEmpty(100, time.Now())
	s.UpdateHighLow(110)
	s.TickCounter = 5

	s.Reset()

	assert.True(t, s.IsEmpty())
	assert.Equal(t, "BTC-USD", s.ProductID)
	assert.Equal(t, 0.0, s.Open)
	assert.Equal(t, 0, s.TickCounter)
}
