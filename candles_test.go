// FILE: candles_test.go
package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandleBufferDedup(t *testing.T) {
	b := NewCandleBuffer(time.Hour, 500, 100)
	start := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	c := Candle{Symbol: "BTCUSDT", Start: start, Close: 100, Closed: true}
	require.True(t, b.Ingest(c))
	require.False(t, b.Ingest(c), "exact duplicate must be a no-op")

	// Same floored slot with a slightly different timestamp is still a dup.
	c.Start = start.Add(5 * time.Minute)
	require.False(t, b.Ingest(c))

	assert.Equal(t, 1, b.Len("BTCUSDT"))
}

func TestCandleBufferPartialBars(t *testing.T) {
	b := NewCandleBuffer(time.Hour, 500, 100)
	start := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	partial := Candle{Symbol: "BTCUSDT", Start: start, Close: 99, Closed: false}
	require.False(t, b.Ingest(partial))
	assert.Equal(t, 0, b.Len("BTCUSDT"), "partial bars never enter the series")
	require.NotNil(t, b.Partial("BTCUSDT"))
	assert.Equal(t, 99.0, b.Partial("BTCUSDT").Close)

	closed := partial
	closed.Close = 100
	closed.Closed = true
	require.True(t, b.Ingest(closed))
	assert.Nil(t, b.Partial("BTCUSDT"), "closed bar supersedes the partial slot")
	assert.Equal(t, 100.0, b.LastClose("BTCUSDT"))
}

func TestCandleBufferTrim(t *testing.T) {
	b := NewCandleBuffer(time.Hour, 5, 100)
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 8; i++ {
		b.Ingest(Candle{
			Symbol: "ETHUSDT",
			Start:  start.Add(time.Duration(i) * time.Hour),
			Close:  float64(i),
			Closed: true,
		})
	}
	bars := b.Bars("ETHUSDT")
	require.Len(t, bars, 5)
	assert.Equal(t, 3.0, bars[0].Close, "oldest bars trimmed first")
	assert.Equal(t, 7.0, bars[4].Close)
}

func TestCandleBufferDedupWindowEviction(t *testing.T) {
	b := NewCandleBuffer(time.Hour, 500, 3)
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		require.True(t, b.Ingest(Candle{
			Symbol: "BTCUSDT",
			Start:  start.Add(time.Duration(i) * time.Hour),
			Closed: true,
		}))
	}
	// The oldest key fell out of the dedup window, so its replay is treated
	// as new again; the window bounds memory, not correctness of recent bars.
	assert.True(t, b.Ingest(Candle{Symbol: "BTCUSDT", Start: start, Closed: true}))
	// A recent key is still remembered.
	assert.False(t, b.Ingest(Candle{Symbol: "BTCUSDT", Start: start.Add(3 * time.Hour), Closed: true}))
}
