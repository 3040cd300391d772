// FILE: candles.go
// Package main – Candle model and the per-instrument rolling bar buffer.
//
// The buffer is the only component allowed to decide whether an inbound bar
// is new: the feed may redeliver or reorder bars, and signal evaluation must
// run exactly once per closed bar. Dedup is keyed on the bar-start timestamp
// floored to the feed interval; the last N keys per instrument are remembered
// (oldest evicted first) so a late duplicate is a no-op.
//
// Non-closed (in-progress) bars never enter the series; they only refresh a
// "latest partial" slot kept for preview/telemetry.

package main

import (
	"time"
)

// Candle is one OHLCV bar for a single instrument.
type Candle struct {
	Symbol   string
	Start    time.Time // bar open time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	Turnover float64
	Closed   bool // true once the bar is finalized by the venue
}

// CandleBuffer holds a bounded, deduplicated bar history per instrument.
// Not safe for concurrent use; the engine serializes all access.
type CandleBuffer struct {
	interval    time.Duration
	maxBars     int
	dedupWindow int
	series      map[string]*candleSeries
}

type candleSeries struct {
	bars    []Candle
	partial *Candle
	seen    map[int64]struct{}
	keys    []int64 // FIFO of dedup keys, capped at dedupWindow
}

func NewCandleBuffer(interval time.Duration, maxBars, dedupWindow int) *CandleBuffer {
	if maxBars <= 0 {
		maxBars = 500
	}
	if dedupWindow <= 0 {
		dedupWindow = 100
	}
	return &CandleBuffer{
		interval:    interval,
		maxBars:     maxBars,
		dedupWindow: dedupWindow,
		series:      make(map[string]*candleSeries),
	}
}

// Ingest records a bar and reports whether it is a genuinely new closed bar
// (and therefore worth a signal evaluation). Duplicates and partial bars
// return false.
func (b *CandleBuffer) Ingest(c Candle) bool {
	s := b.series[c.Symbol]
	if s == nil {
		s = &candleSeries{seen: make(map[int64]struct{})}
		b.series[c.Symbol] = s
	}

	if !c.Closed {
		cp := c
		s.partial = &cp
		return false
	}

	key := c.Start.Truncate(b.interval).Unix()
	if _, dup := s.seen[key]; dup {
		return false
	}
	s.seen[key] = struct{}{}
	s.keys = append(s.keys, key)
	if len(s.keys) > b.dedupWindow {
		delete(s.seen, s.keys[0])
		s.keys = s.keys[1:]
	}

	s.bars = append(s.bars, c)
	if len(s.bars) > b.maxBars {
		s.bars = s.bars[len(s.bars)-b.maxBars:]
	}
	// A closed bar supersedes any partial for the same slot.
	if s.partial != nil && !s.partial.Start.After(c.Start) {
		s.partial = nil
	}
	return true
}

// Bars returns the closed-bar history for an instrument, oldest first.
// The returned slice is shared; callers must not mutate it.
func (b *CandleBuffer) Bars(symbol string) []Candle {
	if s := b.series[symbol]; s != nil {
		return s.bars
	}
	return nil
}

// Len reports the number of closed bars held for an instrument.
func (b *CandleBuffer) Len(symbol string) int { return len(b.Bars(symbol)) }

// Partial returns the latest in-progress bar, or nil. Preview only — never
// used for decisioning.
func (b *CandleBuffer) Partial(symbol string) *Candle {
	if s := b.series[symbol]; s != nil {
		return s.partial
	}
	return nil
}

// LastClose returns the most recent closed-bar close price, or 0 when the
// instrument has no history yet.
func (b *CandleBuffer) LastClose(symbol string) float64 {
	bars := b.Bars(symbol)
	if len(bars) == 0 {
		return 0
	}
	return bars[len(bars)-1].Close
}

// Symbols lists instruments with at least one closed bar.
func (b *CandleBuffer) Symbols() []string {
	out := make([]string, 0, len(b.series))
	for sym, s := range b.series {
		if len(s.bars) > 0 {
			out = append(out, sym)
		}
	}
	return out
}
