// FILE: engine_test.go
package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSchema = FeatureSchema{Version: 1, Fields: []string{"close"}}

func testEngineConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	cfg := defaultConfig()
	cfg.Trading.Symbols = []string{"BTCUSDT"}
	cfg.Trading.WarmupBars = 3
	cfg.Risk = testRiskConfig()
	cfg.Model.ConfidenceThreshold = 0.60
	cfg.Model.TrainingQueuePath = filepath.Join(dir, "queue.json")
	cfg.Operations.StateFilePath = filepath.Join(dir, "state.json")
	cfg.Operations.StatusFilePath = filepath.Join(dir, "status.json")
	cfg.Logging.TradeLogPath = filepath.Join(dir, "trades")
	return cfg
}

func testCollaborators(confidence float64) Collaborators {
	feats := &Features{
		Close:      100,
		Volatility: 0,
		Vector:     FeatureVector{SchemaVersion: 1, Values: []float64{100}},
	}
	return Collaborators{
		Features: fakeFeatures{feats: feats},
		Signals:  fakeSignals{sig: PrimarySignal{Direction: DirLong, Strength: 0.8}},
		Regime:   fakeRegime{allowed: true, mult: 1},
		Predictor: &fakePredictor{
			confidence: confidence,
			covered:    map[string]struct{}{"BTCUSDT": {}},
			schema:     testSchema,
		},
		History: fakeHistory{},
	}
}

func startedEngine(t *testing.T, ex *fakeExchange, confidence float64) *Engine {
	t.Helper()
	e := NewEngine(testEngineConfig(t), ex, testCollaborators(confidence), testLogger())
	require.NoError(t, e.startup(context.Background()))
	return e
}

func feedBars(e *Engine, n int, start time.Time) {
	for i := 0; i < n; i++ {
		e.handleCandle(context.Background(), Candle{
			Symbol: "BTCUSDT",
			Start:  start.Add(time.Duration(i) * time.Hour),
			Close:  100,
			Closed: true,
		})
	}
}

func TestEngineDuplicateBarEvaluatesOnce(t *testing.T) {
	ex := newFakeExchange()
	e := startedEngine(t, ex, 0.9)
	start := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	feedBars(e, 3, start) // warmup satisfied on the third bar
	require.Len(t, ex.placed, 1, "qualifying bar opens one position")

	// Replaying the same bar is absorbed by dedup: no second evaluation, no
	// second order.
	e.handleCandle(context.Background(), Candle{
		Symbol: "BTCUSDT", Start: start.Add(2 * time.Hour), Close: 100, Closed: true,
	})
	assert.Len(t, ex.placed, 1)
}

func TestEngineAlreadyPositionedRejectsNextSignal(t *testing.T) {
	ex := newFakeExchange()
	e := startedEngine(t, ex, 0.9)
	start := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	feedBars(e, 4, start)
	assert.Len(t, ex.placed, 1, "second signal denied while positioned")
	assert.Equal(t, 0, e.queue.Depth(), "permanent denial drops the candidate")
}

func TestEngineBelowThresholdNotAdmitted(t *testing.T) {
	ex := newFakeExchange()
	e := startedEngine(t, ex, 0.5) // below the 0.60 bar

	feedBars(e, 3, time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC))
	assert.Empty(t, ex.placed)
	assert.Equal(t, 0, e.queue.Depth())
}

func TestEngineGuardPausedBlocksAdmission(t *testing.T) {
	ex := newFakeExchange()
	e := startedEngine(t, ex, 0.9)
	e.guard.Restore(GuardSnapshot{
		Status:     string(GuardPaused),
		WindowPnL:  []float64{-1, -1, -1, -1, -1},
		BaseEquity: 10000,
	})

	feedBars(e, 3, time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC))
	assert.Empty(t, ex.placed)
}

func TestEngineKillSwitchHaltsAdmissions(t *testing.T) {
	ex := newFakeExchange()
	e := startedEngine(t, ex, 0.9)

	// Equity collapse past the max drawdown halts new admissions on the
	// monitor tick, independent of guard state.
	ex.balance = Balance{TotalEquity: 8000, AvailableBalance: 8000}
	e.handleTick(context.Background())
	require.True(t, e.halted)

	feedBars(e, 3, time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC))
	assert.Empty(t, ex.placed)
}

func TestEngineStopLossCloseFeedsAccounting(t *testing.T) {
	ex := newFakeExchange()
	e := startedEngine(t, ex, 0.9)
	start := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	feedBars(e, 3, start)
	require.Len(t, ex.placed, 1)
	qty := ex.placed[0].Qty

	// Exchange shows the position trading through its stop.
	ex.positions = []ExchangePosition{{
		Symbol: "BTCUSDT", Side: SideBuy, Size: qty, EntryPrice: 100, MarkPrice: 98,
	}}
	e.handleTick(context.Background())

	assert.Equal(t, 0, e.reconciler.OpenCount())
	require.Len(t, ex.placed, 2, "reduce-only exit placed")
	assert.True(t, ex.placed[1].ReduceOnly)
	assert.InDelta(t, -2*qty, e.risk.DailyPnL(), 0.001)
}

func TestEngineUntradableSymbolNeverEvaluated(t *testing.T) {
	ex := newFakeExchange()
	cfg := testEngineConfig(t)
	cfg.Trading.Symbols = []string{"NEWUSDT"}
	collab := testCollaborators(0.9) // predictor covers only BTCUSDT
	e := NewEngine(cfg, ex, collab, testLogger())
	require.NoError(t, e.startup(context.Background()))

	for i := 0; i < 5; i++ {
		e.handleCandle(context.Background(), Candle{
			Symbol: "NEWUSDT",
			Start:  time.Date(2026, 8, 20, i, 0, 0, 0, time.UTC),
			Close:  100, Closed: true,
		})
	}
	assert.Empty(t, ex.placed)
}

func TestEngineSelectorGatedByPortfolioFlag(t *testing.T) {
	start := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	collab := testCollaborators(0.9)
	collab.Selector = fakeSelector{selected: map[string]bool{}} // selects nothing

	// Portfolio layer off: the wired selector is ignored.
	ex := newFakeExchange()
	e := NewEngine(testEngineConfig(t), ex, collab, testLogger())
	require.NoError(t, e.startup(context.Background()))
	feedBars(e, 3, start)
	assert.Len(t, ex.placed, 1)

	// Portfolio layer on: the same selector now blocks admission.
	cfg := testEngineConfig(t)
	cfg.Portfolio.Enabled = true
	ex2 := newFakeExchange()
	e2 := NewEngine(cfg, ex2, collab, testLogger())
	require.NoError(t, e2.startup(context.Background()))
	feedBars(e2, 3, start)
	assert.Empty(t, ex2.placed)
}

func TestEngineRetryableCandidateServedWhenSlotFrees(t *testing.T) {
	ex := newFakeExchange()
	cfg := testEngineConfig(t)
	cfg.Risk.MaxOpenPositions = 1
	cfg.Trading.Symbols = []string{"BTCUSDT", "ETHUSDT"}
	collab := testCollaborators(0.9)
	collab.Predictor.(*fakePredictor).covered["ETHUSDT"] = struct{}{}
	e := NewEngine(cfg, ex, collab, testLogger())
	require.NoError(t, e.startup(context.Background()))
	start := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	feedBars(e, 3, start)
	require.Len(t, ex.placed, 1, "single slot consumed by the first signal")

	// Second instrument qualifies but no slot is free; the candidate waits.
	for i := 0; i < 3; i++ {
		e.handleCandle(context.Background(), Candle{
			Symbol: "ETHUSDT", Start: start.Add(time.Duration(i) * time.Hour),
			Close: 100, Closed: true,
		})
	}
	assert.Len(t, ex.placed, 1)
	assert.Equal(t, 1, e.queue.Depth(), "candidate retained for the next drain")

	// The open position closes externally; the monitor tick frees the slot
	// and serves the queued candidate.
	ex.positions = nil
	e.handleTick(context.Background())
	assert.Len(t, ex.placed, 2)
	assert.Equal(t, "ETHUSDT", ex.placed[1].Symbol)
}
