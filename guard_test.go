// FILE: guard_test.go
package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGuardConfig() GuardConfig {
	return GuardConfig{
		Enabled:              true,
		WindowTrades:         10,
		MinSampleTrades:      5,
		WinRateReduced:       0.40,
		WinRatePaused:        0.30,
		DrawdownReduced:      0.05,
		DrawdownPaused:       0.10,
		LosingStreakReduced:  5,
		LosingStreakPaused:   10,
		RecoveryWinRate:      0.45,
		RecoveryDrawdown:     0.05,
		ConfidenceAdjustment: 0.10,
	}
}

func trade(win bool, pnl float64) TradeOutcome {
	return TradeOutcome{Symbol: "BTCUSDT", PnL: pnl, Win: win}
}

func TestGuardStaysNormalBelowMinSample(t *testing.T) {
	g := NewPerformanceGuard(testGuardConfig(), testLogger())
	g.SetBaselineEquity(10000)

	for i := 0; i < 4; i++ {
		status, changed := g.RecordTrade(trade(false, -10))
		assert.Equal(t, GuardNormal, status)
		assert.False(t, changed)
	}
	assert.True(t, g.AllowTrade())
	assert.Equal(t, 1.0, g.SizeMultiplier())
}

func TestGuardEntersReducedOnWinRate(t *testing.T) {
	g := NewPerformanceGuard(testGuardConfig(), testLogger())
	g.SetBaselineEquity(100000) // large base keeps drawdown out of the picture

	// 2 wins, 4 losses: win rate 0.33, between paused (0.30) and reduced (0.40).
	g.RecordTrade(trade(true, 10))
	g.RecordTrade(trade(true, 10))
	g.RecordTrade(trade(false, -10))
	g.RecordTrade(trade(false, -10))
	g.RecordTrade(trade(false, -10))
	status, _ := g.RecordTrade(trade(false, -10))

	assert.Equal(t, GuardReduced, status)
	assert.True(t, g.AllowTrade())
	assert.Equal(t, 0.5, g.SizeMultiplier())
	assert.Equal(t, 0.10, g.ThresholdAdjustment())
}

func TestGuardPausesOnDrawdown(t *testing.T) {
	g := NewPerformanceGuard(testGuardConfig(), testLogger())
	g.SetBaselineEquity(1000)

	// Five losses of 25 each: 12.5% window drawdown, past the 10% pause bar.
	var status GuardStatus
	for i := 0; i < 5; i++ {
		status, _ = g.RecordTrade(trade(false, -25))
	}
	require.Equal(t, GuardPaused, status)
	assert.False(t, g.AllowTrade())
	assert.Equal(t, 0.0, g.SizeMultiplier())
	assert.Equal(t, 0.0, g.ThresholdAdjustment(), "paused blocks outright, no adjustment")
}

func TestGuardHysteresis(t *testing.T) {
	g := NewPerformanceGuard(testGuardConfig(), testLogger())
	g.SetBaselineEquity(100000)

	// Pause on win rate: 1 win, 4 losses = 0.20.
	g.RecordTrade(trade(true, 10))
	for i := 0; i < 4; i++ {
		g.RecordTrade(trade(false, -10))
	}
	require.Equal(t, GuardPaused, g.Status())

	// A favorable trade alone does not recover: win rate 2/6 = 0.33 < 0.45.
	status, changed := g.RecordTrade(trade(true, 50))
	assert.Equal(t, GuardPaused, status)
	assert.False(t, changed)
	assert.False(t, g.AllowTrade())

	// Keep winning until the window clears the recovery bar.
	for i := 0; i < 4; i++ {
		status, _ = g.RecordTrade(trade(true, 50))
	}
	// 6 wins, 4 losses in window: 0.60 ≥ 0.45, drawdown recovered.
	assert.Equal(t, GuardNormal, status)
	assert.True(t, g.AllowTrade())
}

func TestGuardLosingStreakPause(t *testing.T) {
	cfg := testGuardConfig()
	cfg.WindowTrades = 30
	cfg.WinRateReduced = 0 // isolate the streak triggers
	cfg.WinRatePaused = 0
	cfg.DrawdownReduced = 1
	cfg.DrawdownPaused = 1
	g := NewPerformanceGuard(cfg, testLogger())
	g.SetBaselineEquity(1000000)

	var status GuardStatus
	for i := 0; i < 5; i++ {
		status, _ = g.RecordTrade(trade(false, -1))
	}
	assert.Equal(t, GuardReduced, status, "losing streak of 5 reduces")

	for i := 0; i < 5; i++ {
		status, _ = g.RecordTrade(trade(false, -1))
	}
	assert.Equal(t, GuardPaused, status, "losing streak of 10 pauses")
}

func TestGuardDisabled(t *testing.T) {
	cfg := testGuardConfig()
	cfg.Enabled = false
	g := NewPerformanceGuard(cfg, testLogger())
	g.SetBaselineEquity(1000)

	for i := 0; i < 10; i++ {
		g.RecordTrade(trade(false, -50))
	}
	assert.Equal(t, GuardNormal, g.Status())
}

func TestGuardSnapshotRoundTrip(t *testing.T) {
	g := NewPerformanceGuard(testGuardConfig(), testLogger())
	g.SetBaselineEquity(100000)
	g.RecordTrade(trade(true, 10))
	for i := 0; i < 4; i++ {
		g.RecordTrade(trade(false, -10))
	}
	require.Equal(t, GuardPaused, g.Status())

	g2 := NewPerformanceGuard(testGuardConfig(), testLogger())
	g2.Restore(g.Snapshot())
	assert.Equal(t, GuardPaused, g2.Status())
	assert.False(t, g2.AllowTrade())
}
