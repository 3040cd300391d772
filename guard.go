// FILE: guard.go
// Package main – Performance guard: rolling-window self-monitoring with a
// three-state throttle.
//
// The guard watches the last N closed trades and degrades trading in two
// steps: REDUCED halves position size and raises the confidence bar, PAUSED
// stops new entries entirely. Recovery back to NORMAL demands win-rate and
// drawdown strictly better than the entry thresholds, so the status cannot
// oscillate on a single good trade.
//
// Not safe for concurrent use; the engine serializes all access.

package main

import (
	"github.com/rs/zerolog"
)

// GuardStatus is the guard's throttle level.
type GuardStatus string

const (
	GuardNormal  GuardStatus = "NORMAL"
	GuardReduced GuardStatus = "REDUCED"
	GuardPaused  GuardStatus = "PAUSED"
)

// guardStatusGaugeValue maps a status to its metric encoding.
func guardStatusGaugeValue(s GuardStatus) float64 {
	switch s {
	case GuardReduced:
		return 1
	case GuardPaused:
		return 2
	default:
		return 0
	}
}

// PerformanceGuard tracks recent trade outcomes and derives the current
// throttle status.
type PerformanceGuard struct {
	cfg GuardConfig
	log zerolog.Logger

	status       GuardStatus
	window       []float64 // PnL of last N trades, oldest first
	wins         []bool
	losingStreak int
	baseEquity   float64 // equity before the oldest trade in the window
}

func NewPerformanceGuard(cfg GuardConfig, log zerolog.Logger) *PerformanceGuard {
	return &PerformanceGuard{
		cfg:    cfg,
		log:    log.With().Str("component", "guard").Logger(),
		status: GuardNormal,
	}
}

// SetBaselineEquity anchors the window drawdown calculation. Called once at
// startup with the live account equity.
func (g *PerformanceGuard) SetBaselineEquity(equity float64) {
	if g.baseEquity == 0 {
		g.baseEquity = equity
	}
}

// RecordTrade folds one closed trade into the window and re-evaluates the
// status. It returns the (possibly unchanged) status and whether a
// transition happened, so the caller can alert exactly once per change.
func (g *PerformanceGuard) RecordTrade(t TradeOutcome) (GuardStatus, bool) {
	g.window = append(g.window, t.PnL)
	g.wins = append(g.wins, t.Win)
	if len(g.window) > g.cfg.WindowTrades {
		// The evicted trade's PnL rolls into the baseline.
		g.baseEquity += g.window[0]
		g.window = g.window[1:]
		g.wins = g.wins[1:]
	}
	if t.Win {
		g.losingStreak = 0
	} else {
		g.losingStreak++
	}
	return g.evaluate()
}

func (g *PerformanceGuard) winRate() float64 {
	if len(g.wins) == 0 {
		return 1
	}
	n := 0
	for _, w := range g.wins {
		if w {
			n++
		}
	}
	return float64(n) / float64(len(g.wins))
}

// windowDrawdown walks the equity curve implied by the window and returns
// the worst peak-to-trough fraction.
func (g *PerformanceGuard) windowDrawdown() float64 {
	base := g.baseEquity
	if base <= 0 {
		return 0
	}
	running, peak, worst := base, base, 0.0
	for _, pnl := range g.window {
		running += pnl
		if running > peak {
			peak = running
		}
		if dd := (peak - running) / peak; dd > worst {
			worst = dd
		}
	}
	return worst
}

func (g *PerformanceGuard) evaluate() (GuardStatus, bool) {
	if !g.cfg.Enabled || len(g.window) < g.cfg.MinSampleTrades {
		return g.status, false
	}

	wr := g.winRate()
	dd := g.windowDrawdown()
	prev := g.status

	pause := wr < g.cfg.WinRatePaused || dd >= g.cfg.DrawdownPaused || g.losingStreak >= g.cfg.LosingStreakPaused
	reduce := wr < g.cfg.WinRateReduced || dd >= g.cfg.DrawdownReduced || g.losingStreak >= g.cfg.LosingStreakReduced
	recovered := wr >= g.cfg.RecoveryWinRate && dd < g.cfg.RecoveryDrawdown

	switch {
	case pause:
		g.status = GuardPaused
	case g.status == GuardPaused && !recovered:
		// stay paused
	case reduce:
		g.status = GuardReduced
	case g.status == GuardReduced && !recovered:
		// stay reduced
	default:
		g.status = GuardNormal
	}

	changed := g.status != prev
	if changed {
		g.log.Warn().
			Str("from", string(prev)).
			Str("to", string(g.status)).
			Float64("win_rate", wr).
			Float64("window_drawdown", dd).
			Int("losing_streak", g.losingStreak).
			Msg("performance guard transition")
	}
	return g.status, changed
}

// Status returns the current throttle level.
func (g *PerformanceGuard) Status() GuardStatus { return g.status }

// AllowTrade reports whether new entries are permitted.
func (g *PerformanceGuard) AllowTrade() bool { return g.status != GuardPaused }

// SizeMultiplier scales position sizes by the current status.
func (g *PerformanceGuard) SizeMultiplier() float64 {
	switch g.status {
	case GuardReduced:
		return 0.5
	case GuardPaused:
		return 0
	default:
		return 1
	}
}

// ThresholdAdjustment is added to the confidence entry threshold. Nonzero
// only while REDUCED; PAUSED blocks entries outright so no adjustment
// applies.
func (g *PerformanceGuard) ThresholdAdjustment() float64 {
	if g.status == GuardReduced {
		return g.cfg.ConfidenceAdjustment
	}
	return 0
}

// Snapshot exports the guard state for persistence.
func (g *PerformanceGuard) Snapshot() GuardSnapshot {
	return GuardSnapshot{
		Status:       string(g.status),
		WindowPnL:    append([]float64(nil), g.window...),
		WindowWins:   append([]bool(nil), g.wins...),
		LosingStreak: g.losingStreak,
		BaseEquity:   g.baseEquity,
	}
}

// Restore re-imports persisted guard state; unknown statuses fall back to
// NORMAL.
func (g *PerformanceGuard) Restore(s GuardSnapshot) {
	switch GuardStatus(s.Status) {
	case GuardReduced, GuardPaused:
		g.status = GuardStatus(s.Status)
	default:
		g.status = GuardNormal
	}
	g.window = append([]float64(nil), s.WindowPnL...)
	g.wins = append([]bool(nil), s.WindowWins...)
	if len(g.wins) != len(g.window) {
		g.wins = make([]bool, len(g.window))
		for i, pnl := range g.window {
			g.wins[i] = pnl > 0
		}
	}
	g.losingStreak = s.LosingStreak
	g.baseEquity = s.BaseEquity
}

// GuardSnapshot is the persisted form of the guard state (see state.go).
type GuardSnapshot struct {
	Status       string    `json:"status"`
	WindowPnL    []float64 `json:"window_pnl"`
	WindowWins   []bool    `json:"window_wins"`
	LosingStreak int       `json:"losing_streak"`
	BaseEquity   float64   `json:"base_equity"`
}
