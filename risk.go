// FILE: risk.go
// Package main – Risk manager: position sizing, account limit checks, and the
// kill switch.
//
// Sizing is risk-based: confidence interpolates the per-trade risk fraction
// between its configured min and max, the risked amount is converted to a
// position value through the stop-loss distance, then volatility targeting
// (optional) and the max-position-size cap scale it down. The result is a
// base quantity at the reference price; order filters are applied later by
// the execution gateway.
//
// Not safe for concurrent use; the engine serializes all access.

package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// RiskManager owns the account-level trading limits and the daily loss /
// drawdown accounting behind them.
type RiskManager struct {
	cfg RiskConfig
	log zerolog.Logger

	equity        float64
	peakEquity    float64
	dailyPnL      float64
	dailyBoundary time.Time // next midnight UTC; daily counters reset on cross

	openPositions int
	positioned    map[string]bool

	killed     bool
	killReason string

	now func() time.Time
}

func NewRiskManager(cfg RiskConfig, log zerolog.Logger) *RiskManager {
	return &RiskManager{
		cfg:        cfg,
		log:        log.With().Str("component", "risk").Logger(),
		positioned: make(map[string]bool),
		now:        time.Now,
	}
}

// midnightUTC returns the next UTC midnight after t.
func midnightUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}

// UpdateAccountState refreshes equity, the peak-equity watermark, and the
// open-position view from exchange truth. Crossing midnight UTC resets the
// daily PnL counters.
func (r *RiskManager) UpdateAccountState(equity float64, openSymbols []string) {
	now := r.now()
	if r.dailyBoundary.IsZero() {
		r.dailyBoundary = midnightUTC(now)
	} else if !now.Before(r.dailyBoundary) {
		r.log.Info().
			Float64("daily_pnl", r.dailyPnL).
			Msg("daily reset")
		r.dailyBoundary = midnightUTC(now)
		r.dailyPnL = 0
	}

	r.equity = equity
	if equity > r.peakEquity {
		r.peakEquity = equity
	}

	r.openPositions = len(openSymbols)
	r.positioned = make(map[string]bool, len(openSymbols))
	for _, s := range openSymbols {
		r.positioned[s] = true
	}
}

// NotePositionOpened consumes a slot immediately after a fill, so limit
// checks later in the same drain see the updated count before the next
// exchange sync.
func (r *RiskManager) NotePositionOpened(symbol string) {
	r.openPositions++
	r.positioned[symbol] = true
}

// RecordTradePnL folds a realized trade result into the daily counter.
func (r *RiskManager) RecordTradePnL(pnl float64) {
	r.dailyPnL += pnl
}

// Equity returns the last known account equity.
func (r *RiskManager) Equity() float64 { return r.equity }

// DailyPnL returns realized PnL since the last midnight-UTC reset.
func (r *RiskManager) DailyPnL() float64 { return r.dailyPnL }

// Size computes the order quantity (base units) for a candidate at the given
// confidence and reference price. Returns 0 when inputs are unusable.
func (r *RiskManager) Size(equity, confidence, entryPrice, volatility float64) float64 {
	if equity <= 0 || entryPrice <= 0 {
		return 0
	}
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}

	target := r.cfg.MinRiskPerTrade + (r.cfg.MaxRiskPerTrade-r.cfg.MinRiskPerTrade)*confidence
	riskAmt := equity * target
	posValue := riskAmt / r.cfg.StopLossPct

	if vt := r.cfg.VolTargeting; vt.Enabled && volatility > 0 {
		mult := vt.TargetVolatility / volatility
		if mult > vt.MaxMultiplier {
			mult = vt.MaxMultiplier
		}
		if mult < 0 {
			mult = 0
		}
		posValue *= mult
	}

	if maxValue := equity * r.cfg.MaxPositionSize; posValue > maxValue {
		posValue = maxValue
	}
	return posValue / entryPrice
}

// CheckLimits decides whether a new position of the given value may open.
// Checks run in severity order; the first failure wins. A nil return means
// the trade passes.
func (r *RiskManager) CheckLimits(symbol string, positionValue float64) *RejectReason {
	if r.killed {
		return rejectPermanent(RejectDrawdown, "kill switch engaged: %s", r.killReason)
	}

	// The loss limit is a fraction of current equity, so it tightens as
	// losses accumulate.
	if r.equity > 0 {
		lossLimit := r.equity * r.cfg.MaxDailyLoss
		if -r.dailyPnL >= lossLimit {
			return rejectPermanent(RejectDailyLoss, "daily loss %.2f at limit %.2f", -r.dailyPnL, lossLimit)
		}
	}

	if r.peakEquity > 0 {
		dd := (r.peakEquity - r.equity) / r.peakEquity
		if dd >= r.cfg.MaxDrawdown {
			return rejectPermanent(RejectDrawdown, "drawdown %.1f%% at limit %.1f%%", dd*100, r.cfg.MaxDrawdown*100)
		}
	}

	if r.openPositions >= r.cfg.MaxOpenPositions {
		return rejectRetryable(RejectMaxPositions, "%d of %d slots in use", r.openPositions, r.cfg.MaxOpenPositions)
	}

	if r.positioned[symbol] {
		return rejectPermanent(RejectAlreadyPositioned, "position already open on %s", symbol)
	}

	if maxValue := r.equity * r.cfg.MaxPositionSize; positionValue > maxValue*1.0001 {
		return rejectPermanent(RejectPositionTooLarge, "value %.2f above cap %.2f", positionValue, maxValue)
	}

	return nil
}

// KillSwitch evaluates the hard-halt conditions: drawdown or daily loss past
// their configured limits, or a run of consecutive exchange errors. Once
// engaged it stays engaged until ResetKillSwitch.
func (r *RiskManager) KillSwitch(consecutiveErrors int) (bool, string) {
	if r.killed {
		return true, r.killReason
	}
	if r.peakEquity > 0 {
		dd := (r.peakEquity - r.equity) / r.peakEquity
		if dd > r.cfg.MaxDrawdown {
			r.killed = true
			r.killReason = fmt.Sprintf("drawdown %.1f%% breached limit %.1f%%", dd*100, r.cfg.MaxDrawdown*100)
		}
	}
	if !r.killed && r.equity > 0 && -r.dailyPnL >= r.equity*r.cfg.MaxDailyLoss {
		r.killed = true
		r.killReason = fmt.Sprintf("daily loss %.2f breached limit %.2f", -r.dailyPnL, r.equity*r.cfg.MaxDailyLoss)
	}
	if !r.killed && r.cfg.MaxConsecutiveAPIErrors > 0 && consecutiveErrors >= r.cfg.MaxConsecutiveAPIErrors {
		r.killed = true
		r.killReason = fmt.Sprintf("%d consecutive exchange errors", consecutiveErrors)
	}
	if r.killed {
		r.log.Error().Str("reason", r.killReason).Msg("kill switch engaged")
	}
	return r.killed, r.killReason
}

// RiskSnapshot is the persisted form of the risk accounting (see state.go).
type RiskSnapshot struct {
	Equity        float64   `json:"equity"`
	PeakEquity    float64   `json:"peak_equity"`
	DailyPnL      float64   `json:"daily_pnl"`
	DailyBoundary time.Time `json:"daily_boundary"`
}

// Snapshot exports the risk accounting for persistence.
func (r *RiskManager) Snapshot() RiskSnapshot {
	return RiskSnapshot{
		Equity:        r.equity,
		PeakEquity:    r.peakEquity,
		DailyPnL:      r.dailyPnL,
		DailyBoundary: r.dailyBoundary,
	}
}

// Restore re-imports persisted risk accounting. A stale daily boundary is
// kept as-is; the next UpdateAccountState call rolls it forward.
func (r *RiskManager) Restore(s RiskSnapshot) {
	r.equity = s.Equity
	r.peakEquity = s.PeakEquity
	r.dailyPnL = s.DailyPnL
	r.dailyBoundary = s.DailyBoundary
}

// Killed reports whether the kill switch is engaged.
func (r *RiskManager) Killed() bool { return r.killed }

// ResetKillSwitch clears the halt after operator intervention.
func (r *RiskManager) ResetKillSwitch() {
	r.killed = false
	r.killReason = ""
}
