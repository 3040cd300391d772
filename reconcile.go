// FILE: reconcile.go
// Package main – Tracked positions and the reconciliation pass that keeps
// them consistent with exchange truth.
//
// The exchange is authoritative: positions it no longer shows are dropped,
// positions it shows that we never opened are adopted, and side mismatches
// resync from the venue. Exit triggers (stop-loss/take-profit against the
// mark price) also live here, so every position mutation flows through one
// serialized pass.
//
// Not safe for concurrent use; the engine serializes all access.

package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// PositionOrigin records how a tracked position came to exist.
type PositionOrigin string

const (
	OriginEngine   PositionOrigin = "engine"
	OriginExchange PositionOrigin = "exchange"
)

// Position is one tracked open position. At most one per instrument.
type Position struct {
	Symbol     string
	Side       OrderSide
	Qty        float64
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	EntryTime  time.Time
	Origin     PositionOrigin
	OrderID    string

	lastMark float64 // most recent mark price seen during reconciliation
}

// PositionReconciler syncs the tracked book against the exchange once per
// monitoring tick (and once at startup).
type PositionReconciler struct {
	client  ExchangeClient
	gateway *ExecutionGateway
	risk    RiskConfig
	log     zerolog.Logger

	tracked map[string]*Position

	// onClose receives every realized trade outcome (engine-initiated exits
	// and externally observed closes).
	onClose func(TradeOutcome)
}

func NewPositionReconciler(client ExchangeClient, gateway *ExecutionGateway, risk RiskConfig, onClose func(TradeOutcome), log zerolog.Logger) *PositionReconciler {
	return &PositionReconciler{
		client:  client,
		gateway: gateway,
		risk:    risk,
		log:     log.With().Str("component", "reconcile").Logger(),
		tracked: make(map[string]*Position),
		onClose: onClose,
	}
}

// Register tracks a position opened by the engine.
func (r *PositionReconciler) Register(pos *Position) {
	r.tracked[pos.Symbol] = pos
}

// OpenCount reports the number of tracked positions.
func (r *PositionReconciler) OpenCount() int { return len(r.tracked) }

// Tracked returns the tracked position for a symbol, or nil.
func (r *PositionReconciler) Tracked(symbol string) *Position { return r.tracked[symbol] }

// Symbols lists tracked instruments.
func (r *PositionReconciler) Symbols() []string {
	out := make([]string, 0, len(r.tracked))
	for s := range r.tracked {
		out = append(out, s)
	}
	return out
}

// Reconcile runs one full pass. A pass against an unchanged exchange state
// produces no mutations.
func (r *PositionReconciler) Reconcile(ctx context.Context) error {
	exchange, err := r.client.GetPositions(ctx)
	if err != nil {
		return err
	}

	onExchange := make(map[string]ExchangePosition, len(exchange))
	for _, p := range exchange {
		onExchange[p.Symbol] = p
	}

	for sym, pos := range r.tracked {
		ep, present := onExchange[sym]
		if !present {
			r.handleExternalClose(pos)
			delete(r.tracked, sym)
			continue
		}

		if ep.Side != pos.Side {
			r.log.Warn().
				Str("symbol", sym).
				Str("tracked_side", string(pos.Side)).
				Str("exchange_side", string(ep.Side)).
				Msg("side mismatch, resyncing from exchange")
			pos.Side = ep.Side
			pos.Qty = ep.Size
			pos.EntryPrice = ep.EntryPrice
		}
		pos.lastMark = ep.MarkPrice

		if reason, hit := exitTriggered(pos, ep.MarkPrice); hit {
			r.closePosition(ctx, pos, ep.MarkPrice, reason)
		}
	}

	for sym, ep := range onExchange {
		if _, ok := r.tracked[sym]; !ok {
			r.adopt(ctx, ep)
		}
	}
	return nil
}

// exitTriggered checks the mark price against the position's stop and
// target.
func exitTriggered(pos *Position, mark float64) (string, bool) {
	if mark <= 0 {
		return "", false
	}
	if pos.Side == SideBuy {
		if pos.StopLoss > 0 && mark <= pos.StopLoss {
			return "stop_loss", true
		}
		if pos.TakeProfit > 0 && mark >= pos.TakeProfit {
			return "take_profit", true
		}
		return "", false
	}
	if pos.StopLoss > 0 && mark >= pos.StopLoss {
		return "stop_loss", true
	}
	if pos.TakeProfit > 0 && mark <= pos.TakeProfit {
		return "take_profit", true
	}
	return "", false
}

func (r *PositionReconciler) closePosition(ctx context.Context, pos *Position, exitPrice float64, reason string) {
	if err := r.gateway.Close(ctx, pos); err != nil {
		// Leave the position tracked; the next pass retries the exit.
		r.log.Error().Err(err).Str("symbol", pos.Symbol).Msg("close order failed")
		return
	}
	now := time.Now()
	outcome := realizedOutcome(pos, exitPrice, now, reason)
	r.gateway.MarkTradeClosed(pos.Symbol, now)
	delete(r.tracked, pos.Symbol)
	r.log.Info().
		Str("symbol", pos.Symbol).
		Str("reason", reason).
		Float64("pnl", outcome.PnL).
		Msg("position closed")
	if r.onClose != nil {
		r.onClose(outcome)
	}
}

// handleExternalClose drops a position the exchange no longer shows. No exit
// order is placed; there is nothing left to close. PnL is estimated from the
// last mark seen, which is the best information available post hoc.
func (r *PositionReconciler) handleExternalClose(pos *Position) {
	exit := pos.lastMark
	if exit <= 0 {
		exit = pos.EntryPrice
	}
	now := time.Now()
	outcome := realizedOutcome(pos, exit, now, "external_close")
	r.gateway.MarkTradeClosed(pos.Symbol, now)
	r.log.Warn().
		Str("symbol", pos.Symbol).
		Float64("estimated_pnl", outcome.PnL).
		Msg("position closed externally")
	if r.onClose != nil {
		r.onClose(outcome)
	}
}

// adopt starts tracking a position found on the exchange with no local
// record: stop and target come from the venue's conditional orders when
// present, otherwise from the configured default fractions of entry.
func (r *PositionReconciler) adopt(ctx context.Context, ep ExchangePosition) {
	pos := &Position{
		Symbol:     ep.Symbol,
		Side:       ep.Side,
		Qty:        ep.Size,
		EntryPrice: ep.EntryPrice,
		EntryTime:  time.Now(),
		Origin:     OriginExchange,
		lastMark:   ep.MarkPrice,
	}

	if orders, err := r.client.GetOpenOrders(ctx, ep.Symbol); err == nil {
		for _, o := range orders {
			if o.StopLoss > 0 && pos.StopLoss == 0 {
				pos.StopLoss = o.StopLoss
			}
			if o.TakeProfit > 0 && pos.TakeProfit == 0 {
				pos.TakeProfit = o.TakeProfit
			}
		}
	} else {
		r.log.Warn().Err(err).Str("symbol", ep.Symbol).Msg("open orders unavailable during adoption")
	}

	if pos.StopLoss == 0 {
		pos.StopLoss = protectivePrice(ep.EntryPrice, ep.Side, -r.risk.StopLossPct)
	}
	if pos.TakeProfit == 0 {
		pos.TakeProfit = protectivePrice(ep.EntryPrice, ep.Side, r.risk.TakeProfitPct)
	}

	r.tracked[ep.Symbol] = pos
	r.log.Warn().
		Str("symbol", ep.Symbol).
		Str("side", string(ep.Side)).
		Float64("qty", ep.Size).
		Msg("adopted untracked exchange position")
}

// protectivePrice offsets entry by a signed fraction in the profit direction
// of the side (negative fractions land on the losing side).
func protectivePrice(entry float64, side OrderSide, frac float64) float64 {
	if side == SideBuy {
		return entry * (1 + frac)
	}
	return entry * (1 - frac)
}

// realizedOutcome computes the signed PnL of a close.
func realizedOutcome(pos *Position, exitPrice float64, at time.Time, reason string) TradeOutcome {
	diff := exitPrice - pos.EntryPrice
	if pos.Side == SideSell {
		diff = -diff
	}
	pnl := diff * pos.Qty
	return TradeOutcome{
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		Qty:        pos.Qty,
		PnL:        pnl,
		Win:        pnl > 0,
		EntryTime:  pos.EntryTime,
		ExitTime:   at,
		Reason:     reason,
	}
}
