// FILE: gateway.go
// Package main – Execution gateway: order normalization, cooldown
// enforcement, and placement through the retrying exchange client.
//
// Placement is the only path that turns a sized candidate into venue state.
// Quantity is normalized against the instrument's lot filters before
// anything hits the wire; a minimum-notional bump must be re-approved by the
// caller's limit check, so normalization can never grow an order past the
// risk budget unchecked.

package main

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"
)

// PlaceRequest is a sized, direction-resolved candidate ready for placement.
type PlaceRequest struct {
	Symbol     string
	Side       OrderSide
	Qty        float64
	EntryPrice float64 // reference price for notional checks
	StopLoss   float64
	TakeProfit float64
}

// ExecutionGateway owns order placement and the per-instrument trade
// cooldown. Not safe for concurrent use; the engine serializes all access.
type ExecutionGateway struct {
	client   ExchangeClient
	cooldown time.Duration
	log      zerolog.Logger

	lastTrade   map[string]time.Time
	instruments map[string]InstrumentInfo

	now func() time.Time
}

func NewExecutionGateway(client ExchangeClient, cooldown time.Duration, log zerolog.Logger) *ExecutionGateway {
	return &ExecutionGateway{
		client:      client,
		cooldown:    cooldown,
		log:         log.With().Str("component", "gateway").Logger(),
		lastTrade:   make(map[string]time.Time),
		instruments: make(map[string]InstrumentInfo),
		now:         time.Now,
	}
}

// Place normalizes and submits a market order. limitCheck re-validates the
// final quantity against the account risk limits; it runs again whenever
// normalization increases the order. A nil RejectReason with a non-nil
// Position means the order was accepted by the venue.
func (g *ExecutionGateway) Place(ctx context.Context, req PlaceRequest, limitCheck func(qty float64) *RejectReason) (*Position, *RejectReason) {
	now := g.now()
	if last, ok := g.lastTrade[req.Symbol]; ok {
		if since := now.Sub(last); since < g.cooldown {
			return nil, rejectPermanent(RejectCooldown, "%s traded %s ago, cooldown %s", req.Symbol, since.Round(time.Second), g.cooldown)
		}
	}

	info, err := g.instrumentInfo(ctx, req.Symbol)
	if err != nil {
		return nil, rejectRetryable(RejectExchange, "instrument info: %v", err)
	}

	qty, bumped, rej := normalizeQty(req.Qty, req.EntryPrice, info)
	if rej != nil {
		return nil, rej
	}
	if rej := limitCheck(qty); rej != nil {
		if bumped {
			return nil, rejectPermanent(RejectBelowMinimum, "minimum viable size %.8f fails limits: %s", qty, rej)
		}
		return nil, rej
	}

	ack, err := g.client.PlaceOrder(ctx, OrderRequest{
		Symbol:     req.Symbol,
		Side:       req.Side,
		Qty:        qty,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
	})
	if err != nil {
		return nil, rejectRetryable(RejectExchange, "place order: %v", err)
	}

	g.lastTrade[req.Symbol] = now
	pos := &Position{
		Symbol:     req.Symbol,
		Side:       req.Side,
		Qty:        qty,
		EntryPrice: req.EntryPrice,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		EntryTime:  now,
		Origin:     OriginEngine,
		OrderID:    ack.OrderID,
	}
	g.log.Info().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Float64("qty", qty).
		Str("order_id", ack.OrderID).
		Msg("order placed")
	return pos, nil
}

// Close submits a reduce-only market order for the full position size.
func (g *ExecutionGateway) Close(ctx context.Context, pos *Position) error {
	_, err := g.client.PlaceOrder(ctx, OrderRequest{
		Symbol:     pos.Symbol,
		Side:       pos.Side.Opposite(),
		Qty:        pos.Qty,
		ReduceOnly: true,
	})
	return err
}

// MarkTradeClosed re-anchors the cooldown on the close time, so an
// instrument cannot re-enter immediately after an exit.
func (g *ExecutionGateway) MarkTradeClosed(symbol string, at time.Time) {
	g.lastTrade[symbol] = at
}

// LastTradeTimes exports the cooldown anchors for persistence.
func (g *ExecutionGateway) LastTradeTimes() map[string]time.Time {
	out := make(map[string]time.Time, len(g.lastTrade))
	for k, v := range g.lastTrade {
		out[k] = v
	}
	return out
}

// RestoreLastTrades re-imports persisted cooldown anchors.
func (g *ExecutionGateway) RestoreLastTrades(m map[string]time.Time) {
	for k, v := range m {
		g.lastTrade[k] = v
	}
}

func (g *ExecutionGateway) instrumentInfo(ctx context.Context, symbol string) (InstrumentInfo, error) {
	if info, ok := g.instruments[symbol]; ok {
		return info, nil
	}
	info, err := g.client.GetInstrumentInfo(ctx, symbol)
	if err != nil {
		return InstrumentInfo{}, err
	}
	g.instruments[symbol] = info
	return info, nil
}

// normalizeQty applies the venue's lot filters: floor to the quantity step,
// then raise to the minimum order quantity and minimum notional if needed.
// bumped reports whether normalization grew the order.
func normalizeQty(qty, price float64, info InstrumentInfo) (out float64, bumped bool, rej *RejectReason) {
	if qty <= 0 || price <= 0 {
		return 0, false, rejectPermanent(RejectBelowMinimum, "non-positive quantity or price")
	}

	// The epsilon guards against binary float steps like 0.001 flooring an
	// exact multiple down a whole step.
	step := info.QtyStep
	if step > 0 {
		qty = math.Floor(qty/step+1e-9) * step
	}
	orig := qty

	if info.MinOrderQty > 0 && qty < info.MinOrderQty {
		qty = info.MinOrderQty
	}
	if info.MinNotional > 0 && qty*price < info.MinNotional {
		need := info.MinNotional / price
		if step > 0 {
			need = math.Ceil(need/step-1e-9) * step
		}
		if need > qty {
			qty = need
		}
	}
	if qty <= 0 {
		return 0, false, rejectPermanent(RejectBelowMinimum, "quantity rounds to zero at step %g", step)
	}
	return qty, qty > orig, nil
}
