// FILE: gateway_test.go
package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noLimit(float64) *RejectReason { return nil }

func TestGatewayPlaceNormalizesToStep(t *testing.T) {
	ex := newFakeExchange()
	ex.info["BTCUSDT"] = InstrumentInfo{Symbol: "BTCUSDT", QtyStep: 0.001, MinOrderQty: 0.001}
	g := NewExecutionGateway(ex, 4*time.Hour, testLogger())

	pos, rej := g.Place(context.Background(), PlaceRequest{
		Symbol: "BTCUSDT", Side: SideBuy, Qty: 0.12349, EntryPrice: 50000,
		StopLoss: 49250, TakeProfit: 51500,
	}, noLimit)

	require.Nil(t, rej)
	require.NotNil(t, pos)
	assert.InDelta(t, 0.123, pos.Qty, 1e-9, "quantity floored to lot step")
	assert.Equal(t, OriginEngine, pos.Origin)
	require.Len(t, ex.placed, 1)
	assert.Equal(t, 49250.0, ex.placed[0].StopLoss)
}

func TestGatewayMinNotionalBumpRechecksLimits(t *testing.T) {
	ex := newFakeExchange()
	ex.info["XRPUSDT"] = InstrumentInfo{Symbol: "XRPUSDT", QtyStep: 1, MinOrderQty: 1, MinNotional: 5}
	g := NewExecutionGateway(ex, 0, testLogger())

	// 2 XRP at 0.5 = 1 USDT notional; bump to 10 units to reach 5 USDT.
	pos, rej := g.Place(context.Background(), PlaceRequest{
		Symbol: "XRPUSDT", Side: SideBuy, Qty: 2, EntryPrice: 0.5,
	}, noLimit)
	require.Nil(t, rej)
	assert.Equal(t, 10.0, pos.Qty)

	// Same bump, but the limit check refuses the larger order.
	_, rej = g.Place(context.Background(), PlaceRequest{
		Symbol: "XRPUSDT", Side: SideBuy, Qty: 2, EntryPrice: 0.5,
	}, func(qty float64) *RejectReason {
		if qty > 5 {
			return rejectPermanent(RejectPositionTooLarge, "over budget")
		}
		return nil
	})
	require.NotNil(t, rej)
	assert.Equal(t, RejectBelowMinimum, rej.Code)
	assert.False(t, rej.Retryable)
}

func TestGatewayCooldown(t *testing.T) {
	ex := newFakeExchange()
	g := NewExecutionGateway(ex, 4*time.Hour, testLogger())
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	req := PlaceRequest{Symbol: "BTCUSDT", Side: SideBuy, Qty: 1, EntryPrice: 100}
	pos, rej := g.Place(context.Background(), req, noLimit)
	require.Nil(t, rej)
	require.NotNil(t, pos)

	// Re-entry inside the cooldown is a permanent denial.
	now = now.Add(time.Hour)
	_, rej = g.Place(context.Background(), req, noLimit)
	require.NotNil(t, rej)
	assert.Equal(t, RejectCooldown, rej.Code)

	// After the window it goes through again.
	now = now.Add(4 * time.Hour)
	_, rej = g.Place(context.Background(), req, noLimit)
	assert.Nil(t, rej)
}

func TestGatewayCooldownAnchoredOnClose(t *testing.T) {
	ex := newFakeExchange()
	g := NewExecutionGateway(ex, 4*time.Hour, testLogger())
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	req := PlaceRequest{Symbol: "BTCUSDT", Side: SideBuy, Qty: 1, EntryPrice: 100}
	_, rej := g.Place(context.Background(), req, noLimit)
	require.Nil(t, rej)

	// Trade closes three hours in; the cooldown restarts from the close.
	now = now.Add(3 * time.Hour)
	g.MarkTradeClosed("BTCUSDT", now)

	now = now.Add(2 * time.Hour) // 5h after open, 2h after close
	_, rej = g.Place(context.Background(), req, noLimit)
	require.NotNil(t, rej)
	assert.Equal(t, RejectCooldown, rej.Code)
}

func TestGatewayExchangeFailureIsRetryable(t *testing.T) {
	ex := newFakeExchange()
	ex.placeErr = errors.New("timeout")
	g := NewExecutionGateway(ex, 0, testLogger())

	_, rej := g.Place(context.Background(), PlaceRequest{
		Symbol: "BTCUSDT", Side: SideBuy, Qty: 1, EntryPrice: 100,
	}, noLimit)
	require.NotNil(t, rej)
	assert.Equal(t, RejectExchange, rej.Code)
	assert.True(t, rej.Retryable)
}

func TestGatewayClosePlacesReduceOnly(t *testing.T) {
	ex := newFakeExchange()
	g := NewExecutionGateway(ex, 0, testLogger())

	pos := &Position{Symbol: "BTCUSDT", Side: SideBuy, Qty: 0.5}
	require.NoError(t, g.Close(context.Background(), pos))
	require.Len(t, ex.placed, 1)
	assert.Equal(t, SideSell, ex.placed[0].Side)
	assert.True(t, ex.placed[0].ReduceOnly)
	assert.Equal(t, 0.5, ex.placed[0].Qty)
}

func TestNormalizeQtyRejectsZero(t *testing.T) {
	_, _, rej := normalizeQty(0, 100, InstrumentInfo{QtyStep: 0.001})
	require.NotNil(t, rej)
	assert.Equal(t, RejectBelowMinimum, rej.Code)
}
