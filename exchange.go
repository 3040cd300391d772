// FILE: exchange.go
// Package main – Exchange client contract and the typed results/denials the
// core trades in.
//
// Design rules (see also bybit.go for the concrete client):
//   • Ordinary operational failures come back as errors the caller treats as
//     "try again later" — nothing below the engine loop panics or exits.
//   • Trade denials are RejectReason values, not errors: a structured code
//     plus a retryable flag, so the admission queue never has to pattern-match
//     reason text to decide whether to keep a candidate queued.

package main

import (
	"context"
	"fmt"
	"time"
)

// OrderSide uses the venue's spelling.
type OrderSide string

const (
	SideBuy  OrderSide = "Buy"
	SideSell OrderSide = "Sell"
)

// Opposite returns the closing side for a position side.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Balance is the account snapshot used for sizing and limit checks.
type Balance struct {
	TotalEquity      float64
	AvailableBalance float64
}

// ExchangePosition is the venue's view of an open position.
type ExchangePosition struct {
	Symbol           string
	Side             OrderSide
	Size             float64
	EntryPrice       float64
	MarkPrice        float64
	Leverage         float64
	UnrealizedPnL    float64
	LiquidationPrice float64
}

// OpenOrder is a resting or conditional order; StopLoss/TakeProfit are zero
// when the order carries none.
type OpenOrder struct {
	OrderID      string
	Symbol       string
	Side         OrderSide
	Qty          float64
	Price        float64
	StopLoss     float64
	TakeProfit   float64
	TriggerPrice float64
	Status       string
}

// OrderAck is the normalized acknowledgement of a placed order.
type OrderAck struct {
	OrderID     string
	OrderLinkID string
	Symbol      string
	Side        OrderSide
	Qty         float64
}

// OrderRequest describes a market order to place.
type OrderRequest struct {
	Symbol     string
	Side       OrderSide
	Qty        float64
	StopLoss   float64 // 0 = none
	TakeProfit float64 // 0 = none
	ReduceOnly bool
}

// InstrumentInfo carries the venue's order filters for an instrument.
type InstrumentInfo struct {
	Symbol      string
	TickSize    float64
	QtyStep     float64
	MinOrderQty float64
	MinNotional float64
}

// ExchangeClient is the full surface the engine needs from the venue. Every
// method applies its own bounded per-attempt timeout and retry policy; an
// error return means the retries were exhausted (or the request is invalid),
// never that an exception escaped.
type ExchangeClient interface {
	GetBalance(ctx context.Context) (Balance, error)
	GetPositions(ctx context.Context) ([]ExchangePosition, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	GetInstrumentInfo(ctx context.Context, symbol string) (InstrumentInfo, error)
	// ConsecutiveErrors reports the current run of failed calls, consumed by
	// the kill switch.
	ConsecutiveErrors() int
}

// RejectCode enumerates why a trade candidate was denied.
type RejectCode string

const (
	RejectDailyLoss         RejectCode = "daily_loss_limit"
	RejectDrawdown          RejectCode = "max_drawdown"
	RejectMaxPositions      RejectCode = "max_positions"
	RejectAlreadyPositioned RejectCode = "already_positioned"
	RejectPositionTooLarge  RejectCode = "position_too_large"
	RejectBelowMinimum      RejectCode = "below_minimum_size"
	RejectCooldown          RejectCode = "cooldown_active"
	RejectGuardPaused       RejectCode = "guard_paused"
	RejectNotSelected       RejectCode = "not_selected"
	RejectExchange          RejectCode = "exchange_failure"
)

// RejectReason is a typed deny-with-reason. Retryable denials keep their
// candidate queued for a later drain; permanent ones drop it.
type RejectReason struct {
	Code      RejectCode
	Detail    string
	Retryable bool
}

func (r RejectReason) String() string {
	if r.Detail == "" {
		return string(r.Code)
	}
	return fmt.Sprintf("%s: %s", r.Code, r.Detail)
}

func rejectPermanent(code RejectCode, format string, args ...any) *RejectReason {
	return &RejectReason{Code: code, Detail: fmt.Sprintf(format, args...)}
}

func rejectRetryable(code RejectCode, format string, args ...any) *RejectReason {
	return &RejectReason{Code: code, Detail: fmt.Sprintf(format, args...), Retryable: true}
}

// TradeOutcome is one closed trade as fed to the performance guard and the
// trade logger.
type TradeOutcome struct {
	Symbol     string
	Side       OrderSide
	EntryPrice float64
	ExitPrice  float64
	Qty        float64
	PnL        float64
	Win        bool
	EntryTime  time.Time
	ExitTime   time.Time
	Reason     string
}
