// FILE: helpers_test.go
// Package main – Shared test fakes: an in-memory exchange and scripted
// collaborators.

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

type fakeExchange struct {
	balance      Balance
	balanceErr   error
	positions    []ExchangePosition
	positionsErr error
	orders       map[string][]OpenOrder
	ordersErr    error
	info         map[string]InstrumentInfo
	placeErr     error
	placed       []OrderRequest
	canceled     []string
	leverages    map[string]int
	errStreak    int
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		balance:   Balance{TotalEquity: 10000, AvailableBalance: 10000},
		orders:    make(map[string][]OpenOrder),
		info:      make(map[string]InstrumentInfo),
		leverages: make(map[string]int),
	}
}

func (f *fakeExchange) GetBalance(context.Context) (Balance, error) {
	return f.balance, f.balanceErr
}

func (f *fakeExchange) GetPositions(context.Context) ([]ExchangePosition, error) {
	return f.positions, f.positionsErr
}

func (f *fakeExchange) GetOpenOrders(_ context.Context, symbol string) ([]OpenOrder, error) {
	return f.orders[symbol], f.ordersErr
}

func (f *fakeExchange) PlaceOrder(_ context.Context, req OrderRequest) (OrderAck, error) {
	if f.placeErr != nil {
		return OrderAck{}, f.placeErr
	}
	f.placed = append(f.placed, req)
	return OrderAck{
		OrderID:     fmt.Sprintf("order-%d", len(f.placed)),
		OrderLinkID: fmt.Sprintf("link-%d", len(f.placed)),
		Symbol:      req.Symbol,
		Side:        req.Side,
		Qty:         req.Qty,
	}, nil
}

func (f *fakeExchange) CancelOrder(_ context.Context, _, orderID string) error {
	f.canceled = append(f.canceled, orderID)
	return nil
}

func (f *fakeExchange) SetLeverage(_ context.Context, symbol string, leverage int) error {
	f.leverages[symbol] = leverage
	return nil
}

func (f *fakeExchange) GetInstrumentInfo(_ context.Context, symbol string) (InstrumentInfo, error) {
	if info, ok := f.info[symbol]; ok {
		return info, nil
	}
	return InstrumentInfo{Symbol: symbol, QtyStep: 0.001, MinOrderQty: 0.001}, nil
}

func (f *fakeExchange) ConsecutiveErrors() int { return f.errStreak }

// scripted collaborators

type fakeFeatures struct {
	feats *Features
	err   error
}

func (f fakeFeatures) Compute([]Candle) (*Features, error) { return f.feats, f.err }

type fakeSignals struct {
	sig PrimarySignal
	err error
}

func (f fakeSignals) Generate(*Features) (PrimarySignal, error) { return f.sig, f.err }

type fakeRegime struct {
	allowed bool
	reason  string
	mult    float64
}

func (f fakeRegime) ShouldAllow(*Features, Direction) (bool, string, float64) {
	return f.allowed, f.reason, f.mult
}

type fakePredictor struct {
	confidence float64
	err        error
	covered    map[string]struct{}
	historyDay map[string]float64
	schema     FeatureSchema
}

func (f *fakePredictor) Predict(FeatureVector) (float64, error) { return f.confidence, f.err }
func (f *fakePredictor) CoveredInstruments() map[string]struct{} {
	return f.covered
}
func (f *fakePredictor) TrainedHistoryDays(sym string) float64 { return f.historyDay[sym] }
func (f *fakePredictor) Schema() FeatureSchema                 { return f.schema }

type fakeSelector struct {
	selected map[string]bool
	limit    float64
}

func (f fakeSelector) IsSelected(sym string) bool        { return f.selected[sym] }
func (f fakeSelector) RiskLimit(string, float64) float64 { return f.limit }

type fakeHistory struct {
	days     map[string]float64
	coverage map[string]float64
	err      error
}

func (f fakeHistory) HistoryMetrics(_ context.Context, sym string) (float64, float64, error) {
	return f.days[sym], f.coverage[sym], f.err
}

// closedBars builds n sequential closed candles at the given price.
func closedBars(symbol string, n int, price float64, start time.Time) []Candle {
	bars := make([]Candle, n)
	for i := range bars {
		bars[i] = Candle{
			Symbol: symbol,
			Start:  start.Add(time.Duration(i) * time.Hour),
			Open:   price, High: price, Low: price, Close: price,
			Closed: true,
		}
	}
	return bars
}
