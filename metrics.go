// FILE: metrics.go
// Package main – Prometheus metrics for observability.
//
// Exposes primary metrics the bot updates during operation:
//   • bot_candles_total{symbol}        – Closed candles accepted after dedup
//   • bot_signals_evaluated_total{symbol} – Pipeline runs per symbol
//   • bot_signals_admitted_total{symbol}  – Candidates enqueued for execution
//   • bot_orders_total{side}           – Orders placed
//   • bot_trades_total{result}         – Closed trades by result (win|loss)
//   • bot_exit_reasons_total{reason,side} – Exits split by reason and side
//   • bot_rejections_total{code}       – Trade denials by reject code
//   • bot_equity_usd                   – Current equity snapshot (gauge)
//   • bot_queue_depth                  – Admission queue depth (gauge)
//   • bot_guard_state                  – Guard state (0 normal, 1 reduced, 2 paused)
//   • bot_open_positions               – Tracked open positions (gauge)
//   • bot_exchange_errors_total        – Exhausted exchange calls
//
// These are registered in init() and served by the HTTP handler started in
// main.go at /metrics (Prometheus text exposition format).

package main

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxCandles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_candles_total",
			Help: "Closed candles accepted after dedup",
		},
		[]string{"symbol"},
	)

	mtxSignalsEvaluated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_signals_evaluated_total",
			Help: "Decision pipeline runs",
		},
		[]string{"symbol"},
	)

	mtxSignalsAdmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_signals_admitted_total",
			Help: "Candidates admitted to the execution queue",
		},
		[]string{"symbol"},
	)

	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_orders_total",
			Help: "Orders placed",
		},
		[]string{"side"},
	)

	mtxTrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_trades_total",
			Help: "Closed trades by result (win|loss)",
		},
		[]string{"result"},
	)

	mtxExitReasons = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_exit_reasons_total",
			Help: "Total exits split by reason and side",
		},
		[]string{"reason", "side"},
	)

	mtxRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_rejections_total",
			Help: "Trade denials by reject code",
		},
		[]string{"code"},
	)

	mtxEquity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_equity_usd",
			Help: "Equity in USD",
		},
	)

	mtxQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_queue_depth",
			Help: "Admission queue depth",
		},
	)

	// 0 normal, 1 reduced, 2 paused.
	mtxGuardState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_guard_state",
			Help: "Performance guard state (0 normal, 1 reduced, 2 paused)",
		},
	)

	mtxOpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_open_positions",
			Help: "Tracked open positions",
		},
	)

	mtxExchangeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_exchange_errors_total",
			Help: "Exchange calls that exhausted their retries",
		},
	)
)

func init() {
	prometheus.MustRegister(mtxCandles, mtxSignalsEvaluated, mtxSignalsAdmitted)
	prometheus.MustRegister(mtxOrders, mtxTrades, mtxExitReasons, mtxRejections)
	prometheus.MustRegister(mtxEquity, mtxQueueDepth, mtxGuardState, mtxOpenPositions)
	prometheus.MustRegister(mtxExchangeErrors)
}
