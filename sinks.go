// FILE: sinks.go
// Package main – Fire-and-forget sinks: trade event log, health monitor, and
// webhook alerts.
//
// Nothing in the decision path consumes a return value from these. A sink
// failure is logged and swallowed; the core keeps trading.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// ---------- trade logger ----------

// TradeLogger appends structured trade events to a daily JSONL file and
// keeps a running session summary.
type TradeLogger struct {
	dir string
	log zerolog.Logger

	trades   int
	wins     int
	totalPnL float64

	now func() time.Time
}

func NewTradeLogger(dir string, log zerolog.Logger) *TradeLogger {
	return &TradeLogger{
		dir: dir,
		log: log.With().Str("component", "tradelog").Logger(),
		now: time.Now,
	}
}

type tradeEvent struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Data      any    `json:"data"`
}

func (t *TradeLogger) write(eventType string, data any) {
	if t.dir == "" {
		return
	}
	now := t.now().UTC()
	ev := tradeEvent{
		Timestamp: now.Format(time.RFC3339),
		Type:      eventType,
		Data:      data,
	}
	bs, err := json.Marshal(ev)
	if err != nil {
		t.log.Warn().Err(err).Msg("event marshal failed")
		return
	}
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		t.log.Warn().Err(err).Msg("trade log dir")
		return
	}
	path := filepath.Join(t.dir, "trades_"+now.Format("20060102")+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.log.Warn().Err(err).Msg("trade log open")
		return
	}
	defer f.Close()
	_, _ = f.Write(append(bs, '\n'))
}

func (t *TradeLogger) LogSignal(s QueuedSignal) {
	t.write("SIGNAL_GENERATED", map[string]any{
		"symbol":     s.Symbol,
		"direction":  string(s.Direction),
		"confidence": s.Confidence,
		"strength":   s.Strength,
		"ref_price":  s.RefPrice,
	})
}

func (t *TradeLogger) LogOrder(pos *Position) {
	t.write("ORDER_PLACED", map[string]any{
		"symbol":      pos.Symbol,
		"side":        string(pos.Side),
		"qty":         pos.Qty,
		"entry_price": pos.EntryPrice,
		"stop_loss":   pos.StopLoss,
		"take_profit": pos.TakeProfit,
		"order_id":    pos.OrderID,
	})
}

func (t *TradeLogger) LogTradeClosed(o TradeOutcome) {
	t.trades++
	if o.Win {
		t.wins++
	}
	t.totalPnL += o.PnL
	t.write("TRADE_CLOSED", map[string]any{
		"symbol":      o.Symbol,
		"side":        string(o.Side),
		"entry_price": o.EntryPrice,
		"exit_price":  o.ExitPrice,
		"qty":         o.Qty,
		"pnl":         o.PnL,
		"win":         o.Win,
		"reason":      o.Reason,
	})
}

func (t *TradeLogger) LogError(component string, err error) {
	t.write("ERROR", map[string]any{
		"component": component,
		"error":     err.Error(),
	})
}

// WriteSummary flushes the session summary; called at shutdown.
func (t *TradeLogger) WriteSummary() {
	winRate := 0.0
	if t.trades > 0 {
		winRate = float64(t.wins) / float64(t.trades)
	}
	t.write("SESSION_SUMMARY", map[string]any{
		"trades":    t.trades,
		"wins":      t.wins,
		"win_rate":  winRate,
		"total_pnl": t.totalPnL,
	})
	t.log.Info().
		Int("trades", t.trades).
		Float64("win_rate", winRate).
		Float64("total_pnl", t.totalPnL).
		Msg("session summary")
}

// ---------- health monitor ----------

// HealthStatus is the coarse system health level.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthDegraded  HealthStatus = "DEGRADED"
	HealthUnhealthy HealthStatus = "UNHEALTHY"
)

// HealthMonitor tracks feed freshness, trade recency, and a sliding window
// of API errors, and periodically writes a status file for external probes.
type HealthMonitor struct {
	cfg OpsConfig
	log zerolog.Logger

	lastCandle map[string]time.Time
	lastTrade  time.Time
	startedAt  time.Time
	apiErrors  []time.Time

	now func() time.Time
}

func NewHealthMonitor(cfg OpsConfig, log zerolog.Logger) *HealthMonitor {
	now := time.Now()
	return &HealthMonitor{
		cfg:        cfg,
		log:        log.With().Str("component", "health").Logger(),
		lastCandle: make(map[string]time.Time),
		startedAt:  now,
		now:        time.Now,
	}
}

func (h *HealthMonitor) RecordCandle(symbol string) { h.lastCandle[symbol] = h.now() }
func (h *HealthMonitor) RecordTrade()               { h.lastTrade = h.now() }

func (h *HealthMonitor) RecordAPIError() {
	now := h.now()
	h.apiErrors = append(h.apiErrors, now)
	cutoff := now.Add(-time.Duration(h.cfg.APIErrorWindowMinutes) * time.Minute)
	kept := h.apiErrors[:0]
	for _, t := range h.apiErrors {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	h.apiErrors = kept
}

// HealthReport is one health evaluation.
type HealthReport struct {
	Status    HealthStatus `json:"status"`
	Timestamp string       `json:"timestamp"`
	UptimeSec float64      `json:"uptime_seconds"`
	Issues    []string     `json:"issues"`
	Warnings  []string     `json:"warnings"`
}

// Check evaluates health: stale candles or an API-error burst are issues
// (UNHEALTHY); a long stretch without trades is a warning (DEGRADED).
func (h *HealthMonitor) Check() HealthReport {
	now := h.now()
	rep := HealthReport{
		Status:    HealthHealthy,
		Timestamp: now.UTC().Format(time.RFC3339),
		UptimeSec: now.Sub(h.startedAt).Seconds(),
		Issues:    []string{},
		Warnings:  []string{},
	}

	maxGap := time.Duration(h.cfg.MaxCandleGapMinutes) * time.Minute
	for sym, last := range h.lastCandle {
		if gap := now.Sub(last); gap > maxGap {
			rep.Issues = append(rep.Issues, fmt.Sprintf("no candle for %s in %s", sym, gap.Round(time.Second)))
		}
	}

	cutoff := now.Add(-time.Duration(h.cfg.APIErrorWindowMinutes) * time.Minute)
	recent := 0
	for _, t := range h.apiErrors {
		if t.After(cutoff) {
			recent++
		}
	}
	if recent >= h.cfg.MaxAPIErrors {
		rep.Issues = append(rep.Issues, fmt.Sprintf("%d api errors in %dm window", recent, h.cfg.APIErrorWindowMinutes))
	}

	maxIdle := time.Duration(h.cfg.MaxNoTradeHours) * time.Hour
	anchor := h.lastTrade
	if anchor.IsZero() {
		anchor = h.startedAt
	}
	if idle := now.Sub(anchor); idle > maxIdle {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("no trades in %s", idle.Round(time.Minute)))
	}

	switch {
	case len(rep.Issues) > 0:
		rep.Status = HealthUnhealthy
	case len(rep.Warnings) > 0:
		rep.Status = HealthDegraded
	}
	return rep
}

// WriteStatus evaluates health and writes the report to the status file.
func (h *HealthMonitor) WriteStatus() HealthReport {
	rep := h.Check()
	if h.cfg.StatusFilePath == "" {
		return rep
	}
	bs, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return rep
	}
	if dir := filepath.Dir(h.cfg.StatusFilePath); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	tmp := h.cfg.StatusFilePath + ".tmp"
	if err := os.WriteFile(tmp, bs, 0o644); err == nil {
		_ = os.Rename(tmp, h.cfg.StatusFilePath)
	} else {
		h.log.Warn().Err(err).Msg("status file write failed")
	}
	return rep
}

// ---------- alert manager ----------

// AlertSeverity selects the embed color.
type AlertSeverity string

const (
	AlertInfo     AlertSeverity = "info"
	AlertWarning  AlertSeverity = "warning"
	AlertCritical AlertSeverity = "critical"
)

func severityColor(s AlertSeverity) int {
	switch s {
	case AlertCritical:
		return 0xe74c3c
	case AlertWarning:
		return 0xe67e22
	default:
		return 0x2ecc71
	}
}

// AlertManager posts severity-colored embeds to a webhook. With no URL
// configured every send is a silent no-op.
type AlertManager struct {
	url  string
	http *http.Client
	log  zerolog.Logger
}

func NewAlertManager(url string, log zerolog.Logger) *AlertManager {
	return &AlertManager{
		url:  url,
		http: &http.Client{Timeout: 5 * time.Second},
		log:  log.With().Str("component", "alerts").Logger(),
	}
}

// Send posts the alert in the background; the caller never waits on it.
func (a *AlertManager) Send(severity AlertSeverity, title, message string) {
	if a.url == "" {
		return
	}
	payload := map[string]any{
		"embeds": []map[string]any{{
			"title":       title,
			"description": message,
			"color":       severityColor(severity),
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
		}},
	}
	bs, err := json.Marshal(payload)
	if err != nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(bs))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := a.http.Do(req)
		if err != nil {
			a.log.Warn().Err(err).Msg("alert webhook failed")
			return
		}
		resp.Body.Close()
	}()
}
