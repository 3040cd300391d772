// FILE: engine.go
// Package main – The decision orchestrator: one event loop owning all
// mutable trading state.
//
// Everything that mutates shared state (candle buffers, the admission queue,
// tracked positions, guard and risk accounting) runs on the single Run
// goroutine. The feed and HTTP layers only hand events in through a channel,
// so no two mutations of the same position or queue entry can ever race.

package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Collaborators bundles the external signal components consumed by the
// engine (§ feature/signal/regime/confidence/selector providers). Selector
// and History may be nil; a nil selector disables the cross-sectional layer.
type Collaborators struct {
	Features  FeatureEngine
	Signals   PrimarySignalGenerator
	Regime    RegimeFilter
	Predictor ConfidencePredictor
	Selector  PortfolioSelector
	History   HistoryProvider
}

type engineEvent struct {
	candle   *Candle
	tick     bool
	universe []string // non-nil for a universe refresh
}

// Engine wires the decision core together and runs the event loop.
type Engine struct {
	cfg Config
	log zerolog.Logger

	buffer     *CandleBuffer
	classifier *EligibilityClassifier
	states     map[string]EligibilityState
	risk       *RiskManager
	guard      *PerformanceGuard
	queue      *AdmissionQueue
	gateway    *ExecutionGateway
	reconciler *PositionReconciler
	client     ExchangeClient
	collab     Collaborators

	tradeLog *TradeLogger
	health   *HealthMonitor
	alerts   *AlertManager

	events     chan engineEvent
	halted     bool
	lastHealth HealthStatus
	lastCheck  time.Time

	now func() time.Time
}

func NewEngine(cfg Config, client ExchangeClient, collab Collaborators, log zerolog.Logger) *Engine {
	// The cross-sectional layer participates only when the portfolio section
	// enables it, regardless of whether a selector was wired in.
	if !cfg.Portfolio.Enabled {
		collab.Selector = nil
	}
	e := &Engine{
		cfg:        cfg,
		log:        log.With().Str("component", "engine").Logger(),
		buffer:     NewCandleBuffer(cfg.Trading.BarInterval(), cfg.Trading.MaxHistoryBars, cfg.Trading.DedupWindow),
		classifier: NewEligibilityClassifier(cfg.Model, collab.Predictor, collab.History, log),
		states:     make(map[string]EligibilityState),
		risk:       NewRiskManager(cfg.Risk, log),
		guard:      NewPerformanceGuard(cfg.Guard, log),
		queue:      NewAdmissionQueue(cfg.Queue.TTL(), log),
		gateway:    NewExecutionGateway(client, cfg.Risk.Cooldown(), log),
		client:     client,
		collab:     collab,
		tradeLog:   NewTradeLogger(cfg.Logging.TradeLogPath, log),
		health:     NewHealthMonitor(cfg.Operations, log),
		alerts:     NewAlertManager(cfg.Operations.AlertWebhookURL, log),
		events:     make(chan engineEvent, 256),
		lastHealth: HealthHealthy,
		now:        time.Now,
	}
	e.reconciler = NewPositionReconciler(client, e.gateway, cfg.Risk, e.onTradeClosed, log)
	return e
}

// OnCandle is the feed callback. Safe to call from any goroutine; the bar is
// handed to the event loop and processed there.
func (e *Engine) OnCandle(c Candle) {
	select {
	case e.events <- engineEvent{candle: &c}:
	default:
		e.log.Warn().Str("symbol", c.Symbol).Msg("event queue full, dropping candle")
	}
}

// RefreshUniverse replaces the instrument set; eligibility is re-classified
// wholesale on the event loop.
func (e *Engine) RefreshUniverse(symbols []string) {
	e.events <- engineEvent{universe: symbols}
}

// Run starts the engine and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.startup(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(time.Duration(e.cfg.Operations.MonitorIntervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return nil
		case <-ticker.C:
			e.handleTick(context.Background())
		case ev := <-e.events:
			switch {
			case ev.candle != nil:
				e.handleCandle(context.Background(), *ev.candle)
			case ev.universe != nil:
				e.cfg.Trading.Symbols = ev.universe
				e.states = e.classifier.Classify(context.Background(), ev.universe)
			}
		}
	}
}

func (e *Engine) startup(ctx context.Context) error {
	e.states = e.classifier.Classify(ctx, e.cfg.Trading.Symbols)

	if st, ok, err := loadState(e.cfg.Operations.StateFilePath); err != nil {
		e.log.Warn().Err(err).Msg("state restore failed, starting fresh")
	} else if ok {
		e.risk.Restore(st.Risk)
		e.guard.Restore(st.Guard)
		e.gateway.RestoreLastTrades(st.LastTrades)
		e.log.Info().Time("saved_at", st.SavedAt).Msg("state restored")
	}

	bal, err := e.client.GetBalance(ctx)
	if err != nil {
		return err
	}
	e.guard.SetBaselineEquity(bal.TotalEquity)

	// Leverage failures degrade to warnings; some accounts lack the
	// permission and trade at the account default.
	for sym, st := range e.states {
		if !st.Tradable() {
			continue
		}
		if err := e.client.SetLeverage(ctx, sym, e.cfg.Risk.MaxLeverage); err != nil {
			e.log.Warn().Err(err).Str("symbol", sym).Msg("set leverage failed")
		}
	}

	// Re-attach to whatever the exchange already holds.
	if err := e.reconciler.Reconcile(ctx); err != nil {
		e.log.Warn().Err(err).Msg("startup reconciliation failed")
	}
	e.risk.UpdateAccountState(bal.TotalEquity, e.reconciler.Symbols())
	mtxEquity.Set(bal.TotalEquity)

	e.log.Info().
		Int("symbols", len(e.cfg.Trading.Symbols)).
		Float64("equity", bal.TotalEquity).
		Int("open_positions", e.reconciler.OpenCount()).
		Msg("engine started")
	return nil
}

func (e *Engine) shutdown() {
	e.persistState()
	e.tradeLog.WriteSummary()
	e.log.Info().Msg("engine stopped")
}

func (e *Engine) persistState() {
	st := BotState{
		Risk:       e.risk.Snapshot(),
		Guard:      e.guard.Snapshot(),
		LastTrades: e.gateway.LastTradeTimes(),
	}
	if err := saveState(e.cfg.Operations.StateFilePath, st); err != nil {
		e.log.Warn().Err(err).Msg("state save failed")
	}
}

// ---------- candle path ----------

func (e *Engine) handleCandle(ctx context.Context, c Candle) {
	if c.Closed {
		e.health.RecordCandle(c.Symbol)
	}
	if !e.buffer.Ingest(c) {
		return
	}
	mtxCandles.WithLabelValues(c.Symbol).Inc()
	e.evaluate(ctx, c.Symbol)
}

// evaluate runs the decision pipeline for one new closed bar.
func (e *Engine) evaluate(ctx context.Context, symbol string) {
	if e.halted {
		return
	}
	if st, ok := e.states[symbol]; !ok || !st.Tradable() {
		return
	}
	bars := e.buffer.Bars(symbol)
	if len(bars) < e.cfg.Trading.WarmupBars {
		return
	}
	mtxSignalsEvaluated.WithLabelValues(symbol).Inc()

	feats, err := e.collab.Features.Compute(bars)
	if err != nil {
		e.log.Warn().Err(err).Str("symbol", symbol).Msg("feature computation failed")
		e.tradeLog.LogError("features", err)
		return
	}

	sig, err := e.collab.Signals.Generate(feats)
	if err != nil {
		e.log.Warn().Err(err).Str("symbol", symbol).Msg("signal generation failed")
		return
	}
	if sig.Direction == DirNeutral {
		return
	}

	allowed, reason, regimeMult := e.collab.Regime.ShouldAllow(feats, sig.Direction)
	if !allowed {
		e.log.Debug().Str("symbol", symbol).Str("reason", reason).Msg("regime blocked")
		return
	}

	if err := e.collab.Predictor.Schema().Validate(feats.Vector); err != nil {
		e.log.Error().Err(err).Str("symbol", symbol).Msg("feature vector rejected")
		e.tradeLog.LogError("schema", err)
		return
	}
	confidence, err := e.collab.Predictor.Predict(feats.Vector)
	if err != nil {
		e.log.Warn().Err(err).Str("symbol", symbol).Msg("confidence prediction failed")
		return
	}

	if e.collab.Selector != nil && !e.collab.Selector.IsSelected(symbol) {
		mtxRejections.WithLabelValues(string(RejectNotSelected)).Inc()
		return
	}

	if !e.guard.AllowTrade() {
		mtxRejections.WithLabelValues(string(RejectGuardPaused)).Inc()
		return
	}
	threshold := e.cfg.Model.ConfidenceThreshold + e.guard.ThresholdAdjustment()
	if confidence < threshold {
		e.log.Debug().
			Str("symbol", symbol).
			Float64("confidence", confidence).
			Float64("threshold", threshold).
			Msg("below confidence threshold")
		return
	}

	qs := QueuedSignal{
		Symbol:     symbol,
		Direction:  sig.Direction,
		Confidence: confidence,
		Strength:   sig.Strength,
		RefPrice:   feats.Close,
		Volatility: feats.Volatility,
		RegimeMult: regimeMult,
		EnqueuedAt: e.now(),
	}
	e.tradeLog.LogSignal(qs)
	e.queue.Enqueue(qs)
	mtxSignalsAdmitted.WithLabelValues(symbol).Inc()
	mtxQueueDepth.Set(float64(e.queue.Depth()))

	e.drain(ctx)
}

// drain attempts execution for the highest-ranked queued candidates, bounded
// by free position slots.
func (e *Engine) drain(ctx context.Context) {
	if e.halted {
		return
	}
	if !e.guard.AllowTrade() {
		if n := e.queue.Clear(); n > 0 {
			e.log.Warn().Int("dropped", n).Msg("trading paused, queue cleared")
		}
		mtxQueueDepth.Set(0)
		return
	}

	freeSlots := e.cfg.Risk.MaxOpenPositions - e.reconciler.OpenCount()
	if freeSlots <= 0 {
		return
	}
	rep := e.queue.Drain(e.now(), freeSlots, func(s QueuedSignal) *RejectReason {
		return e.execute(ctx, s)
	})
	if rep.Placed+rep.Expired+rep.Rejected+rep.Retained > 0 {
		e.log.Info().
			Int("placed", rep.Placed).
			Int("expired", rep.Expired).
			Int("rejected", rep.Rejected).
			Int("retained", rep.Retained).
			Msg("queue drained")
	}
	mtxQueueDepth.Set(float64(e.queue.Depth()))
}

// execute sizes and places one candidate. A nil return means a position was
// opened.
func (e *Engine) execute(ctx context.Context, s QueuedSignal) *RejectReason {
	equity := e.risk.Equity()
	if equity <= 0 {
		return rejectRetryable(RejectExchange, "no equity snapshot yet")
	}

	qty := e.risk.Size(equity, s.Confidence, s.RefPrice, s.Volatility)
	qty *= e.guard.SizeMultiplier()
	qty *= s.RegimeMult
	if e.collab.Selector != nil {
		if limit := e.collab.Selector.RiskLimit(s.Symbol, equity); limit > 0 && qty*s.RefPrice > limit {
			qty = limit / s.RefPrice
		}
	}
	if qty <= 0 {
		return rejectPermanent(RejectBelowMinimum, "sized to zero")
	}

	limitCheck := func(q float64) *RejectReason {
		return e.risk.CheckLimits(s.Symbol, q*s.RefPrice)
	}
	if rej := limitCheck(qty); rej != nil {
		mtxRejections.WithLabelValues(string(rej.Code)).Inc()
		return rej
	}

	side := SideBuy
	if s.Direction == DirShort {
		side = SideSell
	}
	req := PlaceRequest{
		Symbol:     s.Symbol,
		Side:       side,
		Qty:        qty,
		EntryPrice: s.RefPrice,
		StopLoss:   protectivePrice(s.RefPrice, side, -e.cfg.Risk.StopLossPct),
		TakeProfit: protectivePrice(s.RefPrice, side, e.cfg.Risk.TakeProfitPct),
	}

	pos, rej := e.gateway.Place(ctx, req, limitCheck)
	if rej != nil {
		mtxRejections.WithLabelValues(string(rej.Code)).Inc()
		if rej.Code == RejectExchange {
			mtxExchangeErrors.Inc()
			e.health.RecordAPIError()
		}
		return rej
	}

	e.reconciler.Register(pos)
	e.risk.NotePositionOpened(pos.Symbol)
	e.tradeLog.LogOrder(pos)
	e.health.RecordTrade()
	mtxOrders.WithLabelValues(string(pos.Side)).Inc()
	mtxOpenPositions.Set(float64(e.reconciler.OpenCount()))
	return nil
}

// ---------- monitor path ----------

func (e *Engine) handleTick(ctx context.Context) {
	if err := e.reconciler.Reconcile(ctx); err != nil {
		e.log.Warn().Err(err).Msg("reconciliation failed")
		e.health.RecordAPIError()
		mtxExchangeErrors.Inc()
	}

	if bal, err := e.client.GetBalance(ctx); err != nil {
		e.health.RecordAPIError()
		mtxExchangeErrors.Inc()
	} else {
		e.risk.UpdateAccountState(bal.TotalEquity, e.reconciler.Symbols())
		mtxEquity.Set(bal.TotalEquity)
	}

	if killed, reason := e.risk.KillSwitch(e.client.ConsecutiveErrors()); killed && !e.halted {
		e.halted = true
		dropped := e.queue.Clear()
		e.log.Error().Str("reason", reason).Int("dropped", dropped).Msg("kill switch: admissions halted")
		e.alerts.Send(AlertCritical, "Kill switch engaged", reason)
	}

	e.queue.ExpireStale(e.now())
	e.drainIfRoom(ctx)

	if e.now().Sub(e.lastCheck) >= time.Duration(e.cfg.Operations.HealthIntervalSeconds)*time.Second {
		e.lastCheck = e.now()
		rep := e.health.WriteStatus()
		if rep.Status != e.lastHealth {
			e.log.Warn().Str("status", string(rep.Status)).Strs("issues", rep.Issues).Msg("health status change")
			if rep.Status == HealthUnhealthy {
				e.alerts.Send(AlertWarning, "Health degraded", joinIssues(rep.Issues))
			}
			e.lastHealth = rep.Status
		}
	}

	e.persistState()

	mtxQueueDepth.Set(float64(e.queue.Depth()))
	mtxGuardState.Set(guardStatusGaugeValue(e.guard.Status()))
	mtxOpenPositions.Set(float64(e.reconciler.OpenCount()))

	tradable := 0
	for _, st := range e.states {
		if st.Tradable() {
			tradable++
		}
	}
	e.log.Info().
		Int("tradable", tradable).
		Int("blocked", len(e.states)-tradable).
		Int("open_positions", e.reconciler.OpenCount()).
		Int("queue_depth", e.queue.Depth()).
		Str("guard", string(e.guard.Status())).
		Float64("equity", e.risk.Equity()).
		Float64("daily_pnl", e.risk.DailyPnL()).
		Msg("heartbeat")
}

// drainIfRoom retries queued candidates on the monitor path, covering slots
// freed by exits between candles.
func (e *Engine) drainIfRoom(ctx context.Context) {
	if e.queue.Depth() > 0 {
		e.drain(ctx)
	}
}

// onTradeClosed folds a realized outcome into the accounting. Called from
// the reconciler on the event loop.
func (e *Engine) onTradeClosed(o TradeOutcome) {
	e.risk.RecordTradePnL(o.PnL)
	e.tradeLog.LogTradeClosed(o)
	e.health.RecordTrade()

	result := "loss"
	if o.Win {
		result = "win"
	}
	mtxTrades.WithLabelValues(result).Inc()
	mtxExitReasons.WithLabelValues(o.Reason, string(o.Side)).Inc()
	mtxOpenPositions.Set(float64(e.reconciler.OpenCount()))

	status, changed := e.guard.RecordTrade(o)
	mtxGuardState.Set(guardStatusGaugeValue(status))
	if changed {
		switch status {
		case GuardPaused:
			e.alerts.Send(AlertWarning, "Trading paused",
				"Performance guard paused new entries after recent results.")
			e.queue.Clear()
			mtxQueueDepth.Set(0)
		case GuardReduced:
			e.alerts.Send(AlertInfo, "Trading reduced",
				"Performance guard halved position sizing.")
		case GuardNormal:
			e.alerts.Send(AlertInfo, "Trading resumed", "Performance guard recovered.")
		}
	}
}

func joinIssues(issues []string) string {
	if len(issues) == 0 {
		return "no detail"
	}
	out := issues[0]
	for _, s := range issues[1:] {
		out += "; " + s
	}
	return out
}
