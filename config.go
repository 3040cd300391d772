// FILE: config.go
// Package main – Runtime configuration model and loader.
//
// Configuration lives in a YAML file (default config/config.yaml) mirroring
// the sections the engine consumes: exchange, trading, model, risk,
// performance_guard, portfolio, signal_queue, operations, logging. API
// credentials and the alert webhook never live in the file; they come from
// the environment (BYBIT_API_KEY, BYBIT_API_SECRET, BYBIT_TESTNET,
// ALERT_WEBHOOK_URL) via the helpers in env.go.

package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime knobs for trading and operations.
type Config struct {
	Exchange   ExchangeConfig  `yaml:"exchange"`
	Trading    TradingConfig   `yaml:"trading"`
	Model      ModelConfig     `yaml:"model"`
	Risk       RiskConfig      `yaml:"risk"`
	Guard      GuardConfig     `yaml:"performance_guard"`
	Portfolio  PortfolioConfig `yaml:"portfolio"`
	Queue      QueueConfig     `yaml:"signal_queue"`
	Operations OpsConfig       `yaml:"operations"`
	Logging    LoggingConfig   `yaml:"logging"`
}

type ExchangeConfig struct {
	Testnet   bool   `yaml:"testnet"`
	APIKey    string `yaml:"-"` // env only
	APISecret string `yaml:"-"` // env only
}

type TradingConfig struct {
	Symbols         []string `yaml:"symbols"`
	IntervalMinutes int      `yaml:"interval_minutes"`
	MaxHistoryBars  int      `yaml:"max_history_bars"`
	WarmupBars      int      `yaml:"warmup_bars"` // minimum closed bars before evaluating
	DedupWindow     int      `yaml:"dedup_window"`
}

type ModelConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	MinHistoryDays      float64 `yaml:"min_history_days"`
	MinHistoryCoverage  float64 `yaml:"min_history_coverage"`
	TrainingQueuePath   string  `yaml:"training_queue_path"`
}

type RiskConfig struct {
	MaxLeverage             int     `yaml:"max_leverage"`
	MaxPositionSize         float64 `yaml:"max_position_size"` // fraction of equity
	MaxDailyLoss            float64 `yaml:"max_daily_loss"`    // fraction of equity
	MaxDrawdown             float64 `yaml:"max_drawdown"`      // fraction from peak
	MaxOpenPositions        int     `yaml:"max_open_positions"`
	MinRiskPerTrade         float64 `yaml:"min_risk_per_trade"` // fraction of equity at risk
	MaxRiskPerTrade         float64 `yaml:"max_risk_per_trade"`
	StopLossPct             float64 `yaml:"stop_loss_pct"`
	TakeProfitPct           float64 `yaml:"take_profit_pct"`
	CooldownHours           float64 `yaml:"cooldown_hours"`
	MaxConsecutiveAPIErrors int     `yaml:"max_consecutive_api_errors"`

	VolTargeting VolTargetingConfig `yaml:"volatility_targeting"`
}

type VolTargetingConfig struct {
	Enabled          bool    `yaml:"enabled"`
	TargetVolatility float64 `yaml:"target_volatility"`
	MaxMultiplier    float64 `yaml:"max_multiplier"`
}

type GuardConfig struct {
	Enabled              bool    `yaml:"enabled"`
	WindowTrades         int     `yaml:"rolling_window_trades"`
	MinSampleTrades      int     `yaml:"min_sample_trades"`
	WinRateReduced       float64 `yaml:"win_rate_threshold_reduced"`
	WinRatePaused        float64 `yaml:"win_rate_threshold_paused"`
	DrawdownReduced      float64 `yaml:"drawdown_threshold_reduced"`
	DrawdownPaused       float64 `yaml:"drawdown_threshold_paused"`
	LosingStreakReduced  int     `yaml:"losing_streak_reduced"`
	LosingStreakPaused   int     `yaml:"losing_streak_paused"`
	RecoveryWinRate      float64 `yaml:"recovery_win_rate"`
	RecoveryDrawdown     float64 `yaml:"recovery_drawdown"`
	ConfidenceAdjustment float64 `yaml:"confidence_adjustment"` // added to the entry threshold while REDUCED
}

type PortfolioConfig struct {
	Enabled bool `yaml:"enabled"`
}

type QueueConfig struct {
	TTLMinutes int `yaml:"ttl_minutes"`
}

type OpsConfig struct {
	Port                   int    `yaml:"port"`
	MonitorIntervalSeconds int    `yaml:"monitor_interval_seconds"`
	HealthIntervalSeconds  int    `yaml:"health_check_interval_seconds"`
	MaxCandleGapMinutes    int    `yaml:"max_candle_gap_minutes"`
	MaxAPIErrors           int    `yaml:"max_api_errors"`
	APIErrorWindowMinutes  int    `yaml:"api_error_window_minutes"`
	MaxNoTradeHours        int    `yaml:"max_no_trade_hours"`
	StatusFilePath         string `yaml:"status_file_path"`
	StateFilePath          string `yaml:"state_file_path"`
	AlertWebhookURL        string `yaml:"-"` // env only
}

type LoggingConfig struct {
	Level        string `yaml:"level"`
	TradeLogPath string `yaml:"trade_log_path"`
}

// defaultConfig returns a Config with every knob at its documented default.
func defaultConfig() Config {
	return Config{
		Exchange: ExchangeConfig{Testnet: true},
		Trading: TradingConfig{
			Symbols:         []string{"BTCUSDT", "ETHUSDT"},
			IntervalMinutes: 60,
			MaxHistoryBars:  500,
			WarmupBars:      50,
			DedupWindow:     100,
		},
		Model: ModelConfig{
			ConfidenceThreshold: 0.60,
			MinHistoryDays:      90,
			MinHistoryCoverage:  0.95,
			TrainingQueuePath:   "data/new_symbol_training_queue.json",
		},
		Risk: RiskConfig{
			MaxLeverage:             3,
			MaxPositionSize:         0.10,
			MaxDailyLoss:            0.05,
			MaxDrawdown:             0.15,
			MaxOpenPositions:        3,
			MinRiskPerTrade:         0.006,
			MaxRiskPerTrade:         0.0133,
			StopLossPct:             0.015,
			TakeProfitPct:           0.03,
			CooldownHours:           4,
			MaxConsecutiveAPIErrors: 10,
			VolTargeting: VolTargetingConfig{
				Enabled:          false,
				TargetVolatility: 0.01,
				MaxMultiplier:    2.0,
			},
		},
		Guard: GuardConfig{
			Enabled:              true,
			WindowTrades:         10,
			MinSampleTrades:      5,
			WinRateReduced:       0.40,
			WinRatePaused:        0.30,
			DrawdownReduced:      0.05,
			DrawdownPaused:       0.10,
			LosingStreakReduced:  5,
			LosingStreakPaused:   10,
			RecoveryWinRate:      0.45,
			RecoveryDrawdown:     0.05,
			ConfidenceAdjustment: 0.10,
		},
		Queue: QueueConfig{TTLMinutes: 60},
		Operations: OpsConfig{
			Port:                   8080,
			MonitorIntervalSeconds: 60,
			HealthIntervalSeconds:  300,
			MaxCandleGapMinutes:    15,
			MaxAPIErrors:           5,
			APIErrorWindowMinutes:  10,
			MaxNoTradeHours:        168,
			StatusFilePath:         "logs/bot_status.json",
			StateFilePath:          "data/bot_state.json",
		},
		Logging: LoggingConfig{
			Level:        "info",
			TradeLogPath: "logs/trades",
		},
	}
}

// loadConfig reads the YAML file over the defaults and applies environment
// overrides for secrets. A missing file is not an error: defaults plus env
// are enough to run against testnet.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if bs, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(bs, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.Exchange.APIKey = getEnv("BYBIT_API_KEY", cfg.Exchange.APIKey)
	cfg.Exchange.APISecret = getEnv("BYBIT_API_SECRET", cfg.Exchange.APISecret)
	cfg.Exchange.Testnet = getEnvBool("BYBIT_TESTNET", cfg.Exchange.Testnet)
	cfg.Operations.AlertWebhookURL = getEnv("ALERT_WEBHOOK_URL", "")

	if cfg.Trading.IntervalMinutes <= 0 {
		cfg.Trading.IntervalMinutes = 60
	}
	if cfg.Queue.TTLMinutes <= 0 {
		cfg.Queue.TTLMinutes = 60
	}
	if cfg.Operations.MonitorIntervalSeconds <= 0 {
		cfg.Operations.MonitorIntervalSeconds = 60
	}
	if cfg.Risk.StopLossPct <= 0 {
		return cfg, fmt.Errorf("risk: stop_loss_pct must be positive")
	}
	if cfg.Risk.MaxRiskPerTrade < cfg.Risk.MinRiskPerTrade {
		return cfg, fmt.Errorf("risk: max_risk_per_trade (%g) below min_risk_per_trade (%g)",
			cfg.Risk.MaxRiskPerTrade, cfg.Risk.MinRiskPerTrade)
	}
	return cfg, nil
}

// BarInterval is the configured feed interval as a duration.
func (t TradingConfig) BarInterval() time.Duration {
	return time.Duration(t.IntervalMinutes) * time.Minute
}

// Cooldown is the per-instrument re-entry cooldown as a duration.
func (r RiskConfig) Cooldown() time.Duration {
	return time.Duration(r.CooldownHours * float64(time.Hour))
}

// TTL is the queued-signal time-to-live as a duration.
func (q QueueConfig) TTL() time.Duration {
	return time.Duration(q.TTLMinutes) * time.Minute
}
