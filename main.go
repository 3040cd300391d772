// FILE: main.go
// Package main – Program entrypoint and HTTP/metrics server.
//
// Boot sequence:
//   1) load YAML config + env secrets (loadConfig)
//   2) build the zerolog logger at the configured level
//   3) wire exchange client, collaborators, engine
//   4) start Prometheus /metrics and /healthz on operations.port
//   5) start the kline feed and the engine event loop
//
// Flags:
//   -config <path>   Config file path (default config/config.yaml)
//
// Example:
//   BYBIT_API_KEY=... BYBIT_API_SECRET=... go run . -config config/config.yaml

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)

	client := NewBybitClient(cfg.Exchange, log)
	engine := NewEngine(cfg, client, defaultCollaborators(cfg.Trading.Symbols), log)
	feed := NewCandleFeed(cfg.Exchange.Testnet, cfg.Trading.IntervalMinutes, cfg.Trading.Symbols, engine.OnCandle, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Operations.Port), Handler: mux}
	go func() {
		log.Info().Int("port", cfg.Operations.Port).Msg("serving /metrics and /healthz")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server")
			os.Exit(1)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go feed.Run(ctx)

	if err := engine.Run(ctx); err != nil {
		log.Error().Err(err).Msg("engine failed")
	}

	shutdownCtx, c := context.WithTimeout(context.Background(), 2*time.Second)
	defer c()
	_ = srv.Shutdown(shutdownCtx)
}
