// FILE: feed.go
// Package main – Bybit v5 public kline websocket feed.
//
// The feed pushes every bar, closed or partial, to a single callback; dedup
// and the closed/partial split belong to the candle buffer, not here. The
// connection is kept alive with the venue's application-level ping and
// reconnects with capped doubling backoff, resubscribing on every connect.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	bybitMainnetWS = "wss://stream.bybit.com/v5/public/linear"
	bybitTestnetWS = "wss://stream-testnet.bybit.com/v5/public/linear"

	feedPingInterval = 20 * time.Second
	feedReadTimeout  = 60 * time.Second
	feedMaxBackoff   = time.Minute
)

// CandleFeed streams kline updates for a set of symbols.
type CandleFeed struct {
	wsURL    string
	interval int // minutes
	symbols  []string
	onCandle func(Candle)
	log      zerolog.Logger
}

func NewCandleFeed(testnet bool, intervalMinutes int, symbols []string, onCandle func(Candle), log zerolog.Logger) *CandleFeed {
	u := bybitMainnetWS
	if testnet {
		u = bybitTestnetWS
	}
	return &CandleFeed{
		wsURL:    u,
		interval: intervalMinutes,
		symbols:  symbols,
		onCandle: onCandle,
		log:      log.With().Str("component", "feed").Logger(),
	}
}

// Run connects and pumps candles until ctx is cancelled, reconnecting on any
// failure.
func (f *CandleFeed) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if err := f.connectAndPump(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			f.log.Warn().Err(err).Dur("backoff", backoff).Msg("feed disconnected")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > feedMaxBackoff {
			backoff = feedMaxBackoff
		}
	}
}

type wsSubscribe struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

type wsKlineMsg struct {
	Topic string `json:"topic"`
	Data  []struct {
		Start    int64  `json:"start"`
		Open     string `json:"open"`
		High     string `json:"high"`
		Low      string `json:"low"`
		Close    string `json:"close"`
		Volume   string `json:"volume"`
		Turnover string `json:"turnover"`
		Confirm  bool   `json:"confirm"`
	} `json:"data"`
}

func (f *CandleFeed) connectAndPump(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.wsURL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.wsURL, err)
	}
	defer conn.Close()

	args := make([]string, 0, len(f.symbols))
	for _, s := range f.symbols {
		args = append(args, fmt.Sprintf("kline.%d.%s", f.interval, s))
	}
	if err := conn.WriteJSON(wsSubscribe{Op: "subscribe", Args: args}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	f.log.Info().Strs("topics", args).Msg("feed connected")

	// Close on ctx cancel so the blocked ReadMessage returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(feedPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteJSON(map[string]string{"op": "ping"}); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
		_, bs, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.handleMessage(bs)
	}
}

func (f *CandleFeed) handleMessage(bs []byte) {
	var msg wsKlineMsg
	if err := json.Unmarshal(bs, &msg); err != nil || len(msg.Data) == 0 {
		return // pong, subscription ack, or noise
	}
	symbol, ok := symbolFromKlineTopic(msg.Topic)
	if !ok {
		return
	}
	for _, k := range msg.Data {
		f.onCandle(Candle{
			Symbol:   symbol,
			Start:    time.UnixMilli(k.Start).UTC(),
			Open:     parseFloat(k.Open),
			High:     parseFloat(k.High),
			Low:      parseFloat(k.Low),
			Close:    parseFloat(k.Close),
			Volume:   parseFloat(k.Volume),
			Turnover: parseFloat(k.Turnover),
			Closed:   k.Confirm,
		})
	}
}

// symbolFromKlineTopic parses "kline.{interval}.{symbol}".
func symbolFromKlineTopic(topic string) (string, bool) {
	const prefix = "kline."
	if len(topic) <= len(prefix) || topic[:len(prefix)] != prefix {
		return "", false
	}
	rest := topic[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '.' {
			if _, err := strconv.Atoi(rest[:i]); err != nil {
				return "", false
			}
			return rest[i+1:], true
		}
	}
	return "", false
}
