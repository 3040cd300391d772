// FILE: bybit.go
// Package main – Bybit v5 REST client (USDT perpetuals, category=linear).
//
// Every call goes through the same path: rate limiter, circuit breaker, then
// up to three attempts with a bounded per-attempt timeout and doubling
// backoff. Exhausted retries come back as an error the caller treats as "try
// later"; a retCode failure on a non-critical call (set-leverage) degrades to
// a warning at the call site. The client keeps a consecutive-error counter
// consumed by the kill switch and reset by any successful call.

package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	bybitMainnetURL = "https://api.bybit.com"
	bybitTestnetURL = "https://api-testnet.bybit.com"

	bybitRecvWindow  = "5000"
	bybitCategory    = "linear"
	bybitSettleCoin  = "USDT"
	bybitMaxAttempts = 3
	bybitBaseBackoff = 500 * time.Millisecond
	bybitCallTimeout = 10 * time.Second
)

// BybitClient implements ExchangeClient against the Bybit v5 API.
type BybitClient struct {
	baseURL   string
	apiKey    string
	apiSecret string

	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger

	errStreak atomic.Int64

	now func() time.Time
}

func NewBybitClient(cfg ExchangeConfig, log zerolog.Logger) *BybitClient {
	base := bybitMainnetURL
	if cfg.Testnet {
		base = bybitTestnetURL
	}
	c := &BybitClient{
		baseURL:   base,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		http:      &http.Client{Timeout: bybitCallTimeout},
		limiter:   rate.NewLimiter(rate.Limit(10), 20),
		log:       log.With().Str("component", "bybit").Logger(),
		now:       time.Now,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "bybit",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			c.log.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})
	return c
}

// ConsecutiveErrors reports the current run of failed calls.
func (c *BybitClient) ConsecutiveErrors() int {
	return int(c.errStreak.Load())
}

type bybitEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// sign builds the v5 HMAC signature over timestamp+key+recvWindow+payload.
func (c *BybitClient) sign(timestamp, payload string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(timestamp + c.apiKey + bybitRecvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *BybitClient) doOnce(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	var (
		payload string
		reqBody io.Reader
	)
	u := c.baseURL + path
	if len(query) > 0 {
		payload = query.Encode()
		u += "?" + payload
	}
	if body != nil {
		bs, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = string(bs)
		reqBody = bytes.NewReader(bs)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, bybitCallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, method, u, reqBody)
	if err != nil {
		return nil, err
	}
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	req.Header.Set("X-BAPI-API-KEY", c.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-SIGN", c.sign(ts, payload))
	req.Header.Set("X-BAPI-RECV-WINDOW", bybitRecvWindow)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	bs, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(bs))
	}
	var env bybitEnvelope
	if err := json.Unmarshal(bs, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if env.RetCode != 0 {
		return nil, fmt.Errorf("bybit retCode %d: %s", env.RetCode, env.RetMsg)
	}
	return env.Result, nil
}

// call runs one API call through the limiter, breaker, and retry loop.
func (c *BybitClient) call(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	var lastErr error
	backoff := bybitBaseBackoff

	for attempt := 1; attempt <= bybitMaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		res, err := c.breaker.Execute(func() (any, error) {
			return c.doOnce(ctx, method, path, query, body)
		})
		if err == nil {
			c.errStreak.Store(0)
			return res.(json.RawMessage), nil
		}
		lastErr = err
		c.errStreak.Add(1)
		c.log.Warn().
			Err(err).
			Str("path", path).
			Int("attempt", attempt).
			Msg("api call failed")

		if attempt < bybitMaxAttempts {
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("%s %s: %w", method, path, lastErr)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// GetBalance returns the UNIFIED account equity snapshot.
func (c *BybitClient) GetBalance(ctx context.Context) (Balance, error) {
	q := url.Values{"accountType": {"UNIFIED"}}
	raw, err := c.call(ctx, http.MethodGet, "/v5/account/wallet-balance", q, nil)
	if err != nil {
		return Balance{}, err
	}
	var res struct {
		List []struct {
			TotalEquity           string `json:"totalEquity"`
			TotalAvailableBalance string `json:"totalAvailableBalance"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return Balance{}, fmt.Errorf("decode balance: %w", err)
	}
	if len(res.List) == 0 {
		return Balance{}, fmt.Errorf("wallet-balance: empty account list")
	}
	return Balance{
		TotalEquity:      parseFloat(res.List[0].TotalEquity),
		AvailableBalance: parseFloat(res.List[0].TotalAvailableBalance),
	}, nil
}

// GetPositions returns all non-zero linear positions settled in USDT.
func (c *BybitClient) GetPositions(ctx context.Context) ([]ExchangePosition, error) {
	q := url.Values{
		"category":   {bybitCategory},
		"settleCoin": {bybitSettleCoin},
	}
	raw, err := c.call(ctx, http.MethodGet, "/v5/position/list", q, nil)
	if err != nil {
		return nil, err
	}
	var res struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Size          string `json:"size"`
			AvgPrice      string `json:"avgPrice"`
			MarkPrice     string `json:"markPrice"`
			Leverage      string `json:"leverage"`
			UnrealisedPnl string `json:"unrealisedPnl"`
			LiqPrice      string `json:"liqPrice"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	out := make([]ExchangePosition, 0, len(res.List))
	for _, p := range res.List {
		size := parseFloat(p.Size)
		if size == 0 {
			continue
		}
		out = append(out, ExchangePosition{
			Symbol:           p.Symbol,
			Side:             OrderSide(p.Side),
			Size:             size,
			EntryPrice:       parseFloat(p.AvgPrice),
			MarkPrice:        parseFloat(p.MarkPrice),
			Leverage:         parseFloat(p.Leverage),
			UnrealizedPnL:    parseFloat(p.UnrealisedPnl),
			LiquidationPrice: parseFloat(p.LiqPrice),
		})
	}
	return out, nil
}

// GetOpenOrders returns resting and conditional orders for a symbol.
func (c *BybitClient) GetOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	q := url.Values{
		"category": {bybitCategory},
		"symbol":   {symbol},
	}
	raw, err := c.call(ctx, http.MethodGet, "/v5/order/realtime", q, nil)
	if err != nil {
		return nil, err
	}
	var res struct {
		List []struct {
			OrderID      string `json:"orderId"`
			Symbol       string `json:"symbol"`
			Side         string `json:"side"`
			Qty          string `json:"qty"`
			Price        string `json:"price"`
			StopLoss     string `json:"stopLoss"`
			TakeProfit   string `json:"takeProfit"`
			TriggerPrice string `json:"triggerPrice"`
			OrderStatus  string `json:"orderStatus"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}
	out := make([]OpenOrder, 0, len(res.List))
	for _, o := range res.List {
		out = append(out, OpenOrder{
			OrderID:      o.OrderID,
			Symbol:       o.Symbol,
			Side:         OrderSide(o.Side),
			Qty:          parseFloat(o.Qty),
			Price:        parseFloat(o.Price),
			StopLoss:     parseFloat(o.StopLoss),
			TakeProfit:   parseFloat(o.TakeProfit),
			TriggerPrice: parseFloat(o.TriggerPrice),
			Status:       o.OrderStatus,
		})
	}
	return out, nil
}

// PlaceOrder submits a market order, optionally with stop-loss/take-profit
// attached. A fresh orderLinkId makes accidental resubmission harmless.
func (c *BybitClient) PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	linkID := uuid.NewString()
	body := map[string]any{
		"category":    bybitCategory,
		"symbol":      req.Symbol,
		"side":        string(req.Side),
		"orderType":   "Market",
		"qty":         strconv.FormatFloat(req.Qty, 'f', -1, 64),
		"orderLinkId": linkID,
	}
	if req.StopLoss > 0 {
		body["stopLoss"] = strconv.FormatFloat(req.StopLoss, 'f', -1, 64)
	}
	if req.TakeProfit > 0 {
		body["takeProfit"] = strconv.FormatFloat(req.TakeProfit, 'f', -1, 64)
	}
	if req.ReduceOnly {
		body["reduceOnly"] = true
	}

	raw, err := c.call(ctx, http.MethodPost, "/v5/order/create", nil, body)
	if err != nil {
		return OrderAck{}, err
	}
	var res struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return OrderAck{}, fmt.Errorf("decode order ack: %w", err)
	}
	return OrderAck{
		OrderID:     res.OrderID,
		OrderLinkID: linkID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Qty:         req.Qty,
	}, nil
}

// CancelOrder cancels one open order.
func (c *BybitClient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	body := map[string]any{
		"category": bybitCategory,
		"symbol":   symbol,
		"orderId":  orderID,
	}
	_, err := c.call(ctx, http.MethodPost, "/v5/order/cancel", nil, body)
	return err
}

// SetLeverage sets buy and sell leverage for a symbol. "Leverage not
// modified" (retCode 110043) is not a failure.
func (c *BybitClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	lev := strconv.Itoa(leverage)
	body := map[string]any{
		"category":     bybitCategory,
		"symbol":       symbol,
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}
	_, err := c.call(ctx, http.MethodPost, "/v5/position/set-leverage", nil, body)
	if err != nil && bytes.Contains([]byte(err.Error()), []byte("110043")) {
		return nil
	}
	return err
}

// GetInstrumentInfo fetches the order filters for a symbol.
func (c *BybitClient) GetInstrumentInfo(ctx context.Context, symbol string) (InstrumentInfo, error) {
	q := url.Values{
		"category": {bybitCategory},
		"symbol":   {symbol},
	}
	raw, err := c.call(ctx, http.MethodGet, "/v5/market/instruments-info", q, nil)
	if err != nil {
		return InstrumentInfo{}, err
	}
	var res struct {
		List []struct {
			Symbol      string `json:"symbol"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
			LotSizeFilter struct {
				QtyStep          string `json:"qtyStep"`
				MinOrderQty      string `json:"minOrderQty"`
				MinNotionalValue string `json:"minNotionalValue"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return InstrumentInfo{}, fmt.Errorf("decode instrument info: %w", err)
	}
	if len(res.List) == 0 {
		return InstrumentInfo{}, fmt.Errorf("instruments-info: %s not found", symbol)
	}
	i := res.List[0]
	return InstrumentInfo{
		Symbol:      i.Symbol,
		TickSize:    parseFloat(i.PriceFilter.TickSize),
		QtyStep:     parseFloat(i.LotSizeFilter.QtyStep),
		MinOrderQty: parseFloat(i.LotSizeFilter.MinOrderQty),
		MinNotional: parseFloat(i.LotSizeFilter.MinNotionalValue),
	}, nil
}
