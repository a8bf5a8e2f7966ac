package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ensemble-backtest/services/engine"
	"ensemble-backtest/services/live"
)

// TestnetURL is the USD-M futures testnet, used when no base URL is set
const TestnetURL = "https://testnet.binancefuture.com"

type BinanceConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	APISecret  string        `yaml:"api_secret"`
	Symbol     string        `yaml:"symbol"`
	Filters    SymbolFilters `yaml:"filters"`
	RecvWindow time.Duration `yaml:"recv_window"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Binance is a USD-M futures REST client implementing live.Gateway
type Binance struct {
	cfg    BinanceConfig
	http   *http.Client
	logger *zap.Logger
	now    func() time.Time
}

func NewBinance(cfg BinanceConfig, logger *zap.Logger) *Binance {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = TestnetURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RecvWindow <= 0 {
		cfg.RecvWindow = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Binance{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 15 * time.Second}).DialContext,
				MaxIdleConns:        16,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		},
	}
}

// apiError is the error body Binance returns on non-2xx responses
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e apiError) String() string { return fmt.Sprintf("binance %d: %s", e.Code, e.Msg) }

// Ping verifies connectivity; used once at startup
func (b *Binance) Ping(ctx context.Context) error {
	if err := b.do(ctx, http.MethodGet, "/fapi/v1/ping", nil, false, nil); err != nil {
		return fmt.Errorf("binance ping: %w", err)
	}
	b.logger.Info("Binance client initialized", zap.String("base_url", b.cfg.BaseURL))
	return nil
}

func (b *Binance) HistoricalData(ctx context.Context, interval string, limit int) ([]engine.Candle, error) {
	params := url.Values{}
	params.Set("symbol", b.cfg.Symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	var raw [][]any
	if err := b.do(ctx, http.MethodGet, "/fapi/v1/klines", params, false, &raw); err != nil {
		return nil, engine.ErrDataUnavailable.WithDetails(err.Error())
	}
	out := make([]engine.Candle, 0, len(raw))
	for _, row := range raw {
		if len(row) < 6 {
			continue
		}
		ms, err1 := anyToInt64(row[0])
		o, err2 := anyToFloat(row[1])
		h, err3 := anyToFloat(row[2])
		l, err4 := anyToFloat(row[3])
		c, err5 := anyToFloat(row[4])
		v, err6 := anyToFloat(row[5])
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil || err6 != nil {
			b.logger.Debug("Skipping malformed kline", zap.Any("row", row))
			continue
		}
		out = append(out, engine.Candle{OpenTime: time.UnixMilli(ms).UTC(), Open: o, High: h, Low: l, Close: c, Volume: v})
	}
	if len(out) == 0 {
		return nil, engine.ErrDataUnavailable.WithDetails("no klines for " + b.cfg.Symbol)
	}
	return out, nil
}

func (b *Binance) CurrentPrice(ctx context.Context) (float64, error) {
	params := url.Values{}
	params.Set("symbol", b.cfg.Symbol)
	var ticker struct {
		Symbol string      `json:"symbol"`
		Price  json.Number `json:"price"`
	}
	if err := b.do(ctx, http.MethodGet, "/fapi/v1/ticker/price", params, false, &ticker); err != nil {
		return 0, engine.ErrDataUnavailable.WithDetails(err.Error())
	}
	p, err := ticker.Price.Float64()
	if err != nil {
		return 0, engine.ErrDataUnavailable.WithDetails("bad price " + ticker.Price.String())
	}
	return p, nil
}

func (b *Binance) AccountBalance(ctx context.Context, asset string) (float64, error) {
	var balances []struct {
		Asset            string      `json:"asset"`
		Balance          json.Number `json:"balance"`
		AvailableBalance json.Number `json:"availableBalance"`
	}
	if err := b.do(ctx, http.MethodGet, "/fapi/v2/balance", url.Values{}, true, &balances); err != nil {
		return 0, engine.ErrDataUnavailable.WithDetails(err.Error())
	}
	for _, bal := range balances {
		if strings.EqualFold(bal.Asset, asset) {
			v, err := bal.AvailableBalance.Float64()
			if err != nil {
				return 0, engine.ErrDataUnavailable.WithDetails("bad balance " + bal.AvailableBalance.String())
			}
			return v, nil
		}
	}
	return 0, nil
}

// PlaceOrder rounds the quantity down to the lot step before sending. A
// LIMIT order without a price fails before any request is made.
func (b *Binance) PlaceOrder(ctx context.Context, req live.OrderRequest) (live.OrderResult, error) {
	qty, price, err := EnforceFilters(b.cfg.Filters, req, 0)
	if err != nil {
		b.logger.Warn("Order not sent", zap.String("side", string(req.Side)), zap.Float64("quantity", req.Quantity), zap.Error(err))
		return live.OrderResult{}, err
	}

	clientID := uuid.NewString()
	params := url.Values{}
	params.Set("symbol", b.cfg.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Type))
	params.Set("quantity", qty.String())
	params.Set("newClientOrderId", clientID)
	params.Set("newOrderRespType", "RESULT")
	if req.Type == live.OrderLimit {
		params.Set("price", price.String())
		params.Set("timeInForce", "GTC")
	}

	b.logger.Info("Placing order",
		zap.String("type", string(req.Type)),
		zap.String("side", string(req.Side)),
		zap.String("quantity", qty.String()),
		zap.String("client_order_id", clientID),
	)

	var resp struct {
		OrderID       int64       `json:"orderId"`
		ClientOrderID string      `json:"clientOrderId"`
		Status        string      `json:"status"`
		OrigQty       json.Number `json:"origQty"`
		ExecutedQty   json.Number `json:"executedQty"`
		AvgPrice      json.Number `json:"avgPrice"`
	}
	if err := b.do(ctx, http.MethodPost, "/fapi/v1/order", params, true, &resp); err != nil {
		b.logger.Error("Order rejected", zap.Error(err))
		return live.OrderResult{}, engine.ErrOrderRejected.WithDetails(err.Error())
	}
	res := live.OrderResult{
		OrderID:       strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		Status:        resp.Status,
	}
	res.OrigQty, _ = numOrZero(resp.OrigQty)
	res.ExecutedQty, _ = numOrZero(resp.ExecutedQty)
	res.AvgPrice, _ = numOrZero(resp.AvgPrice)
	b.logger.Info("Order placed", zap.String("order_id", res.OrderID), zap.String("status", res.Status))
	return res, nil
}

func (b *Binance) do(ctx context.Context, method, path string, params url.Values, signed bool, target any) error {
	if params == nil {
		params = url.Values{}
	}
	if signed {
		params.Set("timestamp", strconv.FormatInt(b.now().UnixMilli(), 10))
		params.Set("recvWindow", strconv.FormatInt(b.cfg.RecvWindow.Milliseconds(), 10))
	}
	query := params.Encode()
	if signed {
		// the signature goes last and covers the query exactly as sent
		query += "&signature=" + sign(b.cfg.APISecret, query)
	}

	full := b.cfg.BaseURL + path
	if query != "" {
		full += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, method, full, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if b.cfg.APIKey != "" {
		req.Header.Set("X-MBX-APIKEY", b.cfg.APIKey)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Msg != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode, apiErr)
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	if target == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// sign is the hex HMAC-SHA256 of payload
func sign(secret, payload string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

func numOrZero(n json.Number) (float64, error) {
	if n == "" {
		return 0, nil
	}
	return n.Float64()
}

func anyToFloat(x any) (float64, error) {
	switch t := x.(type) {
	case string:
		return strconv.ParseFloat(t, 64)
	case float64:
		return t, nil
	case json.Number:
		return t.Float64()
	default:
		return 0, fmt.Errorf("unexpected number type %T", x)
	}
}

func anyToInt64(x any) (int64, error) {
	switch t := x.(type) {
	case string:
		return strconv.ParseInt(t, 10, 64)
	case float64:
		return int64(t), nil
	case json.Number:
		return t.Int64()
	default:
		return 0, fmt.Errorf("unexpected int type %T", x)
	}
}
