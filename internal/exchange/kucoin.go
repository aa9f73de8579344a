package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "grid-trader/internal/errors"
	"grid-trader/internal/models"
)

// KuCoin Futures API endpoints
const (
	kucoinBaseURL        = "https://api-futures.kucoin.com"
	kucoinSandboxBaseURL = "https://api-sandbox-futures.kucoin.com"
	kucoinOrderPath      = "/api/v1/orders"
	kucoinKlinePath      = "/api/v1/kline/query"
	kucoinFillsPath      = "/api/v1/fills"
	kucoinTimestampPath  = "/api/v1/timestamp"
	kucoinBulletPath     = "/api/v1/bullet-private"
)

// KuCoinExchange implements the Exchange interface against KuCoin Futures.
type KuCoinExchange struct {
	apiKey     string
	secretKey  string
	passphrase string
	baseURL    string
	logger     zerolog.Logger

	httpClient *http.Client

	// Server time offset (local - server) in milliseconds
	serverTimeOffset int64
	serverTimeMu     sync.RWMutex
}

// KuCoinConfig holds configuration for the KuCoin exchange client.
type KuCoinConfig struct {
	APIKey     string
	APISecret  string
	Passphrase string
	Sandbox    bool
	Logger     zerolog.Logger
}

// kucoinResponse represents the common KuCoin API response envelope.
type kucoinResponse struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// NewKuCoinExchange creates a new KuCoin Futures exchange client.
func NewKuCoinExchange(cfg KuCoinConfig) *KuCoinExchange {
	baseURL := kucoinBaseURL
	if cfg.Sandbox {
		baseURL = kucoinSandboxBaseURL
	}

	ex := &KuCoinExchange{
		apiKey:     cfg.APIKey,
		secretKey:  cfg.APISecret,
		passphrase: cfg.Passphrase,
		baseURL:    baseURL,
		logger:     cfg.Logger,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}

	// Sync server time on initialization
	if err := ex.syncServerTime(context.Background()); err != nil {
		ex.logger.Warn().Err(err).Msg("Failed to sync KuCoin server time, will retry on first request")
	}

	return ex
}

// syncServerTime fetches KuCoin server time and records the local offset.
func (k *KuCoinExchange) syncServerTime(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.baseURL+kucoinTimestampPath, nil)
	if err != nil {
		return err
	}
	resp, err := k.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching server time: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading server time response: %w", err)
	}

	var result struct {
		Code string `json:"code"`
		Data int64  `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("parsing server time response: %w", err)
	}
	if result.Code != "200000" {
		return apperrors.NewExchangeError(result.Code, "server time request failed", nil)
	}

	offset := time.Now().UnixMilli() - result.Data
	k.serverTimeMu.Lock()
	k.serverTimeOffset = offset
	k.serverTimeMu.Unlock()

	k.logger.Debug().Int64("offset_ms", offset).Msg("KuCoin server time synced")
	return nil
}

// timestamp returns the current timestamp adjusted for server time offset.
func (k *KuCoinExchange) timestamp() string {
	k.serverTimeMu.RLock()
	offset := k.serverTimeOffset
	k.serverTimeMu.RUnlock()
	return strconv.FormatInt(time.Now().UnixMilli()-offset, 10)
}

// sign generates the KuCoin API request signature:
// base64(HMAC-SHA256(timestamp + method + path + body, secret)).
func (k *KuCoinExchange) sign(timestamp, method, requestPath, body string) string {
	preHash := timestamp + method + requestPath + body
	h := hmac.New(sha256.New, []byte(k.secretKey))
	h.Write([]byte(preHash))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// signPassphrase signs the API passphrase as required by key version 2+.
func (k *KuCoinExchange) signPassphrase() string {
	h := hmac.New(sha256.New, []byte(k.secretKey))
	h.Write([]byte(k.passphrase))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func (k *KuCoinExchange) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var bodyBytes []byte
	var err error

	if body != nil {
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("serializing request body: %w", err)
		}
	}

	timestamp := k.timestamp()
	signature := k.sign(timestamp, method, path, string(bodyBytes))

	req, err := http.NewRequestWithContext(ctx, method, k.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("KC-API-KEY", k.apiKey)
	req.Header.Set("KC-API-SIGN", signature)
	req.Header.Set("KC-API-TIMESTAMP", timestamp)
	req.Header.Set("KC-API-PASSPHRASE", k.signPassphrase())
	req.Header.Set("KC-API-KEY-VERSION", "2")
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var kcResp kucoinResponse
	if err := json.Unmarshal(respBody, &kcResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w (body: %s)", err, string(respBody))
	}

	k.logger.Debug().
		Str("method", method).
		Str("path", path).
		Dur("duration", time.Since(start)).
		Str("code", kcResp.Code).
		Msg("KuCoin API call")

	if kcResp.Code != "200000" {
		// Timestamp drift invalidates signatures; re-sync and let the caller retry.
		if kcResp.Code == "400002" || strings.Contains(kcResp.Msg, "TIMESTAMP") {
			if err := k.syncServerTime(ctx); err != nil {
				k.logger.Warn().Err(err).Msg("Failed to re-sync KuCoin server time")
			}
		}
		return nil, apperrors.NewExchangeError(kcResp.Code, kcResp.Msg, nil)
	}

	return kcResp.Data, nil
}

// convertSymbol converts a generic symbol to KuCoin Futures format,
// e.g. BTCUSDT -> XBTUSDTM (KuCoin uses XBT for BTC).
func convertSymbol(symbol string) string {
	base := strings.TrimSuffix(symbol, "USDT")
	if base == "BTC" {
		base = "XBT"
	}
	return fmt.Sprintf("%sUSDTM", base)
}

// PlaceLimitOrder places a limit order and returns the exchange order id.
func (k *KuCoinExchange) PlaceLimitOrder(ctx context.Context, req LimitOrderRequest) (*OrderResult, error) {
	clientOID := req.ClientOID
	if clientOID == "" {
		clientOID = strconv.FormatInt(time.Now().UnixNano(), 10)
	}

	payload := map[string]interface{}{
		"clientOid": clientOID,
		"symbol":    convertSymbol(req.Symbol),
		"side":      strings.ToLower(string(req.Side)),
		"type":      "limit",
		"price":     strconv.FormatFloat(req.Price, 'f', -1, 64),
		"size":      strconv.FormatFloat(req.Size, 'f', -1, 64),
		"leverage":  strconv.Itoa(req.Leverage),
	}

	data, err := k.doRequest(ctx, http.MethodPost, kucoinOrderPath, payload)
	if err != nil {
		return nil, apperrors.NewOrderError("", req.Symbol, "place", "exchange rejected placement", err)
	}

	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("parsing order response: %w", err)
	}

	return &OrderResult{OrderID: result.OrderID, Status: "open"}, nil
}

// CancelOrder cancels an order by id. A failure here is non-fatal for the
// strategy; the caller keeps the local record until disproven.
func (k *KuCoinExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	path := fmt.Sprintf("%s/%s", kucoinOrderPath, orderID)
	if _, err := k.doRequest(ctx, http.MethodDelete, path, nil); err != nil {
		return apperrors.NewOrderError(orderID, symbol, "cancel", "exchange rejected cancellation", err)
	}
	return nil
}

// GetCandles fetches the most recent candles for the symbol, oldest first.
func (k *KuCoinExchange) GetCandles(ctx context.Context, req CandleRequest) ([]models.Candle, error) {
	granMin := int(req.Granularity / time.Minute)
	if granMin <= 0 {
		granMin = 1
	}

	now := time.Now()
	from := now.Add(-time.Duration(req.Count) * req.Granularity)
	path := fmt.Sprintf("%s?symbol=%s&granularity=%d&from=%d&to=%d",
		kucoinKlinePath, convertSymbol(req.Symbol), granMin, from.UnixMilli(), now.UnixMilli())

	data, err := k.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, "fetching candles")
	}

	// Each row is [time, open, high, low, close, volume]
	var rows [][]float64
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parsing kline response: %w", err)
	}

	candles := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		candles = append(candles, models.Candle{
			Timestamp: time.UnixMilli(int64(row[0])),
			Open:      row[1],
			High:      row[2],
			Low:       row[3],
			Close:     row[4],
			Volume:    row[5],
		})
	}
	return candles, nil
}

// ListRecentFills returns recent executions for the symbol. Repeated polls
// re-observe the same trades; callers deduplicate by trade id.
func (k *KuCoinExchange) ListRecentFills(ctx context.Context, symbol string) ([]models.Fill, error) {
	path := fmt.Sprintf("%s?symbol=%s", kucoinFillsPath, convertSymbol(symbol))

	data, err := k.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, "fetching fills")
	}

	var response struct {
		Items []struct {
			TradeID   string `json:"tradeId"`
			OrderID   string `json:"orderId"`
			Side      string `json:"side"`
			Price     string `json:"price"`
			Size      string `json:"size"`
			TradeTime int64  `json:"tradeTime"` // nanoseconds
		} `json:"items"`
	}
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("parsing fills response: %w", err)
	}

	fills := make([]models.Fill, 0, len(response.Items))
	for _, item := range response.Items {
		price, _ := strconv.ParseFloat(item.Price, 64)
		size, _ := strconv.ParseFloat(item.Size, 64)

		side := models.OrderSideBuy
		if strings.EqualFold(item.Side, "sell") {
			side = models.OrderSideSell
		}

		fills = append(fills, models.Fill{
			TradeID:   item.TradeID,
			OrderID:   item.OrderID,
			Side:      side,
			Price:     price,
			Size:      size,
			Timestamp: time.Unix(0, item.TradeTime),
		})
	}
	return fills, nil
}

// bulletToken negotiates a private WebSocket endpoint and token.
func (k *KuCoinExchange) bulletToken(ctx context.Context) (endpoint, token string, pingInterval time.Duration, err error) {
	data, err := k.doRequest(ctx, http.MethodPost, kucoinBulletPath, nil)
	if err != nil {
		return "", "", 0, apperrors.Wrap(err, "negotiating websocket token")
	}

	var result struct {
		Token           string `json:"token"`
		InstanceServers []struct {
			Endpoint     string `json:"endpoint"`
			PingInterval int64  `json:"pingInterval"` // milliseconds
		} `json:"instanceServers"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", "", 0, fmt.Errorf("parsing bullet response: %w", err)
	}
	if len(result.InstanceServers) == 0 {
		return "", "", 0, apperrors.NewExchangeError("", "no websocket instance servers offered", nil)
	}

	srv := result.InstanceServers[0]
	return srv.Endpoint, result.Token, time.Duration(srv.PingInterval) * time.Millisecond, nil
}
