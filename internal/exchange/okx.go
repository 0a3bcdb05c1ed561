package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"autotrader/internal/models"
	"autotrader/pkg/ratelimit"
)

// json - быстрый drop-in для encoding/json на горячем пути запросов
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ============================================================
// Метрики шлюза
// ============================================================

var (
	// apiRequestsTotal - завершённые запросы по результату
	apiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autotrader",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Total number of completed API requests",
		},
		[]string{"result"}, // success, failed
	)

	// apiRetriesTotal - повторные попытки внутри retry-цикла
	apiRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "autotrader",
			Subsystem: "gateway",
			Name:      "retries_total",
			Help:      "Total number of request retries",
		},
	)
)

// ============================================================
// Конфигурация клиента
// ============================================================

// Credentials - учётные данные API, загружаются один раз при старте
// и неизменны в течение жизни процесса
type Credentials struct {
	APIKey     string
	SecretKey  string
	Passphrase string
}

// ErrNoCredentials - учётные данные не настроены (фатальная ошибка конфигурации)
var ErrNoCredentials = errors.New("okx credentials are not configured")

// Config содержит настройки retry-политики и failover'а клиента
type Config struct {
	// Endpoints - упорядоченный список базовых URL. При повторных попытках
	// эндпоинт ротируется: attempt % len(Endpoints).
	Endpoints []string

	// MaxRetries - максимальное количество попыток (включая первую)
	MaxRetries int

	// Timeout - таймаут одного сетевого запроса
	Timeout time.Duration

	// BackoffBase - база экспоненциального backoff: wait = 2^attempt * base
	BackoffBase time.Duration

	// RateLimitCooldown - фиксированная пауза после HTTP 429
	RateLimitCooldown time.Duration

	// SigCacheTTL - время жизни кэшированной подписи
	SigCacheTTL time.Duration

	// RateLimit / RateBurst - параметры token bucket (OKX: ~20 req/sec)
	RateLimit float64
	RateBurst float64

	// HTTP - настройки пула соединений
	HTTP HTTPClientConfig
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Endpoints: []string{
			"https://www.okx.com",
			"https://okx.com",
		},
		MaxRetries:        5,
		Timeout:           45 * time.Second,
		BackoffBase:       2 * time.Second,
		RateLimitCooldown: 60 * time.Second,
		SigCacheTTL:       60 * time.Second,
		RateLimit:         20,
		RateBurst:         40,
		HTTP:              DefaultHTTPClientConfig(),
	}
}

// validate проверяет и устанавливает значения по умолчанию
func (c *Config) validate() {
	if len(c.Endpoints) == 0 {
		c.Endpoints = DefaultConfig().Endpoints
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.Timeout <= 0 {
		c.Timeout = 45 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.RateLimitCooldown <= 0 {
		c.RateLimitCooldown = 60 * time.Second
	}
	if c.SigCacheTTL <= 0 {
		c.SigCacheTTL = 60 * time.Second
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 20
	}
}

// ============================================================
// Клиент
// ============================================================

// Client - клиент OKX REST API v5.
//
// Владеет пулом соединений, кэшем подписи и retry-политикой.
// Доменного состояния не хранит: помимо кэша подписи есть только
// атомарные счётчики телеметрии (Stats).
//
// Безопасен для конкурентного использования.
type Client struct {
	cfg    Config
	creds  Credentials
	signer *Signer

	http    *http.Client
	limiter *ratelimit.RateLimiter

	// Кэш подписи: пара timestamp+signature переиспользуется до SigCacheTTL
	// для идентичного запроса (method+path+body). Инвалидируется при 401.
	sigMu        sync.Mutex
	sigKey       string
	sigTimestamp string
	sigValue     string
	sigAt        time.Time

	// Телеметрия (атомарные счётчики)
	requests int64
	success  int64
	failed   int64
	retries  int64
}

// NewClient создаёт клиента OKX с заданными учётными данными
func NewClient(creds Credentials, cfg Config) (*Client, error) {
	if creds.APIKey == "" || creds.SecretKey == "" || creds.Passphrase == "" {
		return nil, ErrNoCredentials
	}
	cfg.validate()

	httpClient, err := NewHTTPClient(cfg.HTTP)
	if err != nil {
		return nil, fmt.Errorf("http client: %w", err)
	}

	return &Client{
		cfg:     cfg,
		creds:   creds,
		signer:  NewSigner(creds.SecretKey),
		http:    httpClient,
		limiter: ratelimit.NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
	}, nil
}

// Envelope - стандартный конверт ответа OKX.
// code == "0" означает успех, любое другое значение - бизнес-ошибка.
type Envelope struct {
	Code string              `json:"code"`
	Msg  string              `json:"msg"`
	Data jsoniter.RawMessage `json:"data"`
}

// Request выполняет подписанный запрос с retry-политикой:
//
//   - HTTP 401 (устаревший timestamp) → сброс кэша подписи, немедленный
//     повтор с новой подписью, без backoff
//   - HTTP 429 (rate limit) → фиксированная пауза RateLimitCooldown
//   - HTTP ≥400 / транспортная ошибка → экспоненциальный backoff
//     2^attempt * base и ротация эндпоинта
//   - бизнес-ошибка в конверте → по таблице кодов: retry или fail-fast
//
// После исчерпания попыток возвращается терминальный *APIError,
// оборачивающий ErrMaxRetries и последнюю причину. Вызывающие его
// не повторяют.
func (c *Client) Request(ctx context.Context, method, path string, body interface{}) (*Envelope, error) {
	atomic.AddInt64(&c.requests, 1)

	var bodyStr string
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		bodyStr = string(b)
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			atomic.AddInt64(&c.retries, 1)
			apiRetriesTotal.Inc()
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		endpoint := c.cfg.Endpoints[attempt%len(c.cfg.Endpoints)]
		env, err := c.attempt(ctx, endpoint, method, path, bodyStr)
		if err == nil {
			atomic.AddInt64(&c.success, 1)
			apiRequestsTotal.WithLabelValues("success").Inc()
			return env, nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) {
			switch {
			case apiErr.Code == "401":
				// Подпись с устаревшим timestamp'ом: кэш сбрасывается,
				// следующая попытка подписывается заново и уходит сразу
				c.invalidateSignature()
				continue
			case apiErr.Code == "429":
				if serr := sleepCtx(ctx, c.cfg.RateLimitCooldown); serr != nil {
					return nil, lastErr
				}
				continue
			case apiErr.Action == ActionFailFast:
				// Повторять бессмысленно (например, "order amount too
				// small") - отдаём сразу, не расходуя попытки
				atomic.AddInt64(&c.failed, 1)
				apiRequestsTotal.WithLabelValues("failed").Inc()
				return nil, apiErr
			}
		}

		if serr := sleepCtx(ctx, c.backoff(attempt)); serr != nil {
			return nil, lastErr
		}
	}

	atomic.AddInt64(&c.failed, 1)
	apiRequestsTotal.WithLabelValues("failed").Inc()
	return nil, &APIError{
		Code:    "max_retries",
		Message: fmt.Sprintf("request failed after %d attempts", c.cfg.MaxRetries),
		Action:  ActionFailFast,
		Err:     fmt.Errorf("%w: %w", ErrMaxRetries, lastErr),
	}
}

// attempt выполняет одну попытку запроса к заданному эндпоинту
func (c *Client) attempt(ctx context.Context, endpoint, method, path, body string) (*Envelope, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint+path, reader)
	if err != nil {
		return nil, err
	}

	ts, sig := c.signature(method, path, body)
	req.Header.Set("OK-ACCESS-KEY", c.creds.APIKey)
	req.Header.Set("OK-ACCESS-SIGN", sig)
	req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.creds.Passphrase)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// DNS/connect/TLS/timeout - транспортный класс, уходит в backoff
		return nil, fmt.Errorf("transport: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &APIError{Code: "401", Message: "unauthorized: stale timestamp", Action: ActionRetry}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &APIError{Code: "429", Message: "rate limited", Action: ActionRetry}
	case resp.StatusCode >= 400:
		return nil, &APIError{
			Code:    strconv.Itoa(resp.StatusCode),
			Message: truncate(string(raw), 256),
			Action:  ActionRetry,
		}
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Code != "0" {
		return nil, classifyBusinessError(env.Code, env.Msg)
	}

	return &env, nil
}

// signature возвращает пару timestamp+signature для запроса.
// Пара кэшируется и переиспользуется до SigCacheTTL, чтобы не пересчитывать
// HMAC при частом поллинге одного и того же эндпоинта.
func (c *Client) signature(method, path, body string) (string, string) {
	key := method + path + body
	now := time.Now()

	c.sigMu.Lock()
	defer c.sigMu.Unlock()

	if c.sigKey == key && c.sigValue != "" && now.Sub(c.sigAt) < c.cfg.SigCacheTTL {
		return c.sigTimestamp, c.sigValue
	}

	ts := c.signer.Timestamp(now)
	sig := c.signer.Sign(ts, method, path, body)
	c.sigKey, c.sigTimestamp, c.sigValue, c.sigAt = key, ts, sig, now
	return ts, sig
}

// invalidateSignature сбрасывает кэш подписи (вызывается при HTTP 401)
func (c *Client) invalidateSignature() {
	c.sigMu.Lock()
	c.sigKey, c.sigTimestamp, c.sigValue = "", "", ""
	c.sigMu.Unlock()
}

// backoff вычисляет задержку для попытки: 2^attempt * base
func (c *Client) backoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * c.cfg.BackoffBase
}

// Stats возвращает счётчики телеметрии клиента
func (c *Client) Stats() models.GatewayStats {
	return models.GatewayStats{
		Requests: atomic.LoadInt64(&c.requests),
		Success:  atomic.LoadInt64(&c.success),
		Failed:   atomic.LoadInt64(&c.failed),
		Retries:  atomic.LoadInt64(&c.retries),
	}
}

// ============================================================
// Операции API
// ============================================================

// okxTicker - формат тикера в ответе OKX (все числа - строки)
type okxTicker struct {
	InstID  string `json:"instId"`
	Last    string `json:"last"`
	High24h string `json:"high24h"`
	Low24h  string `json:"low24h"`
	Ts      string `json:"ts"`
}

// GetTicker получает текущую цену инструмента
func (c *Client) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	env, err := c.Request(ctx, http.MethodGet, "/api/v5/market/ticker?instId="+symbol, nil)
	if err != nil {
		return nil, err
	}

	var data []okxTicker
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("decode ticker: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty ticker data for %s", symbol)
	}

	t := data[0]
	last, err := strconv.ParseFloat(t.Last, 64)
	if err != nil {
		return nil, fmt.Errorf("parse last price %q: %w", t.Last, err)
	}
	high, _ := strconv.ParseFloat(t.High24h, 64)
	low, _ := strconv.ParseFloat(t.Low24h, 64)

	ticker := &Ticker{
		Symbol:    t.InstID,
		Last:      last,
		High24h:   high,
		Low24h:    low,
		Timestamp: time.Now(),
	}
	if ms, err := strconv.ParseInt(t.Ts, 10, 64); err == nil {
		ticker.Timestamp = time.UnixMilli(ms)
	}
	return ticker, nil
}

// okxBalance - формат баланса в ответе OKX
type okxBalance struct {
	Details []struct {
		Ccy       string `json:"ccy"`
		AvailBal  string `json:"availBal"`
		FrozenBal string `json:"frozenBal"`
	} `json:"details"`
}

// Balances получает балансы всех валют на торговом счёте
func (c *Client) Balances(ctx context.Context) ([]AssetBalance, error) {
	env, err := c.Request(ctx, http.MethodGet, "/api/v5/account/balance", nil)
	if err != nil {
		return nil, err
	}

	var data []okxBalance
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("decode balance: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	balances := make([]AssetBalance, 0, len(data[0].Details))
	for _, d := range data[0].Details {
		avail, _ := strconv.ParseFloat(d.AvailBal, 64)
		frozen, _ := strconv.ParseFloat(d.FrozenBal, 64)
		balances = append(balances, AssetBalance{
			Currency:  d.Ccy,
			Available: avail,
			Frozen:    frozen,
		})
	}
	return balances, nil
}

// AvailableBalance получает доступный баланс одной валюты.
// Отсутствие валюты в списке означает нулевой баланс, а не ошибку.
func (c *Client) AvailableBalance(ctx context.Context, currency string) (float64, error) {
	balances, err := c.Balances(ctx)
	if err != nil {
		return 0, err
	}
	for _, b := range balances {
		if b.Currency == currency {
			return b.Available, nil
		}
	}
	return 0, nil
}

// PlaceOrder размещает ордер. Price == 0 → рыночный, иначе лимитный.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	tdMode := req.TdMode
	if tdMode == "" {
		tdMode = DefaultTdMode
	}

	ordType := "market"
	if req.Price > 0 {
		ordType = "limit"
	}

	body := map[string]string{
		"instId":  req.Symbol,
		"tdMode":  tdMode,
		"side":    req.Side,
		"ordType": ordType,
		"sz":      strconv.FormatFloat(req.Size, 'f', -1, 64),
	}
	if req.Price > 0 {
		body["px"] = strconv.FormatFloat(req.Price, 'f', -1, 64)
	}
	if req.Leverage > 0 {
		body["lever"] = strconv.Itoa(req.Leverage)
	}

	env, err := c.Request(ctx, http.MethodPost, "/api/v5/trade/order", body)
	if err != nil {
		return nil, err
	}

	var data []struct {
		OrdID string `json:"ordId"`
		SCode string `json:"sCode"`
		SMsg  string `json:"sMsg"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("decode order result: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty order result")
	}
	// У ордеров есть собственный код результата внутри data
	if data[0].SCode != "" && data[0].SCode != "0" {
		return nil, classifyBusinessError(data[0].SCode, data[0].SMsg)
	}

	return &OrderResult{
		OrderID: data[0].OrdID,
		Symbol:  req.Symbol,
		Side:    req.Side,
	}, nil
}

// GetOrderStatus запрашивает состояние ордера
func (c *Client) GetOrderStatus(ctx context.Context, orderID, symbol string) (*OrderDetail, error) {
	path := fmt.Sprintf("/api/v5/trade/order?ordId=%s&instId=%s", orderID, symbol)
	env, err := c.Request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var data []struct {
		OrdID     string `json:"ordId"`
		InstID    string `json:"instId"`
		Side      string `json:"side"`
		State     string `json:"state"`
		Sz        string `json:"sz"`
		AccFillSz string `json:"accFillSz"`
		AvgPx     string `json:"avgPx"`
		Fee       string `json:"fee"`
		CTime     string `json:"cTime"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("decode order status: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("order %s not found", orderID)
	}

	d := data[0]
	sz, _ := strconv.ParseFloat(d.Sz, 64)
	filled, _ := strconv.ParseFloat(d.AccFillSz, 64)
	avgPx, _ := strconv.ParseFloat(d.AvgPx, 64)
	fee, _ := strconv.ParseFloat(d.Fee, 64)

	detail := &OrderDetail{
		OrderID:  d.OrdID,
		Symbol:   d.InstID,
		Side:     d.Side,
		State:    d.State,
		Size:     sz,
		FilledSz: filled,
		AvgPrice: avgPx,
		Fee:      fee,
	}
	if ms, err := strconv.ParseInt(d.CTime, 10, 64); err == nil {
		detail.CreatedAt = time.UnixMilli(ms)
	}
	return detail, nil
}

// GetLeverage запрашивает текущее плечо инструмента
func (c *Client) GetLeverage(ctx context.Context, symbol, mgnMode string) (int, error) {
	if mgnMode == "" {
		mgnMode = "isolated"
	}
	path := fmt.Sprintf("/api/v5/account/leverage-info?instId=%s&mgnMode=%s", symbol, mgnMode)
	env, err := c.Request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}

	var data []struct {
		Lever string `json:"lever"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return 0, fmt.Errorf("decode leverage: %w", err)
	}
	if len(data) == 0 {
		return 0, fmt.Errorf("empty leverage data for %s", symbol)
	}
	lever, err := strconv.Atoi(data[0].Lever)
	if err != nil {
		return 0, fmt.Errorf("parse leverage %q: %w", data[0].Lever, err)
	}
	return lever, nil
}

// SetLeverage устанавливает плечо инструмента
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int, mgnMode string) error {
	if mgnMode == "" {
		mgnMode = "isolated"
	}
	body := map[string]string{
		"instId":  symbol,
		"lever":   strconv.Itoa(leverage),
		"mgnMode": mgnMode,
	}
	_, err := c.Request(ctx, http.MethodPost, "/api/v5/account/set-leverage", body)
	return err
}

// ============================================================
// Утилиты
// ============================================================

// sleepCtx ждёт заданное время с возможностью отмены через контекст
func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// truncate обрезает строку до лимита (тела ошибок бывают большими)
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
