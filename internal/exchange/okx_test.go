package exchange

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// ============================================================
// Тесты retry-политики и failover'а клиента
// ============================================================

// newTestClient создаёт клиента, направленного на тестовый сервер,
// с ускоренными задержками
func newTestClient(t *testing.T, endpoints ...string) *Client {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Endpoints = endpoints
	cfg.MaxRetries = 5
	cfg.Timeout = 2 * time.Second
	cfg.BackoffBase = time.Millisecond
	cfg.RateLimitCooldown = 5 * time.Millisecond
	cfg.RateLimit = 1000
	cfg.RateBurst = 1000

	client, err := NewClient(Credentials{
		APIKey:     "test-key",
		SecretKey:  "test-secret",
		Passphrase: "test-pass",
	}, cfg)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(Credentials{APIKey: "key"}, DefaultConfig())
	if !errors.Is(err, ErrNoCredentials) {
		t.Errorf("NewClient() error = %v, want ErrNoCredentials", err)
	}
}

func TestRequestSignedHeaders(t *testing.T) {
	var gotHeaders http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		io.WriteString(w, `{"code":"0","msg":"","data":[]}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	if _, err := client.Request(context.Background(), http.MethodGet, "/api/v5/account/balance", nil); err != nil {
		t.Fatalf("Request() error = %v", err)
	}

	for _, h := range []string{"Ok-Access-Key", "Ok-Access-Sign", "Ok-Access-Timestamp", "Ok-Access-Passphrase"} {
		if gotHeaders.Get(h) == "" {
			t.Errorf("заголовок %s отсутствует", h)
		}
	}
	if got := gotHeaders.Get("Ok-Access-Key"); got != "test-key" {
		t.Errorf("OK-ACCESS-KEY = %q, want %q", got, "test-key")
	}
}

func TestRequestRetriesTransientThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		io.WriteString(w, `{"code":"0","msg":"","data":[]}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	env, err := client.Request(context.Background(), http.MethodGet, "/api/v5/account/balance", nil)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if env.Code != "0" {
		t.Errorf("env.Code = %q, want %q", env.Code, "0")
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("попыток = %d, want 3", n)
	}

	stats := client.Stats()
	if stats.Requests != 1 || stats.Success != 1 || stats.Failed != 0 || stats.Retries != 2 {
		t.Errorf("Stats() = %+v, want requests=1 success=1 failed=0 retries=2", stats)
	}
}

func TestRequestExhaustsRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Request(context.Background(), http.MethodGet, "/api/v5/account/balance", nil)
	if err == nil {
		t.Fatal("Request() error = nil, ожидалась терминальная ошибка")
	}
	if !IsTerminal(err) {
		t.Errorf("IsTerminal(%v) = false, want true", err)
	}
	if n := atomic.LoadInt32(&calls); n != 5 {
		t.Errorf("попыток = %d, want 5 (MaxRetries)", n)
	}

	stats := client.Stats()
	if stats.Failed != 1 || stats.Retries != 4 {
		t.Errorf("Stats() = %+v, want failed=1 retries=4", stats)
	}
}

func TestRequestEndpointRotation(t *testing.T) {
	var primary, secondary int32

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&primary, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&secondary, 1)
		io.WriteString(w, `{"code":"0","msg":"","data":[]}`)
	}))
	defer good.Close()

	// Первая попытка уходит на нерабочий эндпоинт, вторая - на резервный
	client := newTestClient(t, bad.URL, good.URL)
	if _, err := client.Request(context.Background(), http.MethodGet, "/api/v5/account/balance", nil); err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if atomic.LoadInt32(&primary) != 1 || atomic.LoadInt32(&secondary) != 1 {
		t.Errorf("primary=%d secondary=%d, want 1/1", primary, secondary)
	}
}

func TestRequestUnauthorizedResigns(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		io.WriteString(w, `{"code":"0","msg":"","data":[]}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	// Прогреваем кэш подписи заранее
	client.signature(http.MethodGet, "/api/v5/account/balance", "")

	start := time.Now()
	if _, err := client.Request(context.Background(), http.MethodGet, "/api/v5/account/balance", nil); err != nil {
		t.Fatalf("Request() error = %v", err)
	}

	// 401 повторяется немедленно, без backoff
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("повтор после 401 занял %v, ожидался немедленный", elapsed)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("попыток = %d, want 2", n)
	}

	// Кэш после 401 сброшен и перезаполнен новой подписью
	client.sigMu.Lock()
	cached := client.sigValue
	client.sigMu.Unlock()
	if cached == "" {
		t.Error("кэш подписи пуст после успешного повтора")
	}
}

func TestRequestRateLimitCooldown(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		io.WriteString(w, `{"code":"0","msg":"","data":[]}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	start := time.Now()
	if _, err := client.Request(context.Background(), http.MethodGet, "/api/v5/account/balance", nil); err != nil {
		t.Fatalf("Request() error = %v", err)
	}

	// Фиксированная пауза RateLimitCooldown (5ms в тестовой конфигурации)
	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Errorf("повтор после 429 занял %v, ожидалась пауза >= 5ms", elapsed)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("попыток = %d, want 2", n)
	}
}

func TestRequestBusinessErrorFailFast(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		io.WriteString(w, `{"code":"51020","msg":"Order amount too small","data":[]}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Request(context.Background(), http.MethodPost, "/api/v5/trade/order", map[string]string{"instId": "BTC-USDT"})
	if err == nil {
		t.Fatal("Request() error = nil, ожидалась бизнес-ошибка")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("ошибка %T, want *APIError", err)
	}
	if apiErr.Code != "51020" {
		t.Errorf("Code = %q, want %q", apiErr.Code, "51020")
	}
	if apiErr.Retryable() {
		t.Error("ошибка 51020 должна быть fail-fast")
	}
	// fail-fast не расходует оставшиеся попытки
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("попыток = %d, want 1", n)
	}
}

func TestRequestBusinessErrorRetryable(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			// 50102 (timestamp expired) помечен как retry в таблице кодов
			io.WriteString(w, `{"code":"50102","msg":"Timestamp expired","data":[]}`)
			return
		}
		io.WriteString(w, `{"code":"0","msg":"","data":[]}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	if _, err := client.Request(context.Background(), http.MethodGet, "/api/v5/account/balance", nil); err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("попыток = %d, want 2", n)
	}
}

func TestSignatureCacheReuse(t *testing.T) {
	timestamps := make(chan string, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timestamps <- r.Header.Get("Ok-Access-Timestamp")
		io.WriteString(w, `{"code":"0","msg":"","data":[]}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	ctx := context.Background()

	if _, err := client.Request(ctx, http.MethodGet, "/api/v5/account/balance", nil); err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	// Пауза больше миллисекундной точности timestamp'а: без кэша
	// вторая подпись получила бы другой timestamp
	time.Sleep(10 * time.Millisecond)
	if _, err := client.Request(ctx, http.MethodGet, "/api/v5/account/balance", nil); err != nil {
		t.Fatalf("Request() error = %v", err)
	}

	ts1, ts2 := <-timestamps, <-timestamps
	if ts1 != ts2 {
		t.Errorf("кэш подписи не переиспользован: %q != %q", ts1, ts2)
	}
}

func TestSignatureCacheKeyedByRequest(t *testing.T) {
	client := newTestClient(t, "http://unused.invalid")

	ts1, sig1 := client.signature(http.MethodGet, "/api/v5/account/balance", "")
	_, sig2 := client.signature(http.MethodGet, "/api/v5/market/ticker?instId=BTC-USDT", "")

	// Другой запрос вытесняет кэш, подпись обязана отличаться
	if sig1 == sig2 {
		t.Error("разные запросы дали одинаковую подпись")
	}

	// Повторный запрос того же вида после вытеснения пересчитывается
	ts3, sig3 := client.signature(http.MethodGet, "/api/v5/account/balance", "")
	if sig3 == sig2 {
		t.Error("подпись не пересчитана после вытеснения кэша")
	}
	_ = ts1
	_ = ts3
}

// ============================================================
// Тесты декодирования ответов API
// ============================================================

func TestGetTicker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.RawQuery; got != "instId=BTC-USDT" {
			t.Errorf("query = %q, want instId=BTC-USDT", got)
		}
		io.WriteString(w, `{"code":"0","msg":"","data":[{"instId":"BTC-USDT","last":"66000.5","high24h":"67000","low24h":"65000","ts":"1710504000000"}]}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	ticker, err := client.GetTicker(context.Background(), "BTC-USDT")
	if err != nil {
		t.Fatalf("GetTicker() error = %v", err)
	}
	if ticker.Symbol != "BTC-USDT" {
		t.Errorf("Symbol = %q, want BTC-USDT", ticker.Symbol)
	}
	if ticker.Last != 66000.5 {
		t.Errorf("Last = %v, want 66000.5", ticker.Last)
	}
	if ticker.High24h != 67000 || ticker.Low24h != 65000 {
		t.Errorf("High24h/Low24h = %v/%v, want 67000/65000", ticker.High24h, ticker.Low24h)
	}
}

func TestGetTickerEmptyData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"code":"0","msg":"","data":[]}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	if _, err := client.GetTicker(context.Background(), "NOPE-USDT"); err == nil {
		t.Error("GetTicker() error = nil, ожидалась ошибка пустых данных")
	}
}

func TestAvailableBalance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"code":"0","msg":"","data":[{"details":[{"ccy":"BTC","availBal":"0.5","frozenBal":"0"},{"ccy":"USDT","availBal":"123.45","frozenBal":"10"}]}]}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	got, err := client.AvailableBalance(context.Background(), "USDT")
	if err != nil {
		t.Fatalf("AvailableBalance() error = %v", err)
	}
	if got != 123.45 {
		t.Errorf("AvailableBalance(USDT) = %v, want 123.45", got)
	}

	// Отсутствующая валюта - нулевой баланс, не ошибка
	got, err = client.AvailableBalance(context.Background(), "ETH")
	if err != nil {
		t.Fatalf("AvailableBalance() error = %v", err)
	}
	if got != 0 {
		t.Errorf("AvailableBalance(ETH) = %v, want 0", got)
	}
}

func TestPlaceOrderMarket(t *testing.T) {
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		io.WriteString(w, `{"code":"0","msg":"","data":[{"ordId":"ord-123","sCode":"0","sMsg":""}]}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	result, err := client.PlaceOrder(context.Background(), OrderRequest{
		Symbol: "BTC-USDT",
		Side:   "buy",
		Size:   0.001,
	})
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}
	if result.OrderID != "ord-123" {
		t.Errorf("OrderID = %q, want ord-123", result.OrderID)
	}

	var body map[string]string
	if err := json.Unmarshal(gotBody, &body); err != nil {
		t.Fatalf("тело запроса не распарсилось: %v", err)
	}
	if body["ordType"] != "market" {
		t.Errorf("ordType = %q, want market (Price == 0)", body["ordType"])
	}
	if body["tdMode"] != DefaultTdMode {
		t.Errorf("tdMode = %q, want %q", body["tdMode"], DefaultTdMode)
	}
	if body["sz"] != "0.001" {
		t.Errorf("sz = %q, want 0.001", body["sz"])
	}
	if _, ok := body["px"]; ok {
		t.Error("рыночный ордер не должен содержать px")
	}
}

func TestPlaceOrderLimit(t *testing.T) {
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		io.WriteString(w, `{"code":"0","msg":"","data":[{"ordId":"ord-456","sCode":"0","sMsg":""}]}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	if _, err := client.PlaceOrder(context.Background(), OrderRequest{
		Symbol: "BTC-USDT",
		Side:   "sell",
		Size:   0.002,
		Price:  66000,
	}); err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}

	var body map[string]string
	if err := json.Unmarshal(gotBody, &body); err != nil {
		t.Fatalf("тело запроса не распарсилось: %v", err)
	}
	if body["ordType"] != "limit" {
		t.Errorf("ordType = %q, want limit", body["ordType"])
	}
	if body["px"] != "66000" {
		t.Errorf("px = %q, want 66000", body["px"])
	}
}

func TestPlaceOrderPerOrderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Конверт успешный, но у самого ордера ненулевой sCode
		io.WriteString(w, `{"code":"0","msg":"","data":[{"ordId":"","sCode":"51020","sMsg":"Order amount too small"}]}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.PlaceOrder(context.Background(), OrderRequest{Symbol: "BTC-USDT", Side: "buy", Size: 0.00000001})
	if err == nil {
		t.Fatal("PlaceOrder() error = nil, ожидалась ошибка sCode")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "51020" {
		t.Errorf("ошибка = %v, want *APIError с кодом 51020", err)
	}
}

func TestGetOrderStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"code":"0","msg":"","data":[{"ordId":"ord-789","instId":"BTC-USDT","side":"buy","state":"filled","sz":"0.001","accFillSz":"0.001","avgPx":"66000","fee":"-0.066","cTime":"1710504000000"}]}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	detail, err := client.GetOrderStatus(context.Background(), "ord-789", "BTC-USDT")
	if err != nil {
		t.Fatalf("GetOrderStatus() error = %v", err)
	}
	if detail.State != "filled" {
		t.Errorf("State = %q, want filled", detail.State)
	}
	if detail.AvgPrice != 66000 {
		t.Errorf("AvgPrice = %v, want 66000", detail.AvgPrice)
	}
	if detail.Fee != -0.066 {
		t.Errorf("Fee = %v, want -0.066", detail.Fee)
	}
}

func TestErrorCodeTable(t *testing.T) {
	tests := []struct {
		code      string
		retryable bool
	}{
		{"50102", true},  // timestamp expired
		{"51020", false}, // order amount too small
		{"50014", false}, // invalid parameters
		{"50005", false}, // invalid leverage
		{"50012", false}, // account mode not supported
		{"50101", false}, // no permission
		{"99999", true},  // неизвестный код - консервативный retry
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := classifyBusinessError(tt.code, "")
			if err.Retryable() != tt.retryable {
				t.Errorf("Retryable(%s) = %v, want %v", tt.code, err.Retryable(), tt.retryable)
			}
		})
	}
}
