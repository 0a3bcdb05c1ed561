// Package integration contains integration tests for the trading bot.
//
// These tests verify the correct interaction between components:
// - API integration tests: full HTTP request cycle against real components
// - Exchange gateway tests: signed requests against a mock OKX server
// - Archive tests: trade repository against a real PostgreSQL (optional)
//
// The mock exchange serves the OKX v5 envelope format, so the real
// gateway client (signing, retry, rate limiting) is exercised end to end.
package integration

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"autotrader/internal/api"
	"autotrader/internal/bot"
	"autotrader/internal/exchange"
	"autotrader/internal/journal"
	"autotrader/pkg/utils"

	_ "github.com/lib/pq"
)

// mockExchange emulates the subset of OKX v5 endpoints the bot uses.
// Price and balance are mutable so tests can move the market.
type mockExchange struct {
	mu      sync.Mutex
	price   float64
	balance float64
	orders  int64
}

func (m *mockExchange) setPrice(p float64) {
	m.mu.Lock()
	m.price = p
	m.mu.Unlock()
}

func (m *mockExchange) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		price := m.price
		balance := m.balance
		m.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/api/v5/market/ticker":
			fmt.Fprintf(w, `{"code":"0","msg":"","data":[{"instId":"%s","last":"%v","high24h":"%v","low24h":"%v","ts":"%d"}]}`,
				r.URL.Query().Get("instId"), price, price, price, time.Now().UnixMilli())

		case r.URL.Path == "/api/v5/account/balance":
			fmt.Fprintf(w, `{"code":"0","msg":"","data":[{"details":[{"ccy":"USDT","availBal":"%v","frozenBal":"0"}]}]}`, balance)

		case r.URL.Path == "/api/v5/trade/order" && r.Method == http.MethodPost:
			id := atomic.AddInt64(&m.orders, 1)
			fmt.Fprintf(w, `{"code":"0","msg":"","data":[{"ordId":"mock-%d","sCode":"0","sMsg":""}]}`, id)

		case r.URL.Path == "/api/v5/trade/order" && r.Method == http.MethodGet:
			fmt.Fprintf(w, `{"code":"0","msg":"","data":[{"ordId":"%s","instId":"%s","side":"buy","state":"filled","sz":"0.001","accFillSz":"0.001","avgPx":"%v","fee":"0","cTime":"%d"}]}`,
				r.URL.Query().Get("ordId"), r.URL.Query().Get("instId"), price, time.Now().UnixMilli())

		default:
			fmt.Fprint(w, `{"code":"51000","msg":"Parameter error","data":[]}`)
		}
	})
}

// TestServer encapsulates all components needed for integration testing
type TestServer struct {
	Exchange *mockExchange
	Client   *exchange.Client
	Ledger   *journal.Journal
	Risk     *bot.RiskGate
	Trailing *bot.TrailingEngine
	Alerts   *bot.AlertBook
	Trader   *bot.AutoTrader
	Server   *httptest.Server
	Cleanup  func()
}

// SetupTestServer wires real components around a mock exchange and
// exposes them through the HTTP API, mirroring cmd/trader/main.go.
func SetupTestServer(t *testing.T) *TestServer {
	t.Helper()

	mock := &mockExchange{price: 66000, balance: 1000}
	okx := httptest.NewServer(mock.handler())

	cfg := exchange.DefaultConfig()
	cfg.Endpoints = []string{okx.URL}
	cfg.MaxRetries = 3
	cfg.Timeout = 2 * time.Second
	cfg.BackoffBase = time.Millisecond
	cfg.RateLimit = 1000
	cfg.RateBurst = 1000

	client, err := exchange.NewClient(exchange.Credentials{
		APIKey:     "test-key",
		SecretKey:  "test-secret",
		Passphrase: "test-pass",
	}, cfg)
	if err != nil {
		okx.Close()
		t.Fatalf("exchange client: %v", err)
	}

	dir := t.TempDir()
	logger := utils.InitLogger(utils.LogConfig{Level: "error"})

	ledger, err := journal.New(filepath.Join(dir, "trades.json"), logger)
	if err != nil {
		okx.Close()
		t.Fatalf("journal: %v", err)
	}
	alerts := bot.NewAlertBook(filepath.Join(dir, "alerts.json"), logger)
	risk := bot.NewRiskGate(bot.DefaultRiskConfig(), logger)

	trailing := bot.NewTrailingEngine(bot.TrailingConfig{
		ActivationRatio: 0.02,
		TrailRatio:      0.01,
		PollInterval:    time.Hour, // lifecycle is driven by the tests
	}, client, ledger, risk, logger)

	traderCfg := bot.DefaultTraderConfig()
	traderCfg.StrategyFile = filepath.Join(dir, "strategy.json")
	trader := bot.NewAutoTrader(traderCfg, client, ledger, risk, trailing, logger)
	trader.SetAlerts(alerts)

	router := api.SetupRoutes(&api.Dependencies{
		Trader:   trader,
		Gateway:  client,
		Ledger:   ledger,
		Risk:     risk,
		Trailing: trailing,
		Alerts:   alerts,
	}, logger)
	server := httptest.NewServer(router)

	return &TestServer{
		Exchange: mock,
		Client:   client,
		Ledger:   ledger,
		Risk:     risk,
		Trailing: trailing,
		Alerts:   alerts,
		Trader:   trader,
		Server:   server,
		Cleanup: func() {
			trailing.StopAll()
			server.Close()
			okx.Close()
		},
	}
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
