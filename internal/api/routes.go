package api

import (
	"net/http"
	"net/http/pprof"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"autotrader/internal/api/middleware"
	"autotrader/internal/bot"
	"autotrader/internal/journal"
	"autotrader/pkg/utils"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Trader   *bot.AutoTrader
	Gateway  bot.GatewayStatsProvider
	Ledger   *journal.Journal
	Risk     *bot.RiskGate
	Trailing *bot.TrailingEngine
	Alerts   *bot.AlertBook
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── GET  /status          - агрегированное состояние бота
//	├── GET  /stats           - статистика журнала сделок
//	├── GET  /positions       - открытые позиции
//	├── GET  /trades          - закрытые сделки
//	├── GET  /trades/export   - выгрузка журнала в CSV
//	├── GET  /trailing        - снимки трейлинг-стопов
//	├── DELETE /trailing/{symbol} - снять стоп с отслеживания
//	├── GET  /alerts          - книга ценовых алертов
//	├── POST /alerts          - создать алерт
//	├── DELETE /alerts        - удалить алерты с порогом
//	├── GET  /strategy        - конфигурация стратегий
//	├── PUT  /strategy        - заменить конфигурацию стратегий
//	├── POST /run             - внеплановый проход стратегий
//	└── POST /risk/reset      - сброс дневных счётчиков
//
// /metrics - Prometheus метрики
// /health  - health check
// /debug/pprof/* - профилирование (за DebugAuth)
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. Auth (только для /api/v1)
func SetupRoutes(deps *Dependencies, log *utils.Logger) *mux.Router {
	router := mux.NewRouter()

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS)

	srv := NewServer(deps, log)

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Auth)

	api.HandleFunc("/status", srv.GetStatus).Methods("GET")
	api.HandleFunc("/stats", srv.GetStats).Methods("GET")
	api.HandleFunc("/positions", srv.GetPositions).Methods("GET")
	api.HandleFunc("/trades", srv.GetTrades).Methods("GET")
	api.HandleFunc("/trades/export", srv.ExportTrades).Methods("GET")
	api.HandleFunc("/trailing", srv.GetTrailingStops).Methods("GET")
	api.HandleFunc("/trailing/{symbol}", srv.RemoveTrailingStop).Methods("DELETE")
	api.HandleFunc("/alerts", srv.GetAlerts).Methods("GET")
	api.HandleFunc("/alerts", srv.AddAlert).Methods("POST")
	api.HandleFunc("/alerts", srv.RemoveAlert).Methods("DELETE")
	api.HandleFunc("/strategy", srv.GetStrategy).Methods("GET")
	api.HandleFunc("/strategy", srv.UpdateStrategy).Methods("PUT")
	api.HandleFunc("/run", srv.RunOnce).Methods("POST")
	api.HandleFunc("/risk/reset", srv.ResetDailyRisk).Methods("POST")

	// Prometheus метрики
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Профилирование за basic auth
	debug := router.PathPrefix("/debug/pprof").Subrouter()
	debug.Use(middleware.DebugAuth)
	debug.HandleFunc("/", pprof.Index)
	debug.HandleFunc("/cmdline", pprof.Cmdline)
	debug.HandleFunc("/profile", pprof.Profile)
	debug.HandleFunc("/symbol", pprof.Symbol)
	debug.HandleFunc("/trace", pprof.Trace)
	debug.PathPrefix("/").Handler(http.HandlerFunc(pprof.Index))

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
