package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"autotrader/internal/api"
	"autotrader/internal/bot"
	"autotrader/internal/config"
	"autotrader/internal/exchange"
	"autotrader/internal/journal"
	"autotrader/internal/repository"
	"autotrader/pkg/utils"

	_ "github.com/lib/pq"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: logOutput(cfg.Logging.Output),
	})
	defer logger.Sync()

	// Клиент биржи
	client, err := exchange.NewClient(
		exchange.Credentials{
			APIKey:     cfg.Exchange.APIKey,
			SecretKey:  cfg.Exchange.SecretKey,
			Passphrase: cfg.Exchange.Passphrase,
		},
		exchangeConfig(cfg),
	)
	if err != nil {
		logger.Fatal("клиент биржи не создан", utils.Err(err))
	}

	// Журнал сделок и книга алертов
	ledger, err := journal.New(cfg.Trading.JournalPath, logger)
	if err != nil {
		logger.Fatal("журнал не открыт", utils.Err(err))
	}
	alerts := bot.NewAlertBook(cfg.Trading.AlertsPath, logger)

	// Риск-менеджер и трейлинг-стопы
	risk := bot.NewRiskGate(bot.RiskConfig{
		MaxPositionRatio:  cfg.Risk.MaxPositionRatio,
		MinNotional:       cfg.Risk.MinNotional,
		MaxLeverage:       cfg.Risk.MaxLeverage,
		RiskPerTrade:      cfg.Risk.RiskPerTrade,
		MaxDailyTrades:    cfg.Risk.MaxDailyTrades,
		MaxDailyLossRatio: cfg.Risk.MaxDailyLossRatio,
		MaxOpenPositions:  cfg.Risk.MaxOpenPositions,
	}, logger)

	trailing := bot.NewTrailingEngine(bot.TrailingConfig{
		ActivationRatio: cfg.Trailing.ActivationRatio,
		TrailRatio:      cfg.Trailing.TrailRatio,
		PollInterval:    cfg.Trailing.PollInterval,
		AutoExecute:     cfg.Trailing.AutoExecute,
	}, client, ledger, risk, logger)

	// Торговый цикл
	trader := bot.NewAutoTrader(bot.TraderConfig{
		Symbol:       cfg.Trading.Symbol,
		Currency:     cfg.Trading.Currency,
		LoopInterval: cfg.Trading.LoopInterval,
		StrategyFile: cfg.Trading.StrategyPath,
		DefaultFee:   cfg.Trading.DefaultFee,
	}, client, ledger, risk, trailing, logger)
	trader.SetAlerts(alerts)

	// Архив закрытых сделок (опционально)
	var db *sql.DB
	if cfg.Database.Enabled {
		db, err = initDatabase(cfg)
		if err != nil {
			logger.Fatal("архивная БД недоступна", utils.Err(err))
		}
		defer db.Close()

		archive := repository.NewTradeRepository(db)
		if err := archive.Migrate(); err != nil {
			logger.Fatal("миграция архива не применена", utils.Err(err))
		}
		trader.SetArchive(archive)
		logger.Info("архив закрытых сделок подключен",
			utils.String("dsn", cfg.Database.DSNWithoutPassword()),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// WebSocket фид цен: тики идут в книгу алертов в реальном времени,
	// не дожидаясь прохода торгового цикла
	feed := exchange.NewPriceFeed(exchange.DefaultPriceFeedConfig(), []string{cfg.Trading.Symbol}, logger)
	go feed.Run(ctx)
	go watchAlerts(feed, alerts, logger)

	// Фоновый торговый цикл
	go trader.RunLoop(ctx)

	// Сброс дневных лимитов риск-менеджера на границе суток UTC
	go dailyRiskReset(ctx, risk, logger)

	// Настройка HTTP роутера
	deps := &api.Dependencies{
		Trader:   trader,
		Gateway:  client,
		Ledger:   ledger,
		Risk:     risk,
		Trailing: trailing,
		Alerts:   alerts,
	}
	router := api.SetupRoutes(deps, logger)

	// HTTP сервер
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Запуск сервера в отдельной горутине
	go func() {
		logger.Info("сервер запущен", utils.String("addr", server.Addr))
		if cfg.Server.UseHTTPS {
			if err := server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile); err != nil && err != http.ErrServerClosed {
				logger.Fatal("сервер упал", utils.Err(err))
			}
		} else {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatal("сервер упал", utils.Err(err))
			}
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("останавливаемся...")

	// Порядок остановки: торговый цикл, мониторы стопов, HTTP
	cancel()
	trailing.StopAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("сервер не остановился", utils.Err(err))
	}

	logger.Info("бот остановлен")
}

// watchAlerts прогоняет каждый тик фида через книгу алертов.
// Сработавшие алерты логируются; из книги они не удаляются.
func watchAlerts(feed *exchange.PriceFeed, alerts *bot.AlertBook, logger *utils.Logger) {
	log := logger.WithComponent("alerts-watch")
	for tick := range feed.Ticks() {
		for _, a := range alerts.Check(tick.Symbol, tick.Last) {
			log.Info("ценовой алерт сработал",
				utils.Symbol(a.Symbol),
				utils.Price(a.Price),
				utils.String("condition", a.Condition),
				utils.Float64("last", tick.Last),
			)
		}
	}
}

// dailyRiskReset сбрасывает дневные счётчики риск-менеджера в начале
// каждого дня UTC. Торговый день бота привязан к UTC, как и статистика
// биржи.
func dailyRiskReset(ctx context.Context, risk *bot.RiskGate, logger *utils.Logger) {
	log := logger.WithComponent("risk-scheduler")
	for {
		wait := utils.UntilNextDay(time.Now())
		log.Info("следующий сброс дневных лимитов",
			utils.String("through", utils.FormatDuration(wait)),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			risk.ResetDaily()
		}
	}
}

// exchangeConfig собирает конфигурацию клиента биржи
func exchangeConfig(cfg *config.Config) exchange.Config {
	ec := exchange.DefaultConfig()
	ec.Endpoints = cfg.Exchange.Endpoints
	ec.MaxRetries = cfg.Exchange.MaxRetries
	ec.Timeout = cfg.Exchange.Timeout
	ec.RateLimitCooldown = cfg.Exchange.RateLimitCooldown
	ec.RateLimit = cfg.Exchange.RateLimit
	ec.RateBurst = cfg.Exchange.RateBurst
	ec.HTTP.ProxyURL = cfg.Exchange.ProxyURL
	return ec
}

// logOutput готовит путь лог-файла ("stdout" и "stderr" остаются на stderr)
func logOutput(output string) string {
	if output == "" || output == "stdout" || output == "stderr" {
		return ""
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return ""
	}
	return output
}

// initDatabase создает подключение к архивной базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
