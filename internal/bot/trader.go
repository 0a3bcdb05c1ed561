package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"autotrader/internal/exchange"
	"autotrader/internal/journal"
	"autotrader/internal/models"
	"autotrader/internal/repository"
	"autotrader/pkg/utils"
)

var traderJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// TraderConfig - конфигурация торгового цикла
type TraderConfig struct {
	// Symbol - торгуемый инструмент
	Symbol string `json:"symbol"`

	// Currency - валюта баланса (котируемая)
	Currency string `json:"currency"`

	// LoopInterval - период основного цикла RunLoop
	LoopInterval time.Duration `json:"loop_interval"`

	// StrategyFile - JSON файл со слоем переопределений стратегий.
	// Сюда же сохраняется last_run DCA после каждой покупки.
	StrategyFile string `json:"strategy_file"`

	// DefaultFee - комиссия, записываемая в журнал при открытии
	DefaultFee float64 `json:"default_fee"`
}

// DefaultTraderConfig возвращает конфигурацию по умолчанию
func DefaultTraderConfig() TraderConfig {
	return TraderConfig{
		Symbol:       "BTC-USDT",
		Currency:     "USDT",
		LoopInterval: 5 * time.Minute,
		DefaultFee:   0.1,
	}
}

// GatewayStatsProvider отдаёт телеметрию шлюза.
// Реализуется конкретным клиентом биржи; в тестах подменяется.
type GatewayStatsProvider interface {
	Stats() models.GatewayStats
}

// AutoTrader - связующий слой торгового цикла.
//
// Поток данных: сигнальный эвалюатор → риск-менеджер → шлюз (ордер) →
// журнал (запись) → трейлинг-стоп (для отслеживаемых позиций).
// Каждая операция возвращает машиночитаемый ExecutionResult, который
// внешний слой отображения рендерит без знания внутренностей.
type AutoTrader struct {
	cfg      TraderConfig
	market   exchange.MarketClient
	ledger   *journal.Journal
	risk     *RiskGate
	trailing *TrailingEngine
	log      *utils.Logger

	// Опциональные коллабораторы
	alerts  *AlertBook
	archive *repository.TradeRepository

	mu       sync.Mutex
	strategy StrategyConfig
}

// NewAutoTrader создаёт торговый цикл
func NewAutoTrader(cfg TraderConfig, market exchange.MarketClient, ledger *journal.Journal, risk *RiskGate, trailing *TrailingEngine, log *utils.Logger) *AutoTrader {
	if cfg.Symbol == "" {
		cfg.Symbol = "BTC-USDT"
	}
	if cfg.Currency == "" {
		cfg.Currency = "USDT"
	}
	if cfg.LoopInterval <= 0 {
		cfg.LoopInterval = 5 * time.Minute
	}
	if log == nil {
		log = utils.L()
	}

	t := &AutoTrader{
		cfg:      cfg,
		market:   market,
		ledger:   ledger,
		risk:     risk,
		trailing: trailing,
		log:      log.WithComponent("trader"),
		strategy: DefaultStrategyConfig(),
	}
	t.loadStrategy()
	return t
}

// SetAlerts подключает книгу ценовых алертов
func (t *AutoTrader) SetAlerts(book *AlertBook) { t.alerts = book }

// SetArchive подключает архив закрытых сделок
func (t *AutoTrader) SetArchive(repo *repository.TradeRepository) { t.archive = repo }

// Strategy возвращает снимок конфигурации стратегий
func (t *AutoTrader) Strategy() StrategyConfig {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.strategy
}

// SetStrategy заменяет конфигурацию стратегий и сохраняет слой
func (t *AutoTrader) SetStrategy(cfg StrategyConfig) error {
	t.mu.Lock()
	t.strategy = cfg
	t.mu.Unlock()
	return t.saveStrategy()
}

// loadStrategy накладывает JSON файл поверх дефолтов.
// Отсутствие файла - штатная ситуация.
func (t *AutoTrader) loadStrategy() {
	if t.cfg.StrategyFile == "" {
		return
	}
	raw, err := os.ReadFile(t.cfg.StrategyFile)
	if err != nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := traderJSON.Unmarshal(raw, &t.strategy); err != nil {
		t.log.Warn("файл стратегий повреждён, используем дефолты", utils.Err(err))
		t.strategy = DefaultStrategyConfig()
	}
}

// saveStrategy сохраняет текущую конфигурацию стратегий
func (t *AutoTrader) saveStrategy() error {
	if t.cfg.StrategyFile == "" {
		return nil
	}
	t.mu.Lock()
	raw, err := traderJSON.MarshalIndent(t.strategy, "", "  ")
	t.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal strategy: %w", err)
	}
	if err := os.WriteFile(t.cfg.StrategyFile, raw, 0o644); err != nil {
		return fmt.Errorf("write strategy: %w", err)
	}
	return nil
}

// RefreshBalance запрашивает баланс и обновляет риск-менеджер
func (t *AutoTrader) RefreshBalance(ctx context.Context) (float64, error) {
	balance, err := t.market.AvailableBalance(ctx, t.cfg.Currency)
	if err != nil {
		return 0, err
	}
	t.risk.SetBalance(balance)
	return balance, nil
}

// ExecuteSupportBuy выполняет стратегию покупки у поддержки
func (t *AutoTrader) ExecuteSupportBuy(ctx context.Context) models.ExecutionResult {
	result := models.ExecutionResult{Strategy: StrategySupportBuy, Symbol: t.cfg.Symbol}

	ticker, err := t.market.GetTicker(ctx, t.cfg.Symbol)
	if err != nil {
		result.Reason = fmt.Sprintf("price unavailable: %v", err)
		return result
	}
	price := ticker.Last
	result.Price = price

	cfg := t.Strategy().SupportBuy
	sig := EvaluateSupportBuy(cfg, price, t.ledger.HasOpenPosition(t.cfg.Symbol))
	t.recordSignal(StrategySupportBuy, sig)
	result.Reason = sig.Reason
	if !sig.Fire {
		return result
	}

	size := utils.Round8(cfg.Amount / price)
	result.Size = size

	if check := t.risk.CheckOrderSize(t.cfg.Symbol, size, price); !check.Valid {
		result.Reason = check.Reason
		return result
	}
	if ok, reason := t.risk.CanOpenNewPosition(t.cfg.Symbol); !ok {
		result.Reason = reason
		return result
	}

	order, err := t.market.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol: t.cfg.Symbol,
		Side:   models.SideBuy,
		Size:   size,
	})
	if err != nil {
		result.Reason = fmt.Sprintf("order failed: %v", err)
		return result
	}
	OrdersPlaced.WithLabelValues(t.cfg.Symbol, models.SideBuy, StrategySupportBuy).Inc()

	if err := t.ledger.AddTrade(models.Trade{
		Symbol:     t.cfg.Symbol,
		Side:       models.SideBuy,
		Size:       size,
		EntryPrice: price,
		Fee:        t.cfg.DefaultFee,
		Note:       "support buy",
	}); err != nil {
		// Ордер на бирже уже есть, а журнал не записался - это
		// рассинхрон, который чинится только руками
		t.log.Error("ордер исполнен, но журнал не записан",
			utils.Symbol(t.cfg.Symbol),
			utils.OrderID(order.OrderID),
			utils.Err(err),
		)
		result.Reason = fmt.Sprintf("ledger write failed: %v", err)
		return result
	}

	if err := t.risk.AddPosition(t.cfg.Symbol, models.SideBuy, size, price); err != nil {
		t.log.Warn("позиция не зарегистрирована в риск-менеджере", utils.Err(err))
	}
	if t.trailing != nil {
		if _, err := t.trailing.AddPosition(t.cfg.Symbol, price, size, models.SideLong); err == nil {
			if err := t.trailing.StartMonitor(ctx, t.cfg.Symbol); err != nil {
				t.log.Warn("монитор трейлинг-стопа не запущен", utils.Err(err))
			}
		}
	}

	result.Executed = true
	result.Side = models.SideBuy
	result.OrderID = order.OrderID
	t.log.Info("покупка у поддержки исполнена",
		utils.Symbol(t.cfg.Symbol),
		utils.Price(price),
		utils.Size(size),
		utils.OrderID(order.OrderID),
	)
	return result
}

// ExecuteResistanceSell выполняет стратегию продажи у сопротивления
func (t *AutoTrader) ExecuteResistanceSell(ctx context.Context) models.ExecutionResult {
	result := models.ExecutionResult{Strategy: StrategyResistanceSell, Symbol: t.cfg.Symbol}

	ticker, err := t.market.GetTicker(ctx, t.cfg.Symbol)
	if err != nil {
		result.Reason = fmt.Sprintf("price unavailable: %v", err)
		return result
	}
	price := ticker.Last
	result.Price = price

	openBuys := t.openBuys()
	cfg := t.Strategy().ResistanceSell
	sig := EvaluateResistanceSell(cfg, price, openBuys)
	t.recordSignal(StrategyResistanceSell, sig)
	result.Reason = sig.Reason
	if !sig.Fire {
		return result
	}

	// Продаётся позиция, чей профит дал сигнал; журнал закроет самую
	// свежую открытую по символу
	pos := openBuys[0]
	for _, p := range openBuys {
		if (price-p.EntryPrice)/p.EntryPrice >= cfg.MinProfit {
			pos = p
			break
		}
	}
	result.Size = pos.Size

	order, err := t.market.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol: t.cfg.Symbol,
		Side:   models.SideSell,
		Size:   pos.Size,
	})
	if err != nil {
		result.Reason = fmt.Sprintf("order failed: %v", err)
		return result
	}
	OrdersPlaced.WithLabelValues(t.cfg.Symbol, models.SideSell, StrategyResistanceSell).Inc()

	closed, err := t.ledger.CloseTrade(t.cfg.Symbol, price)
	if err != nil {
		t.log.Error("ордер исполнен, но сделка в журнале не закрыта",
			utils.Symbol(t.cfg.Symbol),
			utils.Err(err),
		)
		result.Reason = fmt.Sprintf("ledger close failed: %v", err)
		return result
	}

	if closed.Pnl != nil {
		t.risk.UpdatePnl(*closed.Pnl)
	}
	t.risk.RemovePosition(t.cfg.Symbol)
	if t.trailing != nil {
		if err := t.trailing.Remove(t.cfg.Symbol); err != nil && !errors.Is(err, ErrStopNotFound) {
			t.log.Warn("трейлинг-стоп не снят", utils.Err(err))
		}
	}
	t.archiveClosed(closed)

	result.Executed = true
	result.Side = models.SideSell
	result.OrderID = order.OrderID
	t.log.Info("продажа у сопротивления исполнена",
		utils.Symbol(t.cfg.Symbol),
		utils.Price(price),
		utils.Size(pos.Size),
		utils.PNL(derefPnl(closed.Pnl)),
	)
	return result
}

// ExecuteDCA выполняет регулярную покупку на фиксированную сумму.
// Покупка копит базовый актив и не регистрируется как отслеживаемая
// позиция: риск-счётчики и трейлинг-стоп к ней не применяются.
func (t *AutoTrader) ExecuteDCA(ctx context.Context) models.ExecutionResult {
	result := models.ExecutionResult{Strategy: StrategyDCA, Symbol: t.cfg.Symbol}

	balance, err := t.market.AvailableBalance(ctx, t.cfg.Currency)
	if err != nil {
		result.Reason = fmt.Sprintf("balance unavailable: %v", err)
		return result
	}
	t.risk.SetBalance(balance)

	cfg := t.Strategy().DCA
	sig := EvaluateDCA(cfg, time.Now(), balance)
	t.recordSignal(StrategyDCA, sig)
	result.Reason = sig.Reason
	if !sig.Fire {
		return result
	}

	ticker, err := t.market.GetTicker(ctx, t.cfg.Symbol)
	if err != nil {
		result.Reason = fmt.Sprintf("price unavailable: %v", err)
		return result
	}
	price := ticker.Last
	size := utils.Round8(cfg.Amount / price)
	result.Price = price
	result.Size = size

	order, err := t.market.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol: t.cfg.Symbol,
		Side:   models.SideBuy,
		Size:   size,
	})
	if err != nil {
		result.Reason = fmt.Sprintf("order failed: %v", err)
		return result
	}
	OrdersPlaced.WithLabelValues(t.cfg.Symbol, models.SideBuy, StrategyDCA).Inc()

	if err := t.ledger.AddTrade(models.Trade{
		Symbol:     t.cfg.Symbol,
		Side:       models.SideBuy,
		Size:       size,
		EntryPrice: price,
		Fee:        t.cfg.DefaultFee,
		Note:       "dca",
	}); err != nil {
		t.log.Error("ордер исполнен, но журнал не записан", utils.Err(err))
	}

	now := time.Now()
	t.mu.Lock()
	t.strategy.DCA.LastRun = &now
	t.mu.Unlock()
	if err := t.saveStrategy(); err != nil {
		t.log.Warn("last_run не сохранён", utils.Err(err))
	}

	result.Executed = true
	result.Side = models.SideBuy
	result.OrderID = order.OrderID
	t.log.Info("dca покупка исполнена",
		utils.Symbol(t.cfg.Symbol),
		utils.Price(price),
		utils.Size(size),
	)
	return result
}

// RunOnce выполняет один проход всех стратегий.
// Порядок фиксирован: покупка у поддержки, продажа у сопротивления,
// DCA. Срабатывание алертов логируется, но торговлю не запускает.
func (t *AutoTrader) RunOnce(ctx context.Context) []models.ExecutionResult {
	if _, err := t.RefreshBalance(ctx); err != nil {
		t.log.Warn("баланс недоступен", utils.Err(err))
	}

	if t.alerts != nil {
		if ticker, err := t.market.GetTicker(ctx, t.cfg.Symbol); err == nil {
			for _, a := range t.alerts.Check(t.cfg.Symbol, ticker.Last) {
				t.log.Info("ценовой алерт сработал",
					utils.Symbol(a.Symbol),
					utils.Price(a.Price),
					utils.String("condition", a.Condition),
				)
			}
		}
	}

	return []models.ExecutionResult{
		t.ExecuteSupportBuy(ctx),
		t.ExecuteResistanceSell(ctx),
		t.ExecuteDCA(ctx),
	}
}

// RunLoop крутит RunOnce с фиксированным интервалом до отмены контекста
func (t *AutoTrader) RunLoop(ctx context.Context) {
	t.log.Info("торговый цикл запущен",
		utils.Symbol(t.cfg.Symbol),
		utils.String("interval", t.cfg.LoopInterval.String()),
	)

	ticker := time.NewTicker(t.cfg.LoopInterval)
	defer ticker.Stop()

	// Первый проход сразу, не дожидаясь тика
	t.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			t.log.Info("торговый цикл остановлен")
			return
		case <-ticker.C:
			t.RunOnce(ctx)
		}
	}
}

// openBuys возвращает открытые buy-сделки по торгуемому символу
func (t *AutoTrader) openBuys() []models.Trade {
	var buys []models.Trade
	for _, pos := range t.ledger.OpenPositions() {
		if pos.Symbol == t.cfg.Symbol && pos.Side == models.SideBuy {
			buys = append(buys, pos)
		}
	}
	return buys
}

// archiveClosed зеркалирует закрытую сделку в архив.
// Недоступный архив не блокирует торговлю.
func (t *AutoTrader) archiveClosed(closed *models.Trade) {
	if t.archive == nil || closed == nil {
		return
	}
	if _, err := t.archive.Archive(closed); err != nil {
		t.log.Warn("сделка не заархивирована", utils.Err(err))
	}
}

// recordSignal учитывает решение эвалюатора в метриках
func (t *AutoTrader) recordSignal(strategy string, sig Signal) {
	decision := "skip"
	if sig.Fire {
		decision = "fire"
	}
	SignalEvaluations.WithLabelValues(strategy, decision).Inc()
}

func derefPnl(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
