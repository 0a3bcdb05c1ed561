package bot

import (
	"fmt"
	"math"
	"sync"
	"time"

	"autotrader/internal/models"
	"autotrader/pkg/utils"
)

// RiskGate - контроль размеров ордеров и дневной экспозиции.
//
// Функции:
// - Проверка стоимости ордера против доли баланса и минимума биржи
// - Расчёт размера позиции от риска на сделку
// - Дневные лимиты: количество сделок, убыток, открытые позиции
//
// Счётчики меняются только через AddPosition/RemovePosition/UpdatePnl -
// ровно один вызов на исполненный ордер и на реализованное закрытие.
// Сброс дневных счётчиков - внешняя ответственность (ResetDaily).
type RiskGate struct {
	cfg RiskConfig
	log *utils.Logger

	mu           sync.Mutex
	totalBalance float64
	dailyTrades  int
	dailyPnl     float64
	positions    map[string]PositionInfo
}

// RiskConfig - конфигурация риск-менеджера
type RiskConfig struct {
	// MaxPositionRatio - максимальная доля баланса в одном ордере
	MaxPositionRatio float64 `json:"max_position_ratio"`

	// MinNotional - минимальная стоимость ордера (лимит биржи, USD)
	MinNotional float64 `json:"min_notional"`

	// MaxLeverage - максимальное допустимое плечо
	MaxLeverage int `json:"max_leverage"`

	// RiskPerTrade - доля баланса, рискуемая в одной сделке
	RiskPerTrade float64 `json:"risk_per_trade"`

	// MaxDailyTrades - лимит сделок в день
	MaxDailyTrades int `json:"max_daily_trades"`

	// MaxDailyLossRatio - дневной лимит убытка как доля баланса
	MaxDailyLossRatio float64 `json:"max_daily_loss_ratio"`

	// MaxOpenPositions - лимит одновременно открытых позиций
	MaxOpenPositions int `json:"max_open_positions"`
}

// DefaultRiskConfig возвращает конфигурацию по умолчанию
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxPositionRatio:  0.2,
		MinNotional:       5,
		MaxLeverage:       5,
		RiskPerTrade:      0.02,
		MaxDailyTrades:    10,
		MaxDailyLossRatio: 0.1,
		MaxOpenPositions:  3,
	}
}

// PositionInfo - снимок открытой позиции в риск-менеджере
type PositionInfo struct {
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Size       float64   `json:"size"`
	EntryPrice float64   `json:"entry_price"`
	OpenedAt   time.Time `json:"opened_at"`
}

// OrderSizeCheck - результат проверки размера ордера
type OrderSizeCheck struct {
	Valid         bool    `json:"valid"`
	Reason        string  `json:"reason,omitempty"`
	SuggestedSize float64 `json:"suggested_size,omitempty"`
}

// NewRiskGate создаёт риск-менеджер
func NewRiskGate(cfg RiskConfig, log *utils.Logger) *RiskGate {
	if log == nil {
		log = utils.L()
	}
	return &RiskGate{
		cfg:       cfg,
		log:       log.WithComponent("risk"),
		positions: make(map[string]PositionInfo),
	}
}

// SetBalance обновляет известный баланс счёта
func (r *RiskGate) SetBalance(balance float64) {
	r.mu.Lock()
	r.totalBalance = balance
	r.mu.Unlock()
	AccountBalanceGauge.Set(balance)
}

// Balance возвращает последний известный баланс
func (r *RiskGate) Balance() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalBalance
}

// CheckOrderSize проверяет стоимость ордера.
//
// Стоимость выше maxPositionRatio от баланса отклоняется с подсказкой
// максимального допустимого размера. Граница нестрогая: ровно
// balance*ratio проходит. Стоимость ниже минимума биржи отклоняется
// без подсказки.
func (r *RiskGate) CheckOrderSize(symbol string, size, price float64) OrderSizeCheck {
	r.mu.Lock()
	balance := r.totalBalance
	r.mu.Unlock()

	orderValue := size * price
	maxValue := balance * r.cfg.MaxPositionRatio

	if orderValue > maxValue {
		suggested := 0.0
		if price > 0 {
			suggested = utils.Round8(maxValue / price)
		}
		RiskRejections.WithLabelValues("position_ratio").Inc()
		return OrderSizeCheck{
			Valid: false,
			Reason: fmt.Sprintf("order value %.2f exceeds %.0f%% of balance (max %.2f)",
				orderValue, r.cfg.MaxPositionRatio*100, maxValue),
			SuggestedSize: suggested,
		}
	}

	if orderValue < r.cfg.MinNotional {
		RiskRejections.WithLabelValues("min_notional").Inc()
		return OrderSizeCheck{
			Valid: false,
			Reason: fmt.Sprintf("order value %.2f below exchange minimum %.2f",
				orderValue, r.cfg.MinNotional),
		}
	}

	return OrderSizeCheck{Valid: true}
}

// CheckLeverage проверяет запрошенное плечо
func (r *RiskGate) CheckLeverage(leverage int) (bool, string) {
	if leverage > r.cfg.MaxLeverage {
		RiskRejections.WithLabelValues("leverage").Inc()
		return false, fmt.Sprintf("leverage %d exceeds maximum %d", leverage, r.cfg.MaxLeverage)
	}
	return true, ""
}

// CalculatePositionSize возвращает размер позиции от риска на сделку:
// size = (balance * riskPerTrade) / |entry - stop|.
// Совпадение цен входа и стопа - вырожденный случай, возвращается 0.
func (r *RiskGate) CalculatePositionSize(entryPrice, stopPrice float64) float64 {
	if entryPrice == stopPrice {
		return 0
	}

	r.mu.Lock()
	balance := r.totalBalance
	r.mu.Unlock()

	riskAmount := balance * r.cfg.RiskPerTrade
	return utils.Round8(riskAmount / math.Abs(entryPrice-stopPrice))
}

// CalculateStopLoss возвращает цену стопа: entry*(1-ratio) для buy,
// entry*(1+ratio) для sell
func CalculateStopLoss(entryPrice float64, side string, ratio float64) float64 {
	if side == models.SideBuy || side == models.SideLong {
		return entryPrice * (1 - ratio)
	}
	return entryPrice * (1 + ratio)
}

// CalculateTakeProfit возвращает цену тейк-профита: entry*(1+ratio)
// для buy, entry*(1-ratio) для sell
func CalculateTakeProfit(entryPrice float64, side string, ratio float64) float64 {
	if side == models.SideBuy || side == models.SideLong {
		return entryPrice * (1 + ratio)
	}
	return entryPrice * (1 - ratio)
}

// RiskRewardRatio возвращает отношение потенциальной прибыли к риску:
// |target - entry| / |entry - stop|. Вырожденный стоп (entry == stop)
// даёт 0.
func RiskRewardRatio(entryPrice, stopPrice, targetPrice float64) float64 {
	risk := math.Abs(entryPrice - stopPrice)
	if risk == 0 {
		return 0
	}
	return utils.Round2(math.Abs(targetPrice-entryPrice) / risk)
}

// CanOpenNewPosition проверяет дневные лимиты.
// Лимиты независимы, сообщается первый нарушенный:
// количество сделок, дневной убыток, открытые позиции.
func (r *RiskGate) CanOpenNewPosition(symbol string) (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dailyTrades >= r.cfg.MaxDailyTrades {
		RiskRejections.WithLabelValues("daily_trades").Inc()
		return false, fmt.Sprintf("daily trade limit reached (%d)", r.cfg.MaxDailyTrades)
	}

	lossLimit := -r.totalBalance * r.cfg.MaxDailyLossRatio
	if r.dailyPnl < lossLimit {
		RiskRejections.WithLabelValues("daily_loss").Inc()
		return false, fmt.Sprintf("daily loss limit reached (%.2f < %.2f)", r.dailyPnl, lossLimit)
	}

	if len(r.positions) >= r.cfg.MaxOpenPositions {
		RiskRejections.WithLabelValues("open_positions").Inc()
		return false, fmt.Sprintf("max open positions reached (%d)", r.cfg.MaxOpenPositions)
	}

	return true, ""
}

// AddPosition регистрирует исполненный ордер.
// Повторная регистрация того же символа - ошибка вызывающего,
// она бы исказила дневные лимиты.
func (r *RiskGate) AddPosition(symbol, side string, size, entryPrice float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.positions[symbol]; exists {
		return fmt.Errorf("position %s already registered", symbol)
	}

	r.positions[symbol] = PositionInfo{
		Symbol:     symbol,
		Side:       side,
		Size:       size,
		EntryPrice: entryPrice,
		OpenedAt:   time.Now(),
	}
	r.dailyTrades++
	OpenPositionsGauge.Set(float64(len(r.positions)))

	return nil
}

// RemovePosition снимает позицию с учёта. Возвращает false если
// позиция не была зарегистрирована.
func (r *RiskGate) RemovePosition(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.positions[symbol]; !exists {
		return false
	}
	delete(r.positions, symbol)
	OpenPositionsGauge.Set(float64(len(r.positions)))
	return true
}

// UpdatePnl добавляет реализованный P&L к дневному счётчику
func (r *RiskGate) UpdatePnl(delta float64) {
	r.mu.Lock()
	r.dailyPnl += delta
	daily := r.dailyPnl
	r.mu.Unlock()
	DailyPnlGauge.Set(daily)
}

// Positions возвращает снимок открытых позиций
func (r *RiskGate) Positions() map[string]PositionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make(map[string]PositionInfo, len(r.positions))
	for k, v := range r.positions {
		snapshot[k] = v
	}
	return snapshot
}

// Position возвращает позицию по символу
func (r *RiskGate) Position(symbol string) (PositionInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.positions[symbol]
	return p, ok
}

// ResetDaily сбрасывает дневные счётчики (вызывается внешним
// планировщиком при смене торгового дня)
func (r *RiskGate) ResetDaily() {
	r.mu.Lock()
	r.dailyTrades = 0
	r.dailyPnl = 0
	r.mu.Unlock()
	DailyPnlGauge.Set(0)
	r.log.Info("дневные счётчики сброшены")
}

// Status возвращает текущее состояние риск-менеджера
func (r *RiskGate) Status() models.RiskStatus {
	r.mu.Lock()
	balance := r.totalBalance
	trades := r.dailyTrades
	pnl := r.dailyPnl
	count := len(r.positions)
	r.mu.Unlock()

	status := models.RiskStatus{
		TotalBalance:   balance,
		PositionsCount: count,
		DailyPnl:       pnl,
		DailyTrades:    trades,
	}
	status.CanTrade, status.Reason = r.CanOpenNewPosition("")
	return status
}
