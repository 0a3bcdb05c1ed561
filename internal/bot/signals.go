package bot

import (
	"fmt"
	"time"

	"autotrader/internal/models"
)

// Имена стратегий
const (
	StrategyDCA            = "dca"
	StrategySupportBuy     = "support_buy"
	StrategyResistanceSell = "resistance_sell"
	StrategyGrid           = "grid"
)

// DCAConfig - конфигурация стратегии регулярных покупок
type DCAConfig struct {
	Enabled      bool       `json:"enabled"`
	Amount       float64    `json:"amount"`        // USDT на одну покупку
	IntervalDays int        `json:"interval_days"` // период между покупками
	LastRun      *time.Time `json:"last_run,omitempty"`
}

// SupportBuyConfig - конфигурация покупки у поддержки
type SupportBuyConfig struct {
	Enabled     bool      `json:"enabled"`
	Amount      float64   `json:"amount"` // USDT на одну покупку
	Supports    []float64 `json:"supports"`
	MinDistance float64   `json:"min_distance"` // ширина зоны над уровнем
}

// ResistanceSellConfig - конфигурация продажи у сопротивления
type ResistanceSellConfig struct {
	Enabled     bool      `json:"enabled"`
	MinProfit   float64   `json:"min_profit"` // минимальная нереализованная прибыль
	Resistances []float64 `json:"resistances"`
	MinDistance float64   `json:"min_distance"` // ширина зоны под уровнем
}

// GridConfig - конфигурация сеточной торговли
type GridConfig struct {
	Enabled       bool    `json:"enabled"`
	Lower         float64 `json:"lower"`
	Upper         float64 `json:"upper"`
	GridSize      int     `json:"grid_size"`
	AmountPerGrid float64 `json:"amount_per_grid"`
}

// StrategyConfig - конфигурация всех стратегий.
// Значения по умолчанию перекрываются JSON файлом при старте.
type StrategyConfig struct {
	DCA            DCAConfig            `json:"dca"`
	SupportBuy     SupportBuyConfig     `json:"support_buy"`
	ResistanceSell ResistanceSellConfig `json:"resistance_sell"`
	Grid           GridConfig           `json:"grid"`
}

// DefaultStrategyConfig возвращает конфигурацию стратегий по умолчанию
func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		DCA: DCAConfig{
			Amount:       5,
			IntervalDays: 7,
		},
		SupportBuy: SupportBuyConfig{
			Amount:      10,
			Supports:    []float64{66000, 65000, 64000},
			MinDistance: 0.02,
		},
		ResistanceSell: ResistanceSellConfig{
			MinProfit:   0.05,
			Resistances: []float64{67000, 68000, 70000},
			MinDistance: 0.02,
		},
		Grid: GridConfig{
			Lower:         60000,
			Upper:         70000,
			GridSize:      10,
			AmountPerGrid: 10,
		},
	}
}

// Signal - решение сигнального эвалюатора.
// Reason - диагностика для человека, в управлении потоком не участвует.
type Signal struct {
	Fire   bool   `json:"fire"`
	Reason string `json:"reason"`
}

// EvaluateSupportBuy проверяет сигнал покупки у поддержки.
// Срабатывает когда цена в зоне [support, support*(1+minDistance)]
// над любым из уровней И открытой позиции по символу нет
// (одна позиция на символ для этой стратегии).
func EvaluateSupportBuy(cfg SupportBuyConfig, price float64, hasOpenPosition bool) Signal {
	if !cfg.Enabled {
		return Signal{Reason: "support buy disabled"}
	}
	if hasOpenPosition {
		return Signal{Reason: "position already open"}
	}

	for _, support := range cfg.Supports {
		if price >= support && price <= support*(1+cfg.MinDistance) {
			distance := (price - support) / support * 100
			return Signal{
				Fire:   true,
				Reason: fmt.Sprintf("price near support %.2f (distance %.1f%%)", support, distance),
			}
		}
	}
	return Signal{Reason: "no support level in range"}
}

// EvaluateResistanceSell проверяет сигнал продажи у сопротивления.
// Срабатывает когда нереализованная прибыль открытой long-позиции
// >= minProfit И цена в зоне [resistance*(1-minDistance), resistance]
// под любым из уровней.
func EvaluateResistanceSell(cfg ResistanceSellConfig, price float64, openBuys []models.Trade) Signal {
	if !cfg.Enabled {
		return Signal{Reason: "resistance sell disabled"}
	}

	for _, pos := range openBuys {
		if pos.EntryPrice <= 0 {
			continue
		}
		profit := (price - pos.EntryPrice) / pos.EntryPrice
		if profit < cfg.MinProfit {
			continue
		}
		for _, resistance := range cfg.Resistances {
			if price <= resistance && price >= resistance*(1-cfg.MinDistance) {
				return Signal{
					Fire:   true,
					Reason: fmt.Sprintf("price near resistance %.2f (profit %.1f%%)", resistance, profit*100),
				}
			}
		}
	}
	return Signal{Reason: "no sell signal"}
}

// EvaluateDCA проверяет сигнал регулярной покупки.
// Срабатывает когда интервал с последнего запуска истёк И доступного
// баланса хватает на покупку.
func EvaluateDCA(cfg DCAConfig, now time.Time, balance float64) Signal {
	if !cfg.Enabled {
		return Signal{Reason: "dca disabled"}
	}

	if cfg.LastRun != nil {
		elapsed := now.Sub(*cfg.LastRun)
		interval := time.Duration(cfg.IntervalDays) * 24 * time.Hour
		if elapsed < interval {
			daysLeft := int((interval - elapsed).Hours()/24) + 1
			return Signal{Reason: fmt.Sprintf("next dca in %d day(s)", daysLeft)}
		}
	}

	if balance < cfg.Amount {
		return Signal{Reason: fmt.Sprintf("insufficient balance %.2f < %.2f", balance, cfg.Amount)}
	}

	return Signal{Fire: true, Reason: fmt.Sprintf("dca due: buy %.2f USDT", cfg.Amount)}
}

// EvaluateGrid проверяет, находится ли цена в границах сетки
func EvaluateGrid(cfg GridConfig, price float64) Signal {
	if !cfg.Enabled {
		return Signal{Reason: "grid disabled"}
	}
	if price < cfg.Lower || price > cfg.Upper {
		return Signal{Reason: fmt.Sprintf("price %.2f outside grid [%.2f, %.2f]", price, cfg.Lower, cfg.Upper)}
	}
	return Signal{Fire: true, Reason: "price inside grid range"}
}
