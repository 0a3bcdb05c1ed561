package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики торгового ядра
// ============================================================
//
// Использование:
// - Grafana дашборды для визуализации
// - Alertmanager для уведомлений о проблемах

// ============ Счётчики событий ============

// OrdersPlaced - размещённые ордера по символу, стороне и стратегии
var OrdersPlaced = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "autotrader",
		Subsystem: "trading",
		Name:      "orders_placed_total",
		Help:      "Total number of orders placed on the exchange",
	},
	[]string{"symbol", "side", "strategy"},
)

// RiskRejections - отказы риск-менеджера по причинам
var RiskRejections = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "autotrader",
		Subsystem: "risk",
		Name:      "rejections_total",
		Help:      "Total number of orders rejected by the risk gate",
	},
	[]string{"reason"},
)

// SignalEvaluations - решения сигнальных стратегий
var SignalEvaluations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "autotrader",
		Subsystem: "signals",
		Name:      "evaluations_total",
		Help:      "Total number of signal evaluations by decision",
	},
	[]string{"strategy", "decision"}, // decision: fire, skip
)

// TrailingStopEvents - события трейлинг-стопа
var TrailingStopEvents = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "autotrader",
		Subsystem: "trailing",
		Name:      "events_total",
		Help:      "Total number of trailing stop events",
	},
	[]string{"symbol", "event"}, // event: activated, updated, triggered
)

// ============ Gauges состояния ============

// OpenPositionsGauge - текущее количество открытых позиций
var OpenPositionsGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "autotrader",
		Subsystem: "risk",
		Name:      "open_positions",
		Help:      "Current number of open positions",
	},
)

// DailyPnlGauge - накопленный P&L за день
var DailyPnlGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "autotrader",
		Subsystem: "risk",
		Name:      "daily_pnl",
		Help:      "Realized P&L accumulated for the current day",
	},
)

// AccountBalanceGauge - последний известный баланс счёта
var AccountBalanceGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "autotrader",
		Subsystem: "account",
		Name:      "balance",
		Help:      "Last known available account balance in quote currency",
	},
)
