package models

// JournalStats представляет агрегированную статистику журнала сделок
type JournalStats struct {
	TotalTrades   int     `json:"total_trades"`
	OpenPositions int     `json:"open_positions"`
	ClosedTrades  int     `json:"closed_trades"`
	TotalPnl      float64 `json:"total_pnl"`
	WinRate       float64 `json:"win_rate"`     // wins / closed * 100
	ProfitRatio   float64 `json:"profit_ratio"` // avgWin / avgLoss
	Wins          int     `json:"wins"`
	Losses        int     `json:"losses"`
}

// RiskStatus представляет текущее состояние риск-менеджера
type RiskStatus struct {
	TotalBalance   float64 `json:"total_balance"`
	PositionsCount int     `json:"positions_count"`
	DailyPnl       float64 `json:"daily_pnl"`
	DailyTrades    int     `json:"daily_trades"`
	CanTrade       bool    `json:"can_trade"`
	Reason         string  `json:"reason,omitempty"`
}

// GatewayStats представляет счётчики телеметрии API клиента
type GatewayStats struct {
	Requests int64 `json:"requests"`
	Success  int64 `json:"success"`
	Failed   int64 `json:"failed"`
	Retries  int64 `json:"retries"`
}

// ExecutionResult - машиночитаемый результат торговой операции.
// Внешний слой отображения рендерит его в одну строку статуса,
// не заглядывая во внутренности компонентов.
type ExecutionResult struct {
	Strategy string  `json:"strategy"`
	Executed bool    `json:"executed"`
	Reason   string  `json:"reason"`
	Symbol   string  `json:"symbol,omitempty"`
	Side     string  `json:"side,omitempty"`
	Size     float64 `json:"size,omitempty"`
	Price    float64 `json:"price,omitempty"`
	OrderID  string  `json:"order_id,omitempty"`
}
