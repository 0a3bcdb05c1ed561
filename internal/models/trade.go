package models

import "time"

// Trade представляет запись о сделке в журнале.
// Записи append-only: открытая сделка дополняется полями закрытия,
// но никогда не удаляется из файла журнала.
type Trade struct {
	Symbol     string     `json:"symbol"`
	Side       string     `json:"side"` // buy, sell
	Size       float64    `json:"size"`
	EntryPrice float64    `json:"entry_price"`
	Fee        float64    `json:"fee"`
	Status     string     `json:"status"` // open, closed, cancelled
	OpenedAt   time.Time  `json:"opened_at"`
	ClosePrice float64    `json:"close_price,omitempty"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
	Pnl        *float64   `json:"pnl,omitempty"` // заполняется при закрытии
	Note       string     `json:"note,omitempty"`
}

// Статусы сделки
const (
	TradeStatusOpen      = "open"
	TradeStatusClosed    = "closed"
	TradeStatusCancelled = "cancelled"
)

// Side constants for orders (направление ордера)
const (
	SideBuy  = "buy"  // покупка
	SideSell = "sell" // продажа
)

// Side constants for positions (направление позиции)
const (
	SideLong  = "long"  // длинная позиция (ставка на рост)
	SideShort = "short" // короткая позиция (ставка на падение)
)

// IsOpen возвращает true если сделка ещё не закрыта
func (t *Trade) IsOpen() bool {
	return t.Status == TradeStatusOpen
}

// RealizedPnl вычисляет реализованный P&L для заданной цены закрытия.
// Для buy: (close - entry) * size - fee, для sell знак разницы меняется.
func (t *Trade) RealizedPnl(closePrice float64) float64 {
	if t.Side == SideBuy {
		return (closePrice-t.EntryPrice)*t.Size - t.Fee
	}
	return (t.EntryPrice-closePrice)*t.Size - t.Fee
}
