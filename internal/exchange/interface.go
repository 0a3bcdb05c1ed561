// Package exchange реализует клиент REST API биржи OKX: подпись запросов,
// пул соединений, failover между эндпоинтами и retry-политику.
package exchange

import (
	"context"
	"time"
)

// MarketClient определяет интерфейс шлюза биржи, который потребляют
// торговые компоненты. Позволяет подменять клиента в тестах.
type MarketClient interface {
	// GetTicker получает текущую цену актива
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)

	// AvailableBalance получает доступный баланс в указанной валюте
	AvailableBalance(ctx context.Context, currency string) (float64, error)

	// PlaceOrder размещает ордер (рыночный или лимитный)
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)

	// GetOrderStatus запрашивает состояние ордера по его ID
	GetOrderStatus(ctx context.Context, orderID, symbol string) (*OrderDetail, error)
}

// Ticker содержит информацию о текущей цене
type Ticker struct {
	Symbol    string    `json:"symbol"`
	Last      float64   `json:"last"`     // последняя сделка
	High24h   float64   `json:"high_24h"` // максимум за 24 часа
	Low24h    float64   `json:"low_24h"`  // минимум за 24 часа
	Timestamp time.Time `json:"timestamp"`
}

// AssetBalance представляет баланс одной валюты на счёте
type AssetBalance struct {
	Currency  string  `json:"currency"`
	Available float64 `json:"available"`
	Frozen    float64 `json:"frozen"`
}

// OrderRequest описывает параметры размещаемого ордера.
// Price == 0 означает рыночный ордер, иначе лимитный.
type OrderRequest struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"` // buy, sell
	Size     float64 `json:"size"`
	Price    float64 `json:"price,omitempty"`
	TdMode   string  `json:"td_mode,omitempty"`  // cash (спот) / isolated (изолированная маржа)
	Leverage int     `json:"leverage,omitempty"` // только для маржинальных режимов
}

// OrderResult представляет результат размещения ордера
type OrderResult struct {
	OrderID string `json:"order_id"`
	Symbol  string `json:"symbol"`
	Side    string `json:"side"`
}

// OrderDetail представляет состояние ордера на бирже
type OrderDetail struct {
	OrderID   string  `json:"order_id"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	State     string  `json:"state"` // live, partially_filled, filled, canceled
	Size      float64 `json:"size"`
	FilledSz  float64 `json:"filled_size"`
	AvgPrice  float64 `json:"avg_price"`
	Fee       float64 `json:"fee"`
	CreatedAt time.Time `json:"created_at"`
}

// tdMode по умолчанию - спотовая торговля
const DefaultTdMode = "cash"
