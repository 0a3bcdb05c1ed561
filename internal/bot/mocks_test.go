package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"autotrader/internal/exchange"
)

// fakeMarket - подменный шлюз биржи для тестов.
// GetTicker отдаёт цены из последовательности prices (последняя цена
// повторяется после исчерпания); без последовательности - price.
type fakeMarket struct {
	mu sync.Mutex

	price   float64
	prices  []float64
	idx     int
	balance float64

	tickerErr  error
	balanceErr error
	orderErr   error

	orders []exchange.OrderRequest
}

func (f *fakeMarket) GetTicker(_ context.Context, symbol string) (*exchange.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.tickerErr != nil {
		return nil, f.tickerErr
	}
	last := f.price
	if len(f.prices) > 0 {
		if f.idx >= len(f.prices) {
			last = f.prices[len(f.prices)-1]
		} else {
			last = f.prices[f.idx]
			f.idx++
		}
	}
	return &exchange.Ticker{Symbol: symbol, Last: last, Timestamp: time.Now()}, nil
}

func (f *fakeMarket) AvailableBalance(_ context.Context, _ string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return 0, f.balanceErr
	}
	return f.balance, nil
}

func (f *fakeMarket) PlaceOrder(_ context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	f.orders = append(f.orders, req)
	return &exchange.OrderResult{
		OrderID: fmt.Sprintf("order-%d", len(f.orders)),
		Symbol:  req.Symbol,
		Side:    req.Side,
	}, nil
}

func (f *fakeMarket) GetOrderStatus(_ context.Context, orderID, symbol string) (*exchange.OrderDetail, error) {
	return &exchange.OrderDetail{OrderID: orderID, Symbol: symbol, State: "filled"}, nil
}

// placedOrders возвращает снимок размещённых ордеров
func (f *fakeMarket) placedOrders() []exchange.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]exchange.OrderRequest, len(f.orders))
	copy(out, f.orders)
	return out
}
