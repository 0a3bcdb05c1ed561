package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"autotrader/internal/exchange"
	"autotrader/internal/journal"
	"autotrader/internal/models"
	"autotrader/pkg/retry"
	"autotrader/pkg/utils"
)

// Ошибки трейлинг-стопа
var (
	ErrStopExists   = errors.New("trailing stop already exists for symbol")
	ErrStopNotFound = errors.New("trailing stop not found for symbol")
)

// TrailingConfig - конфигурация трейлинг-стопа
type TrailingConfig struct {
	// ActivationRatio - прибыль, после которой стоп активируется
	// (0.02 = активация при +2% от входа)
	ActivationRatio float64 `json:"activation_ratio"`

	// TrailRatio - дистанция стопа как доля от цены входа
	TrailRatio float64 `json:"trail_ratio"`

	// PollInterval - интервал опроса цены монитором
	PollInterval time.Duration `json:"poll_interval"`

	// AutoExecute - ликвидировать позицию через биржу при срабатывании
	AutoExecute bool `json:"auto_execute"`

	// EventBuffer - ёмкость канала событий
	EventBuffer int `json:"event_buffer"`
}

// DefaultTrailingConfig возвращает конфигурацию по умолчанию
func DefaultTrailingConfig() TrailingConfig {
	return TrailingConfig{
		ActivationRatio: 0.02,
		TrailRatio:      0.01,
		PollInterval:    10 * time.Second,
		AutoExecute:     false,
		EventBuffer:     64,
	}
}

// Типы событий трейлинг-стопа
const (
	EventActivated   = "activated"    // pending → active
	EventStopUpdated = "stop_updated" // стоп подтянут за ценой
	EventTriggered   = "triggered"    // active → triggered
)

// StopEvent - событие трейлинг-стопа.
// События доставляются в буферизированный канал, который дренирует
// вызывающий; переполненный канал роняет событие, а не блокирует
// ценовой цикл.
type StopEvent struct {
	Type      string       `json:"type"`
	Symbol    string       `json:"symbol"`
	Price     float64      `json:"price"`
	StopPrice float64      `json:"stop_price"`
	Snapshot  StopSnapshot `json:"snapshot"`
	At        time.Time    `json:"at"`
}

// StopSnapshot - снимок состояния трейлинг-стопа
type StopSnapshot struct {
	Symbol          string  `json:"symbol"`
	Side            string  `json:"side"` // long, short
	EntryPrice      float64 `json:"entry_price"`
	Size            float64 `json:"size"`
	ActivationPrice float64 `json:"activation_price"`
	TrailDistance   float64 `json:"trail_distance"`
	HighestPrice    float64 `json:"highest_price"`
	LowestPrice     float64 `json:"lowest_price"`
	StopPrice       float64 `json:"stop_price"`
	Status          string  `json:"status"`
}

// stopState - изменяемое состояние одного стопа (под мьютексом движка)
type stopState struct {
	StopSnapshot
	monitorStop chan struct{}
	monitorDone chan struct{}
}

// TrailingEngine - движок трейлинг-стопов.
//
// Ведёт state machine по символу: pending → active → triggered,
// без регрессий. Экстремумы цены и стоп двигаются только в выгодную
// сторону. На каждый отслеживаемый символ запускается не более одного
// фонового монитора.
type TrailingEngine struct {
	cfg    TrailingConfig
	market exchange.MarketClient
	ledger *journal.Journal
	risk   *RiskGate
	log    *utils.Logger

	mu    sync.Mutex
	stops map[string]*stopState

	events chan StopEvent
}

// NewTrailingEngine создаёт движок трейлинг-стопов.
// ledger и risk опциональны: без них автоликвидация только размещает
// ордер, не трогая журнал и счётчики.
func NewTrailingEngine(cfg TrailingConfig, market exchange.MarketClient, ledger *journal.Journal, risk *RiskGate, log *utils.Logger) *TrailingEngine {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if log == nil {
		log = utils.L()
	}
	return &TrailingEngine{
		cfg:    cfg,
		market: market,
		ledger: ledger,
		risk:   risk,
		log:    log.WithComponent("trailing"),
		stops:  make(map[string]*stopState),
		events: make(chan StopEvent, cfg.EventBuffer),
	}
}

// Events возвращает канал событий трейлинг-стопов
func (e *TrailingEngine) Events() <-chan StopEvent {
	return e.events
}

// AddPosition ставит позицию на отслеживание
func (e *TrailingEngine) AddPosition(symbol string, entryPrice, size float64, side string) (StopSnapshot, error) {
	if side != models.SideLong && side != models.SideShort {
		return StopSnapshot{}, fmt.Errorf("invalid side %q", side)
	}
	if entryPrice <= 0 || size <= 0 {
		return StopSnapshot{}, fmt.Errorf("invalid entry price or size")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.stops[symbol]; exists {
		return StopSnapshot{}, fmt.Errorf("%w: %s", ErrStopExists, symbol)
	}

	activation := entryPrice * (1 + e.cfg.ActivationRatio)
	lowest := 0.0
	highest := entryPrice
	if side == models.SideShort {
		activation = entryPrice * (1 - e.cfg.ActivationRatio)
		lowest = entryPrice
		highest = 0
	}

	state := &stopState{
		StopSnapshot: StopSnapshot{
			Symbol:          symbol,
			Side:            side,
			EntryPrice:      entryPrice,
			Size:            size,
			ActivationPrice: activation,
			TrailDistance:   entryPrice * e.cfg.TrailRatio,
			HighestPrice:    highest,
			LowestPrice:     lowest,
			Status:          StopStatePending,
		},
	}
	e.stops[symbol] = state

	e.log.Info("позиция на отслеживании",
		utils.Symbol(symbol),
		utils.Side(side),
		utils.Price(entryPrice),
		utils.Float64("activation_price", activation),
		utils.Float64("trail_distance", state.TrailDistance),
	)
	return state.StopSnapshot, nil
}

// Remove снимает позицию с отслеживания и останавливает её монитор
func (e *TrailingEngine) Remove(symbol string) error {
	e.mu.Lock()
	state, ok := e.stops[symbol]
	if ok {
		delete(e.stops, symbol)
	}
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrStopNotFound, symbol)
	}
	e.haltMonitor(state)
	return nil
}

// Snapshot возвращает текущее состояние стопа по символу
func (e *TrailingEngine) Snapshot(symbol string) (StopSnapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.stops[symbol]
	if !ok {
		return StopSnapshot{}, false
	}
	return state.StopSnapshot, true
}

// Snapshots возвращает состояния всех отслеживаемых стопов
func (e *TrailingEngine) Snapshots() []StopSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]StopSnapshot, 0, len(e.stops))
	for _, s := range e.stops {
		out = append(out, s.StopSnapshot)
	}
	return out
}

// CheckPrice обрабатывает тик цены для символа.
//
// Порядок шагов фиксирован:
//  1. Подтянуть экстремум (максимум для long, минимум для short).
//  2. pending: при пересечении activation price в выгодную сторону -
//     активировать, стоп = price ∓ trailDistance.
//  3. active: сначала проверка срабатывания, затем подтяжка стопа
//     строго в выгодную сторону.
//
// Возвращает (triggered, снимок). После triggered дальнейшие тики -
// no-op: ликвидация на совести вызывающего.
func (e *TrailingEngine) CheckPrice(symbol string, price float64) (bool, StopSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, ok := e.stops[symbol]
	if !ok {
		return false, StopSnapshot{}, fmt.Errorf("%w: %s", ErrStopNotFound, symbol)
	}
	if state.Status == StopStateTriggered {
		return false, state.StopSnapshot, nil
	}

	long := state.Side == models.SideLong

	// Экстремумы - монотонная храповая логика, без регрессий
	if long {
		if price > state.HighestPrice {
			state.HighestPrice = price
		}
	} else {
		if price < state.LowestPrice {
			state.LowestPrice = price
		}
	}

	if state.Status == StopStatePending {
		crossed := (long && price >= state.ActivationPrice) ||
			(!long && price <= state.ActivationPrice)
		if crossed && CanTransition(state.Status, StopStateActive) {
			state.Status = StopStateActive
			if long {
				state.StopPrice = price - state.TrailDistance
			} else {
				state.StopPrice = price + state.TrailDistance
			}
			TrailingStopEvents.WithLabelValues(symbol, "activated").Inc()
			e.emit(StopEvent{
				Type:      EventActivated,
				Symbol:    symbol,
				Price:     price,
				StopPrice: state.StopPrice,
				Snapshot:  state.StopSnapshot,
				At:        time.Now(),
			})
			e.log.Info("стоп активирован",
				utils.Symbol(symbol),
				utils.Price(price),
				utils.Float64("stop_price", state.StopPrice),
			)
		}
	}

	if state.Status == StopStateActive {
		crossedStop := (long && price <= state.StopPrice) ||
			(!long && price >= state.StopPrice)
		if crossedStop && CanTransition(state.Status, StopStateTriggered) {
			state.Status = StopStateTriggered
			TrailingStopEvents.WithLabelValues(symbol, "triggered").Inc()
			e.emit(StopEvent{
				Type:      EventTriggered,
				Symbol:    symbol,
				Price:     price,
				StopPrice: state.StopPrice,
				Snapshot:  state.StopSnapshot,
				At:        time.Now(),
			})
			e.log.Warn("стоп сработал",
				utils.Symbol(symbol),
				utils.Price(price),
				utils.Float64("stop_price", state.StopPrice),
			)
			return true, state.StopSnapshot, nil
		}

		// Подтяжка стопа: только в выгодную сторону
		var newStop float64
		if long {
			newStop = price - state.TrailDistance
		} else {
			newStop = price + state.TrailDistance
		}
		if (long && newStop > state.StopPrice) || (!long && newStop < state.StopPrice) {
			old := state.StopPrice
			state.StopPrice = newStop
			TrailingStopEvents.WithLabelValues(symbol, "updated").Inc()
			e.emit(StopEvent{
				Type:      EventStopUpdated,
				Symbol:    symbol,
				Price:     price,
				StopPrice: newStop,
				Snapshot:  state.StopSnapshot,
				At:        time.Now(),
			})
			e.log.Debug("стоп подтянут",
				utils.Symbol(symbol),
				utils.Float64("old_stop", old),
				utils.Float64("new_stop", newStop),
			)
		}
	}

	return false, state.StopSnapshot, nil
}

// emit отправляет событие без блокировки ценового цикла
func (e *TrailingEngine) emit(ev StopEvent) {
	select {
	case e.events <- ev:
	default:
		// Потребитель отстал: терять событие лучше, чем стопить тики
	}
}

// StartMonitor запускает фоновый монитор символа: опрос цены с
// фиксированным интервалом, подача в CheckPrice, сон, повтор.
// Ошибки итерации логируются и цикл продолжается после обычного сна.
// Завершается по StopMonitor/Remove, отмене контекста или после
// срабатывания стопа с автоликвидацией.
func (e *TrailingEngine) StartMonitor(ctx context.Context, symbol string) error {
	e.mu.Lock()
	state, ok := e.stops[symbol]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStopNotFound, symbol)
	}
	if state.monitorStop != nil {
		e.mu.Unlock()
		return fmt.Errorf("monitor for %s already running", symbol)
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	state.monitorStop = stop
	state.monitorDone = done
	e.mu.Unlock()

	go e.monitorLoop(ctx, symbol, stop, done)

	e.log.Info("монитор запущен",
		utils.Symbol(symbol),
		utils.String("interval", e.cfg.PollInterval.String()),
	)
	return nil
}

// monitorLoop - цикл опроса цены для одного символа
func (e *TrailingEngine) monitorLoop(ctx context.Context, symbol string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		tick, err := e.market.GetTicker(ctx, symbol)
		if err != nil {
			// Транзиентная ошибка: пропускаем итерацию, не убивая монитор
			e.log.Warn("ошибка опроса цены", utils.Symbol(symbol), utils.Err(err))
			continue
		}

		triggered, snap, err := e.CheckPrice(symbol, tick.Last)
		if err != nil {
			// Стоп сняли, пока монитор спал
			return
		}
		if !triggered {
			continue
		}

		if e.cfg.AutoExecute {
			if err := e.liquidate(ctx, snap, tick.Last); err != nil {
				e.log.Error("автоликвидация не удалась",
					utils.Symbol(symbol),
					utils.Err(err),
				)
				// Позиция осталась открытой: оставляем запись в triggered,
				// решение за оператором
				return
			}
			e.mu.Lock()
			delete(e.stops, symbol)
			e.mu.Unlock()
		}
		return
	}
}

// StopMonitor останавливает монитор символа с ограниченным ожиданием.
// Возвращает false если монитор не завершился за отведённое время.
func (e *TrailingEngine) StopMonitor(symbol string) bool {
	e.mu.Lock()
	state, ok := e.stops[symbol]
	e.mu.Unlock()
	if !ok {
		return true
	}
	return e.haltMonitor(state)
}

// haltMonitor закрывает stop-канал и ждёт завершения цикла
// не дольше трёх интервалов опроса
func (e *TrailingEngine) haltMonitor(state *stopState) bool {
	e.mu.Lock()
	stop := state.monitorStop
	done := state.monitorDone
	state.monitorStop = nil
	state.monitorDone = nil
	e.mu.Unlock()

	if stop == nil {
		return true
	}
	close(stop)

	select {
	case <-done:
		return true
	case <-time.After(3 * e.cfg.PollInterval):
		e.log.Warn("монитор не завершился за отведённое время",
			utils.Symbol(state.Symbol),
		)
		return false
	}
}

// StopAll останавливает все мониторы (используется при shutdown)
func (e *TrailingEngine) StopAll() {
	e.mu.Lock()
	states := make([]*stopState, 0, len(e.stops))
	for _, s := range e.stops {
		states = append(states, s)
	}
	e.mu.Unlock()

	for _, s := range states {
		e.haltMonitor(s)
	}
}

// liquidate закрывает позицию рыночным ордером через шлюз.
// Закрытие позиции - критичная операция: ордер уходит с агрессивным
// retry, затем закрывается запись журнала и снимаются счётчики риска.
func (e *TrailingEngine) liquidate(ctx context.Context, snap StopSnapshot, price float64) error {
	side := models.SideSell
	if snap.Side == models.SideShort {
		side = models.SideBuy
	}

	cfg := retry.AggressiveConfig()
	// Fail-fast ошибки биржи (неверный размер, нет баланса) повтором
	// не лечатся
	cfg.RetryIf = retry.IsRetryable
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		e.log.Warn("повтор ордера ликвидации",
			utils.Symbol(snap.Symbol),
			utils.Int("attempt", attempt),
			utils.Err(err),
		)
	}

	_, err := retry.DoWithResult(ctx, func() (*exchange.OrderResult, error) {
		return e.market.PlaceOrder(ctx, exchange.OrderRequest{
			Symbol: snap.Symbol,
			Side:   side,
			Size:   snap.Size,
		})
	}, cfg)
	if err != nil {
		return fmt.Errorf("liquidation order: %w", err)
	}

	OrdersPlaced.WithLabelValues(snap.Symbol, side, "trailing_stop").Inc()

	if e.ledger != nil {
		closed, err := e.ledger.CloseTrade(snap.Symbol, price)
		switch {
		case errors.Is(err, journal.ErrNoOpenTrade):
			e.log.Warn("журнал не знает об открытой сделке",
				utils.Symbol(snap.Symbol),
			)
		case err != nil:
			return fmt.Errorf("close ledger record: %w", err)
		default:
			if e.risk != nil && closed.Pnl != nil {
				e.risk.UpdatePnl(*closed.Pnl)
			}
		}
	}
	if e.risk != nil {
		e.risk.RemovePosition(snap.Symbol)
	}

	e.log.Info("позиция ликвидирована",
		utils.Symbol(snap.Symbol),
		utils.Side(side),
		utils.Price(price),
	)
	return nil
}
