package exchange

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"autotrader/pkg/utils"
)

// PriceFeedConfig конфигурация WebSocket-фида цен
type PriceFeedConfig struct {
	// URL публичного WebSocket API
	URL string
	// Начальная задержка перед переподключением
	InitialDelay time.Duration
	// Максимальная задержка (после exponential backoff)
	MaxDelay time.Duration
	// Таймаут подключения
	ConnectTimeout time.Duration
	// Интервал ping для проверки соединения.
	// OKX разрывает соединение без активности дольше 30 секунд.
	PingInterval time.Duration
	// Ёмкость буфера исходящих тиков
	Buffer int
}

// DefaultPriceFeedConfig возвращает конфигурацию по умолчанию
func DefaultPriceFeedConfig() PriceFeedConfig {
	return PriceFeedConfig{
		URL:            "wss://ws.okx.com:8443/ws/v5/public",
		InitialDelay:   2 * time.Second,
		MaxDelay:       16 * time.Second,
		ConnectTimeout: 10 * time.Second,
		PingInterval:   25 * time.Second,
		Buffer:         256,
	}
}

// PriceFeedState состояние соединения фида
type PriceFeedState int32

const (
	FeedDisconnected PriceFeedState = iota
	FeedConnecting
	FeedConnected
	FeedClosed
)

func (s PriceFeedState) String() string {
	switch s {
	case FeedDisconnected:
		return "disconnected"
	case FeedConnecting:
		return "connecting"
	case FeedConnected:
		return "connected"
	case FeedClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PriceFeed - поток тиков с публичного WebSocket API OKX.
//
// Подписывается на канал tickers для заданных инструментов и отдаёт
// разобранные тики в канал Ticks(). При разрыве соединения
// переподключается с exponential backoff (2s, 4s, 8s, 16s) и
// восстанавливает подписки.
//
// Медленный потребитель не блокирует чтение: при заполненном буфере
// тик отбрасывается (актуальна всегда последняя цена, не история).
type PriceFeed struct {
	cfg     PriceFeedConfig
	symbols []string
	log     *utils.Logger

	out   chan Ticker
	state int32 // atomic PriceFeedState
}

// NewPriceFeed создаёт фид цен для заданных инструментов
func NewPriceFeed(cfg PriceFeedConfig, symbols []string, log *utils.Logger) *PriceFeed {
	if cfg.URL == "" {
		cfg = DefaultPriceFeedConfig()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if log == nil {
		log = utils.L()
	}
	return &PriceFeed{
		cfg:     cfg,
		symbols: symbols,
		log:     log.WithComponent("pricefeed"),
		out:     make(chan Ticker, cfg.Buffer),
	}
}

// Ticks возвращает канал входящих тиков
func (f *PriceFeed) Ticks() <-chan Ticker {
	return f.out
}

// State возвращает текущее состояние соединения
func (f *PriceFeed) State() PriceFeedState {
	return PriceFeedState(atomic.LoadInt32(&f.state))
}

// Run ведёт соединение до отмены контекста: подключение, чтение,
// переподключение с backoff. Блокирующий вызов, запускается в горутине.
func (f *PriceFeed) Run(ctx context.Context) {
	defer atomic.StoreInt32(&f.state, int32(FeedClosed))
	defer close(f.out)

	delay := f.cfg.InitialDelay
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		atomic.StoreInt32(&f.state, int32(FeedConnecting))
		conn, err := f.dial(ctx)
		if err != nil {
			f.log.Warn("подключение не удалось, ждём перед повтором",
				utils.Err(err),
				utils.String("delay", delay.String()),
			)
			if serr := sleepCtx(ctx, delay); serr != nil {
				return
			}
			// Exponential backoff до MaxDelay
			delay *= 2
			if delay > f.cfg.MaxDelay {
				delay = f.cfg.MaxDelay
			}
			continue
		}

		atomic.StoreInt32(&f.state, int32(FeedConnected))
		delay = f.cfg.InitialDelay
		f.log.Info("фид подключен", utils.String("url", f.cfg.URL))

		err = f.readLoop(ctx, conn)
		conn.Close()
		atomic.StoreInt32(&f.state, int32(FeedDisconnected))

		if ctx.Err() != nil {
			return
		}
		f.log.Warn("соединение разорвано, переподключаемся", utils.Err(err))
	}
}

// dial подключается и подписывается на канал tickers
func (f *PriceFeed) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, f.cfg.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: f.cfg.ConnectTimeout}
	conn, _, err := dialer.DialContext(dialCtx, f.cfg.URL, nil)
	if err != nil {
		return nil, err
	}

	args := make([]map[string]string, 0, len(f.symbols))
	for _, s := range f.symbols {
		args = append(args, map[string]string{"channel": "tickers", "instId": s})
	}
	sub := map[string]interface{}{"op": "subscribe", "args": args}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// feedMessage - сообщение канала tickers
type feedMessage struct {
	Event string `json:"event"` // subscribe, error
	Msg   string `json:"msg"`
	Arg   struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data []okxTicker `json:"data"`
}

// readLoop читает сообщения до ошибки или отмены контекста
func (f *PriceFeed) readLoop(ctx context.Context, conn *websocket.Conn) error {
	// Пингуем в отдельной горутине, выход по errCh/ctx
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(f.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ctx.Done():
				conn.Close() // будит заблокированный ReadMessage
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				// OKX использует текстовый ping вместо control frame
				if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if string(raw) == "pong" {
			continue
		}

		var msg feedMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			f.log.Debug("нераспознанное сообщение фида", utils.Err(err))
			continue
		}
		if msg.Event == "error" {
			f.log.Warn("ошибка подписки", utils.String("msg", msg.Msg))
			continue
		}

		for _, t := range msg.Data {
			last, err := strconv.ParseFloat(t.Last, 64)
			if err != nil {
				continue
			}
			tick := Ticker{
				Symbol:    t.InstID,
				Last:      last,
				Timestamp: time.Now(),
			}
			if ms, err := strconv.ParseInt(t.Ts, 10, 64); err == nil {
				tick.Timestamp = time.UnixMilli(ms)
			}

			select {
			case f.out <- tick:
			default:
				// Буфер полон: потребитель отстаёт, старый тик ему не нужен
			}
		}
	}
}
