// Package retry - повторные попытки для критичных торговых операций.
//
// Шлюз биржи несёт собственную retry-политику на уровне HTTP; этот
// пакет - внешний контур для операций, которые обязаны пройти
// (ликвидация позиции по трейлинг-стопу), когда даже исчерпанные
// попытки шлюза не повод сдаваться.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config - конфигурация retry логики.
//
// Экспоненциальный backoff с jitter:
// delay = min(InitialDelay * Multiplier^attempt + jitter, MaxDelay).
// Jitter размазывает повторы по времени, чтобы клиенты не били в биржу
// синхронно после общего сбоя.
type Config struct {
	// MaxRetries - количество попыток, включая первую.
	// 0 или отрицательное = без ограничения
	MaxRetries int

	// InitialDelay - задержка перед второй попыткой
	InitialDelay time.Duration

	// MaxDelay - потолок задержки
	MaxDelay time.Duration

	// Multiplier - множитель экспоненциального роста
	Multiplier float64

	// JitterFactor - доля случайной вариации задержки, 0..1
	JitterFactor float64

	// RetryIf решает, имеет ли смысл повторять после данной ошибки.
	// nil = повторять всё
	RetryIf func(error) bool

	// OnRetry вызывается перед каждым повтором (логирование)
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig - 4 попытки, задержки 100ms/200ms/400ms (+jitter)
func DefaultConfig() Config {
	return Config{
		MaxRetries:   4,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// AggressiveConfig - для ордеров закрытия позиций: больше попыток,
// быстрее первый повтор. Незакрытая позиция дороже лишнего запроса.
func AggressiveConfig() Config {
	return Config{
		MaxRetries:   6,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

func (c *Config) validate() {
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.JitterFactor < 0 {
		c.JitterFactor = 0
	}
	if c.JitterFactor > 1 {
		c.JitterFactor = 1
	}
}

// delay вычисляет задержку перед попыткой attempt+1
func (c *Config) delay(attempt int) time.Duration {
	d := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt))
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	if c.JitterFactor > 0 {
		d += d * c.JitterFactor * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// DoWithResult выполняет операцию с результатом и повторными попытками.
// Возвращает последнюю ошибку после исчерпания попыток; отмена
// контекста прерывает ожидание немедленно.
func DoWithResult[T any](ctx context.Context, operation func() (T, error), cfg Config) (T, error) {
	cfg.validate()

	var lastErr error
	var zero T

	for attempt := 0; cfg.MaxRetries <= 0 || attempt < cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, ctx.Err()
		default:
		}

		result, err := operation()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if cfg.RetryIf != nil && !cfg.RetryIf(err) {
			return zero, err
		}
		if cfg.MaxRetries > 0 && attempt >= cfg.MaxRetries-1 {
			break
		}

		delay := cfg.delay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, delay)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, lastErr
		}
	}

	return zero, lastErr
}

// Do - вариант DoWithResult для операций без результата
func Do(ctx context.Context, operation func() error, cfg Config) error {
	_, err := DoWithResult(ctx, func() (struct{}, error) {
		return struct{}{}, operation()
	}, cfg)
	return err
}

// ============================================================
// Классификация ошибок
// ============================================================

// RetryableError - ошибки, умеющие сообщать о своей повторяемости
// (*exchange.APIError её реализует)
type RetryableError interface {
	error
	Retryable() bool
}

// IsRetryable сообщает, имеет ли смысл повторять после ошибки.
// Ошибки контекста и fail-fast бизнес-ошибки биржи не повторяются;
// всё остальное - повторяется.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.Retryable()
	}
	return true
}

// PermanentError помечает ошибку как неповторяемую
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string   { return e.Err.Error() }
func (e *PermanentError) Unwrap() error   { return e.Err }
func (e *PermanentError) Retryable() bool { return false }

// Permanent оборачивает ошибку, которую повторять бессмысленно
// (валидация, отклонённый биржей ордер)
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}
