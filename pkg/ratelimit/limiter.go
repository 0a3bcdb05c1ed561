// Package ratelimit - token bucket перед REST запросами к OKX.
//
// Каждая попытка шлюза (включая повторы) проходит через лимитер:
// превышение лимитов биржи оборачивается 429 и штрафной паузой,
// дешевле не допускать его на своей стороне.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter - token bucket.
//
// Ведро наполняется с постоянной скоростью rate токенов/сек до ёмкости
// burst; запрос потребляет токен или ждёт его появления. Burst
// покрывает всплески вроде балансировки нескольких стратегий в одном
// проходе торгового цикла.
type RateLimiter struct {
	rate       float64 // токенов в секунду
	burst      float64 // ёмкость ведра
	tokens     float64
	lastRefill time.Time
	mu         sync.Mutex
}

// NewRateLimiter создаёт лимитер.
//
// Для публичных endpoint'ов OKX безопасный лимит 20 req/sec (burst 40),
// для торговых - ниже, см. документацию биржи по конкретному endpoint.
func NewRateLimiter(rate, burst float64) *RateLimiter {
	if rate <= 0 {
		rate = 10
	}
	if burst < rate {
		burst = rate * 2
	}

	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     burst, // стартуем с полным ведром
		lastRefill: time.Now(),
	}
}

// refill пополняет токены за прошедшее время. Вызывается под lock'ом.
func (rl *RateLimiter) refill() {
	now := time.Now()
	rl.tokens += now.Sub(rl.lastRefill).Seconds() * rl.rate
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}
	rl.lastRefill = now
}

// Wait блокирует до получения токена или отмены контекста
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		rl.refill()

		if rl.tokens >= 1 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}

		waitTime := time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
		rl.mu.Unlock()

		select {
		case <-time.After(waitTime):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Allow потребляет токен без блокировки; false = ведро пусто
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// Tokens возвращает текущий запас токенов (мониторинг)
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	return rl.tokens
}

// Rate возвращает скорость пополнения (токенов/сек)
func (rl *RateLimiter) Rate() float64 {
	return rl.rate
}

// Burst возвращает ёмкость ведра
func (rl *RateLimiter) Burst() float64 {
	return rl.burst
}
