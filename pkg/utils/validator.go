package utils

import (
	"fmt"
	"math"
	"strings"
)

// validator.go - валидация входных данных API и конфигурации

// ValidateSymbol проверяет формат инструмента OKX: BASE-QUOTE,
// например "BTC-USDT". Обе части - непустые, буквы и цифры в
// верхнем регистре.
func ValidateSymbol(symbol string) error {
	base, quote, found := strings.Cut(symbol, "-")
	if !found || base == "" || quote == "" {
		return fmt.Errorf("invalid symbol %q: expected BASE-QUOTE format", symbol)
	}
	for _, part := range []string{base, quote} {
		for _, c := range part {
			if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
				return fmt.Errorf("invalid symbol %q: only uppercase letters and digits allowed", symbol)
			}
		}
	}
	return nil
}

// ValidatePrice проверяет цену: положительная и конечная
func ValidatePrice(price float64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return fmt.Errorf("invalid price: not a finite number")
	}
	if price <= 0 {
		return fmt.Errorf("invalid price %.8f: must be positive", price)
	}
	return nil
}

// ValidateRatio проверяет долю: в интервале (0, 1]
func ValidateRatio(name string, ratio float64) error {
	if ratio <= 0 || ratio > 1 {
		return fmt.Errorf("%s must be in (0, 1], got %.4f", name, ratio)
	}
	return nil
}
