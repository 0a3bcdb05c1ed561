package utils

import "testing"

// ============================================================
// Тесты округления
// ============================================================

func TestRound(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		decimals int
		want     float64
	}{
		{"два знака вниз", 1.234, 2, 1.23},
		{"два знака вверх", 1.235, 2, 1.24},
		{"отрицательное", -1.235, 2, -1.24},
		{"ноль знаков", 1.5, 0, 2},
		{"восемь знаков", 0.123456789, 8, 0.12345679},
		{"уже округлено", 66000.0, 2, 66000.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Round(tt.value, tt.decimals); got != tt.want {
				t.Errorf("Round(%v, %d) = %v, want %v", tt.value, tt.decimals, got, tt.want)
			}
		})
	}
}

func TestRound2(t *testing.T) {
	// P&L: (67000 - 66000) * 0.001 - 0.066 = 0.934
	if got := Round2((67000.0-66000.0)*0.001 - 0.066); got != 0.93 {
		t.Errorf("Round2() = %v, want 0.93", got)
	}
}

func TestRound8(t *testing.T) {
	// Размер позиции: 2 / 6600 = 0.00030303...
	if got := Round8(2.0 / 6600.0); got != 0.00030303 {
		t.Errorf("Round8() = %v, want 0.00030303", got)
	}
}
