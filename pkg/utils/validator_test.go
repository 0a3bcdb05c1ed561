package utils

import (
	"math"
	"testing"
)

func TestValidateSymbol(t *testing.T) {
	tests := []struct {
		name    string
		symbol  string
		wantErr bool
	}{
		{"spot pair", "BTC-USDT", false},
		{"numeric base", "1INCH-USDT", false},
		{"no separator", "BTCUSDT", true},
		{"lowercase", "btc-usdt", true},
		{"empty quote", "BTC-", true},
		{"empty base", "-USDT", true},
		{"empty string", "", true},
		{"extra separator keeps quote valid", "BTC-USDT-SWAP", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSymbol(tt.symbol)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSymbol(%q) error = %v, wantErr %v", tt.symbol, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePrice(t *testing.T) {
	tests := []struct {
		name    string
		price   float64
		wantErr bool
	}{
		{"positive", 66000.5, false},
		{"zero", 0, true},
		{"negative", -1, true},
		{"nan", math.NaN(), true},
		{"infinity", math.Inf(1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePrice(tt.price)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePrice(%v) error = %v, wantErr %v", tt.price, err, tt.wantErr)
			}
		})
	}
}

func TestValidateRatio(t *testing.T) {
	if err := ValidateRatio("trail_ratio", 0.01); err != nil {
		t.Errorf("ValidateRatio(0.01) = %v, want nil", err)
	}
	if err := ValidateRatio("trail_ratio", 1.0); err != nil {
		t.Errorf("ValidateRatio(1.0) = %v, want nil (boundary included)", err)
	}
	if err := ValidateRatio("trail_ratio", 0); err == nil {
		t.Error("ValidateRatio(0) = nil, want error")
	}
	if err := ValidateRatio("trail_ratio", 1.5); err == nil {
		t.Error("ValidateRatio(1.5) = nil, want error")
	}
}
