package exchange

import (
	"testing"
	"time"
)

// ============================================================
// Тесты подписи запросов OKX
// ============================================================

func TestSignerTimestampFormat(t *testing.T) {
	s := NewSigner("secret")

	tests := []struct {
		name string
		now  time.Time
		want string
	}{
		{
			name: "UTC время с миллисекундами",
			now:  time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC),
			want: "2024-03-15T12:00:00.000Z",
		},
		{
			name: "миллисекунды сохраняются",
			now:  time.Date(2024, 3, 15, 12, 0, 0, 123_000_000, time.UTC),
			want: "2024-03-15T12:00:00.123Z",
		},
		{
			name: "не-UTC зона конвертируется в UTC",
			now:  time.Date(2024, 3, 15, 15, 0, 0, 0, time.FixedZone("MSK", 3*3600)),
			want: "2024-03-15T12:00:00.000Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Timestamp(tt.now); got != tt.want {
				t.Errorf("Timestamp() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSignerSign(t *testing.T) {
	s := NewSigner("test-secret-key")

	tests := []struct {
		name      string
		timestamp string
		method    string
		path      string
		body      string
		want      string
	}{
		{
			name:      "GET без тела",
			timestamp: "2024-03-15T12:00:00.000Z",
			method:    "GET",
			path:      "/api/v5/account/balance",
			body:      "",
			want:      "Kutwn18HpM4U4YpgaIvUEfPAwUp8IhIt/MWuEwcZlQE=",
		},
		{
			name:      "POST с телом",
			timestamp: "2024-03-15T12:00:00.000Z",
			method:    "POST",
			path:      "/api/v5/trade/order",
			body:      `{"instId":"BTC-USDT"}`,
			want:      "/+7abjEfBtnry5vV6oiOnJiz6UjEI6nZrC4DSaRIE3M=",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Sign(tt.timestamp, tt.method, tt.path, tt.body)
			if got != tt.want {
				t.Errorf("Sign() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSignerDeterministic(t *testing.T) {
	s := NewSigner("secret")

	sig1 := s.Sign("2024-03-15T12:00:00.000Z", "GET", "/api/v5/market/ticker?instId=BTC-USDT", "")
	sig2 := s.Sign("2024-03-15T12:00:00.000Z", "GET", "/api/v5/market/ticker?instId=BTC-USDT", "")
	if sig1 != sig2 {
		t.Errorf("одинаковый вход дал разные подписи: %q != %q", sig1, sig2)
	}

	// Другой timestamp обязан давать другую подпись
	sig3 := s.Sign("2024-03-15T12:00:01.000Z", "GET", "/api/v5/market/ticker?instId=BTC-USDT", "")
	if sig1 == sig3 {
		t.Error("разные timestamp'ы дали одинаковую подпись")
	}
}
