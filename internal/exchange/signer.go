package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"time"
)

// Signer вычисляет подпись запроса к OKX API.
// Чистая функция над секретом: никакого I/O и состояния.
//
// Схема подписи OKX v5:
//
//	signature = base64(HMAC-SHA256(secret, timestamp + METHOD + path + body))
//
// где timestamp - UTC ISO-8601 с миллисекундами и литеральным 'Z'.
// Биржа отклоняет устаревшие timestamp'ы (наблюдается как HTTP 401),
// поэтому подпись всегда передаётся в паре со своим timestamp'ом.
type Signer struct {
	secret []byte
}

// NewSigner создаёт Signer для заданного API секрета
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// timestampLayout - формат OKX: миллисекундная точность, суффикс Z
const timestampLayout = "2006-01-02T15:04:05.000Z"

// Timestamp форматирует момент времени в формат, ожидаемый биржей
func (s *Signer) Timestamp(now time.Time) string {
	return now.UTC().Format(timestampLayout)
}

// Sign вычисляет подпись для запроса.
// method должен быть в верхнем регистре (GET/POST), path - вместе с query.
func (s *Signer) Sign(timestamp, method, path, body string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(timestamp + method + path + body))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
