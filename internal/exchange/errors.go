package exchange

import (
	"errors"
	"fmt"
)

// Действия, предписанные таблицей кодов ошибок.
// Таблица - данные, а не поток управления: классификация бизнес-ошибки
// отделена от retry-цикла клиента.
const (
	// ActionRetry - ошибка временная, запрос можно повторить
	ActionRetry = "retry"
	// ActionFailFast - повторять бессмысленно, ошибка отдаётся вызывающему
	// немедленно, не расходуя оставшиеся попытки
	ActionFailFast = "fail_fast"
)

// errorCodeEntry - запись таблицы кодов бизнес-ошибок OKX
type errorCodeEntry struct {
	Message string
	Action  string
}

// errorCodes - известные коды бизнес-ошибок OKX и предписанные действия
var errorCodes = map[string]errorCodeEntry{
	"50102": {"timestamp expired", ActionRetry},
	"51020": {"order amount too small", ActionFailFast},
	"50014": {"invalid parameters", ActionFailFast},
	"50005": {"invalid leverage", ActionFailFast},
	"50012": {"account mode not supported", ActionFailFast},
	"50101": {"no permission", ActionFailFast},
}

// APIError представляет ошибку API биржи: HTTP-ошибку, бизнес-ошибку
// из envelope или терминальную ошибку после исчерпания попыток.
type APIError struct {
	Code    string // код OKX или HTTP статус в виде строки
	Message string
	Action  string // retry / fail_fast
	Err     error  // исходная причина (последняя наблюдавшаяся ошибка)
}

func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap возвращает исходную ошибку для поддержки errors.Is() и errors.As()
func (e *APIError) Unwrap() error {
	return e.Err
}

// Retryable возвращает true если ошибку можно повторить
func (e *APIError) Retryable() bool {
	return e.Action == ActionRetry
}

// classifyBusinessError строит APIError по коду из envelope ответа.
// Неизвестные коды считаются временными (retry) - консервативный дефолт.
func classifyBusinessError(code, msg string) *APIError {
	entry, ok := errorCodes[code]
	if !ok {
		entry = errorCodeEntry{Message: "unknown error", Action: ActionRetry}
	}
	if msg == "" {
		msg = entry.Message
	}
	return &APIError{Code: code, Message: msg, Action: entry.Action}
}

// ErrMaxRetries - терминальная ошибка: все попытки исчерпаны.
// Вызывающие НЕ должны повторять запрос поверх неё.
var ErrMaxRetries = errors.New("request failed after all retries")

// IsTerminal возвращает true если ошибка терминальная (retry исчерпан)
func IsTerminal(err error) bool {
	return errors.Is(err, ErrMaxRetries)
}
