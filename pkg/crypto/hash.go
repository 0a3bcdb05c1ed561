// Package crypto - bcrypt хеширование API токена.
//
// В окружении бота хранится не сам токен, а его bcrypt хеш
// (API_TOKEN_HASH): утечка переменных окружения не раскрывает токен.
// HashToken используется один раз при выпуске токена, CheckPasswordMatch -
// при каждом запросе к API.
package crypto

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Ошибки хеширования
var (
	ErrEmptyToken   = errors.New("token cannot be empty")
	ErrTokenTooLong = errors.New("token exceeds maximum length of 72 bytes")
	ErrInvalidHash  = errors.New("invalid bcrypt hash format")
)

// DefaultCost - стоимость bcrypt. Токен проверяется раз на запрос,
// 12 держит проверку в единицах миллисекунд.
const DefaultCost = 12

// MaxTokenLength - предел bcrypt (72 байта)
const MaxTokenLength = 72

// HashToken возвращает bcrypt хеш токена для API_TOKEN_HASH
func HashToken(token string) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}
	if len(token) > MaxTokenLength {
		return "", ErrTokenTooLong
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(token), DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPasswordMatch сверяет токен с bcrypt хешем.
// Сравнение constant-time внутри bcrypt; любой невалидный хеш - false.
func CheckPasswordMatch(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}

// HashCost извлекает cost из существующего хеша - чтобы понять, не
// пора ли перевыпустить хеш с большей стоимостью
func HashCost(hash string) (int, error) {
	if hash == "" {
		return 0, ErrInvalidHash
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return 0, ErrInvalidHash
	}
	return cost, nil
}
