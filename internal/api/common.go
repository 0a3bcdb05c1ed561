// Package api реализует HTTP слой управления ботом: статус, статистика,
// журнал сделок, трейлинг-стопы, алерты и конфигурация стратегий.
package api

import (
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"autotrader/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// errorResponse - унифицированный формат ошибки API
type errorResponse struct {
	Error string `json:"error"`
}

// respondJSON сериализует payload в JSON и пишет ответ
func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// Заголовки уже ушли, остаётся только залогировать
		utils.L().Error("encode response", utils.Err(err))
	}
}

// respondError пишет JSON ошибку с заданным статусом
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

// decodeBody разбирает JSON тело запроса в dst
func decodeBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}
