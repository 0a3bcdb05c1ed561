package middleware

import (
	"net/http"
	"runtime/debug"

	"autotrader/pkg/utils"
)

// Recovery - middleware для восстановления после паники в handlers
//
// Перехватывает panic, логирует stack trace и возвращает клиенту 500,
// не роняя процесс. Критичен для стабильности: торговый цикл и мониторы
// продолжают работать даже при баге в HTTP слое.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				utils.L().Error("panic in http handler",
					utils.Any("panic", err),
					utils.String("path", r.URL.Path),
					utils.String("stack", string(debug.Stack())),
				)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
