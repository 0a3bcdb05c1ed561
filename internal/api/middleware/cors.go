package middleware

import (
	"net/http"
	"os"
	"strings"
)

// allowedOrigins - браузерные origins, которым разрешён доступ к API.
// Дефолты покрывают локальный дашборд; остальное добавляется через
// CORS_ALLOWED_ORIGINS (список через запятую).
var allowedOrigins = map[string]bool{
	"http://localhost:3000": true,
	"http://127.0.0.1:3000": true,
	"http://localhost:8080": true,
	"http://127.0.0.1:8080": true,
	"http://localhost:5173": true, // Vite dev server
	"http://127.0.0.1:5173": true,
}

func init() {
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}
}

// CORS выставляет заголовки Cross-Origin Resource Sharing и отвечает
// на preflight запросы.
//
// Разрешённые origins получают конкретный Allow-Origin с credentials
// (звёздочка с credentials запрещена браузером); запросы без Origin
// (curl, скрипты) проходят свободно; неразрешённые origins не получают
// заголовков - браузер заблокирует ответ сам.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		switch {
		case allowedOrigins[origin]:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		case origin == "":
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		w.Header().Set("Access-Control-Max-Age", "86400") // сутки кеширования preflight

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
