package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"spottrader/pkg/utils"
)

// APIToken - middleware проверки токена UI API
//
// Назначение:
// Защищает UI endpoints. Токен передаётся в заголовке
// Authorization: Bearer <token> либо, для WebSocket из браузера,
// в параметре ?token=.
//
// Пустой токен отключает проверку (локальное развертывание);
// об этом пишется предупреждение при старте.
// Вебхук не проходит через этот middleware: у него свой секрет.
//
// Безопасность:
// - constant-time сравнение против timing attacks
func APIToken(token string) func(http.Handler) http.Handler {
	if token == "" {
		utils.L().WithComponent("http").Warn("API token is not set, UI endpoints are not protected")
		return func(next http.Handler) http.Handler { return next }
	}
	expected := []byte(token)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := bearerToken(r)
			if got == "" || subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken извлекает токен из заголовка Authorization или параметра token
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		const prefix = "Bearer "
		if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
			return strings.TrimSpace(h[len(prefix):])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
