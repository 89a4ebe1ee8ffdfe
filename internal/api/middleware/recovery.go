package middleware

import (
	"fmt"
	"net/http"

	"spottrader/pkg/utils"
)

// Recovery - middleware для восстановления после паники в handlers
//
// Перехватывает panic, логирует её со stack trace и отвечает 500.
// Сервер продолжает обслуживать следующие запросы.
func Recovery(next http.Handler) http.Handler {
	log := utils.L().WithComponent("http")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Error("panic in handler",
					utils.String("panic", fmt.Sprint(rec)),
					utils.String("method", r.Method),
					utils.String("path", r.URL.Path),
					utils.Stack("stack"))

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error":"internal server error"}`))
			}
		}()

		next.ServeHTTP(w, r)
	})
}
