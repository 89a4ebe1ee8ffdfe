package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/cors"
)

// CORS - middleware для Cross-Origin Resource Sharing
//
// Назначение:
// Разрешает браузерному UI на другом домене обращаться к API.
// Пустой список или "*" разрешает любой origin без credentials.
//
// Заголовки:
// - Access-Control-Allow-Methods: GET, POST, PUT, DELETE, PATCH, OPTIONS
// - Access-Control-Allow-Headers: Content-Type, Authorization, X-Owner-ID
// - Access-Control-Max-Age: 86400 (24 часа)
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	origins := make([]string, 0, len(allowedOrigins))
	allowAll := false
	for _, o := range allowedOrigins {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
		}
		if o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		allowAll = true
	}

	opts := cors.Options{
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodDelete, http.MethodPatch, http.MethodOptions,
		},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Requested-With", "X-Owner-ID"},
		MaxAge:         86400,
	}
	if allowAll {
		opts.AllowedOrigins = []string{"*"}
	} else {
		opts.AllowedOrigins = origins
		opts.AllowCredentials = true
	}

	return cors.New(opts).Handler
}
