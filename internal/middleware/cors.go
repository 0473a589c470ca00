package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/serroba/consultation-ratelimit/internal/handlers"
)

var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Methods": strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodOptions}, ", "),
	"Access-Control-Allow-Headers": "authorization, x-client-info, apikey, content-type",
	"Access-Control-Max-Age":       "86400",
}

// CORS sets the cross-origin headers on every response and answers
// preflight requests with 204 before routing.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range corsHeaders {
			w.Header().Set(k, v)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)

			return
		}

		next.ServeHTTP(w, r)
	})
}

// MethodNotAllowed answers unsupported methods with the JSON error envelope.
func MethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	body := handlers.NewAPIError(http.StatusMethodNotAllowed, handlers.CodeMethodNotAllowed, "Method not allowed")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	_ = json.NewEncoder(w).Encode(body)
}

// NotFound answers unknown paths with the JSON error envelope.
func NotFound(w http.ResponseWriter, _ *http.Request) {
	body := handlers.NewAPIError(http.StatusNotFound, handlers.CodeNotFound, "Not found")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(body)
}
