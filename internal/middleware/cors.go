// Package middleware provides HTTP middleware for the query gateway.
package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS returns a permissive CORS handler: the query endpoint is a public,
// API-key-authenticated resource meant to be queried from arbitrary dapp
// frontends, so origin restriction is enforced by the API key's domain
// allowlist, not by this middleware.
func CORS() func(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Graph-Attestation"},
		AllowCredentials: false,
		MaxAge:           300,
	})
}
