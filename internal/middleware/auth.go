package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/graphops/query-gateway/internal/auth"
	"github.com/graphops/query-gateway/internal/pkg/response"
)

type contextKey string

const apiKeyContextKey contextKey = "authorized_api_key"

// APIKeyFromContext returns the key the Auth middleware authorized for this
// request, or nil if none was set (should not happen past Auth).
func APIKeyFromContext(ctx context.Context) *auth.AuthorizedKey {
	v, _ := ctx.Value(apiKeyContextKey).(*auth.AuthorizedKey)
	return v
}

// Auth resolves the API key and target resource named by the request path,
// checks its payment status and its deployment/subgraph/domain allowlists, and rejects the request as a GraphQL error envelope on any
// failure. extract builds the auth.Request from the route's path parameters.
func Auth(checker *auth.Checker, extract func(*http.Request) auth.Request) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := extract(r)
			req.Origin = r.Header.Get("Origin")

			authorized, err := checker.Check(r.Context(), req)
			if err != nil {
				response.Error(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyContextKey, authorized)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts a bearer token from the Authorization header. Nothing
// in the gateway calls it.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
