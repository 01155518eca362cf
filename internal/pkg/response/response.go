// Package response provides the GraphQL-envelope JSON writer used by the query
// endpoint: responses are always HTTP 200, and failures are surfaced as
// a GraphQL errors array rather than an HTTP status code.
package response

import (
	"encoding/json"
	"net/http"

	gatewayerrors "github.com/graphops/query-gateway/internal/pkg/errors"
)

// Envelope is the GraphQL-style response body.
type Envelope struct {
	Data   any            `json:"data,omitempty"`
	Errors []GraphQLError `json:"errors,omitempty"`
}

// GraphQLError is a single GraphQL error entry.
type GraphQLError struct {
	Message string `json:"message"`
}

// OK writes a successful GraphQL response.
func OK(w http.ResponseWriter, data any, attestation string) {
	w.Header().Set("Content-Type", "application/json")
	if attestation != "" {
		w.Header().Set("Graph-Attestation", attestation)
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(Envelope{Data: data})
}

// Error writes a terminal error as a GraphQL errors envelope, still HTTP 200
// so intermediate middleware cannot rewrite the body based on status.
func Error(w http.ResponseWriter, err error) {
	ge := gatewayerrors.AsGatewayError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(Envelope{Errors: []GraphQLError{{Message: ge.Message}}})
}

// JSON writes an ordinary (non-GraphQL) JSON response with the given status, used
// by the health and readiness endpoints.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
