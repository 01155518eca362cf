// Package errors provides the gateway's error taxonomy. Every error the
// request path can return terminally is a *GatewayError with a
// machine-readable Kind and a fixed user-visible message.
package errors

import "fmt"

// Kind identifies a terminal error class from the request path.
type Kind string

const (
	KindAuthInvalid           Kind = "auth_invalid"
	KindAuthInactive          Kind = "auth_inactive"
	KindAuthShutoff           Kind = "auth_shutoff"
	KindAuthDomainRejected    Kind = "auth_domain_rejected"
	KindAuthDeploymentRejected Kind = "auth_deployment_rejected"
	KindMalformedQuery        Kind = "malformed_query"
	KindSubgraphUnknown       Kind = "subgraph_unknown"
	KindNoIndexers            Kind = "no_indexers"
	KindNoIndexerSelected     Kind = "no_indexer_selected"
	KindFeesTooHigh           Kind = "fees_too_high"
	KindBlockBeforeMin        Kind = "block_before_min"
	KindMissingBlock          Kind = "missing_block"
	KindInternal              Kind = "internal"
	KindRateLimited           Kind = "rate_limited"
)

// GatewayError is a terminal, user-visible error from the request path.
// It deliberately has no HTTP status code: the query endpoint always answers 200
// with a GraphQL errors envelope.
type GatewayError struct {
	Kind    Kind
	Message string
}

func (e *GatewayError) Error() string { return e.Message }

func newErr(kind Kind, message string) *GatewayError {
	return &GatewayError{Kind: kind, Message: message}
}

var (
	ErrAuthInvalid            = newErr(KindAuthInvalid, "Invalid API key")
	ErrAuthDomainRejected     = newErr(KindAuthDomainRejected, "Domain not authorized by user")
	ErrAuthDeploymentRejected = newErr(KindAuthDeploymentRejected, "Subgraph not authorized by user")
	ErrMalformedQuery         = newErr(KindMalformedQuery, "Invalid query")
	ErrSubgraphUnknown        = newErr(KindSubgraphUnknown, "Subgraph not found")
	ErrNoIndexers             = newErr(KindNoIndexers, "No indexers found for subgraph deployment")
	ErrNoIndexerSelected      = newErr(KindNoIndexerSelected, "No suitable indexer found for subgraph deployment")
	ErrBlockBeforeMin         = newErr(KindBlockBeforeMin, "Requested block before minimum startBlock")
	ErrMissingBlock           = newErr(KindMissingBlock, "Gateway failed to resolve required blocks")
)

// ErrAuthInactive is returned when a payment-gated key has never been funded.
func ErrAuthInactive() *GatewayError {
	return newErr(KindAuthInactive, "Querying not activated yet; make sure to add some GRT to your balance in the studio")
}

// ErrAuthShutoff is returned when a payment-gated key's balance has run out.
func ErrAuthShutoff() *GatewayError {
	return newErr(KindAuthShutoff, "Payment required for subsequent requests for this API key")
}

// ErrFeesTooHigh is returned when every remaining candidate's cost model quoted a
// fee above the caller's budget.
func ErrFeesTooHigh(n int) *GatewayError {
	return newErr(KindFeesTooHigh, fmt.Sprintf("No suitable indexer found, %d indexers requesting higher fees", n))
}

// ErrRateLimited is returned when a caller exceeds the per-IP request budget.
func ErrRateLimited() *GatewayError {
	return newErr(KindRateLimited, "Too many requests, please slow down")
}

// AsGatewayError converts err to a *GatewayError, falling back to an opaque
// internal error so internal details are never leaked to the caller.
func AsGatewayError(err error) *GatewayError {
	if err == nil {
		return nil
	}
	if ge, ok := err.(*GatewayError); ok {
		return ge
	}
	return newErr(KindInternal, "internal error")
}
