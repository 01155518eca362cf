package auth

import (
	"context"
	"strings"

	gatewayerrors "github.com/graphops/query-gateway/internal/pkg/errors"

	"github.com/graphops/query-gateway/internal/models"
)

// KeyStore resolves a parsed API key token to its authorization record. The
// key-management system that populates it is out of scope.
type KeyStore interface {
	Lookup(key [16]byte) (*models.APIKey, bool)
}

// Config controls the payment-gating behavior of Checker.
type Config struct {
	PaymentRequired bool
	// SpecialKeys bypass payment gating entirely, keyed by their 16-byte value.
	SpecialKeys map[[16]byte]struct{}
}

// Checker authorizes incoming requests against the API key store.
type Checker struct {
	store  KeyStore
	config Config
}

// NewChecker builds a Checker over the given key store and config.
func NewChecker(store KeyStore, cfg Config) *Checker {
	return &Checker{store: store, config: cfg}
}

// AuthorizedKey is the outcome of a successful Check: the resolved key, ready
// for resource-level authorization against the request's target.
type AuthorizedKey struct {
	Key          [16]byte
	Record       *models.APIKey
	IsSubsidized bool
}

// Request carries everything Check needs to authorize one incoming query.
type Request struct {
	Token  string
	Origin string
	// Deployment and Subgraph are mutually exclusive; the caller supplies
	// whichever the request path names.
	Deployment *models.DeploymentID
	Subgraph   *models.SubgraphID
}

// Check parses the token, resolves it, and enforces payment status, the
// deployment/subgraph allowlist, and the domain allowlist, in that order. It returns the first failure encountered.
func (c *Checker) Check(ctx context.Context, req Request) (*AuthorizedKey, *gatewayerrors.GatewayError) {
	key, err := ParseToken(req.Token)
	if err != nil {
		return nil, gatewayerrors.ErrAuthInvalid
	}

	record, ok := c.store.Lookup(key)
	if !ok {
		return nil, gatewayerrors.ErrAuthInvalid
	}

	if c.config.PaymentRequired {
		if _, special := c.config.SpecialKeys[key]; !special {
			switch record.QueryStatus {
			case models.QueryStatusInactive:
				return nil, gatewayerrors.ErrAuthInactive()
			case models.QueryStatusServiceShutoff:
				return nil, gatewayerrors.ErrAuthShutoff()
			}
		}
	}

	if req.Deployment != nil && len(record.AuthorizedDeployments) > 0 {
		if _, ok := record.AuthorizedDeployments[*req.Deployment]; !ok {
			return nil, gatewayerrors.ErrAuthDeploymentRejected
		}
	}
	if req.Subgraph != nil && len(record.AuthorizedSubgraphs) > 0 {
		if _, ok := record.AuthorizedSubgraphs[*req.Subgraph]; !ok {
			return nil, gatewayerrors.ErrAuthDeploymentRejected
		}
	}

	if len(record.AuthorizedDomains) > 0 && !domainAuthorized(record.AuthorizedDomains, req.Origin) {
		return nil, gatewayerrors.ErrAuthDomainRejected
	}

	return &AuthorizedKey{Key: key, Record: record, IsSubsidized: record.IsSubsidized}, nil
}

// domainAuthorized reports whether origin matches one of allowed by exact
// match or dot-boundary suffix (e.g. "app.example.com" matches allowed
// "example.com", but "evilexample.com" does not).
func domainAuthorized(allowed []string, origin string) bool {
	host := stripScheme(origin)
	for _, a := range allowed {
		if host == a {
			return true
		}
		if strings.HasSuffix(host, "."+a) {
			return true
		}
	}
	return false
}

func stripScheme(origin string) string {
	host := origin
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host
}
