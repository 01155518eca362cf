package health

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/dnscache"
)

// hostResolveTimeout bounds DNS resolution for the host-blocklist stage.
const hostResolveTimeout = 2 * time.Second

// HostResolver resolves an indexer URL's host to its addresses. It wraps a
// single dnscache.Resolver behind an exclusive lock: dnscache keeps its own
// internal cache and in-flight dedup, shared state that must not be hit
// concurrently from the per-indexer probe tasks.
type HostResolver struct {
	mu       sync.Mutex
	resolver *dnscache.Resolver
}

// NewHostResolver creates a HostResolver with its own dnscache instance.
func NewHostResolver() *HostResolver {
	return &HostResolver{resolver: &dnscache.Resolver{}}
}

// Resolve resolves rawURL's host to its IP addresses within a 2s timeout,
// retrying transient lookup failures up to 2 extra times with a short
// backoff — distinct from a genuine blocklist decision, which is never
// retried.
func (r *HostResolver) Resolve(ctx context.Context, rawURL string) ([]net.IP, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid indexer url: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("indexer url has no host: %s", rawURL)
	}

	ctx, cancel := context.WithTimeout(ctx, hostResolveTimeout)
	defer cancel()

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(50*time.Millisecond), 2)

	var addrs []string
	op := func() error {
		r.mu.Lock()
		defer r.mu.Unlock()
		resolved, err := r.resolver.LookupHost(ctx, host)
		if err != nil {
			return err
		}
		addrs = resolved
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return nil, fmt.Errorf("host resolution failed for %s: %w", host, err)
	}

	out := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil {
			out = append(out, ip)
		}
	}
	return out, nil
}
