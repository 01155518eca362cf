package auth

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/graphops/query-gateway/internal/models"
)

// KeySource supplies the full API key set; backed by the external
// key-management system in production.
type KeySource interface {
	FetchKeys(ctx context.Context) ([]*models.APIKey, error)
}

// RefreshingStore is the periodically refreshed API-key map Check resolves
// against. It follows the published-snapshot pattern: the whole
// map is rebuilt per refresh and swapped atomically, and a failed fetch
// leaves the previous map in force.
type RefreshingStore struct {
	source  KeySource
	logger  *slog.Logger
	current atomic.Pointer[map[[16]byte]*models.APIKey]
}

// NewRefreshingStore builds a store with an empty initial key map.
func NewRefreshingStore(source KeySource, logger *slog.Logger) *RefreshingStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &RefreshingStore{source: source, logger: logger}
	empty := map[[16]byte]*models.APIKey{}
	s.current.Store(&empty)
	return s
}

// Lookup implements KeyStore against the latest published key map.
func (s *RefreshingStore) Lookup(key [16]byte) (*models.APIKey, bool) {
	record, ok := (*s.current.Load())[key]
	return record, ok
}

// Run refreshes once immediately, then every interval, until ctx is
// cancelled.
func (s *RefreshingStore) Run(ctx context.Context, interval time.Duration) {
	s.refreshOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshOnce(ctx)
		}
	}
}

func (s *RefreshingStore) refreshOnce(ctx context.Context) {
	keys, err := s.source.FetchKeys(ctx)
	if err != nil {
		s.logger.Warn("api key refresh failed", slog.Any("error", err))
		return
	}

	next := make(map[[16]byte]*models.APIKey, len(keys))
	for _, k := range keys {
		next[k.Key] = k
	}
	s.current.Store(&next)
	s.logger.Debug("api keys refreshed", slog.Int("count", len(next)))
}

// StaticStore is a fixed key map, used in tests and single-tenant setups.
type StaticStore map[[16]byte]*models.APIKey

// Lookup implements KeyStore.
func (s StaticStore) Lookup(key [16]byte) (*models.APIKey, bool) {
	record, ok := s[key]
	return record, ok
}
