// Package network implements the Topology Fetcher and the published-snapshot
// pattern: an atomically swappable, immutable view of the
// network that readers never block writers against.
package network

import (
	"sync/atomic"

	"github.com/graphops/query-gateway/internal/models"
)

// Snapshot is the immutable, read-optimized view of network topology. Once published, its contents are never mutated.
type Snapshot struct {
	Indexers    map[models.IndexerID]*models.Indexer
	Deployments map[models.DeploymentID]*models.Deployment
	Subgraphs   map[models.SubgraphID]*models.Subgraph
}

// Publisher holds the latest published Snapshot behind an atomic pointer. Readers calling Load always see a
// wholly consistent snapshot; publication is strictly monotonic.
type Publisher struct {
	current atomic.Pointer[Snapshot]
}

// NewPublisher creates a Publisher with an empty initial snapshot so readers
// never observe a nil pointer before the first successful refresh.
func NewPublisher() *Publisher {
	p := &Publisher{}
	p.current.Store(&Snapshot{
		Indexers:    map[models.IndexerID]*models.Indexer{},
		Deployments: map[models.DeploymentID]*models.Deployment{},
		Subgraphs:   map[models.SubgraphID]*models.Subgraph{},
	})
	return p
}

// Load returns the currently published snapshot.
func (p *Publisher) Load() *Snapshot {
	return p.current.Load()
}

// Publish atomically swaps in a wholly new snapshot.
func (p *Publisher) Publish(s *Snapshot) {
	p.current.Store(s)
}

// IsEmpty reports whether the snapshot has neither deployments nor subgraphs.
// The readiness check uses HasIndexings instead.
func (s *Snapshot) IsEmpty() bool {
	return len(s.Deployments) == 0 && len(s.Subgraphs) == 0
}

// HasIndexings reports whether at least one deployment in the snapshot has at
// least one healthy indexing.
func (s *Snapshot) HasIndexings() bool {
	for _, dep := range s.Deployments {
		if len(dep.Indexings) > 0 {
			return true
		}
	}
	return false
}
