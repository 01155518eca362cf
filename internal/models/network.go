// Package models defines the gateway's in-memory network topology: indexers,
// indexings, deployments and subgraphs, and the API keys that authorize queries
// against them. These types are the read-optimized data model described by the
// network-topology service; they carry no persistence concerns of their own.
package models

import (
	"math/big"

	"github.com/graphops/query-gateway/internal/ethereum"
)

// DeploymentID is a 32-byte content identifier for a compiled subgraph deployment.
type DeploymentID = ethereum.Hash

// IndexerID is the 20-byte address identifying an indexer.
type IndexerID = ethereum.Address

// SubgraphID is a logical subgraph identity (not content-addressed).
type SubgraphID string

// Progress describes the indexing progress an indexer reports for a deployment.
type Progress struct {
	LatestBlock uint64
	// MinBlock is the lowest block the indexer can serve for this deployment, or nil
	// if unbounded (a full historical index).
	MinBlock *uint64
}

// Allocation pairs an indexer's stake with a deployment.
type Allocation struct {
	ID       IndexerID // the allocation address, distinct from the indexer address
	Tokens   *big.Int
	Indexer  IndexerID
	Deployed DeploymentID
}

// CostModel is the compiled, per-(indexer,deployment) pricing function. A nil
// CostModel means the caller's budget determines price.
type CostModel interface {
	// Price returns the fee this indexer would charge for a query against this
	// deployment, given the variables extracted from the query (empty for most
	// queries). Implementations must be safe for concurrent use.
	Price(variables map[string]string) (*big.Int, error)
}

// Indexing is the (indexer, deployment) association and everything the health
// pipeline resolved about it.
type Indexing struct {
	Indexer             IndexerID
	Deployment          DeploymentID
	LargestAllocation   IndexerID // allocation address with the most tokens
	TotalAllocatedTokens *big.Int
	Progress            Progress
	Cost                CostModel // nil if no cost model compiled or present
}

// Indexer is a network participant serving one or more deployments.
type Indexer struct {
	ID             IndexerID
	URL            string // http(s) endpoint, validated at ingestion
	StakedTokens   *big.Int
	AgentVersion   string
	GraphNodeVersion string
	// LegacyReceipts is true when this indexer predates the TAP cutover version and
	// must be paid with the legacy Scalar receipt scheme.
	LegacyReceipts bool
	// Indexings is keyed by deployment id, populated only with deployments that
	// survived every health-pipeline stage.
	Indexings map[DeploymentID]*Indexing
}

// Deployment is an immutable compiled subgraph artifact.
type Deployment struct {
	ID              DeploymentID
	Chain           string
	StartBlock      uint64
	TransferredToL2 bool
	// Indexings is every healthy (indexer, this-deployment) pair in the snapshot,
	// independent of whether any Subgraph refers to this deployment directly.
	Indexings map[IndexerID]*Indexing
	// Subgraphs is the set of subgraph ids that reference this deployment from any
	// version.
	Subgraphs map[SubgraphID]struct{}
}

// SubgraphVersion is one version of a Subgraph's sequence of deployments, newest
// first.
type SubgraphVersion struct {
	Number     uint32
	Deployment DeploymentID
}

// Subgraph is a user-facing logical identity pointing to a sequence of deployment
// versions, newest first.
type Subgraph struct {
	ID       SubgraphID
	L2ID     *SubgraphID
	Versions []SubgraphVersion // ordered newest-first; Versions[0] is current
	// Indexings is keyed by (indexer, deployment) across every version, restricted to
	// indexers/deployments that survived the health pipeline.
	Indexings map[IndexingKey]*Indexing
}

// IndexingKey identifies an (indexer, deployment) pair for map lookups.
type IndexingKey struct {
	Indexer    IndexerID
	Deployment DeploymentID
}

// LatestVersion returns the newest version (the first entry of Versions), or
// false when the subgraph has no versions. Callers must resolve the version's
// deployment separately; Subgraph itself does not carry chain/start-block data
// redundantly.
func (s *Subgraph) LatestVersion() (SubgraphVersion, bool) {
	if len(s.Versions) == 0 {
		return SubgraphVersion{}, false
	}
	return s.Versions[0], true
}

// Deployments returns the set of deployment ids referenced across all versions.
func (s *Subgraph) Deployments() map[DeploymentID]struct{} {
	out := make(map[DeploymentID]struct{}, len(s.Versions))
	for _, v := range s.Versions {
		out[v.Deployment] = struct{}{}
	}
	return out
}

// VersionsBehind returns max_version_number - number, saturated to 0 for any number
// at or past the newest version. The newest version is Versions[0], whose Number is
// the max.
func (s *Subgraph) VersionsBehind(number uint32) uint8 {
	if len(s.Versions) == 0 {
		return 0
	}
	max := s.Versions[0].Number
	if number >= max {
		return 0
	}
	diff := max - number
	if diff > 255 {
		return 255
	}
	return uint8(diff)
}
