package network

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/graphops/query-gateway/internal/ethereum"
	"github.com/graphops/query-gateway/internal/models"
)

// GraphQLClient is the external network-subgraph collaborator; the Topology Fetcher itself — query composition and the
// pre-processing rules below — is in scope.
type GraphQLClient interface {
	Query(ctx context.Context, query string, variables map[string]any, out any) error
}

// Config bounds the two topology queries' timeouts.
type Config struct {
	IndexersTimeout  time.Duration
	SubgraphsTimeout time.Duration
}

// Fetcher periodically pulls indexer and subgraph topology from the
// network-subgraph.
type Fetcher struct {
	client GraphQLClient
	config Config
}

// NewFetcher builds a Fetcher over client.
func NewFetcher(client GraphQLClient, config Config) *Fetcher {
	return &Fetcher{client: client, config: config}
}

// RawAllocation is one allocation as reported by the network-subgraph.
type RawAllocation struct {
	ID         models.IndexerID
	Deployment models.DeploymentID
	Tokens     *ethereum.Big
}

// RawIndexer is one indexer record prior to health processing.
type RawIndexer struct {
	ID           models.IndexerID
	URL          string
	StakedTokens *ethereum.Big
	// Allocations is ordered by tokens desc, as queried.
	Allocations []RawAllocation
}

// RawVersion is one subgraph version prior to health processing.
type RawVersion struct {
	Number         uint32
	Deployment     models.DeploymentID
	ManifestNetwork string
	StartBlock     uint64
	TransferredToL2 bool
}

// RawSubgraph is one subgraph record prior to health processing.
type RawSubgraph struct {
	ID       models.SubgraphID
	L2ID     *models.SubgraphID
	Versions []RawVersion // newest-first
}

// wireIndexer mirrors the network-subgraph's indexer shape on the wire.
type wireIndexer struct {
	ID           models.IndexerID `json:"id"`
	URL          string           `json:"url"`
	StakedTokens *ethereum.Big    `json:"stakedTokens"`
	Allocations  []wireAllocation `json:"allocations"`
}

type wireAllocation struct {
	ID              models.IndexerID `json:"id"`
	AllocatedTokens *ethereum.Big    `json:"allocatedTokens"`
	Deployment      struct {
		ID models.DeploymentID `json:"id"`
	} `json:"subgraphDeployment"`
}

type wireSubgraph struct {
	ID       models.SubgraphID  `json:"id"`
	L2ID     *models.SubgraphID `json:"l2ID"`
	Versions []wireVersion      `json:"versions"`
}

type wireVersion struct {
	Number     uint32 `json:"version"`
	Deployment struct {
		ID       models.DeploymentID `json:"id"`
		Manifest struct {
			Network string `json:"network"`
		} `json:"manifest"`
		StartBlock      uint64 `json:"startBlock"`
		TransferredToL2 bool   `json:"transferredToL2"`
	} `json:"subgraphDeployment"`
}

// FetchIndexers queries and pre-processes the indexer set.
// Rejects: indexers without URL, non-http(s) scheme, without host, or
// without any allocation. Per-indexer, the deployment list preserves
// first-seen (highest-allocation) order.
func (f *Fetcher) FetchIndexers(ctx context.Context) ([]RawIndexer, error) {
	ctx, cancel := context.WithTimeout(ctx, f.config.IndexersTimeout)
	defer cancel()

	var raw struct {
		Indexers []wireIndexer `json:"indexers"`
	}
	if err := f.client.Query(ctx, indexersQuery, nil, &raw); err != nil {
		return nil, fmt.Errorf("failed to fetch indexers: %w", err)
	}
	if len(raw.Indexers) == 0 {
		return nil, fmt.Errorf("empty indexers result treated as fetch failure")
	}

	out := make([]RawIndexer, 0, len(raw.Indexers))
	for _, wx := range raw.Indexers {
		if !validIndexerURL(wx.URL) {
			continue
		}
		if len(wx.Allocations) == 0 {
			continue
		}

		ix := RawIndexer{ID: wx.ID, URL: wx.URL, StakedTokens: wx.StakedTokens}
		for _, a := range wx.Allocations {
			ix.Allocations = append(ix.Allocations, RawAllocation{
				ID:         a.ID,
				Deployment: a.Deployment.ID,
				Tokens:     a.AllocatedTokens,
			})
		}
		sort.SliceStable(ix.Allocations, func(i, j int) bool {
			return ix.Allocations[i].Tokens.ToBig().Cmp(ix.Allocations[j].Tokens.ToBig()) > 0
		})
		out = append(out, ix)
	}
	return out, nil
}

// FetchSubgraphs queries and pre-processes the subgraph set.
// Rejects: subgraphs with zero valid versions; versions whose deployment
// lacks a manifest network.
func (f *Fetcher) FetchSubgraphs(ctx context.Context) ([]RawSubgraph, error) {
	ctx, cancel := context.WithTimeout(ctx, f.config.SubgraphsTimeout)
	defer cancel()

	var raw struct {
		Subgraphs []wireSubgraph `json:"subgraphs"`
	}
	if err := f.client.Query(ctx, subgraphsQuery, nil, &raw); err != nil {
		return nil, fmt.Errorf("failed to fetch subgraphs: %w", err)
	}
	if len(raw.Subgraphs) == 0 {
		return nil, fmt.Errorf("empty subgraphs result treated as fetch failure")
	}

	out := make([]RawSubgraph, 0, len(raw.Subgraphs))
	for _, ws := range raw.Subgraphs {
		sg := RawSubgraph{ID: ws.ID, L2ID: ws.L2ID}
		for _, v := range ws.Versions {
			if v.Deployment.Manifest.Network == "" {
				continue
			}
			sg.Versions = append(sg.Versions, RawVersion{
				Number:          v.Number,
				Deployment:      v.Deployment.ID,
				ManifestNetwork: v.Deployment.Manifest.Network,
				StartBlock:      v.Deployment.StartBlock,
				TransferredToL2: v.Deployment.TransferredToL2,
			})
		}
		if len(sg.Versions) == 0 {
			continue
		}
		out = append(out, sg)
	}
	return out, nil
}

func validIndexerURL(raw string) bool {
	if raw == "" {
		return false
	}
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return false
	}
	if scheme != "http" && scheme != "https" {
		return false
	}
	host := rest
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	return host != ""
}

const indexersQuery = `query Indexers {
  indexers {
    id
    url
    stakedTokens
    allocations(orderBy: allocatedTokens, orderDirection: desc) {
      id
      allocatedTokens
      subgraphDeployment { id }
    }
  }
}`

const subgraphsQuery = `query Subgraphs {
  subgraphs {
    id
    l2ID
    versions(orderBy: version, orderDirection: desc) {
      version
      subgraphDeployment {
        id
        manifest { network }
        startBlock
        transferredToL2
      }
    }
  }
}`
