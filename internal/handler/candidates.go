package handler

import (
	"github.com/graphops/query-gateway/internal/models"
	"github.com/graphops/query-gateway/internal/network"
	gatewayerrors "github.com/graphops/query-gateway/internal/pkg/errors"
	"github.com/graphops/query-gateway/internal/selection"
)

// subgraphCandidates builds the candidate set for a subgraph query from its
// indexings across every version, annotating each with versions_behind.
func (h *QueryHandler) subgraphCandidates(snapshot *network.Snapshot, sg *models.Subgraph, requiredBlock uint64) ([]selection.Candidate, *gatewayerrors.GatewayError) {
	if len(sg.Indexings) == 0 {
		return nil, gatewayerrors.ErrNoIndexers
	}

	versionsBehind := make(map[models.DeploymentID]uint8, len(sg.Versions))
	for _, v := range sg.Versions {
		if _, seen := versionsBehind[v.Deployment]; !seen {
			versionsBehind[v.Deployment] = sg.VersionsBehind(v.Number)
		}
	}

	var out []selection.Candidate
	for key, indexing := range sg.Indexings {
		dep, ok := snapshot.Deployments[key.Deployment]
		if !ok {
			continue
		}
		c, gerr := h.candidate(snapshot, dep, indexing, versionsBehind[key.Deployment], requiredBlock)
		if gerr != nil {
			return nil, gerr
		}
		if c != nil {
			out = append(out, *c)
		}
	}
	if len(out) == 0 {
		return nil, gatewayerrors.ErrNoIndexerSelected
	}
	return out, nil
}

// deploymentCandidates builds the candidate set for a direct-by-deployment
// query.
func (h *QueryHandler) deploymentCandidates(snapshot *network.Snapshot, dep *models.Deployment, requiredBlock uint64) ([]selection.Candidate, *gatewayerrors.GatewayError) {
	if len(dep.Indexings) == 0 {
		return nil, gatewayerrors.ErrNoIndexers
	}

	var out []selection.Candidate
	for _, indexing := range dep.Indexings {
		c, gerr := h.candidate(snapshot, dep, indexing, 0, requiredBlock)
		if gerr != nil {
			return nil, gerr
		}
		if c != nil {
			out = append(out, *c)
		}
	}
	if len(out) == 0 {
		return nil, gatewayerrors.ErrNoIndexerSelected
	}
	return out, nil
}

// candidate evaluates one indexing against the chain head and the query's
// block requirement, returning nil (no error) when the indexing is merely
// disqualified and a terminal error when the whole request cannot proceed.
func (h *QueryHandler) candidate(
	snapshot *network.Snapshot,
	dep *models.Deployment,
	indexing *models.Indexing,
	versionsBehind uint8,
	requiredBlock uint64,
) (*selection.Candidate, *gatewayerrors.GatewayError) {
	indexer, ok := snapshot.Indexers[indexing.Indexer]
	if !ok {
		return nil, nil
	}

	if requiredBlock > 0 && requiredBlock < dep.StartBlock {
		return nil, gatewayerrors.ErrBlockBeforeMin
	}

	head, ok := h.heads.Head(dep.Chain)
	if !ok {
		return nil, gatewayerrors.ErrMissingBlock
	}

	// Candidates that cannot serve a block the query requires are dropped
	// outright.
	if requiredBlock > 0 {
		if indexing.Progress.LatestBlock < requiredBlock {
			return nil, nil
		}
		if indexing.Progress.MinBlock != nil && *indexing.Progress.MinBlock > requiredBlock {
			return nil, nil
		}
	}

	var blocksBehind uint64
	if head > indexing.Progress.LatestBlock {
		blocksBehind = head - indexing.Progress.LatestBlock
	}

	return &selection.Candidate{
		Indexer:        indexer.ID,
		IndexerURL:     indexer.URL,
		Indexing:       indexing,
		BlocksBehind:   blocksBehind,
		VersionsBehind: versionsBehind,
		Legacy:         indexer.LegacyReceipts,
	}, nil
}
