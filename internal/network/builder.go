// Package network also implements the Snapshot Builder: folding
// healthy indexer records and raw subgraph topology into a read-optimized,
// immutable Snapshot.
package network

import (
	"github.com/graphops/query-gateway/internal/models"
)

// Build joins healthyIndexers (the Indexer Health Pipeline's output) against
// the raw subgraph topology to produce a Snapshot.
//
// Deployments are built independently from the subgraph join so that
// direct-by-deployment queries work even when no subgraph references a
// deployment directly.
func Build(healthyIndexers map[models.IndexerID]*models.Indexer, rawSubgraphs []RawSubgraph) *Snapshot {
	deployments := buildDeployments(healthyIndexers)
	subgraphs := buildSubgraphs(rawSubgraphs, deployments)

	// A deployment only reachable through a dropped subgraph still belongs in
	// the snapshot if it has at least one indexing.
	for id, dep := range deployments {
		if len(dep.Indexings) == 0 {
			delete(deployments, id)
		}
	}

	// Retain only indexers still referenced by a surviving deployment, so every
	// indexing reachable from the snapshot resolves to an indexer in the same
	// snapshot.
	indexers := make(map[models.IndexerID]*models.Indexer)
	for _, dep := range deployments {
		for id := range dep.Indexings {
			indexers[id] = healthyIndexers[id]
		}
	}

	return &Snapshot{Indexers: indexers, Deployments: deployments, Subgraphs: subgraphs}
}

// buildDeployments folds every healthy indexer's indexings into
// per-deployment records, independent of subgraph references.
func buildDeployments(healthyIndexers map[models.IndexerID]*models.Indexer) map[models.DeploymentID]*models.Deployment {
	deployments := make(map[models.DeploymentID]*models.Deployment)
	for _, indexer := range healthyIndexers {
		for depID, indexing := range indexer.Indexings {
			dep, ok := deployments[depID]
			if !ok {
				dep = &models.Deployment{
					ID:        depID,
					Indexings: make(map[models.IndexerID]*models.Indexing),
					Subgraphs: make(map[models.SubgraphID]struct{}),
				}
				deployments[depID] = dep
			}
			dep.Indexings[indexer.ID] = indexing
		}
	}
	return deployments
}

// buildSubgraphs joins raw subgraph versions to healthy indexings, dropping
// indexings whose indexer was filtered out or whose deployment is not in
// the indexer's healthy deployment set, and dropping subgraphs left with
// zero indexings.
func buildSubgraphs(rawSubgraphs []RawSubgraph, deployments map[models.DeploymentID]*models.Deployment) map[models.SubgraphID]*models.Subgraph {
	subgraphs := make(map[models.SubgraphID]*models.Subgraph, len(rawSubgraphs))

	for _, raw := range rawSubgraphs {
		sg := &models.Subgraph{
			ID:        raw.ID,
			L2ID:      raw.L2ID,
			Indexings: make(map[models.IndexingKey]*models.Indexing),
		}

		for _, v := range raw.Versions {
			sg.Versions = append(sg.Versions, models.SubgraphVersion{Number: v.Number, Deployment: v.Deployment})

			dep, ok := deployments[v.Deployment]
			if !ok {
				// Deployment has no healthy indexers at all; record it with no
				// indexings so the version's chain/start-block metadata has a
				// home. Build removes it again since it has no indexings.
				dep = &models.Deployment{
					ID:        v.Deployment,
					Indexings: make(map[models.IndexerID]*models.Indexing),
					Subgraphs: make(map[models.SubgraphID]struct{}),
				}
				deployments[v.Deployment] = dep
			}
			dep.Chain = v.ManifestNetwork
			dep.StartBlock = v.StartBlock
			dep.TransferredToL2 = v.TransferredToL2
			dep.Subgraphs[raw.ID] = struct{}{}

			for indexerID, indexing := range dep.Indexings {
				sg.Indexings[models.IndexingKey{Indexer: indexerID, Deployment: v.Deployment}] = indexing
			}
		}

		if len(sg.Indexings) == 0 {
			continue
		}
		subgraphs[raw.ID] = sg
	}

	return subgraphs
}
