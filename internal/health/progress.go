package health

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/graphops/query-gateway/internal/models"
)

// progressTimeout bounds the batched indexing-status query.
const progressTimeout = 5 * time.Second

// ProgressResolver fetches indexing progress for a batch of deployments in
// one request.
type ProgressResolver struct {
	http *http.Client
}

// NewProgressResolver builds a ProgressResolver over httpClient.
func NewProgressResolver(httpClient *http.Client) *ProgressResolver {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ProgressResolver{http: httpClient}
}

type progressEntry struct {
	Deployment  models.DeploymentID `json:"subgraph"`
	LatestBlock uint64              `json:"latestBlock"`
	MinBlock    *uint64             `json:"minBlock,omitempty"`
}

// Resolve queries indexerURL's status endpoint for indexing progress across
// deployments, returning only those that reported successfully.
func (r *ProgressResolver) Resolve(ctx context.Context, indexerURL string, deployments []models.DeploymentID) (map[models.DeploymentID]models.Progress, error) {
	if len(deployments) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, progressTimeout)
	defer cancel()

	payload, err := json.Marshal(struct {
		Deployments []models.DeploymentID `json:"deployments"`
	}{deployments})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, indexerURL+"/status", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("indexing progress request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, indexerURL)
	}

	var body struct {
		IndexingStatuses []progressEntry `json:"indexingStatuses"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode indexing progress: %w", err)
	}

	out := make(map[models.DeploymentID]models.Progress, len(body.IndexingStatuses))
	for _, entry := range body.IndexingStatuses {
		out[entry.Deployment] = models.Progress{LatestBlock: entry.LatestBlock, MinBlock: entry.MinBlock}
	}
	return out, nil
}
