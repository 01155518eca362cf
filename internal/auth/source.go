package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/graphops/query-gateway/internal/ethereum"
	"github.com/graphops/query-gateway/internal/models"
)

// HTTPKeySource fetches the API key set from the external key-management
// endpoint.
type HTTPKeySource struct {
	url  string
	http *http.Client
}

// NewHTTPKeySource builds an HTTPKeySource polling url.
func NewHTTPKeySource(url string, httpClient *http.Client) *HTTPKeySource {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPKeySource{url: url, http: httpClient}
}

type apiKeyRecord struct {
	Key          string   `json:"key"`
	QueryStatus  string   `json:"query_status"`
	IsSubsidized bool     `json:"is_subsidized"`
	Deployments  []string `json:"deployments"`
	Subgraphs    []string `json:"subgraphs"`
	Domains      []string `json:"domains"`
}

// FetchKeys implements KeySource. Records with an unparseable key are
// skipped rather than failing the whole refresh.
func (s *HTTPKeySource) FetchKeys(ctx context.Context) ([]*models.APIKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api key fetch failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("api key endpoint returned status %d", resp.StatusCode)
	}

	var records []apiKeyRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode api keys: %w", err)
	}

	out := make([]*models.APIKey, 0, len(records))
	for _, rec := range records {
		key, err := ParseToken(rec.Key)
		if err != nil {
			continue
		}
		out = append(out, &models.APIKey{
			Key:                   key,
			QueryStatus:           parseQueryStatus(rec.QueryStatus),
			IsSubsidized:          rec.IsSubsidized,
			AuthorizedDeployments: parseDeployments(rec.Deployments),
			AuthorizedSubgraphs:   parseSubgraphs(rec.Subgraphs),
			AuthorizedDomains:     rec.Domains,
		})
	}
	return out, nil
}

func parseQueryStatus(s string) models.QueryStatus {
	switch s {
	case "inactive":
		return models.QueryStatusInactive
	case "service_shutoff":
		return models.QueryStatusServiceShutoff
	default:
		return models.QueryStatusActive
	}
}

func parseDeployments(values []string) map[models.DeploymentID]struct{} {
	if len(values) == 0 {
		return nil
	}
	out := make(map[models.DeploymentID]struct{}, len(values))
	for _, v := range values {
		dep, err := ethereum.HashFromHex(v)
		if err != nil {
			continue
		}
		out[dep] = struct{}{}
	}
	return out
}

func parseSubgraphs(values []string) map[models.SubgraphID]struct{} {
	if len(values) == 0 {
		return nil
	}
	out := make(map[models.SubgraphID]struct{}, len(values))
	for _, v := range values {
		out[models.SubgraphID(v)] = struct{}{}
	}
	return out
}
