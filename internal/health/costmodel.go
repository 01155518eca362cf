package health

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/graphops/query-gateway/internal/models"
)

// costModelTimeout bounds the per-deployment cost model source fetch.
const costModelTimeout = 5 * time.Second

// CostModelResolver fetches raw cost model source per deployment from an
// indexer.
type CostModelResolver struct {
	http *http.Client
}

// NewCostModelResolver builds a CostModelResolver over httpClient.
func NewCostModelResolver(httpClient *http.Client) *CostModelResolver {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &CostModelResolver{http: httpClient}
}

type costModelSourceEntry struct {
	Deployment models.DeploymentID `json:"deployment"`
	Model      string              `json:"model"`
}

// Resolve fetches raw cost model source for deployments from indexerURL.
// A fetch failure or empty result is not itself a block: callers proceed
// pricing by the caller's budget.
func (r *CostModelResolver) Resolve(ctx context.Context, indexerURL string, deployments []models.DeploymentID) (map[models.DeploymentID]string, error) {
	if len(deployments) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, costModelTimeout)
	defer cancel()

	payload, err := json.Marshal(struct {
		Deployments []models.DeploymentID `json:"deployments"`
	}{deployments})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, indexerURL+"/cost", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, indexerURL)
	}

	var body struct {
		CostModels []costModelSourceEntry `json:"costModels"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	out := make(map[models.DeploymentID]string, len(body.CostModels))
	for _, e := range body.CostModels {
		out[e.Deployment] = e.Model
	}
	return out, nil
}

// constantCostModel prices every query at a fixed fee, compiled from a
// source of the form `default => <value>;`, the subset of the indexer
// agent's Agora cost-model language the gateway evaluates.
type constantCostModel struct {
	price *big.Int
}

// Price implements models.CostModel.
func (m *constantCostModel) Price(map[string]string) (*big.Int, error) {
	return new(big.Int).Set(m.price), nil
}

// CostModelCompiler compiles raw cost model source into a models.CostModel.
// Compilation is CPU-bound and, per the upstream cost-model crate, not
// reentrant-safe; a coarse mutex serializes every call.
type CostModelCompiler struct {
	mu sync.Mutex
}

// NewCostModelCompiler creates a CostModelCompiler.
func NewCostModelCompiler() *CostModelCompiler {
	return &CostModelCompiler{}
}

// Compile parses source and returns a models.CostModel, or an error if the
// source has no recognizable default price. Compilation failures are not
// fatal to the caller: the health pipeline drops that cost model silently
// and the query proceeds priced by the caller's budget.
func (c *CostModelCompiler) Compile(source string) (models.CostModel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	scanner := bufio.NewScanner(strings.NewReader(source))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "default") {
			continue
		}
		parts := strings.SplitN(line, "=>", 2)
		if len(parts) != 2 {
			continue
		}
		value := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(parts[1]), ";"))
		price, ok := new(big.Int).SetString(value, 10)
		if ok {
			return &constantCostModel{price: price}, nil
		}
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			scaled := new(big.Float).Mul(big.NewFloat(f), big.NewFloat(1e18))
			price, _ := scaled.Int(nil)
			return &constantCostModel{price: price}, nil
		}
	}
	return nil, fmt.Errorf("cost model source has no recognizable default price")
}
