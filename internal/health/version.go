package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Masterminds/semver/v3"
)

// agentVersionTimeout and graphNodeVersionTimeout bound the version-check
// probes.
const (
	agentVersionTimeout     = 1500 * time.Millisecond
	graphNodeVersionTimeout = 1500 * time.Millisecond
)

// VersionRequirements configures stage 3's minimum-version gate and the TAP
// migration cutover.
type VersionRequirements struct {
	MinAgentVersion     *semver.Version
	MinGraphNodeVersion *semver.Version
	// TAPCutoverVersion is the agent version at or above which an indexer is
	// considered TAP-capable; below it, LegacyReceipts is set.
	TAPCutoverVersion *semver.Version
}

// VersionChecker probes an indexer's `/version` and `/status` endpoints and
// evaluates them against VersionRequirements.
type VersionChecker struct {
	http *http.Client
	reqs VersionRequirements
}

// NewVersionChecker builds a VersionChecker using httpClient for probes.
func NewVersionChecker(httpClient *http.Client, reqs VersionRequirements) *VersionChecker {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &VersionChecker{http: httpClient, reqs: reqs}
}

// Result is the outcome of a successful version check.
type Result struct {
	AgentVersion     *semver.Version
	GraphNodeVersion *semver.Version
	LegacyReceipts   bool
}

// Check fetches and validates indexerURL's agent and graph-node versions.
// Block conditions:
//   - agent version unreachable, or below MinAgentVersion: block.
//   - graph-node version unreachable: treated as MinGraphNodeVersion (not a
//     block by itself).
//   - graph-node version (fetched or assumed) below MinGraphNodeVersion: block.
func (c *VersionChecker) Check(ctx context.Context, indexerURL string) (Result, error) {
	agentVersion, err := c.fetchAgentVersion(ctx, indexerURL)
	if err != nil {
		return Result{}, fmt.Errorf("agent version resolution failed: %w", err)
	}
	if c.reqs.MinAgentVersion != nil && agentVersion.LessThan(c.reqs.MinAgentVersion) {
		return Result{}, fmt.Errorf("agent version %s below minimum %s", agentVersion, c.reqs.MinAgentVersion)
	}

	graphNodeVersion, err := c.fetchGraphNodeVersion(ctx, indexerURL)
	if err != nil {
		// Resolution failure is not itself a block: assume the minimum.
		graphNodeVersion = c.reqs.MinGraphNodeVersion
	}
	if graphNodeVersion != nil && c.reqs.MinGraphNodeVersion != nil && graphNodeVersion.LessThan(c.reqs.MinGraphNodeVersion) {
		return Result{}, fmt.Errorf("graph-node version %s below minimum %s", graphNodeVersion, c.reqs.MinGraphNodeVersion)
	}

	legacy := c.reqs.TAPCutoverVersion != nil && agentVersion.LessThan(c.reqs.TAPCutoverVersion)
	return Result{AgentVersion: agentVersion, GraphNodeVersion: graphNodeVersion, LegacyReceipts: legacy}, nil
}

func (c *VersionChecker) fetchAgentVersion(ctx context.Context, indexerURL string) (*semver.Version, error) {
	ctx, cancel := context.WithTimeout(ctx, agentVersionTimeout)
	defer cancel()

	var body struct {
		Version string `json:"version"`
	}
	if err := c.getJSON(ctx, indexerURL+"/version", &body); err != nil {
		return nil, err
	}
	return semver.NewVersion(body.Version)
}

func (c *VersionChecker) fetchGraphNodeVersion(ctx context.Context, indexerURL string) (*semver.Version, error) {
	ctx, cancel := context.WithTimeout(ctx, graphNodeVersionTimeout)
	defer cancel()

	var body struct {
		Version string `json:"version"`
	}
	if err := c.getJSON(ctx, indexerURL+"/status", &body); err != nil {
		return nil, err
	}
	return semver.NewVersion(body.Version)
}

func (c *VersionChecker) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
