package health

import (
	"context"
	"math/big"
	"net/http"
	"sync"

	"github.com/graphops/query-gateway/internal/health/poicache"
	"github.com/graphops/query-gateway/internal/models"
	"github.com/graphops/query-gateway/internal/network"
)

// Config bounds and parameterizes the pipeline's stages.
type Config struct {
	AddrBlocklist      []models.IndexerID
	HostBlocklistCIDRs []string
	Versions           VersionRequirements
	PoiBlocklist       []PoiBlockEntry
}

// Pipeline runs the ordered, short-circuiting probe stages over a raw
// topology indexer set and produces the healthy subset.
type Pipeline struct {
	addrBlocklist *AddrBlocklist
	hostBlocklist *HostBlocklist
	hostResolver  *HostResolver
	versions      *VersionChecker
	poiBlocklist  *PoiBlocklist
	poiResolver   *PoiResolver
	progress      *ProgressResolver
	costResolver  *CostModelResolver
	compiler      *CostModelCompiler
}

// NewPipeline builds a Pipeline from cfg, sharing httpClient and poiCache
// across every probe collaborator.
func NewPipeline(cfg Config, httpClient *http.Client, poiCache *poicache.Cache) *Pipeline {
	return &Pipeline{
		addrBlocklist: NewAddrBlocklist(cfg.AddrBlocklist),
		hostBlocklist: NewHostBlocklist(cfg.HostBlocklistCIDRs),
		hostResolver:  NewHostResolver(),
		versions:      NewVersionChecker(httpClient, cfg.Versions),
		poiBlocklist:  NewPoiBlocklist(cfg.PoiBlocklist),
		poiResolver:   NewPoiResolver(httpClient, poiCache),
		progress:      NewProgressResolver(httpClient),
		costResolver:  NewCostModelResolver(httpClient),
		compiler:      NewCostModelCompiler(),
	}
}

// Process runs every indexer's pipeline concurrently and returns the healthy
// indexers keyed by id. Blocked indexers are silently dropped.
func (p *Pipeline) Process(ctx context.Context, raw []network.RawIndexer) map[models.IndexerID]*models.Indexer {
	results := make(chan *models.Indexer, len(raw))
	var wg sync.WaitGroup
	for _, ix := range raw {
		wg.Add(1)
		go func(ix network.RawIndexer) {
			defer wg.Done()
			if healthy := p.processOne(ctx, ix); healthy != nil {
				results <- healthy
			}
		}(ix)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	out := make(map[models.IndexerID]*models.Indexer, len(raw))
	for ix := range results {
		out[ix.ID] = ix
	}
	return out
}

// allocationGroup accumulates per-deployment allocation totals while
// preserving first-seen (= highest single allocation) order.
type allocationGroup struct {
	deployment models.DeploymentID
	largest    models.IndexerID
	total      *big.Int
}

// groupAllocations folds raw allocations (sorted tokens-desc by the
// Fetcher) into per-deployment totals, returning the unique deployment list
// in first-seen order.
func groupAllocations(allocs []network.RawAllocation) (order []models.DeploymentID, groups map[models.DeploymentID]*allocationGroup) {
	groups = make(map[models.DeploymentID]*allocationGroup)
	for _, a := range allocs {
		tokens := a.Tokens.ToBig()
		g, ok := groups[a.Deployment]
		if !ok {
			g = &allocationGroup{deployment: a.Deployment, largest: a.ID, total: new(big.Int)}
			groups[a.Deployment] = g
			order = append(order, a.Deployment)
		}
		g.total = new(big.Int).Add(g.total, tokens)
	}
	return order, groups
}

// processOne runs the ordered stages for a single indexer, returning nil if
// any stage blocks it.
func (p *Pipeline) processOne(ctx context.Context, raw network.RawIndexer) *models.Indexer {
	// Stage 1: address blocklist.
	if p.addrBlocklist.Blocked(raw.ID) {
		return nil
	}

	// Stage 2: host resolution + host blocklist.
	addrs, err := p.hostResolver.Resolve(ctx, raw.URL)
	if err != nil {
		return nil
	}
	if p.hostBlocklist.Blocked(addrs) {
		return nil
	}

	// Stage 3: version check.
	versionResult, err := p.versions.Check(ctx, raw.URL)
	if err != nil {
		return nil
	}

	deploymentOrder, allocGroups := groupAllocations(raw.Allocations)
	remaining := append([]models.DeploymentID(nil), deploymentOrder...)

	// Stage 4: POI blocklist.
	if p.poiBlocklist != nil {
		remaining = p.filterByPOI(ctx, raw.URL, remaining)
		if len(remaining) == 0 {
			return nil
		}
	}

	// Stage 5: indexing progress.
	progress, err := p.progress.Resolve(ctx, raw.URL, remaining)
	if err != nil || len(progress) == 0 {
		return nil
	}
	remaining = keepWithProgress(remaining, progress)
	if len(remaining) == 0 {
		return nil
	}

	// Stage 6: cost model sources, compiled under the shared compiler lock.
	costModels := p.resolveCostModels(ctx, raw.URL, remaining)

	indexings := make(map[models.DeploymentID]*models.Indexing, len(remaining))
	for _, dep := range remaining {
		g := allocGroups[dep]
		indexings[dep] = &models.Indexing{
			Indexer:              raw.ID,
			Deployment:           dep,
			LargestAllocation:    g.largest,
			TotalAllocatedTokens: g.total,
			Progress:             progress[dep],
			Cost:                 costModels[dep],
		}
	}

	return &models.Indexer{
		ID:               raw.ID,
		URL:              raw.URL,
		StakedTokens:     raw.StakedTokens.ToBig(),
		AgentVersion:     versionResult.AgentVersion.String(),
		GraphNodeVersion: versionResultGraphNodeString(versionResult),
		LegacyReceipts:   versionResult.LegacyReceipts,
		Indexings:        indexings,
	}
}

func versionResultGraphNodeString(r Result) string {
	if r.GraphNodeVersion == nil {
		return ""
	}
	return r.GraphNodeVersion.String()
}

func (p *Pipeline) filterByPOI(ctx context.Context, indexerURL string, deployments []models.DeploymentID) []models.DeploymentID {
	affected := p.poiBlocklist.AffectedKeys(deployments)
	if len(affected) == 0 {
		return deployments
	}

	resolved, err := p.poiResolver.Resolve(ctx, indexerURL, affected)
	if err != nil {
		// Resolution failure with no fallback cached data blocks every
		// deployment the blocklist had an opinion about, conservatively.
		resolved = nil
	}

	blockedDeployments := make(map[models.DeploymentID]struct{})
	for key, poi := range resolved {
		if p.poiBlocklist.Blocked(key.Deployment, key.Block, poi) {
			blockedDeployments[key.Deployment] = struct{}{}
		}
	}
	if resolved == nil {
		for _, key := range affected {
			blockedDeployments[key.Deployment] = struct{}{}
		}
	}

	out := make([]models.DeploymentID, 0, len(deployments))
	for _, d := range deployments {
		if _, blocked := blockedDeployments[d]; !blocked {
			out = append(out, d)
		}
	}
	return out
}

func keepWithProgress(deployments []models.DeploymentID, progress map[models.DeploymentID]models.Progress) []models.DeploymentID {
	out := make([]models.DeploymentID, 0, len(deployments))
	for _, d := range deployments {
		if _, ok := progress[d]; ok {
			out = append(out, d)
		}
	}
	return out
}

func (p *Pipeline) resolveCostModels(ctx context.Context, indexerURL string, deployments []models.DeploymentID) map[models.DeploymentID]models.CostModel {
	sources, err := p.costResolver.Resolve(ctx, indexerURL, deployments)
	if err != nil || len(sources) == 0 {
		return nil
	}

	out := make(map[models.DeploymentID]models.CostModel, len(sources))
	for dep, source := range sources {
		model, err := p.compiler.Compile(source)
		if err != nil {
			continue
		}
		out[dep] = model
	}
	return out
}
