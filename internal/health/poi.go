package health

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/graphops/query-gateway/internal/health/poicache"
	"github.com/graphops/query-gateway/internal/models"
)

// poiResolveTimeout bounds the overall POI batch resolution.
const poiResolveTimeout = 5 * time.Second

// poiBatchSize is the number of POI queries per indexer request.
const poiBatchSize = 10

// PoiBlockEntry is one blocked (deployment, block, poi) tuple.
type PoiBlockEntry struct {
	Deployment models.DeploymentID
	Block      uint64
	POI        poicache.POI
}

// PoiBlocklist indexes blocked POI entries by deployment for fast lookup of
// which blocks a given deployment has blocked entries for.
type PoiBlocklist struct {
	byDeployment map[models.DeploymentID][]PoiBlockEntry
}

// NewPoiBlocklist builds a blocklist from configured entries. A nil or empty
// list means stage 4 is a no-op.
func NewPoiBlocklist(entries []PoiBlockEntry) *PoiBlocklist {
	if len(entries) == 0 {
		return nil
	}
	b := &PoiBlocklist{byDeployment: make(map[models.DeploymentID][]PoiBlockEntry)}
	for _, e := range entries {
		b.byDeployment[e.Deployment] = append(b.byDeployment[e.Deployment], e)
	}
	return b
}

// AffectedKeys returns the (deployment, block) pairs among deployments that
// the blocklist has an opinion about — the set of POIs the indexer "could be
// hosting that appear in the blocklist".
func (b *PoiBlocklist) AffectedKeys(deployments []models.DeploymentID) []poicache.Key {
	if b == nil {
		return nil
	}
	var keys []poicache.Key
	for _, d := range deployments {
		for _, e := range b.byDeployment[d] {
			keys = append(keys, poicache.Key{Deployment: d, Block: e.Block})
		}
	}
	return keys
}

// Blocked reports whether the indexer's reported poi at (deployment, block)
// matches a blocked entry.
func (b *PoiBlocklist) Blocked(deployment models.DeploymentID, block uint64, poi poicache.POI) bool {
	if b == nil {
		return false
	}
	for _, e := range b.byDeployment[deployment] {
		if e.Block == block && e.POI == poi {
			return true
		}
	}
	return false
}

// publicPOIRequest/publicPOIResponse mirror the indexer's batched public-POI
// query endpoint.
type publicPOIRequest struct {
	Deployment models.DeploymentID `json:"deployment"`
	Block      uint64              `json:"block"`
}

type publicPOIResponse struct {
	Deployment models.DeploymentID `json:"deployment"`
	Block      uint64              `json:"block"`
	ProofOfIndexing *string        `json:"proofOfIndexing"`
}

// PoiResolver fetches and caches indexers' public POIs: a successful fetch
// merges into the cache; a failed fetch falls back to whatever the cache has.
type PoiResolver struct {
	http  *http.Client
	cache *poicache.Cache
}

// NewPoiResolver builds a PoiResolver over httpClient and cache.
func NewPoiResolver(httpClient *http.Client, cache *poicache.Cache) *PoiResolver {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cache == nil {
		cache = poicache.New()
	}
	return &PoiResolver{http: httpClient, cache: cache}
}

// Resolve fetches poi values for keys from indexerURL in batches of 10,
// within a 5s overall timeout, falling back to cached values on fetch
// failure and merging fresh results into the cache on success.
func (r *PoiResolver) Resolve(ctx context.Context, indexerURL string, keys []poicache.Key) (map[poicache.Key]poicache.POI, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, poiResolveTimeout)
	defer cancel()

	// Cache entries are keyed per indexer URL; callers build keys
	// from the blocklist alone, so stamp the URL here.
	keys = append([]poicache.Key(nil), keys...)
	for i := range keys {
		keys[i].URL = indexerURL
	}

	fresh, err := r.fetchBatches(ctx, indexerURL, keys)
	if err != nil {
		cached := r.cache.GetMany(keys)
		if len(cached) == 0 {
			return nil, fmt.Errorf("poi fetch failed and no cached values: %w", err)
		}
		return cached, nil
	}

	if len(fresh) > 0 {
		r.cache.SetMany(fresh)
	}

	missing := make([]poicache.Key, 0, len(keys))
	for _, k := range keys {
		if _, ok := fresh[k]; !ok {
			missing = append(missing, k)
		}
	}
	merged := r.cache.GetMany(missing)
	for k, v := range fresh {
		merged[k] = v
	}
	return merged, nil
}

// fetchBatches sends every batch of keys concurrently and merges the results. The first batch
// error cancels the remaining batches and is returned.
func (r *PoiResolver) fetchBatches(ctx context.Context, indexerURL string, keys []poicache.Key) (map[poicache.Key]poicache.POI, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		batch map[poicache.Key]poicache.POI
		err   error
	}

	var batches [][]poicache.Key
	for start := 0; start < len(keys); start += poiBatchSize {
		end := start + poiBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		batches = append(batches, keys[start:end])
	}

	results := make(chan result, len(batches))
	var wg sync.WaitGroup
	for _, batch := range batches {
		wg.Add(1)
		go func(batch []poicache.Key) {
			defer wg.Done()
			fetched, err := r.fetchBatch(ctx, indexerURL, batch)
			results <- result{batch: fetched, err: err}
		}(batch)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	out := make(map[poicache.Key]poicache.POI, len(keys))
	var firstErr error
	for res := range results {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
				cancel()
			}
			continue
		}
		for k, v := range res.batch {
			out[k] = v
		}
	}
	if firstErr != nil {
		return out, firstErr
	}
	return out, nil
}

func (r *PoiResolver) fetchBatch(ctx context.Context, indexerURL string, keys []poicache.Key) (map[poicache.Key]poicache.POI, error) {
	reqBody := make([]publicPOIRequest, len(keys))
	for i, k := range keys {
		reqBody[i] = publicPOIRequest{Deployment: k.Deployment, Block: k.Block}
	}
	payload, err := json.Marshal(struct {
		PublicPoisRequests []publicPOIRequest `json:"publicPoisRequests"`
	}{reqBody})
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
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, indexerURL)
	}

	var body struct {
		PublicProofsOfIndexing []publicPOIResponse `json:"publicProofsOfIndexing"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	out := make(map[poicache.Key]poicache.POI, len(body.PublicProofsOfIndexing))
	for _, entry := range body.PublicProofsOfIndexing {
		if entry.ProofOfIndexing == nil {
			continue
		}
		poi, err := decodeHexPOI(*entry.ProofOfIndexing)
		if err != nil {
			continue
		}
		out[poicache.Key{URL: indexerURL, Deployment: entry.Deployment, Block: entry.Block}] = poi
	}
	return out, nil
}

func decodeHexPOI(s string) (poicache.POI, error) {
	var poi poicache.POI
	s = strings.TrimPrefix(s, "0x")
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return poi, err
	}
	if len(decoded) != len(poi) {
		return poi, fmt.Errorf("unexpected poi length %d", len(decoded))
	}
	copy(poi[:], decoded)
	return poi, nil
}
