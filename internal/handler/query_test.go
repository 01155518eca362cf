package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphops/query-gateway/internal/auth"
	"github.com/graphops/query-gateway/internal/chainhead"
	"github.com/graphops/query-gateway/internal/ethereum"
	"github.com/graphops/query-gateway/internal/forwarder"
	"github.com/graphops/query-gateway/internal/models"
	"github.com/graphops/query-gateway/internal/network"
	"github.com/graphops/query-gateway/internal/observations"
	"github.com/graphops/query-gateway/internal/receipts"
)

const testToken = "0123456789abcdef0123456789abcdef"

type staticHead struct{ head uint64 }

func (c staticHead) HeadBlock(ctx context.Context) (uint64, error) { return c.head, nil }

func observedTracker(t *testing.T, chain string, head uint64) *chainhead.Tracker {
	t.Helper()
	tracker := chainhead.NewTracker([]chainhead.Source{
		{Names: []string{chain}, Client: staticHead{head: head}},
	}, time.Hour, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tracker.Run(ctx)
	require.Eventually(t, tracker.AllObserved, time.Second, 5*time.Millisecond)
	return tracker
}

func mustAddress(t *testing.T, s string) ethereum.Address {
	t.Helper()
	addr, err := ethereum.AddressFromHex(s)
	require.NoError(t, err)
	return addr
}

func hashOf(b byte) ethereum.Hash {
	var h ethereum.Hash
	h[31] = b
	return h
}

func testSigner(t *testing.T) *receipts.Signer {
	t.Helper()
	keyBytes := make([]byte, 32)
	for i := range keyBytes {
		keyBytes[i] = 0xab
	}
	key, err := crypto.ToECDSA(keyBytes)
	require.NoError(t, err)
	verifier := mustAddress(t, "0x177b557b12f22bb17a9d73dcc994d978dd6f5f89")
	return receipts.NewSigner(key, 1, verifier, key)
}

type indexerFixture struct {
	url         string
	latestBlock uint64
}

// buildSnapshot wires one deployment on chain "mainnet" with the given
// indexers, each serving up to its latestBlock.
func buildSnapshot(dep models.DeploymentID, indexers map[models.IndexerID]indexerFixture) *network.Snapshot {
	deployment := &models.Deployment{
		ID:        dep,
		Chain:     "mainnet",
		Indexings: make(map[models.IndexerID]*models.Indexing),
		Subgraphs: map[models.SubgraphID]struct{}{"sg1": {}},
	}
	snapshotIndexers := make(map[models.IndexerID]*models.Indexer)
	subgraph := &models.Subgraph{
		ID:        "sg1",
		Versions:  []models.SubgraphVersion{{Number: 1, Deployment: dep}},
		Indexings: make(map[models.IndexingKey]*models.Indexing),
	}

	for id, fx := range indexers {
		indexing := &models.Indexing{
			Indexer:              id,
			Deployment:           dep,
			LargestAllocation:    id,
			TotalAllocatedTokens: big.NewInt(100),
			Progress:             models.Progress{LatestBlock: fx.latestBlock},
		}
		deployment.Indexings[id] = indexing
		subgraph.Indexings[models.IndexingKey{Indexer: id, Deployment: dep}] = indexing
		snapshotIndexers[id] = &models.Indexer{ID: id, URL: fx.url, Indexings: map[models.DeploymentID]*models.Indexing{dep: indexing}}
	}

	return &network.Snapshot{
		Indexers:    snapshotIndexers,
		Deployments: map[models.DeploymentID]*models.Deployment{dep: deployment},
		Subgraphs:   map[models.SubgraphID]*models.Subgraph{"sg1": subgraph},
	}
}

func testServer(t *testing.T, snapshot *network.Snapshot, keys auth.KeyStore, heads *chainhead.Tracker) *httptest.Server {
	t.Helper()
	publisher := network.NewPublisher()
	publisher.Publish(snapshot)

	sink := observations.NewSink(16)
	fwd := forwarder.New(testSigner(t), sink, nil, big.NewInt(100))
	h := NewQueryHandler(publisher, fwd, observations.NewTracker(), heads, Config{
		Budget:     big.NewInt(1000),
		RetryLimit: 3,
	}, slog.Default())

	checker := auth.NewChecker(keys, auth.Config{})
	srv := httptest.NewServer(h.Routes(checker))
	t.Cleanup(srv.Close)
	return srv
}

func postQuery(t *testing.T, url string, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var envelope map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return resp, envelope
}

func errorMessage(t *testing.T, envelope map[string]any) string {
	t.Helper()
	errs, ok := envelope["errors"].([]any)
	require.True(t, ok, "expected an errors array, got %v", envelope)
	require.NotEmpty(t, errs)
	entry := errs[0].(map[string]any)
	return entry["message"].(string)
}

func TestQueryHandler_Errors(t *testing.T) {
	d1, d2 := hashOf(0x01), hashOf(0x02)
	key, err := auth.ParseToken(testToken)
	require.NoError(t, err)
	indexer := mustAddress(t, "0x000000000000000000000000000000000000000a")

	openKeys := auth.StaticStore{key: &models.APIKey{Key: key}}
	restrictedKeys := auth.StaticStore{key: &models.APIKey{
		Key:                   key,
		AuthorizedDeployments: map[models.DeploymentID]struct{}{d1: {}},
	}}

	tests := []struct {
		name     string
		keys     auth.KeyStore
		snapshot *network.Snapshot
		heads    func(t *testing.T) *chainhead.Tracker
		path     string
		body     string
		wantMsg  string
	}{
		{
			name: "requesting a deployment outside the key's allowlist",
			keys: restrictedKeys,
			snapshot: buildSnapshot(d2, map[models.IndexerID]indexerFixture{
				indexer: {url: "https://indexer.example", latestBlock: 100},
			}),
			heads:   func(t *testing.T) *chainhead.Tracker { return observedTracker(t, "mainnet", 100) },
			path:    "/api/" + testToken + "/deployments/id/" + d2.String(),
			body:    `{"query": "{ things { id } }"}`,
			wantMsg: "Subgraph not authorized by user",
		},
		{
			name:     "an invalid bearer token",
			keys:     auth.StaticStore{},
			snapshot: network.NewPublisher().Load(),
			heads:    func(t *testing.T) *chainhead.Tracker { return observedTracker(t, "mainnet", 100) },
			path:     "/api/not-a-key/subgraphs/id/sg1",
			body:     `{"query": "{ things { id } }"}`,
			wantMsg:  "Invalid API key",
		},
		{
			name: "an unknown subgraph",
			keys: openKeys,
			snapshot: buildSnapshot(d1, map[models.IndexerID]indexerFixture{
				indexer: {url: "https://indexer.example", latestBlock: 100},
			}),
			heads:   func(t *testing.T) *chainhead.Tracker { return observedTracker(t, "mainnet", 100) },
			path:    "/api/" + testToken + "/subgraphs/id/unknown",
			body:    `{"query": "{ things { id } }"}`,
			wantMsg: "Subgraph not found",
		},
		{
			name: "an empty query body",
			keys: openKeys,
			snapshot: buildSnapshot(d1, map[models.IndexerID]indexerFixture{
				indexer: {url: "https://indexer.example", latestBlock: 100},
			}),
			heads:   func(t *testing.T) *chainhead.Tracker { return observedTracker(t, "mainnet", 100) },
			path:    "/api/" + testToken + "/subgraphs/id/sg1",
			body:    `{}`,
			wantMsg: "Invalid query",
		},
		{
			name: "an unobserved chain head",
			keys: openKeys,
			snapshot: buildSnapshot(d1, map[models.IndexerID]indexerFixture{
				indexer: {url: "https://indexer.example", latestBlock: 100},
			}),
			heads: func(t *testing.T) *chainhead.Tracker {
				return chainhead.NewTracker(nil, time.Hour, slog.Default())
			},
			path:    "/api/" + testToken + "/subgraphs/id/sg1",
			body:    `{"query": "{ things { id } }"}`,
			wantMsg: "Gateway failed to resolve required blocks",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, tt.snapshot, tt.keys, tt.heads(t))

			resp, envelope := postQuery(t, srv.URL+tt.path, tt.body)

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, tt.wantMsg, errorMessage(t, envelope))
		})
	}
}

func TestQueryHandler_BlockRequirementRouting(t *testing.T) {
	key, err := auth.ParseToken(testToken)
	require.NoError(t, err)
	openKeys := auth.StaticStore{key: &models.APIKey{Key: key}}

	var hits []string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, r.URL.Path)
		w.Header().Set("Graph-Attestation", "0xsig")
		_, _ = w.Write([]byte(`{"data": {"things": []}}`))
	}))
	defer upstream.Close()

	d1 := hashOf(0x01)
	indexerA := mustAddress(t, "0x000000000000000000000000000000000000000a")
	indexerB := mustAddress(t, "0x000000000000000000000000000000000000000b")
	snapshot := buildSnapshot(d1, map[models.IndexerID]indexerFixture{
		indexerA: {url: "https://unreachable.example", latestBlock: 99},
		indexerB: {url: upstream.URL, latestBlock: 100},
	})
	srv := testServer(t, snapshot, openKeys, observedTracker(t, "mainnet", 100))

	resp, envelope := postQuery(t,
		srv.URL+"/api/"+testToken+"/subgraphs/id/sg1",
		`{"query": "{ things(block: { number: 100 }) { id } }"}`,
	)

	// The candidate at block 99 cannot serve block 100; the query must land
	// on the candidate at block 100.
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, envelope, "errors")
	require.Len(t, hits, 1)
	assert.Equal(t, "/subgraphs/id/"+d1.String(), hits[0])
	assert.Equal(t, "0xsig", resp.Header.Get("Graph-Attestation"))
}

func TestRequiredBlock(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    uint64
		wantErr bool
	}{
		{
			name:  "extracts the highest block constraint",
			query: `{ a(block: { number: 100 }) { id } b(block: { number_gte: 250 }) { id } }`,
			want:  250,
		},
		{
			name:  "an unconstrained query requires no block",
			query: `{ things { id } }`,
			want:  0,
		},
		{
			name:    "unbalanced braces are an error",
			query:   `{ things { id }`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := requiredBlock(tt.query)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}
