// Package handler implements the gateway's HTTP request path: authorizing the caller, resolving the target
// deployment or subgraph against the published snapshot, running the
// Selection Engine, and forwarding via the Forwarder & Retry Loop.
package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/graphops/query-gateway/internal/chainhead"
	"github.com/graphops/query-gateway/internal/ethereum"
	"github.com/graphops/query-gateway/internal/forwarder"
	"github.com/graphops/query-gateway/internal/middleware"
	"github.com/graphops/query-gateway/internal/models"
	"github.com/graphops/query-gateway/internal/network"
	gatewayerrors "github.com/graphops/query-gateway/internal/pkg/errors"
	"github.com/graphops/query-gateway/internal/pkg/response"
	"github.com/graphops/query-gateway/internal/selection"
)

// QueryHandler serves the query endpoint.
type QueryHandler struct {
	publisher  *network.Publisher
	forwarder  *forwarder.Forwarder
	stats      selection.StatsSource
	heads      *chainhead.Tracker
	budget     *big.Int
	retryLimit int
	// maxBlocksBehind drops candidates whose reported head is too far behind
	// the chain head; zero disables the cutoff.
	maxBlocksBehind uint64
	l2Gateway       string
	l2HTTP          *http.Client
	logger          *slog.Logger
}

// Config parameterizes a QueryHandler.
type Config struct {
	Budget          *big.Int
	RetryLimit      int
	MaxBlocksBehind uint64
	L2GatewayURL    string
}

// NewQueryHandler builds a QueryHandler.
func NewQueryHandler(
	publisher *network.Publisher,
	fwd *forwarder.Forwarder,
	stats selection.StatsSource,
	heads *chainhead.Tracker,
	cfg Config,
	logger *slog.Logger,
) *QueryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryHandler{
		publisher:       publisher,
		forwarder:       fwd,
		stats:           stats,
		heads:           heads,
		budget:          cfg.Budget,
		retryLimit:      cfg.RetryLimit,
		maxBlocksBehind: cfg.MaxBlocksBehind,
		l2Gateway:       cfg.L2GatewayURL,
		l2HTTP:          http.DefaultClient,
		logger:          logger,
	}
}

// ServeSubgraph handles POST /api/{api_key}/subgraphs/id/{subgraph_id}.
func (h *QueryHandler) ServeSubgraph(w http.ResponseWriter, r *http.Request) {
	id := models.SubgraphID(chi.URLParam(r, "subgraph_id"))
	h.serve(w, r, &id, nil)
}

// ServeDeployment handles POST /api/{api_key}/deployments/id/{deployment_id}.
func (h *QueryHandler) ServeDeployment(w http.ResponseWriter, r *http.Request) {
	dep, err := ethereum.HashFromHex(chi.URLParam(r, "deployment_id"))
	if err != nil {
		h.fail(w, gatewayerrors.ErrSubgraphUnknown)
		return
	}
	h.serve(w, r, nil, &dep)
}

func (h *QueryHandler) serve(w http.ResponseWriter, r *http.Request, subgraph *models.SubgraphID, deployment *models.DeploymentID) {
	var query forwarder.Query
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil || query.Query == "" {
		h.fail(w, gatewayerrors.ErrMalformedQuery)
		return
	}

	requiredBlock, err := requiredBlock(query.Query)
	if err != nil {
		h.fail(w, gatewayerrors.ErrMalformedQuery)
		return
	}

	snapshot := h.publisher.Load()

	candidates, gerr := h.resolveCandidates(w, r, snapshot, query, subgraph, deployment, requiredBlock)
	if gerr != nil {
		h.fail(w, gerr)
		return
	}
	if candidates == nil {
		// Request was proxied to the L2 gateway.
		return
	}

	ordered, rejectedFees := selection.Select(candidates, h.stats, selection.Params{
		Budget:          h.budget,
		MaxBlocksBehind: h.maxBlocksBehind,
		Seed:            time.Now().UnixNano(),
		RetryLimit:      h.retryLimit,
	})
	if len(ordered) == 0 {
		if rejectedFees > 0 {
			h.fail(w, gatewayerrors.ErrFeesTooHigh(rejectedFees))
			return
		}
		h.fail(w, gatewayerrors.ErrNoIndexerSelected)
		return
	}

	resp, err := h.forwarder.Forward(r.Context(), query, ordered)
	if err != nil {
		h.fail(w, gatewayerrors.ErrNoIndexerSelected)
		return
	}

	middleware.RecordQueryOutcome("ok")
	response.OK(w, resp.Data, resp.Attestation)
}

// resolveCandidates resolves the request target against the snapshot and
// builds the candidate set. It returns (nil, nil) when the request was
// handed off to the L2 gateway instead.
func (h *QueryHandler) resolveCandidates(
	w http.ResponseWriter,
	r *http.Request,
	snapshot *network.Snapshot,
	query forwarder.Query,
	subgraph *models.SubgraphID,
	deployment *models.DeploymentID,
	requiredBlock uint64,
) ([]selection.Candidate, *gatewayerrors.GatewayError) {
	if subgraph != nil {
		sg, ok := snapshot.Subgraphs[*subgraph]
		if !ok {
			return nil, gatewayerrors.ErrSubgraphUnknown
		}
		if sg.L2ID != nil && h.l2Gateway != "" {
			h.forwardToL2(w, r, query)
			return nil, nil
		}
		return h.subgraphCandidates(snapshot, sg, requiredBlock)
	}

	dep, ok := snapshot.Deployments[*deployment]
	if !ok {
		return nil, gatewayerrors.ErrSubgraphUnknown
	}
	if dep.TransferredToL2 && h.l2Gateway != "" {
		h.forwardToL2(w, r, query)
		return nil, nil
	}
	return h.deploymentCandidates(snapshot, dep, requiredBlock)
}

// forwardToL2 replays the request against the configured L2 gateway for
// subgraphs/deployments transferred to L2.
func (h *QueryHandler) forwardToL2(w http.ResponseWriter, r *http.Request, query forwarder.Query) {
	body, err := json.Marshal(query)
	if err != nil {
		h.fail(w, gatewayerrors.ErrMalformedQuery)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, h.l2Gateway+r.URL.Path, bytes.NewReader(body))
	if err != nil {
		h.fail(w, gatewayerrors.ErrSubgraphUnknown)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.l2HTTP.Do(req)
	if err != nil {
		h.logger.Warn("l2 gateway forward failed", slog.Any("error", err))
		h.fail(w, gatewayerrors.ErrNoIndexers)
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func (h *QueryHandler) fail(w http.ResponseWriter, err *gatewayerrors.GatewayError) {
	middleware.RecordQueryOutcome(string(err.Kind))
	response.Error(w, err)
}
