package handler

import (
	"net/http"
	"time"

	"github.com/graphops/query-gateway/internal/chainhead"
	"github.com/graphops/query-gateway/internal/network"
	"github.com/graphops/query-gateway/internal/pkg/response"
)

// minUptime is how long the gateway must have been up before it reports
// ready.
const minUptime = 30 * time.Second

// ReadyHandler serves GET /ready: 200 once the
// warmup period has elapsed, every configured chain's head block has been
// observed, and the snapshot contains at least one indexing.
type ReadyHandler struct {
	started   time.Time
	publisher *network.Publisher
	heads     *chainhead.Tracker
}

// NewReadyHandler builds a ReadyHandler anchored at the current time.
func NewReadyHandler(publisher *network.Publisher, heads *chainhead.Tracker) *ReadyHandler {
	return &ReadyHandler{started: time.Now(), publisher: publisher, heads: heads}
}

// ServeHTTP implements http.Handler.
func (h *ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if time.Since(h.started) < minUptime {
		response.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	if !h.heads.AllObserved() {
		response.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "waiting for chain heads"})
		return
	}
	if !h.publisher.Load().HasIndexings() {
		response.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "waiting for network snapshot"})
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
