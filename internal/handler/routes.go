package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/graphops/query-gateway/internal/auth"
	"github.com/graphops/query-gateway/internal/ethereum"
	"github.com/graphops/query-gateway/internal/middleware"
	"github.com/graphops/query-gateway/internal/models"
)

// Routes mounts the query endpoints under /api/{api_key}, with per-route authorization resolved from the path
// parameters.
func (h *QueryHandler) Routes(checker *auth.Checker) chi.Router {
	r := chi.NewRouter()

	r.Route("/api/{api_key}", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(checker, extractSubgraphRequest))
			r.Post("/subgraphs/id/{subgraph_id}", h.ServeSubgraph)
		})
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(checker, extractDeploymentRequest))
			r.Post("/deployments/id/{deployment_id}", h.ServeDeployment)
		})
	})

	return r
}

func extractSubgraphRequest(r *http.Request) auth.Request {
	id := models.SubgraphID(chi.URLParam(r, "subgraph_id"))
	return auth.Request{
		Token:    chi.URLParam(r, "api_key"),
		Subgraph: &id,
	}
}

func extractDeploymentRequest(r *http.Request) auth.Request {
	req := auth.Request{Token: chi.URLParam(r, "api_key")}
	if dep, err := ethereum.HashFromHex(chi.URLParam(r, "deployment_id")); err == nil {
		req.Deployment = &dep
	}
	return req
}
