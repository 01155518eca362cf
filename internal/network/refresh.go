package network

import (
	"context"
	"log/slog"
	"time"

	"github.com/graphops/query-gateway/internal/models"
)

// HealthPipeline runs the Indexer Health Pipeline over a raw indexer set; implemented by *health.Pipeline. Declared here rather than
// imported to avoid a network<->health import cycle (health.Pipeline
// consumes network.RawIndexer).
type HealthPipeline interface {
	Process(ctx context.Context, raw []RawIndexer) map[models.IndexerID]*models.Indexer
}

// RefreshTask periodically fetches topology, runs it through the health
// pipeline, builds a new Snapshot, and publishes it. A failed fetch leaves the previously
// published snapshot in force.
type RefreshTask struct {
	fetcher   *Fetcher
	pipeline  HealthPipeline
	publisher *Publisher
	interval  time.Duration
	logger    *slog.Logger
}

// NewRefreshTask builds a RefreshTask.
func NewRefreshTask(fetcher *Fetcher, pipeline HealthPipeline, publisher *Publisher, interval time.Duration, logger *slog.Logger) *RefreshTask {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshTask{fetcher: fetcher, pipeline: pipeline, publisher: publisher, interval: interval, logger: logger}
}

// Run executes one refresh immediately, then every interval, until ctx is
// cancelled. A RefreshTask cancellation mid-refresh is safe: the in-flight
// refresh's partial probes are simply discarded.
func (t *RefreshTask) Run(ctx context.Context) {
	t.refreshOnce(ctx)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.refreshOnce(ctx)
		}
	}
}

func (t *RefreshTask) refreshOnce(ctx context.Context) {
	start := time.Now()

	rawIndexers, err := t.fetcher.FetchIndexers(ctx)
	if err != nil {
		t.logger.Warn("topology refresh failed: indexers fetch", slog.Any("error", err))
		return
	}
	rawSubgraphs, err := t.fetcher.FetchSubgraphs(ctx)
	if err != nil {
		t.logger.Warn("topology refresh failed: subgraphs fetch", slog.Any("error", err))
		return
	}

	healthy := t.pipeline.Process(ctx, rawIndexers)
	if ctx.Err() != nil {
		return
	}
	snapshot := Build(healthy, rawSubgraphs)
	t.publisher.Publish(snapshot)

	t.logger.Info("topology refreshed",
		slog.Int("indexers", len(healthy)),
		slog.Int("deployments", len(snapshot.Deployments)),
		slog.Int("subgraphs", len(snapshot.Subgraphs)),
		slog.Duration("duration", time.Since(start)),
	)
}
