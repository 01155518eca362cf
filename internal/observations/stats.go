package observations

import (
	"sync"

	"github.com/graphops/query-gateway/internal/models"
	"github.com/graphops/query-gateway/internal/selection"
)

// ewmaAlpha weights the most recent observation; low enough that a single
// bad attempt does not dominate an indexer's long-run reputation.
const ewmaAlpha = 0.2

// Tracker consumes a Sink's attempt stream and maintains a rolling
// success-rate/latency estimate per indexer, feeding the Selection Engine's
// "historical success/latency (from observations)" input.
type Tracker struct {
	mu    sync.RWMutex
	stats map[models.IndexerID]selection.Stats
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{stats: make(map[models.IndexerID]selection.Stats)}
}

// Consume drains sink until its channel is closed, updating per-indexer
// stats as attempts arrive. Intended to run in its own goroutine for the
// life of the process.
func (t *Tracker) Consume(sink *Sink) {
	for attempt := range sink.Consume() {
		t.update(attempt)
	}
}

func (t *Tracker) update(a Attempt) {
	success := 0.0
	if a.Status == StatusOk {
		success = 1.0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.stats[a.Indexer]
	if !ok {
		t.stats[a.Indexer] = selection.Stats{
			SuccessRate:  success,
			AvgLatencyMs: float64(a.ResponseTimeMs),
		}
		return
	}

	cur.SuccessRate = ewma(cur.SuccessRate, success)
	cur.AvgLatencyMs = ewma(cur.AvgLatencyMs, float64(a.ResponseTimeMs))
	t.stats[a.Indexer] = cur
}

func ewma(prev, sample float64) float64 {
	return prev*(1-ewmaAlpha) + sample*ewmaAlpha
}

// Stats implements selection.StatsSource. Indexers never observed default to
// a neutral SuccessRate of 1 so a new indexer is not unfairly penalized.
func (t *Tracker) Stats(indexer models.IndexerID) selection.Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.stats[indexer]; ok {
		return s
	}
	return selection.Stats{SuccessRate: 1, AvgLatencyMs: 0}
}
