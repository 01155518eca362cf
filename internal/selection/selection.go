// Package selection implements the Selection Engine: scoring and
// ordering indexer candidates for one query under cost, freshness, and
// reliability constraints.
package selection

import (
	"math/big"
	"math/rand"
	"sort"

	"github.com/graphops/query-gateway/internal/models"
)

// Candidate is one (indexer, indexing) pair under consideration for a query.
type Candidate struct {
	Indexer        models.IndexerID
	IndexerURL     string
	Indexing       *models.Indexing
	BlocksBehind   uint64
	VersionsBehind uint8
	// Legacy mirrors the owning Indexer's LegacyReceipts flag, carried here
	// so the Forwarder can pick a receipt scheme without re-joining the
	// snapshot.
	Legacy bool
	// Utility is the score Select assigned this candidate, carried so the
	// Forwarder can report it with each attempt without re-scoring.
	Utility float64
}

// Stats carries the historical observation data the utility function folds
// in; opaque to this package beyond
// the two scalars it reads.
type Stats struct {
	SuccessRate  float64 // in [0, 1], defaults to 1 for indexers never observed
	AvgLatencyMs float64
}

// StatsSource supplies historical stats per indexer; backed by the
// Observations sink in production, stubbed with defaults in tests.
type StatsSource interface {
	Stats(indexer models.IndexerID) Stats
}

// Params bounds and weights the scoring inputs.
type Params struct {
	Budget          *big.Int
	MaxBlocksBehind uint64
	Seed            int64
	RetryLimit      int
}

// scored pairs a Candidate with its resolved fee and utility.
type scored struct {
	Candidate
	fee     *big.Int
	utility float64
}

// Select scores candidates, drops disqualified ones, and returns an ordered
// list capped at params.RetryLimit.
// rejectedFees counts candidates dropped purely because their cost model
// quoted a fee above params.Budget, for FeesTooHigh(n) reporting.
func Select(candidates []Candidate, stats StatsSource, params Params) (ordered []Candidate, rejectedFees int) {
	var survivors []scored

	for _, c := range candidates {
		if params.MaxBlocksBehind > 0 && c.BlocksBehind > params.MaxBlocksBehind {
			continue
		}

		fee := defaultFee(params.Budget)
		if c.Indexing != nil && c.Indexing.Cost != nil {
			if f, err := c.Indexing.Cost.Price(nil); err == nil && f != nil {
				fee = f
			}
		}

		if params.Budget != nil && fee.Cmp(params.Budget) > 0 {
			rejectedFees++
			continue
		}

		st := Stats{SuccessRate: 1, AvgLatencyMs: 0}
		if stats != nil {
			st = stats.Stats(c.Indexer)
		}

		survivors = append(survivors, scored{
			Candidate: c,
			fee:       fee,
			utility:   utility(fee, params.Budget, st, c.VersionsBehind, c.Indexing),
		})
	}

	if len(survivors) == 0 {
		return nil, rejectedFees
	}

	r := rand.New(rand.NewSource(params.Seed))
	sort.SliceStable(survivors, func(i, j int) bool {
		a, b := survivors[i], survivors[j]
		if a.utility != b.utility {
			return a.utility > b.utility
		}
		if a.BlocksBehind != b.BlocksBehind {
			return a.BlocksBehind < b.BlocksBehind
		}
		if cmp := allocationTokens(a.Indexing).Cmp(allocationTokens(b.Indexing)); cmp != 0 {
			return cmp > 0
		}
		// Utility-equivalent tie: randomize to avoid herd effects, deterministic
		// for a given seed.
		return r.Float64() < 0.5
	})

	limit := params.RetryLimit
	if limit <= 0 || limit > len(survivors) {
		limit = len(survivors)
	}
	out := make([]Candidate, 0, limit)
	for _, s := range survivors[:limit] {
		c := s.Candidate
		c.Utility = s.utility
		out = append(out, c)
	}
	return out, rejectedFees
}

func defaultFee(budget *big.Int) *big.Int {
	if budget == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(budget)
}

func allocationTokens(indexing *models.Indexing) *big.Int {
	if indexing == nil || indexing.TotalAllocatedTokens == nil {
		return big.NewInt(0)
	}
	return indexing.TotalAllocatedTokens
}

// utility combines fee-vs-budget, historical performance, freshness, and
// stake-weighted reliability into a single score. Monotonicity directions: higher fee → lower utility; smaller versionsBehind → higher
// utility; higher success rate → higher utility; lower latency → higher
// utility; larger allocation → higher utility.
func utility(fee, budget *big.Int, stats Stats, versionsBehind uint8, indexing *models.Indexing) float64 {
	const (
		feeWeight     = 0.4
		successWeight = 0.3
		latencyWeight = 0.15
		freshWeight   = 0.1
		stakeWeight   = 0.05
	)

	feeScore := 1.0
	if budget != nil && budget.Sign() > 0 && fee != nil {
		ratio, _ := new(big.Float).Quo(new(big.Float).SetInt(fee), new(big.Float).SetInt(budget)).Float64()
		feeScore = 1 - clamp01(ratio)
	}

	latencyScore := 1.0 / (1.0 + stats.AvgLatencyMs/1000.0)
	freshScore := 1.0 / (1.0 + float64(versionsBehind))

	stakeScore := 0.0
	if indexing != nil && indexing.TotalAllocatedTokens != nil && indexing.TotalAllocatedTokens.Sign() > 0 {
		f, _ := new(big.Float).SetInt(indexing.TotalAllocatedTokens).Float64()
		stakeScore = 1 - 1/(1+f/1e18)
	}

	return feeWeight*feeScore +
		successWeight*clamp01(stats.SuccessRate) +
		latencyWeight*latencyScore +
		freshWeight*freshScore +
		stakeWeight*stakeScore
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
