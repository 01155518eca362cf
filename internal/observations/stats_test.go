package observations

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphops/query-gateway/internal/ethereum"
)

func indexerOf(b byte) ethereum.Address {
	var a ethereum.Address
	a[19] = b
	return a
}

func TestSink_Report(t *testing.T) {
	t.Run("a full queue drops the newest record without blocking", func(t *testing.T) {
		sink := NewSink(1)
		indexer := indexerOf(0x0a)

		done := make(chan struct{})
		go func() {
			sink.Report(Attempt{Indexer: indexer, Status: StatusOk})
			sink.Report(Attempt{Indexer: indexer, Status: StatusTimeout})
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Report blocked on a full queue")
		}
		first := <-sink.Consume()
		assert.Equal(t, StatusOk, first.Status)
	})
}

func TestTracker(t *testing.T) {
	t.Run("unobserved indexers default to a neutral success rate", func(t *testing.T) {
		tracker := NewTracker()

		stats := tracker.Stats(indexerOf(0x0a))

		assert.Equal(t, 1.0, stats.SuccessRate)
		assert.Equal(t, 0.0, stats.AvgLatencyMs)
	})

	t.Run("failures pull the success rate down, successes pull it back up", func(t *testing.T) {
		tracker := NewTracker()
		indexer := indexerOf(0x0a)
		tracker.update(Attempt{Indexer: indexer, Status: StatusOk, ResponseTimeMs: 100})

		tracker.update(Attempt{Indexer: indexer, Status: StatusTimeout, ResponseTimeMs: 5000})
		afterFailure := tracker.Stats(indexer)
		tracker.update(Attempt{Indexer: indexer, Status: StatusOk, ResponseTimeMs: 100})
		afterRecovery := tracker.Stats(indexer)

		assert.Less(t, afterFailure.SuccessRate, 1.0)
		assert.Greater(t, afterRecovery.SuccessRate, afterFailure.SuccessRate)
		assert.Greater(t, afterFailure.AvgLatencyMs, 100.0)
	})

	t.Run("consume drains the sink until it closes", func(t *testing.T) {
		sink := NewSink(4)
		tracker := NewTracker()
		indexer := indexerOf(0x0a)
		sink.Report(Attempt{Indexer: indexer, Status: StatusOk, ResponseTimeMs: 50})
		sink.Close()

		tracker.Consume(sink)

		stats := tracker.Stats(indexer)
		require.Equal(t, 1.0, stats.SuccessRate)
		assert.Equal(t, 50.0, stats.AvgLatencyMs)
	})
}
