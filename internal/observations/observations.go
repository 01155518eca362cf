// Package observations implements the bounded attempt-outcome sink the
// Forwarder reports to and the Selection Engine eventually learns from.
package observations

import (
	"math/big"

	"github.com/graphops/query-gateway/internal/models"
)

// AttemptStatus is the terminal classification of one forwarding attempt.
type AttemptStatus string

const (
	StatusOk                 AttemptStatus = "ok"
	StatusTransportError      AttemptStatus = "transport_error"
	StatusUnattestableResponse AttemptStatus = "unattestable_response"
	StatusTimeout             AttemptStatus = "timeout"
)

// Attempt is one reported forwarding attempt.
type Attempt struct {
	Indexer        models.IndexerID
	Allocation     models.IndexerID
	Fee            *big.Int
	Utility        float64
	BlocksBehind   uint64
	IndexerErrors  []string
	Status         AttemptStatus
	ResponseTimeMs int64
}

// Sink is a bounded, drop-newest-on-full queue of attempt records. A full
// queue never blocks the reporting caller: the newest record is discarded
// and a one-slot drop signal is set; drops are not counted.
type Sink struct {
	ch      chan Attempt
	dropped chan struct{}
}

// NewSink creates a Sink with the given capacity.
func NewSink(capacity int) *Sink {
	return &Sink{
		ch:      make(chan Attempt, capacity),
		dropped: make(chan struct{}, 1),
	}
}

// Report pushes an attempt record, dropping it silently if the queue is full.
func (s *Sink) Report(a Attempt) {
	select {
	case s.ch <- a:
	default:
		select {
		case s.dropped <- struct{}{}:
		default:
		}
	}
}

// Consume returns the channel consumers range over to drain reported
// attempts. Closing is the caller's responsibility via Close.
func (s *Sink) Consume() <-chan Attempt {
	return s.ch
}

// Close stops accepting further reports and closes the channel returned by
// Consume. Callers must not call Report after Close.
func (s *Sink) Close() {
	close(s.ch)
}
