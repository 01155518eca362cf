// Package forwarder implements the Forwarder & Retry Loop: given
// an ordered candidate list, it attempts indexers in order, asking the
// Receipt Signer for payment, POSTing the query, and recording outcomes to
// the Receipt Signer and the Observations sink until one attempt succeeds or
// the retry budget is exhausted.
package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/graphops/query-gateway/internal/models"
	"github.com/graphops/query-gateway/internal/observations"
	"github.com/graphops/query-gateway/internal/receipts"
	"github.com/graphops/query-gateway/internal/selection"
)

// attemptTimeout bounds a single forwarding attempt.
const attemptTimeout = 20 * time.Second

// Signer is the subset of *receipts.Signer the Forwarder depends on.
type Signer interface {
	Create(allocation models.IndexerID, fee *big.Int, legacy bool) (*receipts.Receipt, error)
	Record(receipt *receipts.Receipt, status receipts.ReceiptStatus)
}

// Sink is the subset of *observations.Sink the Forwarder reports to.
type Sink interface {
	Report(a observations.Attempt)
}

// Query is the request body forwarded verbatim to the chosen indexer.
type Query struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// Response is the parsed GraphQL envelope an indexer returns, including the
// attestation header captured alongside it.
type Response struct {
	Data        json.RawMessage `json:"data,omitempty"`
	Errors      []IndexerError  `json:"errors,omitempty"`
	Attestation string          `json:"-"`
}

// IndexerError is one error entry an indexer's response reported.
type IndexerError struct {
	Message string `json:"message"`
}

// Forwarder sends queries to selected indexers with signed receipts and
// retries on recoverable failure.
type Forwarder struct {
	signer     Signer
	sink       Sink
	http       *http.Client
	defaultFee *big.Int
}

// New builds a Forwarder. defaultFee prices a candidate with no compiled
// cost model, derived from
// query_fees_target.
func New(signer Signer, sink Sink, httpClient *http.Client, defaultFee *big.Int) *Forwarder {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if defaultFee == nil {
		defaultFee = big.NewInt(0)
	}
	return &Forwarder{signer: signer, sink: sink, http: httpClient, defaultFee: defaultFee}
}

// Attempt is the per-indexer outcome classification.
type Attempt string

const (
	AttemptPending              Attempt = "pending"
	AttemptSent                 Attempt = "sent"
	AttemptOk                   Attempt = "ok"
	AttemptTransportError       Attempt = "transport_error"
	AttemptUnattestableResponse Attempt = "unattestable_response"
	AttemptTimeout              Attempt = "timeout"
)

// ErrExhausted is returned when every candidate attempt failed.
var ErrExhausted = errors.New("all indexer attempts exhausted")

// Forward attempts candidates in order, up to len(candidates) (the caller is
// expected to have already capped the list at the selection retry limit).
// Each attempt POSTs to
// `<indexer_url>/subgraphs/id/<deployment>` for that candidate's deployment.
// The loop ends on the first response not classified as unattestable; it
// returns ErrExhausted if every candidate fails.
func (f *Forwarder) Forward(ctx context.Context, query Query, candidates []selection.Candidate) (*Response, error) {
	var lastErr error
	for _, c := range candidates {
		resp, outcome, err := f.attempt(ctx, query, c)
		switch outcome {
		case AttemptOk:
			return resp, nil
		case AttemptTransportError, AttemptTimeout, AttemptUnattestableResponse:
			lastErr = err
			continue
		}
	}
	if lastErr == nil {
		lastErr = ErrExhausted
	}
	return nil, fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}

func (f *Forwarder) attempt(ctx context.Context, query Query, c selection.Candidate) (*Response, Attempt, error) {
	fee := new(big.Int).Set(f.defaultFee)
	if c.Indexing != nil && c.Indexing.Cost != nil {
		if priced, err := c.Indexing.Cost.Price(nil); err == nil && priced != nil {
			fee = priced
		}
	}

	allocation := c.Indexing.LargestAllocation
	receipt, err := f.signer.Create(allocation, fee, c.Legacy)
	if err != nil {
		return nil, AttemptTransportError, fmt.Errorf("receipt creation failed: %w", err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	start := time.Now()
	resp, err := f.send(attemptCtx, c, query, receipt)
	elapsed := time.Since(start)

	outcome := classify(resp, err, attemptCtx)

	f.signer.Record(receipt, receiptStatus(outcome))
	f.report(c, fee, outcome, resp, elapsed)

	if outcome != AttemptOk {
		return nil, outcome, err
	}
	return resp, outcome, nil
}

func (f *Forwarder) send(ctx context.Context, c selection.Candidate, query Query, receipt *receipts.Receipt) (*Response, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	url := c.IndexerURL + "/subgraphs/id/" + c.Indexing.Deployment.String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	serialized, err := receipt.Serialize()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize receipt: %w", err)
	}
	req.Header.Set(receipt.HeaderName(), serialized)

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("indexer returned status %d", resp.StatusCode)
	}

	var parsed Response
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	parsed.Attestation = resp.Header.Get("Graph-Attestation")
	return &parsed, nil
}

// classify maps a send() outcome to the attempt state machine.
// A response with an attestation, or with no errors at all, is Ok. A
// response with errors but no attestation is unattestable: the query may
// have been answered correctly but cannot be disputed, so the Forwarder
// tries the next candidate rather than trusting it.
func classify(resp *Response, err error, ctx context.Context) Attempt {
	if err != nil {
		if ctx.Err() != nil {
			return AttemptTimeout
		}
		return AttemptTransportError
	}
	if len(resp.Errors) > 0 && resp.Attestation == "" {
		return AttemptUnattestableResponse
	}
	return AttemptOk
}

func (f *Forwarder) report(c selection.Candidate, fee *big.Int, outcome Attempt, resp *Response, elapsed time.Duration) {
	var indexerErrors []string
	if resp != nil {
		for _, e := range resp.Errors {
			indexerErrors = append(indexerErrors, e.Message)
		}
	}

	f.sink.Report(observations.Attempt{
		Indexer:        c.Indexer,
		Allocation:     c.Indexing.LargestAllocation,
		Fee:            fee,
		Utility:        c.Utility,
		BlocksBehind:   c.BlocksBehind,
		IndexerErrors:  indexerErrors,
		Status:         outcomeToStatus(outcome),
		ResponseTimeMs: elapsed.Milliseconds(),
	})
}

// receiptStatus maps an attempt outcome to the receipt bookkeeping status: only a confirmed Ok response marks the receipt collectible,
// everything else releases it back as unused.
func receiptStatus(a Attempt) receipts.ReceiptStatus {
	if a == AttemptOk {
		return receipts.ReceiptStatusSuccess
	}
	return receipts.ReceiptStatusFailure
}

func outcomeToStatus(a Attempt) observations.AttemptStatus {
	switch a {
	case AttemptOk:
		return observations.StatusOk
	case AttemptTimeout:
		return observations.StatusTimeout
	case AttemptUnattestableResponse:
		return observations.StatusUnattestableResponse
	default:
		return observations.StatusTransportError
	}
}

