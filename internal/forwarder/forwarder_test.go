package forwarder

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphops/query-gateway/internal/ethereum"
	"github.com/graphops/query-gateway/internal/models"
	"github.com/graphops/query-gateway/internal/observations"
	"github.com/graphops/query-gateway/internal/receipts"
	"github.com/graphops/query-gateway/internal/selection"
)

func bytesOf(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

func mustAddress(t *testing.T, s string) ethereum.Address {
	t.Helper()
	addr, err := ethereum.AddressFromHex(s)
	require.NoError(t, err)
	return addr
}

func newTestSigner(t *testing.T) *receipts.Signer {
	t.Helper()
	tapKey, err := crypto.ToECDSA(bytesOf(0xab, 32))
	require.NoError(t, err)
	legacyKey, err := crypto.ToECDSA(bytesOf(0xcd, 32))
	require.NoError(t, err)
	verifier := mustAddress(t, "0x177b557b12f22bb17a9d73dcc994d978dd6f5f89")
	return receipts.NewSigner(tapKey, 1, verifier, legacyKey)
}

type fakeSink struct {
	reported []observations.Attempt
}

func (s *fakeSink) Report(a observations.Attempt) { s.reported = append(s.reported, a) }

func candidateFor(t *testing.T, url string, legacy bool) selection.Candidate {
	t.Helper()
	allocation := mustAddress(t, "0x89b23fea4e46d40e8a4c6cca723e2a03fdd4bec2")
	deployment, err := ethereum.HashFromHex("0x" + strings.Repeat("ab", 32))
	require.NoError(t, err)
	return selection.Candidate{
		Indexer:    mustAddress(t, "0x000000000000000000000000000000000000000a"),
		IndexerURL: url,
		Indexing: &models.Indexing{
			Deployment:           deployment,
			LargestAllocation:    allocation,
			TotalAllocatedTokens: big.NewInt(1),
		},
		Legacy: legacy,
	}
}

func TestForwarder_Forward(t *testing.T) {
	t.Run("returns the first response attested as ok", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/subgraphs/id/0x"+strings.Repeat("ab", 32), r.URL.Path)
			w.Header().Set("Graph-Attestation", "0xsig")
			_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"ok": true}})
		}))
		defer srv.Close()

		sink := &fakeSink{}
		fwd := New(newTestSigner(t), sink, srv.Client(), big.NewInt(100))
		candidates := []selection.Candidate{candidateFor(t, srv.URL, false)}

		resp, err := fwd.Forward(context.Background(), Query{Query: "{ q }"}, candidates)

		require.NoError(t, err)
		require.NotNil(t, resp)
		assert.JSONEq(t, `{"ok":true}`, string(resp.Data))
		require.Len(t, sink.reported, 1)
		assert.Equal(t, observations.StatusOk, sink.reported[0].Status)
	})

	t.Run("falls through an unattestable response to the next candidate", func(t *testing.T) {
		bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"errors": []map[string]string{{"message": "boom"}}})
		}))
		defer bad.Close()
		good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Graph-Attestation", "0xsig")
			_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"ok": true}})
		}))
		defer good.Close()

		sink := &fakeSink{}
		fwd := New(newTestSigner(t), sink, bad.Client(), big.NewInt(100))
		candidates := []selection.Candidate{
			candidateFor(t, bad.URL, false),
			candidateFor(t, good.URL, true),
		}

		resp, err := fwd.Forward(context.Background(), Query{Query: "{ q }"}, candidates)

		require.NoError(t, err)
		require.NotNil(t, resp)
		require.Len(t, sink.reported, 2)
		assert.Equal(t, observations.StatusUnattestableResponse, sink.reported[0].Status)
		assert.Equal(t, observations.StatusOk, sink.reported[1].Status)
	})

	t.Run("returns ErrExhausted when every candidate fails", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		sink := &fakeSink{}
		fwd := New(newTestSigner(t), sink, srv.Client(), big.NewInt(100))
		candidates := []selection.Candidate{candidateFor(t, srv.URL, false)}

		_, err := fwd.Forward(context.Background(), Query{Query: "{ q }"}, candidates)

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrExhausted)
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		resp *Response
		err  error
		want Attempt
	}{
		{
			name: "a transport error with a live context is a transport error",
			err:  assert.AnError,
			want: AttemptTransportError,
		},
		{
			name: "a response with errors and no attestation is unattestable",
			resp: &Response{Errors: []IndexerError{{Message: "boom"}}},
			want: AttemptUnattestableResponse,
		},
		{
			name: "a response with an attestation is ok even with errors present",
			resp: &Response{Errors: []IndexerError{{Message: "partial"}}, Attestation: "0xsig"},
			want: AttemptOk,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.resp, tt.err, context.Background()))
		})
	}
}

func TestReceiptStatus(t *testing.T) {
	tests := []struct {
		name    string
		attempt Attempt
		want    receipts.ReceiptStatus
	}{
		{name: "ok maps to success", attempt: AttemptOk, want: receipts.ReceiptStatusSuccess},
		{name: "timeout maps to failure", attempt: AttemptTimeout, want: receipts.ReceiptStatusFailure},
		{name: "transport error maps to failure", attempt: AttemptTransportError, want: receipts.ReceiptStatusFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, receiptStatus(tt.attempt))
		})
	}
}
