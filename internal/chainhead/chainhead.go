// Package chainhead tracks the head block of every configured chain, feeding
// the Selection Engine's blocks_behind computation and the readiness check.
package chainhead

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/graphops/query-gateway/internal/ethereum"
)

// headTimeout bounds a single head-block probe.
const headTimeout = 5 * time.Second

// Client resolves a chain's current head block number.
type Client interface {
	HeadBlock(ctx context.Context) (uint64, error)
}

// EthereumClient resolves the head block via JSON-RPC eth_blockNumber.
type EthereumClient struct {
	url  string
	auth string
	http *http.Client
}

// NewEthereumClient builds an EthereumClient. auth, when non-empty, is sent
// as a bearer token; it is held here only and never rendered in diagnostics.
func NewEthereumClient(url, auth string, httpClient *http.Client) *EthereumClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &EthereumClient{url: url, auth: auth, http: httpClient}
}

type jsonrpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type jsonrpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// HeadBlock issues eth_blockNumber and decodes the hex quantity result.
func (c *EthereumClient) HeadBlock(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, headTimeout)
	defer cancel()

	payload, err := json.Marshal(jsonrpcRequest{JSONRPC: "2.0", Method: "eth_blockNumber", Params: []any{}, ID: 1})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.auth != "" {
		req.Header.Set("Authorization", "Bearer "+c.auth)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("eth_blockNumber request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("rpc endpoint returned status %d", resp.StatusCode)
	}

	var parsed jsonrpcResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return 0, fmt.Errorf("failed to decode rpc response: %w", err)
	}
	if parsed.Error != nil {
		return 0, fmt.Errorf("rpc error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}

	var hexNum string
	if err := json.Unmarshal(parsed.Result, &hexNum); err != nil {
		return 0, fmt.Errorf("unexpected eth_blockNumber result: %w", err)
	}
	return ethereum.DecodeUint64(hexNum)
}

// BlockmetaClient resolves the head block from a blockmeta-style HTTP
// endpoint returning the head block as JSON.
type BlockmetaClient struct {
	url  string
	auth string
	http *http.Client
}

// NewBlockmetaClient builds a BlockmetaClient. auth is never rendered in
// diagnostics.
func NewBlockmetaClient(url, auth string, httpClient *http.Client) *BlockmetaClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &BlockmetaClient{url: url, auth: auth, http: httpClient}
}

// HeadBlock fetches the endpoint's head block.
func (c *BlockmetaClient) HeadBlock(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, headTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return 0, err
	}
	if c.auth != "" {
		req.Header.Set("Authorization", "Bearer "+c.auth)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("blockmeta head request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("blockmeta endpoint returned status %d", resp.StatusCode)
	}

	var body struct {
		Num uint64 `json:"num"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode blockmeta head: %w", err)
	}
	return body.Num, nil
}
