// Package ledger is a thin JSON-RPC client for the ledger nodes. The signing
// core only ever reads from it: sequential nonce lookups and balance queries.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/holiman/uint256"
)

// Client is the read-only surface the signing core consumes.
type Client interface {
	GetTransactionNonce(ctx context.Context, signer, contract string) (uint64, error)
	GetBalance(ctx context.Context, address, token string) (*uint256.Int, error)
}

// RPCClient implements Client against a ledger node's JSON-RPC endpoint.
type RPCClient struct {
	baseURL   string
	authToken string
	http      *http.Client
	nextID    atomic.Int64
}

func NewRPCClient(baseURL, authToken string) *RPCClient {
	return &RPCClient{
		baseURL:   baseURL,
		authToken: authToken,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int64       `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      int64            `json:"id"`
	Result  json.RawMessage  `json:"result"`
	Error   *jsonRPCErrorObj `json:"error"`
}

type jsonRPCErrorObj struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type nonceResult struct {
	Nonce *uint64 `json:"nonce"`
}

// GetTransactionNonce returns the signer's next sequential nonce for the
// given ledger contract. A response without a nonce field is an error: the
// caller must never sign with a defaulted nonce.
func (c *RPCClient) GetTransactionNonce(ctx context.Context, signer, contract string) (uint64, error) {
	params := map[string]string{"address": signer, "contract": contract}
	var result nonceResult
	if err := c.call(ctx, "ledger_getTransactionNonce", []interface{}{params}, &result); err != nil {
		return 0, err
	}
	if result.Nonce == nil {
		return 0, errors.New("node returned no nonce")
	}
	return *result.Nonce, nil
}

type balanceResult struct {
	Balance string `json:"balance"`
}

// GetBalance returns the token balance for an address in base units.
func (c *RPCClient) GetBalance(ctx context.Context, address, token string) (*uint256.Int, error) {
	params := map[string]string{"address": address, "token": token}
	var result balanceResult
	if err := c.call(ctx, "ledger_getBalance", []interface{}{params}, &result); err != nil {
		return nil, err
	}
	balance, err := uint256.FromHex(strings.TrimSpace(result.Balance))
	if err != nil {
		return nil, fmt.Errorf("parse balance %q: %w", result.Balance, err)
	}
	return balance, nil
}

func (c *RPCClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	id := c.nextID.Add(1)
	bodyStruct := jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	}
	buf, err := json.Marshal(bodyStruct)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.authToken) != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ledger rpc %s failed: status=%d body=%s", method, resp.StatusCode, string(body))
	}
	var rpcResp jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return err
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("ledger rpc error: %s", rpcResp.Error.Message)
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return errors.New("ledger rpc returned empty result")
	}
	return json.Unmarshal(rpcResp.Result, out)
}
