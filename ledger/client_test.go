package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func rpcServer(t *testing.T, handler func(method string, params []json.RawMessage) (interface{}, *jsonRPCErrorObj)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
			ID     int64             `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		result, rpcErr := handler(req.Method, req.Params)
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestGetTransactionNonce(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req struct {
			Method string              `json:"method"`
			Params []map[string]string `json:"params"`
			ID     int64               `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if req.Method != "ledger_getTransactionNonce" {
			t.Errorf("unexpected method %q", req.Method)
		}
		if len(req.Params) != 1 || req.Params[0]["address"] == "" {
			t.Errorf("missing address param: %v", req.Params)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  map[string]uint64{"nonce": 17},
		})
	}))
	defer srv.Close()

	client := NewRPCClient(srv.URL, "token-123")
	nonce, err := client.GetTransactionNonce(context.Background(), "0xabc", "0xcontract")
	if err != nil {
		t.Fatalf("get nonce: %v", err)
	}
	if nonce != 17 {
		t.Fatalf("nonce = %d, want 17", nonce)
	}
	if gotAuth != "Bearer token-123" {
		t.Fatalf("auth header = %q", gotAuth)
	}
}

func TestGetTransactionNonceRejectsMissingField(t *testing.T) {
	srv := rpcServer(t, func(method string, params []json.RawMessage) (interface{}, *jsonRPCErrorObj) {
		return map[string]string{}, nil
	})
	defer srv.Close()

	client := NewRPCClient(srv.URL, "")
	if _, err := client.GetTransactionNonce(context.Background(), "0xabc", ""); err == nil {
		t.Fatal("a response without a nonce field must fail")
	}
}

func TestGetBalance(t *testing.T) {
	srv := rpcServer(t, func(method string, params []json.RawMessage) (interface{}, *jsonRPCErrorObj) {
		if method != "ledger_getBalance" {
			t.Errorf("unexpected method %q", method)
		}
		return map[string]string{"balance": "0xde0b6b3a7640000"}, nil
	})
	defer srv.Close()

	client := NewRPCClient(srv.URL, "")
	balance, err := client.GetBalance(context.Background(), "0xabc", "0xtoken")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance.String() != "1000000000000000000" {
		t.Fatalf("balance = %s", balance)
	}
}

func TestCallSurfacesRPCError(t *testing.T) {
	srv := rpcServer(t, func(method string, params []json.RawMessage) (interface{}, *jsonRPCErrorObj) {
		return nil, &jsonRPCErrorObj{Code: -32000, Message: "address unknown"}
	})
	defer srv.Close()

	client := NewRPCClient(srv.URL, "")
	_, err := client.GetTransactionNonce(context.Background(), "0xabc", "")
	if err == nil || !strings.Contains(err.Error(), "address unknown") {
		t.Fatalf("expected rpc error, got %v", err)
	}
}

func TestCallSurfacesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewRPCClient(srv.URL, "")
	_, err := client.GetTransactionNonce(context.Background(), "0xabc", "")
	if err == nil || !strings.Contains(err.Error(), "status=503") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestRouterDispatch(t *testing.T) {
	srv := rpcServer(t, func(method string, params []json.RawMessage) (interface{}, *jsonRPCErrorObj) {
		return map[string]uint64{"nonce": 3}, nil
	})
	defer srv.Close()

	router := NewRouter()
	router.Register("mainnet", NewRPCClient(srv.URL, ""))

	nonce, err := router.NextNonce(context.Background(), "mainnet", "0xabc", "0xcontract")
	if err != nil {
		t.Fatalf("next nonce: %v", err)
	}
	if nonce != 3 {
		t.Fatalf("nonce = %d, want 3", nonce)
	}

	if _, err := router.NextNonce(context.Background(), "testnet", "0xabc", ""); err == nil {
		t.Fatal("unregistered network must fail")
	}
}
