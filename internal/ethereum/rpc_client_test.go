package ethereum

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func rpcServer(t *testing.T, handler func(method string, params []json.RawMessage) (string, bool)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64            `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Decode request: %v", err)
			return
		}
		result, ok := handler(req.Method, req.Params)
		if !ok {
			result = "null"
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":` + jsonNumber(req.ID) + `,"result":` + result + `}`))
	}))
}

func jsonNumber(n uint64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestTransactionSender(t *testing.T) {
	hash := common.HexToHash("0x00000000000000000000000000000000000000000000000000000000000000aa")
	from := common.HexToAddress("0x1111111111111111111111111111111111111111")

	srv := rpcServer(t, func(method string, params []json.RawMessage) (string, bool) {
		if method != "eth_getTransactionByHash" {
			t.Errorf("Unexpected method %q", method)
		}
		return `{"hash":"` + hash.Hex() + `","from":"` + from.Hex() + `"}`, true
	})
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	got, err := client.TransactionSender(context.Background(), hash)
	if err != nil {
		t.Fatalf("TransactionSender failed: %v", err)
	}
	if got != from {
		t.Errorf("Expected %s, got %s", from.Hex(), got.Hex())
	}
}

func TestTransactionSender_NotFound(t *testing.T) {
	srv := rpcServer(t, func(string, []json.RawMessage) (string, bool) {
		return "", false // null result
	})
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	_, err := client.TransactionSender(context.Background(), common.Hash{})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestBlockTimestamp(t *testing.T) {
	srv := rpcServer(t, func(method string, params []json.RawMessage) (string, bool) {
		if method != "eth_getBlockByNumber" {
			t.Errorf("Unexpected method %q", method)
		}
		var blockArg string
		json.Unmarshal(params[0], &blockArg)
		if blockArg != "0x100" {
			t.Errorf("Unexpected block param %q", blockArg)
		}
		return `{"number":"0x100","timestamp":"0x65b0d2f0"}`, true
	})
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	ts, err := client.BlockTimestamp(context.Background(), 256)
	if err != nil {
		t.Fatalf("BlockTimestamp failed: %v", err)
	}
	want := time.Unix(0x65b0d2f0, 0).UTC()
	if !ts.Equal(want) {
		t.Errorf("Expected %s, got %s", want, ts)
	}
}

func TestCall_RetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"from":"0x1111111111111111111111111111111111111111"}}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, WithMaxRetries(2), WithRetryDelay(time.Millisecond))
	_, err := client.TransactionSender(context.Background(), common.Hash{})
	if err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 attempts, got %d", calls.Load())
	}
}

func TestCall_RPCErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"invalid params"}}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, WithMaxRetries(3), WithRetryDelay(time.Millisecond))
	_, err := client.TransactionSender(context.Background(), common.Hash{})
	if err == nil {
		t.Fatal("Expected RPC error")
	}
	if calls.Load() != 1 {
		t.Errorf("Expected a single attempt for an RPC error, got %d", calls.Load())
	}
}
