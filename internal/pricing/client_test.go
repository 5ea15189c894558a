package pricing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

const weth = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"

func TestTokenPriceUSD(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "token123" {
			t.Errorf("Expected auth header, got %q", r.Header.Get("Authorization"))
		}
		var payload struct {
			Query string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("Decode query: %v", err)
		}
		if !strings.Contains(payload.Query, weth) {
			t.Errorf("Expected token address in query, got %q", payload.Query)
		}

		w.Write([]byte(`{"data":{"filterTokens":{"results":[{"priceUSD":2543.17,"token":{"address":"` + weth + `"}}]}}}`))
	}))
	defer srv.Close()

	client := NewGraphClient(srv.URL, "token123")
	price, err := client.TokenPriceUSD(context.Background(), weth)
	if err != nil {
		t.Fatalf("TokenPriceUSD failed: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("2543.17")) {
		t.Errorf("Expected 2543.17, got %s", price)
	}
}

func TestTokenPriceUSD_StringPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"filterTokens":{"results":[{"priceUSD":"1999.5"}]}}}`))
	}))
	defer srv.Close()

	client := NewGraphClient(srv.URL, "")
	price, err := client.TokenPriceUSD(context.Background(), weth)
	if err != nil {
		t.Fatalf("TokenPriceUSD failed: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("1999.5")) {
		t.Errorf("Expected 1999.5, got %s", price)
	}
}

func TestTokenPriceUSD_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"filterTokens":{"results":[]}}}`))
	}))
	defer srv.Close()

	client := NewGraphClient(srv.URL, "")
	price, err := client.TokenPriceUSD(context.Background(), weth)
	if err == nil {
		t.Fatal("Expected error for empty results")
	}
	if !price.IsZero() {
		t.Errorf("Expected zero price on failure, got %s", price)
	}
}

func TestTokenPriceUSD_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewGraphClient(srv.URL, "")
	price, err := client.TokenPriceUSD(context.Background(), weth)
	if err == nil {
		t.Fatal("Expected error for non-200 status")
	}
	if !price.IsZero() {
		t.Errorf("Expected zero price on failure, got %s", price)
	}
}

func TestTokenPriceUSD_Unreachable(t *testing.T) {
	client := NewGraphClient("http://127.0.0.1:1", "")
	price, err := client.TokenPriceUSD(context.Background(), weth)
	if err == nil {
		t.Fatal("Expected error for unreachable endpoint")
	}
	if !price.IsZero() {
		t.Errorf("Expected zero price on failure, got %s", price)
	}
}
