package delta

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGetCandles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("symbol") != "BTCUSD" || q.Get("resolution") != "5m" || q.Get("limit") != "100" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		fmt.Fprint(w, `{"success":true,"result":[
			{"time":1748736000,"open":104000,"high":104500,"low":103800,"close":104200,"volume":12.5},
			{"time":1748736300,"open":104200,"high":104800,"low":104100,"close":104700,"volume":9.1}
		]}`)
	}))
	defer server.Close()

	c := NewClient("key", "secret", server.URL, time.Second)
	candles, err := c.GetCandles(context.Background(), "BTCUSD", "5m", 100)
	if err != nil {
		t.Fatalf("GetCandles failed: %v", err)
	}
	if len(candles) != 2 || candles[1].Close != 104700 {
		t.Fatalf("bad candles: %+v", candles)
	}
}

func TestSignedRequestHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("api-key")
		timestamp := r.Header.Get("timestamp")
		signature := r.Header.Get("signature")
		if apiKey != "key" || timestamp == "" || signature == "" {
			t.Errorf("missing auth headers: key=%q ts=%q sig=%q", apiKey, timestamp, signature)
		}

		body, _ := io.ReadAll(r.Body)
		path := r.URL.Path
		if r.URL.RawQuery != "" {
			path += "?" + r.URL.RawQuery
		}
		mac := hmac.New(sha256.New, []byte("secret"))
		mac.Write([]byte(r.Method + timestamp + path + string(body)))
		want := hex.EncodeToString(mac.Sum(nil))
		if signature != want {
			t.Errorf("signature mismatch: got %s, want %s", signature, want)
		}

		fmt.Fprint(w, `{"success":true,"result":{"product_id":27,"size":"10","entry_price":"104000"}}`)
	}))
	defer server.Close()

	c := NewClient("key", "secret", server.URL, time.Second)
	pos, err := c.GetPosition(context.Background(), 27)
	if err != nil {
		t.Fatalf("GetPosition failed: %v", err)
	}
	if pos == nil || pos.Size != 10 {
		t.Fatalf("bad position: %+v", pos)
	}
}

func TestGetPositionFlat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true,"result":{"product_id":27,"size":0}}`)
	}))
	defer server.Close()

	c := NewClient("key", "secret", server.URL, time.Second)
	pos, err := c.GetPosition(context.Background(), 27)
	if err != nil {
		t.Fatalf("GetPosition failed: %v", err)
	}
	if pos != nil {
		t.Fatalf("flat position should be nil, got %+v", pos)
	}
}

func TestAPIErrorMapping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"success":false,"error":{"code":"insufficient_margin"}}`)
	}))
	defer server.Close()

	c := NewClient("key", "secret", server.URL, time.Second)
	_, err := c.PlaceOrder(context.Background(), &OrderRequest{
		ProductID: 27, Side: "buy", OrderType: "market_order", Size: 10,
	})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != CodeInsufficientMargin || apiErr.HTTPStatus != http.StatusBadRequest {
		t.Errorf("bad APIError: %+v", apiErr)
	}
}

func TestWalletBalanceLookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true,"result":[
			{"asset_id":1,"available_balance":"0.5"},
			{"asset_id":3,"available_balance":"1250.75"}
		]}`)
	}))
	defer server.Close()

	c := NewClient("key", "secret", server.URL, time.Second)
	bal, err := c.GetWalletBalance(context.Background(), 3)
	if err != nil {
		t.Fatalf("GetWalletBalance failed: %v", err)
	}
	if bal != 1250.75 {
		t.Errorf("balance = %v, want 1250.75", bal)
	}

	if _, err := c.GetWalletBalance(context.Background(), 99); err == nil {
		t.Error("unknown asset should error")
	}
}

func TestPriceUnmarshal(t *testing.T) {
	cases := []struct {
		in   string
		want Price
	}{
		{`"104000.5"`, 104000.5},
		{`104000.5`, 104000.5},
		{`null`, 0},
		{`""`, 0},
	}
	for _, tc := range cases {
		var p Price
		if err := p.UnmarshalJSON([]byte(tc.in)); err != nil {
			t.Errorf("UnmarshalJSON(%s) failed: %v", tc.in, err)
			continue
		}
		if p != tc.want {
			t.Errorf("UnmarshalJSON(%s) = %v, want %v", tc.in, p, tc.want)
		}
	}

	var p Price
	if err := p.UnmarshalJSON([]byte(`"not a number"`)); err == nil {
		t.Error("garbage price should fail")
	}
}
