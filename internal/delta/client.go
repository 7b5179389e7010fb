// Package delta is a thin client for the Delta Exchange REST API. It signs
// requests with HMAC-SHA256 over method+timestamp+path+body and decodes the
// common success/result envelope. Higher-level order semantics live in the
// orders package; this client only speaks the wire protocol.
package delta

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

type Client struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Delta Exchange client. timeout bounds every request;
// a timed-out call fails instead of hanging the tick.
func NewClient(apiKey, secretKey, baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetCandles fetches OHLC history for a symbol, oldest first.
func (c *Client) GetCandles(ctx context.Context, symbol, resolution string, limit int) ([]RawCandle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("resolution", resolution)
	params.Set("limit", strconv.Itoa(limit))

	var candles []RawCandle
	if err := c.public(ctx, "/v2/history/candles?"+params.Encode(), &candles); err != nil {
		return nil, fmt.Errorf("error fetching candles: %w", err)
	}
	return candles, nil
}

// GetTicker fetches the ticker for a product, including the mark price.
func (c *Client) GetTicker(ctx context.Context, productID int) (*Ticker, error) {
	var ticker Ticker
	if err := c.public(ctx, fmt.Sprintf("/v2/tickers/%d", productID), &ticker); err != nil {
		return nil, fmt.Errorf("error fetching ticker: %w", err)
	}
	return &ticker, nil
}

// GetWalletBalance returns the available balance for an asset.
func (c *Client) GetWalletBalance(ctx context.Context, assetID int) (float64, error) {
	var balances []WalletBalance
	if err := c.signed(ctx, http.MethodGet, "/v2/wallet/balances", nil, &balances); err != nil {
		return 0, fmt.Errorf("error fetching wallet balances: %w", err)
	}
	for _, bal := range balances {
		if bal.AssetID == assetID {
			return float64(bal.AvailableBalance), nil
		}
	}
	return 0, fmt.Errorf("asset %d not found in wallet", assetID)
}

// GetPosition returns the open position for a product, or nil when flat.
// Delta returns a single object for a product-scoped query.
func (c *Client) GetPosition(ctx context.Context, productID int) (*Position, error) {
	path := fmt.Sprintf("/v2/positions?product_id=%d", productID)

	var pos Position
	if err := c.signed(ctx, http.MethodGet, path, nil, &pos); err != nil {
		return nil, fmt.Errorf("error fetching position: %w", err)
	}
	if pos.Size == 0 {
		return nil, nil
	}
	return &pos, nil
}

// PlaceOrder submits an order and returns the exchange's view of it.
func (c *Client) PlaceOrder(ctx context.Context, req *OrderRequest) (*Order, error) {
	var order Order
	if err := c.signed(ctx, http.MethodPost, "/v2/orders", req, &order); err != nil {
		return nil, fmt.Errorf("error placing order: %w", err)
	}
	return &order, nil
}

// CancelOrder cancels a single order by id.
func (c *Client) CancelOrder(ctx context.Context, orderID int64) error {
	path := fmt.Sprintf("/v2/orders/%d/cancel", orderID)
	if err := c.signed(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("error cancelling order %d: %w", orderID, err)
	}
	return nil
}

// GetLiveOrders returns all resting orders on the account.
func (c *Client) GetLiveOrders(ctx context.Context) ([]Order, error) {
	var orders []Order
	if err := c.signed(ctx, http.MethodGet, "/v2/orders", nil, &orders); err != nil {
		return nil, fmt.Errorf("error fetching live orders: %w", err)
	}
	return orders, nil
}

// public performs an unauthenticated GET and decodes the result envelope.
func (c *Client) public(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, result)
}

// signed performs an authenticated request. The signature covers
// method + timestamp + path (with query) + body, timestamp in unix seconds.
func (c *Client) signed(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error encoding request body: %w", err)
		}
	}

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	message := method + timestamp + path + string(payload)

	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(message))
	signature := hex.EncodeToString(mac.Sum(nil))

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("api-key", c.apiKey)
	req.Header.Set("timestamp", timestamp)
	req.Header.Set("signature", signature)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response: %w", err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("malformed response (HTTP %d): %w", resp.StatusCode, err)
	}

	if !envelope.Success || resp.StatusCode >= 400 {
		if envelope.Error != nil {
			envelope.Error.HTTPStatus = resp.StatusCode
			return envelope.Error
		}
		return &APIError{Code: "unknown_error", HTTPStatus: resp.StatusCode}
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return fmt.Errorf("error parsing result: %w", err)
	}
	return nil
}
