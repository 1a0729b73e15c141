package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// RESTClient issues requests against the exchange REST API. It holds no
// credentials: signed calls take them per invocation, so one client serves
// every user of a process.
type RESTClient struct {
	spotBaseURL    string
	futuresBaseURL string
	recvWindow     time.Duration
	httpClient     *http.Client
}

func NewRESTClient(spotBaseURL, futuresBaseURL string, timeout, recvWindow time.Duration) *RESTClient {
	return &RESTClient{
		spotBaseURL:    strings.TrimRight(spotBaseURL, "/"),
		futuresBaseURL: strings.TrimRight(futuresBaseURL, "/"),
		recvWindow:     recvWindow,
		httpClient:     &http.Client{Timeout: timeout},
	}
}

func (c *RESTClient) HTTPClient() *http.Client {
	return c.httpClient
}

func (c *RESTClient) baseFor(path string) string {
	if strings.HasPrefix(path, "/fapi") {
		return c.futuresBaseURL
	}
	return c.spotBaseURL
}

// do executes one request and returns the raw body. Any non-2xx status comes
// back as a *StatusError carrying the upstream message and Retry-After hint.
func (c *RESTClient) do(ctx context.Context, method, path, query, apiKey string) ([]byte, error) {
	endpoint := c.baseFor(path) + path
	if query != "" {
		endpoint += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if apiKey != "" {
		req.Header.Set(headerAPIKey, apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classifyStatus(resp, body)
	}

	return body, nil
}

func classifyStatus(resp *http.Response, body []byte) *StatusError {
	se := &StatusError{Status: resp.StatusCode}

	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		se.Message = apiErr.Message
	} else {
		se.Message = strings.TrimSpace(string(body))
	}

	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			se.RetryAfter = time.Duration(secs) * time.Second
		}
	}

	return se
}

// signed executes one signed call for the given credentials.
func (c *RESTClient) signed(ctx context.Context, method, path string, cred Credentials, params url.Values) ([]byte, error) {
	query := signQuery(cred.APISecret, params, time.Now(), c.recvWindow)
	return c.do(ctx, method, path, query, cred.APIKey)
}

// AccountInfo fetches the spot account snapshot.
func (c *RESTClient) AccountInfo(ctx context.Context, cred Credentials) (*AccountInfo, error) {
	body, err := c.signed(ctx, http.MethodGet, pathAccount, cred, nil)
	if err != nil {
		return nil, err
	}

	var info AccountInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode account info: %w", err)
	}
	return &info, nil
}

// Positions fetches all open futures positions.
func (c *RESTClient) Positions(ctx context.Context, cred Credentials) ([]Position, error) {
	body, err := c.signed(ctx, http.MethodGet, pathPositionRisk, cred, nil)
	if err != nil {
		return nil, err
	}

	var positions []Position
	if err := json.Unmarshal(body, &positions); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	return positions, nil
}

// CreateOrder places an order built from the given parameter set.
func (c *RESTClient) CreateOrder(ctx context.Context, cred Credentials, params url.Values) (*Order, error) {
	body, err := c.signed(ctx, http.MethodPost, pathOrder, cred, params)
	if err != nil {
		return nil, err
	}

	var order Order
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return &order, nil
}

// CancelOrder cancels an open order by exchange order id.
func (c *RESTClient) CancelOrder(ctx context.Context, cred Credentials, symbol string, orderID int64) (*Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	body, err := c.signed(ctx, http.MethodDelete, pathOrder, cred, params)
	if err != nil {
		return nil, err
	}

	var order Order
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("decode cancel response: %w", err)
	}
	return &order, nil
}

// OpenOrders lists open orders, optionally restricted to one symbol.
func (c *RESTClient) OpenOrders(ctx context.Context, cred Credentials, symbol string) ([]Order, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	body, err := c.signed(ctx, http.MethodGet, pathOpenOrders, cred, params)
	if err != nil {
		return nil, err
	}

	var orders []Order
	if err := json.Unmarshal(body, &orders); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}
	return orders, nil
}

// UserTrades fetches fills between start and end. The exchange caps the span
// of one request at seven days; callers walk wider ranges window by window.
// An empty symbol means all symbols.
func (c *RESTClient) UserTrades(ctx context.Context, cred Credentials, symbol string, start, end time.Time) ([]Trade, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	params.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	params.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	params.Set("limit", "1000")

	body, err := c.signed(ctx, http.MethodGet, pathMyTrades, cred, params)
	if err != nil {
		return nil, err
	}

	var trades []Trade
	if err := json.Unmarshal(body, &trades); err != nil {
		return nil, fmt.Errorf("decode trades: %w", err)
	}
	return trades, nil
}

// Ticker24h fetches the full 24h ticker table for one market segment.
// Public endpoint, no signing.
func (c *RESTClient) Ticker24h(ctx context.Context, segment Segment) ([]TickerPrice, error) {
	path := pathTickerSpot
	if segment == SegmentFutures {
		path = pathTickerFutures
	}

	body, err := c.do(ctx, http.MethodGet, path, "", "")
	if err != nil {
		return nil, err
	}

	var tickers []TickerPrice
	if err := json.Unmarshal(body, &tickers); err != nil {
		return nil, fmt.Errorf("decode tickers: %w", err)
	}
	return tickers, nil
}

// ExchangeInfo fetches the exchange trading metadata.
func (c *RESTClient) ExchangeInfo(ctx context.Context) (*ExchangeInfo, error) {
	body, err := c.do(ctx, http.MethodGet, pathExchangeInfo, "", "")
	if err != nil {
		return nil, err
	}

	var info ExchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode exchange info: %w", err)
	}
	return &info, nil
}
