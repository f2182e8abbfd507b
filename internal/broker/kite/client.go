// Package kite implements broker.Adapter against a Kite-style equity REST
// API: form-encoded order submissions, an {status, data} response envelope
// and the OPEN / TRIGGER PENDING / COMPLETE / REJECTED / CANCELLED order
// status vocabulary.
package kite

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tradesentry/internal/broker"
	"tradesentry/internal/config"

	"github.com/tidwall/gjson"
)

// Client talks to the brokerage REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	apiKey     string
	token      string
}

const defaultVariety = "regular"

// NewClient constructs a broker client from configuration.
func NewClient(cfg config.BrokerConfig) (*Client, error) {
	raw := strings.TrimSpace(cfg.APIURL)
	if raw == "" {
		return nil, fmt.Errorf("broker.api_url cannot be empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing broker.api_url failed: %w", err)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402
		} else {
			transport.TLSClientConfig.InsecureSkipVerify = true // #nosec G402
		}
	}
	return &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		apiKey:     strings.TrimSpace(cfg.APIKey),
		token:      strings.TrimSpace(cfg.AccessToken),
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func (c *Client) Name() string { return "kite" }

// PlaceOrder submits an order. Venue rejections come back inside the
// response envelope and are reported via PlaceResult, not the error return.
func (c *Client) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.PlaceResult, error) {
	form := url.Values{}
	form.Set("tradingsymbol", req.Symbol)
	form.Set("exchange", req.Exchange)
	form.Set("transaction_type", string(req.Side))
	form.Set("quantity", strconv.Itoa(req.Quantity))
	form.Set("order_type", string(req.OrderType))
	form.Set("product", req.Product)
	form.Set("tag", req.ClientOrderID)
	if req.OrderType == broker.OrderTypeLimit || req.OrderType == broker.OrderTypeStopLimit {
		form.Set("price", formatPrice(req.Price))
	}
	if req.OrderType == broker.OrderTypeStopLimit {
		form.Set("trigger_price", formatPrice(req.TriggerPrice))
	}
	res, err := c.doRequest(ctx, http.MethodPost, "/orders/"+defaultVariety, form)
	if err != nil {
		return broker.PlaceResult{}, err
	}
	if !envelopeOK(res) {
		return broker.PlaceResult{OK: false, Reason: envelopeMessage(res)}, nil
	}
	orderID := res.Get("data.order_id").String()
	if orderID == "" {
		return broker.PlaceResult{OK: false, Reason: "broker returned no order_id"}, nil
	}
	return broker.PlaceResult{OrderID: orderID, OK: true}, nil
}

// GetOrderStatus returns the latest observation of an order. The broker's
// order endpoint returns the full update trail; the last entry is current.
func (c *Client) GetOrderStatus(ctx context.Context, brokerOrderID string) (broker.OrderSnapshot, error) {
	trail, err := c.GetOrderHistory(ctx, brokerOrderID)
	if err != nil {
		return broker.OrderSnapshot{}, err
	}
	if len(trail) == 0 {
		return broker.OrderSnapshot{}, fmt.Errorf("order %s not found at broker", brokerOrderID)
	}
	return trail[len(trail)-1], nil
}

// GetOrderHistory returns every recorded update for an order, oldest first.
func (c *Client) GetOrderHistory(ctx context.Context, brokerOrderID string) ([]broker.OrderSnapshot, error) {
	if strings.TrimSpace(brokerOrderID) == "" {
		return nil, fmt.Errorf("broker order id is required")
	}
	res, err := c.doRequest(ctx, http.MethodGet, "/orders/"+url.PathEscape(brokerOrderID), nil)
	if err != nil {
		return nil, err
	}
	if !envelopeOK(res) {
		return nil, fmt.Errorf("order lookup failed: %s", envelopeMessage(res))
	}
	var trail []broker.OrderSnapshot
	res.Get("data").ForEach(func(_, entry gjson.Result) bool {
		trail = append(trail, snapshotFromJSON(entry))
		return true
	})
	return trail, nil
}

func (c *Client) CancelOrder(ctx context.Context, brokerOrderID string) error {
	if strings.TrimSpace(brokerOrderID) == "" {
		return fmt.Errorf("broker order id is required")
	}
	path := "/orders/" + defaultVariety + "/" + url.PathEscape(brokerOrderID)
	res, err := c.doRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	if !envelopeOK(res) {
		return fmt.Errorf("cancel rejected: %s", envelopeMessage(res))
	}
	return nil
}

func (c *Client) GetOpenOrders(ctx context.Context) ([]broker.OpenOrder, error) {
	res, err := c.doRequest(ctx, http.MethodGet, "/orders", nil)
	if err != nil {
		return nil, err
	}
	if !envelopeOK(res) {
		return nil, fmt.Errorf("orders lookup failed: %s", envelopeMessage(res))
	}
	var open []broker.OpenOrder
	res.Get("data").ForEach(func(_, entry gjson.Result) bool {
		status := mapStatus(entry.Get("status").String())
		if status.Terminal() {
			return true
		}
		open = append(open, broker.OpenOrder{
			OrderID: entry.Get("order_id").String(),
			Status:  status,
			Symbol:  entry.Get("tradingsymbol").String(),
			Side:    broker.Side(entry.Get("transaction_type").String()),
			Qty:     int(entry.Get("quantity").Int()),
		})
		return true
	})
	return open, nil
}

func (c *Client) GetPositions(ctx context.Context) ([]broker.Position, error) {
	res, err := c.doRequest(ctx, http.MethodGet, "/portfolio/positions", nil)
	if err != nil {
		return nil, err
	}
	if !envelopeOK(res) {
		return nil, fmt.Errorf("positions lookup failed: %s", envelopeMessage(res))
	}
	var positions []broker.Position
	res.Get("data.net").ForEach(func(_, entry gjson.Result) bool {
		positions = append(positions, broker.Position{
			Symbol:       entry.Get("tradingsymbol").String(),
			Exchange:     entry.Get("exchange").String(),
			Quantity:     int(entry.Get("quantity").Int()),
			AveragePrice: entry.Get("average_price").Float(),
			LastPrice:    entry.Get("last_price").Float(),
			PnL:          entry.Get("pnl").Float(),
		})
		return true
	})
	return positions, nil
}

func (c *Client) GetQuote(ctx context.Context, symbol, exchange string) (broker.Quote, error) {
	key := exchange + ":" + symbol
	path := "/quote/ohlc?i=" + url.QueryEscape(key)
	res, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return broker.Quote{}, err
	}
	if !envelopeOK(res) {
		return broker.Quote{}, fmt.Errorf("quote lookup failed: %s", envelopeMessage(res))
	}
	entry := res.Get("data").Get(escapeGJSONKey(key))
	if !entry.Exists() {
		return broker.Quote{}, fmt.Errorf("no quote returned for %s", key)
	}
	return broker.Quote{
		Last: entry.Get("last_price").Float(),
		Open: entry.Get("ohlc.open").Float(),
		High: entry.Get("ohlc.high").Float(),
		Low:  entry.Get("ohlc.low").Float(),
	}, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, form url.Values) (gjson.Result, error) {
	if c == nil || c.httpClient == nil {
		return gjson.Result{}, fmt.Errorf("broker client not initialized")
	}
	endpoint, err := c.resolveEndpoint(path)
	if err != nil {
		return gjson.Result{}, err
	}
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return gjson.Result{}, err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("X-Kite-Version", "3")
	req.Header.Set("Authorization", "token "+c.apiKey+":"+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("broker request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("reading broker response failed: %w", err)
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("broker returned invalid JSON (http %d)", resp.StatusCode)
	}
	res := gjson.ParseBytes(raw)
	if resp.StatusCode >= 500 {
		return gjson.Result{}, fmt.Errorf("broker http %d: %s", resp.StatusCode, envelopeMessage(res))
	}
	return res, nil
}

func (c *Client) resolveEndpoint(path string) (string, error) {
	if c.baseURL == nil {
		return "", fmt.Errorf("broker base url not configured")
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	return c.baseURL.ResolveReference(ref).String(), nil
}

func envelopeOK(res gjson.Result) bool {
	return strings.EqualFold(res.Get("status").String(), "success")
}

func envelopeMessage(res gjson.Result) string {
	if msg := res.Get("message").String(); msg != "" {
		return msg
	}
	if msg := res.Get("error_type").String(); msg != "" {
		return msg
	}
	return "unknown broker error"
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', 2, 64)
}

// escapeGJSONKey escapes the dots a "NSE:SYMBOL" quote key may carry so it
// is treated as a literal map key.
func escapeGJSONKey(key string) string {
	return strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`).Replace(key)
}
