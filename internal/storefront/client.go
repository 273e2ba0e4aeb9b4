// Package storefront reads orders, refunds and customers back from the shop's
// REST API when a job carries only a reference.
package storefront

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/imrishuroy/go-commerce-erpsync/internal/errorx"
)

const apiPrefix = "/wp-json/wc/v3"

// ErrNotFound is returned when the shop reports no such object.
var ErrNotFound = errors.New("storefront object not found")

// Config configures Client.
type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Timeout        time.Duration
	RateLimit      float64
}

// Client is a read-only shop API client. Every call is safe to repeat.
type Client struct {
	base    string
	key     string
	secret  string
	http    *http.Client
	limiter *rate.Limiter
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		key:    cfg.ConsumerKey,
		secret: cfg.ConsumerSecret,
		http:   &http.Client{Timeout: timeout},
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return c
}

// FetchOrder returns the raw order JSON.
func (c *Client) FetchOrder(ctx context.Context, id int64) (json.RawMessage, error) {
	return c.getObject(ctx, "/orders/"+strconv.FormatInt(id, 10))
}

// FetchCustomer returns the raw customer JSON.
func (c *Client) FetchCustomer(ctx context.Context, id int64) (json.RawMessage, error) {
	return c.getObject(ctx, "/customers/"+strconv.FormatInt(id, 10))
}

// FetchOrderRefunds returns every refund of an order, oldest first as the shop lists them.
func (c *Client) FetchOrderRefunds(ctx context.Context, orderID int64) ([]json.RawMessage, error) {
	raw, err := c.get(ctx, "/orders/"+strconv.FormatInt(orderID, 10)+"/refunds?per_page=100")
	if err != nil {
		return nil, err
	}
	var out []json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errorx.NonRetriable(502, "decode refunds", err)
	}
	return out, nil
}

func (c *Client) getObject(ctx context.Context, path string) (json.RawMessage, error) {
	raw, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	if !json.Valid(raw) {
		return nil, errorx.NonRetriable(502, "storefront returned invalid JSON", nil)
	}
	return raw, nil
}

func (c *Client) get(ctx context.Context, path string) (json.RawMessage, error) {
	if c.base == "" {
		return nil, errorx.NonRetriable(0, "storefront base url not configured", nil)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errorx.Retriable(0, "rate limiter wait", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+apiPrefix+path, nil)
	if err != nil {
		return nil, errorx.NonRetriable(0, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.key != "" {
		req.SetBasicAuth(c.key, c.secret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errorx.Retriable(0, "storefront GET "+path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, errorx.Retriable(resp.StatusCode, "read storefront response", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, errorx.NonRetriable(resp.StatusCode, "storefront GET "+path, ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, errorx.Retriable(resp.StatusCode, fmt.Sprintf("storefront GET %s: status %d", path, resp.StatusCode), nil)
	default:
		return nil, errorx.NonRetriable(resp.StatusCode, fmt.Sprintf("storefront GET %s: status %d", path, resp.StatusCode), nil)
	}
}
