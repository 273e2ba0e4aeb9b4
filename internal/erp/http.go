package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/imrishuroy/go-commerce-erpsync/internal/errorx"
)

const (
	methodMakeSalesInvoice = "erpnext.selling.doctype.sales_order.sales_order.make_sales_invoice"
	methodMakeDeliveryNote = "erpnext.accounts.doctype.sales_invoice.sales_invoice.make_delivery_note"
	methodGetPaymentEntry  = "erpnext.accounts.doctype.payment_entry.payment_entry.get_payment_entry"
	methodCancel           = "frappe.client.cancel"
)

// Config configures HTTPClient.
type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64
	Burst     int
}

// HTTPClient implements Client over the ERP's REST resource and method endpoints.
type HTTPClient struct {
	base    string
	auth    string
	http    *http.Client
	limiter *rate.Limiter
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(cfg Config) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &HTTPClient{
		base: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
	if cfg.APIKey != "" {
		c.auth = "token " + cfg.APIKey + ":" + cfg.APISecret
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c
}

func resourcePath(doctype string, name ...string) string {
	p := "/api/resource/" + url.PathEscape(doctype)
	for _, n := range name {
		p += "/" + url.PathEscape(n)
	}
	return p
}

func (c *HTTPClient) FindOne(ctx context.Context, doctype string, filters []Filter, fields ...string) (Doc, bool, error) {
	if len(fields) == 0 {
		fields = []string{"name"}
	}
	fb, err := json.Marshal(filters)
	if err != nil {
		return nil, false, errorx.NonRetriable(400, "encode filters", err)
	}
	flds, _ := json.Marshal(fields)
	q := url.Values{}
	q.Set("filters", string(fb))
	q.Set("fields", string(flds))
	q.Set("limit_page_length", "1")

	var out struct {
		Data []Doc `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, resourcePath(doctype)+"?"+q.Encode(), nil, &out); err != nil {
		return nil, false, err
	}
	if len(out.Data) == 0 {
		return nil, false, nil
	}
	return out.Data[0], true, nil
}

func (c *HTTPClient) Get(ctx context.Context, doctype, name string) (Doc, error) {
	var out struct {
		Data Doc `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, resourcePath(doctype, name), nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *HTTPClient) Insert(ctx context.Context, doc Doc) (Doc, error) {
	doctype := doc.Doctype()
	if doctype == "" {
		return nil, errorx.NonRetriable(400, "insert without doctype", nil)
	}
	var out struct {
		Data Doc `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, resourcePath(doctype), doc, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *HTTPClient) SetValue(ctx context.Context, doctype, name, field string, value interface{}) error {
	return c.do(ctx, http.MethodPut, resourcePath(doctype, name), map[string]interface{}{field: value}, nil)
}

func (c *HTTPClient) Submit(ctx context.Context, doctype, name string) (Doc, error) {
	var out struct {
		Data Doc `json:"data"`
	}
	body := map[string]interface{}{"docstatus": DocStatusSubmitted}
	if err := c.do(ctx, http.MethodPut, resourcePath(doctype, name), body, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *HTTPClient) Cancel(ctx context.Context, doctype, name string) error {
	doc, err := c.Get(ctx, doctype, name)
	if err != nil {
		return err
	}
	switch doc.DocStatus() {
	case DocStatusCancelled, DocStatusDraft:
		return nil
	}

	err = c.do(ctx, http.MethodPost, "/api/method/"+methodCancel, map[string]string{"doctype": doctype, "name": name}, nil)
	if err == nil {
		return nil
	}
	// a concurrent cancel may have won; the end state is what matters
	if again, gerr := c.Get(ctx, doctype, name); gerr == nil && again.DocStatus() == DocStatusCancelled {
		return nil
	}
	return err
}

func (c *HTTPClient) callMethod(ctx context.Context, method string, args interface{}) (Doc, error) {
	var out struct {
		Message Doc `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/method/"+method, args, &out); err != nil {
		return nil, err
	}
	if out.Message == nil {
		return nil, errorx.NonRetriable(502, method+" returned no document", nil)
	}
	return out.Message, nil
}

func (c *HTTPClient) MakeSalesInvoice(ctx context.Context, salesOrder string) (Doc, error) {
	return c.callMethod(ctx, methodMakeSalesInvoice, map[string]string{"source_name": salesOrder})
}

func (c *HTTPClient) MakeDeliveryNote(ctx context.Context, salesInvoice string) (Doc, error) {
	return c.callMethod(ctx, methodMakeDeliveryNote, map[string]string{"source_name": salesInvoice})
}

func (c *HTTPClient) MakePaymentEntry(ctx context.Context, doctype, name string) (Doc, error) {
	return c.callMethod(ctx, methodGetPaymentEntry, map[string]string{"dt": doctype, "dn": name})
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return errorx.Retriable(0, "rate limiter wait", err)
		}
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errorx.NonRetriable(400, "encode request", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return errorx.NonRetriable(400, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.auth != "" {
		req.Header.Set("Authorization", c.auth)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errorx.Retriable(0, fmt.Sprintf("erp %s %s", method, path), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return errorx.Retriable(resp.StatusCode, "read erp response", err)
	}
	if err := classify(resp.StatusCode, raw); err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return errorx.NonRetriable(resp.StatusCode, "decode erp response", err)
	}
	return nil
}

// classify maps a status code to nil or a classified error.
func classify(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return errorx.NonRetriable(status, "erp", ErrNotFound)
	case status == http.StatusTooManyRequests || status >= 500:
		return errorx.Retriable(status, "erp request failed: "+errorMessage(body), nil)
	default:
		return errorx.NonRetriable(status, "erp request rejected: "+errorMessage(body), nil)
	}
}

// errorMessage pulls a human readable reason out of an error response.
func errorMessage(body []byte) string {
	var e struct {
		Exception      string `json:"exception"`
		Message        string `json:"message"`
		ServerMessages string `json:"_server_messages"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		switch {
		case e.Exception != "":
			return e.Exception
		case e.Message != "":
			return e.Message
		case e.ServerMessages != "":
			return e.ServerMessages
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	if s == "" {
		return "empty response"
	}
	return s
}

// IsNotFound reports whether err means the document does not exist.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
