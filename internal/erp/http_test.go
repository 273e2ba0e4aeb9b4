package erp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-commerce-erpsync/internal/errorx"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPClient(Config{BaseURL: srv.URL, APIKey: "k", APISecret: "s"})
}

func TestFindOneEncodesFilters(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/resource/Sales Order", r.URL.Path)
		assert.Equal(t, "token k:s", r.Header.Get("Authorization"))
		assert.Equal(t, `[["po_no","=","EXT-1001"],["docstatus","<",2]]`, r.URL.Query().Get("filters"))
		assert.Equal(t, `["name","docstatus"]`, r.URL.Query().Get("fields"))
		_, _ = io.WriteString(w, `{"data":[{"name":"SO-0001","docstatus":0}]}`)
	})

	doc, found, err := c.FindOne(context.Background(), DoctypeSalesOrder,
		[]Filter{Eq("po_no", "EXT-1001"), Lt("docstatus", 2)}, "name", "docstatus")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "SO-0001", doc.Name())
	assert.Equal(t, DocStatusDraft, doc.DocStatus())
}

func TestFindOneEncodesChildFilters(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `[["address_type","=","Billing"],["Dynamic Link","link_name","=","CUST-00001"]]`, r.URL.Query().Get("filters"))
		_, _ = io.WriteString(w, `{"data":[]}`)
	})
	_, found, err := c.FindOne(context.Background(), DoctypeAddress,
		[]Filter{Eq("address_type", "Billing"), ChildEq(DoctypeDynamicLink, "link_name", "CUST-00001")})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFindOneNoMatch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":[]}`)
	})
	_, found, err := c.FindOne(context.Background(), DoctypeCustomer, []Filter{Eq("email_id", "x@y.z")})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInsertAndSubmit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch r.Method {
		case http.MethodPost:
			assert.Equal(t, "/api/resource/Sales Invoice", r.URL.Path)
			assert.Equal(t, "Sales Invoice", body["doctype"])
			_, _ = io.WriteString(w, `{"data":{"name":"SI-0001","docstatus":0,"grand_total":175}}`)
		case http.MethodPut:
			assert.Equal(t, "/api/resource/Sales Invoice/SI-0001", r.URL.Path)
			assert.EqualValues(t, 1, body["docstatus"])
			_, _ = io.WriteString(w, `{"data":{"name":"SI-0001","docstatus":1,"outstanding_amount":"175.0"}}`)
		}
	})
	ctx := context.Background()

	doc, err := c.Insert(ctx, Doc{"doctype": DoctypeSalesInvoice})
	require.NoError(t, err)
	assert.Equal(t, 175.0, doc.Float("grand_total"))

	doc, err = c.Submit(ctx, DoctypeSalesInvoice, "SI-0001")
	require.NoError(t, err)
	assert.Equal(t, DocStatusSubmitted, doc.DocStatus())
	assert.Equal(t, 175.0, doc.Float("outstanding_amount"))
}

func TestInsertWithoutDoctype(t *testing.T) {
	c := NewHTTPClient(Config{BaseURL: "http://127.0.0.1:0"})
	_, err := c.Insert(context.Background(), Doc{"name": "x"})
	require.Error(t, err)
	assert.False(t, errorx.IsRetryable(err))
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
		notFound  bool
	}{
		{http.StatusNotFound, false, true},
		{http.StatusTooManyRequests, true, false},
		{http.StatusBadGateway, true, false},
		{http.StatusForbidden, false, false},
		{http.StatusExpectationFailed, false, false},
	}
	for _, tc := range cases {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = io.WriteString(w, `{"exception":"frappe.exceptions.ValidationError: boom"}`)
		})
		_, err := c.Get(context.Background(), DoctypeSalesOrder, "SO-1")
		require.Error(t, err)
		assert.Equal(t, tc.retryable, errorx.IsRetryable(err), "status %d", tc.status)
		assert.Equal(t, tc.notFound, IsNotFound(err), "status %d", tc.status)
	}
}

func TestTransportErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewHTTPClient(Config{BaseURL: url})
	_, err := c.Get(context.Background(), DoctypeSalesOrder, "SO-1")
	require.Error(t, err)
	assert.True(t, errorx.IsRetryable(err))
}

func TestCancelIsIdempotent(t *testing.T) {
	var cancels int
	status := 1
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{"name": "SI-1", "docstatus": status}})
		case strings.HasSuffix(r.URL.Path, methodCancel):
			cancels++
			status = 2
			_, _ = io.WriteString(w, `{"message":null}`)
		}
	})
	ctx := context.Background()

	require.NoError(t, c.Cancel(ctx, DoctypeSalesInvoice, "SI-1"))
	require.NoError(t, c.Cancel(ctx, DoctypeSalesInvoice, "SI-1"))
	assert.Equal(t, 1, cancels)
}

func TestCancelRaceResolvedByState(t *testing.T) {
	gets := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets++
			status := 1
			if gets > 1 {
				status = 2
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{"name": "SO-1", "docstatus": status}})
			return
		}
		w.WriteHeader(http.StatusExpectationFailed)
		_, _ = io.WriteString(w, `{"exception":"Cannot edit cancelled document"}`)
	})
	require.NoError(t, c.Cancel(context.Background(), DoctypeSalesOrder, "SO-1"))
}

func TestMakeHelpers(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch {
		case strings.HasSuffix(r.URL.Path, methodMakeSalesInvoice):
			assert.Equal(t, "SO-1", body["source_name"])
			_, _ = io.WriteString(w, `{"message":{"doctype":"Sales Invoice","items":[{"item_code":"SKU123","qty":2}]}}`)
		case strings.HasSuffix(r.URL.Path, methodGetPaymentEntry):
			assert.Equal(t, "Sales Invoice", body["dt"])
			assert.Equal(t, "SI-1", body["dn"])
			_, _ = io.WriteString(w, `{"message":{"doctype":"Payment Entry","references":[]}}`)
		default:
			_, _ = io.WriteString(w, `{}`)
		}
	})
	ctx := context.Background()

	si, err := c.MakeSalesInvoice(ctx, "SO-1")
	require.NoError(t, err)
	rows := si.Rows("items")
	require.Len(t, rows, 1)
	assert.Equal(t, "SKU123", rows[0].String("item_code"))
	assert.Equal(t, 2.0, rows[0].Float("qty"))

	pe, err := c.MakePaymentEntry(ctx, DoctypeSalesInvoice, "SI-1")
	require.NoError(t, err)
	assert.Equal(t, DoctypePaymentEntry, pe.Doctype())

	_, err = c.MakeDeliveryNote(ctx, "SI-1")
	require.Error(t, err)
}

func TestRateLimiterHonoursContext(t *testing.T) {
	c := NewHTTPClient(Config{BaseURL: "http://unused", RateLimit: 0.001, Burst: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Get(ctx, DoctypeSalesOrder, "SO-1")
	require.Error(t, err)
	assert.True(t, errorx.IsRetryable(err))
}
