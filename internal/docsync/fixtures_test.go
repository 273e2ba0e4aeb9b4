package docsync

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-commerce-erpsync/internal/erp/erptest"
	"github.com/imrishuroy/go-commerce-erpsync/internal/idempotency"
	"github.com/imrishuroy/go-commerce-erpsync/internal/jobs"
)

var fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

type fakeShop struct {
	mu        sync.Mutex
	orders    map[int64]json.RawMessage
	refunds   map[int64][]json.RawMessage
	customers map[int64]json.RawMessage
	fetches   int
}

func newFakeShop() *fakeShop {
	return &fakeShop{
		orders:    map[int64]json.RawMessage{},
		refunds:   map[int64][]json.RawMessage{},
		customers: map[int64]json.RawMessage{},
	}
}

func (f *fakeShop) FetchOrder(_ context.Context, id int64) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return f.orders[id], nil
}

func (f *fakeShop) FetchOrderRefunds(_ context.Context, orderID int64) ([]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return f.refunds[orderID], nil
}

func (f *fakeShop) FetchCustomer(_ context.Context, id int64) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return f.customers[id], nil
}

type harness struct {
	erp     *erptest.Fake
	markers *idempotency.MemoryStore
	shop    *fakeShop
	queue   *jobs.MemoryQueue
	syncer  *Syncer
}

func newHarness(t *testing.T, settings Settings) *harness {
	t.Helper()
	h := &harness{
		erp:     erptest.New(),
		markers: idempotency.NewMemoryStore(),
		shop:    newFakeShop(),
		queue:   jobs.NewMemoryQueue(),
	}
	h.syncer = New(Options{
		ERP:        h.erp,
		Markers:    h.markers,
		Storefront: h.shop,
		Queue:      h.queue,
		Settings:   settings,
	})
	h.syncer.nowFunc = func() time.Time { return fixedNow }
	return h
}

// deliver decodes env and hands it to the syncer like the worker does.
func (h *harness) deliver(t *testing.T, env jobs.Envelope) error {
	t.Helper()
	job, err := jobs.Decode(env)
	require.NoError(t, err)
	return h.syncer.Handle(context.Background(), job)
}

// drain processes every queued envelope.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for {
		n, _ := h.queue.Len(ctx)
		if n == 0 {
			return
		}
		d, err := h.queue.Dequeue(ctx)
		require.NoError(t, err)
		require.NoError(t, h.deliver(t, d.Envelope))
	}
}

func (h *harness) marker(t *testing.T, object, stage string) string {
	t.Helper()
	m, err := h.markers.Get(context.Background(), idempotency.Key{Object: object, Stage: stage})
	require.NoError(t, err)
	if m == nil {
		return ""
	}
	return m.Value
}

type orderOpts struct {
	status        string
	setPaid       bool
	datePaid      string
	discount      string
	shipping      string
	tax           string
	paymentMethod string
	refunds       []int64
	noSKU         bool
}

func orderJSON(id int64, o orderOpts) json.RawMessage {
	if o.status == "" {
		o.status = "processing"
	}
	items := []map[string]interface{}{
		{"id": 1, "name": "Widget", "sku": "SKU123", "quantity": 2, "price": 50, "subtotal": "100.00", "total": "100.00"},
		{"id": 2, "name": "Gadget", "sku": "SKU456", "quantity": 1, "price": 75, "subtotal": "75.00", "total": "75.00"},
	}
	if o.noSKU {
		items = []map[string]interface{}{{"id": 3, "name": "Mystery", "sku": "", "quantity": 1, "total": "5.00"}}
	}
	refunds := []map[string]interface{}{}
	for _, r := range o.refunds {
		refunds = append(refunds, map[string]interface{}{"id": r, "total": "-50.00"})
	}
	m := map[string]interface{}{
		"id":             id,
		"status":         o.status,
		"currency":       "USD",
		"discount_total": o.discount,
		"shipping_total": o.shipping,
		"total_tax":      o.tax,
		"total":          "175.00",
		"set_paid":       o.setPaid,
		"payment_method": o.paymentMethod,
		"transaction_id": "",
		"date_paid":      o.datePaid,
		"date_created":   "2026-03-01T10:00:00",
		"customer_id":    7,
		"billing": map[string]interface{}{
			"first_name": "Ada", "last_name": "Lovelace", "email": "ada@example.com",
			"address_1": "1 Main St", "city": "London", "postcode": "N1", "country": "GB",
		},
		"shipping": map[string]interface{}{
			"first_name": "Ada", "last_name": "Lovelace",
			"address_1": "1 Main St", "city": "London", "postcode": "N1", "country": "GB",
		},
		"line_items": items,
		"refunds":    refunds,
	}
	b, _ := json.Marshal(m)
	return b
}

func orderEnvelope(typ string, id int64, o orderOpts) jobs.Envelope {
	return jobs.Envelope{Type: typ, Resource: "order", OrderID: id, Payload: orderJSON(id, o)}
}

func refundJSON(id int64, lines ...map[string]interface{}) json.RawMessage {
	b, _ := json.Marshal(map[string]interface{}{
		"id":         id,
		"amount":     "50.00",
		"reason":     "damaged",
		"line_items": lines,
	})
	return b
}
