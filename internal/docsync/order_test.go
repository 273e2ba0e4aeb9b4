package docsync

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-commerce-erpsync/internal/erp"
	"github.com/imrishuroy/go-commerce-erpsync/internal/erp/erptest"
	"github.com/imrishuroy/go-commerce-erpsync/internal/errorx"
	"github.com/imrishuroy/go-commerce-erpsync/internal/idempotency"
	"github.com/imrishuroy/go-commerce-erpsync/internal/jobs"
)

func TestSyncOrderCreatesEachDocumentOnceAcrossDeliveries(t *testing.T) {
	for _, n := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("deliveries=%d", n), func(t *testing.T) {
			h := newHarness(t, Settings{})
			env := orderEnvelope(jobs.TypeOrderCreated, 1001, orderOpts{status: "completed", setPaid: true})
			for i := 0; i < n; i++ {
				require.NoError(t, h.deliver(t, env))
			}

			assert.Equal(t, 1, h.erp.Calls(erptest.OpInsert, erp.DoctypeSalesOrder))
			assert.Equal(t, 1, h.erp.Calls(erptest.OpInsert, erp.DoctypeSalesInvoice))
			assert.Equal(t, 1, h.erp.Calls(erptest.OpInsert, erp.DoctypePaymentEntry))
			assert.Equal(t, 1, h.erp.Calls(erptest.OpInsert, erp.DoctypeCustomer))
			assert.Equal(t, 1, h.erp.Calls(erptest.OpMakeSI, erp.DoctypeSalesOrder))

			assert.Equal(t, "SO-00001", h.marker(t, "order-1001", idempotency.StageSalesOrder))
			assert.Equal(t, "SI-00001", h.marker(t, "order-1001", idempotency.StageSalesInvoice))
			assert.Equal(t, "PE-00001", h.marker(t, "order-1001", idempotency.StagePayment))
			assert.Equal(t, "CUST-00001", h.marker(t, "customer-7", idempotency.StageCustomer))
		})
	}
}

func TestSyncOrderExampleTotals(t *testing.T) {
	h := newHarness(t, Settings{})
	env := orderEnvelope(jobs.TypeOrderCreated, 1001, orderOpts{})
	require.NoError(t, h.deliver(t, env))
	require.NoError(t, h.deliver(t, env))

	sos := h.erp.Docs(erp.DoctypeSalesOrder)
	require.Len(t, sos, 1)
	so := sos[0]
	assert.Equal(t, "EXT-1001", so.String("po_no"))
	assert.Equal(t, 175.0, so.Float("grand_total"))
	assert.Equal(t, "2026-03-01", so.String("transaction_date"))
	assert.NotEmpty(t, so.String("customer_address"))
	items := so.Rows("items")
	require.Len(t, items, 2)
	assert.Equal(t, "SKU123", items[0].String("item_code"))
	assert.Equal(t, 2.0, items[0].Float("qty"))
	assert.Equal(t, 50.0, items[0].Float("rate"))

	sis := h.erp.Docs(erp.DoctypeSalesInvoice)
	require.Len(t, sis, 1)
	assert.Equal(t, 175.0, sis[0].Float("grand_total"))
	assert.Equal(t, erp.DocStatusSubmitted, sis[0].DocStatus())

	// processing and unpaid: no payment
	assert.Equal(t, 0, h.erp.Calls(erptest.OpInsert, erp.DoctypePaymentEntry))
	// billing and shipping share a street line but differ in type
	assert.Len(t, h.erp.Docs(erp.DoctypeAddress), 2)
}

func TestPaymentEntryNeedsCompletedAndSetPaid(t *testing.T) {
	cases := []struct {
		status  string
		setPaid bool
		want    int
	}{
		{"completed", true, 1},
		{"completed", false, 0},
		{"processing", true, 0},
		{"on-hold", false, 0},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s/%v", tc.status, tc.setPaid), func(t *testing.T) {
			h := newHarness(t, Settings{})
			require.NoError(t, h.deliver(t, orderEnvelope(jobs.TypeOrderCreated, 1001, orderOpts{status: tc.status, setPaid: tc.setPaid})))
			assert.Equal(t, tc.want, h.erp.Calls(erptest.OpInsert, erp.DoctypePaymentEntry))
		})
	}
}

func TestPaymentEntryAllocatesOutstandingAndMapsGateway(t *testing.T) {
	h := newHarness(t, Settings{
		DefaultModeOfPayment: "Bank Draft",
		ModeOfPayment:        map[string]string{"stripe": "Stripe"},
	})
	require.NoError(t, h.deliver(t, orderEnvelope(jobs.TypeOrderCreated, 1001, orderOpts{
		status: "completed", setPaid: true, paymentMethod: "stripe", datePaid: "2026-03-01T11:00:00",
	})))
	require.NoError(t, h.deliver(t, orderEnvelope(jobs.TypeOrderCreated, 1002, orderOpts{
		status: "completed", setPaid: true, paymentMethod: "cod",
	})))

	pes := h.erp.Docs(erp.DoctypePaymentEntry)
	require.Len(t, pes, 2)
	assert.Equal(t, "Stripe", pes[0].String("mode_of_payment"))
	assert.Equal(t, "EXT-1001", pes[0].String("reference_no"))
	assert.Equal(t, "2026-03-01", pes[0].String("reference_date"))
	assert.Equal(t, 175.0, pes[0].Float("paid_amount"))
	assert.Equal(t, "Bank Draft", pes[1].String("mode_of_payment"))

	si, err := h.erp.Get(context.Background(), erp.DoctypeSalesInvoice, "SI-00001")
	require.NoError(t, err)
	assert.Equal(t, 0.0, si.Float("outstanding_amount"))
}

func TestModeOfPaymentFallsBackToCash(t *testing.T) {
	h := newHarness(t, Settings{})
	assert.Equal(t, "Cash", h.syncer.modeOfPayment("paypal"))
}

func TestSalesInvoiceSubmitFailureIsFinishedOnRetry(t *testing.T) {
	h := newHarness(t, Settings{})
	env := orderEnvelope(jobs.TypeOrderCreated, 1001, orderOpts{})
	h.erp.FailNext(erptest.OpSubmit, erp.DoctypeSalesInvoice, errorx.Retriable(503, "erp down", nil))

	err := h.deliver(t, env)
	require.Error(t, err)
	assert.True(t, errorx.IsRetryable(err))
	assert.Equal(t, "", h.marker(t, "order-1001", idempotency.StageSalesInvoice))
	assert.Equal(t, "SO-00001", h.marker(t, "order-1001", idempotency.StageSalesOrder))

	require.NoError(t, h.deliver(t, env))
	assert.Equal(t, 1, h.erp.Calls(erptest.OpInsert, erp.DoctypeSalesInvoice), "no duplicate insert")
	assert.Equal(t, 2, h.erp.Calls(erptest.OpSubmit, erp.DoctypeSalesInvoice))
	assert.Equal(t, "SI-00001", h.marker(t, "order-1001", idempotency.StageSalesInvoice))
	assert.Equal(t, 1, h.erp.Count(erp.DoctypeSalesInvoice, erp.DocStatusSubmitted))
}

func TestSalesOrderFoundByReferenceWhenMarkerMissing(t *testing.T) {
	h := newHarness(t, Settings{})
	// created by an attempt that crashed before writing its marker
	h.erp.Seed(erp.Doc{"doctype": erp.DoctypeSalesOrder, "name": "SO-LEFT", "po_no": "EXT-1001", "docstatus": 0,
		"customer": "CUST-X", "items": []erp.Doc{{"item_code": "SKU123", "qty": 2.0, "rate": 50.0}}})

	require.NoError(t, h.deliver(t, orderEnvelope(jobs.TypeOrderCreated, 1001, orderOpts{})))
	assert.Equal(t, 0, h.erp.Calls(erptest.OpInsert, erp.DoctypeSalesOrder))
	assert.Equal(t, "SO-LEFT", h.marker(t, "order-1001", idempotency.StageSalesOrder))
	so, err := h.erp.Get(context.Background(), erp.DoctypeSalesOrder, "SO-LEFT")
	require.NoError(t, err)
	assert.Equal(t, erp.DocStatusSubmitted, so.DocStatus())
}

func TestDiscountShippingAndTax(t *testing.T) {
	h := newHarness(t, Settings{ShippingAccount: "Freight - C", TaxAccount: "VAT - C", Company: "Acme"})
	require.NoError(t, h.deliver(t, orderEnvelope(jobs.TypeOrderCreated, 1001, orderOpts{
		discount: "10.00", shipping: "5.00", tax: "2.50",
	})))

	so := h.erp.Docs(erp.DoctypeSalesOrder)[0]
	assert.Equal(t, "Acme", so.String("company"))
	require.Len(t, so.Rows("taxes"), 2)
	assert.Equal(t, 182.5, so.Float("grand_total"))

	si := h.erp.Docs(erp.DoctypeSalesInvoice)[0]
	assert.Equal(t, "Net Total", si.String("apply_discount_on"))
	assert.Equal(t, 10.0, si.Float("discount_amount"))
	assert.Equal(t, 172.5, si.Float("grand_total"))
}

func TestOrderWithoutSKULinesIsRejected(t *testing.T) {
	h := newHarness(t, Settings{})
	err := h.deliver(t, orderEnvelope(jobs.TypeOrderCreated, 1001, orderOpts{noSKU: true}))
	require.Error(t, err)
	assert.False(t, errorx.IsRetryable(err))
	assert.Equal(t, 0, h.markers.Len())
	assert.Equal(t, 0, h.erp.Calls(erptest.OpInsert, erp.DoctypeSalesOrder))
}

func TestFailedOrderCreatesNothing(t *testing.T) {
	h := newHarness(t, Settings{})
	require.NoError(t, h.deliver(t, orderEnvelope(jobs.TypeOrderUpdated, 1001, orderOpts{status: "failed"})))
	assert.Equal(t, 0, h.markers.Len())
}

func TestDeliveryNoteForCompletedOrders(t *testing.T) {
	h := newHarness(t, Settings{DeliveryNotes: true})
	env := orderEnvelope(jobs.TypeOrderCreated, 1001, orderOpts{status: "completed"})
	require.NoError(t, h.deliver(t, env))
	require.NoError(t, h.deliver(t, env))

	assert.Equal(t, 1, h.erp.Calls(erptest.OpInsert, erp.DoctypeDeliveryNote))
	assert.Equal(t, "DN-00001", h.marker(t, "order-1001", idempotency.StageDelivery))
	assert.Equal(t, "EXT-1001", h.erp.Docs(erp.DoctypeDeliveryNote)[0].String("po_no"))

	h2 := newHarness(t, Settings{DeliveryNotes: true})
	require.NoError(t, h2.deliver(t, orderEnvelope(jobs.TypeOrderCreated, 1002, orderOpts{status: "processing"})))
	assert.Equal(t, 0, h2.erp.Calls(erptest.OpInsert, erp.DoctypeDeliveryNote))
}

func TestReferenceOnlyOrderIsFetched(t *testing.T) {
	h := newHarness(t, Settings{})
	h.shop.orders[1001] = orderJSON(1001, orderOpts{})

	env := jobs.Envelope{Type: jobs.TypeOrderUpdated, OrderID: 1001, Payload: json.RawMessage(`{"id":1001}`)}
	require.NoError(t, h.deliver(t, env))
	assert.Equal(t, 1, h.shop.fetches)
	assert.Equal(t, 1, h.erp.Calls(erptest.OpInsert, erp.DoctypeSalesOrder))
}

func TestExistingCustomerReusedByEmail(t *testing.T) {
	h := newHarness(t, Settings{})
	h.erp.Seed(erp.Doc{"doctype": erp.DoctypeCustomer, "name": "Ada L", "email_id": "ada@example.com"})

	require.NoError(t, h.deliver(t, orderEnvelope(jobs.TypeOrderCreated, 1001, orderOpts{})))
	assert.Equal(t, 0, h.erp.Calls(erptest.OpInsert, erp.DoctypeCustomer))
	assert.Equal(t, "Ada L", h.erp.Docs(erp.DoctypeSalesOrder)[0].String("customer"))
}

func TestMarkerStoreFailureIsRetryable(t *testing.T) {
	h := newHarness(t, Settings{})
	h.syncer.markers = brokenStore{}
	err := h.deliver(t, orderEnvelope(jobs.TypeOrderCreated, 1001, orderOpts{}))
	require.Error(t, err)
	assert.True(t, errorx.IsRetryable(err))
	assert.Equal(t, 0, h.erp.Calls(erptest.OpInsert, erp.DoctypeSalesOrder))
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, idempotency.Key) (*idempotency.Marker, error) {
	return nil, fmt.Errorf("disk full")
}
func (brokenStore) Create(context.Context, idempotency.Key, string) (bool, error) {
	return false, fmt.Errorf("disk full")
}
func (brokenStore) Delete(context.Context, idempotency.Key) error { return nil }
