package docsync

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-commerce-erpsync/internal/erp"
	"github.com/imrishuroy/go-commerce-erpsync/internal/erp/erptest"
	"github.com/imrishuroy/go-commerce-erpsync/internal/idempotency"
	"github.com/imrishuroy/go-commerce-erpsync/internal/jobs"
)

const customerPayload = `{
  "id": 7,
  "email": "ada@example.com",
  "first_name": "Ada",
  "last_name": "Lovelace",
  "billing": {"first_name": "Ada", "last_name": "Lovelace", "address_1": "1 Main St", "city": "London", "country": "GB", "phone": "555"},
  "shipping": {"first_name": "Ada", "last_name": "Lovelace", "address_1": "1 Main St", "city": "London", "country": "GB"}
}`

func TestSyncCustomerOnce(t *testing.T) {
	h := newHarness(t, Settings{})
	env := jobs.Envelope{Type: jobs.TypeCustomerCreated, Resource: "customer", Payload: json.RawMessage(customerPayload)}
	require.NoError(t, h.deliver(t, env))
	env.Type = jobs.TypeCustomerUpdated
	require.NoError(t, h.deliver(t, env))

	assert.Equal(t, 1, h.erp.Calls(erptest.OpInsert, erp.DoctypeCustomer))
	assert.Len(t, h.erp.Docs(erp.DoctypeAddress), 2)
	cust := h.erp.Docs(erp.DoctypeCustomer)[0]
	assert.Equal(t, "Ada Lovelace", cust.String("customer_name"))
	assert.Equal(t, "ada@example.com", cust.String("email_id"))
	assert.Equal(t, cust.Name(), h.marker(t, "customer-7", idempotency.StageCustomer))
}

func TestCustomerThenOrderSharesCustomer(t *testing.T) {
	h := newHarness(t, Settings{})
	require.NoError(t, h.deliver(t, jobs.Envelope{Type: jobs.TypeCustomerCreated, Payload: json.RawMessage(customerPayload)}))
	require.NoError(t, h.deliver(t, orderEnvelope(jobs.TypeOrderCreated, 1001, orderOpts{})))

	assert.Equal(t, 1, h.erp.Calls(erptest.OpInsert, erp.DoctypeCustomer))
	assert.Equal(t, "CUST-00001", h.erp.Docs(erp.DoctypeSalesOrder)[0].String("customer"))
}

func TestReferenceOnlyCustomerIsFetched(t *testing.T) {
	h := newHarness(t, Settings{})
	h.shop.customers[7] = json.RawMessage(customerPayload)
	require.NoError(t, h.deliver(t, jobs.Envelope{Type: jobs.TypeCustomerUpdated, Payload: json.RawMessage(`{"id":7}`)}))
	assert.Equal(t, 1, h.shop.fetches)
	assert.Equal(t, 1, h.erp.Calls(erptest.OpInsert, erp.DoctypeCustomer))
}

func TestGuestOrderMatchedByName(t *testing.T) {
	h := newHarness(t, Settings{})
	h.erp.Seed(erp.Doc{"doctype": erp.DoctypeCustomer, "name": "CUST-OLD", "customer_name": "Ada Lovelace"})

	raw := orderJSON(1001, orderOpts{})
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))
	m["customer_id"] = 0
	m["billing"].(map[string]interface{})["email"] = ""
	raw, _ = json.Marshal(m)

	require.NoError(t, h.deliver(t, jobs.Envelope{Type: jobs.TypeOrderCreated, Payload: raw}))
	assert.Equal(t, 0, h.erp.Calls(erptest.OpInsert, erp.DoctypeCustomer))
	assert.Equal(t, "CUST-OLD", h.erp.Docs(erp.DoctypeSalesOrder)[0].String("customer"))
	assert.Equal(t, "", h.marker(t, "customer-0", idempotency.StageCustomer))
}

func TestNameMatchedCustomerGetsEmail(t *testing.T) {
	h := newHarness(t, Settings{})
	h.erp.Seed(erp.Doc{"doctype": erp.DoctypeCustomer, "name": "CUST-OLD", "customer_name": "Ada Lovelace"})

	require.NoError(t, h.deliver(t, jobs.Envelope{Type: jobs.TypeCustomerCreated, Payload: json.RawMessage(customerPayload)}))
	assert.Equal(t, "CUST-OLD", h.marker(t, "customer-7", idempotency.StageCustomer))
	assert.Equal(t, 0, h.erp.Calls(erptest.OpInsert, erp.DoctypeCustomer))
	assert.Equal(t, 1, h.erp.Calls(erptest.OpSetValue, erp.DoctypeCustomer))
	assert.Equal(t, "ada@example.com", h.erp.Docs(erp.DoctypeCustomer)[0].String("email_id"))

	// a guest order with the same email now matches on it
	raw := orderJSON(1001, orderOpts{})
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))
	m["customer_id"] = 0
	raw, _ = json.Marshal(m)
	require.NoError(t, h.deliver(t, jobs.Envelope{Type: jobs.TypeOrderCreated, Payload: raw}))
	assert.Equal(t, 1, h.erp.Calls(erptest.OpSetValue, erp.DoctypeCustomer))
	assert.Equal(t, "CUST-OLD", h.erp.Docs(erp.DoctypeSalesOrder)[0].String("customer"))
}

func TestAddressOfAnotherCustomerIsNotReused(t *testing.T) {
	h := newHarness(t, Settings{})
	h.erp.Seed(erp.Doc{
		"doctype":       erp.DoctypeAddress,
		"name":          "ADDR-NAMESAKE",
		"address_title": "Ada Lovelace",
		"address_type":  "Billing",
		"address_line1": "1 Main St",
		"links": []erp.Doc{{
			"link_doctype": erp.DoctypeCustomer,
			"link_name":    "CUST-NAMESAKE",
		}},
	})

	require.NoError(t, h.deliver(t, jobs.Envelope{Type: jobs.TypeCustomerCreated, Payload: json.RawMessage(customerPayload)}))

	assert.Equal(t, 2, h.erp.Calls(erptest.OpInsert, erp.DoctypeAddress))
	for _, a := range h.erp.Docs(erp.DoctypeAddress) {
		if a.Name() == "ADDR-NAMESAKE" {
			continue
		}
		links := a.Rows("links")
		require.Len(t, links, 1)
		assert.Equal(t, "CUST-00001", links[0].String("link_name"))
	}
}
