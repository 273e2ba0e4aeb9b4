package erptest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-commerce-erpsync/internal/erp"
)

func TestFakeSalesFlow(t *testing.T) {
	f := New()
	ctx := context.Background()

	so, err := f.Insert(ctx, erp.Doc{
		"doctype":  erp.DoctypeSalesOrder,
		"customer": "CUST-00001",
		"po_no":    "EXT-1",
		"items":    []erp.Doc{{"item_code": "A", "qty": 2.0, "rate": 50.0}},
	})
	require.NoError(t, err)
	assert.Equal(t, "SO-00001", so.Name())
	assert.Equal(t, 100.0, so.Float("grand_total"))

	_, err = f.MakeSalesInvoice(ctx, so.Name())
	require.Error(t, err, "draft orders cannot be invoiced")

	_, err = f.Submit(ctx, erp.DoctypeSalesOrder, so.Name())
	require.NoError(t, err)

	draft, err := f.MakeSalesInvoice(ctx, so.Name())
	require.NoError(t, err)
	si, err := f.Insert(ctx, draft)
	require.NoError(t, err)
	si, err = f.Submit(ctx, erp.DoctypeSalesInvoice, si.Name())
	require.NoError(t, err)
	assert.Equal(t, 100.0, si.Float("outstanding_amount"))

	pe, err := f.MakePaymentEntry(ctx, erp.DoctypeSalesInvoice, si.Name())
	require.NoError(t, err)
	assert.Equal(t, "Receive", pe.String("payment_type"))
	pe, err = f.Insert(ctx, pe)
	require.NoError(t, err)
	_, err = f.Submit(ctx, erp.DoctypePaymentEntry, pe.Name())
	require.NoError(t, err)

	si, err = f.Get(ctx, erp.DoctypeSalesInvoice, si.Name())
	require.NoError(t, err)
	assert.Equal(t, 0.0, si.Float("outstanding_amount"))

	found, ok, err := f.FindOne(ctx, erp.DoctypeSalesOrder, []erp.Filter{erp.Eq("po_no", "EXT-1"), erp.Lt("docstatus", 2)})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, so.Name(), found.Name())

	assert.Equal(t, 1, f.Calls(OpInsert, erp.DoctypeSalesOrder))
	assert.Equal(t, 1, f.Calls(OpFind, erp.DoctypeSalesOrder))
}

func TestFakeCancelAndFailures(t *testing.T) {
	f := New()
	ctx := context.Background()
	f.Seed(erp.Doc{"doctype": erp.DoctypeSalesOrder, "name": "SO-9", "docstatus": 1})

	boom := errors.New("boom")
	f.FailNext(OpCancel, erp.DoctypeSalesOrder, boom)
	assert.ErrorIs(t, f.Cancel(ctx, erp.DoctypeSalesOrder, "SO-9"), boom)
	require.NoError(t, f.Cancel(ctx, erp.DoctypeSalesOrder, "SO-9"))
	require.NoError(t, f.Cancel(ctx, erp.DoctypeSalesOrder, "SO-9"))
	assert.Equal(t, 1, f.Count(erp.DoctypeSalesOrder, erp.DocStatusCancelled))
	assert.Equal(t, 3, f.Calls(OpCancel, erp.DoctypeSalesOrder))

	err := f.Cancel(ctx, erp.DoctypeSalesOrder, "SO-404")
	assert.True(t, erp.IsNotFound(err))
}
