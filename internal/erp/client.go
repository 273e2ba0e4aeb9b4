package erp

import (
	"context"
)

// Client is the set of ERP primitives the sync stages use. Every call either
// fully succeeds or returns an error; errors are classified with errorx.
type Client interface {
	// FindOne returns the first document matching filters.
	FindOne(ctx context.Context, doctype string, filters []Filter, fields ...string) (Doc, bool, error)
	// Get loads a full document, or ErrNotFound.
	Get(ctx context.Context, doctype, name string) (Doc, error)
	// Insert creates a draft document; doc must carry "doctype".
	Insert(ctx context.Context, doc Doc) (Doc, error)
	SetValue(ctx context.Context, doctype, name, field string, value interface{}) error
	Submit(ctx context.Context, doctype, name string) (Doc, error)
	// Cancel cancels a submitted document. Cancelling an already cancelled
	// document succeeds.
	Cancel(ctx context.Context, doctype, name string) error

	// MakeSalesInvoice maps a submitted Sales Order into an unsaved invoice.
	MakeSalesInvoice(ctx context.Context, salesOrder string) (Doc, error)
	// MakeDeliveryNote maps a submitted Sales Invoice into an unsaved delivery note.
	MakeDeliveryNote(ctx context.Context, salesInvoice string) (Doc, error)
	// MakePaymentEntry maps an outstanding document into an unsaved payment entry.
	MakePaymentEntry(ctx context.Context, doctype, name string) (Doc, error)
}
