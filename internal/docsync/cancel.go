package docsync

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/imrishuroy/go-commerce-erpsync/internal/erp"
	"github.com/imrishuroy/go-commerce-erpsync/internal/errorx"
	"github.com/imrishuroy/go-commerce-erpsync/internal/idempotency"
	"github.com/imrishuroy/go-commerce-erpsync/internal/jobs"
	"github.com/imrishuroy/go-commerce-erpsync/internal/orders"
)

// cancelOrder handles status cancelled. Unpaid orders have their documents
// cancelled; paid ones are refunded through returns.
func (s *Syncer) cancelOrder(ctx context.Context, o orders.NormalizedOrder) error {
	if !o.Paid() {
		return s.cancelDocuments(ctx, o.OrderID)
	}
	if s.shop == nil {
		return errorx.NonRetriable(0, "cannot look up refunds of a paid cancelled order without a storefront client", nil)
	}
	raws, err := s.shop.FetchOrderRefunds(ctx, o.OrderID)
	if err != nil {
		return fmt.Errorf("fetch refunds of order %d: %w", o.OrderID, err)
	}
	if len(raws) > 0 {
		return s.enqueueRefunds(ctx, o.OrderID, raws)
	}
	return s.synthesizeReturn(ctx, o)
}

// cancelDocuments cancels the order's delivery note, invoice and sales order
// in dependency order. Documents that never got created are skipped.
func (s *Syncer) cancelDocuments(ctx context.Context, orderID int64) error {
	okey := idempotency.OrderKey(orderID)
	ref := s.ref(orderID)
	steps := []struct {
		stage   string
		doctype string
		filters []erp.Filter
	}{
		{idempotency.StageDelivery, erp.DoctypeDeliveryNote, []erp.Filter{erp.Eq("po_no", ref)}},
		{idempotency.StageSalesInvoice, erp.DoctypeSalesInvoice, []erp.Filter{erp.Eq("po_no", ref), erp.Eq("is_return", 0)}},
		{idempotency.StageSalesOrder, erp.DoctypeSalesOrder, []erp.Filter{erp.Eq("po_no", ref)}},
	}

	cancelled := 0
	for _, st := range steps {
		name, err := s.documentOf(ctx, okey, st.stage, st.doctype, st.filters...)
		if err != nil {
			return err
		}
		if name == "" {
			continue
		}
		if err := s.erp.Cancel(ctx, st.doctype, name); err != nil {
			if erp.IsNotFound(err) {
				s.log.Warnf(ctx, "[sync] %s %s vanished before cancel", st.doctype, name)
				continue
			}
			return fmt.Errorf("cancel %s %s: %w", st.doctype, name, err)
		}
		cancelled++
		s.log.Infof(ctx, "[sync] cancelled %s %s", st.doctype, name)
	}
	if cancelled == 0 {
		s.log.Infof(ctx, "[sync] order %d cancelled before any document existed", orderID)
	}
	return nil
}

// documentOf names the document a stage produced: the marker value, else a
// lookup by natural key in any docstatus. "" when there is none.
func (s *Syncer) documentOf(ctx context.Context, object, stage, doctype string, filters ...erp.Filter) (string, error) {
	value, err := s.marked(ctx, object, stage)
	if err != nil {
		return "", err
	}
	if value != "" && value != idempotency.ValueDone {
		return value, nil
	}
	doc, found, err := s.erp.FindOne(ctx, doctype, filters, "name")
	if err != nil {
		return "", fmt.Errorf("find %s: %w", doctype, err)
	}
	if !found {
		return "", nil
	}
	return doc.Name(), nil
}

// refundPending reports whether either refund stage is still unmarked.
func (s *Syncer) refundPending(ctx context.Context, refundID int64) (bool, error) {
	rkey := idempotency.RefundKey(refundID)
	for _, stage := range []string{idempotency.StageReturn, idempotency.StagePayment} {
		v, err := s.marked(ctx, rkey, stage)
		if err != nil {
			return false, err
		}
		if v == "" {
			return true, nil
		}
	}
	return false, nil
}

// enqueueRefunds queues a refund.created job for every refund not yet fully
// processed, carrying the refund payload the shop returned.
func (s *Syncer) enqueueRefunds(ctx context.Context, orderID int64, raws []json.RawMessage) error {
	for _, raw := range raws {
		r, err := orders.NormalizeRefund(raw, orderID)
		if err != nil {
			s.log.Warnf(ctx, "[sync] skipping unreadable refund of order %d: %v", orderID, err)
			continue
		}
		if err := s.enqueueRefund(ctx, orderID, r.RefundID, raw); err != nil {
			return err
		}
	}
	return nil
}

// reconcileRefundIDs queues reference-only refund jobs for ids seen on an order.
func (s *Syncer) reconcileRefundIDs(ctx context.Context, orderID int64, ids []int64) error {
	for _, id := range ids {
		if err := s.enqueueRefund(ctx, orderID, id, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) enqueueRefund(ctx context.Context, orderID, refundID int64, raw json.RawMessage) error {
	pending, err := s.refundPending(ctx, refundID)
	if err != nil || !pending {
		return err
	}
	if s.queue == nil {
		return errorx.NonRetriable(0, "no queue to hand refund jobs to", nil)
	}
	env := jobs.NewRefundEnvelope(orderID, refundID, raw, s.nowFunc())
	if err := s.queue.Enqueue(ctx, env); err != nil {
		return errorx.Retriable(0, fmt.Sprintf("enqueue refund %d", refundID), err)
	}
	s.log.Infof(ctx, "[sync] queued refund %d of order %d", refundID, orderID)
	return nil
}

// synthesizeReturn fully returns a paid order cancelled without any refund
// object. Both steps are keyed to the order since there is no refund id.
func (s *Syncer) synthesizeReturn(ctx context.Context, o orders.NormalizedOrder) error {
	okey := idempotency.OrderKey(o.OrderID)
	ref := s.ref(o.OrderID)

	siValue, err := s.marked(ctx, okey, idempotency.StageSalesInvoice)
	if err != nil {
		return err
	}
	si, err := s.resolve(ctx, siValue, erp.DoctypeSalesInvoice, erp.Eq("po_no", ref), erp.Eq("is_return", 0))
	if err != nil {
		return err
	}
	if si == "" {
		s.log.Warnf(ctx, "[sync] paid order %d cancelled before it was invoiced", o.OrderID)
		return s.cancelDocuments(ctx, o.OrderID)
	}

	retRef := ref + "-CANCEL"
	ret, err := s.gate(ctx, okey, idempotency.StageCancelReturn, func() (string, error) {
		if name, err := s.existing(ctx, erp.DoctypeSalesInvoice, erp.Eq("po_no", retRef), erp.Eq("is_return", 1)); err != nil || name != "" {
			return name, err
		}
		orig, err := s.erp.Get(ctx, erp.DoctypeSalesInvoice, si)
		if err != nil {
			return "", fmt.Errorf("load sales invoice %s: %w", si, err)
		}
		items := make([]erp.Doc, 0)
		for _, it := range orig.Rows("items") {
			row := erp.Doc{
				"item_code": it.String("item_code"),
				"qty":       -math.Abs(it.Float("qty")),
				"rate":      it.Float("rate"),
			}
			if n := it.Name(); n != "" {
				row["sales_invoice_item"] = n
			}
			items = append(items, row)
		}
		if len(items) == 0 {
			return "", errorx.NonRetriable(422, "sales invoice "+si+" has no items to return", nil)
		}
		doc := s.returnDoc(orig, retRef, items)
		var taxes []erp.Doc
		for _, tx := range orig.Rows("taxes") {
			taxes = append(taxes, erp.Doc{
				"charge_type":  tx.String("charge_type"),
				"account_head": tx.String("account_head"),
				"description":  tx.String("description"),
				"tax_amount":   -math.Abs(tx.Float("tax_amount")),
			})
		}
		if len(taxes) > 0 {
			doc["taxes"] = taxes
		}
		if d := orig.Float("discount_amount"); d != 0 {
			doc["apply_discount_on"] = orig.String("apply_discount_on")
			doc["discount_amount"] = -math.Abs(d)
		}
		return s.insertAndSubmit(ctx, doc)
	})
	if err != nil {
		return err
	}

	_, err = s.gate(ctx, okey, idempotency.StageCancelPay, func() (string, error) {
		mode, err := s.paymentMode(ctx, o.OrderID, o.PaymentMethod)
		if err != nil {
			return "", err
		}
		return s.refundPayment(ctx, ret, retRef, mode)
	})
	return err
}

// returnDoc builds a credit note against orig.
func (s *Syncer) returnDoc(orig erp.Doc, poNo string, items []erp.Doc) erp.Doc {
	doc := erp.Doc{
		"doctype":        erp.DoctypeSalesInvoice,
		"is_return":      1,
		"return_against": orig.Name(),
		"customer":       orig.String("customer"),
		"po_no":          poNo,
		"posting_date":   s.today(),
		"update_stock":   0,
		"items":          items,
	}
	if c := orig.String("company"); c != "" {
		doc["company"] = c
	} else if s.settings.Company != "" {
		doc["company"] = s.settings.Company
	}
	if cur := orig.String("currency"); cur != "" {
		doc["currency"] = cur
	}
	return doc
}

// refundPayment pays out a submitted return's outstanding credit in mode.
func (s *Syncer) refundPayment(ctx context.Context, retValue, refNo, mode string) (string, error) {
	if name, err := s.existing(ctx, erp.DoctypePaymentEntry, erp.Eq("reference_no", refNo), erp.Eq("payment_type", "Pay")); err != nil || name != "" {
		return name, err
	}
	ret, err := s.resolve(ctx, retValue, erp.DoctypeSalesInvoice, erp.Eq("po_no", refNo), erp.Eq("is_return", 1))
	if err != nil {
		return "", err
	}
	if ret == "" {
		return "", errorx.NonRetriable(409, "return marked done but not found for "+refNo, nil)
	}
	doc, err := s.erp.Get(ctx, erp.DoctypeSalesInvoice, ret)
	if err != nil {
		return "", fmt.Errorf("load return %s: %w", ret, err)
	}
	outstanding := doc.Float("outstanding_amount")
	if outstanding >= 0 {
		// the credit was absorbed by the original invoice's own outstanding
		s.log.Infof(ctx, "[sync] return %s leaves nothing to pay out", ret)
		return idempotency.ValueDone, nil
	}

	pe, err := s.erp.MakePaymentEntry(ctx, erp.DoctypeSalesInvoice, ret)
	if err != nil {
		return "", fmt.Errorf("make refund payment from %s: %w", ret, err)
	}
	pe["payment_type"] = "Pay"
	allocate(pe, ret, outstanding, mode, refNo, s.today())
	return s.insertAndSubmit(ctx, pe)
}
