package docsync

import (
	"context"
	"fmt"

	"github.com/imrishuroy/go-commerce-erpsync/internal/erp"
	"github.com/imrishuroy/go-commerce-erpsync/internal/errorx"
	"github.com/imrishuroy/go-commerce-erpsync/internal/idempotency"
	"github.com/imrishuroy/go-commerce-erpsync/internal/logger"
	"github.com/imrishuroy/go-commerce-erpsync/internal/orders"
)

// ProcessRefund turns one storefront refund into a submitted return invoice
// and a refund payment, each exactly once per refund id.
func (s *Syncer) ProcessRefund(ctx context.Context, r orders.Refund) error {
	rkey := idempotency.RefundKey(r.RefundID)
	ctx = logger.WithObjectKey(ctx, rkey)
	ref := s.ref(r.OrderID)
	retRef := fmt.Sprintf("%s-R%d", ref, r.RefundID)

	if len(r.Items) == 0 {
		return s.skipRefund(ctx, rkey, r)
	}

	ret, err := s.gate(ctx, rkey, idempotency.StageReturn, func() (string, error) {
		if name, err := s.existing(ctx, erp.DoctypeSalesInvoice, erp.Eq("po_no", retRef), erp.Eq("is_return", 1)); err != nil || name != "" {
			return name, err
		}
		si, err := s.originalInvoice(ctx, r.OrderID)
		if err != nil {
			return "", err
		}

		items := make([]erp.Doc, 0, len(r.Items))
		for _, li := range r.Items {
			items = append(items, erp.Doc{
				"item_code": li.SKU,
				"qty":       -li.Qty.InexactFloat64(),
				"rate":      money(li.Rate()),
			})
		}

		orig, err := s.erp.Get(ctx, erp.DoctypeSalesInvoice, si)
		if err != nil {
			return "", fmt.Errorf("load sales invoice %s: %w", si, err)
		}
		doc := s.returnDoc(orig, retRef, items)
		if r.Reason != "" {
			doc["remarks"] = r.Reason
		}
		return s.insertAndSubmit(ctx, doc)
	})
	if err != nil {
		return err
	}

	_, err = s.gate(ctx, rkey, idempotency.StagePayment, func() (string, error) {
		mode, err := s.paymentMode(ctx, r.OrderID, "")
		if err != nil {
			return "", err
		}
		return s.refundPayment(ctx, ret, retRef, mode)
	})
	return err
}

// skipRefund closes both stages of a refund that names no SKU line, such as
// an amount-only refund. Nothing can be returned against the invoice, so the
// credit has to be booked in the ERP by hand.
func (s *Syncer) skipRefund(ctx context.Context, rkey string, r orders.Refund) error {
	s.log.Warnf(ctx, "[sync] refund %d of order %d (amount %s) has no line with a SKU, book it manually",
		r.RefundID, r.OrderID, r.Amount.StringFixed(2))
	for _, stage := range []string{idempotency.StageReturn, idempotency.StagePayment} {
		if _, err := s.gate(ctx, rkey, stage, func() (string, error) { return idempotency.ValueSkipped, nil }); err != nil {
			return err
		}
	}
	return nil
}

// paymentMode is the mode of payment the order's receipt was booked with, so
// money goes back the way it came. Without a receipt the gateway mapping for
// method applies.
func (s *Syncer) paymentMode(ctx context.Context, orderID int64, method string) (string, error) {
	value, err := s.marked(ctx, idempotency.OrderKey(orderID), idempotency.StagePayment)
	if err != nil {
		return "", err
	}
	if value != "" && value != idempotency.ValueDone {
		pe, err := s.erp.Get(ctx, erp.DoctypePaymentEntry, value)
		switch {
		case err == nil:
			if mode := pe.String("mode_of_payment"); mode != "" {
				return mode, nil
			}
		case erp.IsNotFound(err):
			s.log.Warnf(ctx, "[sync] payment entry %s of order %d not found", value, orderID)
		default:
			return "", fmt.Errorf("load payment entry %s: %w", value, err)
		}
	}
	return s.modeOfPayment(method), nil
}

// originalInvoice finds the order's submitted invoice through its markers,
// falling back to the external reference.
func (s *Syncer) originalInvoice(ctx context.Context, orderID int64) (string, error) {
	okey := idempotency.OrderKey(orderID)
	ref := s.ref(orderID)

	value, err := s.marked(ctx, okey, idempotency.StageSalesInvoice)
	if err != nil {
		return "", err
	}
	si, err := s.resolve(ctx, value, erp.DoctypeSalesInvoice, erp.Eq("po_no", ref), erp.Eq("is_return", 0))
	if err != nil {
		return "", err
	}
	if si == "" {
		// the order job may still be queued behind this refund
		return "", errorx.Retriable(409, fmt.Sprintf("no submitted sales invoice for order %d yet", orderID), nil)
	}
	return si, nil
}
