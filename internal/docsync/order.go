package docsync

import (
	"context"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-commerce-erpsync/internal/erp"
	"github.com/imrishuroy/go-commerce-erpsync/internal/errorx"
	"github.com/imrishuroy/go-commerce-erpsync/internal/idempotency"
	"github.com/imrishuroy/go-commerce-erpsync/internal/jobs"
	"github.com/imrishuroy/go-commerce-erpsync/internal/logger"
	"github.com/imrishuroy/go-commerce-erpsync/internal/orders"
)

// SyncOrder advances an order through its stages. event is the job type that
// delivered it; order.updated additionally reconciles the order's refunds.
func (s *Syncer) SyncOrder(ctx context.Context, o orders.NormalizedOrder, event string) error {
	okey := idempotency.OrderKey(o.OrderID)
	ctx = logger.WithObjectKey(ctx, okey)
	if len(o.DroppedLines) > 0 {
		s.log.Warnf(ctx, "[sync] order %d: %d line(s) without SKU left out: %v", o.OrderID, len(o.DroppedLines), o.DroppedLines)
	}

	switch o.Status {
	case orders.StatusCancelled:
		return s.cancelOrder(ctx, o)
	case orders.StatusFailed:
		s.log.Infof(ctx, "[sync] order %d failed at checkout, nothing to sync", o.OrderID)
		return nil
	}

	soName, err := s.ensureSalesOrder(ctx, o)
	if err != nil {
		return err
	}
	siName, err := s.ensureSalesInvoice(ctx, o, soName)
	if err != nil {
		return err
	}
	if s.settings.DeliveryNotes && o.Status == orders.StatusCompleted {
		if _, err := s.ensureDeliveryNote(ctx, o, siName); err != nil {
			return err
		}
	}
	if o.PaymentEligible() {
		if _, err := s.ensurePayment(ctx, o, siName); err != nil {
			return err
		}
	}
	if event == jobs.TypeOrderUpdated && len(o.RefundIDs) > 0 {
		return s.reconcileRefundIDs(ctx, o.OrderID, o.RefundIDs)
	}
	return nil
}

func (s *Syncer) ensureSalesOrder(ctx context.Context, o orders.NormalizedOrder) (string, error) {
	ref := s.ref(o.OrderID)
	return s.gate(ctx, idempotency.OrderKey(o.OrderID), idempotency.StageSalesOrder, func() (string, error) {
		if name, err := s.existing(ctx, erp.DoctypeSalesOrder, erp.Eq("po_no", ref)); err != nil || name != "" {
			return name, err
		}
		if len(o.Items) == 0 {
			return "", errorx.NonRetriable(422, fmt.Sprintf("order %d has no line with a SKU", o.OrderID), nil)
		}

		customer, err := s.customerFor(ctx, o.Customer)
		if err != nil {
			return "", err
		}
		title := o.Customer.FullName()
		billing, err := s.ensureAddress(ctx, customer, title, o.Billing, "Billing")
		if err != nil {
			return "", err
		}
		shipping, err := s.ensureAddress(ctx, customer, title, o.Shipping, "Shipping")
		if err != nil {
			return "", err
		}

		date := s.dateOf(o.CreatedAt)
		items := make([]erp.Doc, 0, len(o.Items))
		for _, it := range o.Items {
			name := it.Name
			if name == "" {
				name = it.SKU
			}
			items = append(items, erp.Doc{
				"item_code":     it.SKU,
				"item_name":     name,
				"qty":           it.Qty.InexactFloat64(),
				"rate":          money(it.Rate),
				"delivery_date": date,
			})
		}

		doc := erp.Doc{
			"doctype":          erp.DoctypeSalesOrder,
			"customer":         customer,
			"po_no":            ref,
			"order_type":       "Sales",
			"transaction_date": date,
			"delivery_date":    date,
			"items":            items,
		}
		if o.Currency != "" {
			doc["currency"] = o.Currency
		}
		if s.settings.Company != "" {
			doc["company"] = s.settings.Company
		}
		if billing != "" {
			doc["customer_address"] = billing
		}
		if shipping != "" {
			doc["shipping_address_name"] = shipping
		}
		if taxes := s.chargeRows(ctx, o); len(taxes) > 0 {
			doc["taxes"] = taxes
		}
		return s.insertAndSubmit(ctx, doc)
	})
}

// chargeRows books shipping and tax as actual-amount charges.
func (s *Syncer) chargeRows(ctx context.Context, o orders.NormalizedOrder) []erp.Doc {
	var rows []erp.Doc
	add := func(amount decimal.Decimal, account, description string) {
		if !amount.IsPositive() {
			return
		}
		if account == "" {
			s.log.Warnf(ctx, "[sync] order %d: %s of %s not booked, no account configured", o.OrderID, description, amount)
			return
		}
		rows = append(rows, erp.Doc{
			"charge_type":  "Actual",
			"account_head": account,
			"description":  description,
			"tax_amount":   money(amount),
		})
	}
	add(o.ShippingTotal, s.settings.ShippingAccount, "Shipping")
	add(o.TaxTotal, s.settings.TaxAccount, "Tax")
	return rows
}

func (s *Syncer) ensureSalesInvoice(ctx context.Context, o orders.NormalizedOrder, soValue string) (string, error) {
	ref := s.ref(o.OrderID)
	return s.gate(ctx, idempotency.OrderKey(o.OrderID), idempotency.StageSalesInvoice, func() (string, error) {
		if name, err := s.existing(ctx, erp.DoctypeSalesInvoice, erp.Eq("po_no", ref), erp.Eq("is_return", 0)); err != nil || name != "" {
			return name, err
		}
		so, err := s.resolve(ctx, soValue, erp.DoctypeSalesOrder, erp.Eq("po_no", ref))
		if err != nil {
			return "", err
		}
		if so == "" {
			return "", errorx.NonRetriable(409, "sales order marked done but not found for "+ref, nil)
		}

		doc, err := s.erp.MakeSalesInvoice(ctx, so)
		if err != nil {
			return "", fmt.Errorf("make sales invoice from %s: %w", so, err)
		}
		doc["doctype"] = erp.DoctypeSalesInvoice
		doc["po_no"] = ref
		doc["is_return"] = 0
		if s.settings.Company != "" {
			doc["company"] = s.settings.Company
		}
		if o.DiscountTotal.IsPositive() {
			doc["apply_discount_on"] = "Net Total"
			doc["discount_amount"] = money(o.DiscountTotal)
		}
		return s.insertAndSubmit(ctx, doc)
	})
}

func (s *Syncer) ensureDeliveryNote(ctx context.Context, o orders.NormalizedOrder, siValue string) (string, error) {
	ref := s.ref(o.OrderID)
	return s.gate(ctx, idempotency.OrderKey(o.OrderID), idempotency.StageDelivery, func() (string, error) {
		if name, err := s.existing(ctx, erp.DoctypeDeliveryNote, erp.Eq("po_no", ref)); err != nil || name != "" {
			return name, err
		}
		si, err := s.resolve(ctx, siValue, erp.DoctypeSalesInvoice, erp.Eq("po_no", ref), erp.Eq("is_return", 0))
		if err != nil {
			return "", err
		}
		if si == "" {
			return "", errorx.NonRetriable(409, "sales invoice marked done but not found for "+ref, nil)
		}
		doc, err := s.erp.MakeDeliveryNote(ctx, si)
		if err != nil {
			return "", fmt.Errorf("make delivery note from %s: %w", si, err)
		}
		doc["doctype"] = erp.DoctypeDeliveryNote
		doc["po_no"] = ref
		return s.insertAndSubmit(ctx, doc)
	})
}

// ensurePayment records the customer's payment against the invoice.
// Callers check PaymentEligible first.
func (s *Syncer) ensurePayment(ctx context.Context, o orders.NormalizedOrder, siValue string) (string, error) {
	ref := s.ref(o.OrderID)
	refNo := o.TransactionID
	if refNo == "" {
		refNo = ref
	}
	return s.gate(ctx, idempotency.OrderKey(o.OrderID), idempotency.StagePayment, func() (string, error) {
		if name, err := s.existing(ctx, erp.DoctypePaymentEntry, erp.Eq("reference_no", refNo), erp.Eq("payment_type", "Receive")); err != nil || name != "" {
			return name, err
		}
		si, err := s.resolve(ctx, siValue, erp.DoctypeSalesInvoice, erp.Eq("po_no", ref), erp.Eq("is_return", 0))
		if err != nil {
			return "", err
		}
		if si == "" {
			return "", errorx.NonRetriable(409, "sales invoice marked done but not found for "+ref, nil)
		}
		inv, err := s.erp.Get(ctx, erp.DoctypeSalesInvoice, si)
		if err != nil {
			return "", fmt.Errorf("load sales invoice %s: %w", si, err)
		}
		outstanding := inv.Float("outstanding_amount")
		if outstanding <= 0 {
			s.log.Infof(ctx, "[sync] sales invoice %s has nothing outstanding", si)
			return idempotency.ValueDone, nil
		}

		pe, err := s.erp.MakePaymentEntry(ctx, erp.DoctypeSalesInvoice, si)
		if err != nil {
			return "", fmt.Errorf("make payment entry from %s: %w", si, err)
		}
		pe["payment_type"] = "Receive"
		allocate(pe, si, outstanding, s.modeOfPayment(o.PaymentMethod), refNo, s.dateOf(o.PaidAt))
		return s.insertAndSubmit(ctx, pe)
	})
}

// allocate points a payment entry at exactly one invoice for amount
// (negative for a return) and stamps the payment reference.
func allocate(pe erp.Doc, invoice string, amount float64, mode, refNo, refDate string) {
	pe["doctype"] = erp.DoctypePaymentEntry
	pe["mode_of_payment"] = mode
	pe["reference_no"] = refNo
	pe["reference_date"] = refDate
	pe["paid_amount"] = math.Abs(amount)
	pe["received_amount"] = math.Abs(amount)

	var row erp.Doc
	for _, r := range pe.Rows("references") {
		if r.String("reference_name") == invoice {
			row = r
			break
		}
	}
	if row == nil {
		row = erp.Doc{
			"reference_doctype": erp.DoctypeSalesInvoice,
			"reference_name":    invoice,
		}
	}
	row["outstanding_amount"] = amount
	row["allocated_amount"] = amount
	pe["references"] = []erp.Doc{row}
}
