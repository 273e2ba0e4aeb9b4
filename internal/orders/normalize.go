package orders

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrMissingID is returned when a payload carries no usable object id.
var ErrMissingID = errors.New("payload has no id")

// Normalize converts a raw storefront order payload into a NormalizedOrder.
// It performs no I/O and is deterministic: equal input yields equal output.
// Lines without a SKU are left out of Items and recorded in DroppedLines.
func Normalize(raw []byte) (NormalizedOrder, error) {
	var w wireOrder
	if err := json.Unmarshal(raw, &w); err != nil {
		return NormalizedOrder{}, fmt.Errorf("decode order: %w", err)
	}
	if w.ID <= 0 {
		return NormalizedOrder{}, ErrMissingID
	}

	o := NormalizedOrder{
		OrderID:       int64(w.ID),
		Status:        string(w.Status),
		Currency:      string(w.Currency),
		DiscountTotal: w.DiscountTotal.Decimal,
		ShippingTotal: w.ShippingTotal.Decimal,
		TaxTotal:      w.TotalTax.Decimal,
		Total:         w.Total.Decimal,
		SetPaid:       bytes.Equal(bytes.TrimSpace(w.SetPaid), []byte("true")),
		PaymentMethod: string(w.PaymentMethod),
		TransactionID: string(w.TransactionID),
		OrderKey:      string(w.OrderKey),
		PaidAt:        string(w.DatePaid),
		CreatedAt:     string(w.DateCreated),
		Customer: Person{
			CustomerID: int64(w.CustomerID),
			FirstName:  string(w.Billing.FirstName),
			LastName:   string(w.Billing.LastName),
			Email:      string(w.Billing.Email),
			Phone:      string(w.Billing.Phone),
			Company:    string(w.Billing.Company),
		},
		Billing:  w.Billing.canonical(),
		Shipping: w.Shipping.canonical(),
	}

	subtotal := decimal.Zero
	for _, li := range w.LineItems {
		if li.SKU == "" {
			o.DroppedLines = append(o.DroppedLines, int64(li.ID))
			continue
		}
		item := LineItem{
			SKU:         string(li.SKU),
			Name:        string(li.Name),
			Qty:         li.Quantity.Decimal,
			Rate:        unitRate(li),
			LineTotal:   li.Total.Decimal,
			ProductID:   int64(li.ProductID),
			VariationID: int64(li.VariationID),
		}
		subtotal = subtotal.Add(item.LineTotal)
		o.Items = append(o.Items, item)
	}
	o.Subtotal = subtotal

	for _, r := range w.Refunds {
		if r.ID > 0 {
			o.RefundIDs = append(o.RefundIDs, int64(r.ID))
		}
	}
	return o, nil
}

// unitRate prefers the pre-discount subtotal per unit, falling back to the
// storefront's own unit price.
func unitRate(li wireLineItem) decimal.Decimal {
	if !li.Quantity.IsZero() && !li.Subtotal.IsZero() {
		return li.Subtotal.Div(li.Quantity.Decimal).Round(4)
	}
	return li.Price.Decimal
}

// NormalizeCustomer converts a raw storefront customer payload.
func NormalizeCustomer(raw []byte) (Customer, error) {
	var w wireCustomer
	if err := json.Unmarshal(raw, &w); err != nil {
		return Customer{}, fmt.Errorf("decode customer: %w", err)
	}
	c := Customer{
		CustomerID: int64(w.ID),
		Person: Person{
			CustomerID: int64(w.ID),
			FirstName:  string(w.FirstName),
			LastName:   string(w.LastName),
			Email:      string(w.Email),
			Phone:      string(w.Billing.Phone),
			Company:    string(w.Billing.Company),
		},
		Billing:  w.Billing.canonical(),
		Shipping: w.Shipping.canonical(),
	}
	if c.Person.Email == "" {
		c.Person.Email = c.Billing.Email
	}
	return c, nil
}

// NormalizeRefund converts a raw storefront refund payload. Storefronts report
// refunded quantities and totals as negatives; both are stored as absolutes.
// Lines without a SKU or with a zero quantity are skipped.
func NormalizeRefund(raw []byte, orderID int64) (Refund, error) {
	var w wireRefund
	if err := json.Unmarshal(raw, &w); err != nil {
		return Refund{}, fmt.Errorf("decode refund: %w", err)
	}
	if w.ID <= 0 {
		return Refund{}, ErrMissingID
	}
	r := Refund{
		RefundID:  int64(w.ID),
		OrderID:   orderID,
		Amount:    w.Amount.Abs(),
		Reason:    string(w.Reason),
		CreatedAt: string(w.DateCreated),
	}
	for _, li := range w.LineItems {
		qty := li.Quantity.Abs()
		if li.SKU == "" || qty.IsZero() {
			continue
		}
		r.Items = append(r.Items, RefundLine{
			SKU:   string(li.SKU),
			Qty:   qty,
			Total: li.Total.Abs(),
		})
	}
	return r, nil
}
