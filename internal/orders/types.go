package orders

import "github.com/shopspring/decimal"

// Order statuses the document stages branch on.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusOnHold     = "on-hold"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
	StatusRefunded   = "refunded"
	StatusFailed     = "failed"
)

// NormalizedOrder is the canonical, immutable view of a storefront order.
// Monetary totals are tax-exclusive except Total.
type NormalizedOrder struct {
	OrderID  int64
	Status   string
	Currency string

	Subtotal      decimal.Decimal // sum of Items[].LineTotal
	DiscountTotal decimal.Decimal
	ShippingTotal decimal.Decimal
	TaxTotal      decimal.Decimal
	Total         decimal.Decimal

	SetPaid       bool
	PaymentMethod string
	TransactionID string
	OrderKey      string
	PaidAt        string
	CreatedAt     string

	Customer Person
	Billing  Address
	Shipping Address
	Items    []LineItem

	// DroppedLines lists storefront line ids excluded for lacking a SKU.
	DroppedLines []int64
	// RefundIDs are the refund objects the storefront reports for this order.
	RefundIDs []int64
}

// Paid reports whether the storefront considers the order paid.
func (o NormalizedOrder) Paid() bool {
	return o.SetPaid || o.PaidAt != ""
}

// PaymentEligible is the payment-entry predicate: completed AND set_paid.
func (o NormalizedOrder) PaymentEligible() bool {
	return o.Status == StatusCompleted && o.SetPaid
}

// LineItem is one SKU-bearing order line.
type LineItem struct {
	SKU         string
	Name        string
	Qty         decimal.Decimal
	Rate        decimal.Decimal // unit price excl. tax, before order-level discount
	LineTotal   decimal.Decimal // post-discount, excl. tax
	ProductID   int64
	VariationID int64
}

// Person identifies the buyer.
type Person struct {
	CustomerID int64
	FirstName  string
	LastName   string
	Email      string
	Phone      string
	Company    string
}

// FullName joins first and last name, falling back to the email.
func (p Person) FullName() string {
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	case p.LastName != "":
		return p.LastName
	default:
		return p.Email
	}
}

// Address is a postal address block.
type Address struct {
	FirstName string
	LastName  string
	Company   string
	Line1     string
	Line2     string
	City      string
	State     string
	Postcode  string
	Country   string
	Email     string
	Phone     string
}

// Empty reports whether the block has no street line.
func (a Address) Empty() bool {
	return a.Line1 == ""
}

// Customer is the canonical storefront customer.
type Customer struct {
	CustomerID int64
	Person     Person
	Billing    Address
	Shipping   Address
}

// Refund is the canonical storefront refund.
type Refund struct {
	RefundID  int64
	OrderID   int64
	Amount    decimal.Decimal
	Reason    string
	CreatedAt string
	Items     []RefundLine
}

// RefundLine is one refunded SKU line. Qty and Total are absolute values.
type RefundLine struct {
	SKU   string
	Qty   decimal.Decimal
	Total decimal.Decimal
}

// Rate is abs(total)/abs(qty).
func (l RefundLine) Rate() decimal.Decimal {
	if l.Qty.IsZero() {
		return decimal.Zero
	}
	return l.Total.Div(l.Qty)
}
