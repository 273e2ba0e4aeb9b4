package orders

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// flexDecimal accepts a JSON string, number, or null. Anything unparseable
// decodes to zero rather than failing the whole payload.
type flexDecimal struct {
	decimal.Decimal
}

func (f *flexDecimal) UnmarshalJSON(b []byte) error {
	f.Decimal = decimal.Zero
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	if d, err := decimal.NewFromString(s); err == nil {
		f.Decimal = d
	}
	return nil
}

// flexInt accepts a JSON integer or numeric string; anything else is zero.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	*f = 0
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = flexInt(n)
		return nil
	}
	if d, err := decimal.NewFromString(s); err == nil {
		*f = flexInt(d.IntPart())
	}
	return nil
}

// flexString accepts strings and numbers (SKUs are sometimes numeric).
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			*f = ""
			return nil
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	*f = flexString(string(b))
	return nil
}

type wireAddress struct {
	FirstName flexString `json:"first_name"`
	LastName  flexString `json:"last_name"`
	Company   flexString `json:"company"`
	Address1  flexString `json:"address_1"`
	Address2  flexString `json:"address_2"`
	City      flexString `json:"city"`
	State     flexString `json:"state"`
	Postcode  flexString `json:"postcode"`
	Country   flexString `json:"country"`
	Email     flexString `json:"email"`
	Phone     flexString `json:"phone"`
}

func (w wireAddress) canonical() Address {
	return Address{
		FirstName: string(w.FirstName),
		LastName:  string(w.LastName),
		Company:   string(w.Company),
		Line1:     string(w.Address1),
		Line2:     string(w.Address2),
		City:      string(w.City),
		State:     string(w.State),
		Postcode:  string(w.Postcode),
		Country:   string(w.Country),
		Email:     string(w.Email),
		Phone:     string(w.Phone),
	}
}

type wireLineItem struct {
	ID          flexInt     `json:"id"`
	Name        flexString  `json:"name"`
	SKU         flexString  `json:"sku"`
	ProductID   flexInt     `json:"product_id"`
	VariationID flexInt     `json:"variation_id"`
	Quantity    flexDecimal `json:"quantity"`
	Price       flexDecimal `json:"price"`
	Subtotal    flexDecimal `json:"subtotal"`
	Total       flexDecimal `json:"total"`
}

type wireRefundRef struct {
	ID flexInt `json:"id"`
}

type wireOrder struct {
	ID                 flexInt         `json:"id"`
	Status             flexString      `json:"status"`
	Currency           flexString      `json:"currency"`
	DiscountTotal      flexDecimal     `json:"discount_total"`
	ShippingTotal      flexDecimal     `json:"shipping_total"`
	TotalTax           flexDecimal     `json:"total_tax"`
	Total              flexDecimal     `json:"total"`
	SetPaid            json.RawMessage `json:"set_paid"`
	PaymentMethod      flexString      `json:"payment_method"`
	PaymentMethodTitle flexString      `json:"payment_method_title"`
	TransactionID      flexString      `json:"transaction_id"`
	OrderKey           flexString      `json:"order_key"`
	DatePaid           flexString      `json:"date_paid"`
	DateCreated        flexString      `json:"date_created"`
	CustomerID         flexInt         `json:"customer_id"`
	Billing            wireAddress     `json:"billing"`
	Shipping           wireAddress     `json:"shipping"`
	LineItems          []wireLineItem  `json:"line_items"`
	Refunds            []wireRefundRef `json:"refunds"`
}

type wireCustomer struct {
	ID        flexInt     `json:"id"`
	Email     flexString  `json:"email"`
	FirstName flexString  `json:"first_name"`
	LastName  flexString  `json:"last_name"`
	Billing   wireAddress `json:"billing"`
	Shipping  wireAddress `json:"shipping"`
}

type wireRefundLine struct {
	SKU      flexString  `json:"sku"`
	Quantity flexDecimal `json:"quantity"`
	Total    flexDecimal `json:"total"`
}

type wireRefund struct {
	ID          flexInt          `json:"id"`
	Amount      flexDecimal      `json:"amount"`
	Reason      flexString       `json:"reason"`
	DateCreated flexString       `json:"date_created"`
	LineItems   []wireRefundLine `json:"line_items"`
}
