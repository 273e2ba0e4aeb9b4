// Package erp talks to an ERPNext-style REST API. Documents are loose JSON
// objects; only the fields the sync stages touch are given accessors.
package erp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Doctypes used by the sync stages.
const (
	DoctypeCustomer     = "Customer"
	DoctypeAddress      = "Address"
	DoctypeSalesOrder   = "Sales Order"
	DoctypeSalesInvoice = "Sales Invoice"
	DoctypePaymentEntry = "Payment Entry"
	DoctypeDeliveryNote = "Delivery Note"
	// DoctypeDynamicLink is the child table linking an address to its party.
	DoctypeDynamicLink = "Dynamic Link"
)

// Document lifecycle states.
const (
	DocStatusDraft     = 0
	DocStatusSubmitted = 1
	DocStatusCancelled = 2
)

// ErrNotFound is returned by Get when the document does not exist.
var ErrNotFound = errors.New("erp document not found")

// Doc is one ERP document.
type Doc map[string]interface{}

func (d Doc) Name() string    { return d.String("name") }
func (d Doc) Doctype() string { return d.String("doctype") }

// String returns field k as a string; numbers are formatted.
func (d Doc) String(k string) string {
	switch v := d[k].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprint(v)
	}
}

// Float returns field k as a float64, zero when absent or not numeric.
func (d Doc) Float(k string) float64 {
	switch v := d[k].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}

// DocStatus returns the docstatus field.
func (d Doc) DocStatus() int { return int(d.Float("docstatus")) }

// Rows returns a child table as docs.
func (d Doc) Rows(k string) []Doc {
	switch v := d[k].(type) {
	case []Doc:
		return v
	case []map[string]interface{}:
		out := make([]Doc, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out
	case []interface{}:
		out := make([]Doc, 0, len(v))
		for _, r := range v {
			if m, ok := r.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

// Filter is one [field, operator, value] condition. A non-empty Doctype makes
// it a condition on a child table row: [doctype, field, operator, value].
type Filter struct {
	Doctype string
	Field   string
	Op      string
	Value   interface{}
}

// Eq is field = value.
func Eq(field string, value interface{}) Filter { return Filter{Field: field, Op: "=", Value: value} }

// Lt is field < value.
func Lt(field string, value interface{}) Filter { return Filter{Field: field, Op: "<", Value: value} }

// ChildEq is field = value on any row of a child table of the given doctype.
func ChildEq(doctype, field string, value interface{}) Filter {
	return Filter{Doctype: doctype, Field: field, Op: "=", Value: value}
}

// MarshalJSON encodes the filter in list form.
func (f Filter) MarshalJSON() ([]byte, error) {
	if f.Doctype != "" {
		return json.Marshal([]interface{}{f.Doctype, f.Field, f.Op, f.Value})
	}
	return json.Marshal([]interface{}{f.Field, f.Op, f.Value})
}
