// Package erptest provides an in-memory erp.Client that records every call.
package erptest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/imrishuroy/go-commerce-erpsync/internal/erp"
	"github.com/imrishuroy/go-commerce-erpsync/internal/errorx"
)

// Operation names accepted by Calls and FailNext.
const (
	OpFind     = "find"
	OpGet      = "get"
	OpInsert   = "insert"
	OpSetValue = "set_value"
	OpSubmit   = "submit"
	OpCancel   = "cancel"
	OpMakeSI   = "make_sales_invoice"
	OpMakeDN   = "make_delivery_note"
	OpMakePE   = "make_payment_entry"
)

var namePrefix = map[string]string{
	erp.DoctypeCustomer:     "CUST",
	erp.DoctypeAddress:      "ADDR",
	erp.DoctypeSalesOrder:   "SO",
	erp.DoctypeSalesInvoice: "SI",
	erp.DoctypePaymentEntry: "PE",
	erp.DoctypeDeliveryNote: "DN",
}

// Fake behaves like a small ERP: inserted documents get names, submit and
// cancel move docstatus, invoices track outstanding amounts.
type Fake struct {
	mu       sync.Mutex
	docs     map[string]map[string]erp.Doc
	seq      map[string]int
	calls    map[string]int
	failures map[string][]error
}

var _ erp.Client = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		docs:     map[string]map[string]erp.Doc{},
		seq:      map[string]int{},
		calls:    map[string]int{},
		failures: map[string][]error{},
	}
}

func callKey(op, doctype string) string { return op + ":" + doctype }

// Calls reports how often op ran against doctype.
func (f *Fake) Calls(op, doctype string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[callKey(op, doctype)]
}

// FailNext makes the next op on doctype return err. Failures queue up.
func (f *Fake) FailNext(op, doctype string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := callKey(op, doctype)
	f.failures[k] = append(f.failures[k], err)
}

// Docs returns copies of every stored document of doctype ordered by name.
func (f *Fake) Docs(doctype string) []erp.Doc {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.docs[doctype]))
	for n := range f.docs[doctype] {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]erp.Doc, 0, len(names))
	for _, n := range names {
		out = append(out, clone(f.docs[doctype][n]))
	}
	return out
}

// Count returns how many documents of doctype have the given docstatus.
func (f *Fake) Count(doctype string, docstatus int) int {
	n := 0
	for _, d := range f.Docs(doctype) {
		if d.DocStatus() == docstatus {
			n++
		}
	}
	return n
}

// Seed stores doc as is. It must carry doctype and name.
func (f *Fake) Seed(doc erp.Doc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store(clone(doc))
}

func (f *Fake) store(doc erp.Doc) {
	dt := doc.Doctype()
	if f.docs[dt] == nil {
		f.docs[dt] = map[string]erp.Doc{}
	}
	f.docs[dt][doc.Name()] = doc
}

// enter counts the call and pops a scripted failure. Caller holds mu.
func (f *Fake) enter(op, doctype string) error {
	k := callKey(op, doctype)
	f.calls[k]++
	if q := f.failures[k]; len(q) > 0 {
		f.failures[k] = q[1:]
		return q[0]
	}
	return nil
}

func notFound(doctype, name string) error {
	return errorx.NonRetriable(404, fmt.Sprintf("%s %s", doctype, name), erp.ErrNotFound)
}

func (f *Fake) FindOne(_ context.Context, doctype string, filters []erp.Filter, fields ...string) (erp.Doc, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpFind, doctype); err != nil {
		return nil, false, err
	}
	names := make([]string, 0, len(f.docs[doctype]))
	for n := range f.docs[doctype] {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		d := f.docs[doctype][n]
		if matches(d, filters) {
			return clone(d), true, nil
		}
	}
	return nil, false, nil
}

// childTables maps a child doctype to the field holding its rows.
var childTables = map[string]string{
	erp.DoctypeDynamicLink: "links",
}

func matches(d erp.Doc, filters []erp.Filter) bool {
	for _, flt := range filters {
		if flt.Doctype == "" {
			if !matchOne(d, flt) {
				return false
			}
			continue
		}
		hit := false
		for _, row := range d.Rows(childTables[flt.Doctype]) {
			if matchOne(row, flt) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

func matchOne(d erp.Doc, flt erp.Filter) bool {
	want := erp.Doc{"v": flt.Value}
	switch flt.Op {
	case "=":
		return d.String(flt.Field) == want.String("v")
	case "!=":
		return d.String(flt.Field) != want.String("v")
	case "<":
		return d.Float(flt.Field) < want.Float("v")
	case ">":
		return d.Float(flt.Field) > want.Float("v")
	default:
		return false
	}
}

func (f *Fake) Get(_ context.Context, doctype, name string) (erp.Doc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpGet, doctype); err != nil {
		return nil, err
	}
	d, ok := f.docs[doctype][name]
	if !ok {
		return nil, notFound(doctype, name)
	}
	return clone(d), nil
}

func (f *Fake) Insert(_ context.Context, doc erp.Doc) (erp.Doc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dt := doc.Doctype()
	if err := f.enter(OpInsert, dt); err != nil {
		return nil, err
	}
	if dt == "" {
		return nil, errorx.NonRetriable(417, "insert without doctype", nil)
	}
	d := clone(doc)
	f.seq[dt]++
	prefix := namePrefix[dt]
	if prefix == "" {
		prefix = strings.ToUpper(strings.ReplaceAll(dt, " ", ""))
	}
	d["name"] = fmt.Sprintf("%s-%05d", prefix, f.seq[dt])
	d["docstatus"] = erp.DocStatusDraft
	if _, ok := d["is_return"]; !ok && dt == erp.DoctypeSalesInvoice {
		d["is_return"] = 0
	}
	if dt == erp.DoctypeSalesOrder || dt == erp.DoctypeSalesInvoice || dt == erp.DoctypeDeliveryNote {
		d["grand_total"] = grandTotal(d)
	}
	f.store(d)
	return clone(d), nil
}

func grandTotal(d erp.Doc) float64 {
	total := 0.0
	for _, it := range d.Rows("items") {
		amt := it.Float("qty") * it.Float("rate")
		total += amt
	}
	for _, tx := range d.Rows("taxes") {
		total += tx.Float("tax_amount")
	}
	total -= d.Float("discount_amount")
	return math.Round(total*100) / 100
}

func (f *Fake) SetValue(_ context.Context, doctype, name, field string, value interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpSetValue, doctype); err != nil {
		return err
	}
	d, ok := f.docs[doctype][name]
	if !ok {
		return notFound(doctype, name)
	}
	d[field] = value
	return nil
}

func (f *Fake) Submit(_ context.Context, doctype, name string) (erp.Doc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpSubmit, doctype); err != nil {
		return nil, err
	}
	d, ok := f.docs[doctype][name]
	if !ok {
		return nil, notFound(doctype, name)
	}
	if d.DocStatus() != erp.DocStatusDraft {
		return nil, errorx.NonRetriable(417, fmt.Sprintf("%s %s is not a draft", doctype, name), nil)
	}
	d["docstatus"] = erp.DocStatusSubmitted

	switch doctype {
	case erp.DoctypeSalesInvoice:
		d["outstanding_amount"] = d.Float("grand_total")
		if d.Float("is_return") == 1 {
			if orig, ok := f.docs[erp.DoctypeSalesInvoice][d.String("return_against")]; ok {
				orig["status"] = "Credit Note Issued"
			}
		}
	case erp.DoctypePaymentEntry:
		for _, ref := range d.Rows("references") {
			inv, ok := f.docs[ref.String("reference_doctype")][ref.String("reference_name")]
			if !ok {
				continue
			}
			out := inv.Float("outstanding_amount") - ref.Float("allocated_amount")
			inv["outstanding_amount"] = math.Round(out*100) / 100
		}
	}
	return clone(d), nil
}

func (f *Fake) Cancel(_ context.Context, doctype, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpCancel, doctype); err != nil {
		return err
	}
	d, ok := f.docs[doctype][name]
	if !ok {
		return notFound(doctype, name)
	}
	if d.DocStatus() == erp.DocStatusSubmitted {
		d["docstatus"] = erp.DocStatusCancelled
	}
	return nil
}

func (f *Fake) submitted(doctype, name string) (erp.Doc, error) {
	d, ok := f.docs[doctype][name]
	if !ok {
		return nil, notFound(doctype, name)
	}
	if d.DocStatus() != erp.DocStatusSubmitted {
		return nil, errorx.NonRetriable(417, fmt.Sprintf("%s %s is not submitted", doctype, name), nil)
	}
	return d, nil
}

func (f *Fake) MakeSalesInvoice(_ context.Context, salesOrder string) (erp.Doc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpMakeSI, erp.DoctypeSalesOrder); err != nil {
		return nil, err
	}
	so, err := f.submitted(erp.DoctypeSalesOrder, salesOrder)
	if err != nil {
		return nil, err
	}
	items := make([]erp.Doc, 0)
	for _, it := range so.Rows("items") {
		row := clone(it)
		row["sales_order"] = salesOrder
		items = append(items, row)
	}
	return erp.Doc{
		"doctype":  erp.DoctypeSalesInvoice,
		"customer": so.String("customer"),
		"company":  so.String("company"),
		"currency": so.String("currency"),
		"items":    items,
		"taxes":    cloneRows(so.Rows("taxes")),
	}, nil
}

func (f *Fake) MakeDeliveryNote(_ context.Context, salesInvoice string) (erp.Doc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpMakeDN, erp.DoctypeSalesInvoice); err != nil {
		return nil, err
	}
	si, err := f.submitted(erp.DoctypeSalesInvoice, salesInvoice)
	if err != nil {
		return nil, err
	}
	items := make([]erp.Doc, 0)
	for _, it := range si.Rows("items") {
		row := clone(it)
		row["against_sales_invoice"] = salesInvoice
		items = append(items, row)
	}
	return erp.Doc{
		"doctype":  erp.DoctypeDeliveryNote,
		"customer": si.String("customer"),
		"company":  si.String("company"),
		"items":    items,
	}, nil
}

func (f *Fake) MakePaymentEntry(_ context.Context, doctype, name string) (erp.Doc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpMakePE, doctype); err != nil {
		return nil, err
	}
	src, err := f.submitted(doctype, name)
	if err != nil {
		return nil, err
	}
	outstanding := src.Float("outstanding_amount")
	if outstanding == 0 {
		return nil, errorx.NonRetriable(417, fmt.Sprintf("%s %s is fully paid", doctype, name), nil)
	}
	paymentType := "Receive"
	if outstanding < 0 {
		paymentType = "Pay"
	}
	return erp.Doc{
		"doctype":         erp.DoctypePaymentEntry,
		"payment_type":    paymentType,
		"party_type":      "Customer",
		"party":           src.String("customer"),
		"paid_amount":     math.Abs(outstanding),
		"received_amount": math.Abs(outstanding),
		"references": []erp.Doc{{
			"reference_doctype":  doctype,
			"reference_name":     name,
			"total_amount":       src.Float("grand_total"),
			"outstanding_amount": outstanding,
			"allocated_amount":   outstanding,
		}},
	}, nil
}

func clone(d erp.Doc) erp.Doc {
	out := make(erp.Doc, len(d))
	for k, v := range d {
		switch rows := v.(type) {
		case []erp.Doc:
			out[k] = cloneRows(rows)
		case []interface{}:
			out[k] = cloneRows(erp.Doc{"r": rows}.Rows("r"))
		default:
			out[k] = v
		}
	}
	return out
}

func cloneRows(rows []erp.Doc) []erp.Doc {
	out := make([]erp.Doc, len(rows))
	for i, r := range rows {
		out[i] = clone(r)
	}
	return out
}
