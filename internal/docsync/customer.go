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

// SyncCustomer ensures the ERP customer and its addresses for a storefront customer.
func (s *Syncer) SyncCustomer(ctx context.Context, objectKey string, c orders.Customer) error {
	ctx = logger.WithObjectKey(ctx, objectKey)
	value, err := s.gate(ctx, objectKey, idempotency.StageCustomer, func() (string, error) {
		return s.ensureCustomer(ctx, c.Person)
	})
	if err != nil {
		return err
	}
	name := value
	if name == idempotency.ValueDone {
		if name, err = s.ensureCustomer(ctx, c.Person); err != nil {
			return err
		}
	}
	title := c.Person.FullName()
	if _, err := s.ensureAddress(ctx, name, title, c.Billing, "Billing"); err != nil {
		return err
	}
	if _, err := s.ensureAddress(ctx, name, title, c.Shipping, "Shipping"); err != nil {
		return err
	}
	return nil
}

// customerFor returns the ERP customer of an order. Registered buyers go
// through their customer marker; guests are matched by email or name.
func (s *Syncer) customerFor(ctx context.Context, p orders.Person) (string, error) {
	if p.CustomerID <= 0 {
		return s.ensureCustomer(ctx, p)
	}
	value, err := s.gate(ctx, idempotency.CustomerKey(p.CustomerID), idempotency.StageCustomer, func() (string, error) {
		return s.ensureCustomer(ctx, p)
	})
	if err != nil || value != idempotency.ValueDone {
		return value, err
	}
	return s.ensureCustomer(ctx, p)
}

// ensureCustomer finds a customer by email, then by name, and creates one
// when neither matches.
func (s *Syncer) ensureCustomer(ctx context.Context, p orders.Person) (string, error) {
	if p.Email != "" {
		doc, found, err := s.erp.FindOne(ctx, erp.DoctypeCustomer, []erp.Filter{erp.Eq("email_id", p.Email)})
		if err != nil {
			return "", fmt.Errorf("find customer by email: %w", err)
		}
		if found {
			return doc.Name(), nil
		}
	}

	name := p.FullName()
	if name == "" {
		return "", errorx.NonRetriable(422, "customer has neither name nor email", nil)
	}
	doc, found, err := s.erp.FindOne(ctx, erp.DoctypeCustomer, []erp.Filter{erp.Eq("customer_name", name)}, "name", "email_id")
	if err != nil {
		return "", fmt.Errorf("find customer by name: %w", err)
	}
	if found {
		// record the email so the next lookup matches on it
		if p.Email != "" && doc.String("email_id") == "" {
			if err := s.erp.SetValue(ctx, erp.DoctypeCustomer, doc.Name(), "email_id", p.Email); err != nil {
				s.log.Warnf(ctx, "[sync] could not set email of customer %s: %v", doc.Name(), err)
			}
		}
		return doc.Name(), nil
	}

	customerType := "Individual"
	if p.Company != "" && p.FirstName == "" && p.LastName == "" {
		customerType = "Company"
	}
	newDoc := erp.Doc{
		"doctype":        erp.DoctypeCustomer,
		"customer_name":  name,
		"customer_type":  customerType,
		"customer_group": "All Customer Groups",
		"territory":      "All Territories",
	}
	if p.Email != "" {
		newDoc["email_id"] = p.Email
	}
	if p.Phone != "" {
		newDoc["mobile_no"] = p.Phone
	}
	created, err := s.erp.Insert(ctx, newDoc)
	if err != nil {
		return "", fmt.Errorf("insert customer: %w", err)
	}
	s.log.Infof(ctx, "[sync] created customer %s (%s)", created.Name(), name)
	return created.Name(), nil
}

// ensureAddress links one address block to a customer. Empty blocks are skipped.
func (s *Syncer) ensureAddress(ctx context.Context, customer, title string, a orders.Address, kind string) (string, error) {
	if a.Empty() {
		return "", nil
	}
	if title == "" {
		title = customer
	}
	doc, found, err := s.erp.FindOne(ctx, erp.DoctypeAddress, []erp.Filter{
		erp.Eq("address_title", title),
		erp.Eq("address_type", kind),
		erp.Eq("address_line1", a.Line1),
		erp.ChildEq(erp.DoctypeDynamicLink, "link_doctype", erp.DoctypeCustomer),
		erp.ChildEq(erp.DoctypeDynamicLink, "link_name", customer),
	})
	if err != nil {
		return "", fmt.Errorf("find %s address: %w", kind, err)
	}
	if found {
		return doc.Name(), nil
	}

	addr := erp.Doc{
		"doctype":       erp.DoctypeAddress,
		"address_title": title,
		"address_type":  kind,
		"address_line1": a.Line1,
		"address_line2": a.Line2,
		"city":          a.City,
		"state":         a.State,
		"pincode":       a.Postcode,
		"country":       a.Country,
		"links": []erp.Doc{{
			"link_doctype": erp.DoctypeCustomer,
			"link_name":    customer,
		}},
	}
	if a.Email != "" {
		addr["email_id"] = a.Email
	}
	if a.Phone != "" {
		addr["phone"] = a.Phone
	}
	created, err := s.erp.Insert(ctx, addr)
	if err != nil {
		return "", fmt.Errorf("insert %s address: %w", kind, err)
	}
	return created.Name(), nil
}
