// Package docsync drives each storefront object through its ERP documents:
// customer, sales order, sales invoice, payment entry, delivery note, and the
// cancellation and refund returns. Every creating call sits behind an
// idempotency marker and a natural-key lookup, so a job can be re-run at any
// point without duplicating a document.
package docsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-commerce-erpsync/internal/config"
	"github.com/imrishuroy/go-commerce-erpsync/internal/erp"
	"github.com/imrishuroy/go-commerce-erpsync/internal/errorx"
	"github.com/imrishuroy/go-commerce-erpsync/internal/idempotency"
	"github.com/imrishuroy/go-commerce-erpsync/internal/jobs"
	"github.com/imrishuroy/go-commerce-erpsync/internal/logger"
	"github.com/imrishuroy/go-commerce-erpsync/internal/orders"
)

const fallbackModeOfPayment = "Cash"

// Storefront is the read side of the shop API.
type Storefront interface {
	FetchOrder(ctx context.Context, id int64) (json.RawMessage, error)
	FetchOrderRefunds(ctx context.Context, orderID int64) ([]json.RawMessage, error)
	FetchCustomer(ctx context.Context, id int64) (json.RawMessage, error)
}

// Enqueuer accepts follow-up jobs (refunds found while reconciling).
type Enqueuer interface {
	Enqueue(ctx context.Context, env jobs.Envelope) error
}

// Settings are the accounting choices the stages need.
type Settings struct {
	Company              string
	ExternalRefPrefix    string
	DefaultModeOfPayment string
	ModeOfPayment        map[string]string
	ShippingAccount      string
	TaxAccount           string
	DeliveryNotes        bool
}

// SettingsFromConfig copies the ERP section of the service config.
func SettingsFromConfig(c config.ERPConfig) Settings {
	return Settings{
		Company:              c.Company,
		ExternalRefPrefix:    c.ExternalRefPrefix,
		DefaultModeOfPayment: c.DefaultModeOfPayment,
		ModeOfPayment:        c.ModeOfPayment,
		ShippingAccount:      c.ShippingAccount,
		TaxAccount:           c.TaxAccount,
		DeliveryNotes:        c.DeliveryNotes,
	}
}

// Options groups dependencies for the Syncer.
type Options struct {
	ERP        erp.Client
	Markers    idempotency.Store
	Storefront Storefront
	Queue      Enqueuer
	Logger     logger.Logger
	Settings   Settings
}

// Syncer owns every marker read and write. It is meant to be driven by a
// single consumer.
type Syncer struct {
	erp      erp.Client
	markers  idempotency.Store
	shop     Storefront
	queue    Enqueuer
	log      logger.Logger
	settings Settings
	nowFunc  func() time.Time
}

func New(opts Options) *Syncer {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	settings := opts.Settings
	if settings.ExternalRefPrefix == "" {
		settings.ExternalRefPrefix = "EXT-"
	}
	return &Syncer{
		erp:      opts.ERP,
		markers:  opts.Markers,
		shop:     opts.Storefront,
		queue:    opts.Queue,
		log:      log,
		settings: settings,
		nowFunc:  time.Now,
	}
}

// Handle resolves a job's payload and runs the matching operation.
func (s *Syncer) Handle(ctx context.Context, job jobs.Job) error {
	switch j := job.(type) {
	case jobs.OrderJob:
		raw := j.Payload
		if j.NeedsFetch() {
			fetched, err := s.fetch(ctx, "order", func() (json.RawMessage, error) { return s.shop.FetchOrder(ctx, j.OrderID) })
			if err != nil {
				return err
			}
			raw = fetched
		}
		o, err := orders.Normalize(raw)
		if err != nil {
			return errorx.NonRetriable(422, "normalize order", err)
		}
		return s.SyncOrder(ctx, o, j.Kind())

	case jobs.CustomerJob:
		raw := j.Payload
		if j.NeedsFetch() {
			fetched, err := s.fetch(ctx, "customer", func() (json.RawMessage, error) { return s.shop.FetchCustomer(ctx, j.CustomerID) })
			if err != nil {
				return err
			}
			raw = fetched
		}
		c, err := orders.NormalizeCustomer(raw)
		if err != nil {
			return errorx.NonRetriable(422, "normalize customer", err)
		}
		env := j.Envelope()
		return s.SyncCustomer(ctx, idempotency.ObjectKey("customer", c.CustomerID, env.DeliveryID, raw), c)

	case jobs.RefundJob:
		raw := j.Payload
		if j.NeedsFetch() {
			fetched, err := s.fetchRefund(ctx, j.OrderID, j.RefundID)
			if err != nil {
				return err
			}
			raw = fetched
		}
		r, err := orders.NormalizeRefund(raw, j.OrderID)
		if err != nil {
			return errorx.NonRetriable(422, "normalize refund", err)
		}
		return s.ProcessRefund(ctx, r)
	}
	return fmt.Errorf("%w: %T", jobs.ErrUnknownType, job)
}

func (s *Syncer) fetch(ctx context.Context, what string, fn func() (json.RawMessage, error)) (json.RawMessage, error) {
	if s.shop == nil {
		return nil, errorx.NonRetriable(0, "job carries only a reference and no storefront client is configured", nil)
	}
	raw, err := fn()
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", what, err)
	}
	return raw, nil
}

func (s *Syncer) fetchRefund(ctx context.Context, orderID, refundID int64) (json.RawMessage, error) {
	if s.shop == nil {
		return nil, errorx.NonRetriable(0, "refund job carries only a reference and no storefront client is configured", nil)
	}
	raws, err := s.shop.FetchOrderRefunds(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("fetch refunds of order %d: %w", orderID, err)
	}
	for _, raw := range raws {
		var head struct {
			ID int64 `json:"id"`
		}
		if json.Unmarshal(raw, &head) == nil && head.ID == refundID {
			return raw, nil
		}
	}
	// the shop may not list a just-created refund yet
	return nil, errorx.Retriable(404, fmt.Sprintf("refund %d not listed for order %d", refundID, orderID), nil)
}

// gate runs fn unless the (object, stage) marker exists, then records fn's
// result. The marker's stored value is returned when the stage already ran.
func (s *Syncer) gate(ctx context.Context, object, stage string, fn func() (string, error)) (string, error) {
	key := idempotency.Key{Object: object, Stage: stage}
	m, err := s.markers.Get(ctx, key)
	if err != nil {
		return "", errorx.Retriable(0, "read marker "+key.String(), err)
	}
	if m != nil {
		s.log.Debugf(ctx, "[sync] %s already done (%s)", key, m.Value)
		return m.Value, nil
	}

	value, err := fn()
	if err != nil {
		return "", err
	}
	if value == "" {
		value = idempotency.ValueDone
	}
	if err := idempotency.Mark(ctx, s.markers, key, value); err != nil {
		if errors.Is(err, idempotency.ErrMarkerExists) {
			s.log.Warnf(ctx, "[sync] %s was marked concurrently", key)
			return value, nil
		}
		return "", errorx.Retriable(0, "write marker "+key.String(), err)
	}
	s.log.Infof(ctx, "[sync] %s -> %s", key, value)
	return value, nil
}

// marked returns the stored value of a marker, or "".
func (s *Syncer) marked(ctx context.Context, object, stage string) (string, error) {
	m, err := s.markers.Get(ctx, idempotency.Key{Object: object, Stage: stage})
	if err != nil {
		return "", errorx.Retriable(0, "read marker "+object+"."+stage, err)
	}
	if m == nil {
		return "", nil
	}
	return m.Value, nil
}

// existing finds a live document by natural key and finishes a draft left by
// an earlier attempt whose submit failed. It returns "" when nothing matches.
func (s *Syncer) existing(ctx context.Context, doctype string, filters ...erp.Filter) (string, error) {
	filters = append(filters, erp.Lt("docstatus", erp.DocStatusCancelled))
	doc, found, err := s.erp.FindOne(ctx, doctype, filters, "name", "docstatus")
	if err != nil {
		return "", fmt.Errorf("find %s: %w", doctype, err)
	}
	if !found {
		return "", nil
	}
	if doc.DocStatus() == erp.DocStatusDraft {
		if _, err := s.erp.Submit(ctx, doctype, doc.Name()); err != nil {
			return "", fmt.Errorf("submit draft %s %s: %w", doctype, doc.Name(), err)
		}
		s.log.Infof(ctx, "[sync] submitted draft %s %s left by an earlier attempt", doctype, doc.Name())
	}
	return doc.Name(), nil
}

// resolve turns a marker value into a document name, looking the document up
// when the marker holds no name.
func (s *Syncer) resolve(ctx context.Context, value, doctype string, filters ...erp.Filter) (string, error) {
	if value != "" && value != idempotency.ValueDone {
		return value, nil
	}
	filters = append(filters, erp.Eq("docstatus", erp.DocStatusSubmitted))
	doc, found, err := s.erp.FindOne(ctx, doctype, filters, "name")
	if err != nil {
		return "", fmt.Errorf("find %s: %w", doctype, err)
	}
	if !found {
		return "", nil
	}
	return doc.Name(), nil
}

func (s *Syncer) insertAndSubmit(ctx context.Context, doc erp.Doc) (string, error) {
	doctype := doc.Doctype()
	created, err := s.erp.Insert(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("insert %s: %w", doctype, err)
	}
	if _, err := s.erp.Submit(ctx, doctype, created.Name()); err != nil {
		return "", fmt.Errorf("submit %s %s: %w", doctype, created.Name(), err)
	}
	s.log.Infof(ctx, "[sync] created %s %s", doctype, created.Name())
	return created.Name(), nil
}

// ref is the external reference stamped on every document of an order.
func (s *Syncer) ref(orderID int64) string {
	return fmt.Sprintf("%s%d", s.settings.ExternalRefPrefix, orderID)
}

func (s *Syncer) modeOfPayment(method string) string {
	if m, ok := s.settings.ModeOfPayment[method]; ok && m != "" {
		return m
	}
	if s.settings.DefaultModeOfPayment != "" {
		return s.settings.DefaultModeOfPayment
	}
	return fallbackModeOfPayment
}

func (s *Syncer) today() string { return s.nowFunc().UTC().Format("2006-01-02") }

// dateOf takes the date part of a storefront timestamp, or today.
func (s *Syncer) dateOf(ts string) string {
	if len(ts) >= 10 {
		if _, err := time.Parse("2006-01-02", ts[:10]); err == nil {
			return ts[:10]
		}
	}
	return s.today()
}

func money(d decimal.Decimal) float64 { return d.Round(2).InexactFloat64() }
