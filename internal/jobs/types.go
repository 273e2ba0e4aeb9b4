package jobs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Job type tags.
const (
	TypeOrderCreated    = "order.created"
	TypeOrderUpdated    = "order.updated"
	TypeOrderRestored   = "order.restored"
	TypeCustomerCreated = "customer.created"
	TypeCustomerUpdated = "customer.updated"
	TypeRefundCreated   = "refund.created"
)

var (
	// ErrUnknownType marks an envelope no handler is registered for.
	ErrUnknownType = errors.New("unknown job type")
	// ErrInvalidJob marks an envelope missing the fields its type requires.
	ErrInvalidJob = errors.New("invalid job")
)

// Envelope is the wire form of a queued job (also the SQS message body).
type Envelope struct {
	Type       string          `json:"type" validate:"required"`
	Resource   string          `json:"resource,omitempty"`
	Event      string          `json:"event,omitempty"`
	DeliveryID string          `json:"delivery_id,omitempty"`
	WebhookID  string          `json:"webhook_id,omitempty"`
	OrderID    int64           `json:"order_id,omitempty" validate:"min=0"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Attempt    int             `json:"attempt,omitempty" validate:"min=0"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Job is one decoded unit of work: OrderJob, CustomerJob or RefundJob.
type Job interface {
	Kind() string
	Envelope() Envelope
}

// OrderJob asks for an order to be synchronized. Payload may be empty, in
// which case the order is fetched from the storefront.
type OrderJob struct {
	env     Envelope
	OrderID int64
	Payload json.RawMessage
}

func (j OrderJob) Kind() string       { return j.env.Type }
func (j OrderJob) Envelope() Envelope { return j.env }

// NeedsFetch reports whether the payload is only a reference.
func (j OrderJob) NeedsFetch() bool { return referenceOnly(j.Payload) }

// CustomerJob asks for a customer to be synchronized.
type CustomerJob struct {
	env        Envelope
	CustomerID int64
	Payload    json.RawMessage
}

func (j CustomerJob) Kind() string       { return j.env.Type }
func (j CustomerJob) Envelope() Envelope { return j.env }

// NeedsFetch reports whether the payload is only a reference.
func (j CustomerJob) NeedsFetch() bool { return referenceOnly(j.Payload) }

// RefundJob asks for one refund of an order to be turned into a return.
type RefundJob struct {
	env      Envelope
	RefundID int64
	OrderID  int64
	Payload  json.RawMessage
}

func (j RefundJob) Kind() string       { return j.env.Type }
func (j RefundJob) Envelope() Envelope { return j.env }

// NeedsFetch reports whether the refund lines have to be read from the storefront.
func (j RefundJob) NeedsFetch() bool { return !hasKey(j.Payload, "line_items") }

type idFields struct {
	ID      json.Number `json:"id"`
	OrderID json.Number `json:"order_id"`
	Parent  json.Number `json:"parent_id"`
}

func peekIDs(payload json.RawMessage) (idFields, error) {
	var p idFields
	if len(bytes.TrimSpace(payload)) == 0 {
		return p, nil
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return p, fmt.Errorf("%w: payload is not a JSON object: %v", ErrInvalidJob, err)
	}
	return p, nil
}

func toID(n json.Number) int64 {
	if n == "" {
		return 0
	}
	id, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

// referenceOnly is true for an empty payload or one that only carries an id.
func referenceOnly(payload json.RawMessage) bool {
	if len(bytes.TrimSpace(payload)) == 0 {
		return true
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return false
	}
	for k := range m {
		if k != "id" {
			return false
		}
	}
	return true
}

func hasKey(payload json.RawMessage, key string) bool {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return false
	}
	_, ok := m[key]
	return ok
}

// Decode turns an envelope into its typed job. Unknown types return
// ErrUnknownType; missing ids return ErrInvalidJob.
func Decode(env Envelope) (Job, error) {
	switch env.Type {
	case TypeOrderCreated, TypeOrderUpdated, TypeOrderRestored:
		p, err := peekIDs(env.Payload)
		if err != nil {
			return nil, err
		}
		id := toID(p.ID)
		if id == 0 {
			id = env.OrderID
		}
		if id == 0 {
			return nil, fmt.Errorf("%w: %s without order id", ErrInvalidJob, env.Type)
		}
		return OrderJob{env: env, OrderID: id, Payload: env.Payload}, nil

	case TypeCustomerCreated, TypeCustomerUpdated:
		p, err := peekIDs(env.Payload)
		if err != nil {
			return nil, err
		}
		id := toID(p.ID)
		if id == 0 && referenceOnly(env.Payload) {
			return nil, fmt.Errorf("%w: %s without customer id or payload", ErrInvalidJob, env.Type)
		}
		return CustomerJob{env: env, CustomerID: id, Payload: env.Payload}, nil

	case TypeRefundCreated:
		p, err := peekIDs(env.Payload)
		if err != nil {
			return nil, err
		}
		orderID := env.OrderID
		if orderID == 0 {
			orderID = toID(p.OrderID)
		}
		if orderID == 0 {
			orderID = toID(p.Parent)
		}
		refundID := toID(p.ID)
		if orderID == 0 || refundID == 0 {
			return nil, fmt.Errorf("%w: refund.created needs refund id and order id", ErrInvalidJob)
		}
		return RefundJob{env: env, RefundID: refundID, OrderID: orderID, Payload: env.Payload}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// NewRefundEnvelope builds the envelope the reconciler enqueues for one refund.
// Without a refund payload only the id is carried and the handler fetches the rest.
func NewRefundEnvelope(orderID, refundID int64, payload json.RawMessage, now time.Time) Envelope {
	if len(bytes.TrimSpace(payload)) == 0 {
		payload = json.RawMessage(`{"id":` + strconv.FormatInt(refundID, 10) + `}`)
	}
	return Envelope{
		Type:       TypeRefundCreated,
		Resource:   "refund",
		Event:      "created",
		OrderID:    orderID,
		Payload:    payload,
		EnqueuedAt: now.UTC(),
	}
}
