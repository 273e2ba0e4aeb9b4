package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

// Stage names recorded by the document state machine.
const (
	StageCustomer     = "cust"
	StageSalesOrder   = "so"
	StageSalesInvoice = "si"
	StagePayment      = "pe"
	StageDelivery     = "dn"
	StageReturn       = "si_return"
	StageCancelReturn = "cancel_return"
	StageCancelPay    = "cancel_pe"
)

const (
	// ValueDone is stored when a stage produces no remote document name.
	ValueDone = "done"
	// ValueSkipped closes a stage that can never produce a document.
	ValueSkipped = "skipped"
)

// ErrMarkerExists is returned by Mark when the marker is already present.
var ErrMarkerExists = errors.New("marker already exists")

// Key addresses one (object, stage) marker.
type Key struct {
	Object string
	Stage  string
}

// String renders the key as object_key.stage.
func (k Key) String() string { return k.Object + "." + k.Stage }

// Marker is durable proof that a stage completed for an object.
type Marker struct {
	MarkerKey string    `dynamodbav:"marker_key" json:"-"` // PK: object_key.stage
	ObjectKey string    `dynamodbav:"object_key" json:"object_key"`
	Stage     string    `dynamodbav:"stage" json:"stage"`
	Value     string    `dynamodbav:"value" json:"value"`
	CreatedAt time.Time `dynamodbav:"created_at" json:"created_at"`
}

// Store persists markers. Get returns (nil, nil) when no marker exists.
// Create must never overwrite: it returns (false, nil) if the marker is present.
type Store interface {
	Get(ctx context.Context, key Key) (*Marker, error)
	Create(ctx context.Context, key Key, value string) (bool, error)
	Delete(ctx context.Context, key Key) error
}

// ObjectKey derives the stable object key for a marker. The resource id wins;
// then the sender's delivery id; then a hash of the raw job.
func ObjectKey(prefix string, id int64, deliveryID string, raw []byte) string {
	switch {
	case id > 0:
		return prefix + "-" + strconv.FormatInt(id, 10)
	case deliveryID != "":
		return "delivery-" + deliveryID
	default:
		sum := sha256.Sum256(raw)
		return "job-" + hex.EncodeToString(sum[:12])
	}
}

// OrderKey is the object key for an order.
func OrderKey(orderID int64) string { return ObjectKey("order", orderID, "", nil) }

// RefundKey is the object key for a refund.
func RefundKey(refundID int64) string { return ObjectKey("refund", refundID, "", nil) }

// CustomerKey is the object key for a customer.
func CustomerKey(customerID int64) string { return ObjectKey("customer", customerID, "", nil) }

// Mark creates the marker and reports ErrMarkerExists when it was already present.
func Mark(ctx context.Context, s Store, key Key, value string) error {
	created, err := s.Create(ctx, key, value)
	if err != nil {
		return err
	}
	if !created {
		return ErrMarkerExists
	}
	return nil
}
