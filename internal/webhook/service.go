package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-commerce-erpsync/internal/archive"
	"github.com/imrishuroy/go-commerce-erpsync/internal/jobs"
	"github.com/imrishuroy/go-commerce-erpsync/internal/logger"
	"github.com/imrishuroy/go-commerce-erpsync/internal/validation"
)

var (
	// ErrEnqueue wraps a queue failure; the sender should retry the delivery.
	ErrEnqueue = errors.New("enqueue failed")
	// ErrNotReplayable marks an archived request that failed verification, was
	// a ping, or was never read in full.
	ErrNotReplayable = errors.New("archived request cannot be replayed")
)

// Options groups dependencies for the webhook Service.
type Options struct {
	Secret string
	Sink   archive.Sink // optional
	Queue  jobs.Queue
	Logger logger.Logger
	// DepthWarn logs a warning once the queue holds this many envelopes. Zero disables it.
	DepthWarn int
}

// Service verifies, archives and enqueues inbound deliveries.
type Service struct {
	secret    string
	sink      archive.Sink
	queue     jobs.Queue
	schemas   *Schemas
	validate  *validatorv10.Validate
	log       logger.Logger
	depthWarn int
	nowFunc   func() time.Time
}

func NewService(opts Options) (*Service, error) {
	if opts.Queue == nil {
		return nil, errors.New("webhook service needs a queue")
	}
	schemas, err := LoadSchemas()
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		secret:    opts.Secret,
		sink:      opts.Sink,
		queue:     opts.Queue,
		schemas:   schemas,
		validate:  validation.New(),
		log:       log,
		depthWarn: opts.DepthWarn,
		nowFunc:   time.Now,
	}, nil
}

// Request is one raw inbound delivery. Body must be the exact bytes received.
type Request struct {
	Header http.Header
	Body   []byte
}

// Response is what the HTTP layer writes back.
type Response struct {
	Status int
	Body   map[string]interface{}
}

// Inbound is an authenticated delivery ready for dispatch.
type Inbound struct {
	Topic      Topic
	DeliveryID string
	WebhookID  string
	Body       []byte
}

// Handle runs the full ingress path: archive, ping check, signature, topic,
// schema, enqueue.
func (s *Service) Handle(ctx context.Context, req Request) Response {
	deliveryID := req.Header.Get(HeaderDeliveryID)
	requestID := deliveryID
	if requestID == "" {
		requestID = "req-" + uuid.NewString()
	}
	ctx = logger.WithDeliveryID(ctx, requestID)

	topic, fromHeader := TopicFromHeaders(req.Header)
	if !fromHeader {
		topic, _ = SniffTopic(req.Body)
	}

	// the archive records the verification outcome; nothing is acted on before it is written
	ping := IsPing(req.Header.Get("Content-Type"), req.Body)
	var v Verification
	if !ping {
		v = Verify(s.secret, req.Body, req.Header.Get(HeaderSignature))
	}
	rec := archive.Capture(s.nowFunc(), req.Header, req.Body, HeaderSignature)
	rec.SignatureOK = v.OK
	rec.Ping = ping
	archiveRef := s.archive(ctx, rec, topic, req.Header)

	if ping {
		s.log.Infof(ctx, "[webhook] ping acknowledged (archive=%s)", archiveRef)
		return Response{Status: http.StatusOK, Body: map[string]interface{}{"ok": true, "ping": true}}
	}
	if !v.OK {
		s.log.Warnf(ctx, "[webhook] signature mismatch topic=%s received_len=%d archive=%s", topic, len(v.Received), archiveRef)
		body := map[string]interface{}{"ok": false, "error": "invalid_signature"}
		if archiveRef != "" {
			body["archive_ref"] = archiveRef
		}
		return Response{Status: http.StatusUnauthorized, Body: body}
	}

	if topic.Resource == "" {
		s.log.Warnf(ctx, "[webhook] could not determine topic (archive=%s)", archiveRef)
		return Response{Status: http.StatusBadRequest, Body: map[string]interface{}{"ok": false, "error": "unknown_topic"}}
	}

	env, err := s.Dispatch(ctx, Inbound{
		Topic:      topic,
		DeliveryID: deliveryID,
		WebhookID:  req.Header.Get(HeaderWebhookID),
		Body:       req.Body,
	})
	body := map[string]interface{}{
		"ok":          err == nil,
		"topic":       topic.String(),
		"delivery_id": deliveryID,
		"request_id":  requestID,
	}
	if archiveRef != "" {
		body["archive_ref"] = archiveRef
	}

	switch {
	case err == nil:
		body["queued"] = env != nil
		return Response{Status: http.StatusOK, Body: body}
	case errors.Is(err, ErrMalformed):
		body["error"] = "malformed_payload"
		return Response{Status: http.StatusBadRequest, Body: body}
	case errors.Is(err, ErrSchema), errors.Is(err, jobs.ErrInvalidJob):
		body["error"] = "invalid_payload"
		body["detail"] = err.Error()
		return Response{Status: http.StatusUnprocessableEntity, Body: body}
	default:
		body["error"] = "enqueue_failed"
		return Response{Status: http.StatusServiceUnavailable, Body: body}
	}
}

// Reject archives a request refused before its body was read in full and
// returns the archive ref.
func (s *Service) Reject(ctx context.Context, h http.Header, partial []byte, declared int64, reason string) string {
	deliveryID := h.Get(HeaderDeliveryID)
	if deliveryID != "" {
		ctx = logger.WithDeliveryID(ctx, deliveryID)
	}
	topic, _ := TopicFromHeaders(h)
	rec := archive.CaptureTruncated(s.nowFunc(), h, partial, declared, reason, HeaderSignature)
	ref := s.archive(ctx, rec, topic, h)
	s.log.Warnf(ctx, "[webhook] rejected request: %s (archive=%s)", reason, ref)
	return ref
}

func (s *Service) archive(ctx context.Context, rec archive.Record, topic Topic, h http.Header) string {
	if s.sink == nil {
		return ""
	}
	rec.Topic = topic.String()
	rec.Resource = topic.Resource
	rec.Event = topic.Event
	rec.DeliveryID = h.Get(HeaderDeliveryID)
	rec.WebhookID = h.Get(HeaderWebhookID)

	ref, err := s.sink.Archive(ctx, rec)
	if err != nil {
		s.log.Warnf(ctx, "[archive] failed to archive delivery: %v", err)
		return ""
	}
	return ref
}

// Dispatch validates an authenticated delivery and enqueues its job. Unsupported
// resources are acknowledged without a job (nil envelope). Replay enters here too.
func (s *Service) Dispatch(ctx context.Context, in Inbound) (*jobs.Envelope, error) {
	if !in.Topic.Supported() {
		s.log.Infof(ctx, "[webhook] ignoring unsupported topic %s", in.Topic)
		return nil, nil
	}
	if err := s.schemas.Validate(in.Topic.Resource, in.Body); err != nil {
		s.log.Warnf(ctx, "[webhook] rejected %s payload: %v", in.Topic, err)
		return nil, err
	}

	env := jobs.Envelope{
		Type:       in.Topic.String(),
		Resource:   in.Topic.Resource,
		Event:      in.Topic.Event,
		DeliveryID: in.DeliveryID,
		WebhookID:  in.WebhookID,
		Payload:    json.RawMessage(in.Body),
		EnqueuedAt: s.nowFunc().UTC(),
	}
	if err := s.validate.Struct(env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}

	job, err := jobs.Decode(env)
	switch {
	case errors.Is(err, jobs.ErrUnknownType):
		// a supported resource with an event no handler exists for (order.deleted, ...)
		s.log.Infof(ctx, "[webhook] no job for topic %s", in.Topic)
		return nil, nil
	case err != nil:
		return nil, err
	}
	switch j := job.(type) {
	case jobs.OrderJob:
		env.OrderID = j.OrderID
	case jobs.RefundJob:
		env.OrderID = j.OrderID
	}

	if err := s.queue.Enqueue(ctx, env); err != nil {
		s.log.Errorf(ctx, "[webhook] enqueue %s failed: %v", env.Type, err)
		return nil, fmt.Errorf("%w: %v", ErrEnqueue, err)
	}
	s.log.Infof(ctx, "[webhook] queued %s order_id=%d", env.Type, env.OrderID)
	s.warnDepth(ctx)
	return &env, nil
}

func (s *Service) warnDepth(ctx context.Context) {
	if s.depthWarn <= 0 {
		return
	}
	n, err := s.queue.Len(ctx)
	if err == nil && n >= s.depthWarn {
		s.log.Warnf(ctx, "[webhook] queue depth %d at or above %d", n, s.depthWarn)
	}
}

// Replay re-dispatches an archived delivery. Only records whose signature
// verified at receipt are accepted.
func (s *Service) Replay(ctx context.Context, ref string) (*jobs.Envelope, error) {
	if s.sink == nil {
		return nil, errors.New("no archive sink configured")
	}
	rec, err := s.sink.Load(ctx, ref)
	if err != nil {
		return nil, err
	}
	switch {
	case rec.Truncated:
		return nil, fmt.Errorf("%w: %s was not read in full (%s)", ErrNotReplayable, ref, rec.Rejected)
	case rec.Ping:
		return nil, fmt.Errorf("%w: %s is a ping", ErrNotReplayable, ref)
	case !rec.SignatureOK:
		return nil, fmt.Errorf("%w: %s failed signature verification", ErrNotReplayable, ref)
	}
	body, err := rec.Body()
	if err != nil {
		return nil, err
	}

	topic := ParseTopic(rec.Topic)
	if topic.Resource == "" {
		topic, _ = SniffTopic(body)
	}
	ctx = logger.WithDeliveryID(ctx, rec.DeliveryID)
	s.log.Infof(ctx, "[webhook] replaying %s as %s", ref, topic)
	return s.Dispatch(ctx, Inbound{
		Topic:      topic,
		DeliveryID: rec.DeliveryID,
		WebhookID:  rec.WebhookID,
		Body:       body,
	})
}
