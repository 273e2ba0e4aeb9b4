// Package archive keeps a copy of every inbound webhook request, taken before
// any verification, so a delivery can be inspected or replayed later.
package archive

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	previewLen = 256
	redacted   = "[redacted]"
)

// ErrNotFound is returned by Load for an unknown ref.
var ErrNotFound = errors.New("archive record not found")

// Sink persists records append-only. Archive never overwrites an existing entry.
type Sink interface {
	Archive(ctx context.Context, rec Record) (ref string, err error)
	Load(ctx context.Context, ref string) (*Record, error)
}

// Record is one archived request.
type Record struct {
	ReceivedAt  time.Time         `json:"received_at"`
	Topic       string            `json:"topic"`
	Resource    string            `json:"resource,omitempty"`
	Event       string            `json:"event,omitempty"`
	DeliveryID  string            `json:"delivery_id,omitempty"`
	WebhookID   string            `json:"webhook_id,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	Headers     map[string]string `json:"headers"`
	BodyLength  int               `json:"body_length"`
	Preview     string            `json:"preview"`
	BodyB64     string            `json:"body_b64"`

	// SignatureOK is the verification result at receipt. Only verified
	// deliveries may be replayed.
	SignatureOK bool `json:"signature_ok"`
	Ping        bool `json:"ping,omitempty"`
	// Truncated marks a request refused before it was fully read. BodyB64 is
	// empty and BodyLength is the size the sender declared, when known.
	Truncated bool   `json:"truncated,omitempty"`
	Rejected  string `json:"rejected,omitempty"`
}

// Capture builds a record. Values of the headers named in redact are replaced.
func Capture(now time.Time, h http.Header, body []byte, redact ...string) Record {
	headers := make(map[string]string, len(h))
	for k, vs := range h {
		headers[k] = strings.Join(vs, ",")
	}
	for _, name := range redact {
		ck := http.CanonicalHeaderKey(name)
		if _, ok := headers[ck]; ok {
			headers[ck] = redacted
		}
	}

	preview := body
	if len(preview) > previewLen {
		preview = preview[:previewLen]
	}
	p := string(preview)
	if !utf8.ValidString(p) {
		p = strings.ToValidUTF8(p, "?")
	}

	return Record{
		ReceivedAt:  now.UTC(),
		ContentType: h.Get("Content-Type"),
		Headers:     headers,
		BodyLength:  len(body),
		Preview:     p,
		BodyB64:     base64.StdEncoding.EncodeToString(body),
	}
}

// CaptureTruncated records a request whose body was not read in full. Only the
// preview of partial is kept.
func CaptureTruncated(now time.Time, h http.Header, partial []byte, declared int64, reason string, redact ...string) Record {
	head := partial
	if len(head) > previewLen {
		head = head[:previewLen]
	}
	rec := Capture(now, h, head, redact...)
	rec.BodyB64 = ""
	rec.Truncated = true
	rec.Rejected = reason
	rec.BodyLength = len(partial)
	if declared > int64(rec.BodyLength) {
		rec.BodyLength = int(declared)
	}
	return rec
}

// Body decodes the archived request body.
func (r Record) Body() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(r.BodyB64)
	if err != nil {
		return nil, fmt.Errorf("decode archived body: %w", err)
	}
	return b, nil
}

// Header returns an archived header value.
func (r Record) Header(name string) string {
	return r.Headers[http.CanonicalHeaderKey(name)]
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// topicSlug makes a topic safe for a file name or object key.
func topicSlug(topic string) string {
	s := unsafeChars.ReplaceAllString(strings.ToLower(topic), "_")
	if s == "" || s == "." || s == ".." {
		return "unknown"
	}
	return s
}

// dayPrefix is the per-day, per-topic name prefix sequence numbers are scoped to.
func dayPrefix(rec Record) string {
	return rec.ReceivedAt.UTC().Format("20060102") + "_" + topicSlug(rec.Topic) + "_"
}

func entryName(prefix string, seq int) string {
	return fmt.Sprintf("%s%06d.json", prefix, seq)
}

// parseSeq extracts the sequence number from an entry name with the given prefix.
func parseSeq(name, prefix string) (int, bool) {
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".json")
	if digits == "" {
		return 0, false
	}
	n := 0
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
