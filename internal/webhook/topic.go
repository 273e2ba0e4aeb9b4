package webhook

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Resources the pipeline accepts.
const (
	ResourceOrder    = "order"
	ResourceCustomer = "customer"
	ResourceRefund   = "refund"
)

// Topic is the "<resource>.<event>" routing tag of a delivery.
type Topic struct {
	Resource string
	Event    string
}

func (t Topic) String() string {
	if t.Resource == "" {
		return ""
	}
	if t.Event == "" {
		return t.Resource
	}
	return t.Resource + "." + t.Event
}

// Supported reports whether jobs exist for the topic's resource.
func (t Topic) Supported() bool {
	switch t.Resource {
	case ResourceOrder, ResourceCustomer, ResourceRefund:
		return true
	}
	return false
}

// ParseTopic splits "order.created" into its parts.
func ParseTopic(s string) Topic {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Topic{}
	}
	resource, event, _ := strings.Cut(s, ".")
	return Topic{Resource: resource, Event: event}
}

// TopicFromHeaders reads the topic header, falling back to the separate
// resource and event headers.
func TopicFromHeaders(h http.Header) (Topic, bool) {
	if t := ParseTopic(h.Get(HeaderTopic)); t.Resource != "" && t.Event != "" {
		return t, true
	}
	res := strings.ToLower(strings.TrimSpace(h.Get(HeaderResource)))
	ev := strings.ToLower(strings.TrimSpace(h.Get(HeaderEvent)))
	if res != "" && ev != "" {
		return Topic{Resource: res, Event: ev}, true
	}
	return Topic{}, false
}

// SniffTopic guesses the topic from the shape of a JSON body. The event is
// reported as "updated" since the body alone cannot tell a create apart.
func SniffTopic(body []byte) (Topic, bool) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return Topic{}, false
	}
	has := func(k string) bool { _, ok := m[k]; return ok }

	switch {
	case has("line_items") && (has("order_key") || has("billing") || has("set_paid")):
		return Topic{Resource: ResourceOrder, Event: "updated"}, true
	case has("refunded_by") || (has("amount") && has("reason") && (has("parent_id") || has("order_id"))):
		return Topic{Resource: ResourceRefund, Event: "created"}, true
	case has("email") && (has("username") || has("role")):
		return Topic{Resource: ResourceCustomer, Event: "updated"}, true
	}
	return Topic{}, false
}
