package validation

import (
	"encoding/json"
	"regexp"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-commerce-erpsync/internal/jobs"
)

var archiveRefPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+\.json$`)

// New returns a configured validator with the custom tags and struct-level
// checks used across the service registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	_ = v.RegisterValidation("archive_ref", func(fl validatorv10.FieldLevel) bool {
		ref := fl.Field().String()
		return archiveRefPattern.MatchString(ref) && ref != ".json"
	})

	// envelope payloads travel as raw JSON and must stay decodable on the consumer side
	v.RegisterStructValidation(envelopeStructValidation, jobs.Envelope{})

	return v
}

func envelopeStructValidation(sl validatorv10.StructLevel) {
	env := sl.Current().Interface().(jobs.Envelope)

	if len(env.Payload) > 0 && !json.Valid(env.Payload) {
		sl.ReportError(env.Payload, "payload", "Payload", "json", "payload is not valid JSON")
	}
	if env.Type == jobs.TypeRefundCreated && env.OrderID == 0 && len(env.Payload) == 0 {
		sl.ReportError(env.OrderID, "order_id", "OrderID", "refund_order", "refund job without order reference")
	}
}
