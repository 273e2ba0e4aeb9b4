package webhook

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var (
	// ErrSchema marks a JSON body that does not match its resource schema.
	ErrSchema = errors.New("payload does not match schema")
	// ErrMalformed marks a body that is not JSON at all.
	ErrMalformed = errors.New("payload is not valid JSON")
)

// Schemas holds one compiled schema per resource.
type Schemas struct {
	byResource map[string]*jsonschema.Schema
}

// LoadSchemas compiles the embedded resource schemas.
func LoadSchemas() (*Schemas, error) {
	s := &Schemas{byResource: map[string]*jsonschema.Schema{}}
	for _, res := range []string{ResourceOrder, ResourceCustomer, ResourceRefund} {
		raw, err := schemaFS.ReadFile("schemas/" + res + ".schema.json")
		if err != nil {
			return nil, fmt.Errorf("read %s schema: %w", res, err)
		}
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		url := fmt.Sprintf("https://erpsync.schemas.local/webhook/%s.schema.json", res)
		if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("%s schema load failed: %w", res, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("%s schema compile failed: %w", res, err)
		}
		s.byResource[res] = compiled
	}
	return s, nil
}

// Validate checks body against the schema of resource. Resources without a
// schema pass.
func (s *Schemas) Validate(resource string, body []byte) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	schema, ok := s.byResource[resource]
	if !ok {
		return nil
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return nil
}
