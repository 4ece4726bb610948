package guard

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// SchemaGuard validates the Input's JSON payload against a declared JSON
// Schema. The payload passes only when it parses as JSON and satisfies the
// schema; the validator's error message becomes the Fail reason.
//
// Example:
//
//	schema := &jsonschema.Schema{
//	    Type:     "object",
//	    Required: []string{"manifest"},
//	    Properties: map[string]*jsonschema.Schema{
//	        "manifest": {Type: "string"},
//	    },
//	}
//	g, err := guard.NewSchemaGuard("manifest-shape", schema)
type SchemaGuard struct {
	name     string
	resolved *jsonschema.Resolved
}

// NewSchemaGuard creates a schema-validation guard. The schema is resolved
// once at construction; resolution errors (bad $refs, invalid keywords)
// surface here rather than at evaluation time.
func NewSchemaGuard(name string, schema *jsonschema.Schema) (*SchemaGuard, error) {
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve schema for guard %q: %w", name, err)
	}
	return &SchemaGuard{name: name, resolved: resolved}, nil
}

// Name implements Guard.
func (g *SchemaGuard) Name() string { return g.name }

// Evaluate implements Guard.
func (g *SchemaGuard) Evaluate(_ context.Context, in Input) Verdict {
	if len(in.Payload) == 0 {
		return Fail("payload is empty")
	}

	var instance any
	if err := json.Unmarshal(in.Payload, &instance); err != nil {
		return Fail(fmt.Sprintf("payload is not valid JSON: %v", err))
	}

	if err := g.resolved.Validate(instance); err != nil {
		return Fail(err.Error())
	}
	return Pass()
}
