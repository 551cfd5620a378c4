package gateway

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed chat_request.schema.json
var chatRequestSchema []byte

// requestSchema validates chat turn bodies before they are decoded.
type requestSchema struct {
	schema *jsonschema.Schema
}

func compileRequestSchema() (*requestSchema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(chatRequestSchema))
	if err != nil {
		return nil, fmt.Errorf("unmarshal request schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("chat_request.schema.json", doc); err != nil {
		return nil, fmt.Errorf("add request schema: %w", err)
	}
	schema, err := c.Compile("chat_request.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile request schema: %w", err)
	}
	return &requestSchema{schema: schema}, nil
}

// decode validates raw against the schema and then decodes it into req.
func (rs *requestSchema) decode(raw []byte, req *chatRequest) error {
	// jsonschema needs json.Number, which UnmarshalJSON provides.
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := rs.schema.Validate(inst); err != nil {
		return fmt.Errorf("invalid request: %s", flattenValidation(err))
	}
	if err := json.Unmarshal(raw, req); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}

func flattenValidation(err error) string {
	lines := strings.Split(strings.TrimSpace(err.Error()), "\n")
	if len(lines) > 1 {
		lines = lines[1:]
	}
	for i, l := range lines {
		lines[i] = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(l), "-"))
	}
	return strings.Join(lines, "; ")
}
