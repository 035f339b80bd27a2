package generator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// responseSchema is the contract the model's JSON output must satisfy
// before any book in it is trusted. Identifier checksum validation happens
// separately; this catches structural garbage (missing titles, wrong
// types, truncated output).
const responseSchema = `{
	"type": "object",
	"required": ["books"],
	"properties": {
		"books": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["title", "authors"],
				"properties": {
					"title": {"type": "string", "minLength": 1},
					"authors": {
						"type": "array",
						"items": {"type": "string", "minLength": 1}
					},
					"isbn": {"type": "string"},
					"confidence": {"type": "string", "enum": ["high", "medium", "low"]}
				}
			}
		}
	}
}`

var compiledResponseSchema = jsonschema.MustCompileString("candidates.json", responseSchema)

// rawResponse mirrors the validated model output.
type rawResponse struct {
	Books []rawBook `json:"books"`
}

type rawBook struct {
	Title      string   `json:"title"`
	Authors    []string `json:"authors"`
	ISBN       string   `json:"isbn"`
	Confidence string   `json:"confidence"`
}

// decodeResponse strips code fences, schema-validates, and unmarshals the
// model payload.
func decodeResponse(content string) (*rawResponse, error) {
	content = stripCodeFence(content)

	var doc any
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, fmt.Errorf("generator returned non-JSON output: %w", err)
	}
	if err := compiledResponseSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("generator output failed schema validation: %w", err)
	}

	var resp rawResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return nil, fmt.Errorf("failed to decode generator output: %w", err)
	}
	return &resp, nil
}

// stripCodeFence removes a surrounding ```json fence if the model added one.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
