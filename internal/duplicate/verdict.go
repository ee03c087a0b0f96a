package duplicate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const verdictSchemaJSON = `{
  "type": "object",
  "properties": {
    "isDuplicate": {"type": "boolean"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "matchedReceiptId": {"type": ["string", "null"]},
    "reasoning": {"type": "string"}
  },
  "required": ["isDuplicate", "confidence", "matchedReceiptId", "reasoning"]
}`

var verdictSchema = jsonschema.MustCompileString("verdict.json", verdictSchemaJSON)

var errNoVerdict = errors.New("no valid verdict object in response")

type verdictPayload struct {
	IsDuplicate      bool    `json:"isDuplicate"`
	Confidence       float64 `json:"confidence"`
	MatchedReceiptID *string `json:"matchedReceiptId"`
	Reasoning        string  `json:"reasoning"`
}

// parseVerdict returns the first top-level JSON object in text that
// satisfies the verdict schema. Surrounding prose and code fences are ignored.
// Objects nested inside a rejected object are never considered.
func parseVerdict(text string) (verdictPayload, error) {
	var lastErr error
	for i := strings.IndexByte(text, '{'); i >= 0; {
		skip := 1
		raw, ok := decodeObjectAt(text[i:])
		if ok {
			payload, err := validateVerdict(raw)
			if err == nil {
				return payload, nil
			}
			lastErr = err
			skip = len(raw)
		}

		next := strings.IndexByte(text[i+skip:], '{')
		if next < 0 {
			break
		}
		i += skip + next
	}

	if lastErr != nil {
		return verdictPayload{}, fmt.Errorf("%w: %v", errNoVerdict, lastErr)
	}
	return verdictPayload{}, errNoVerdict
}

func decodeObjectAt(text string) (json.RawMessage, bool) {
	var raw json.RawMessage
	if err := json.NewDecoder(strings.NewReader(text)).Decode(&raw); err != nil {
		return nil, false
	}
	return raw, true
}

func validateVerdict(raw json.RawMessage) (verdictPayload, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return verdictPayload{}, fmt.Errorf("unmarshaling verdict: %w", err)
	}
	if err := verdictSchema.Validate(v); err != nil {
		return verdictPayload{}, fmt.Errorf("verdict does not match schema: %w", err)
	}

	var payload verdictPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return verdictPayload{}, fmt.Errorf("decoding verdict: %w", err)
	}
	return payload, nil
}
