package llm

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/callquality/backend/internal/utils"
)

const maxRawInError = 500

// ParseError is returned when no JSON object can be extracted from a model
// response. Raw holds the start of the response.
type ParseError struct {
	Raw string
}

func (e *ParseError) Error() string {
	return "could not parse JSON from response: " + e.Raw
}

var fencedBlock = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)\\s*```")

// extractJSON tries, in order, a fenced code block, the whole response, and
// the span from the first '{' to the last '}'.
func extractJSON(raw string) (json.RawMessage, error) {
	var candidates []string
	if m := fencedBlock.FindStringSubmatch(raw); m != nil {
		candidates = append(candidates, m[1])
	}
	candidates = append(candidates, strings.TrimSpace(raw))
	if i, j := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); i >= 0 && j > i {
		candidates = append(candidates, raw[i:j+1])
	}

	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if !strings.HasPrefix(c, "{") {
			continue
		}
		if json.Valid([]byte(c)) {
			return json.RawMessage(c), nil
		}
	}
	return nil, &ParseError{Raw: utils.Truncate(raw, maxRawInError)}
}

func ParseJSONResponse(raw string) (map[string]any, error) {
	b, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, &ParseError{Raw: utils.Truncate(raw, maxRawInError)}
	}
	return out, nil
}

func DecodeJSONResponse(raw string, v any) error {
	b, err := extractJSON(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
