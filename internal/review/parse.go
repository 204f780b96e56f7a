package review

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSONArray pulls a JSON array out of raw LLM output. It tries a
// direct parse first, then strips markdown code fences, then falls back to a
// best-effort match of the outermost brackets. An empty result is an error:
// the caller decides whether that is fatal or a degrade-to-empty case.
func ExtractJSONArray(raw string) ([]byte, error) {
	return extractJSON(raw, '[', ']')
}

// ExtractJSONObject is ExtractJSONArray for a single JSON object.
func ExtractJSONObject(raw string) ([]byte, error) {
	return extractJSON(raw, '{', '}')
}

func extractJSON(raw string, opener, closer byte) ([]byte, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return nil, fmt.Errorf("empty response")
	}

	if len(content) > 0 && content[0] == opener && json.Valid([]byte(content)) {
		return []byte(content), nil
	}

	// Strip markdown code fences if present.
	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		if len(lines) >= 2 {
			start := 1
			end := len(lines)
			if strings.TrimSpace(lines[end-1]) == "```" {
				end = end - 1
			}
			inner := strings.TrimSpace(strings.Join(lines[start:end], "\n"))
			if len(inner) > 0 && inner[0] == opener && json.Valid([]byte(inner)) {
				return []byte(inner), nil
			}
			content = inner
		}
	}

	// Best-effort bracket match: first opener to last closer.
	first := strings.IndexByte(content, opener)
	last := strings.LastIndexByte(content, closer)
	if first >= 0 && last > first {
		candidate := content[first : last+1]
		if json.Valid([]byte(candidate)) {
			return []byte(candidate), nil
		}
	}

	return nil, fmt.Errorf("no valid JSON %c...%c found in response", opener, closer)
}

// decodeArray unmarshals an extracted JSON array into the given raw shape.
func decodeArray[T any](raw string) ([]T, error) {
	data, err := ExtractJSONArray(raw)
	if err != nil {
		return nil, err
	}
	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("invalid JSON array: %w", err)
	}
	return out, nil
}

// decodeObject unmarshals an extracted JSON object into the given raw shape.
func decodeObject[T any](raw string) (T, error) {
	var out T
	data, err := ExtractJSONObject(raw)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("invalid JSON object: %w", err)
	}
	return out, nil
}
