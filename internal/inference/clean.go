package inference

import (
	"encoding/json"
	"strings"
)

// CleanJSON strips markdown fences and surrounding prose, returning the
// outermost JSON object or array found in text.
func CleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	text = strings.TrimSpace(text)
	start, closer := strings.Index(text, "{"), "}"
	if strings.HasPrefix(text, "[") || start < 0 {
		start, closer = strings.Index(text, "["), "]"
	}
	if start >= 0 {
		if end := strings.LastIndex(text, closer); end > start {
			text = text[start : end+1]
		}
	}

	return strings.TrimSpace(text)
}

// wrapperKeys are single-key envelopes some responses put around the payload.
var wrapperKeys = []string{"extraction", "result", "data", "response"}

// Normalize unwraps the known response envelopes and returns a JSON object.
// A top-level array is wrapped under listKey when one is given. ok is false
// when nothing object-shaped remains.
func Normalize(raw []byte, listKey string) (json.RawMessage, bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}

	for range 4 {
		switch t := v.(type) {
		case map[string]any:
			if s, ok := t["raw_response"].(string); ok {
				var inner any
				if err := json.Unmarshal([]byte(CleanJSON(s)), &inner); err != nil {
					return nil, false
				}
				v = inner
				continue
			}
			if inner, ok := unwrapSingle(t); ok {
				v = inner
				continue
			}
		case []any:
			if listKey == "" {
				return nil, false
			}
			v = map[string]any{listKey: t}
		}
		break
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, false
	}
	return out, true
}

func unwrapSingle(m map[string]any) (any, bool) {
	if len(m) != 1 {
		return nil, false
	}
	for _, k := range wrapperKeys {
		if inner, ok := m[k]; ok {
			switch inner.(type) {
			case map[string]any, []any:
				return inner, true
			}
		}
	}
	return nil, false
}
