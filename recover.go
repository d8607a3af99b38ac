package keycluster

import (
	"encoding/json"
)

// RecoverJSON returns the first balanced {...} span in raw decoded as a JSON
// object. Braces inside string literals are ignored. It returns nil when there
// is no balanced span or the span does not decode.
func RecoverJSON(raw string) map[string]any {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if depth > 0 && inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				var obj map[string]any
				if err := json.Unmarshal([]byte(raw[start:i+1]), &obj); err != nil {
					return nil
				}
				return obj
			}
		}
	}
	return nil
}
