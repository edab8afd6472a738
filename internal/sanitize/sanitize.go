// Package sanitize applies the typographic-character normalization the gateway performs on
// outbound request text before it reaches a provider.
package sanitize

import (
	"encoding/json"
	"strings"
)

var replacer = strings.NewReplacer(
	"‘", "'", "’", "'",
	"“", "\"", "”", "\"",
	"–", "-",
	"—", "--",
	"…", "...",
)

// Text replaces curly quotes, en/em dashes, and ellipses with their plain-ASCII equivalents, and
// strips any code point in the Unicode tag-character range U+E0020..U+E007F.
func Text(s string) string {
	s = replacer.Replace(s)
	return strings.Map(func(r rune) rune {
		if r >= 0xE0020 && r <= 0xE007F {
			return -1
		}
		return r
	}, s)
}

// JSON recursively sanitizes every string value in raw and returns the re-encoded result.
func JSON(raw json.RawMessage) (json.RawMessage, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	sanitized := walk(v)
	return json.Marshal(sanitized)
}

func walk(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return Text(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = walk(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = walk(e)
		}
		return out
	default:
		return v
	}
}
