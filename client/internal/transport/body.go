package transport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
)

// parseBody turns response bytes into Result.Data. Empty bodies become an
// empty object; anything that is not JSON is wrapped as RawText. ok is false
// only when the bytes were present but not valid JSON.
func parseBody(raw []byte) (data any, ok bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return map[string]any{}, true
	}
	if err := json.Unmarshal(trimmed, &data); err != nil {
		return RawText{Text: string(raw)}, false
	}
	return data, true
}

// messageFrom extracts a human-readable message from a parsed error body,
// falling back to the status text.
func messageFrom(data any, status int) string {
	switch d := data.(type) {
	case map[string]any:
		for _, key := range []string{"message", "error", "msg", "detail"} {
			switch v := d[key].(type) {
			case string:
				if s := strings.TrimSpace(v); s != "" {
					return s
				}
			case map[string]any:
				if s, _ := v["message"].(string); strings.TrimSpace(s) != "" {
					return strings.TrimSpace(s)
				}
			}
		}
	case RawText:
		if s := strings.TrimSpace(d.Text); s != "" && len(s) <= 200 {
			return s
		}
	}
	if t := http.StatusText(status); t != "" {
		return t
	}
	return "request failed"
}

// encodeBody marshals a request body. nil yields no body.
func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return json.Marshal(body)
	}
}
