package conversation

import (
	"bytes"
	"encoding/json"

	"github.com/tidwall/gjson"
)

// fallbackKeys are probed in order when a response object has no "output".
var fallbackKeys = []string{"message", "response", "text", "content"}

// Extract normalizes a webhook response body into display text.
//
// The first matching rule wins: a non-empty array yields its first element's
// output; an object with an output yields it; a JSON string is used as is;
// otherwise the first of message, response, text or content, falling back to
// the compact JSON of the whole body. Null counts as absent. Non-string
// values are rendered as compact JSON.
func Extract(r gjson.Result) string {
	if r.IsArray() {
		if items := r.Array(); len(items) > 0 {
			return display(items[0].Get("output"))
		}
	}
	if r.IsObject() {
		if out := r.Get("output"); defined(out) {
			return display(out)
		}
	}
	if r.Type == gjson.String {
		return r.String()
	}
	if r.IsObject() {
		for _, key := range fallbackKeys {
			if v := r.Get(key); defined(v) {
				return display(v)
			}
		}
	}
	return compact(r.Raw)
}

// ParseBody validates and parses a raw response body.
func ParseBody(body []byte) (gjson.Result, bool) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, false
	}
	return gjson.ParseBytes(body), true
}

func defined(v gjson.Result) bool {
	return v.Exists() && v.Type != gjson.Null
}

func display(v gjson.Result) string {
	switch {
	case !defined(v):
		return ""
	case v.Type == gjson.String:
		return v.String()
	default:
		return compact(v.Raw)
	}
}

func compact(raw string) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err != nil {
		return raw
	}
	return buf.String()
}
