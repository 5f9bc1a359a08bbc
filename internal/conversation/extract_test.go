package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"array output", `[{"output":"A"}]`, "A"},
		{"array uses first element only", `[{"output":"A"},{"output":"B"}]`, "A"},
		{"array without output", `[{"message":"M"}]`, ""},
		{"array of strings", `["x"]`, ""},
		{"object output", `{"output":"B"}`, "B"},
		{"output wins over message", `{"output":"B","message":"M"}`, "B"},
		{"string body", `"C"`, "C"},
		{"message", `{"message":"D"}`, "D"},
		{"response", `{"response":"R"}`, "R"},
		{"text", `{"text":"T"}`, "T"},
		{"content", `{"content":"X"}`, "X"},
		{"fallback order", `{"content":"X","text":"T","response":"R"}`, "R"},
		{"null output falls through", `{"output":null,"text":"T"}`, "T"},
		{"empty object", `{}`, "{}"},
		{"unknown keys", `{"foo": 1, "bar": [1, 2]}`, `{"foo":1,"bar":[1,2]}`},
		{"empty array", `[]`, "[]"},
		{"number", `42`, "42"},
		{"object output rendered as json", `{"output":{"a":1}}`, `{"a":1}`},
		{"numeric output", `[{"output":7}]`, "7"},
		{"empty string output", `{"output":""}`, ""},
		{"escaped string", `{"output":"line\nbreak é"}`, "line\nbreak é"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, ok := ParseBody([]byte(tt.body))
			require.True(t, ok)
			assert.Equal(t, tt.want, Extract(parsed))
		})
	}
}

func TestParseBody_Invalid(t *testing.T) {
	for _, body := range []string{"", "not json", `{"a":`, "<html></html>"} {
		_, ok := ParseBody([]byte(body))
		assert.False(t, ok, "body %q", body)
	}
}
