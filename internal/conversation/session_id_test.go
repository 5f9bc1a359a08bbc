package conversation

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewSessionID_Format(t *testing.T) {
	now := time.UnixMilli(1718000000123)

	id := NewSessionID(now)

	assert.True(t, strings.HasPrefix(id, "tt_1718000000123_"), id)
	assert.Regexp(t, `^tt_1718000000123_[0-9a-z]{9}$`, id)
}

func TestNewSessionID_Distinct(t *testing.T) {
	now := time.Now()
	seen := make(map[string]bool)
	for range 1000 {
		id := NewSessionID(now)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}
