package widget

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"popoutchat/internal/config"
)

func TestRenderStyles_Defaults(t *testing.T) {
	css := RenderStyles(config.Defaults())

	assert.NotContains(t, css, "{{")
	assert.Contains(t, css, "var(--toratech-primary-color, #338AFF)")
	assert.Contains(t, css, "var(--toratech-secondary-color, #2072E8)")
	assert.Contains(t, css, "var(--toratech-bg-color, #ffffff)")
	assert.Contains(t, css, "var(--toratech-text-color, #333333)")
	assert.Contains(t, css, "--tt-position: right;")
	assert.Contains(t, css, "right: 20px;")
	assert.Contains(t, css, "z-index: 9999;")
}

func TestRenderStyles_LeftPosition(t *testing.T) {
	cfg := config.Defaults()
	cfg.Style.Position = "left"
	cfg.Advanced.ZIndex = 42

	css := RenderStyles(cfg)

	assert.Contains(t, css, "left: 20px;")
	assert.NotContains(t, css, "right: 20px;")
	assert.Contains(t, css, "--tt-position: left;")
	assert.Contains(t, css, "z-index: 42;")
}

func TestBootstrap_OmitsWebhook(t *testing.T) {
	cfg := config.Defaults()
	cfg.Webhook.URL = "https://hooks.example.com/secret-workflow"

	data, err := MarshalBootstrap(cfg, "https://chat.example.com")
	require.NoError(t, err)

	body := string(data)
	assert.NotContains(t, body, "hooks.example.com")
	assert.NotContains(t, body, "webhook")
	assert.Contains(t, body, `"apiBase":"https://chat.example.com"`)
	assert.Contains(t, body, `"storageKey":"toratech_chat_prefs"`)
}

func TestBootstrap_DemoFlag(t *testing.T) {
	cfg := config.Defaults()
	cfg.Advanced.DemoMode = true
	assert.True(t, Bootstrap(cfg, "").Demo)

	cfg.Webhook.URL = "https://hooks.example.com/x"
	assert.False(t, Bootstrap(cfg, "").Demo, "a configured webhook disables demo answers")
}

func TestScript_Embedded(t *testing.T) {
	js := string(Script())
	assert.True(t, strings.Contains(js, "/api/conversation"))
	assert.True(t, strings.Contains(js, "ChatWidgetConfig"))
}
