package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_DeepObjects(t *testing.T) {
	base := map[string]any{
		"style": map[string]any{"primaryColor": "#338AFF", "position": "right"},
		"list":  []any{"a", "b"},
	}
	over := map[string]any{
		"style": map[string]any{"position": "left"},
		"list":  []any{"c"},
	}

	got := Merge(base, nil, over)

	assert.Equal(t, map[string]any{
		"style": map[string]any{"primaryColor": "#338AFF", "position": "left"},
		"list":  []any{"c"},
	}, got)
	assert.Equal(t, "right", base["style"].(map[string]any)["position"], "inputs are not modified")
}

func TestMerge_ScalarReplacesObjectAndBack(t *testing.T) {
	got := Merge(
		map[string]any{"a": map[string]any{"x": 1}},
		map[string]any{"a": "flat"},
		map[string]any{"a": map[string]any{"y": 2}},
	)
	assert.Equal(t, map[string]any{"a": map[string]any{"y": 2}}, got)
}

func TestMerge_NullReplaces(t *testing.T) {
	got := Merge(map[string]any{"a": 1}, map[string]any{"a": nil})
	v, ok := got["a"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestResolve_PinnedIgnoresCallerWebhook(t *testing.T) {
	base := Defaults()
	base.Webhook.URL = "https://hooks.example.com/pinned"

	page := map[string]any{
		"webhook": map[string]any{"url": "https://evil.example.com"},
		"style":   map[string]any{"primaryColor": "#ff0000"},
	}
	runtime := map[string]any{"webhook": map[string]any{"route": "x"}}

	cfg, ignored, err := Resolve(base, page, runtime)
	require.NoError(t, err)

	assert.Equal(t, 2, ignored)
	assert.Equal(t, "https://hooks.example.com/pinned", cfg.Webhook.URL)
	assert.Empty(t, cfg.Webhook.Route)
	assert.Equal(t, "#ff0000", cfg.Style.PrimaryColor)
	assert.Equal(t, "#2072E8", cfg.Style.SecondaryColor)
	assert.Contains(t, page, "webhook", "caller layers are not modified")
}

func TestResolve_Overridable(t *testing.T) {
	base := Defaults()
	base.Advanced.WebhookPolicy = WebhookOverridable
	base.Webhook.URL = "https://hooks.example.com/default"

	cfg, ignored, err := Resolve(base, map[string]any{
		"webhook": map[string]any{"route": "sales"},
	})
	require.NoError(t, err)

	assert.Zero(t, ignored)
	assert.Equal(t, "https://hooks.example.com/default", cfg.Webhook.URL)
	assert.Equal(t, "sales", cfg.Webhook.Route)
}

func TestResolve_CallerCannotReachOperatorSettings(t *testing.T) {
	base := Defaults()

	cfg, _, err := Resolve(base, map[string]any{
		"server":   map[string]any{"port": 1},
		"storage":  map[string]any{"enabled": false},
		"advanced": map[string]any{"demoMode": true, "webhookPolicy": WebhookOverridable, "zIndex": 5},
	})
	require.NoError(t, err)

	assert.Equal(t, base.Server, cfg.Server)
	assert.Equal(t, base.Storage, cfg.Storage)
	assert.False(t, cfg.Advanced.DemoMode)
	assert.Equal(t, WebhookPinned, cfg.Advanced.WebhookPolicy)
	assert.Equal(t, 5, cfg.Advanced.ZIndex)
}

func TestResolve_Precedence(t *testing.T) {
	attrs, _ := ScriptAttributes(map[string]string{AttrPosition: "left", AttrPrimaryColor: "#111111"})
	page := map[string]any{"style": map[string]any{"primaryColor": "#222222"}}
	runtime := map[string]any{"branding": map[string]any{"name": "Acme"}}

	cfg, _, err := Resolve(Defaults(), attrs, page, runtime)
	require.NoError(t, err)

	assert.Equal(t, "left", cfg.Style.Position)
	assert.Equal(t, "#222222", cfg.Style.PrimaryColor)
	assert.Equal(t, "Acme", cfg.Branding.Name)
}

func TestResolve_BadLayer(t *testing.T) {
	_, _, err := Resolve(Defaults(), map[string]any{"style": "not an object"})
	assert.Error(t, err)
}

func TestScriptAttributes(t *testing.T) {
	layer, warned := ScriptAttributes(map[string]string{
		AttrPosition: "left",
		AttrDebug:    "TRUE",
		AttrWebhook:  "https://evil.example.com",
	})

	assert.True(t, warned)
	assert.Equal(t, map[string]any{
		"style":    map[string]any{"position": "left"},
		"advanced": map[string]any{"debug": true},
	}, layer)
}

func TestScriptAttributes_Empty(t *testing.T) {
	layer, warned := ScriptAttributes(nil)
	assert.False(t, warned)
	assert.Empty(t, layer)
}
