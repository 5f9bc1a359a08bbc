package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Merge deep-merges config layers left to right. Nested objects merge key by
// key; arrays, scalars and explicit nulls replace whatever came before. Nil
// layers are skipped. Inputs are never modified.
func Merge(layers ...map[string]any) map[string]any {
	out := map[string]any{}
	for _, layer := range layers {
		if layer == nil {
			continue
		}
		mergeInto(out, layer)
	}
	return out
}

func mergeInto(dst, src map[string]any) {
	for key, val := range src {
		if child, ok := val.(map[string]any); ok {
			existing, _ := dst[key].(map[string]any)
			merged := map[string]any{}
			if existing != nil {
				mergeInto(merged, existing)
			}
			mergeInto(merged, child)
			dst[key] = merged
			continue
		}
		dst[key] = val
	}
}

// StripWebhook returns a shallow copy of layer without its webhook key.
func StripWebhook(layer map[string]any) map[string]any {
	if layer == nil {
		return nil
	}
	out := make(map[string]any, len(layer))
	for k, v := range layer {
		if k == "webhook" {
			continue
		}
		out[k] = v
	}
	return out
}

// HasWebhook reports whether layer tries to set the webhook.
func HasWebhook(layer map[string]any) bool {
	_, ok := layer["webhook"]
	return ok
}

// FromLayers merges layers over base and decodes the result into a new
// Config.
func FromLayers(base *Config, layers ...map[string]any) (*Config, error) {
	baseMap, err := ToMap(base)
	if err != nil {
		return nil, err
	}
	merged := Merge(append([]map[string]any{baseMap}, layers...)...)

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// callerSections are the top-level keys an embedding page may set.
var callerSections = map[string]bool{
	"branding": true,
	"style":    true,
	"advanced": true,
	"webhook":  true,
}

// Resolve builds the effective config for one widget mount. base is the
// operator's config; layers come from the embedding page (script data
// attributes, page config, runtime init config, stored preferences) in
// increasing precedence. Caller layers only reach the widget-facing
// sections. Under the pinned policy they cannot touch the webhook either,
// and ignored counts the layers that tried.
func Resolve(base *Config, layers ...map[string]any) (cfg *Config, ignored int, err error) {
	pinned := base.Advanced.WebhookPolicy != WebhookOverridable

	filtered := make([]map[string]any, 0, len(layers))
	for _, layer := range layers {
		if layer == nil {
			continue
		}
		if pinned && HasWebhook(layer) {
			ignored++
			layer = StripWebhook(layer)
		}
		filtered = append(filtered, callerOnly(layer))
	}

	cfg, err = FromLayers(base, filtered...)
	if err != nil {
		return nil, ignored, fmt.Errorf("resolve widget config: %w", err)
	}

	// Operator-only settings.
	cfg.Server = base.Server
	cfg.Storage = base.Storage
	cfg.Metrics = base.Metrics
	cfg.MockWebhook = base.MockWebhook
	cfg.LogLevel = base.LogLevel
	cfg.Advanced.DemoMode = base.Advanced.DemoMode
	cfg.Advanced.WebhookPolicy = base.Advanced.WebhookPolicy
	cfg.Advanced.RequestTimeoutSeconds = base.Advanced.RequestTimeoutSeconds
	if pinned {
		cfg.Webhook = base.Webhook
	}
	return cfg, ignored, nil
}

func callerOnly(layer map[string]any) map[string]any {
	out := make(map[string]any, len(layer))
	for k, v := range layer {
		if callerSections[k] {
			out[k] = v
		}
	}
	return out
}

// Script tag attributes understood by the widget loader.
const (
	AttrPosition     = "data-position"
	AttrPrimaryColor = "data-primary-color"
	AttrDebug        = "data-debug"
	AttrWebhook      = "data-webhook"
)

// ScriptAttributes turns the embedding script tag's data attributes into a
// config layer. data-webhook is never honoured; warned is true when it was
// present.
func ScriptAttributes(attrs map[string]string) (layer map[string]any, warned bool) {
	layer = map[string]any{}
	style := map[string]any{}

	if v := attrs[AttrPosition]; v != "" {
		style["position"] = v
	}
	if v := attrs[AttrPrimaryColor]; v != "" {
		style["primaryColor"] = v
	}
	if len(style) > 0 {
		layer["style"] = style
	}
	if v, ok := attrs[AttrDebug]; ok {
		layer["advanced"] = map[string]any{"debug": strings.EqualFold(v, "true")}
	}
	_, warned = attrs[AttrWebhook]
	return layer, warned
}
