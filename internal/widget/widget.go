// Package widget serves the embeddable chat widget: its script, the
// stylesheet rendered from the widget config, and the bootstrap document the
// script reads on load.
package widget

import (
	_ "embed"
	"encoding/json"
	"strconv"
	"strings"

	"popoutchat/internal/config"
)

// Version of the widget bundle served by the gateway.
const Version = "1.0.0"

//go:embed assets/widget.js
var script []byte

//go:embed assets/widget.css.tmpl
var stylesTemplate string

// Script returns the widget loader script.
func Script() []byte { return script }

// RenderStyles fills the stylesheet placeholders from cfg.
func RenderStyles(cfg *config.Config) string {
	positionStyle := "right: 20px;"
	if cfg.Style.Position == "left" {
		positionStyle = "left: 20px;"
	}
	r := strings.NewReplacer(
		"{{primaryColor}}", cfg.Style.PrimaryColor,
		"{{secondaryColor}}", cfg.Style.SecondaryColor,
		"{{backgroundColor}}", cfg.Style.BackgroundColor,
		"{{fontColor}}", cfg.Style.FontColor,
		"{{positionStyle}}", positionStyle,
		"{{position}}", cfg.Style.Position,
		"{{zIndex}}", strconv.Itoa(cfg.Advanced.ZIndex),
	)
	return r.Replace(stylesTemplate)
}

// BootstrapAdvanced is the subset of advanced settings the script needs.
type BootstrapAdvanced struct {
	AutoInit              bool   `json:"autoInit"`
	Debug                 bool   `json:"debug"`
	ZIndex                int    `json:"zIndex"`
	StorageKey            string `json:"storageKey"`
	APIVersion            string `json:"apiVersion"`
	AllowProgrammaticOpen bool   `json:"allowProgrammaticOpen"`
}

// BootstrapDoc is handed to the widget script. It never contains the
// webhook; the browser only ever talks to the gateway.
type BootstrapDoc struct {
	Version  string                `json:"version"`
	APIBase  string                `json:"apiBase"`
	Branding config.BrandingConfig `json:"branding"`
	Style    config.StyleConfig    `json:"style"`
	Advanced BootstrapAdvanced     `json:"advanced"`
	Demo     bool                  `json:"demo"`
}

func Bootstrap(cfg *config.Config, apiBase string) BootstrapDoc {
	return BootstrapDoc{
		Version:  Version,
		APIBase:  apiBase,
		Branding: cfg.Branding,
		Style:    cfg.Style,
		Advanced: BootstrapAdvanced{
			AutoInit:              cfg.Advanced.AutoInit,
			Debug:                 cfg.Advanced.Debug,
			ZIndex:                cfg.Advanced.ZIndex,
			StorageKey:            cfg.Advanced.StorageKey,
			APIVersion:            cfg.Advanced.APIVersion,
			AllowProgrammaticOpen: cfg.Advanced.AllowProgrammaticOpen,
		},
		Demo: cfg.Advanced.DemoMode && !cfg.Webhook.Configured(),
	}
}

// MarshalBootstrap renders the bootstrap document as JSON.
func MarshalBootstrap(cfg *config.Config, apiBase string) ([]byte, error) {
	return json.Marshal(Bootstrap(cfg, apiBase))
}
