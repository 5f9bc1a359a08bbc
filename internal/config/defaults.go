package config

import "popoutchat/internal/domain"

func Defaults() *Config {
	return &Config{
		Branding: BrandingConfig{
			Logo:             "https://cdn.toratech.com/assets/default-logo.png",
			Name:             "Toratech AI Support",
			WelcomeText:      "Hi there! 👋 How can I assist you today?",
			ResponseTimeText: "We typically respond quickly.",
			PoweredBy: PoweredByConfig{
				Text: "Powered by Toratech AI",
				Link: "https://toratech.ai",
			},
		},
		Style: StyleConfig{
			PrimaryColor:    "#338AFF",
			SecondaryColor:  "#2072E8",
			Position:        "right",
			BackgroundColor: "#ffffff",
			FontColor:       "#333333",
		},
		Advanced: AdvancedConfig{
			AutoInit:              true,
			Debug:                 false,
			ZIndex:                9999,
			StorageKey:            "toratech_chat_prefs",
			APIVersion:            "v1",
			AllowProgrammaticOpen: false,
			DemoMode:              false,
			WebhookPolicy:         WebhookPinned,
		},
		Webhook: domain.WebhookConfig{
			URL:   "",
			Route: "",
		},
		Server: ServerConfig{
			Host:               "127.0.0.1",
			Port:               8080,
			SessionTTLMinutes:  30,
			RateLimitPerMinute: 30,
			RateLimitBurst:     5,
		},
		Storage: StorageConfig{
			Enabled:       true,
			DBPath:        "~/.popoutchat/transcripts.db",
			MaxHistory:    200,
			RetentionDays: 90,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		MockWebhook: MockWebhookConfig{
			Port:    9090,
			Path:    "/webhook",
			Welcome: "Welcome! How can I help you today?",
		},
		LogLevel: "info",
	}
}
