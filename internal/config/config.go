package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"popoutchat/internal/domain"
)

// Config is the full widget and gateway configuration. Keys follow the
// widget's JavaScript config (camelCase) so a page-level config object and
// the operator's YAML file merge field for field.
type Config struct {
	Branding    BrandingConfig       `json:"branding"`
	Style       StyleConfig          `json:"style"`
	Advanced    AdvancedConfig       `json:"advanced"`
	Webhook     domain.WebhookConfig `json:"webhook"`
	Server      ServerConfig         `json:"server"`
	Storage     StorageConfig        `json:"storage"`
	Metrics     MetricsConfig        `json:"metrics"`
	MockWebhook MockWebhookConfig    `json:"mockWebhook"`
	LogLevel    string               `json:"logLevel" env:"POPOUT_LOG_LEVEL"`
}

type BrandingConfig struct {
	Logo             string          `json:"logo"`
	Name             string          `json:"name"`
	WelcomeText      string          `json:"welcomeText"`
	ResponseTimeText string          `json:"responseTimeText"`
	PoweredBy        PoweredByConfig `json:"poweredBy"`
}

type PoweredByConfig struct {
	Text string `json:"text"`
	Link string `json:"link"`
}

type StyleConfig struct {
	PrimaryColor    string `json:"primaryColor"`
	SecondaryColor  string `json:"secondaryColor"`
	Position        string `json:"position"` // left | right
	BackgroundColor string `json:"backgroundColor"`
	FontColor       string `json:"fontColor"`
}

// Webhook policies.
const (
	// WebhookPinned ignores any webhook supplied by page, script or runtime
	// config layers. The operator's webhook always wins.
	WebhookPinned = "pinned"
	// WebhookOverridable lets caller layers replace the webhook.
	WebhookOverridable = "overridable"
)

type AdvancedConfig struct {
	AutoInit              bool   `json:"autoInit"`
	Debug                 bool   `json:"debug" env:"POPOUT_DEBUG"`
	ZIndex                int    `json:"zIndex"`
	StorageKey            string `json:"storageKey"`
	APIVersion            string `json:"apiVersion"`
	AllowProgrammaticOpen bool   `json:"allowProgrammaticOpen"`
	DemoMode              bool   `json:"demoMode" env:"POPOUT_DEMO_MODE"`
	WebhookPolicy         string `json:"webhookPolicy" env:"POPOUT_WEBHOOK_POLICY"`
	RequestTimeoutSeconds int    `json:"requestTimeoutSeconds" env:"POPOUT_REQUEST_TIMEOUT_SECONDS"` // 0 = no client timeout
}

type ServerConfig struct {
	Host               string   `json:"host" env:"POPOUT_HOST"`
	Port               int      `json:"port" env:"POPOUT_PORT"`
	PublicURL          string   `json:"publicUrl" env:"POPOUT_PUBLIC_URL"`
	AllowedOrigins     []string `json:"allowedOrigins" env:"POPOUT_ALLOWED_ORIGINS"`
	SessionTTLMinutes  int      `json:"sessionTtlMinutes"`
	RateLimitPerMinute int      `json:"rateLimitPerMinute" env:"POPOUT_RATE_LIMIT_PER_MINUTE"`
	RateLimitBurst     int      `json:"rateLimitBurst"`
}

type StorageConfig struct {
	Enabled       bool   `json:"enabled" env:"POPOUT_STORAGE_ENABLED"`
	DBPath        string `json:"dbPath" env:"POPOUT_DB_PATH"`
	MaxHistory    int    `json:"maxHistory"`
	RetentionDays int    `json:"retentionDays"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" env:"POPOUT_METRICS_ENABLED"`
	Path    string `json:"path"`
}

// MockWebhookConfig configures the local stand-in webhook used for
// development and the doctor command.
type MockWebhookConfig struct {
	Port    int    `json:"port" env:"POPOUT_MOCK_WEBHOOK_PORT"`
	Path    string `json:"path"`
	Secret  string `json:"secret" env:"POPOUT_MOCK_WEBHOOK_SECRET"`
	Welcome string `json:"welcome"`
}

// DefaultConfigDir returns the default config directory (~/.popoutchat).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".popoutchat"
	}
	return filepath.Join(home, ".popoutchat")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Load reads a YAML or JSON config file, deep-merges it over Defaults,
// applies POPOUT_* environment overrides and validates the result. A
// missing file yields the defaults plus environment overrides.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	layer := map[string]any{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	default:
		// Substitute environment variables: ${VAR} and ${VAR:-default}
		data = []byte(ExpandEnvVars(string(data)))
		if err := yaml.Unmarshal(data, &layer); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	cfg, err := FromLayers(Defaults(), layer)
	if err != nil {
		return nil, fmt.Errorf("cannot apply config file %s: %w", path, err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	cfg.Storage.DBPath = ExpandPath(cfg.Storage.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// variable without a default is left untouched.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		val, ok := os.LookupEnv(groups[1])
		if ok && val != "" {
			return val
		}
		if len(groups) >= 3 && groups[2] != "" {
			return groups[2]
		}
		return match
	})
}

// Save writes cfg as YAML.
func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	m, err := ToMap(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has usable values and reports every
// problem at once.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.Style.Position {
	case "left", "right":
	default:
		errs = append(errs, "style.position must be one of: left, right")
	}
	if cfg.Advanced.ZIndex < 0 {
		errs = append(errs, "advanced.zIndex must be >= 0")
	}
	if cfg.Advanced.StorageKey == "" {
		errs = append(errs, "advanced.storageKey must not be empty")
	}
	switch cfg.Advanced.WebhookPolicy {
	case WebhookPinned, WebhookOverridable:
	default:
		errs = append(errs, "advanced.webhookPolicy must be one of: pinned, overridable")
	}
	if cfg.Advanced.RequestTimeoutSeconds < 0 {
		errs = append(errs, "advanced.requestTimeoutSeconds must be >= 0")
	}

	if cfg.Webhook.URL != "" {
		if err := validateWebhookURL(cfg.Webhook.URL); err != nil {
			errs = append(errs, "webhook.url "+err.Error())
		}
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Server.SessionTTLMinutes < 1 {
		errs = append(errs, "server.sessionTtlMinutes must be >= 1")
	}
	if cfg.Server.RateLimitPerMinute < 0 {
		errs = append(errs, "server.rateLimitPerMinute must be >= 0")
	}
	if cfg.Server.RateLimitPerMinute > 0 && cfg.Server.RateLimitBurst < 1 {
		errs = append(errs, "server.rateLimitBurst must be >= 1 when rate limiting is on")
	}

	if cfg.Storage.Enabled {
		if cfg.Storage.DBPath == "" {
			errs = append(errs, "storage.dbPath is required when storage is enabled")
		}
		if cfg.Storage.MaxHistory < 1 {
			errs = append(errs, "storage.maxHistory must be >= 1")
		}
		if cfg.Storage.RetentionDays < 1 {
			errs = append(errs, "storage.retentionDays must be >= 1")
		}
	}
	if cfg.MockWebhook.Port < 0 || cfg.MockWebhook.Port > 65535 {
		errs = append(errs, "mockWebhook.port must be between 0 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("must include a host")
	}
	return nil
}

// ToMap converts cfg into its generic map form, keyed by JSON names.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
