package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for chatrelay.
type Config struct {
	General     GeneralConfig     `yaml:"general"`
	Server      ServerConfig      `yaml:"server"`
	Backend     BackendConfig     `yaml:"backend"`
	Attachments AttachmentsConfig `yaml:"attachments"`
	Messenger   MessengerConfig   `yaml:"messenger"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel              string `yaml:"logLevel"`
	LogFormat             string `yaml:"logFormat"`         // "text" | "json"
	LogFile               string `yaml:"logFile,omitempty"` // optional log file path
	MaxConcurrentMessages int    `yaml:"maxConcurrentMessages"`
	BusBufferSize         int    `yaml:"busBufferSize"`
}

type ServerConfig struct {
	Host              string `yaml:"host"`
	Port              int    `yaml:"port"`
	PublicDir         string `yaml:"publicDir,omitempty"` // static files, skipped when missing
	SendRatePerMinute int    `yaml:"sendRatePerMinute"`   // /send-message limit, 0 = unlimited
	SendBurst         int    `yaml:"sendBurst"`
}

type BackendConfig struct {
	WebhookURL            string `yaml:"webhookUrl"`
	BaseURL               string `yaml:"baseUrl,omitempty"` // user stats API
	WebhookTimeoutSeconds int    `yaml:"webhookTimeoutSeconds"`
	StatsTimeoutSeconds   int    `yaml:"statsTimeoutSeconds"`
}

type AttachmentsConfig struct {
	UploadsDir   string `yaml:"uploadsDir"`
	MaxFileSize  int64  `yaml:"maxFileSize"`
	IndexEnabled bool   `yaml:"indexEnabled"`
	IndexPath    string `yaml:"indexPath,omitempty"`
}

type MessengerConfig struct {
	Driver   string         `yaml:"driver"` // "telegram" | "whatsapp" | "console"
	Telegram TelegramConfig `yaml:"telegram"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
}

type TelegramConfig struct {
	Token     string         `yaml:"token"`
	AllowFrom FlexStringList `yaml:"allowFrom,omitempty"`
}

type WhatsAppConfig struct {
	AccessToken   string `yaml:"accessToken,omitempty"`
	AppSecret     string `yaml:"appSecret,omitempty"`
	VerifyToken   string `yaml:"verifyToken,omitempty"`
	PhoneNumberID string `yaml:"phoneNumberId,omitempty"`
	WebhookPath   string `yaml:"webhookPath,omitempty"`
	APIBase       string `yaml:"apiBase,omitempty"`
}

// FlexStringList is a []string that accepts YAML sequences mixing strings and
// numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: expected a list", node.Line)
	}
	result := make([]string, 0, len(node.Content))
	for _, item := range node.Content {
		if item.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: expected a scalar", item.Line)
		}
		result = append(result, item.Value)
	}
	*f = result
	return nil
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

const (
	DriverTelegram = "telegram"
	DriverWhatsApp = "whatsapp"
	DriverConsole  = "console"
)

// DefaultConfigDir returns the default config directory (~/.chatrelay).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatrelay"
	}
	return filepath.Join(home, ".chatrelay")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Load reads the YAML file at path, applies environment overrides and
// validates the result. A missing file yields defaults plus environment.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	cfg := Defaults()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	default:
		// Substitute environment variables: ${VAR} and ${VAR:-default}
		data = []byte(ExpandEnvVars(string(data)))
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Attachments.UploadsDir = ExpandPath(cfg.Attachments.UploadsDir)
	cfg.Attachments.IndexPath = ExpandPath(cfg.Attachments.IndexPath)
	cfg.Server.PublicDir = ExpandPath(cfg.Server.PublicDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with the deployment environment variables.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		return v, ok && v != ""
	}

	if v, ok := get("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v, ok := get("WEBHOOK_URL"); ok {
		cfg.Backend.WebhookURL = v
	}
	if v, ok := get("PYTHON_BACKEND_URL"); ok {
		cfg.Backend.BaseURL = v
	}
	if v, ok := get("UPLOADS_DIR"); ok {
		cfg.Attachments.UploadsDir = v
	}
	if v, ok := get("MAX_FILE_SIZE"); ok {
		size, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MAX_FILE_SIZE %q: %w", v, err)
		}
		cfg.Attachments.MaxFileSize = size
	}
	if v, ok := get("TELEGRAM_TOKEN"); ok {
		cfg.Messenger.Telegram.Token = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.General.LogLevel = v
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}
	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Server.SendRatePerMinute < 0 {
		errs = append(errs, "server.sendRatePerMinute must be >= 0")
	}

	if u, err := url.Parse(cfg.Backend.WebhookURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "backend.webhookUrl must be an absolute URL")
	}
	if cfg.Backend.WebhookTimeoutSeconds < 1 {
		errs = append(errs, "backend.webhookTimeoutSeconds must be >= 1")
	}
	if cfg.Backend.StatsTimeoutSeconds < 1 {
		errs = append(errs, "backend.statsTimeoutSeconds must be >= 1")
	}

	if cfg.Attachments.UploadsDir == "" {
		errs = append(errs, "attachments.uploadsDir is required")
	}
	if cfg.Attachments.MaxFileSize < 1 {
		errs = append(errs, "attachments.maxFileSize must be >= 1")
	}
	if cfg.Attachments.IndexEnabled && cfg.Attachments.IndexPath == "" {
		errs = append(errs, "attachments.indexPath is required when the index is enabled")
	}

	switch cfg.Messenger.Driver {
	case DriverTelegram:
		if cfg.Messenger.Telegram.Token == "" {
			errs = append(errs, "messenger.telegram.token is required for the telegram driver")
		}
	case DriverWhatsApp:
		wa := cfg.Messenger.WhatsApp
		if wa.AccessToken == "" || wa.PhoneNumberID == "" {
			errs = append(errs, "messenger.whatsapp.accessToken and phoneNumberId are required for the whatsapp driver")
		}
		if wa.VerifyToken == "" {
			errs = append(errs, "messenger.whatsapp.verifyToken is required for the whatsapp driver")
		}
	case DriverConsole:
	default:
		errs = append(errs, "messenger.driver must be one of: telegram, whatsapp, console")
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
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
