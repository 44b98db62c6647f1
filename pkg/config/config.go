package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for igfeed
type Config struct {
	// Remote service settings
	Instagram InstagramConfig `yaml:"instagram" json:"instagram"`

	// Persistence backend
	Database DatabaseConfig `yaml:"database" json:"database"`

	// Stored session tokens
	Session SessionConfig `yaml:"session" json:"session"`

	// Delays between items
	Pacing PacingConfig `yaml:"pacing" json:"pacing"`

	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Payload downloads
	Download DownloadConfig `yaml:"download" json:"download"`

	Notifications NotificationConfig `yaml:"notifications" json:"notifications"`

	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`

	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// InstagramConfig holds remote endpoint configuration
type InstagramConfig struct {
	BaseURL        string        `yaml:"base_url" json:"base_url"`
	UserAgent      string        `yaml:"user_agent" json:"user_agent"`
	AppID          string        `yaml:"app_id" json:"app_id"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// DatabaseConfig selects and addresses the persistence backend
type DatabaseConfig struct {
	Driver     string `yaml:"driver" json:"driver"`
	DSN        string `yaml:"dsn" json:"dsn"`
	Host       string `yaml:"host" json:"host"`
	Port       int    `yaml:"port" json:"port"`
	User       string `yaml:"user" json:"user"`
	Password   string `yaml:"password" json:"-"`
	Name       string `yaml:"name" json:"name"`
	SQLitePath string `yaml:"sqlite_path" json:"sqlite_path"`
}

type SessionConfig struct {
	Directory  string `yaml:"directory" json:"directory"`
	Passphrase string `yaml:"passphrase" json:"-"`
}

// PacingConfig holds the delay applied after each inserted item
// and the cooldown applied after a throttled fetch
type PacingConfig struct {
	MinDelay time.Duration `yaml:"min_delay" json:"min_delay"`
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int `yaml:"burst_size" json:"burst_size"`
}

// DownloadConfig holds payload download configuration
type DownloadConfig struct {
	Directory     string        `yaml:"directory" json:"directory"`
	SkipVideos    bool          `yaml:"skip_videos" json:"skip_videos"`
	RetryAttempts int           `yaml:"retry_attempts" json:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay" json:"retry_delay"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
}

// NotificationConfig holds alert preferences
type NotificationConfig struct {
	Enabled      bool        `yaml:"enabled" json:"enabled"`
	Desktop      bool        `yaml:"desktop" json:"desktop"`
	OnDeactivate bool        `yaml:"on_deactivate" json:"on_deactivate"`
	OnComplete   bool        `yaml:"on_complete" json:"on_complete"`
	Email        EmailConfig `yaml:"email" json:"email"`
}

type EmailConfig struct {
	Host     string   `yaml:"host" json:"host"`
	Port     int      `yaml:"port" json:"port"`
	Username string   `yaml:"username" json:"username"`
	Password string   `yaml:"password" json:"-"`
	From     string   `yaml:"from" json:"from"`
	To       []string `yaml:"to" json:"to"`
}

// Configured reports whether enough SMTP settings are present to send mail
func (e EmailConfig) Configured() bool {
	return e.Host != "" && e.From != "" && len(e.To) > 0
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	Endpoint    string `yaml:"endpoint" json:"endpoint"`
	Insecure    bool   `yaml:"insecure" json:"insecure"`
	ServiceName string `yaml:"service_name" json:"service_name"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `yaml:"level" json:"level"`
	File    string `yaml:"file" json:"file"`
	Format  string `yaml:"format" json:"format"`
	NoColor bool   `yaml:"no_color" json:"no_color"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Instagram: InstagramConfig{
			BaseURL:        "https://www.instagram.com",
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			AppID:          "936619743392459",
			RequestTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:     "postgres",
			Host:       "127.0.0.1",
			Port:       5433,
			User:       "sman1_user",
			Name:       "sman1_baleendah",
			SQLitePath: filepath.Join(dataDirectory(), "igfeed.db"),
		},
		Session: SessionConfig{
			Directory: filepath.Join(dataDirectory(), "sessions"),
		},
		Pacing: PacingConfig{
			MinDelay: 10 * time.Second,
			MaxDelay: 20 * time.Second,
			Cooldown: 60 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 30,
			BurstSize:         5,
		},
		Download: DownloadConfig{
			Directory:     "./downloads",
			SkipVideos:    true,
			RetryAttempts: 2,
			RetryDelay:    2 * time.Second,
			Timeout:       30 * time.Second,
		},
		Notifications: NotificationConfig{
			Enabled:      true,
			Desktop:      false,
			OnDeactivate: true,
			OnComplete:   false,
			Email: EmailConfig{
				Port: 587,
			},
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Endpoint:    "localhost:4318",
			Insecure:    true,
			ServiceName: "igfeed",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// dataDirectory returns the XDG data directory for igfeed
func dataDirectory() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "igfeed")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "igfeed")
	}
	return ".igfeed"
}

// PostgresDSN returns the configured DSN or builds one from the discrete fields
func (d DatabaseConfig) PostgresDSN() string {
	if d.DSN != "" {
		return d.DSN
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=disable",
	}
	if d.Password != "" {
		u.User = url.UserPassword(d.User, d.Password)
	} else {
		u.User = url.User(d.User)
	}
	return u.String()
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	// Database names shared with the rest of the stack
	if v := os.Getenv("DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("DB_PORT: %w", err))
		} else {
			c.Database.Port = port
		}
	}
	if v := os.Getenv("DB_USERNAME"); v != "" {
		c.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("DB_DATABASE"); v != "" {
		c.Database.Name = v
	}

	if v := os.Getenv("IGFEED_DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("IGFEED_DB_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("IGFEED_SQLITE_PATH"); v != "" {
		c.Database.SQLitePath = v
	}
	if v := os.Getenv("IGFEED_SESSION_DIR"); v != "" {
		c.Session.Directory = v
	}
	if v := os.Getenv("IGFEED_SESSION_PASSPHRASE"); v != "" {
		c.Session.Passphrase = v
	}
	if v := os.Getenv("IGFEED_DOWNLOAD_DIR"); v != "" {
		c.Download.Directory = v
	}
	if v := os.Getenv("IGFEED_USER_AGENT"); v != "" {
		c.Instagram.UserAgent = v
	}
	if v := os.Getenv("IGFEED_BASE_URL"); v != "" {
		c.Instagram.BaseURL = v
	}

	if v := os.Getenv("IGFEED_MIN_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("IGFEED_MIN_DELAY: %w", err))
		} else {
			c.Pacing.MinDelay = d
		}
	}
	if v := os.Getenv("IGFEED_MAX_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("IGFEED_MAX_DELAY: %w", err))
		} else {
			c.Pacing.MaxDelay = d
		}
	}
	if v := os.Getenv("IGFEED_COOLDOWN"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("IGFEED_COOLDOWN: %w", err))
		} else {
			c.Pacing.Cooldown = d
		}
	}
	if v := os.Getenv("IGFEED_REQUESTS_PER_MINUTE"); v != "" {
		rpm, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("IGFEED_REQUESTS_PER_MINUTE: %w", err))
		} else if rpm > 0 {
			c.RateLimit.RequestsPerMinute = rpm
		}
	}

	if v := os.Getenv("IGFEED_NOTIFICATIONS_ENABLED"); v != "" {
		c.Notifications.Enabled = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("IGFEED_SMTP_HOST"); v != "" {
		c.Notifications.Email.Host = v
	}
	if v := os.Getenv("IGFEED_SMTP_USERNAME"); v != "" {
		c.Notifications.Email.Username = v
	}
	if v := os.Getenv("IGFEED_SMTP_PASSWORD"); v != "" {
		c.Notifications.Email.Password = v
	}
	if v := os.Getenv("IGFEED_ALERT_TO"); v != "" {
		c.Notifications.Email.To = strings.Split(v, ",")
	}

	if v := os.Getenv("IGFEED_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Enabled = true
		c.Telemetry.Endpoint = v
	}
	if v := os.Getenv("IGFEED_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("IGFEED_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".igfeed.yaml",
		".igfeed.yml",
		filepath.Join(home, ".config", "igfeed", "config.yaml"),
		filepath.Join(home, ".config", "igfeed", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// DefaultPath is where `config init` writes a fresh file
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".config", "igfeed", "config.yaml")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Instagram.BaseURL == "" {
		errs = append(errs, errors.New("instagram base URL is required"))
	}
	if c.Instagram.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" && (c.Database.Host == "" || c.Database.Name == "") {
			errs = append(errs, errors.New("postgres requires a dsn or host and database name"))
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite path is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}

	if c.Session.Directory == "" {
		errs = append(errs, errors.New("session directory is required"))
	}

	if c.Pacing.MinDelay < 0 || c.Pacing.MaxDelay < 0 || c.Pacing.Cooldown < 0 {
		errs = append(errs, errors.New("pacing durations cannot be negative"))
	}
	if c.Pacing.MaxDelay < c.Pacing.MinDelay {
		errs = append(errs, errors.New("pacing max delay must not be below min delay"))
	}

	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}
	if c.RateLimit.BurstSize <= 0 {
		errs = append(errs, errors.New("burst size must be positive"))
	}

	if c.Download.Directory == "" {
		errs = append(errs, errors.New("download directory is required"))
	}
	if c.Download.RetryAttempts < 0 {
		errs = append(errs, errors.New("retry attempts cannot be negative"))
	}
	if c.Download.Timeout <= 0 {
		errs = append(errs, errors.New("download timeout must be positive"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		errs = append(errs, errors.New("log format must be console or json"))
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		errs = append(errs, errors.New("telemetry endpoint is required when telemetry is enabled"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if level, ok := flags["log-level"].(string); ok && level != "" {
		c.Logging.Level = level
	}
	if noColor, ok := flags["no-color"].(bool); ok && noColor {
		c.Logging.NoColor = true
	}
	if driver, ok := flags["db-driver"].(string); ok && driver != "" {
		c.Database.Driver = driver
	}
	if dir, ok := flags["download-dir"].(string); ok && dir != "" {
		c.Download.Directory = dir
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".igfeed.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
