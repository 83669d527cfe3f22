package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the drip engine configuration file
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	API       APIConfig       `yaml:"api"`
	Database  DatabaseConfig  `yaml:"database"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Transport TransportConfig `yaml:"transport"`
	SMS       SMSConfig       `yaml:"sms"`
	Redis     RedisConfig     `yaml:"redis"`
	Stripe    StripeConfig    `yaml:"stripe"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Sentry    SentryConfig    `yaml:"sentry"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Branding  BrandingConfig  `yaml:"branding"`
}

// ServerConfig contains process identity
type ServerConfig struct {
	Hostname string `yaml:"hostname"`
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodySize     int64         `yaml:"max_body_size"`

	// IPs or CIDRs allowed to call /api/v1 and /webhooks. Empty allows all.
	AllowedIPs        []string `yaml:"allowed_ips"`
	WebhookAllowedIPs []string `yaml:"webhook_allowed_ips"`
}

// DatabaseConfig selects the SQL backend
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	DSN    string `yaml:"dsn"`
}

// SchedulerConfig controls the periodic due-work scan
type SchedulerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Schedule         string        `yaml:"schedule"`
	BatchSize        int           `yaml:"batch_size"`
	Concurrency      int           `yaml:"concurrency"`
	MaxAttempts      int           `yaml:"max_attempts"`
	RetryInterval    time.Duration `yaml:"retry_interval"`
	MaxRetryInterval time.Duration `yaml:"max_retry_interval"`
	ClaimTTL         time.Duration `yaml:"claim_ttl"`
	SendTimeout      time.Duration `yaml:"send_timeout"`
}

// TransportConfig selects how email leaves the system
type TransportConfig struct {
	Provider      string         `yaml:"provider"` // smtp, sendgrid, relay, sandbox
	RatePerSecond float64        `yaml:"rate_per_second"`
	Burst         int            `yaml:"burst"`
	SMTP          SMTPConfig     `yaml:"smtp"`
	SendGrid      SendGridConfig `yaml:"sendgrid"`
	Relay         RelayConfig    `yaml:"relay"`
	Sandbox       SandboxConfig  `yaml:"sandbox"`
	DKIM          DKIMConfig     `yaml:"dkim"`
}

// SMTPConfig contains SMTP relay submission settings
type SMTPConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	TLS      string        `yaml:"tls"` // starttls, tls, none
	Timeout  time.Duration `yaml:"timeout"`
}

// SendGridConfig contains SendGrid API settings
type SendGridConfig struct {
	APIKey string `yaml:"api_key"`
	Host   string `yaml:"host"`
	// WebhookPublicKey verifies signed event webhooks (base64 DER).
	// Empty accepts unsigned events.
	WebhookPublicKey string `yaml:"webhook_public_key"`
}

// RelayConfig points at an MTA HTTP API
type RelayConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// SandboxConfig contains capture store settings
type SandboxConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// DKIMConfig contains DKIM signing settings for SMTP submission
type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Selector string `yaml:"selector"`
	Domain   string `yaml:"domain"`
	KeyFile  string `yaml:"key_file"`
}

// SMSConfig selects the SMS provider used by automations
type SMSConfig struct {
	Provider   string `yaml:"provider"` // twilio, sandbox or empty to disable
	BaseURL    string `yaml:"base_url"`
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	From       string `yaml:"from"`
	Region     string `yaml:"region"`
}

// RedisConfig enables the scheduler lease
type RedisConfig struct {
	URL      string        `yaml:"url"`
	LeaseTTL time.Duration `yaml:"lease_ttl"`
	Prefix   string        `yaml:"prefix"`
}

// StripeConfig contains webhook verification settings
type StripeConfig struct {
	WebhookSecret string `yaml:"webhook_secret"`
}

// OpenAIConfig contains content generation settings
type OpenAIConfig struct {
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// SentryConfig contains error reporting settings
type SentryConfig struct {
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BrandingConfig is the studio identity used in messages and scheduling
type BrandingConfig struct {
	BusinessName     string `yaml:"business_name"`
	PhotographerName string `yaml:"photographer_name"`
	Website          string `yaml:"website"`
	Phone            string `yaml:"phone"`
	Timezone         string `yaml:"timezone"`
	FromEmail        string `yaml:"from_email"`
	FromName         string `yaml:"from_name"`
	ReplyTo          string `yaml:"reply_to"`
	UnsubscribeURL   string `yaml:"unsubscribe_url"`
}

// Load reads, defaults and validates the configuration at path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnv lets secrets come from the environment instead of the file
func (c *Config) applyEnv() {
	overrides := []struct {
		env string
		dst *string
	}{
		{"PHOTOCRM_DATABASE_DSN", &c.Database.DSN},
		{"SENDGRID_API_KEY", &c.Transport.SendGrid.APIKey},
		{"STRIPE_WEBHOOK_SECRET", &c.Stripe.WebhookSecret},
		{"OPENAI_API_KEY", &c.OpenAI.APIKey},
		{"SENTRY_DSN", &c.Sentry.DSN},
		{"REDIS_URL", &c.Redis.URL},
		{"TWILIO_AUTH_TOKEN", &c.SMS.AuthToken},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}
}

func (c *Config) setDefaults() {
	if c.Server.Hostname == "" {
		hostname, _ := os.Hostname()
		c.Server.Hostname = hostname
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 30 * time.Second
	}
	if c.API.ShutdownTimeout == 0 {
		c.API.ShutdownTimeout = 30 * time.Second
	}
	if c.API.MaxBodySize == 0 {
		c.API.MaxBodySize = 1024 * 1024 // 1MB
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = "/var/lib/photocrm/drip.db"
	}

	if c.Scheduler.Schedule == "" {
		c.Scheduler.Schedule = "@every 2m"
	}
	if c.Scheduler.BatchSize == 0 {
		c.Scheduler.BatchSize = 100
	}
	if c.Scheduler.Concurrency == 0 {
		c.Scheduler.Concurrency = 4
	}
	if c.Scheduler.MaxAttempts == 0 {
		c.Scheduler.MaxAttempts = 5
	}
	if c.Scheduler.RetryInterval == 0 {
		c.Scheduler.RetryInterval = 5 * time.Minute
	}
	if c.Scheduler.MaxRetryInterval == 0 {
		c.Scheduler.MaxRetryInterval = time.Hour
	}
	if c.Scheduler.ClaimTTL == 0 {
		c.Scheduler.ClaimTTL = 10 * time.Minute
	}
	if c.Scheduler.SendTimeout == 0 {
		c.Scheduler.SendTimeout = time.Minute
	}

	if c.Transport.Provider == "" {
		c.Transport.Provider = "sandbox"
	}
	if c.Transport.SMTP.Port == 0 {
		c.Transport.SMTP.Port = 587
	}
	if c.Transport.SMTP.TLS == "" {
		c.Transport.SMTP.TLS = "starttls"
	}
	if c.Transport.SMTP.Timeout == 0 {
		c.Transport.SMTP.Timeout = 30 * time.Second
	}
	if c.Transport.Relay.Timeout == 0 {
		c.Transport.Relay.Timeout = 30 * time.Second
	}
	if c.Transport.Sandbox.Path == "" {
		c.Transport.Sandbox.Path = "/var/lib/photocrm/sandbox.db"
	}
	if c.Transport.Sandbox.Retention == 0 {
		c.Transport.Sandbox.Retention = 7 * 24 * time.Hour
	}
	if c.Transport.DKIM.Selector == "" {
		c.Transport.DKIM.Selector = "photocrm"
	}

	if c.SMS.Region == "" {
		c.SMS.Region = "US"
	}

	if c.Redis.LeaseTTL == 0 {
		c.Redis.LeaseTTL = 5 * time.Minute
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "photocrm:lock:"
	}

	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4o-mini"
	}
	if c.OpenAI.Timeout == 0 {
		c.OpenAI.Timeout = 2 * time.Minute
	}

	if c.Sentry.Environment == "" {
		c.Sentry.Environment = "production"
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Branding.Timezone == "" {
		c.Branding.Timezone = "UTC"
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Scheduler.BatchSize < 1 {
		return fmt.Errorf("scheduler.batch_size must be positive")
	}
	if c.Scheduler.Concurrency < 1 {
		return fmt.Errorf("scheduler.concurrency must be positive")
	}
	if c.Scheduler.MaxAttempts < 1 {
		return fmt.Errorf("scheduler.max_attempts must be positive")
	}
	if c.Scheduler.MaxRetryInterval < c.Scheduler.RetryInterval {
		return fmt.Errorf("scheduler.max_retry_interval must not be below retry_interval")
	}

	if err := c.validateTransport(); err != nil {
		return err
	}

	switch c.SMS.Provider {
	case "", "sandbox":
	case "twilio":
		if c.SMS.AccountSID == "" || c.SMS.AuthToken == "" || c.SMS.From == "" {
			return fmt.Errorf("sms.account_sid, sms.auth_token and sms.from are required for twilio")
		}
	default:
		return fmt.Errorf("unknown sms.provider %q", c.SMS.Provider)
	}

	if _, err := time.LoadLocation(c.Branding.Timezone); err != nil {
		return fmt.Errorf("invalid branding.timezone: %w", err)
	}
	if c.Branding.FromEmail != "" && !strings.Contains(c.Branding.FromEmail, "@") {
		return fmt.Errorf("invalid branding.from_email %q", c.Branding.FromEmail)
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text")
	}

	return nil
}

func (c *Config) validateTransport() error {
	t := c.Transport
	switch t.Provider {
	case "sandbox":
	case "smtp":
		if t.SMTP.Host == "" {
			return fmt.Errorf("transport.smtp.host is required")
		}
		switch t.SMTP.TLS {
		case "starttls", "tls", "none":
		default:
			return fmt.Errorf("transport.smtp.tls must be starttls, tls or none")
		}
	case "sendgrid":
		if t.SendGrid.APIKey == "" {
			return fmt.Errorf("transport.sendgrid.api_key is required")
		}
	case "relay":
		if t.Relay.URL == "" {
			return fmt.Errorf("transport.relay.url is required")
		}
	default:
		return fmt.Errorf("unknown transport.provider %q", t.Provider)
	}

	if t.DKIM.Enabled {
		if t.DKIM.Domain == "" {
			return fmt.Errorf("transport.dkim.domain is required when DKIM is enabled")
		}
		if t.DKIM.KeyFile == "" {
			return fmt.Errorf("transport.dkim.key_file is required when DKIM is enabled")
		}
	}
	return nil
}

// Location returns the branding timezone
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Branding.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// HasLease reports whether the scheduler should coordinate through Redis
func (c *Config) HasLease() bool {
	return c.Redis.URL != ""
}
