package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	DefaultListen       = ":8080"
	DefaultLedgerConfig = "mavuno.toml"
	DefaultTimelineDSN  = "file:mavuno-timeline.db"
	DefaultKafkaTopic   = "mavuno.ledger.events"
	DefaultReportCron   = "5 0 * * *"
)

// Config captures the runtime settings for the ledger daemon.
type Config struct {
	ListenAddress   string        `yaml:"listen"`
	Environment     string        `yaml:"environment"`
	LedgerConfig    string        `yaml:"ledger_config"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// PoolMetricsInterval is how often pool gauges are refreshed.
	PoolMetricsInterval time.Duration `yaml:"pool_metrics_interval"`

	Auth          AuthConfig                 `yaml:"auth"`
	RateLimits    map[string]RateLimitConfig `yaml:"rate_limits"`
	CORS          CORSConfig                 `yaml:"cors"`
	Timeline      TimelineConfig             `yaml:"timeline"`
	Onramp        OnrampConfig               `yaml:"onramp"`
	Kafka         KafkaConfig                `yaml:"kafka"`
	Observability ObservabilityConfig        `yaml:"observability"`
}

// AuthConfig configures HS256 bearer tokens. SecretEnv names an environment
// variable holding the secret and wins over Secret.
type AuthConfig struct {
	Secret    string        `yaml:"secret"`
	SecretEnv string        `yaml:"secret_env"`
	Issuer    string        `yaml:"issuer"`
	Audience  string        `yaml:"audience"`
	ClockSkew time.Duration `yaml:"clock_skew"`
}

type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type TimelineConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
	Buffer  int    `yaml:"buffer"`
}

type OnrampConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Provider         string `yaml:"provider"`
	WebhookSecret    string `yaml:"webhook_secret"`
	WebhookSecretEnv string `yaml:"webhook_secret_env"`
	// MinterKeystore holds the key the on-ramp mints and supplies with.
	MinterKeystore string `yaml:"minter_keystore"`
	PassphraseEnv  string `yaml:"passphrase_env"`
	// DSN defaults to the timeline database.
	DSN    string       `yaml:"dsn"`
	Quota  QuotaConfig  `yaml:"quota"`
	Report ReportConfig `yaml:"report"`
}

type QuotaConfig struct {
	MaxRequestsPerEpoch uint32        `yaml:"max_requests"`
	MaxMintPerEpoch     uint64        `yaml:"max_mint"`
	Epoch               time.Duration `yaml:"epoch"`
}

type ReportConfig struct {
	Enabled bool          `yaml:"enabled"`
	Cron    string        `yaml:"cron"`
	Dir     string        `yaml:"dir"`
	Window  time.Duration `yaml:"window"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	Buffer  int      `yaml:"buffer"`
}

type ObservabilityConfig struct {
	ServiceName  string  `yaml:"service_name"`
	LogLevel     string  `yaml:"log_level"`
	LogFile      string  `yaml:"log_file"`
	LogRequests  bool    `yaml:"log_requests"`
	Metrics      bool    `yaml:"metrics"`
	Tracing      bool    `yaml:"tracing"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	OTLPInsecure bool    `yaml:"otlp_insecure"`
	OTLPHeaders  string  `yaml:"otlp_headers"`
	SampleRatio  float64 `yaml:"sample_ratio"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{}
	if strings.TrimSpace(path) == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListen
	}
	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	if cfg.Environment == "" {
		cfg.Environment = "dev"
	}
	cfg.LedgerConfig = strings.TrimSpace(cfg.LedgerConfig)
	if cfg.LedgerConfig == "" {
		cfg.LedgerConfig = DefaultLedgerConfig
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	if cfg.PoolMetricsInterval <= 0 {
		cfg.PoolMetricsInterval = 30 * time.Second
	}
	cfg.Auth.normalize()
	cfg.CORS.AllowedOrigins = trimAll(cfg.CORS.AllowedOrigins)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"*"}
	}
	cfg.Timeline.DSN = strings.TrimSpace(cfg.Timeline.DSN)
	if cfg.Timeline.DSN == "" {
		cfg.Timeline.DSN = DefaultTimelineDSN
	}
	cfg.Onramp.normalize(cfg.Timeline.DSN)
	cfg.Kafka.Brokers = trimAll(cfg.Kafka.Brokers)
	cfg.Kafka.Topic = strings.TrimSpace(cfg.Kafka.Topic)
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = DefaultKafkaTopic
	}
	cfg.Observability.ServiceName = strings.TrimSpace(cfg.Observability.ServiceName)
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "mavunod"
	}
	cfg.Observability.LogFile = strings.TrimSpace(cfg.Observability.LogFile)
	cfg.Observability.OTLPEndpoint = strings.TrimSpace(cfg.Observability.OTLPEndpoint)
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if err := cfg.Auth.validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	for group, limit := range cfg.RateLimits {
		if limit.RequestsPerMinute <= 0 {
			return fmt.Errorf("rate_limits.%s: requests_per_minute must be positive", group)
		}
		if limit.Burst < 0 {
			return fmt.Errorf("rate_limits.%s: burst must not be negative", group)
		}
	}
	if cfg.Onramp.Enabled {
		if err := cfg.Onramp.validate(); err != nil {
			return fmt.Errorf("onramp: %w", err)
		}
	}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka: at least one broker required when enabled")
	}
	if r := cfg.Observability.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("observability: sample_ratio must be within [0, 1]")
	}
	return nil
}

func (cfg *AuthConfig) normalize() {
	cfg.Secret = strings.TrimSpace(cfg.Secret)
	cfg.SecretEnv = strings.TrimSpace(cfg.SecretEnv)
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	if cfg.Issuer == "" {
		cfg.Issuer = "mavuno"
	}
	if cfg.Audience == "" {
		cfg.Audience = "mavuno-api"
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
}

func (cfg AuthConfig) validate() error {
	if cfg.Secret == "" && cfg.SecretEnv == "" {
		return fmt.Errorf("secret or secret_env must be configured")
	}
	return nil
}

// ResolveSecret returns the signing secret, reading SecretEnv when set.
func (cfg AuthConfig) ResolveSecret() (string, error) {
	return resolveSecret(cfg.Secret, cfg.SecretEnv)
}

func (cfg *OnrampConfig) normalize(timelineDSN string) {
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	if cfg.Provider == "" {
		cfg.Provider = "default"
	}
	cfg.WebhookSecret = strings.TrimSpace(cfg.WebhookSecret)
	cfg.WebhookSecretEnv = strings.TrimSpace(cfg.WebhookSecretEnv)
	cfg.MinterKeystore = strings.TrimSpace(cfg.MinterKeystore)
	cfg.PassphraseEnv = strings.TrimSpace(cfg.PassphraseEnv)
	if cfg.PassphraseEnv == "" {
		cfg.PassphraseEnv = "MAVUNO_ONRAMP_PASSPHRASE"
	}
	cfg.DSN = strings.TrimSpace(cfg.DSN)
	if cfg.DSN == "" {
		cfg.DSN = timelineDSN
	}
	if cfg.Quota.Epoch <= 0 {
		cfg.Quota.Epoch = 24 * time.Hour
	}
	cfg.Report.Cron = strings.TrimSpace(cfg.Report.Cron)
	if cfg.Report.Cron == "" {
		cfg.Report.Cron = DefaultReportCron
	}
	cfg.Report.Dir = strings.TrimSpace(cfg.Report.Dir)
	if cfg.Report.Dir == "" {
		cfg.Report.Dir = "reports"
	}
	if cfg.Report.Window <= 0 {
		cfg.Report.Window = 24 * time.Hour
	}
}

func (cfg OnrampConfig) validate() error {
	if cfg.WebhookSecret == "" && cfg.WebhookSecretEnv == "" {
		return fmt.Errorf("webhook_secret or webhook_secret_env must be configured")
	}
	if cfg.MinterKeystore == "" {
		return fmt.Errorf("minter_keystore is required")
	}
	if cfg.Quota.Epoch < time.Second {
		return fmt.Errorf("quota.epoch must be at least one second")
	}
	if cfg.Report.Enabled {
		if _, err := cron.ParseStandard(cfg.Report.Cron); err != nil {
			return fmt.Errorf("report.cron: %w", err)
		}
	}
	return nil
}

// ResolveWebhookSecret returns the provider's signing secret, reading
// WebhookSecretEnv when set.
func (cfg OnrampConfig) ResolveWebhookSecret() (string, error) {
	return resolveSecret(cfg.WebhookSecret, cfg.WebhookSecretEnv)
}

func resolveSecret(value, envVar string) (string, error) {
	if envVar != "" {
		secret, ok := os.LookupEnv(envVar)
		if !ok || strings.TrimSpace(secret) == "" {
			return "", fmt.Errorf("%s is not set", envVar)
		}
		return strings.TrimSpace(secret), nil
	}
	if value == "" {
		return "", fmt.Errorf("secret is empty")
	}
	return value, nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
