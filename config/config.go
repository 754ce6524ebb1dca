// Package config loads the process configuration for the outreach workers and
// the control-plane API. Values come from an optional YAML file, overlaid with
// environment variables (a local .env file is honoured in development). All
// durations accept Go duration syntax.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type (
	// Config is the root configuration shared by cmd/worker and cmd/api.
	Config struct {
		Temporal   TemporalConfig   `yaml:"temporal"`
		HTTP       HTTPConfig       `yaml:"http"`
		Postgres   PostgresConfig   `yaml:"postgres"`
		Redis      RedisConfig      `yaml:"redis"`
		Mongo      MongoConfig      `yaml:"mongo"`
		Objects    ObjectsConfig    `yaml:"objects"`
		Provider   ProviderConfig   `yaml:"provider"`
		Anthropic  AnthropicConfig  `yaml:"anthropic"`
		Limits     LimitsConfig     `yaml:"limits"`
		Outreach   OutreachConfig   `yaml:"outreach"`
		Monitoring MonitoringConfig `yaml:"monitoring"`
	}

	// TemporalConfig locates the Temporal cluster and names the task queues the
	// workers poll.
	TemporalConfig struct {
		HostPort       string `yaml:"host_port"`
		Namespace      string `yaml:"namespace"`
		OutreachQueue  string `yaml:"outreach_queue"`
		MonitorQueue   string `yaml:"monitor_queue"`
		DisableTracing bool   `yaml:"disable_tracing"`
	}

	// HTTPConfig configures the control-plane listener.
	HTTPConfig struct {
		Addr           string   `yaml:"addr"`
		AllowedOrigins []string `yaml:"allowed_origins"`
		AuthToken      string   `yaml:"auth_token"`
	}

	// PostgresConfig holds the relational store connection settings.
	PostgresConfig struct {
		DSN          string        `yaml:"dsn"`
		MaxOpenConns int           `yaml:"max_open_conns"`
		MaxIdleConns int           `yaml:"max_idle_conns"`
		ConnLifetime time.Duration `yaml:"conn_lifetime"`
	}

	// RedisConfig holds the Redis connection backing the rate limiter and the
	// alert streams.
	RedisConfig struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	}

	// MongoConfig holds the document store used by the post-summary cache.
	MongoConfig struct {
		URI      string `yaml:"uri"`
		Database string `yaml:"database"`
	}

	// ObjectsConfig locates the S3 bucket holding workflow definitions and
	// uploaded lead lists.
	ObjectsConfig struct {
		Bucket  string `yaml:"bucket"`
		Region  string `yaml:"region"`
		Profile string `yaml:"profile"`
	}

	// ProviderConfig configures the social-provider gateway client.
	ProviderConfig struct {
		BaseURL           string        `yaml:"base_url"`
		APIKey            string        `yaml:"api_key"`
		Timeout           time.Duration `yaml:"timeout"`
		RequestsPerSecond float64       `yaml:"requests_per_second"`
	}

	// AnthropicConfig configures the post-summarization model client.
	AnthropicConfig struct {
		APIKey string `yaml:"api_key"`
		Model  string `yaml:"model"`
	}

	// LimitsConfig caps provider-quota-consuming actions per sender account.
	LimitsConfig struct {
		ConnectionsPerDay  int `yaml:"connections_per_day"`
		ConnectionsPerWeek int `yaml:"connections_per_week"`
	}

	// OutreachConfig tunes the campaign orchestrator.
	OutreachConfig struct {
		MaxConcurrentLeads  int           `yaml:"max_concurrent_leads"`
		LeadProcessingDelay time.Duration `yaml:"lead_processing_delay"`
	}

	// MonitoringConfig tunes the entity monitor loops.
	MonitoringConfig struct {
		LeadInterval    time.Duration `yaml:"lead_interval"`
		CompanyInterval time.Duration `yaml:"company_interval"`
	}
)

// Defaults applied by Load when neither file nor environment provides a value.
const (
	DefaultTemporalHostPort  = "localhost:7233"
	DefaultTemporalNamespace = "default"
	DefaultOutreachQueue     = "outreach"
	DefaultMonitorQueue      = "monitoring"
	DefaultHTTPAddr          = ":8080"

	DefaultConnectionsPerDay  = 20
	DefaultConnectionsPerWeek = 100

	DefaultMaxConcurrentLeads  = 3
	DefaultLeadProcessingDelay = 30 * time.Second

	DefaultLeadInterval    = 24 * time.Hour
	DefaultCompanyInterval = 7 * 24 * time.Hour
)

// Load reads the configuration file at path when it exists, overlays
// environment variables and applies defaults. A missing path is not an error:
// the configuration then comes entirely from the environment. A .env file in
// the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Environment-only configuration.
		default:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Temporal.HostPort, "TEMPORAL_HOST_PORT")
	setString(&c.Temporal.Namespace, "TEMPORAL_NAMESPACE")
	setString(&c.Temporal.OutreachQueue, "TEMPORAL_OUTREACH_QUEUE")
	setString(&c.Temporal.MonitorQueue, "TEMPORAL_MONITOR_QUEUE")

	setString(&c.HTTP.Addr, "HTTP_ADDR")
	setString(&c.HTTP.AuthToken, "HTTP_AUTH_TOKEN")

	setString(&c.Postgres.DSN, "POSTGRES_DSN")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Mongo.URI, "MONGO_URI")
	setString(&c.Mongo.Database, "MONGO_DATABASE")

	setString(&c.Objects.Bucket, "OBJECTS_BUCKET")
	setString(&c.Objects.Region, "OBJECTS_REGION")
	setString(&c.Objects.Profile, "AWS_PROFILE")

	setString(&c.Provider.BaseURL, "PROVIDER_BASE_URL")
	setString(&c.Provider.APIKey, "PROVIDER_API_KEY")

	setString(&c.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	setString(&c.Anthropic.Model, "ANTHROPIC_MODEL")

	setInt(&c.Limits.ConnectionsPerDay, "LIMIT_CONNECTIONS_PER_DAY")
	setInt(&c.Limits.ConnectionsPerWeek, "LIMIT_CONNECTIONS_PER_WEEK")
	setInt(&c.Outreach.MaxConcurrentLeads, "OUTREACH_MAX_CONCURRENT_LEADS")
	setDuration(&c.Outreach.LeadProcessingDelay, "OUTREACH_LEAD_PROCESSING_DELAY")
	setDuration(&c.Monitoring.LeadInterval, "MONITORING_LEAD_INTERVAL")
	setDuration(&c.Monitoring.CompanyInterval, "MONITORING_COMPANY_INTERVAL")
}

func (c *Config) applyDefaults() {
	if c.Temporal.HostPort == "" {
		c.Temporal.HostPort = DefaultTemporalHostPort
	}
	if c.Temporal.Namespace == "" {
		c.Temporal.Namespace = DefaultTemporalNamespace
	}
	if c.Temporal.OutreachQueue == "" {
		c.Temporal.OutreachQueue = DefaultOutreachQueue
	}
	if c.Temporal.MonitorQueue == "" {
		c.Temporal.MonitorQueue = DefaultMonitorQueue
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Provider.Timeout <= 0 {
		c.Provider.Timeout = 30 * time.Second
	}
	if c.Provider.RequestsPerSecond <= 0 {
		c.Provider.RequestsPerSecond = 2
	}
	if c.Limits.ConnectionsPerDay <= 0 {
		c.Limits.ConnectionsPerDay = DefaultConnectionsPerDay
	}
	if c.Limits.ConnectionsPerWeek <= 0 {
		c.Limits.ConnectionsPerWeek = DefaultConnectionsPerWeek
	}
	if c.Outreach.MaxConcurrentLeads <= 0 {
		c.Outreach.MaxConcurrentLeads = DefaultMaxConcurrentLeads
	}
	if c.Outreach.LeadProcessingDelay <= 0 {
		c.Outreach.LeadProcessingDelay = DefaultLeadProcessingDelay
	}
	if c.Monitoring.LeadInterval <= 0 {
		c.Monitoring.LeadInterval = DefaultLeadInterval
	}
	if c.Monitoring.CompanyInterval <= 0 {
		c.Monitoring.CompanyInterval = DefaultCompanyInterval
	}
	if c.Postgres.MaxOpenConns <= 0 {
		c.Postgres.MaxOpenConns = 20
	}
	if c.Postgres.MaxIdleConns <= 0 {
		c.Postgres.MaxIdleConns = 5
	}
	if c.Postgres.ConnLifetime <= 0 {
		c.Postgres.ConnLifetime = 30 * time.Minute
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = "outreach"
	}
}

func (c *Config) validate() error {
	if c.Limits.ConnectionsPerWeek < c.Limits.ConnectionsPerDay {
		return fmt.Errorf("config: weekly connection cap (%d) below daily cap (%d)",
			c.Limits.ConnectionsPerWeek, c.Limits.ConnectionsPerDay)
	}
	if c.Monitoring.LeadInterval < time.Hour {
		return fmt.Errorf("config: lead monitoring interval %s below 1h floor", c.Monitoring.LeadInterval)
	}
	if c.Monitoring.CompanyInterval < time.Hour {
		return fmt.Errorf("config: company monitoring interval %s below 1h floor", c.Monitoring.CompanyInterval)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
