package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/amoylab/pigeon/internal/common/cnst"
	"github.com/amoylab/pigeon/pkg/helper"
)

type (
	// PigeonConfig represents the server configuration
	PigeonConfig struct {
		Port      int             `yaml:"port" toml:"port"`
		PID       string          `yaml:"pid" toml:"pid"`
		Logger    LoggerConfig    `yaml:"logger" toml:"logger"`
		Session   SessionConfig   `yaml:"session" toml:"session"`
		Delivery  DeliveryConfig  `yaml:"delivery" toml:"delivery"`
		RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
		CORS      CORSConfig      `yaml:"cors" toml:"cors"`
		Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
		Tracing   TracingConfig   `yaml:"tracing" toml:"tracing"`
	}

	// SessionConfig represents the session registry configuration
	SessionConfig struct {
		Type     string             `yaml:"type" toml:"type"`         // "memory" or "redis"
		IDBits   int                `yaml:"id_bits" toml:"id_bits"`   // 16, 32 or 64
		Identity string             `yaml:"identity" toml:"identity"` // "path" or "cookie"
		Cookie   CookieConfig       `yaml:"cookie" toml:"cookie"`
		Redis    SessionRedisConfig `yaml:"redis" toml:"redis"`
	}

	// CookieConfig represents the signed session cookie used by the cookie identity policy
	CookieConfig struct {
		Name   string        `yaml:"name" toml:"name"`
		Secret string        `yaml:"secret" toml:"secret"`
		MaxAge time.Duration `yaml:"max_age" toml:"max_age"`
		Path   string        `yaml:"path" toml:"path"`
		Domain string        `yaml:"domain" toml:"domain"`
		Secure bool          `yaml:"secure" toml:"secure"`
	}

	// SessionRedisConfig represents the Redis configuration for the session registry
	SessionRedisConfig struct {
		ClusterType string        `yaml:"cluster_type" toml:"cluster_type"` // single, sentinel or cluster
		Addr        string        `yaml:"addr" toml:"addr"`                 // comma separated for sentinel and cluster
		MasterName  string        `yaml:"master_name" toml:"master_name"`
		Username    string        `yaml:"username" toml:"username"`
		Password    string        `yaml:"password" toml:"password"`
		DB          int           `yaml:"db" toml:"db"`
		Topic       string        `yaml:"topic" toml:"topic"`
		Prefix      string        `yaml:"prefix" toml:"prefix"`
		TTL         time.Duration `yaml:"ttl" toml:"ttl"` // TTL for ownership records
	}

	// DeliveryConfig controls push and stream behaviour
	DeliveryConfig struct {
		SendTimeout   time.Duration `yaml:"send_timeout" toml:"send_timeout"`       // bounded wait on a full slot
		KeepAlive     time.Duration `yaml:"keep_alive" toml:"keep_alive"`           // keep-alive frame interval
		KeepAliveText string        `yaml:"keep_alive_text" toml:"keep_alive_text"` // keep-alive comment text
		EchoToSender  bool          `yaml:"echo_to_sender" toml:"echo_to_sender"`   // also push to the sender's own slot
		Template      string        `yaml:"template" toml:"template"`               // payload template, empty for default
	}

	// RateLimitConfig represents the token bucket guarding the send endpoint
	RateLimitConfig struct {
		Enabled      bool          `yaml:"enabled" toml:"enabled"`
		FillInterval time.Duration `yaml:"fill_interval" toml:"fill_interval"`
		Capacity     int64         `yaml:"capacity" toml:"capacity"`
	}

	// CORSConfig represents the CORS configuration
	CORSConfig struct {
		Enabled          bool          `yaml:"enabled" toml:"enabled"`
		AllowOrigins     []string      `yaml:"allow_origins" toml:"allow_origins"`
		AllowMethods     []string      `yaml:"allow_methods" toml:"allow_methods"`
		AllowHeaders     []string      `yaml:"allow_headers" toml:"allow_headers"`
		AllowCredentials bool          `yaml:"allow_credentials" toml:"allow_credentials"`
		MaxAge           time.Duration `yaml:"max_age" toml:"max_age"`
	}

	// MetricsConfig represents the Prometheus configuration
	MetricsConfig struct {
		Enabled   bool      `yaml:"enabled" toml:"enabled"`
		Path      string    `yaml:"path" toml:"path"`
		Namespace string    `yaml:"namespace" toml:"namespace"`
		Buckets   []float64 `yaml:"buckets" toml:"buckets"`
	}

	// TracingConfig represents OpenTelemetry tracing configuration
	TracingConfig struct {
		Enabled     bool              `yaml:"enabled" toml:"enabled"`
		ServiceName string            `yaml:"service_name" toml:"service_name"`
		Endpoint    string            `yaml:"endpoint" toml:"endpoint"` // e.g. localhost:4317 or localhost:4318
		Protocol    string            `yaml:"protocol" toml:"protocol"` // grpc or http
		Insecure    bool              `yaml:"insecure" toml:"insecure"`
		SamplerRate float64           `yaml:"sampler_rate" toml:"sampler_rate"` // 0.0~1.0
		Environment string            `yaml:"environment" toml:"environment"`
		Headers     map[string]string `yaml:"headers" toml:"headers"`
	}

	// LoggerConfig represents the logger configuration
	LoggerConfig struct {
		Level      string `yaml:"level" toml:"level"`             // debug, info, warn, error
		Format     string `yaml:"format" toml:"format"`           // json, console
		Output     string `yaml:"output" toml:"output"`           // stdout, file
		FilePath   string `yaml:"file_path" toml:"file_path"`     // path to log file when output is file
		MaxSize    int    `yaml:"max_size" toml:"max_size"`       // max size of log file in MB
		MaxBackups int    `yaml:"max_backups" toml:"max_backups"` // max number of backup files
		MaxAge     int    `yaml:"max_age" toml:"max_age"`         // max age of backup files in days
		Compress   bool   `yaml:"compress" toml:"compress"`       // whether to compress backup files
		Color      bool   `yaml:"color" toml:"color"`             // whether to use color in console output
		Stacktrace bool   `yaml:"stacktrace" toml:"stacktrace"`   // whether to include stacktrace in error logs
		TimeZone   string `yaml:"time_zone" toml:"time_zone"`     // time zone for log timestamps, default is local
		TimeFormat string `yaml:"time_format" toml:"time_format"` // default is "2006-01-02 15:04:05"
	}
)

var envPattern = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// LoadConfig loads configuration from a YAML or TOML file with environment variable support
func LoadConfig(filename string) (*PigeonConfig, string, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfgPath := helper.GetCfgPath(filename)
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, cfgPath, err
	}

	cfg, err := Parse(resolveEnv(data), filepath.Ext(cfgPath))
	if err != nil {
		return nil, cfgPath, err
	}
	return cfg, cfgPath, nil
}

// Parse decodes raw configuration content. ext selects the decoder, ".toml"
// for TOML and anything else for YAML. Defaults are applied and the result is
// validated.
func Parse(data []byte, ext string) (*PigeonConfig, error) {
	var cfg PigeonConfig
	switch strings.ToLower(ext) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, err
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero values with their defaults
func (c *PigeonConfig) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 1370
	}

	if c.Session.Type == "" {
		c.Session.Type = cnst.SessionStoreMemory.String()
	}
	if c.Session.IDBits == 0 {
		c.Session.IDBits = cnst.IDBits64
	}
	if c.Session.Identity == "" {
		c.Session.Identity = cnst.IdentityPath.String()
	}
	if c.Session.Cookie.Name == "" {
		c.Session.Cookie.Name = "pigeon_session"
	}
	if c.Session.Cookie.Path == "" {
		c.Session.Cookie.Path = "/"
	}
	if c.Session.Cookie.MaxAge <= 0 {
		c.Session.Cookie.MaxAge = 24 * time.Hour
	}
	if c.Session.Redis.ClusterType == "" {
		c.Session.Redis.ClusterType = cnst.RedisClusterTypeSingle
	}
	if c.Session.Redis.Topic == "" {
		c.Session.Redis.Topic = "pigeon:deliveries"
	}
	if c.Session.Redis.Prefix == "" {
		c.Session.Redis.Prefix = "pigeon:session"
	}
	if c.Session.Redis.TTL <= 0 {
		c.Session.Redis.TTL = time.Hour
	}

	if c.Delivery.SendTimeout <= 0 {
		c.Delivery.SendTimeout = time.Second
	}
	if c.Delivery.KeepAlive <= 0 {
		c.Delivery.KeepAlive = 15 * time.Second
	}
	if c.Delivery.KeepAliveText == "" {
		c.Delivery.KeepAliveText = cnst.DefaultKeepAliveText
	}

	if c.RateLimit.FillInterval <= 0 {
		c.RateLimit.FillInterval = 10 * time.Millisecond
	}
	if c.RateLimit.Capacity <= 0 {
		c.RateLimit.Capacity = 100
	}

	if len(c.CORS.AllowOrigins) == 0 {
		c.CORS.AllowOrigins = []string{"*"}
	}
	if len(c.CORS.AllowMethods) == 0 {
		c.CORS.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	}
	if len(c.CORS.AllowHeaders) == 0 {
		c.CORS.AllowHeaders = []string{"Origin", "Content-Type", "Last-Event-ID"}
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = cnst.AppName
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = cnst.AppName
	}
}

// resolveEnv replaces environment variable placeholders in configuration content
func resolveEnv(content []byte) []byte {
	return envPattern.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := envPattern.FindSubmatch(match)
		envKey := string(matches[1])
		var defaultValue string

		if len(matches) > 2 {
			defaultValue = string(matches[2])
		}

		if value, exists := os.LookupEnv(envKey); exists {
			return []byte(value)
		}
		return []byte(defaultValue)
	})
}
