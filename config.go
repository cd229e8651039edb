package xevents

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Sink type names understood by FromEnv. The matching adapters register
// themselves under these names when imported.
const (
	SinkRedisStreams = "redis-streams"
	SinkWebhook      = "webhook"
	SinkAzureQueue   = "azqueue"
	SinkPgOutbox     = "pg-outbox"
	SinkMemory       = "memory"
)

// Environment variables read by FromEnv.
const (
	EnvApplicationID    = "XEVENTS_APPLICATION_ID"
	EnvDeploymentID     = "XEVENTS_DEPLOYMENT_ID"
	EnvBaseURL          = "XEVENTS_BASE_URL"
	EnvWebhookConfigURL = "XEVENTS_WEBHOOK_CONFIG_URL"
	EnvMaxDepth         = "XEVENTS_MAX_DEPTH"
	EnvAsyncBuffer      = "XEVENTS_ASYNC_BUFFER"

	EnvRedisAddr       = "XEVENTS_REDIS_ADDR"
	EnvRedisPassword   = "XEVENTS_REDIS_PASSWORD"
	EnvRoutingKey      = "XEVENTS_ROUTING_KEY"
	EnvWebhookURL      = "XEVENTS_WEBHOOK_URL"
	EnvWebhookSecret   = "XEVENTS_WEBHOOK_SECRET"
	EnvAzQueueConn     = "XEVENTS_AZQUEUE_CONNECTION"
	EnvAzQueueName     = "XEVENTS_AZQUEUE_NAME"
	EnvOutboxDSN       = "XEVENTS_OUTBOX_DSN"
	EnvOutboxTable     = "XEVENTS_OUTBOX_TABLE"
	defaultRoutingKey  = "xevents"
	defaultAzQueueName = "xevents"
)

// SinkConfig declares one sink by registered type name.
type SinkConfig struct {
	Type    string         `yaml:"type"`
	Options map[string]any `yaml:"options"`
}

// Config is the declarative pipeline configuration.
type Config struct {
	System           SystemIdentity    `yaml:"system"`
	BaseURL          string            `yaml:"base_url"`
	MaxDepth         int               `yaml:"max_depth"`
	Codec            string            `yaml:"codec"`
	WebhookConfigURL string            `yaml:"webhook_config_url"`
	Aliases          map[string]string `yaml:"aliases"`
	Sinks            []SinkConfig      `yaml:"sinks"`
	AsyncBuffer      int               `yaml:"async_buffer"`
}

// DefaultConfig returns a Config with no sinks and the default codec and depth.
func DefaultConfig() Config {
	return Config{
		MaxDepth: DefaultMaxDepth,
		Codec:    "json",
		Aliases:  map[string]string{},
	}
}

// Validate checks the fields Build cannot repair.
func (c Config) Validate() error {
	if c.MaxDepth < 0 {
		return fmt.Errorf("%w: max_depth must be >= 0, got %d", ErrInvalidConfig, c.MaxDepth)
	}
	if c.AsyncBuffer < 0 {
		return fmt.Errorf("%w: async_buffer must be >= 0, got %d", ErrInvalidConfig, c.AsyncBuffer)
	}
	for i, s := range c.Sinks {
		if s.Type == "" {
			return fmt.Errorf("%w: sinks[%d]: type required", ErrInvalidConfig, i)
		}
	}
	for typeName, alias := range c.Aliases {
		if typeName == "" || alias == "" {
			return fmt.Errorf("%w: aliases: empty type or entity name", ErrInvalidConfig)
		}
	}
	return nil
}

// LoadConfig reads a YAML file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("xevents: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML bytes on top of DefaultConfig.
func ParseConfig(data []byte) (Config, error) {
	c := DefaultConfig()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	for i := range c.Sinks {
		c.Sinks[i].Options = normalizeMap(c.Sinks[i].Options)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// FromEnv overlays environment variables on c. A sink is added for every
// broker the environment names; a broker without a host is not registered.
func (c Config) FromEnv() Config {
	return c.fromLookup(os.LookupEnv)
}

func (c Config) fromLookup(lookup func(string) (string, bool)) Config {
	get := func(k string) string {
		v, _ := lookup(k)
		return strings.TrimSpace(v)
	}

	if v := get(EnvApplicationID); v != "" {
		c.System.ApplicationID = v
	}
	if v := get(EnvDeploymentID); v != "" {
		c.System.DeploymentID = v
	}
	if v := get(EnvBaseURL); v != "" {
		c.BaseURL = v
	}
	if v := get(EnvWebhookConfigURL); v != "" {
		c.WebhookConfigURL = v
	}
	if n, err := strconv.Atoi(get(EnvMaxDepth)); err == nil && n > 0 {
		c.MaxDepth = n
	}
	if n, err := strconv.Atoi(get(EnvAsyncBuffer)); err == nil && n >= 0 {
		c.AsyncBuffer = n
	}

	if addr := get(EnvRedisAddr); addr != "" {
		key := get(EnvRoutingKey)
		if key == "" {
			key = defaultRoutingKey
		}
		c.Sinks = append(c.Sinks, SinkConfig{Type: SinkRedisStreams, Options: map[string]any{
			"addr":     addr,
			"password": get(EnvRedisPassword),
			"stream":   key,
		}})
	}
	if u := get(EnvWebhookURL); u != "" {
		c.Sinks = append(c.Sinks, SinkConfig{Type: SinkWebhook, Options: map[string]any{
			"url":    u,
			"secret": get(EnvWebhookSecret),
		}})
	}
	if conn := get(EnvAzQueueConn); conn != "" {
		name := get(EnvAzQueueName)
		if name == "" {
			name = defaultAzQueueName
		}
		c.Sinks = append(c.Sinks, SinkConfig{Type: SinkAzureQueue, Options: map[string]any{
			"connection_string": conn,
			"queue":             name,
		}})
	}
	if dsn := get(EnvOutboxDSN); dsn != "" {
		opts := map[string]any{"dsn": dsn}
		if t := get(EnvOutboxTable); t != "" {
			opts["table"] = t
		}
		c.Sinks = append(c.Sinks, SinkConfig{Type: SinkPgOutbox, Options: opts})
	}
	return c
}

// normalizeMap turns the map[interface{}]interface{} values yaml.v2 produces
// for nested mappings into map[string]any.
func normalizeMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = normalizeValue(val)
		}
		return m
	case map[string]any:
		return normalizeMap(t)
	case []interface{}:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeValue(val)
		}
		return out
	default:
		return v
	}
}

// Option readers for sink factories. Values may come from Go code (typed) or
// from YAML/env (ints as int, durations as strings).

func OptString(m map[string]any, key, def string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return def
}

func OptInt(m map[string]any, key string, def int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func OptBool(m map[string]any, key string, def bool) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func OptDuration(m map[string]any, key string, def time.Duration) time.Duration {
	switch v := m[key].(type) {
	case time.Duration:
		return v
	case int:
		return time.Duration(v) * time.Millisecond
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
