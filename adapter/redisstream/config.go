package redisstream

import (
	"fmt"
	"os"
	"time"

	"github.com/trickstertwo/xevents"
)

// Config for the Redis Streams sink and consumer.
type Config struct {
	// Connection
	Addr          string
	Username      string
	Password      string
	DB            int
	TLS           bool
	TLSServerName string

	// Stream is the routing key every message is appended to.
	Stream       string
	MaxLenApprox int64

	// Consumer group
	Group       string
	Consumer    string
	Concurrency int
	BatchSize   int
	Block       time.Duration
	AutoCreate  bool

	AutoDeleteOnAck bool
	DeadLetter      string

	// Pending entry recovery
	ClaimMinIdle  time.Duration
	ClaimBatch    int
	ClaimInterval time.Duration
}

// Defaults returns a Config with production-safe defaults.
func Defaults() Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "xevents"
	}

	return Config{
		Addr:          "127.0.0.1:6379",
		Stream:        "xevents",
		Group:         "xevents",
		Consumer:      fmt.Sprintf("xevents-%s-%d", hostname, os.Getpid()),
		Concurrency:   8,
		BatchSize:     128,
		Block:         5 * time.Second,
		AutoCreate:    true,
		ClaimBatch:    128,
		ClaimInterval: 15 * time.Second,
	}
}

// Validate checks the fields the sink needs.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr required")
	}
	if c.Stream == "" {
		return fmt.Errorf("config: stream required")
	}
	if c.MaxLenApprox < 0 {
		return fmt.Errorf("config: max_len_approx must be >= 0, got %d", c.MaxLenApprox)
	}
	return nil
}

// ValidateConsumer additionally checks the consumer group settings.
func (c Config) ValidateConsumer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Group == "" {
		return fmt.Errorf("config: group required")
	}
	if c.Consumer == "" {
		return fmt.Errorf("config: consumer required")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("config: concurrency must be >= 1, got %d", c.Concurrency)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("config: batch_size must be >= 1, got %d", c.BatchSize)
	}
	if c.Block <= 0 {
		return fmt.Errorf("config: block must be > 0, got %v", c.Block)
	}
	if c.ClaimMinIdle > 0 && c.ClaimInterval <= 0 {
		return fmt.Errorf("config: claim_interval must be > 0 if claim_min_idle is set")
	}
	return nil
}

// toMap converts Config to the generic map for the sink factory.
func (c Config) toMap() map[string]any {
	return map[string]any{
		"addr":               c.Addr,
		"username":           c.Username,
		"password":           c.Password,
		"db":                 c.DB,
		"tls":                c.TLS,
		"tls_server_name":    c.TLSServerName,
		"stream":             c.Stream,
		"max_len_approx":     c.MaxLenApprox,
		"group":              c.Group,
		"consumer":           c.Consumer,
		"concurrency":        c.Concurrency,
		"batch_size":         c.BatchSize,
		"block":              c.Block,
		"auto_create":        c.AutoCreate,
		"auto_delete_on_ack": c.AutoDeleteOnAck,
		"dead_letter":        c.DeadLetter,
		"claim_min_idle":     c.ClaimMinIdle,
		"claim_batch":        c.ClaimBatch,
		"claim_interval":     c.ClaimInterval,
	}
}

// ConfigFromMap safely converts a generic map to Config with defaults.
func ConfigFromMap(m map[string]any) Config {
	c := Defaults()

	c.Addr = xevents.OptString(m, "addr", c.Addr)
	c.Username = xevents.OptString(m, "username", c.Username)
	c.Password = xevents.OptString(m, "password", c.Password)
	c.DB = xevents.OptInt(m, "db", c.DB)
	c.TLS = xevents.OptBool(m, "tls", c.TLS)
	c.TLSServerName = xevents.OptString(m, "tls_server_name", c.TLSServerName)
	c.Stream = xevents.OptString(m, "stream", c.Stream)
	if v := xevents.OptInt(m, "max_len_approx", 0); v > 0 {
		c.MaxLenApprox = int64(v)
	}
	c.Group = xevents.OptString(m, "group", c.Group)
	c.Consumer = xevents.OptString(m, "consumer", c.Consumer)
	if v := xevents.OptInt(m, "concurrency", 0); v > 0 {
		c.Concurrency = v
	}
	if v := xevents.OptInt(m, "batch_size", 0); v > 0 {
		c.BatchSize = v
	}
	if v := xevents.OptDuration(m, "block", 0); v > 0 {
		c.Block = v
	}
	c.AutoCreate = xevents.OptBool(m, "auto_create", c.AutoCreate)
	c.AutoDeleteOnAck = xevents.OptBool(m, "auto_delete_on_ack", c.AutoDeleteOnAck)
	c.DeadLetter = xevents.OptString(m, "dead_letter", c.DeadLetter)
	c.ClaimMinIdle = xevents.OptDuration(m, "claim_min_idle", c.ClaimMinIdle)
	if v := xevents.OptInt(m, "claim_batch", 0); v > 0 {
		c.ClaimBatch = v
	}
	if v := xevents.OptDuration(m, "claim_interval", 0); v > 0 {
		c.ClaimInterval = v
	}

	return c
}
