package redisstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trickstertwo/xevents"
)

// Adapter: Redis Streams Sink (Strategy + Adapter patterns)

const SinkName = xevents.SinkRedisStreams

func init() {
	if err := xevents.RegisterSink(SinkName, func(cfg map[string]any) (xevents.Sink, error) {
		return NewSink(ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("xevents: failed to register sink %q: %w", SinkName, err))
	}
}

// Sink appends every message to one Redis stream.
type Sink struct {
	cfg       Config
	client    redis.UniversalClient
	ownClient bool
	closed    atomic.Bool

	published     atomic.Uint64
	publishErrors atomic.Uint64
}

var _ xevents.Sink = (*Sink)(nil)

// NewSink dials Redis and verifies the connection.
func NewSink(cfg Config) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := newClient(cfg)
	if err := ping(client); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Sink{cfg: cfg, client: client, ownClient: true}, nil
}

// NewSinkWithClient uses an existing client. Close leaves the client open.
func NewSinkWithClient(client redis.UniversalClient, cfg Config) (*Sink, error) {
	if client == nil {
		return nil, errors.New("redisstream: nil client")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Sink{cfg: cfg, client: client}, nil
}

func (s *Sink) Name() string { return SinkName }

// Stream returns the routing key messages are appended to.
func (s *Sink) Stream() string { return s.cfg.Stream }

// Send appends msg with XADD, trimming approximately when MaxLenApprox is set.
func (s *Sink) Send(ctx context.Context, msg *xevents.Message) error {
	if s.closed.Load() {
		return errors.New("redisstream: sink is closed")
	}
	if msg == nil {
		return nil
	}

	args := &redis.XAddArgs{
		Stream: s.cfg.Stream,
		ID:     "*",
		Values: encodeMessage(msg),
	}
	if s.cfg.MaxLenApprox > 0 {
		args.MaxLen = s.cfg.MaxLenApprox
		args.Approx = true
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		s.publishErrors.Add(1)
		return fmt.Errorf("redisstream: xadd %s: %w", s.cfg.Stream, err)
	}
	s.published.Add(1)
	return nil
}

// Published and PublishErrors expose sink counters.
func (s *Sink) Published() uint64     { return s.published.Load() }
func (s *Sink) PublishErrors() uint64 { return s.publishErrors.Load() }

func (s *Sink) Close(context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.ownClient {
		return s.client.Close()
	}
	return nil
}

// encodeMessage flattens a message into stream entry fields.
func encodeMessage(m *xevents.Message) map[string]any {
	vals := make(map[string]any, 4+len(m.Metadata))
	if m.ID != "" {
		vals[fieldID] = m.ID
	}
	vals[fieldName] = m.Name
	vals[fieldPayload] = m.Payload
	vals[fieldProducedAt] = m.ProducedAt.UnixNano()
	for k, v := range m.Metadata {
		vals[fieldMetaPrefix+k] = v
	}
	return vals
}

func newClient(cfg Config) *redis.Client {
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: cfg.TLSServerName,
		}
	}
	return redis.NewClient(opts)
}

func ping(c redis.UniversalClient) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := c.Ping(ctx).Result()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("redis ping timeout: %w", err)
		}
		return err
	}
	if strings.ToUpper(res) != "PONG" {
		return fmt.Errorf("unexpected redis ping result: %s", res)
	}
	return nil
}
