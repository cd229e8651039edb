// Package webhook provides an xevents sink that POSTs every message body to an
// HTTP endpoint, signed with HMAC-SHA256.
//
// Sink name: "webhook"
//
// Config keys:
//   - url: endpoint; when empty, the message's webhookConfigUrl header is used
//   - secret: HMAC key; no X-Signature header when empty
//   - attempts: delivery attempts per message (default 3)
//   - retry_base: first backoff, doubled per attempt (default 300ms)
//   - max_backoff: upper bound for a single backoff (default 30s)
//   - timeout: per-request timeout (default 10s)
//   - async: queue deliveries behind an xevents.AsyncSink (default true)
//   - async_buffer: queue size when async (default 1000)
//
// A synchronous Sink retries on the caller's goroutine and can hold a write
// for up to attempts × timeout plus backoff. Sinks built from config are
// therefore queued by default; failures then surface in AsyncSink.Stats and
// the log instead of the pipeline's sink failure count.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/trickstertwo/xlog"

	"github.com/trickstertwo/xevents"
)

const SinkName = xevents.SinkWebhook

const (
	HeaderSignature  = "X-Signature"
	HeaderDeliveryID = "X-Delivery-ID"
	HeaderMessageID  = "X-Message-ID"
	HeaderEventType  = "X-Event-Type"
	HeaderEntity     = "X-Entity"
	HeaderAppID      = "X-Application-ID"
)

var ErrNoEndpoint = errors.New("webhook: no endpoint configured or routed")

func init() {
	if err := xevents.RegisterSink(SinkName, func(cfg map[string]any) (xevents.Sink, error) {
		c := ConfigFromMap(cfg)
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if c.Async {
			return xevents.NewAsyncSink(NewSink(c, nil, nil), c.AsyncBuffer, nil), nil
		}
		return NewSink(c, nil, nil), nil
	}); err != nil {
		panic(fmt.Errorf("xevents: failed to register sink %q: %w", SinkName, err))
	}
}

type Config struct {
	URL       string
	Secret    string
	Attempts  int
	RetryBase time.Duration
	// MaxBackoff caps the doubled delay between attempts.
	MaxBackoff  time.Duration
	Timeout     time.Duration
	Async       bool
	AsyncBuffer int
}

func Defaults() Config {
	return Config{
		Attempts:    3,
		RetryBase:   300 * time.Millisecond,
		MaxBackoff:  30 * time.Second,
		Timeout:     10 * time.Second,
		Async:       true,
		AsyncBuffer: 1000,
	}
}

func (c Config) Validate() error {
	if c.URL != "" && !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
		return fmt.Errorf("config: url must be http(s), got %q", c.URL)
	}
	if c.Attempts < 1 {
		return fmt.Errorf("config: attempts must be >= 1, got %d", c.Attempts)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("config: timeout must be > 0, got %v", c.Timeout)
	}
	return nil
}

func ConfigFromMap(m map[string]any) Config {
	c := Defaults()
	c.URL = strings.TrimSpace(xevents.OptString(m, "url", c.URL))
	c.Secret = xevents.OptString(m, "secret", c.Secret)
	if v := xevents.OptInt(m, "attempts", 0); v > 0 {
		c.Attempts = v
	}
	if v := xevents.OptDuration(m, "retry_base", 0); v > 0 {
		c.RetryBase = v
	}
	if v := xevents.OptDuration(m, "max_backoff", 0); v > 0 {
		c.MaxBackoff = v
	}
	if v := xevents.OptDuration(m, "timeout", 0); v > 0 {
		c.Timeout = v
	}
	c.Async = xevents.OptBool(m, "async", c.Async)
	if v := xevents.OptInt(m, "async_buffer", 0); v > 0 {
		c.AsyncBuffer = v
	}
	return c
}

// Sink delivers messages over HTTP. Non-2xx answers other than 4xx are retried
// with exponential backoff; 4xx answers (except 429) are final.
type Sink struct {
	cfg    Config
	client *http.Client
	logger *xlog.Logger
}

var _ xevents.Sink = (*Sink)(nil)

// NewSink uses client when given, otherwise an http.Client with cfg.Timeout.
func NewSink(cfg Config, client *http.Client, logger *xlog.Logger) *Sink {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = xlog.Default()
	}
	return &Sink{cfg: cfg, client: client, logger: logger}
}

func (s *Sink) Name() string { return SinkName }

func (s *Sink) Send(ctx context.Context, msg *xevents.Message) error {
	if msg == nil {
		return nil
	}
	target := s.cfg.URL
	if target == "" {
		target = strings.TrimSpace(msg.Metadata[xevents.HeaderWebhookConfigURL])
	}
	if target == "" {
		return ErrNoEndpoint
	}

	signature := Sign(s.cfg.Secret, msg.Payload)
	deliveryID := uuid.NewString()
	log := s.logger.With(
		xlog.Str("message_id", msg.ID),
		xlog.Str("delivery_id", deliveryID),
		xlog.Str("url", target),
	)

	var lastErr error
	for attempt := 1; attempt <= s.cfg.Attempts; attempt++ {
		retry, err := s.post(ctx, target, msg, signature, deliveryID)
		if err == nil {
			log.Debug().Msg("webhook delivered")
			return nil
		}
		lastErr = err
		if !retry {
			break
		}
		log.Warn().Err(err).Str("attempt", fmt.Sprint(attempt)).Msg("webhook attempt failed")

		if attempt < s.cfg.Attempts {
			timer := time.NewTimer(backoff(s.cfg.RetryBase, s.cfg.MaxBackoff, attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return fmt.Errorf("webhook: %s: %w", target, lastErr)
}

// backoff returns the delay after the given failed attempt: base doubled per
// attempt, never above limit.
func backoff(base, limit time.Duration, attempt int) time.Duration {
	if limit <= 0 {
		limit = Defaults().MaxBackoff
	}
	d := base
	for i := 1; i < attempt; i++ {
		if d > limit/2 {
			return limit
		}
		d *= 2
	}
	if d > limit {
		return limit
	}
	return d
}

// post performs one attempt and reports whether a failure may be retried.
func (s *Sink) post(ctx context.Context, target string, msg *xevents.Message, signature, deliveryID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(msg.Payload))
	if err != nil {
		return false, err
	}
	contentType := msg.Metadata[xevents.HeaderContentType]
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(HeaderDeliveryID, deliveryID)
	req.Header.Set(HeaderMessageID, msg.ID)
	req.Header.Set(HeaderEventType, msg.Metadata[xevents.HeaderEventType])
	req.Header.Set(HeaderEntity, msg.Metadata[xevents.HeaderEntity])
	req.Header.Set(HeaderAppID, msg.Metadata[xevents.HeaderApplicationID])
	if signature != "" {
		req.Header.Set(HeaderSignature, signature)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return ctx.Err() == nil, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return false, nil
	}
	err = fmt.Errorf("non-2xx response: %d", resp.StatusCode)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return false, err
	}
	return true, err
}

func (s *Sink) Close(context.Context) error {
	s.client.CloseIdleConnections()
	return nil
}

// Sign returns the hex HMAC-SHA256 of payload, or "" without a secret.
func Sign(secret string, payload []byte) string {
	if strings.TrimSpace(secret) == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
