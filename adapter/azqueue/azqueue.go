// Package azqueue provides an xevents sink that enqueues every message on an
// Azure Storage queue as a JSON envelope.
//
// Sink name: "azqueue"
//
// Config keys:
//   - connection_string: storage account connection string (required)
//   - queue: queue name (default "xevents")
//   - create_queue: create the queue at startup when missing (default true)
//   - ttl: message time-to-live (default 0 = service default of 7 days)
//   - max_retries: transport retries on 408/429/5xx (default 5)
package azqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"github.com/trickstertwo/xevents"
)

const SinkName = xevents.SinkAzureQueue

// MaxMessageSize is the service limit for one queue message body.
const MaxMessageSize = 64 * 1024

var ErrMessageTooLarge = errors.New("azqueue: message exceeds 64 KiB")

func init() {
	if err := xevents.RegisterSink(SinkName, func(cfg map[string]any) (xevents.Sink, error) {
		return NewSink(context.Background(), ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("xevents: failed to register sink %q: %w", SinkName, err))
	}
}

type Config struct {
	ConnectionString string
	Queue            string
	CreateQueue      bool
	TTL              time.Duration
	MaxRetries       int32
}

func Defaults() Config {
	return Config{
		Queue:       "xevents",
		CreateQueue: true,
		MaxRetries:  5,
	}
}

func (c Config) Validate() error {
	if c.ConnectionString == "" {
		return fmt.Errorf("config: connection_string required")
	}
	if c.Queue == "" {
		return fmt.Errorf("config: queue required")
	}
	if c.TTL < 0 {
		return fmt.Errorf("config: ttl must be >= 0, got %v", c.TTL)
	}
	return nil
}

func ConfigFromMap(m map[string]any) Config {
	c := Defaults()
	c.ConnectionString = xevents.OptString(m, "connection_string", c.ConnectionString)
	c.Queue = xevents.OptString(m, "queue", c.Queue)
	c.CreateQueue = xevents.OptBool(m, "create_queue", c.CreateQueue)
	c.TTL = xevents.OptDuration(m, "ttl", c.TTL)
	if v := xevents.OptInt(m, "max_retries", -1); v >= 0 {
		c.MaxRetries = int32(v)
	}
	return c
}

// Envelope is the queue message body. Payload is the wire object, kept as raw JSON.
type Envelope struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Headers    map[string]string `json:"headers"`
	Payload    json.RawMessage   `json:"payload"`
	ProducedAt time.Time         `json:"produced_at"`
}

// Encode renders msg as an Envelope.
func Encode(msg *xevents.Message) (string, error) {
	payload := json.RawMessage(msg.Payload)
	if !json.Valid(payload) {
		b, err := json.Marshal(msg.Payload)
		if err != nil {
			return "", err
		}
		payload = b
	}
	data, err := json.Marshal(Envelope{
		ID:         msg.ID,
		Name:       msg.Name,
		Headers:    msg.Metadata,
		Payload:    payload,
		ProducedAt: msg.ProducedAt.UTC(),
	})
	if err != nil {
		return "", err
	}
	if len(data) > MaxMessageSize {
		return "", fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(data))
	}
	return string(data), nil
}

// Decode parses a queue message body produced by Encode.
func Decode(content string) (*xevents.Message, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(content), &env); err != nil {
		return nil, err
	}
	return &xevents.Message{
		ID:         env.ID,
		Name:       env.Name,
		Payload:    []byte(env.Payload),
		Metadata:   env.Headers,
		ProducedAt: env.ProducedAt,
	}, nil
}

// queueClient is the part of *azqueue.QueueClient the sink uses.
type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

type Sink struct {
	cfg    Config
	client queueClient
}

var _ xevents.Sink = (*Sink)(nil)

// NewSink connects with the SDK's retry policy for transient status codes and
// creates the queue when configured to.
func NewSink(ctx context.Context, cfg Config) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    cfg.MaxRetries,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 30 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(cfg.ConnectionString, cfg.Queue, &opts)
	if err != nil {
		return nil, err
	}
	if cfg.CreateQueue {
		if _, err := q.Create(ctx, nil); err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
				return nil, fmt.Errorf("azqueue: create %s: %w", cfg.Queue, err)
			}
		}
	}
	return &Sink{cfg: cfg, client: q}, nil
}

func (s *Sink) Name() string { return SinkName }

func (s *Sink) Send(ctx context.Context, msg *xevents.Message) error {
	if msg == nil {
		return nil
	}
	content, err := Encode(msg)
	if err != nil {
		return err
	}
	var opts *azqueue.EnqueueMessageOptions
	if s.cfg.TTL > 0 {
		opts = &azqueue.EnqueueMessageOptions{TimeToLive: to.Ptr(int32(s.cfg.TTL / time.Second))}
	}
	if _, err := s.client.EnqueueMessage(ctx, content, opts); err != nil {
		return fmt.Errorf("azqueue: enqueue %s: %w", s.cfg.Queue, err)
	}
	return nil
}

func (s *Sink) Close(context.Context) error { return nil }
