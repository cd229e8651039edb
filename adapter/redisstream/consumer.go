package redisstream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/trickstertwo/xlog"
)

// Handler processes one delivery. It must Ack or Nack it.
type Handler func(d *Delivery)

// Consumer reads the sink's stream through a consumer group, for services that
// react to change notifications.
type Consumer struct {
	cfg       Config
	client    redis.UniversalClient
	ownClient bool
	logger    *xlog.Logger

	consumed      atomic.Uint64
	acked         atomic.Uint64
	nacked        atomic.Uint64
	consumeErrors atomic.Uint64
}

// ConsumerStats reports consumer counters.
type ConsumerStats struct {
	Consumed      uint64
	Acked         uint64
	Nacked        uint64
	ConsumeErrors uint64
}

func NewConsumer(cfg Config, logger *xlog.Logger) (*Consumer, error) {
	if err := cfg.ValidateConsumer(); err != nil {
		return nil, err
	}
	client := newClient(cfg)
	if err := ping(client); err != nil {
		_ = client.Close()
		return nil, err
	}
	c, _ := NewConsumerWithClient(client, cfg, logger)
	c.ownClient = true
	return c, nil
}

// NewConsumerWithClient uses an existing client. Close leaves the client open.
func NewConsumerWithClient(client redis.UniversalClient, cfg Config, logger *xlog.Logger) (*Consumer, error) {
	if client == nil {
		return nil, errors.New("redisstream: nil client")
	}
	if err := cfg.ValidateConsumer(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = xlog.Default()
	}
	return &Consumer{cfg: cfg, client: client, logger: logger}, nil
}

// Subscription stops a running Subscribe loop.
type Subscription struct {
	stop func()
}

// Close stops polling and waits for in-flight handlers.
func (s *Subscription) Close() error {
	if s.stop != nil {
		s.stop()
	}
	return nil
}

// Subscribe starts a poller feeding Concurrency workers. Entries of one stream
// are handed out in stream order; with more than one worker, handlers may
// finish out of order.
func (c *Consumer) Subscribe(ctx context.Context, handler Handler) (*Subscription, error) {
	if c.cfg.AutoCreate {
		if err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err(); err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return nil, err
		}
	}

	innerCtx, cancel := context.WithCancel(ctx)
	wg := &sync.WaitGroup{}

	workers := max(1, c.cfg.Concurrency)
	workCh := make(chan *Delivery, workers*2)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range workCh {
				c.handle(handler, d)
			}
		}()
	}

	producers := &sync.WaitGroup{}
	producers.Add(1)
	go func() {
		defer producers.Done()
		c.pollerLoop(innerCtx, workCh)
	}()
	if c.cfg.ClaimMinIdle > 0 && c.cfg.ClaimInterval > 0 && c.cfg.ClaimBatch > 0 {
		producers.Add(1)
		go func() {
			defer producers.Done()
			c.claimLoop(innerCtx, workCh)
		}()
	}

	producersDone := make(chan struct{})
	go func() {
		producers.Wait()
		close(workCh)
		close(producersDone)
	}()

	var once sync.Once
	return &Subscription{stop: func() {
		once.Do(func() {
			cancel()
			<-producersDone
			wg.Wait()
		})
	}}, nil
}

func (c *Consumer) handle(handler Handler, d *Delivery) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Str("stream", c.cfg.Stream).Str("entry_id", d.id).Msg("redisstream: handler panic (recovered)")
		}
	}()
	handler(d)
}

func (c *Consumer) pollerLoop(ctx context.Context, workCh chan<- *Delivery) {
	args := &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    int64(max(1, c.cfg.BatchSize)),
		Block:    c.cfg.Block,
	}

	backoff := 100 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := c.client.XReadGroup(ctx, args).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			if errors.Is(err, redis.Nil) {
				backoff = 100 * time.Millisecond
				continue
			}
			c.consumeErrors.Add(1)
			c.logger.Warn().Err(err).Str("stream", c.cfg.Stream).Dur("backoff", backoff).Msg("redisstream: read failed")
			select {
			case <-time.After(backoff):
				backoff = min(backoff*2, maxBackoff)
			case <-ctx.Done():
				return
			}
			continue
		}
		backoff = 100 * time.Millisecond

		for _, stream := range res {
			for _, m := range stream.Messages {
				d := &Delivery{c: c, id: m.ID, msg: decodeMessage(m.ID, m.Values)}
				c.consumed.Add(1)
				select {
				case workCh <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// claimLoop takes over entries left pending by consumers that went away and
// hands them to the workers.
func (c *Consumer) claimLoop(ctx context.Context, workCh chan<- *Delivery) {
	ticker := time.NewTicker(c.cfg.ClaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: c.cfg.Stream,
			Group:  c.cfg.Group,
			Start:  "-",
			End:    "+",
			Count:  int64(c.cfg.ClaimBatch),
			Idle:   c.cfg.ClaimMinIdle,
		}).Result()
		if err != nil || len(pending) == 0 {
			continue
		}

		ids := make([]string, 0, len(pending))
		for _, p := range pending {
			if p.Consumer != c.cfg.Consumer {
				ids = append(ids, p.ID)
			}
		}
		if len(ids) == 0 {
			continue
		}
		claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   c.cfg.Stream,
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			MinIdle:  c.cfg.ClaimMinIdle,
			Messages: ids,
		}).Result()
		if err != nil {
			c.logger.Warn().Err(err).Str("stream", c.cfg.Stream).Msg("redisstream: claim failed")
			continue
		}
		for _, m := range claimed {
			d := &Delivery{c: c, id: m.ID, msg: decodeMessage(m.ID, m.Values)}
			c.consumed.Add(1)
			select {
			case workCh <- d:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Consumed:      c.consumed.Load(),
		Acked:         c.acked.Load(),
		Nacked:        c.nacked.Load(),
		ConsumeErrors: c.consumeErrors.Load(),
	}
}

func (c *Consumer) Close() error {
	if c.ownClient {
		return c.client.Close()
	}
	return nil
}
