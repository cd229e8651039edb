package redisstream

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trickstertwo/xevents"
)

// Delivery is one stream entry handed to a consumer handler.
type Delivery struct {
	c       *Consumer
	id      string
	msg     *xevents.Message
	onceAck sync.Once
}

// EntryID is the Redis stream entry id.
func (d *Delivery) EntryID() string { return d.id }

func (d *Delivery) Message() *xevents.Message { return d.msg }

// Notification decodes the payload into the wire object.
func (d *Delivery) Notification() (xevents.Notification, error) {
	return xevents.DecodeNotification(d.msg)
}

// Ack marks the entry processed. Only the first call has effect.
func (d *Delivery) Ack(ctx context.Context) error {
	var err error
	d.onceAck.Do(func() {
		err = d.c.client.XAck(ctx, d.c.cfg.Stream, d.c.cfg.Group, d.id).Err()
		if err == nil {
			d.c.acked.Add(1)
			if d.c.cfg.AutoDeleteOnAck {
				_ = d.c.client.XDel(ctx, d.c.cfg.Stream, d.id).Err()
			}
		}
	})
	return err
}

// Nack copies the entry to the dead-letter stream and acks it. Without a
// dead-letter stream the entry stays pending for redelivery.
func (d *Delivery) Nack(ctx context.Context, reason error) error {
	d.c.nacked.Add(1)
	dl := d.c.cfg.DeadLetter
	if dl == "" {
		return nil
	}

	values := encodeMessage(d.msg)
	values[fieldOrigStream] = d.c.cfg.Stream
	values[fieldOrigID] = d.id
	values[fieldError] = fmt.Sprintf("%v", reason)
	if err := d.c.client.XAdd(ctx, &redis.XAddArgs{Stream: dl, ID: "*", Values: values}).Err(); err != nil {
		return fmt.Errorf("redisstream: dead-letter %s: %w", dl, err)
	}
	return d.Ack(ctx)
}

// decodeMessage rebuilds a Message from stream entry values. The message id is
// the producer's id when present, otherwise the entry id.
func decodeMessage(entryID string, vals map[string]any) *xevents.Message {
	msg := &xevents.Message{
		ID:       entryID,
		Metadata: make(map[string]string, 6),
	}
	if v, ok := vals[fieldID]; ok {
		if id := asString(v); id != "" {
			msg.ID = id
		}
	}
	if v, ok := vals[fieldName]; ok {
		msg.Name = asString(v)
	}
	if v, ok := vals[fieldPayload]; ok {
		switch p := v.(type) {
		case []byte:
			msg.Payload = p
		case string:
			msg.Payload = []byte(p)
		}
	}
	if pa := vals[fieldProducedAt]; pa != nil {
		if ns, ok := toInt64(pa); ok && ns > 0 {
			msg.ProducedAt = time.Unix(0, ns)
		}
	}
	for k, v := range vals {
		if strings.HasPrefix(k, fieldMetaPrefix) {
			msg.Metadata[strings.TrimPrefix(k, fieldMetaPrefix)] = asString(v)
		}
	}
	return msg
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprintf("%v", s)
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		if n == "" {
			return 0, false
		}
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, true
		}
	case []byte:
		return toInt64(string(n))
	}
	return 0, false
}
