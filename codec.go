package xevents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// MediaTypeHALJSON is the default wire media type.
const MediaTypeHALJSON = "application/hal+json"

// JSONCodec is the default HAL+JSON implementation.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (JSONCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }
func (JSONCodec) Name() string                    { return "json" }
func (JSONCodec) ContentType() string             { return MediaTypeHALJSON }

// CodecFactory constructs codecs via Factory pattern.
type CodecFactory func() Codec

var (
	codecRegistryMu sync.RWMutex
	codecRegistry   = map[string]CodecFactory{
		"json": func() Codec { return JSONCodec{} },
	}
)

// RegisterCodec registers a codec factory by name.
func RegisterCodec(name string, factory CodecFactory) error {
	if name == "" {
		return errors.New("codec name must not be empty")
	}
	if factory == nil {
		return errors.New("codec factory must not be nil")
	}
	codecRegistryMu.Lock()
	codecRegistry[name] = factory
	codecRegistryMu.Unlock()
	return nil
}

// NewCodec constructs a codec by name or returns an error.
func NewCodec(name string) (Codec, error) {
	codecRegistryMu.RLock()
	f, ok := codecRegistry[name]
	codecRegistryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("codec %q not registered", name)
	}
	return f(), nil
}

// wireMessage is the body every sink receives.
type wireMessage struct {
	Application string          `json:"application"`
	Type        string          `json:"type"`
	Entity      string          `json:"entity"`
	Old         *Representation `json:"old"`
	New         *Representation `json:"new"`
}

// Notification is the decoded form of a wire message, for consumers.
type Notification struct {
	Application string         `json:"application"`
	Type        string         `json:"type"`
	Entity      string         `json:"entity"`
	Old         map[string]any `json:"old"`
	New         map[string]any `json:"new"`
}

// Serializer renders enriched messages with a Codec.
type Serializer struct {
	codec Codec
}

func NewSerializer(c Codec) *Serializer {
	if c == nil {
		c = JSONCodec{}
	}
	return &Serializer{codec: c}
}

func (s *Serializer) Codec() Codec { return s.codec }

// Serialize is pure: identical inputs yield byte-identical output.
func (s *Serializer) Serialize(m EnrichedMessage) ([]byte, error) {
	data, err := s.codec.Marshal(wireMessage{
		Application: m.Application,
		Type:        m.Payload.Trigger.WireName(),
		Entity:      m.Payload.EntityName,
		Old:         m.Payload.Data.Old,
		New:         m.Payload.Data.New,
	})
	if err != nil {
		return nil, &SerializationError{Codec: s.codec.Name(), EntityName: m.Payload.EntityName, Err: err}
	}
	return data, nil
}

// unexported key type to avoid collisions
type ctxKey string

const codecCtxKey ctxKey = "xevents:codec"

func injectCodec(ctx context.Context, c Codec) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, codecCtxKey, c)
}

// CodecFromContext retrieves the Codec the pipeline injected into a sink's context.
func CodecFromContext(ctx context.Context) (Codec, bool) {
	if v := ctx.Value(codecCtxKey); v != nil {
		if c, ok := v.(Codec); ok && c != nil {
			return c, true
		}
	}
	return nil, false
}

// DecodeCodec is a helper to unmarshal a message payload into a typed value using the provided codec.
func DecodeCodec[T any](c Codec, msg *Message) (T, error) {
	var v T
	if err := c.Unmarshal(msg.Payload, &v); err != nil {
		return v, err
	}
	return v, nil
}

// Decode unmarshals msg.Payload into T using a Codec found in ctx.
// Falls back to the default "json" codec if none was injected.
func Decode[T any](ctx context.Context, msg *Message) (T, error) {
	c, ok := CodecFromContext(ctx)
	if !ok {
		c = JSONCodec{}
	}
	return DecodeCodec[T](c, msg)
}

// DecodeNotification decodes a dispatched message body with the JSON codec.
func DecodeNotification(msg *Message) (Notification, error) {
	return DecodeCodec[Notification](JSONCodec{}, msg)
}
