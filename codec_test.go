package xevents

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enriched(trigger Trigger, old, new *Representation) EnrichedMessage {
	e := NewEnricher(SystemIdentity{ApplicationID: "crm", DeploymentID: "eu-1"}, nil)
	return e.Enrich(ResourcePayload{
		Trigger:    trigger,
		EntityName: "note",
		Data:       RepresentationPair{Old: old, New: new},
	})
}

func TestSerializer_WireObject(t *testing.T) {
	s := NewSerializer(JSONCodec{})
	rep := NewResource().Field("id", "1").Link("self", "https://x/note/1").Build()

	data, err := s.Serialize(enriched(TriggerCreate, nil, rep))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"application": "crm",
		"type": "create",
		"entity": "note",
		"old": null,
		"new": {"id": "1", "_links": {"self": {"href": "https://x/note/1"}}}
	}`, string(data))
}

func TestSerializer_Idempotent(t *testing.T) {
	s := NewSerializer(nil)
	old := NewResource().Field("b", 2).Field("a", 1).Field("c", []int{1, 2}).Build()
	new := NewResource().Field("a", 1).Field("c", map[string]any{"z": 1, "y": 2}).Build()
	m := enriched(TriggerUpdate, old, new)

	first, err := s.Serialize(m)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := s.Serialize(m)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSerializer_CollectionUpdateIsUpdateOnWire(t *testing.T) {
	rep := NewResource().Field("id", "1").Build()
	data, err := NewSerializer(nil).Serialize(enriched(TriggerCollectionUpdate, rep, rep))
	require.NoError(t, err)

	n, err := DecodeNotification(&Message{Payload: data})
	require.NoError(t, err)
	assert.Equal(t, "update", n.Type)
	assert.Equal(t, n.Old, n.New)
}

func TestSerializer_UnencodableValue(t *testing.T) {
	s := NewSerializer(nil)
	tests := []struct {
		name  string
		value any
	}{
		{"NaN", math.NaN()},
		{"channel", make(chan int)},
		{"func", func() {}},
		{"complex", complex(1, 2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := NewResource().Field("bad", tt.value).Build()
			_, err := s.Serialize(enriched(TriggerCreate, nil, rep))

			var se *SerializationError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, "json", se.Codec)
			assert.Equal(t, "note", se.EntityName)
		})
	}
}

func TestDecodeNotification(t *testing.T) {
	rep := NewResource().Field("id", "1").Field("text", "hi").Build()
	data, err := NewSerializer(nil).Serialize(enriched(TriggerDelete, rep, nil))
	require.NoError(t, err)

	n, err := DecodeNotification(&Message{Payload: data})
	require.NoError(t, err)
	assert.Equal(t, "crm", n.Application)
	assert.Equal(t, "delete", n.Type)
	assert.Equal(t, "note", n.Entity)
	assert.Equal(t, "hi", n.Old["text"])
	assert.Nil(t, n.New)
}

func TestDecode_UsesContextCodec(t *testing.T) {
	msg := &Message{Payload: []byte(`{"entity":"note"}`)}

	n, err := Decode[Notification](context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "note", n.Entity)

	ctx := InjectAll(context.Background(), JSONCodec{}, nil, nil)
	c, ok := CodecFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "json", c.Name())
	_, ok = LoggerFromContext(ctx)
	assert.False(t, ok)
}

func TestCodecRegistry(t *testing.T) {
	c, err := NewCodec("json")
	require.NoError(t, err)
	assert.Equal(t, MediaTypeHALJSON, c.ContentType())

	_, err = NewCodec("xml")
	assert.Error(t, err)
	assert.Error(t, RegisterCodec("", func() Codec { return JSONCodec{} }))
	assert.Error(t, RegisterCodec("x", nil))
}
