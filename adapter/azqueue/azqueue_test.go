package azqueue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/xevents"
)

type fakeQueue struct {
	mu       sync.Mutex
	contents []string
	ttls     []*int32
	fail     error
}

func (f *fakeQueue) EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return azqueue.EnqueueMessagesResponse{}, f.fail
	}
	f.contents = append(f.contents, content)
	if o != nil {
		f.ttls = append(f.ttls, o.TimeToLive)
	} else {
		f.ttls = append(f.ttls, nil)
	}
	return azqueue.EnqueueMessagesResponse{}, nil
}

func testMessage() *xevents.Message {
	return &xevents.Message{
		ID:         "m-1",
		Name:       "case.delete",
		Payload:    []byte(`{"application":"crm","entity":"case","new":null,"old":{"id":"7"},"type":"delete"}`),
		Metadata:   map[string]string{xevents.HeaderApplicationID: "crm", xevents.HeaderDeploymentID: "eu-1"},
		ProducedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestEncode_KeepsPayloadAsJSON(t *testing.T) {
	content, err := Encode(testMessage())
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(content), &raw))
	payload, ok := raw["payload"].(map[string]any)
	require.True(t, ok, "payload should be embedded as an object")
	assert.Equal(t, "delete", payload["type"])
	assert.Equal(t, "crm", raw["headers"].(map[string]any)["application_id"])
}

func TestEncodeDecode(t *testing.T) {
	in := testMessage()
	content, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(content)
	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Name, out.Name)
	assert.JSONEq(t, string(in.Payload), string(out.Payload))
	assert.Equal(t, in.Metadata, out.Metadata)
	assert.True(t, in.ProducedAt.Equal(out.ProducedAt))
}

func TestEncode_TooLarge(t *testing.T) {
	msg := testMessage()
	msg.Payload = []byte(`"` + strings.Repeat("x", MaxMessageSize) + `"`)
	_, err := Encode(msg)
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestSink_Send(t *testing.T) {
	fq := &fakeQueue{}
	s := &Sink{cfg: Config{Queue: "changes", TTL: time.Hour}, client: fq}

	require.NoError(t, s.Send(context.Background(), testMessage()))
	require.Len(t, fq.contents, 1)
	require.NotNil(t, fq.ttls[0])
	assert.Equal(t, int32(3600), *fq.ttls[0])
}

func TestSink_SendError(t *testing.T) {
	fq := &fakeQueue{fail: errors.New("boom")}
	s := &Sink{cfg: Config{Queue: "changes"}, client: fq}

	err := s.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "changes")
}

func TestConfig(t *testing.T) {
	cfg := ConfigFromMap(map[string]any{
		"connection_string": "UseDevelopmentStorage=true",
		"queue":             "crm",
		"ttl":               "24h",
		"max_retries":       0,
	})
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "crm", cfg.Queue)
	assert.Equal(t, 24*time.Hour, cfg.TTL)
	assert.Equal(t, int32(0), cfg.MaxRetries)
	assert.True(t, cfg.CreateQueue)

	assert.Error(t, Defaults().Validate())
}
