package xevents

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eventLog is a comparable observer that records every event.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) OnEvent(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) types() []EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventType, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

func newTestPipeline(t *testing.T, sinks ...Sink) *Pipeline {
	t.Helper()
	n := 0
	p, err := NewPipelineBuilder().
		WithIdentity(SystemIdentity{ApplicationID: "crm", DeploymentID: "eu-1"}).
		WithBaseURL("https://api.example.com/").
		WithRouting(HeaderWebhookConfigURL, "https://hooks.example.com").
		WithSinkInstance(sinks...).
		WithObserverPool(1, 64).
		WithIDGenerator(func() string { n++; return fmt.Sprintf("id-%d", n) }).
		Build()
	require.NoError(t, err)
	return p
}

func TestPipeline_ProcessCreate(t *testing.T) {
	sink := &recordingSink{name: "rec"}
	p := newTestPipeline(t, sink)
	defer p.Close(context.Background())

	require.NoError(t, p.Process(context.Background(), ChangeEvent{
		Trigger: TriggerCreate,
		Subject: &note{ID: "1", Text: "hello"},
	}))

	got := sink.received()
	require.Len(t, got, 1)
	msg := got[0]
	assert.Equal(t, "id-1", msg.ID)
	assert.Equal(t, "note.create", msg.Name)
	assert.Equal(t, MediaTypeHALJSON, msg.Metadata[HeaderContentType])
	assert.Equal(t, "crm", msg.Metadata[HeaderApplicationID])
	assert.Equal(t, "eu-1", msg.Metadata[HeaderDeploymentID])
	assert.Equal(t, "https://hooks.example.com", msg.Metadata[HeaderWebhookConfigURL])
	assert.Equal(t, "create", msg.Metadata[HeaderEventType])
	assert.Equal(t, "note", msg.Metadata[HeaderEntity])
	assert.False(t, msg.ProducedAt.IsZero())

	n, err := DecodeNotification(msg)
	require.NoError(t, err)
	assert.Equal(t, "crm", n.Application)
	assert.Equal(t, "create", n.Type)
	assert.Nil(t, n.Old)
	assert.Equal(t, "hello", n.New["text"])
	links := n.New["_links"].(map[string]any)
	assert.Equal(t, "https://api.example.com/note/1", links["self"].(map[string]any)["href"])
}

func TestPipeline_ProcessUpdateCarriesBothSides(t *testing.T) {
	sink := &recordingSink{name: "rec"}
	p := newTestPipeline(t, sink)
	defer p.Close(context.Background())

	current := &note{ID: "1", Text: "after"}
	prior := &note{ID: "1", Text: "before"}
	require.NoError(t, p.Process(context.Background(), ChangeEvent{Trigger: TriggerUpdate, Subject: current, Prior: prior}))

	n, err := DecodeNotification(sink.received()[0])
	require.NoError(t, err)
	assert.Equal(t, "update", n.Type)
	assert.Equal(t, "before", n.Old["text"])
	assert.Equal(t, "after", n.New["text"])
}

func TestPipeline_DropsInvalidEvents(t *testing.T) {
	tests := []struct {
		name   string
		ev     ChangeEvent
		target error
	}{
		{"nil subject", ChangeEvent{Trigger: TriggerCreate}, ErrNilEvent},
		{"typed nil subject", ChangeEvent{Trigger: TriggerCreate, Subject: (*note)(nil)}, ErrNilEvent},
		{"update without prior", ChangeEvent{Trigger: TriggerUpdate, Subject: &note{ID: "1"}}, ErrInvalidEnvelope},
		{"unknown trigger", ChangeEvent{Trigger: "upsert", Subject: &note{ID: "1"}}, ErrInvalidEnvelope},
		{"no assembler", ChangeEvent{Trigger: TriggerCreate, Subject: &plain{ID: "1"}}, ErrNoAssembler},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{name: "rec"}
			p := newTestPipeline(t, sink)
			defer p.Close(context.Background())

			err := p.Process(context.Background(), tt.ev)
			assert.ErrorIs(t, err, tt.target)
			assert.Empty(t, sink.received())
			assert.Equal(t, uint64(1), p.GetMetrics().Dropped)
			assert.Zero(t, p.GetMetrics().Dispatched)
		})
	}
}

func TestPipeline_RepresentationErrorIsTyped(t *testing.T) {
	p := newTestPipeline(t)
	defer p.Close(context.Background())

	err := p.Process(context.Background(), ChangeEvent{Trigger: TriggerDelete, Subject: &brokenAssembly{plain: plain{ID: "1"}, panics: true}})
	var re *RepresentationError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "brokenassembly", re.EntityName)
}

func TestPipeline_SinkFailureDegradesHealth(t *testing.T) {
	ok := &recordingSink{name: "ok"}
	bad := &recordingSink{name: "bad", err: errTransient}
	p := newTestPipeline(t, bad, ok)
	defer p.Close(context.Background())

	err := p.Process(context.Background(), ChangeEvent{Trigger: TriggerCreate, Subject: &note{ID: "1"}})
	var se *SinkError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "bad", se.Sink)
	assert.Len(t, ok.received(), 1)

	m := p.GetMetrics()
	assert.Equal(t, uint64(1), m.Captured)
	assert.Equal(t, uint64(1), m.Dispatched)
	assert.Equal(t, uint64(1), m.SinkFailures)
	assert.Equal(t, "degraded", p.Health(context.Background()).Status)
}

func TestPipeline_HealthyUnderThreshold(t *testing.T) {
	p := newTestPipeline(t, &recordingSink{name: "ok"})
	defer p.Close(context.Background())

	for i := 0; i < 40; i++ {
		require.NoError(t, p.Process(context.Background(), ChangeEvent{Trigger: TriggerCreate, Subject: &note{ID: fmt.Sprint(i)}}))
	}
	p.Drop(ChangeEvent{Trigger: TriggerUpdate, Subject: &note{ID: "x"}}, ErrSnapshot)

	h := p.Health(context.Background())
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, uint64(41), h.Metrics.Captured)
	assert.Equal(t, uint64(1), h.Metrics.Dropped)
	assert.GreaterOrEqual(t, h.Metrics.AvgProcessingTimeMs, 0.0)
}

func TestPipeline_LostFailureTelemetryDegradesHealth(t *testing.T) {
	started := make(chan struct{}, 1)
	block := make(chan struct{})
	slow := ObserverFunc(func(Event) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
	})
	p, err := NewPipelineBuilder().
		WithIdentity(SystemIdentity{ApplicationID: "crm", DeploymentID: "eu-1"}).
		WithBaseURL("https://api.example.com/").
		WithSinkInstance(&recordingSink{name: "ok"}).
		WithObserver(slow).
		WithObserverPool(1, 1).
		Build()
	require.NoError(t, err)
	defer p.Close(context.Background())
	defer close(block)

	require.NoError(t, p.Process(context.Background(), ChangeEvent{Trigger: TriggerCreate, Subject: &note{ID: "0"}}))
	<-started
	for i := 1; i < 40; i++ {
		require.NoError(t, p.Process(context.Background(), ChangeEvent{Trigger: TriggerCreate, Subject: &note{ID: fmt.Sprint(i)}}))
	}

	h := p.Health(context.Background())
	assert.Equal(t, "healthy", h.Status, "lost capture telemetry alone is not a failure")
	assert.Positive(t, h.Metrics.EventsDropped)
	assert.Zero(t, h.Metrics.LostFailureEvents)

	p.Drop(ChangeEvent{Trigger: TriggerUpdate, Subject: &note{ID: "x"}}, ErrSnapshot)

	h = p.Health(context.Background())
	assert.Equal(t, uint64(1), h.Metrics.LostFailureEvents)
	assert.Equal(t, "degraded", h.Status)
	assert.Contains(t, h.Message, "missed 1 failure events")
}

func TestPipeline_Close(t *testing.T) {
	sink := &recordingSink{name: "rec"}
	p := newTestPipeline(t, sink)

	require.NoError(t, p.Close(context.Background()))
	require.NoError(t, p.Close(context.Background()))
	assert.True(t, sink.closed)
	assert.ErrorIs(t, p.Process(context.Background(), ChangeEvent{Trigger: TriggerCreate, Subject: &note{ID: "1"}}), ErrPipelineClosed)
	assert.Equal(t, "unhealthy", p.Health(context.Background()).Status)
}

func TestPipeline_Observers(t *testing.T) {
	log := &eventLog{}
	removed := &eventLog{}
	p := newTestPipeline(t, &recordingSink{name: "rec"}, &recordingSink{name: "bad", err: errTransient})
	p.AddObserver(log)
	p.AddObserver(removed)
	p.RemoveObserver(removed)

	_ = p.Process(context.Background(), ChangeEvent{Trigger: TriggerCreate, Subject: &note{ID: "1"}})
	_ = p.Process(context.Background(), ChangeEvent{Trigger: TriggerCreate})
	require.NoError(t, p.Close(context.Background()))

	assert.Equal(t, []EventType{Captured, Dispatched, SinkFailed, Dropped}, log.types())
	assert.Empty(t, removed.types())
}

func TestNew_ReturnsCloseFunc(t *testing.T) {
	sink := &recordingSink{name: "rec"}
	p, closeFn, err := New(func(b *PipelineBuilder) {
		b.WithSinkInstance(sink).WithAlias(&note{}, "notes")
	})
	require.NoError(t, err)
	require.NoError(t, p.Process(context.Background(), ChangeEvent{Trigger: TriggerDelete, Subject: &note{ID: "7"}}))
	require.NoError(t, closeFn())

	assert.Equal(t, "notes.delete", sink.received()[0].Name)
	assert.True(t, sink.closed)
}

func TestBuild_UnknownSinkOrCodec(t *testing.T) {
	_, err := NewPipelineBuilder().WithSink("nope", nil).Build()
	assert.ErrorAs(t, err, &ErrUnknownSink{})

	_, err = NewPipelineBuilder().WithCodec("xml").Build()
	assert.Error(t, err)
}
