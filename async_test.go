package xevents

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gateSink blocks every Send until release is closed.
type gateSink struct {
	recordingSink
	release chan struct{}
}

func (g *gateSink) Send(ctx context.Context, msg *Message) error {
	<-g.release
	return g.recordingSink.Send(ctx, msg)
}

func TestAsyncSink_PreservesOrder(t *testing.T) {
	inner := &recordingSink{name: "ordered"}
	a := NewAsyncSink(inner, 100, nil)

	for i := 0; i < 50; i++ {
		require.NoError(t, a.Send(context.Background(), &Message{ID: fmt.Sprint(i)}))
	}
	require.NoError(t, a.Close(context.Background()))

	got := inner.received()
	require.Len(t, got, 50)
	for i, m := range got {
		assert.Equal(t, fmt.Sprint(i), m.ID)
	}
	assert.Equal(t, uint64(50), a.Stats().Sent)
	assert.True(t, inner.closed)
}

func TestAsyncSink_FullQueue(t *testing.T) {
	g := &gateSink{recordingSink: recordingSink{name: "gated"}, release: make(chan struct{})}
	a := NewAsyncSink(g, 1, nil)

	// One message may already be held by the worker; at most two fit before Send rejects.
	var full error
	for i := 0; i < 3 && full == nil; i++ {
		full = a.Send(context.Background(), &Message{ID: fmt.Sprint(i)})
	}
	assert.ErrorIs(t, full, ErrAsyncSinkFull)
	assert.Equal(t, uint64(1), a.Stats().Dropped)

	close(g.release)
	require.NoError(t, a.Close(context.Background()))
}

func TestAsyncSink_SendAfterClose(t *testing.T) {
	a := NewAsyncSink(&recordingSink{name: "x"}, 1, nil)
	require.NoError(t, a.Close(context.Background()))
	assert.ErrorIs(t, a.Send(context.Background(), testMessage()), ErrAsyncSinkClosed)
	assert.NoError(t, a.Close(context.Background()))
}

func TestAsyncSink_DrainTimeout(t *testing.T) {
	g := &gateSink{recordingSink: recordingSink{name: "stuck"}, release: make(chan struct{})}
	defer close(g.release)
	a := NewAsyncSink(g, 4, nil)
	require.NoError(t, a.Send(context.Background(), testMessage()))

	err := a.CloseTimeout(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrAsyncSinkDrainTimeout)
}

func TestAsyncSink_CountsFailures(t *testing.T) {
	inner := &recordingSink{name: "failing", err: errTransient}
	a := NewAsyncSink(inner, 4, nil)
	require.NoError(t, a.Send(context.Background(), testMessage()))
	require.NoError(t, a.Close(context.Background()))

	assert.Equal(t, uint64(1), a.Stats().Failed)
	assert.Equal(t, "failing", a.Name())
}
