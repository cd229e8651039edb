package xevents

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserverPool_DeliversAndSurvivesPanics(t *testing.T) {
	pool := NewObserverPool(2, 16)
	var seen atomic.Int64
	observers := []Observer{
		ObserverFunc(func(Event) { panic("observer bug") }),
		ObserverFunc(func(Event) { seen.Add(1) }),
	}

	for i := 0; i < 10; i++ {
		pool.Notify(Event{Type: Captured}, observers)
	}
	require.NoError(t, pool.Close(time.Second))

	assert.Equal(t, int64(10), seen.Load())
	assert.Equal(t, uint64(10), pool.Stats().Processed)
	assert.Equal(t, uint64(10), pool.Stats().ObserverPanics)
	assert.NoError(t, pool.Close(time.Second))
}

func TestObserverPool_DropsWhenFull(t *testing.T) {
	pool := NewObserverPool(1, 1)
	block := make(chan struct{})
	slow := []Observer{ObserverFunc(func(Event) { <-block })}

	for i := 0; i < 10; i++ {
		pool.Notify(Event{Type: Dispatched}, slow)
	}
	assert.Positive(t, pool.Stats().Dropped)

	close(block)
	require.NoError(t, pool.Close(time.Second))
	pool.Notify(Event{Type: Dispatched}, slow)
	assert.Equal(t, 1, pool.Stats().Workers)
}

func TestObserverPool_CountsLostEventsByType(t *testing.T) {
	pool := NewObserverPool(1, 1)
	started := make(chan struct{}, 1)
	block := make(chan struct{})
	slow := []Observer{ObserverFunc(func(Event) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
	})}

	pool.Notify(Event{Type: Captured}, slow)
	<-started
	pool.Notify(Event{Type: Captured}, slow) // fills the queue

	pool.Notify(Event{Type: Captured}, slow)
	pool.Notify(Event{Type: Captured}, slow)
	pool.Notify(Event{Type: SinkFailed}, slow)
	pool.Notify(Event{Type: Dropped}, slow)
	pool.Notify(Event{Type: Dispatched}, slow)

	stats := pool.Stats()
	assert.Equal(t, uint64(5), stats.Dropped)
	assert.Equal(t, uint64(2), stats.LostByType[Captured])
	assert.Equal(t, uint64(1), stats.LostByType[SinkFailed])
	assert.Equal(t, uint64(1), stats.LostByType[Dropped])
	assert.Equal(t, uint64(1), stats.LostByType[Dispatched])
	assert.Equal(t, uint64(2), stats.LostFailures())

	close(block)
	require.NoError(t, pool.Close(time.Second))
	assert.Equal(t, uint64(2), pool.Stats().Processed)

	pool.Notify(Event{Type: SinkFailed}, slow)
	assert.Equal(t, uint64(2), pool.Stats().LostFailures(), "events after close are not losses")
}

func TestObserverPool_CloseTimeout(t *testing.T) {
	pool := NewObserverPool(1, 4)
	block := make(chan struct{})
	defer close(block)
	pool.Notify(Event{}, []Observer{ObserverFunc(func(Event) { <-block })})
	time.Sleep(10 * time.Millisecond)

	assert.ErrorIs(t, pool.Close(10*time.Millisecond), ErrObserverPoolShutdownTimeout)
}

func TestLoggingObserver_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		LoggingObserver{}.OnEvent(Event{Type: SinkFailed, Err: errTransient})
	})
}
