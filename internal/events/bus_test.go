package events

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBus(t *testing.T) {
	bus := NewBus()
	require.NotNil(t, bus)
	assert.Zero(t, bus.SubscriberCount())
	assert.Equal(t, defaultBufferSize, bus.bufferSize)

	assert.Equal(t, defaultBufferSize, NewBusWithBuffer(0).bufferSize)
	assert.Equal(t, 8, NewBusWithBuffer(8).bufferSize)
}

func TestBusSubscribeUnsubscribe(t *testing.T) {
	bus := NewBus()

	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()
	require.NotNil(t, ch1)
	require.NotNil(t, ch2)
	assert.Equal(t, 2, bus.SubscriberCount())

	bus.Unsubscribe(ch1)
	assert.Equal(t, 1, bus.SubscriberCount())

	_, ok := <-ch1
	assert.False(t, ok, "unsubscribed channel should be closed")
}

func TestBusPublish(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()

	bus.Publish(NewTaskStartedEvent(1, "task-1"))

	select {
	case received := <-ch:
		assert.Equal(t, EventTaskStarted, received.Type)
		assert.Equal(t, 1, received.WorkerID)
		assert.Equal(t, "task-1", received.TaskID)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

func TestBusPublishMultipleSubscribers(t *testing.T) {
	bus := NewBus()
	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()

	bus.Publish(NewWorkerStartedEvent(0))

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			assert.Equal(t, EventWorkerStarted, received.Type, "subscriber %d", i)
		case <-time.After(100 * time.Millisecond):
			t.Errorf("subscriber %d: timeout waiting for event", i)
		}
	}
}

func TestBusPublishNonBlocking(t *testing.T) {
	bus := NewBusWithBuffer(1)
	ch := bus.Subscribe()

	bus.Publish(NewWorkerStartedEvent(1))
	bus.Publish(NewWorkerStartedEvent(2))
	bus.Publish(NewWorkerStartedEvent(3))

	assert.Equal(t, uint64(2), bus.Dropped())
	received := <-ch
	assert.Equal(t, 1, received.WorkerID)
}

func TestNilBusPublish(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() {
		bus.Publish(NewWorkerStartedEvent(1))
	})
}

func TestBusClose(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()

	bus.Close()
	assert.Zero(t, bus.SubscriberCount())

	_, ok := <-ch
	assert.False(t, ok, "expected channel to be closed")

	late := bus.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribing after close should yield a closed channel")
	assert.Zero(t, bus.SubscriberCount())
}

func TestEventCreation(t *testing.T) {
	t.Run("TaskFinished", func(t *testing.T) {
		event := NewTaskFinishedEvent(2, "abc", 100*time.Millisecond)
		assert.Equal(t, EventTaskFinished, event.Type)
		assert.Equal(t, 2, event.WorkerID)
		assert.Equal(t, "abc", event.TaskID)
		assert.Equal(t, "100ms", event.Data.Duration)
	})

	t.Run("TaskPanicked", func(t *testing.T) {
		event := NewTaskPanickedEvent(1, "abc", errors.New("boom"))
		assert.Equal(t, EventTaskPanicked, event.Type)
		assert.Equal(t, "boom", event.Data.Error)
	})

	t.Run("WorkerLifecycle", func(t *testing.T) {
		stopped := NewWorkerStoppedEvent(3)
		assert.Equal(t, EventWorkerStopped, stopped.Type)
		assert.Equal(t, 3, stopped.WorkerID)

		failed := NewWorkerFailedEvent(3, nil)
		assert.Equal(t, EventWorkerFailed, failed.Type)
		assert.Empty(t, failed.Data.Error)
	})

	t.Run("PoolLifecycle", func(t *testing.T) {
		closing := NewPoolClosingEvent(4)
		assert.Equal(t, EventPoolClosing, closing.Type)
		assert.Equal(t, 4, closing.Data.Workers)
		assert.Equal(t, -1, closing.WorkerID)

		closed := NewPoolClosedEvent(4, errors.New("worker 2 failed"))
		assert.Equal(t, EventPoolClosed, closed.Type)
		assert.Equal(t, "worker 2 failed", closed.Data.Error)
	})
}
