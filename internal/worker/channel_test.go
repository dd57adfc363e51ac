package worker

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkChannelFIFO(t *testing.T) {
	ch := newWorkChannel(0)
	ch.addReceiver()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, ch.send(context.Background(), newTaskItem(id, func() {})))
	}
	assert.Equal(t, 3, ch.len())

	for _, id := range []string{"a", "b", "c"} {
		item, err := ch.recv()
		require.NoError(t, err)
		assert.Equal(t, id, item.id)
		assert.Equal(t, itemTask, item.kind)
	}
	assert.Zero(t, ch.len())
}

func TestWorkChannelRecvBlocksUntilSend(t *testing.T) {
	ch := newWorkChannel(0)
	ch.addReceiver()

	got := make(chan workItem, 1)
	go func() {
		item, err := ch.recv()
		if err == nil {
			got <- item
		}
	}()

	select {
	case <-got:
		t.Fatal("recv returned before anything was sent")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, ch.send(context.Background(), terminateItem()))

	select {
	case item := <-got:
		assert.Equal(t, itemTerminate, item.kind)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for recv")
	}
}

func TestWorkChannelSendWithoutReceivers(t *testing.T) {
	ch := newWorkChannel(0)
	err := ch.send(context.Background(), terminateItem())
	assert.True(t, errors.Is(err, ErrChannelClosed))

	ch.addReceiver()
	require.NoError(t, ch.send(context.Background(), terminateItem()))
	ch.dropReceiver()
	err = ch.send(context.Background(), terminateItem())
	assert.True(t, errors.Is(err, ErrChannelClosed))
}

func TestWorkChannelCloseSenderDrainsThenBreaks(t *testing.T) {
	ch := newWorkChannel(0)
	ch.addReceiver()
	require.NoError(t, ch.send(context.Background(), newTaskItem("left", func() {})))

	ch.closeSender()

	item, err := ch.recv()
	require.NoError(t, err)
	assert.Equal(t, "left", item.id)

	_, err = ch.recv()
	assert.True(t, errors.Is(err, ErrChannelBroken))

	err = ch.send(context.Background(), terminateItem())
	assert.True(t, errors.Is(err, ErrChannelClosed))
}

func TestWorkChannelCloseSenderWakesReceivers(t *testing.T) {
	ch := newWorkChannel(0)
	ch.addReceiver()

	errs := make(chan error, 1)
	go func() {
		_, err := ch.recv()
		errs <- err
	}()

	time.Sleep(10 * time.Millisecond)
	ch.closeSender()

	select {
	case err := <-errs:
		assert.True(t, errors.Is(err, ErrChannelBroken))
	case <-time.After(time.Second):
		t.Fatal("receiver was not woken by closeSender")
	}
}

func TestWorkChannelBoundedBlocks(t *testing.T) {
	ch := newWorkChannel(1)
	ch.addReceiver()
	require.NoError(t, ch.send(context.Background(), newTaskItem("first", func() {})))

	sent := make(chan error, 1)
	go func() {
		sent <- ch.send(context.Background(), newTaskItem("second", func() {}))
	}()

	select {
	case <-sent:
		t.Fatal("send on a full channel should block")
	case <-time.After(20 * time.Millisecond):
	}

	item, err := ch.recv()
	require.NoError(t, err)
	assert.Equal(t, "first", item.id)

	select {
	case err := <-sent:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("send was not unblocked by recv")
	}
	assert.Equal(t, 1, ch.len())
}

func TestWorkChannelBoundedHonoursContext(t *testing.T) {
	ch := newWorkChannel(1)
	ch.addReceiver()
	require.NoError(t, ch.send(context.Background(), newTaskItem("first", func() {})))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := ch.send(ctx, newTaskItem("second", func() {}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 1, ch.len())
}

func TestWorkChannelLastReceiverWakesSender(t *testing.T) {
	ch := newWorkChannel(1)
	ch.addReceiver()
	require.NoError(t, ch.send(context.Background(), newTaskItem("first", func() {})))

	sent := make(chan error, 1)
	go func() {
		sent <- ch.send(context.Background(), newTaskItem("second", func() {}))
	}()

	time.Sleep(10 * time.Millisecond)
	ch.dropReceiver()

	select {
	case err := <-sent:
		assert.True(t, errors.Is(err, ErrChannelClosed))
	case <-time.After(time.Second):
		t.Fatal("blocked sender was not woken when receivers dropped to zero")
	}
}

func TestWorkChannelDiscardTasks(t *testing.T) {
	ch := newWorkChannel(0)
	ch.addReceiver()
	require.NoError(t, ch.send(context.Background(), newTaskItem("a", func() {})))
	require.NoError(t, ch.send(context.Background(), terminateItem()))
	require.NoError(t, ch.send(context.Background(), newTaskItem("b", func() {})))

	assert.Equal(t, 2, ch.discardTasks())
	assert.Zero(t, ch.len())
}
