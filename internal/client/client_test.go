package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hello-pool/internal/logger"
	"hello-pool/internal/worker"
)

// inlineSubmitter はタスクをその場で実行する
type inlineSubmitter struct {
	mu     sync.Mutex
	calls  int
	failAt int
}

func (s *inlineSubmitter) SubmitContext(_ context.Context, task worker.Task) error {
	s.mu.Lock()
	s.calls++
	calls := s.calls
	s.mu.Unlock()

	if s.failAt > 0 && calls >= s.failAt {
		return worker.ErrChannelClosed
	}
	func() {
		defer func() { _ = recover() }()
		task()
	}()
	return nil
}

func quietClient(pool Submitter, config Config) *Client {
	c := New(pool, config)
	c.SetLogger(logger.Discard())
	return c
}

func TestDefaultClientConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, 1000, config.Tasks)
	assert.Zero(t, config.Rate)
	assert.Zero(t, config.PanicRatio)
}

func TestNewClient(t *testing.T) {
	c := New(&inlineSubmitter{}, DefaultConfig())
	assert.False(t, c.IsRunning())
	assert.Zero(t, c.Stats().Submitted)
}

func TestClientSubmitsFixedCount(t *testing.T) {
	s := &inlineSubmitter{}
	c := quietClient(s, Config{Tasks: 25})

	stats, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(25), stats.Submitted)
	assert.Equal(t, uint64(25), c.Executed())
	assert.Equal(t, 25, s.calls)
	assert.False(t, c.IsRunning())
}

func TestClientPanicRatio(t *testing.T) {
	c := quietClient(&inlineSubmitter{}, Config{Tasks: 100, PanicRatio: 0.1})

	stats, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(10), stats.Panicking)
	assert.Equal(t, uint64(90), c.Executed())
}

func TestClientSlowTasks(t *testing.T) {
	c := quietClient(&inlineSubmitter{}, Config{Tasks: 5, SlowTasks: 2, SlowTaskDuration: 5 * time.Millisecond})

	start := time.Now()
	stats, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.Slow)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestClientStopsOnRejection(t *testing.T) {
	c := quietClient(&inlineSubmitter{failAt: 4}, Config{Tasks: 10})

	stats, err := c.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, worker.ErrChannelClosed))
	assert.Equal(t, uint64(3), stats.Submitted)
	assert.Equal(t, uint64(1), stats.Rejected)
}

func TestClientUnlimitedStopsOnContext(t *testing.T) {
	c := quietClient(&inlineSubmitter{}, Config{Tasks: 0, Rate: 200})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	stats, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Positive(t, stats.Submitted)
	assert.Less(t, stats.Submitted, uint64(50))
}

func TestClientAgainstPool(t *testing.T) {
	pool, err := worker.NewPool(4)
	require.NoError(t, err)

	c := quietClient(pool, Config{Tasks: 200, PanicRatio: 0.05})
	stats, err := c.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, pool.Close())

	assert.Equal(t, uint64(200), stats.Submitted)
	assert.Equal(t, uint64(10), stats.Panicking)
	assert.Equal(t, uint64(190), c.Executed())
}

func TestClientRejectsRateOutOfRange(t *testing.T) {
	for _, rate := range []int{-1, MaxRate + 1} {
		sub := &inlineSubmitter{}
		c := quietClient(sub, Config{Tasks: 1, Rate: rate})

		_, err := c.Run(context.Background())
		require.Error(t, err)
		assert.Zero(t, sub.calls)
		assert.False(t, c.IsRunning())
	}
}
