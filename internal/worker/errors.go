package worker

import "github.com/pkg/errors"

var (
	// ErrInvalidPoolSize is returned when a pool is requested with fewer than one worker.
	ErrInvalidPoolSize = errors.New("pool size must be at least one")
	// ErrNilTask is returned when Submit is given a nil task.
	ErrNilTask = errors.New("task must not be nil")
	// ErrChannelClosed is returned when no worker can receive submitted work.
	ErrChannelClosed = errors.New("work channel is closed")
	// ErrChannelBroken is reported by a worker whose channel closed before it was told to terminate.
	ErrChannelBroken = errors.New("work channel closed without a terminate signal")
)
