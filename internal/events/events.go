// Package events provides lifecycle notifications for workers and tasks.
package events

import "time"

// EventType represents the type of event
type EventType string

const (
	// EventWorkerStarted is emitted when a worker goroutine begins receiving
	EventWorkerStarted EventType = "worker_started"
	// EventTaskStarted is emitted when a worker claims a task
	EventTaskStarted EventType = "task_started"
	// EventTaskFinished is emitted when a task returns normally
	EventTaskFinished EventType = "task_finished"
	// EventTaskPanicked is emitted when a task panics
	EventTaskPanicked EventType = "task_panicked"
	// EventWorkerStopped is emitted when a worker consumes a terminate signal
	EventWorkerStopped EventType = "worker_stopped"
	// EventWorkerFailed is emitted when a worker exits without a terminate signal
	EventWorkerFailed EventType = "worker_failed"
	// EventPoolClosing is emitted once terminate signals are about to be sent
	EventPoolClosing EventType = "pool_closing"
	// EventPoolClosed is emitted after every worker has been joined
	EventPoolClosed EventType = "pool_closed"
)

// Event represents a worker pool event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	WorkerID  int       `json:"worker_id"`
	TaskID    string    `json:"task_id,omitempty"`
	Data      EventData `json:"data,omitempty"`
}

// EventData contains event-specific data
type EventData struct {
	Duration string `json:"duration,omitempty"`
	Workers  int    `json:"workers,omitempty"`
	Error    string `json:"error,omitempty"`
}

// NewWorkerStartedEvent creates a worker started event
func NewWorkerStartedEvent(workerID int) Event {
	return Event{
		Type:      EventWorkerStarted,
		Timestamp: time.Now(),
		WorkerID:  workerID,
	}
}

// NewTaskStartedEvent creates a task started event
func NewTaskStartedEvent(workerID int, taskID string) Event {
	return Event{
		Type:      EventTaskStarted,
		Timestamp: time.Now(),
		WorkerID:  workerID,
		TaskID:    taskID,
	}
}

// NewTaskFinishedEvent creates a task finished event
func NewTaskFinishedEvent(workerID int, taskID string, took time.Duration) Event {
	return Event{
		Type:      EventTaskFinished,
		Timestamp: time.Now(),
		WorkerID:  workerID,
		TaskID:    taskID,
		Data: EventData{
			Duration: took.String(),
		},
	}
}

// NewTaskPanickedEvent creates a task panicked event
func NewTaskPanickedEvent(workerID int, taskID string, err error) Event {
	return Event{
		Type:      EventTaskPanicked,
		Timestamp: time.Now(),
		WorkerID:  workerID,
		TaskID:    taskID,
		Data: EventData{
			Error: errorString(err),
		},
	}
}

// NewWorkerStoppedEvent creates a worker stopped event
func NewWorkerStoppedEvent(workerID int) Event {
	return Event{
		Type:      EventWorkerStopped,
		Timestamp: time.Now(),
		WorkerID:  workerID,
	}
}

// NewWorkerFailedEvent creates a worker failed event
func NewWorkerFailedEvent(workerID int, err error) Event {
	return Event{
		Type:      EventWorkerFailed,
		Timestamp: time.Now(),
		WorkerID:  workerID,
		Data: EventData{
			Error: errorString(err),
		},
	}
}

// NewPoolClosingEvent creates a pool closing event
func NewPoolClosingEvent(workers int) Event {
	return Event{
		Type:      EventPoolClosing,
		Timestamp: time.Now(),
		WorkerID:  -1,
		Data: EventData{
			Workers: workers,
		},
	}
}

// NewPoolClosedEvent creates a pool closed event
func NewPoolClosedEvent(workers int, err error) Event {
	return Event{
		Type:      EventPoolClosed,
		Timestamp: time.Now(),
		WorkerID:  -1,
		Data: EventData{
			Workers: workers,
			Error:   errorString(err),
		},
	}
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
