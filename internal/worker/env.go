package worker

import (
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"

	"hello-pool/internal/events"
	"hello-pool/internal/metrics"
)

// environment はプールとワーカーが共有する観測系
type environment struct {
	log     grip.Journaler
	metrics *metrics.Metrics
	bus     *events.Bus
	policy  PanicPolicy
}

func (e *environment) workerStarted(id int) {
	if e.metrics != nil {
		e.metrics.WorkerStarted()
	}
	e.log.Debug(message.Fields{
		"message": "worker started",
		"worker":  id,
	})
	e.bus.Publish(events.NewWorkerStartedEvent(id))
}

func (e *environment) workerExited(id int, err error) {
	if e.metrics != nil {
		e.metrics.WorkerStopped()
	}
	if err != nil {
		e.log.Critical(message.WrapError(err, message.Fields{
			"message": "worker exited abnormally",
			"worker":  id,
		}))
		e.bus.Publish(events.NewWorkerFailedEvent(id, err))
		return
	}
	e.log.Info(message.Fields{
		"message": "worker was told to terminate",
		"worker":  id,
	})
	e.bus.Publish(events.NewWorkerStoppedEvent(id))
}

func (e *environment) taskStarted(workerID int, taskID string) {
	if e.metrics != nil {
		e.metrics.TaskStarted()
	}
	e.log.Debug(message.Fields{
		"message": "worker got a task; executing",
		"worker":  workerID,
		"task":    taskID,
	})
	e.bus.Publish(events.NewTaskStartedEvent(workerID, taskID))
}

// taskFinished は実行結果を記録する。パニックのログは execute が送る
func (e *environment) taskFinished(workerID int, taskID string, took time.Duration, err error) {
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordPanicked(took)
		}
		e.bus.Publish(events.NewTaskPanickedEvent(workerID, taskID, err))
		return
	}
	if e.metrics != nil {
		e.metrics.RecordCompleted(took)
	}
	e.bus.Publish(events.NewTaskFinishedEvent(workerID, taskID, took))
}

func (e *environment) submitted() {
	if e.metrics != nil {
		e.metrics.RecordSubmitted()
	}
}

func (e *environment) rejected(err error) {
	if e.metrics != nil {
		e.metrics.RecordRejected()
	}
	e.log.Warning(message.WrapError(err, message.Fields{
		"message": "task submission refused",
	}))
}
