package worker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/mongodb/grip/message"
	"github.com/mongodb/grip/recovery"
	"github.com/pkg/errors"
)

// State はワーカーの状態
type State int32

const (
	StateRunning State = iota
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "Running"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// PanicPolicy はタスクがパニックした時のワーカーの振る舞い
type PanicPolicy int

const (
	// PanicRecover はパニックを回復して報告し、ワーカーは動作を続ける
	PanicRecover PanicPolicy = iota
	// PanicStop はパニックを報告し、ワーカーを異常終了させる
	PanicStop
)

func (p PanicPolicy) String() string {
	switch p {
	case PanicRecover:
		return "recover"
	case PanicStop:
		return "stop"
	default:
		return "unknown"
	}
}

// ParsePanicPolicy は文字列からポリシーを取得する
func ParsePanicPolicy(name string) (PanicPolicy, error) {
	switch name {
	case "", "recover":
		return PanicRecover, nil
	case "stop":
		return PanicStop, nil
	default:
		return PanicRecover, errors.Errorf("unknown panic policy '%s'", name)
	}
}

// Worker はワークチャネルからタスクを取り出して実行し続ける
type Worker struct {
	id    int
	state atomic.Int32
	done  chan struct{}
	err   error

	completed atomic.Uint64
	panicked  atomic.Uint64

	mu      sync.Mutex
	current string
}

// startWorker はワーカーを生成し、受信ループを開始する
func startWorker(id int, ch *workChannel, env *environment) *Worker {
	w := &Worker{
		id:   id,
		done: make(chan struct{}),
	}
	ch.addReceiver()
	env.workerStarted(id)
	go w.run(ch, env)
	return w
}

func (w *Worker) run(ch *workChannel, env *environment) {
	defer func() {
		w.state.Store(int32(StateStopped))
		ch.dropReceiver()
		env.workerExited(w.id, w.err)
		close(w.done)
	}()

	for {
		item, err := ch.recv()
		if err != nil {
			w.err = errors.Wrapf(err, "worker %d", w.id)
			return
		}

		switch item.kind {
		case itemTask:
			if err := w.execute(item, env); err != nil && env.policy == PanicStop {
				w.err = errors.Wrapf(err, "worker %d", w.id)
				return
			}
		case itemTerminate:
			return
		}
	}
}

// execute はタスクを同期実行する。パニックはエラーとして返す
func (w *Worker) execute(item workItem, env *environment) (err error) {
	w.setCurrent(item.id)
	env.taskStarted(w.id, item.id)
	start := time.Now()

	defer func() {
		err = recovery.SendMessageWithPanicError(recover(), nil, env.log, message.Fields{
			"message": "task panicked",
			"worker":  w.id,
			"task":    item.id,
			"policy":  env.policy.String(),
		})
		w.setCurrent("")
		if err != nil {
			w.panicked.Add(1)
		} else {
			w.completed.Add(1)
		}
		env.taskFinished(w.id, item.id, time.Since(start), err)
	}()

	item.task()
	return nil
}

func (w *Worker) setCurrent(taskID string) {
	w.mu.Lock()
	w.current = taskID
	w.mu.Unlock()
}

// Join はワーカーの終了を待ち、異常終了の場合はその理由を返す
func (w *Worker) Join() error {
	<-w.done
	return w.err
}

// Done はワーカー終了時に閉じられるチャネルを返す
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// ID はワーカーIDを返す
func (w *Worker) ID() int {
	return w.id
}

// State は現在の状態を返す
func (w *Worker) State() State {
	return State(w.state.Load())
}

// CurrentTask は実行中のタスクIDを返す（待機中は空文字）
func (w *Worker) CurrentTask() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// WorkerStatus はワーカーの状態のスナップショット
type WorkerStatus struct {
	ID          int    `json:"id"`
	State       string `json:"state"`
	CurrentTask string `json:"current_task,omitempty"`
	Completed   uint64 `json:"completed"`
	Panicked    uint64 `json:"panicked"`
	Error       string `json:"error,omitempty"`
}

// Status はワーカーのスナップショットを返す
func (w *Worker) Status() WorkerStatus {
	status := WorkerStatus{
		ID:          w.id,
		State:       w.State().String(),
		CurrentTask: w.CurrentTask(),
		Completed:   w.completed.Load(),
		Panicked:    w.panicked.Load(),
	}
	select {
	case <-w.done:
		if w.err != nil {
			status.Error = w.err.Error()
		}
	default:
	}
	return status
}
