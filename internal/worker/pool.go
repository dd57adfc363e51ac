package worker

import (
	"context"
	"runtime"
	"sync"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"github.com/rs/xid"

	"hello-pool/internal/events"
	"hello-pool/internal/logger"
	"hello-pool/internal/metrics"
)

// PoolConfig はワーカープールの設定
type PoolConfig struct {
	NumWorkers  int         // ワーカー数（1以上）
	QueueSize   int         // キュー上限（0で無制限）
	PanicPolicy PanicPolicy // タスクがパニックした時の扱い

	Logger   grip.Journaler   // nil の場合はプロセス全体のロガー
	Metrics  *metrics.Metrics // nil の場合は記録しない
	EventBus *events.Bus      // nil の場合は配信しない
}

// DefaultPoolConfig はデフォルト設定を返す
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		NumWorkers:  runtime.NumCPU(),
		QueueSize:   0,
		PanicPolicy: PanicRecover,
	}
}

// Pool は固定数のワーカーとワークチャネルの送信側を所有する
type Pool struct {
	numWorkers int
	ch         *workChannel
	workers    []*Worker
	env        *environment

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// NewPool は size 個のワーカーを持つプールを作成する
func NewPool(size int) (*Pool, error) {
	config := DefaultPoolConfig()
	config.NumWorkers = size
	return NewPoolWithConfig(config)
}

// MustNewPool は NewPool と同じだが、size が不正な場合はパニックする
func MustNewPool(size int) *Pool {
	p, err := NewPool(size)
	if err != nil {
		panic(err)
	}
	return p
}

// NewPoolWithConfig は設定を指定してプールを作成し、全ワーカーを起動する
func NewPoolWithConfig(config PoolConfig) (*Pool, error) {
	if config.NumWorkers < 1 {
		return nil, errors.Wrapf(ErrInvalidPoolSize, "requested %d workers", config.NumWorkers)
	}
	if config.QueueSize < 0 {
		return nil, errors.Errorf("queue size must be non-negative, got %d", config.QueueSize)
	}

	env := &environment{
		log:     logger.Or(config.Logger),
		metrics: config.Metrics,
		bus:     config.EventBus,
		policy:  config.PanicPolicy,
	}

	p := &Pool{
		numWorkers: config.NumWorkers,
		ch:         newWorkChannel(config.QueueSize),
		workers:    make([]*Worker, 0, config.NumWorkers),
		env:        env,
	}
	for id := range config.NumWorkers {
		p.workers = append(p.workers, startWorker(id, p.ch, env))
	}

	env.log.Info(message.Fields{
		"message":      "worker pool started",
		"workers":      p.numWorkers,
		"queue_size":   config.QueueSize,
		"panic_policy": config.PanicPolicy.String(),
	})

	return p, nil
}

// Submit はタスクをキューに追加する
func (p *Pool) Submit(task Task) error {
	return p.SubmitContext(context.Background(), task)
}

// SubmitContext はタスクをキューに追加する
// キューが上限に達している場合は空きが出るか ctx が終了するまでブロックする
func (p *Pool) SubmitContext(ctx context.Context, task Task) error {
	if task == nil {
		return ErrNilTask
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		err := errors.Wrap(ErrChannelClosed, "pool is closed")
		p.env.rejected(err)
		return err
	}

	if err := p.ch.send(ctx, newTaskItem(xid.New().String(), task)); err != nil {
		err = errors.Wrap(err, "submitting task")
		p.env.rejected(err)
		return err
	}
	p.env.submitted()
	return nil
}

// Close はすべてのワーカーを停止し、終了を待つ
// 先に全ワーカー分の終了シグナルを送り、その後ワーカー順に join する
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.shutdown()
	})
	return p.closeErr
}

func (p *Pool) shutdown() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.env.log.Info(message.Fields{
		"message": "sending terminate message to all workers",
		"workers": p.numWorkers,
		"queued":  p.ch.len(),
	})
	p.env.bus.Publish(events.NewPoolClosingEvent(p.numWorkers))

	for range p.workers {
		if err := p.ch.send(context.Background(), terminateItem()); err != nil {
			p.env.log.Warning(message.WrapError(err, message.Fields{
				"message": "no workers left to receive terminate signals",
			}))
			break
		}
	}

	catcher := grip.NewBasicCatcher()
	for _, w := range p.workers {
		p.env.log.Debug(message.Fields{
			"message": "shutting down worker",
			"worker":  w.id,
		})
		catcher.Add(errors.Wrapf(w.Join(), "joining worker %d", w.id))
	}
	p.ch.closeSender()
	if n := p.ch.discardTasks(); n > 0 {
		catcher.Add(errors.Errorf("%d queued tasks were never executed", n))
	}

	err := catcher.Resolve()
	p.env.bus.Publish(events.NewPoolClosedEvent(p.numWorkers, err))
	p.env.log.Info(message.Fields{
		"message": "worker pool stopped",
		"workers": p.numWorkers,
		"failed":  catcher.Len(),
	})
	return err
}

// Closed は Close が呼ばれたかどうかを返す
func (p *Pool) Closed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// NumWorkers はワーカー数を返す
func (p *Pool) NumWorkers() int {
	return p.numWorkers
}

// QueueSize は現在キューで待機しているアイテム数を返す
func (p *Pool) QueueSize() int {
	return p.ch.len()
}

// LiveWorkers はまだ受信を続けているワーカー数を返す
func (p *Pool) LiveWorkers() int {
	return p.ch.receiverCount()
}

// Workers は各ワーカーの状態を返す
func (p *Pool) Workers() []WorkerStatus {
	out := make([]WorkerStatus, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, w.Status())
	}
	return out
}
