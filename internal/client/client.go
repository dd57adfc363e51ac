package client

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"

	"hello-pool/internal/logger"
	"hello-pool/internal/worker"
)

// MaxRate は Rate の上限（ティッカー間隔が 1ns になる値）
const MaxRate = int(time.Second)

// Submitter はタスクを受け付けるプール
type Submitter interface {
	SubmitContext(ctx context.Context, task worker.Task) error
}

// Config はClientの設定
type Config struct {
	Tasks            int           // 投入タスク数（0で ctx 終了まで）
	Rate             int           // 毎秒の投入数（0で無制限）
	TaskDuration     time.Duration // 通常タスクの処理時間
	SlowTasks        int           // 最初に投入する低速タスク数
	SlowTaskDuration time.Duration // 低速タスクの処理時間
	PanicRatio       float64       // パニックするタスクの割合（0.0〜1.0）
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Tasks:        1000,
		Rate:         0,
		TaskDuration: time.Millisecond,
	}
}

// Stats は投入結果
type Stats struct {
	Submitted uint64 `json:"submitted"`
	Rejected  uint64 `json:"rejected"`
	Panicking uint64 `json:"panicking"`
	Slow      uint64 `json:"slow"`
}

// Client は負荷生成器
type Client struct {
	config Config
	pool   Submitter
	log    grip.Journaler

	running   atomic.Bool
	submitted atomic.Uint64
	rejected  atomic.Uint64
	panicking atomic.Uint64
	slow      atomic.Uint64
	executed  atomic.Uint64
}

// New は新しいClientを作成する
func New(pool Submitter, config Config) *Client {
	return &Client{
		config: config,
		pool:   pool,
		log:    logger.Default(),
	}
}

// SetLogger はロガーを設定する
func (c *Client) SetLogger(j grip.Journaler) {
	c.log = logger.Or(j)
}

// Run はタスクを投入し続け、上限到達か ctx 終了で戻る
// 投入が拒否された場合はそこで中断してエラーを返す
func (c *Client) Run(ctx context.Context) (Stats, error) {
	if c.config.Rate < 0 || c.config.Rate > MaxRate {
		return c.Stats(), errors.Errorf("rate must be between 0 and %d, got %d", MaxRate, c.config.Rate)
	}
	if c.running.Swap(true) {
		return c.Stats(), errors.New("client is already running")
	}
	defer c.running.Store(false)

	c.log.Info(message.Fields{
		"message":     "client started",
		"tasks":       c.config.Tasks,
		"rate":        c.config.Rate,
		"slow_tasks":  c.config.SlowTasks,
		"panic_ratio": c.config.PanicRatio,
	})

	var tick <-chan time.Time
	if c.config.Rate > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(c.config.Rate))
		defer ticker.Stop()
		tick = ticker.C
	}

	for i := 0; c.config.Tasks == 0 || i < c.config.Tasks; i++ {
		if tick != nil {
			select {
			case <-ctx.Done():
				return c.Stats(), nil
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return c.Stats(), nil
		}

		if err := c.pool.SubmitContext(ctx, c.createTask(i)); err != nil {
			if ctx.Err() != nil {
				return c.Stats(), nil
			}
			c.rejected.Add(1)
			return c.Stats(), errors.Wrapf(err, "submitting task %d", i)
		}
		c.submitted.Add(1)
	}

	c.log.Info(message.Fields{
		"message":   "client finished submitting",
		"submitted": c.submitted.Load(),
	})
	return c.Stats(), nil
}

// createTask は i 番目のタスクを作成する
func (c *Client) createTask(i int) worker.Task {
	duration := c.config.TaskDuration
	if i < c.config.SlowTasks {
		duration = c.config.SlowTaskDuration
		c.slow.Add(1)
	}

	if c.shouldPanic(i) {
		c.panicking.Add(1)
		return func() {
			if duration > 0 {
				time.Sleep(duration)
			}
			panic(fmt.Sprintf("synthetic failure in task %d", i))
		}
	}

	return func() {
		if duration > 0 {
			time.Sleep(duration)
		}
		c.executed.Add(1)
	}
}

// shouldPanic は PanicRatio に従って等間隔にパニックするタスクを選ぶ
func (c *Client) shouldPanic(i int) bool {
	r := c.config.PanicRatio
	if r <= 0 {
		return false
	}
	if r >= 1 {
		return true
	}
	return int(float64(i+1)*r) > int(float64(i)*r)
}

// Stats は現在の投入結果を返す
func (c *Client) Stats() Stats {
	return Stats{
		Submitted: c.submitted.Load(),
		Rejected:  c.rejected.Load(),
		Panicking: c.panicking.Load(),
		Slow:      c.slow.Load(),
	}
}

// Executed は正常終了したタスク数を返す
func (c *Client) Executed() uint64 {
	return c.executed.Load()
}

// IsRunning は実行中かどうかを返す
func (c *Client) IsRunning() bool {
	return c.running.Load()
}
