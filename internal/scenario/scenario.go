package scenario

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"

	"hello-pool/internal/client"
	"hello-pool/internal/events"
	"hello-pool/internal/logger"
	"hello-pool/internal/metrics"
	"hello-pool/internal/worker"
)

// Config はシナリオの設定
type Config struct {
	Name        string        // シナリオ名
	Description string        // 説明
	Duration    time.Duration // 投入期間の上限（0で無制限）

	// プール設定
	PoolSize    int                // ワーカー数
	QueueSize   int                // キュー上限（0で無制限）
	PanicPolicy worker.PanicPolicy // パニック時の扱い

	// 負荷設定
	Tasks            int           // 投入タスク数（0で Duration まで）
	Rate             int           // 毎秒の投入数（0で無制限）
	TaskDuration     time.Duration // 通常タスクの処理時間
	SlowTasks        int           // 低速タスク数
	SlowTaskDuration time.Duration // 低速タスクの処理時間
	PanicRatio       float64       // パニックするタスクの割合
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Name:         "default",
		Description:  "Default scenario",
		Duration:     10 * time.Second,
		PoolSize:     4,
		QueueSize:    0,
		PanicPolicy:  worker.PanicRecover,
		Tasks:        1000,
		TaskDuration: time.Millisecond,
	}
}

// Validate は設定を検証する
func (c Config) Validate() error {
	if c.PoolSize < 1 {
		return errors.Wrapf(worker.ErrInvalidPoolSize, "scenario '%s' requests %d workers", c.Name, c.PoolSize)
	}
	if c.Tasks == 0 && c.Duration <= 0 {
		return errors.Errorf("scenario '%s' has neither a task count nor a duration", c.Name)
	}
	if c.PanicRatio < 0 || c.PanicRatio > 1 {
		return errors.Errorf("panic ratio must be between 0 and 1, got %v", c.PanicRatio)
	}
	if c.Tasks < 0 || c.Rate < 0 || c.SlowTasks < 0 || c.QueueSize < 0 {
		return errors.New("counts must be non-negative")
	}
	if c.Rate > client.MaxRate {
		return errors.Errorf("rate must be at most %d tasks per second, got %d", client.MaxRate, c.Rate)
	}
	return nil
}

func (c Config) clientConfig() client.Config {
	return client.Config{
		Tasks:            c.Tasks,
		Rate:             c.Rate,
		TaskDuration:     c.TaskDuration,
		SlowTasks:        c.SlowTasks,
		SlowTaskDuration: c.SlowTaskDuration,
		PanicRatio:       c.PanicRatio,
	}
}

// Result はシナリオ実行結果
type Result struct {
	ScenarioName     string        `json:"scenario_name"`
	StartTime        time.Time     `json:"start_time"`
	EndTime          time.Time     `json:"end_time"`
	Duration         time.Duration `json:"duration"`
	ShutdownDuration time.Duration `json:"shutdown_duration"`

	// プール
	PoolSize    int    `json:"pool_size"`
	QueueSize   int    `json:"queue_size"`
	PanicPolicy string `json:"panic_policy"`

	// タスク統計
	Submitted  uint64        `json:"submitted"`
	Rejected   uint64        `json:"rejected"`
	Completed  uint64        `json:"completed"`
	Panicked   uint64        `json:"panicked"`
	AvgLatency time.Duration `json:"avg_latency"`
	P99Latency time.Duration `json:"p99_latency"`
	TPS        float64       `json:"tps"`

	SubmitError string `json:"submit_error,omitempty"`
	CloseError  string `json:"close_error,omitempty"`

	Workers []worker.WorkerStatus `json:"workers"`
}

// Engine はシナリオ実行エンジン
type Engine struct {
	config   Config
	eventBus *events.Bus
	metrics  *metrics.Metrics
	log      grip.Journaler

	mu      sync.RWMutex
	running bool
	pool    *worker.Pool
	client  *client.Client
	cancel  context.CancelFunc
}

// New は新しいEngineを作成する
func New(config Config) *Engine {
	return &Engine{
		config: config,
		log:    logger.Default(),
	}
}

// SetEventBus はイベントバスを設定する
func (e *Engine) SetEventBus(bus *events.Bus) {
	e.eventBus = bus
}

// SetMetrics は共有メトリクスを設定する
func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

// SetLogger はロガーを設定する
func (e *Engine) SetLogger(j grip.Journaler) {
	e.log = logger.Or(j)
}

// Config はシナリオ設定を返す
func (e *Engine) Config() Config {
	return e.config
}

// Run はシナリオを実行する
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if err := e.config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid scenario")
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, errors.New("scenario is already running")
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.cancel = nil
		e.mu.Unlock()
	}()

	e.log.Info(message.Fields{
		"message":     "scenario started",
		"scenario":    e.config.Name,
		"description": e.config.Description,
	})

	result := &Result{
		ScenarioName: e.config.Name,
		StartTime:    time.Now(),
		PoolSize:     e.config.PoolSize,
		QueueSize:    e.config.QueueSize,
		PanicPolicy:  e.config.PanicPolicy.String(),
	}

	if err := e.setup(); err != nil {
		return nil, errors.Wrap(err, "setup failed")
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if e.config.Duration > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.config.Duration)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	stats, submitErr := e.client.Run(runCtx)
	if submitErr != nil {
		result.SubmitError = submitErr.Error()
		e.log.Warning(message.WrapError(submitErr, message.Fields{
			"message":  "submission stopped early",
			"scenario": e.config.Name,
		}))
	}

	closeStart := time.Now()
	closeErr := e.pool.Close()
	result.ShutdownDuration = time.Since(closeStart)
	if closeErr != nil {
		result.CloseError = closeErr.Error()
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	e.collectResults(result, stats)

	e.log.Info(message.Fields{
		"message":   "scenario completed",
		"scenario":  e.config.Name,
		"submitted": result.Submitted,
		"completed": result.Completed,
		"panicked":  result.Panicked,
		"shutdown":  result.ShutdownDuration.String(),
	})

	return result, nil
}

// setup はプールとクライアントを構築する
func (e *Engine) setup() error {
	e.mu.Lock()
	if e.metrics == nil {
		e.metrics = metrics.New()
	}
	m := e.metrics
	e.mu.Unlock()
	m.Reset()

	pool, err := worker.NewPoolWithConfig(worker.PoolConfig{
		NumWorkers:  e.config.PoolSize,
		QueueSize:   e.config.QueueSize,
		PanicPolicy: e.config.PanicPolicy,
		Logger:      e.log,
		Metrics:     m,
		EventBus:    e.eventBus,
	})
	if err != nil {
		return errors.Wrap(err, "creating pool")
	}

	c := client.New(pool, e.config.clientConfig())
	c.SetLogger(e.log)

	e.mu.Lock()
	e.pool = pool
	e.client = c
	e.mu.Unlock()
	return nil
}

// collectResults は結果を収集する
func (e *Engine) collectResults(result *Result, stats client.Stats) {
	result.Submitted = stats.Submitted
	result.Rejected = stats.Rejected

	result.Workers = e.pool.Workers()
	for _, w := range result.Workers {
		result.Completed += w.Completed
		result.Panicked += w.Panicked
	}

	// setup で Reset したウィンドウ値だけを使い、共有メトリクスの過去の実行を含めない
	snapshot := e.metrics.Snapshot()
	result.AvgLatency = snapshot.WindowLatency
	result.P99Latency = snapshot.P99Latency
	if secs := result.Duration.Seconds(); secs > 0 {
		result.TPS = float64(result.Completed+result.Panicked) / secs
	}
}

// Stop は投入を中断する。実行中のタスクは完了まで待つ
func (e *Engine) Stop() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.cancel == nil {
		return false
	}
	e.cancel()
	return true
}

// Report は結果をフォーマットして返す
func (r *Result) Report() string {
	report := fmt.Sprintf(`
================================================================================
                         SCENARIO REPORT: %s
================================================================================

EXECUTION SUMMARY
-----------------
  Start Time:     %s
  End Time:       %s
  Duration:       %v
  Shutdown:       %v

POOL
----
  Workers:        %d
  Queue Size:     %s
  Panic Policy:   %s

TASK METRICS
------------
  Submitted:      %d
  Rejected:       %d
  Completed:      %d
  Panicked:       %d
  Avg Latency:    %v
  P99 Latency:    %v
  Throughput:     %.2f tasks/s
`,
		r.ScenarioName,
		r.StartTime.Format("2006-01-02 15:04:05"),
		r.EndTime.Format("2006-01-02 15:04:05"),
		r.Duration.Round(time.Millisecond),
		r.ShutdownDuration.Round(time.Millisecond),
		r.PoolSize,
		queueLabel(r.QueueSize),
		r.PanicPolicy,
		r.Submitted,
		r.Rejected,
		r.Completed,
		r.Panicked,
		r.AvgLatency.Round(time.Microsecond),
		r.P99Latency.Round(time.Microsecond),
		r.TPS,
	)

	if r.SubmitError != "" || r.CloseError != "" {
		report += "\nERRORS\n------\n"
		if r.SubmitError != "" {
			report += fmt.Sprintf("  Submit:         %s\n", r.SubmitError)
		}
		if r.CloseError != "" {
			report += fmt.Sprintf("  Close:          %s\n", r.CloseError)
		}
	}

	report += "\nWORKERS\n-------\n"
	for _, w := range r.Workers {
		line := fmt.Sprintf("  worker %-4d %-8s completed=%d panicked=%d", w.ID, w.State, w.Completed, w.Panicked)
		if w.Error != "" {
			line += " error=" + w.Error
		}
		report += line + "\n"
	}

	report += "\n================================================================================"

	return report
}

func queueLabel(size int) string {
	if size == 0 {
		return "unbounded"
	}
	return fmt.Sprintf("%d", size)
}

// IsRunning は実行中かどうかを返す
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Pool は現在（または直前）のプールを返す
func (e *Engine) Pool() *worker.Pool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pool
}

// ClientStats はクライアントの投入統計を返す
func (e *Engine) ClientStats() *client.Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.client == nil {
		return nil
	}
	stats := e.client.Stats()
	return &stats
}

// Metrics はメトリクスのスナップショットを返す
func (e *Engine) Metrics() *metrics.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.metrics == nil {
		return nil
	}
	snapshot := e.metrics.Snapshot()
	return &snapshot
}
