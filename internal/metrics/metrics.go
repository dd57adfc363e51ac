package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Config はメトリクスの設定
type Config struct {
	Namespace         string // Prometheus 名前空間
	Subsystem         string // Prometheus サブシステム
	MaxLatencySamples int    // P99 計算用サンプル数の上限
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Namespace:         "hellopool",
		Subsystem:         "workerpool",
		MaxLatencySamples: 1000,
	}
}

type instruments struct {
	submitted prometheus.Counter
	completed prometheus.Counter
	failed    prometheus.Counter
	rejected  prometheus.Counter
	active    prometheus.Gauge
	busy      prometheus.Gauge
	latency   prometheus.Histogram
}

func newInstruments(namespace, subsystem string) instruments {
	return instruments{
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tasks_submitted_total",
			Help:      "Total number of tasks submitted to the pool",
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tasks_completed_total",
			Help:      "Total number of tasks completed successfully",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tasks_failed_total",
			Help:      "Total number of tasks that panicked",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tasks_rejected_total",
			Help:      "Total number of submissions refused by the pool",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active_workers",
			Help:      "Current number of running workers",
		}),
		busy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "busy_workers",
			Help:      "Current number of workers executing a task",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "task_latency_seconds",
			Help:      "Histogram of task execution latency",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (i instruments) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		i.submitted,
		i.completed,
		i.failed,
		i.rejected,
		i.active,
		i.busy,
		i.latency,
	}
}

// Metrics はタスク実行のメトリクスを収集する
type Metrics struct {
	submittedTasks atomic.Uint64
	completedTasks atomic.Uint64
	panickedTasks  atomic.Uint64
	rejectedTasks  atomic.Uint64
	totalLatencyNs atomic.Uint64
	activeWorkers  atomic.Int64
	busyWorkers    atomic.Int64

	prom instruments

	mu                sync.RWMutex
	startTime         time.Time
	lastResetTime     time.Time
	windowTasks       uint64
	windowLatency     time.Duration
	latencies         []time.Duration
	nextSample        int
	maxLatencySamples int
}

// New はデフォルト設定でメトリクスを作成する
func New() *Metrics {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig は設定を指定してメトリクスを作成する
func NewWithConfig(config Config) *Metrics {
	maxSamples := config.MaxLatencySamples
	if maxSamples <= 0 {
		maxSamples = 1000
	}
	now := time.Now()
	return &Metrics{
		prom:              newInstruments(config.Namespace, config.Subsystem),
		startTime:         now,
		lastResetTime:     now,
		latencies:         make([]time.Duration, 0, maxSamples),
		maxLatencySamples: maxSamples,
	}
}

// Register は Prometheus インスツルメントをレジストリに登録する
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.prom.collectors() {
		if err := reg.Register(c); err != nil {
			return errors.Wrap(err, "registering pool metrics")
		}
	}
	return nil
}

// RecordSubmitted は受け付けたタスクを記録する
func (m *Metrics) RecordSubmitted() {
	m.submittedTasks.Add(1)
	m.prom.submitted.Inc()
}

// RecordRejected は拒否されたサブミットを記録する
func (m *Metrics) RecordRejected() {
	m.rejectedTasks.Add(1)
	m.prom.rejected.Inc()
}

// TaskStarted はタスク実行開始を記録する
func (m *Metrics) TaskStarted() {
	m.busyWorkers.Add(1)
	m.prom.busy.Inc()
}

// RecordCompleted は正常終了したタスクを記録する
func (m *Metrics) RecordCompleted(latency time.Duration) {
	m.completedTasks.Add(1)
	m.prom.completed.Inc()
	m.finish(latency)
}

// RecordPanicked はパニックしたタスクを記録する
func (m *Metrics) RecordPanicked(latency time.Duration) {
	m.panickedTasks.Add(1)
	m.prom.failed.Inc()
	m.finish(latency)
}

func (m *Metrics) finish(latency time.Duration) {
	m.busyWorkers.Add(-1)
	m.prom.busy.Dec()
	m.totalLatencyNs.Add(uint64(latency.Nanoseconds()))
	m.prom.latency.Observe(latency.Seconds())

	m.mu.Lock()
	m.windowTasks++
	m.windowLatency += latency
	// 上限に達したら古いサンプルから上書きする
	if len(m.latencies) < m.maxLatencySamples {
		m.latencies = append(m.latencies, latency)
	} else {
		m.latencies[m.nextSample] = latency
	}
	m.nextSample = (m.nextSample + 1) % m.maxLatencySamples
	m.mu.Unlock()
}

// WorkerStarted はワーカーの起動を記録する
func (m *Metrics) WorkerStarted() {
	m.activeWorkers.Add(1)
	m.prom.active.Inc()
}

// WorkerStopped はワーカーの停止を記録する
func (m *Metrics) WorkerStopped() {
	m.activeWorkers.Add(-1)
	m.prom.active.Dec()
}

// SubmittedTasks は受け付けたタスク数を返す
func (m *Metrics) SubmittedTasks() uint64 {
	return m.submittedTasks.Load()
}

// CompletedTasks は正常終了したタスク数を返す
func (m *Metrics) CompletedTasks() uint64 {
	return m.completedTasks.Load()
}

// PanickedTasks はパニックしたタスク数を返す
func (m *Metrics) PanickedTasks() uint64 {
	return m.panickedTasks.Load()
}

// RejectedTasks は拒否されたサブミット数を返す
func (m *Metrics) RejectedTasks() uint64 {
	return m.rejectedTasks.Load()
}

// FinishedTasks は実行を終えたタスク数を返す
func (m *Metrics) FinishedTasks() uint64 {
	return m.completedTasks.Load() + m.panickedTasks.Load()
}

// ActiveWorkers は稼働中のワーカー数を返す
func (m *Metrics) ActiveWorkers() int64 {
	return m.activeWorkers.Load()
}

// BusyWorkers はタスク実行中のワーカー数を返す
func (m *Metrics) BusyWorkers() int64 {
	return m.busyWorkers.Load()
}

// TPS は現在のウィンドウの Tasks Per Second を返す
func (m *Metrics) TPS() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	elapsed := time.Since(m.lastResetTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.windowTasks) / elapsed
}

// OverallTPS は開始からの平均 TPS を返す
func (m *Metrics) OverallTPS() float64 {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.FinishedTasks()) / elapsed
}

// AverageLatency は平均レイテンシを返す
func (m *Metrics) AverageLatency() time.Duration {
	total := m.FinishedTasks()
	if total == 0 {
		return 0
	}
	return time.Duration(m.totalLatencyNs.Load() / total)
}

// WindowAverageLatency は直近の Reset 以降の平均レイテンシを返す
func (m *Metrics) WindowAverageLatency() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.windowTasks == 0 {
		return 0
	}
	return m.windowLatency / time.Duration(m.windowTasks)
}

// WindowTasks は直近の Reset 以降に実行を終えたタスク数を返す
func (m *Metrics) WindowTasks() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.windowTasks
}

// P99Latency は直近の Reset 以降の P99 レイテンシを返す（最新サンプルベース）
func (m *Metrics) P99Latency() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.latencies) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// PanicRate はパニック率を返す（0.0〜1.0）
func (m *Metrics) PanicRate() float64 {
	total := m.FinishedTasks()
	if total == 0 {
		return 0
	}
	return float64(m.panickedTasks.Load()) / float64(total)
}

// Reset はウィンドウメトリクス（TPS、ウィンドウ平均、P99 サンプル）をリセットする
// 累積カウンタと Prometheus インスツルメントはそのまま残る
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.windowTasks = 0
	m.windowLatency = 0
	m.lastResetTime = time.Now()
	m.latencies = m.latencies[:0]
	m.nextSample = 0
}

// Snapshot はメトリクスのスナップショット
type Snapshot struct {
	SubmittedTasks uint64        `json:"submitted_tasks"`
	CompletedTasks uint64        `json:"completed_tasks"`
	PanickedTasks  uint64        `json:"panicked_tasks"`
	RejectedTasks  uint64        `json:"rejected_tasks"`
	ActiveWorkers  int64         `json:"active_workers"`
	BusyWorkers    int64         `json:"busy_workers"`
	TPS            float64       `json:"tps"`
	OverallTPS     float64       `json:"overall_tps"`
	AverageLatency time.Duration `json:"average_latency"`
	WindowTasks    uint64        `json:"window_tasks"`
	WindowLatency  time.Duration `json:"window_average_latency"`
	P99Latency     time.Duration `json:"p99_latency"`
	PanicRate      float64       `json:"panic_rate"`
	Elapsed        time.Duration `json:"elapsed"`
}

// Snapshot は現在のメトリクスのスナップショットを返す
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		SubmittedTasks: m.SubmittedTasks(),
		CompletedTasks: m.CompletedTasks(),
		PanickedTasks:  m.PanickedTasks(),
		RejectedTasks:  m.RejectedTasks(),
		ActiveWorkers:  m.ActiveWorkers(),
		BusyWorkers:    m.BusyWorkers(),
		TPS:            m.TPS(),
		OverallTPS:     m.OverallTPS(),
		AverageLatency: m.AverageLatency(),
		WindowTasks:    m.WindowTasks(),
		WindowLatency:  m.WindowAverageLatency(),
		P99Latency:     m.P99Latency(),
		PanicRate:      m.PanicRate(),
		Elapsed:        time.Since(m.startTime),
	}
}
