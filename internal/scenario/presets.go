package scenario

import (
	"sort"
	"time"

	"hello-pool/internal/worker"
)

// QuickScenario はクイックテスト用シナリオを返す
// 短時間での動作確認用
func QuickScenario() Config {
	return Config{
		Name:         "quick",
		Description:  "Quick test for verification",
		Duration:     5 * time.Second,
		PoolSize:     4,
		PanicPolicy:  worker.PanicRecover,
		Tasks:        200,
		TaskDuration: 2 * time.Millisecond,
	}
}

// BurstScenario は大量の短いタスクを一気に投入するシナリオを返す
func BurstScenario() Config {
	return Config{
		Name:        "burst",
		Description: "Ten thousand instant tasks submitted as fast as possible",
		Duration:    10 * time.Second,
		PoolSize:    8,
		PanicPolicy: worker.PanicRecover,
		Tasks:       10000,
	}
}

// SlowWorkerScenario は1つのワーカーが長いタスクを実行中に停止するシナリオを返す
// 他のワーカーは待機状態のまま終了シグナルを受け取る
func SlowWorkerScenario() Config {
	return Config{
		Name:             "slow-worker",
		Description:      "One long task keeps a worker busy while its peers idle through shutdown",
		Duration:         10 * time.Second,
		PoolSize:         4,
		PanicPolicy:      worker.PanicRecover,
		Tasks:            20,
		TaskDuration:     time.Millisecond,
		SlowTasks:        1,
		SlowTaskDuration: 2 * time.Second,
	}
}

// PanicScenario はパニックするタスクを混ぜたシナリオを返す
func PanicScenario() Config {
	return Config{
		Name:         "panic",
		Description:  "Five percent of tasks panic; workers recover and keep going",
		Duration:     10 * time.Second,
		PoolSize:     4,
		PanicPolicy:  worker.PanicRecover,
		Tasks:        500,
		TaskDuration: time.Millisecond,
		PanicRatio:   0.05,
	}
}

// StressScenario は上限付きキューでの高負荷シナリオを返す
func StressScenario() Config {
	return Config{
		Name:         "stress",
		Description:  "Time-boxed load against a bounded queue",
		Duration:     10 * time.Second,
		PoolSize:     32,
		QueueSize:    256,
		PanicPolicy:  worker.PanicRecover,
		Tasks:        0,
		TaskDuration: 5 * time.Millisecond,
	}
}

var presets = map[string]func() Config{
	"quick":       QuickScenario,
	"burst":       BurstScenario,
	"slow-worker": SlowWorkerScenario,
	"panic":       PanicScenario,
	"stress":      StressScenario,
}

// GetPreset は名前からプリセットシナリオを取得する
func GetPreset(name string) (Config, bool) {
	if fn, ok := presets[name]; ok {
		return fn(), true
	}
	return Config{}, false
}

// ListPresets は利用可能なプリセット名を返す
func ListPresets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
