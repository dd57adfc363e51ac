// Package config loads pool, scenario and server settings from files and
// the environment.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"hello-pool/internal/client"
	"hello-pool/internal/logger"
	"hello-pool/internal/scenario"
	"hello-pool/internal/worker"
)

// FileConfig は設定ファイルの構造
type FileConfig struct {
	Pool     PoolConfig     `yaml:"pool" json:"pool"`
	Scenario ScenarioConfig `yaml:"scenario" json:"scenario"`
	Server   ServerConfig   `yaml:"server" json:"server"`
	Log      LogConfig      `yaml:"log" json:"log"`
}

// PoolConfig はワーカープール設定
type PoolConfig struct {
	Workers     *int   `yaml:"workers" json:"workers"` // nil の場合は既定値、明示された 0 は不正
	QueueSize   int    `yaml:"queue_size" json:"queue_size"`
	PanicPolicy string `yaml:"panic_policy" json:"panic_policy"`
}

// ScenarioConfig は負荷シナリオ設定
type ScenarioConfig struct {
	Name             string  `yaml:"name" json:"name"`
	Description      string  `yaml:"description" json:"description"`
	Preset           string  `yaml:"preset" json:"preset"`
	Duration         string  `yaml:"duration" json:"duration"`
	Tasks            int     `yaml:"tasks" json:"tasks"`
	Rate             int     `yaml:"rate" json:"rate"`
	TaskDuration     string  `yaml:"task_duration" json:"task_duration"`
	SlowTasks        int     `yaml:"slow_tasks" json:"slow_tasks"`
	SlowTaskDuration string  `yaml:"slow_task_duration" json:"slow_task_duration"`
	PanicRatio       float64 `yaml:"panic_ratio" json:"panic_ratio"`
}

// ServerConfig は管理サーバー設定
type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// LogConfig はログ設定
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// EnvConfig は環境変数による上書き
// 空文字のフィールドは上書きしない
type EnvConfig struct {
	Workers     string `env:"HELLOPOOL_WORKERS"`
	QueueSize   string `env:"HELLOPOOL_QUEUE_SIZE"`
	PanicPolicy string `env:"HELLOPOOL_PANIC_POLICY"`
	Preset      string `env:"HELLOPOOL_PRESET"`
	Duration    string `env:"HELLOPOOL_DURATION"`
	Tasks       string `env:"HELLOPOOL_TASKS"`
	Rate        string `env:"HELLOPOOL_RATE"`
	PanicRatio  string `env:"HELLOPOOL_PANIC_RATIO"`
	ServerAddr  string `env:"HELLOPOOL_ADDR"`
	LogLevel    string `env:"HELLOPOOL_LOG_LEVEL"`
}

// Default はデフォルト設定を返す
// pool.workers が未指定、または queue_size や文字列が空の場合はシナリオやプールの既定値を使う
func Default() *FileConfig {
	return &FileConfig{
		Server: ServerConfig{Addr: ":8080"},
		Log:    LogConfig{Level: "info"},
	}
}

// LoadFile は設定ファイルを読み込む
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}

	config := Default()
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, errors.Wrap(err, "parsing YAML")
		}
	case ".json":
		if err := json.Unmarshal(data, config); err != nil {
			return nil, errors.Wrap(err, "parsing JSON")
		}
	default:
		return nil, errors.Errorf("unsupported config format: %s", ext)
	}

	return config, nil
}

// LoadEnvFile は .env ファイルを環境変数に読み込む
// 既に設定されている環境変数は上書きしない
func LoadEnvFile(paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	return errors.Wrap(godotenv.Load(paths...), "loading env file")
}

// ReadEnv はプロセスの環境変数から上書き値を読み込む
func ReadEnv() (EnvConfig, error) {
	var ec EnvConfig
	if _, err := env.UnmarshalFromEnviron(&ec); err != nil {
		return ec, errors.Wrap(err, "reading environment")
	}
	return ec, nil
}

// ApplyEnv は環境変数の値で設定を上書きする
func (f *FileConfig) ApplyEnv(ec EnvConfig) error {
	var err error
	if ec.Workers != "" {
		n, err := strconv.Atoi(ec.Workers)
		if err != nil {
			return errors.Wrap(err, "invalid HELLOPOOL_WORKERS")
		}
		f.Pool.Workers = &n
	}
	if f.Pool.QueueSize, err = overrideInt(f.Pool.QueueSize, ec.QueueSize, "HELLOPOOL_QUEUE_SIZE"); err != nil {
		return err
	}
	if f.Scenario.Tasks, err = overrideInt(f.Scenario.Tasks, ec.Tasks, "HELLOPOOL_TASKS"); err != nil {
		return err
	}
	if f.Scenario.Rate, err = overrideInt(f.Scenario.Rate, ec.Rate, "HELLOPOOL_RATE"); err != nil {
		return err
	}
	if ec.PanicRatio != "" {
		ratio, err := strconv.ParseFloat(ec.PanicRatio, 64)
		if err != nil {
			return errors.Wrap(err, "invalid HELLOPOOL_PANIC_RATIO")
		}
		f.Scenario.PanicRatio = ratio
	}

	overrideString(&f.Pool.PanicPolicy, ec.PanicPolicy)
	overrideString(&f.Scenario.Preset, ec.Preset)
	overrideString(&f.Scenario.Duration, ec.Duration)
	overrideString(&f.Server.Addr, ec.ServerAddr)
	overrideString(&f.Log.Level, ec.LogLevel)
	return nil
}

func overrideInt(current int, value, name string) (int, error) {
	if value == "" {
		return current, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return current, errors.Wrapf(err, "invalid %s", name)
	}
	return n, nil
}

func overrideString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// checkWorkers は明示されたワーカー数を検証する
func (p PoolConfig) checkWorkers() error {
	if p.Workers != nil && *p.Workers < 1 {
		return errors.Wrapf(worker.ErrInvalidPoolSize, "pool.workers is %d", *p.Workers)
	}
	return nil
}

// Validate は設定を検証する
func (f *FileConfig) Validate() error {
	if err := f.Pool.checkWorkers(); err != nil {
		return err
	}
	if f.Pool.QueueSize < 0 {
		return errors.New("pool.queue_size must be non-negative")
	}
	if _, err := worker.ParsePanicPolicy(f.Pool.PanicPolicy); err != nil {
		return errors.Wrap(err, "pool.panic_policy")
	}

	sc := f.Scenario
	if sc.Tasks < 0 {
		return errors.New("scenario.tasks must be non-negative")
	}
	if sc.Rate < 0 || sc.Rate > client.MaxRate {
		return errors.Errorf("scenario.rate must be between 0 and %d", client.MaxRate)
	}
	if sc.SlowTasks < 0 {
		return errors.New("scenario.slow_tasks must be non-negative")
	}
	if sc.PanicRatio < 0 || sc.PanicRatio > 1 {
		return errors.New("scenario.panic_ratio must be between 0 and 1")
	}
	if sc.Preset != "" {
		if _, ok := scenario.GetPreset(sc.Preset); !ok {
			return errors.Errorf("unknown preset: %s", sc.Preset)
		}
	}

	if _, err := logger.ParseLevel(f.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	return nil
}

// ToPoolConfig はプール設定に変換する
func (f *FileConfig) ToPoolConfig() (worker.PoolConfig, error) {
	config := worker.DefaultPoolConfig()
	if err := f.Pool.checkWorkers(); err != nil {
		return config, err
	}
	if f.Pool.QueueSize < 0 {
		return config, errors.New("pool.queue_size must be non-negative")
	}
	policy, err := worker.ParsePanicPolicy(f.Pool.PanicPolicy)
	if err != nil {
		return config, err
	}
	if f.Pool.Workers != nil {
		config.NumWorkers = *f.Pool.Workers
	}
	config.QueueSize = f.Pool.QueueSize
	config.PanicPolicy = policy
	return config, nil
}

// ToScenarioConfig はシナリオ設定に変換する
// preset が指定されていればそれを土台にし、明示された値で上書きする
func (f *FileConfig) ToScenarioConfig() (scenario.Config, error) {
	sc := f.Scenario

	config := scenario.DefaultConfig()
	if sc.Preset != "" {
		preset, ok := scenario.GetPreset(sc.Preset)
		if !ok {
			return config, errors.Errorf("unknown preset: %s", sc.Preset)
		}
		config = preset
	}

	if sc.Name != "" {
		config.Name = sc.Name
	}
	if sc.Description != "" {
		config.Description = sc.Description
	}

	var err error
	if config.Duration, err = overrideDuration(config.Duration, sc.Duration, "duration"); err != nil {
		return config, err
	}
	if config.TaskDuration, err = overrideDuration(config.TaskDuration, sc.TaskDuration, "task_duration"); err != nil {
		return config, err
	}
	if config.SlowTaskDuration, err = overrideDuration(config.SlowTaskDuration, sc.SlowTaskDuration, "slow_task_duration"); err != nil {
		return config, err
	}

	// プール設定は明示された値だけをプリセットに重ねる
	pc, err := f.ToPoolConfig()
	if err != nil {
		return config, err
	}
	if f.Pool.Workers != nil {
		config.PoolSize = pc.NumWorkers
	}
	if f.Pool.QueueSize > 0 {
		config.QueueSize = pc.QueueSize
	}
	if f.Pool.PanicPolicy != "" {
		config.PanicPolicy = pc.PanicPolicy
	}

	// 負荷設定
	if sc.Tasks > 0 {
		config.Tasks = sc.Tasks
	}
	if sc.Rate > 0 {
		config.Rate = sc.Rate
	}
	if sc.SlowTasks > 0 {
		config.SlowTasks = sc.SlowTasks
	}
	if sc.PanicRatio > 0 {
		config.PanicRatio = sc.PanicRatio
	}

	return config, nil
}

func overrideDuration(current time.Duration, value, field string) (time.Duration, error) {
	if value == "" {
		return current, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return current, errors.Wrapf(err, "invalid %s", field)
	}
	return d, nil
}
