package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"hello-pool/internal/api"
	"hello-pool/internal/config"
	"hello-pool/internal/logger"
	"hello-pool/internal/scenario"
)

const (
	configFlagName   = "config"
	envFileFlagName  = "env-file"
	logLevelFlagName = "log-level"

	workersFlagName     = "workers"
	queueSizeFlagName   = "queue-size"
	panicPolicyFlagName = "panic-policy"
	presetFlagName      = "preset"
	durationFlagName    = "duration"
	tasksFlagName       = "tasks"
	rateFlagName        = "rate"
	panicRatioFlagName  = "panic-ratio"
	addrFlagName        = "addr"

	defaultPreset = "quick"
)

// overrides はコマンドラインで明示された値
// nil のフィールドは上書きしない
type overrides struct {
	workers     *int
	queueSize   *int
	panicPolicy *string
	preset      *string
	duration    *time.Duration
	tasks       *int
	rate        *int
	panicRatio  *float64
	addr        *string
	logLevel    *string
}

func overridesFromContext(c *cli.Context) overrides {
	var o overrides
	if c.IsSet(workersFlagName) {
		v := c.Int(workersFlagName)
		o.workers = &v
	}
	if c.IsSet(queueSizeFlagName) {
		v := c.Int(queueSizeFlagName)
		o.queueSize = &v
	}
	if c.IsSet(panicPolicyFlagName) {
		v := c.String(panicPolicyFlagName)
		o.panicPolicy = &v
	}
	if c.IsSet(presetFlagName) {
		v := c.String(presetFlagName)
		o.preset = &v
	}
	if c.IsSet(durationFlagName) {
		v := c.Duration(durationFlagName)
		o.duration = &v
	}
	if c.IsSet(tasksFlagName) {
		v := c.Int(tasksFlagName)
		o.tasks = &v
	}
	if c.IsSet(rateFlagName) {
		v := c.Int(rateFlagName)
		o.rate = &v
	}
	if c.IsSet(panicRatioFlagName) {
		v := c.Float64(panicRatioFlagName)
		o.panicRatio = &v
	}
	if c.IsSet(addrFlagName) {
		v := c.String(addrFlagName)
		o.addr = &v
	}
	if c.GlobalIsSet(logLevelFlagName) {
		v := c.GlobalString(logLevelFlagName)
		o.logLevel = &v
	}
	return o
}

func (o overrides) apply(fc *config.FileConfig) {
	if o.workers != nil {
		fc.Pool.Workers = o.workers
	}
	if o.queueSize != nil {
		fc.Pool.QueueSize = *o.queueSize
	}
	if o.panicPolicy != nil {
		fc.Pool.PanicPolicy = *o.panicPolicy
	}
	if o.preset != nil {
		fc.Scenario.Preset = *o.preset
	}
	if o.duration != nil {
		fc.Scenario.Duration = o.duration.String()
	}
	if o.tasks != nil {
		fc.Scenario.Tasks = *o.tasks
	}
	if o.rate != nil {
		fc.Scenario.Rate = *o.rate
	}
	if o.panicRatio != nil {
		fc.Scenario.PanicRatio = *o.panicRatio
	}
	if o.addr != nil {
		fc.Server.Addr = *o.addr
	}
	if o.logLevel != nil {
		fc.Log.Level = *o.logLevel
	}
}

// resolveConfig は設定ファイル、環境変数、フラグの順に設定を重ねる
func resolveConfig(path, envFile string, o overrides) (*config.FileConfig, error) {
	fc := config.Default()
	if path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "loading '%s'", path)
		}
		fc = loaded
	}

	if envFile != "" {
		if err := config.LoadEnvFile(envFile); err != nil {
			return nil, err
		}
	}
	ec, err := config.ReadEnv()
	if err != nil {
		return nil, err
	}
	if err := fc.ApplyEnv(ec); err != nil {
		return nil, err
	}

	o.apply(fc)

	if fc.Scenario.Preset == "" && fc.Scenario.Name == "" {
		fc.Scenario.Preset = defaultPreset
	}

	if err := fc.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return fc, nil
}

func resolveFromContext(c *cli.Context) (*config.FileConfig, error) {
	fc, err := resolveConfig(c.GlobalString(configFlagName), c.GlobalString(envFileFlagName), overridesFromContext(c))
	if err != nil {
		return nil, err
	}

	threshold, err := logger.ParseLevel(fc.Log.Level)
	if err != nil {
		return nil, err
	}
	if err := logger.Setup(logger.DefaultName, threshold); err != nil {
		return nil, err
	}
	return fc, nil
}

// signalContext は SIGINT/SIGTERM でキャンセルされるコンテキストを返す
func signalContext(parent context.Context, what string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			grip.Info(message.Fields{
				"message": "interrupt received; shutting down",
				"signal":  sig.String(),
				"target":  what,
			})
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

func scenarioFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{
			Name:  presetFlagName,
			Usage: "preset scenario name (see 'presets')",
		},
		cli.IntFlag{
			Name:  workersFlagName,
			Usage: "number of workers in the pool",
		},
		cli.IntFlag{
			Name:  queueSizeFlagName,
			Usage: "queue capacity; 0 is unbounded",
		},
		cli.StringFlag{
			Name:  panicPolicyFlagName,
			Usage: "what a worker does when a task panics (recover, stop)",
		},
		cli.DurationFlag{
			Name:  durationFlagName,
			Usage: "upper bound on the submission phase (e.g. 10s, 1m)",
		},
		cli.IntFlag{
			Name:  tasksFlagName,
			Usage: "number of tasks to submit",
		},
		cli.IntFlag{
			Name:  rateFlagName,
			Usage: "tasks submitted per second; 0 submits as fast as possible",
		},
		cli.Float64Flag{
			Name:  panicRatioFlagName,
			Usage: "fraction of tasks that panic",
		},
	}
}

func runCommand() cli.Command {
	return cli.Command{
		Name:  "run",
		Usage: "run a load scenario against a fresh pool and print a report",
		Flags: scenarioFlags(),
		Action: func(c *cli.Context) error {
			fc, err := resolveFromContext(c)
			if err != nil {
				return err
			}
			sc, err := fc.ToScenarioConfig()
			if err != nil {
				return errors.Wrap(err, "building scenario")
			}

			ctx, cancel := signalContext(context.Background(), "scenario")
			defer cancel()

			return runScenario(ctx, c.App.Writer, sc)
		},
	}
}

// runScenario はシナリオを実行してレポートを書き出す
func runScenario(ctx context.Context, out io.Writer, sc scenario.Config) error {
	fmt.Fprintln(out, "hello-pool - bounded worker pool")
	fmt.Fprintln(out, "================================")
	fmt.Fprintf(out, "Scenario: %s\n", sc.Name)
	fmt.Fprintf(out, "Workers: %d, Tasks: %d, Rate: %d/s\n", sc.PoolSize, sc.Tasks, sc.Rate)
	fmt.Fprintln(out, "================================")
	fmt.Fprintln(out)

	engine := scenario.New(sc)
	result, err := engine.Run(ctx)
	if err != nil {
		return errors.Wrapf(err, "running scenario '%s'", sc.Name)
	}

	fmt.Fprintln(out, result.Report())
	return nil
}

func serveCommand() cli.Command {
	return cli.Command{
		Name:  "serve",
		Usage: "start the admin HTTP server",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  addrFlagName,
				Usage: "listen address (e.g. :8080, 0.0.0.0:3000)",
			},
		},
		Action: func(c *cli.Context) error {
			fc, err := resolveFromContext(c)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(context.Background(), "server")
			defer cancel()

			return runServer(ctx, fc)
		},
	}
}

// runServer は ctx が終了するまで管理サーバーを動かす
func runServer(ctx context.Context, fc *config.FileConfig) error {
	server, err := api.NewServer(fc.Server.Addr)
	if err != nil {
		return errors.Wrap(err, "creating api server")
	}
	return server.Start(ctx)
}

func presetsCommand() cli.Command {
	return cli.Command{
		Name:  "presets",
		Usage: "list the built-in scenarios",
		Action: func(c *cli.Context) error {
			printPresets(c.App.Writer)
			return nil
		},
	}
}

// printPresets は利用可能なプリセットを表示する
func printPresets(out io.Writer) {
	fmt.Fprintln(out, "Available presets:")
	fmt.Fprintln(out)

	for _, name := range scenario.ListPresets() {
		preset, _ := scenario.GetPreset(name)
		marker := ""
		if name == defaultPreset {
			marker = " (default)"
		}
		fmt.Fprintf(out, "  %-12s %s%s\n", name, preset.Description, marker)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Example: hellopool run --preset quick")
}
