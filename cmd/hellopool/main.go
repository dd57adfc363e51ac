// Package main is the entry point for hello-pool.
package main

import (
	"os"

	"github.com/mongodb/grip"
	"github.com/urfave/cli"
)

var (
	version = "dev"
)

func main() {
	grip.EmergencyFatal(buildApp().Run(os.Args))
}

func buildApp() *cli.App {
	app := cli.NewApp()
	app.Name = "hellopool"
	app.Usage = "fixed-size worker pool with two-phase shutdown"
	app.Version = version

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  configFlagName,
			Usage: "path to a YAML or JSON config file",
		},
		cli.StringFlag{
			Name:  envFileFlagName,
			Usage: "path to a .env file with HELLOPOOL_* overrides",
		},
		cli.StringFlag{
			Name:  logLevelFlagName,
			Usage: "log threshold (debug, info, warning, error, ...)",
		},
	}

	app.Commands = []cli.Command{
		runCommand(),
		serveCommand(),
		presetsCommand(),
	}

	return app
}
