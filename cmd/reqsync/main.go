package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

var Version = "dev"

func main() {
	var commands []*cli.Command
	commands = append(commands, TransferCmd()...)
	commands = append(commands, SyncCmd()...)

	app := &cli.App{
		Name:    "reqsync",
		Usage:   "Move requisition files between this host and the procurement SFTP endpoint.",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "JSON or YAML configuration file",
				EnvVars: []string{"REQSYNC_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "env-file",
				Usage:   "dotenv file overlaid before the process environment",
				EnvVars: []string{"REQSYNC_ENV_FILE"},
			},
		},
		Commands: commands,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "reqsync:", err)
		os.Exit(1)
	}
}
