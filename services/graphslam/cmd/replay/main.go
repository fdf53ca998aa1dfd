// Package main replays a recorded dataset through graph SLAM node and edge registration.
package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

const (
	flagConfig   = "config"
	flagDataset  = "dataset"
	flagSnapshot = "snapshot"
	flagDebug    = "debug"
	flagRunID    = "run-id"
	flagLogFile  = "log-file"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "replay",
		Usage: "replay recorded datasets through graph slam edge registration",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagLogFile,
				Usage: "also write JSON logs to the rotated log `FILE`",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "build a pose graph from a dataset and report its edges",
				UsageText: "replay run --config <config.json> [--dataset <events.jsonl>] [--snapshot <graph.db>]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     flagConfig,
						Aliases:  []string{"c"},
						Required: true,
						Usage:    "load configuration from `FILE`",
					},
					&cli.StringFlag{
						Name:  flagDataset,
						Usage: "dataset `FILE`, overriding the config",
					},
					&cli.StringFlag{
						Name:  flagSnapshot,
						Usage: "save the final graph to the sqlite database `FILE`",
					},
				},
				Action: runAction,
			},
			{
				Name:      "show",
				Usage:     "list saved runs or print one of them",
				UsageText: "replay show --snapshot <graph.db> [--run-id <id>]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     flagSnapshot,
						Required: true,
						Usage:    "sqlite database `FILE`",
					},
					&cli.StringFlag{
						Name:  flagRunID,
						Usage: "run to print; all runs are listed when unset",
					},
				},
				Action: showAction,
			},
		},
	}
}
