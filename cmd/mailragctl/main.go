package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/kailas-cloud/mailrag/internal/version"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "mailragctl",
		Usage:   "Seed, index and query a mailrag database without the HTTP server",
		Version: version.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a config file (default: config/<env>.yaml)",
			},
			&cli.StringFlag{
				Name:    "env",
				Usage:   "Environment name used to locate the config and pick the log format",
				EnvVars: []string{"ENV"},
				Value:   "local",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Override the configured log level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "seed",
				Usage:  "Load processed messages from a JSON file into the document store",
				Action: seedCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "JSON array of documents",
						Required: true,
					},
				},
			},
			{
				Name:   "build",
				Usage:  "Build the vector index (a fresh process always builds from scratch)",
				Action: buildCommand,
			},
			{
				Name:      "query",
				Usage:     "Run a natural-language query and print the matching documents",
				ArgsUsage: "<query text>",
				Action:    queryCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "as-of",
						Usage: "Reference date for relative expressions (YYYY-MM-DD or RFC3339)",
					},
				},
			},
			{
				Name:   "history",
				Usage:  "Print recent query executions",
				Action: historyCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Number of entries to print",
						Value: 20,
					},
				},
			},
			{
				Name:   "index-status",
				Usage:  "Print the vector index state",
				Action: indexStatusCommand,
			},
		},
	}
}
