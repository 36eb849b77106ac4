package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/m-zajac/semcache/internal/logging"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	logging.Init()

	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	return 0
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "semcache",
		Usage: "semantic cache playground",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config file",
				Sources: cli.EnvVars("SEMCACHE_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "store both cache levels in redis at this address",
				Sources: cli.EnvVars("SEMCACHE_REDIS_ADDR"),
			},
			&cli.StringFlag{
				Name:    "ollama-url",
				Usage:   "normalize queries with an Ollama or LM Studio server",
				Sources: cli.EnvVars("OLLAMA_HOST"),
			},
			&cli.StringFlag{
				Name:  "model",
				Usage: "model used for normalization",
			},
			&cli.StringFlag{
				Name:  "metrics",
				Usage: "metrics exporter: stdout or none",
				Value: "none",
			},
		},
		Commands: []*cli.Command{
			normalizeCommand(),
			lookupCommand(),
		},
	}
}
