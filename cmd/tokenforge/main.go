package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "tokenforge",
		Usage: "Solana token creation CLI",
		Description: `A command-line tool for creating SPL tokens and inspecting creations.

Local commands build, sign and submit creations directly against Solana RPC using
the same environment as the server. Remote commands go through a tokenforge server.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Local pipeline commands
			quoteCommand(),
			createCommand(),
			statusCommand(),
			// Commands against a running server (HTTP API)
			remoteCommands(),
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: globalFlags(),
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server-url",
			Usage:   "tokenforge server URL",
			EnvVars: []string{"SERVER_URL"},
			Value:   "http://localhost:8080",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			EnvVars: []string{"LOG_LEVEL"},
			Value:   "warn",
		},
		&cli.BoolFlag{
			Name:    "json",
			Aliases: []string{"j"},
			Usage:   "Output in JSON format",
		},
		&cli.StringFlag{
			Name:  "jq",
			Usage: "jq expression applied to the JSON output (implies --json)",
		},
	}
}
