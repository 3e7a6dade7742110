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
		Name:  "pathos",
		Usage: "Conversational Solana wallet assistant",
		Description: `Chat with an assistant that can connect a local keypair wallet, check
balances and send SOL on your behalf.

Every transfer is shown to you for approval before it is signed. The
remaining commands expose the same operations directly and let you inspect
stored transcripts, receipts and published events.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			chatCommand(),
			walletCommands(),
			{
				Name:  "chain",
				Usage: "Solana cluster commands",
				Subcommands: []*cli.Command{
					slotCommand(),
				},
			},
			{
				Name:  "history",
				Usage: "Stored transcript and receipt commands",
				Subcommands: []*cli.Command{
					listSessionsCommand(),
					listMessagesCommand(),
					listReceiptsCommand(),
					getReceiptCommand(),
				},
			},
			{
				Name:  "db",
				Usage: "Database management commands",
				Subcommands: []*cli.Command{
					migrateCommand(),
				},
			},
			{
				Name:  "nats",
				Usage: "NATS event streaming commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
					inspectStreamCommand(),
				},
			},
			sseCommands(),
			{
				Name:  "server",
				Usage: "Relay server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "Relay server URL",
				EnvVars: []string{"SERVER_URL"},
				Value:   "http://localhost:3001",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
			},
			&cli.StringFlag{
				Name:    "keypair",
				Aliases: []string{"k"},
				Usage:   "Path to a solana-keygen keypair file",
				EnvVars: []string{"WALLET_KEYPAIR_PATH"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "warn",
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "Serve Prometheus metrics on this address while the command runs (e.g. :9091)",
				EnvVars: []string{"METRICS_ADDR"},
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}
