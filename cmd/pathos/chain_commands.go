package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
)

func slotCommand() *cli.Command {
	return &cli.Command{
		Name:  "slot",
		Usage: "Show the current slot",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			chain, err := newChainClient(cfg, nil, setupLogger(cfg.LogLevel))
			if err != nil {
				return err
			}

			status, err := chain.Status(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get slot: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]any{
					"network":    cfg.SolanaNetwork,
					"slot":       status.Slot,
					"checked_at": status.CheckedAt.Format(time.RFC3339),
				})
			}
			fmt.Printf("Network: %s\n", cfg.SolanaNetwork)
			fmt.Printf("Slot:    %d\n", status.Slot)
			return nil
		},
	}
}
