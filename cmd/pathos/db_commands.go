package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/pathos/service/db"
	"github.com/brojonat/pathos/service/wallet"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

var jqFlag = &cli.StringSliceFlag{
	Name:  "jq",
	Usage: "jq filter expression that must evaluate to true (can be specified multiple times, all must match)",
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create the receipts and messages tables",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := store.Migrate(c.Context); err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, "schema applied")
			return nil
		},
	}
}

func listSessionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "List recent chat sessions",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of sessions",
				Value:   20,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			sessions, err := store.ListSessions(c.Context, int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(sessions)
			}
			for _, id := range sessions {
				fmt.Println(id)
			}
			fmt.Fprintf(os.Stderr, "\nTotal: %d sessions\n", len(sessions))
			return nil
		},
	}
}

func listMessagesCommand() *cli.Command {
	return &cli.Command{
		Name:      "messages",
		Usage:     "Show the transcript of a session",
		ArgsUsage: "<session_id>",
		Flags:     []cli.Flag{jqFlag},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: session id")
			}
			sessionID, err := uuid.Parse(c.Args().First())
			if err != nil {
				return fmt.Errorf("invalid session id: %w", err)
			}
			filters, err := compileJQ(c.StringSlice("jq"))
			if err != nil {
				return err
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			messages, err := store.ListMessages(c.Context, sessionID)
			if err != nil {
				return fmt.Errorf("failed to list messages: %w", err)
			}
			messages, err = filterJQ(messages, filters)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(messages)
			}
			for _, m := range messages {
				printMessage(m)
			}
			return nil
		},
	}
}

func listReceiptsCommand() *cli.Command {
	return &cli.Command{
		Name:      "receipts",
		Usage:     "List transfer receipts sent from a wallet",
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of receipts",
				Value:   50,
			},
			jqFlag,
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}
			address, err := wallet.ParseAddress(c.Args().First())
			if err != nil {
				return err
			}
			filters, err := compileJQ(c.StringSlice("jq"))
			if err != nil {
				return err
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			receipts, err := store.ListReceiptsByWallet(c.Context, address.String(), int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to list receipts: %w", err)
			}
			receipts, err = filterJQ(receipts, filters)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(receipts)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SIGNATURE\tTO\tAMOUNT (SOL)\tFEE (SOL)\tCONFIRMED")
			for _, r := range receipts {
				fmt.Fprintf(w, "%s\t%s\t%.9f\t%.9f\t%s\n",
					r.Signature,
					wallet.FormatAddress(r.ToAddress),
					lamportsToSol(r.RecipientLamports),
					lamportsToSol(r.FeeLamports),
					r.ConfirmedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d receipts\n", len(receipts))
			return nil
		},
	}
}

func getReceiptCommand() *cli.Command {
	return &cli.Command{
		Name:      "receipt",
		Usage:     "Show a transfer receipt",
		ArgsUsage: "<signature>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction signature")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			r, err := store.GetReceipt(c.Context, c.Args().First())
			if errors.Is(err, db.ErrNotFound) {
				return fmt.Errorf("no receipt for signature %s", c.Args().First())
			}
			if err != nil {
				return fmt.Errorf("failed to get receipt: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(r)
			}
			printReceipt(r)
			return nil
		},
	}
}

func printMessage(m *db.Message) {
	action := ""
	if m.Action != nil {
		action = fmt.Sprintf(" [%s]", *m.Action)
	}
	fmt.Printf("%s %-9s%s %s\n", m.CreatedAt.Format(time.RFC3339), m.Role, action, m.Content)
}

func printReceipt(r *db.Receipt) {
	fmt.Printf("Signature:   %s\n", r.Signature)
	fmt.Printf("Session:     %s\n", r.SessionID)
	fmt.Printf("Network:     %s\n", r.Network)
	fmt.Printf("From:        %s\n", r.FromAddress)
	fmt.Printf("To:          %s\n", r.ToAddress)
	fmt.Printf("Amount:      %.9f SOL (%d lamports)\n", lamportsToSol(r.RecipientLamports), r.RecipientLamports)
	if r.FeeCollector != nil {
		fmt.Printf("Fee:         %.9f SOL (%.2f%%) to %s\n", lamportsToSol(r.FeeLamports), r.FeePercentage, *r.FeeCollector)
	} else {
		fmt.Printf("Fee:         (none)\n")
	}
	fmt.Printf("Total:       %.9f SOL\n", lamportsToSol(r.TotalLamports))
	fmt.Printf("Confirmed:   %s\n", r.ConfirmedAt.Format(time.RFC3339))
}

func lamportsToSol(lamports int64) float64 {
	return float64(lamports) / 1e9
}

// Helper function to connect to database
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool, nil)
	closer := func() { pool.Close() }

	return store, closer, nil
}

// Helper function to output JSON
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
