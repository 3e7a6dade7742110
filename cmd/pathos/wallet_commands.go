package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/brojonat/pathos/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

func walletCommands() *cli.Command {
	return &cli.Command{
		Name:  "wallet",
		Usage: "Wallet commands",
		Subcommands: []*cli.Command{
			walletAddressCommand(),
			walletBalanceCommand(),
			walletTransferCommand(),
			walletRequestCommand(),
		},
	}
}

func walletAddressCommand() *cli.Command {
	return &cli.Command{
		Name:  "address",
		Usage: "Show the keypair's public address",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			provider, err := wallet.LoadKeypairProvider(cfg.WalletKeypairPath, nil)
			if err != nil {
				return err
			}
			pk := provider.Address()

			if c.Bool("json") {
				return outputJSON(map[string]string{"address": pk.String()})
			}
			fmt.Println(pk.String())
			return nil
		},
	}
}

func walletBalanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Show the SOL balance of an address (defaults to the keypair)",
		ArgsUsage: "[address]",
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c, nil, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			var account solanago.PublicKey
			if c.NArg() > 0 {
				account, err = wallet.ParseAddress(c.Args().First())
				if err != nil {
					return err
				}
			} else {
				if err := rt.requireProvider(); err != nil {
					return err
				}
				account = rt.provider.Address()
			}

			lamports, err := rt.chain.GetBalance(c.Context, account)
			if err != nil {
				return fmt.Errorf("failed to get balance: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]any{
					"address":  account.String(),
					"lamports": lamports,
					"sol":      wallet.LamportsToSol(lamports),
				})
			}
			fmt.Printf("Address: %s\n", account)
			fmt.Printf("Balance: %.9f SOL (%d lamports)\n", wallet.LamportsToSol(lamports), lamports)
			return nil
		},
	}
}

func walletTransferCommand() *cli.Command {
	return &cli.Command{
		Name:      "transfer",
		Usage:     "Send SOL from the keypair",
		ArgsUsage: "<recipient> <amount_sol>",
		Description: `Sends SOL to a recipient. The service fee is charged by default; use
--no-fee for a plain transfer. The fee and total are shown before anything
is signed.

Example:
  pathos wallet transfer 7VfiZzdzFA9E6SvXfCLbe8EMWCMW1ycmVstgo42WYo4g 0.25`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "no-fee",
				Usage: "Do not charge the service fee",
			},
			&cli.BoolFlag{
				Name:    "yes",
				Aliases: []string{"y"},
				Usage:   "Sign without asking for confirmation",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires exactly two arguments: recipient and amount")
			}
			recipient := c.Args().Get(0)
			amount, err := strconv.ParseFloat(c.Args().Get(1), 64)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", c.Args().Get(1), err)
			}
			chargeFee := !c.Bool("no-fee")

			approver := promptApprover(readLines(os.Stdin), os.Stdout)
			if c.Bool("yes") {
				approver = wallet.AutoApprove
			}

			rt, err := newRuntime(c, approver, true)
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.requireProvider(); err != nil {
				return err
			}

			quote := wallet.ZeroFeeQuote(0)
			if chargeFee {
				quote, err = wallet.Quote(amount, rt.fees)
			} else {
				var lamports uint64
				lamports, err = wallet.SolToLamports(amount)
				quote = wallet.ZeroFeeQuote(lamports)
			}
			if err != nil {
				return err
			}
			if !c.Bool("json") {
				fmt.Printf("Recipient receives: %.9f SOL\n", quote.RecipientSol())
				fmt.Printf("Service fee:        %.9f SOL\n", quote.FeeSol())
				fmt.Printf("Total:              %.9f SOL\n", quote.TotalSol())
			}

			manager := rt.newManager(nil)
			defer manager.Close()
			if _, err := manager.Connect(c.Context); err != nil {
				return err
			}
			defer manager.Disconnect(context.Background())

			engine := rt.newTransferEngine(manager)
			result, err := engine.Transfer(c.Context, recipient, amount, chargeFee)
			if err != nil {
				return err
			}

			rt.newRecorder().Transfer(c.Context, uuid.New(), result, engine.Fees())

			if c.Bool("json") {
				return outputJSON(map[string]any{
					"signature":          result.Signature,
					"from":               result.From.String(),
					"to":                 result.To.String(),
					"recipient_lamports": result.Fee.RecipientLamports,
					"fee_lamports":       result.Fee.FeeLamports,
					"total_lamports":     result.Fee.TotalLamports,
				})
			}
			fmt.Printf("\nTransfer confirmed\n")
			fmt.Printf("Signature: %s\n", result.Signature)
			return nil
		},
	}
}

func walletRequestCommand() *cli.Command {
	return &cli.Command{
		Name:      "request",
		Usage:     "Create a Solana Pay request for receiving SOL",
		ArgsUsage: "[recipient]",
		Description: `Builds a solana: payment URL and QR code. The recipient defaults to the
keypair's address.

Example:
  pathos wallet request --amount 0.1 --label "Coffee" --qr coffee.png`,
		Flags: []cli.Flag{
			&cli.Float64Flag{
				Name:    "amount",
				Aliases: []string{"a"},
				Usage:   "Requested amount in SOL (omit to let the payer choose)",
			},
			&cli.StringFlag{
				Name:  "label",
				Usage: "Label shown by the payer's wallet",
			},
			&cli.StringFlag{
				Name:  "message",
				Usage: "Message shown by the payer's wallet",
			},
			&cli.StringFlag{
				Name:  "memo",
				Usage: "Memo attached to the payment (generated when empty)",
			},
			&cli.StringFlag{
				Name:  "qr",
				Usage: "Write the QR code PNG to this file",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			recipient := c.Args().First()
			if recipient == "" {
				provider, err := wallet.LoadKeypairProvider(cfg.WalletKeypairPath, nil)
				if err != nil {
					return fmt.Errorf("recipient is required when no keypair is available: %w", err)
				}
				recipient = provider.Address().String()
			}

			req, err := wallet.NewPaymentRequest(wallet.PaymentRequestParams{
				Recipient: recipient,
				AmountSol: c.Float64("amount"),
				Label:     c.String("label"),
				Message:   c.String("message"),
				Memo:      c.String("memo"),
			}, cfg.SolanaNetwork)
			if err != nil {
				return err
			}

			if path := c.String("qr"); path != "" {
				png, err := wallet.QRCodePNG(req.PaymentURL)
				if err != nil {
					return err
				}
				if err := os.WriteFile(path, png, 0o644); err != nil {
					return fmt.Errorf("failed to write QR code: %w", err)
				}
			}

			if c.Bool("json") {
				return outputJSON(req)
			}
			fmt.Printf("Payment URL: %s\n", req.PaymentURL)
			fmt.Printf("Recipient:   %s\n", req.Recipient)
			if req.AmountLamports > 0 {
				fmt.Printf("Amount:      %.9f SOL\n", req.AmountSol)
			}
			fmt.Printf("Memo:        %s\n", req.Memo)
			if path := c.String("qr"); path != "" {
				fmt.Fprintf(os.Stderr, "QR code written to %s\n", path)
			}
			return nil
		},
	}
}
