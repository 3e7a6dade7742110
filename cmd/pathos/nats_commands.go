package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	natspkg "github.com/brojonat/pathos/service/nats"
	"github.com/brojonat/pathos/service/wallet"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

const defaultNATSURL = "nats://localhost:4222"

func natsURL(c *cli.Context) string {
	if u := c.String("nats-url"); u != "" {
		return u
	}
	return defaultNATSURL
}

// subscribeCommand streams wallet and transfer events from JetStream.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to wallet and transfer events",
		ArgsUsage: "[wallet_address]",
		Description: `Subscribe to events published to NATS JetStream.

Without an address every wallet.* and transfer.* event is shown. With an
address only transfers sent from that wallet are shown (subject
transfer.confirmed.{address}).

Example:
  pathos nats subscribe 7VfiZzdzFA9E6SvXfCLbe8EMWCMW1ycmVstgo42WYo4g --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "pathos-cli",
			},
		},
		Action: func(c *cli.Context) error {
			subjects := natspkg.StreamSubjects
			if c.NArg() > 0 {
				pk, err := wallet.ParseAddress(c.Args().First())
				if err != nil {
					return err
				}
				subjects = []string{natspkg.TransferSubject(pk.String())}
			}

			return streamEvents(natsURL(c), subjects, c.Bool("durable"), c.String("consumer-name"), c.Bool("json"))
		},
	}
}

// streamEvents connects to NATS and prints events until interrupted.
func streamEvents(url string, subjects []string, durable bool, consumerName string, jsonOutput bool) error {
	nc, err := nats.Connect(url)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if !jsonOutput {
		fmt.Printf("📡 Subscribing to: %s\n", strings.Join(subjects, ", "))
		fmt.Printf("   NATS: %s\n", url)
		if durable {
			fmt.Printf("   Consumer: %s (durable)\n", consumerName)
		}
		fmt.Printf("\nWaiting for events... (Ctrl-C to exit)\n\n")
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubjects: subjects,
		AckPolicy:      jetstream.AckExplicitPolicy,
	}
	if durable {
		consumerConfig.Durable = consumerName
		consumerConfig.Name = consumerName
	}

	cons, err := js.CreateOrUpdateConsumer(context.Background(), natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	msgChan := make(chan jetstream.Msg, 10)
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer cc.Stop()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			count++
			if jsonOutput {
				fmt.Println(string(msg.Data()))
			} else if err := printEvent(msg.Subject(), msg.Data()); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
			}
			msg.Ack()

		case <-sigChan:
			if !jsonOutput {
				fmt.Printf("\n\n✅ Received %d events\n", count)
				fmt.Println("Shutting down...")
			}
			return nil
		}
	}
}

// printEvent renders a wallet or transfer event for humans.
func printEvent(subject string, data []byte) error {
	kind, _, _ := strings.Cut(subject, ".")
	switch kind {
	case "transfer":
		var event natspkg.TransferEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return err
		}
		printTransferEvent(event)
	case "wallet":
		var event natspkg.WalletEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return err
		}
		printWalletEvent(event)
	default:
		fmt.Printf("%s: %s\n", subject, data)
	}
	return nil
}

func printTransferEvent(e natspkg.TransferEvent) {
	fmt.Printf("─────────────────────────────────────────────────────\n")
	fmt.Printf("Transfer %s\n", e.Signature)
	fmt.Printf("─────────────────────────────────────────────────────\n")
	fmt.Printf("From:         %s\n", e.FromAddress)
	fmt.Printf("To:           %s\n", e.ToAddress)
	fmt.Printf("Amount:       %.9f SOL\n", lamportsToSol(e.RecipientLamports))
	if e.FeeCollector != nil {
		fmt.Printf("Fee:          %.9f SOL\n", lamportsToSol(e.FeeLamports))
	}
	fmt.Printf("Network:      %s\n", e.Network)
	fmt.Printf("Session:      %s\n", e.SessionID)
	fmt.Printf("Confirmed:    %s\n", e.ConfirmedAt.Format(time.RFC3339))
	fmt.Printf("\n")
}

func printWalletEvent(e natspkg.WalletEvent) {
	line := fmt.Sprintf("[%s] wallet %s (session %s)", e.Timestamp.Format(time.RFC3339), e.Kind, e.SessionID)
	if e.Address != "" {
		line += " " + e.Address
	}
	if e.Message != "" {
		line += ": " + e.Message
	}
	fmt.Println(line)
}

// inspectStreamCommand shows information about the NATS JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the PATHOS JetStream stream",
		Description: `Show information about the JetStream stream including:
- Message count
- Consumers
- Storage usage
- Stream configuration

Example:
  pathos nats inspect-stream`,
		Action: func(c *cli.Context) error {
			nc, err := nats.Connect(natsURL(c))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(c.Context, natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(info)
			}

			fmt.Printf("Stream: %s\n", info.Config.Name)
			fmt.Printf("─────────────────────────────────────────────────────\n")
			fmt.Printf("Description:  %s\n", info.Config.Description)
			fmt.Printf("Subjects:     %v\n", info.Config.Subjects)
			fmt.Printf("Messages:     %d\n", info.State.Msgs)
			fmt.Printf("Bytes:        %d\n", info.State.Bytes)
			fmt.Printf("First Seq:    %d\n", info.State.FirstSeq)
			fmt.Printf("Last Seq:     %d\n", info.State.LastSeq)
			fmt.Printf("Consumers:    %d\n", info.State.Consumers)
			fmt.Printf("Max Age:      %s\n", info.Config.MaxAge)
			fmt.Printf("Storage:      %s\n", info.Config.Storage)
			fmt.Printf("\n")
			return nil
		},
	}
}
