package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/brojonat/pathos/client"
	"github.com/brojonat/pathos/service/agent"
	"github.com/brojonat/pathos/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

const userPrompt = "you> "

func chatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Start a conversation with the assistant",
		Description: `Opens an interactive session. Ask the assistant to connect your wallet,
check your balance, send SOL or report the current slot.

Transfers are always shown for approval before signing unless --yes is set.
Type "exit" or press Ctrl-D to leave.

Example:
  pathos chat --keypair ~/.config/solana/devnet.json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "yes",
				Usage: "Approve every signature request without asking",
			},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			lines := readLines(os.Stdin)
			approver := promptApprover(lines, os.Stdout)
			if c.Bool("yes") {
				approver = wallet.AutoApprove
			}

			rt, err := newRuntime(c, approver, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			notifier := &sessionNotifier{}
			manager := rt.newManager(notifier)
			relay := client.NewClient(rt.cfg.RelayURL, &http.Client{Timeout: rt.cfg.RelayTimeout}, rt.logger).
				WithMetrics(rt.metrics)

			session := agent.NewSession(agent.SessionConfig{
				Manager:           manager,
				Transfers:         rt.newTransferEngine(manager),
				Chain:             rt.chain,
				Relay:             relay,
				Recorder:          rt.newRecorder(),
				Out:               os.Stdout,
				SlotPollInterval:  rt.cfg.SlotPollInterval,
				ReconcileInterval: rt.cfg.ReconcileInterval,
				Metrics:           rt.metrics,
				Logger:            rt.logger,
			})
			notifier.session.Store(session)
			defer session.Close(context.Background())

			if err := session.Start(ctx); err != nil {
				return err
			}

			return runREPL(ctx, session, lines, os.Stdout)
		},
	}
}

// turnTaker is the part of a session the REPL drives.
type turnTaker interface {
	Turn(ctx context.Context, input string) error
}

// runREPL feeds user lines to the session until EOF, "exit" or ctx is done.
// Turn errors are already reported in the conversation, so they do not end
// the loop.
func runREPL(ctx context.Context, session turnTaker, lines <-chan string, out io.Writer) error {
	for {
		fmt.Fprint(out, userPrompt)
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "exit", "quit":
				return nil
			}
			fmt.Fprintln(out)
			_ = session.Turn(ctx, line)
		}
	}
}

// readLines streams stdin lines so both the REPL and the approver can wait
// on them alongside ctx.
func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			ch <- scanner.Text()
		}
	}()
	return ch
}

// promptApprover asks on out before every signature. Anything but y or yes
// declines.
func promptApprover(lines <-chan string, out io.Writer) wallet.Approver {
	return func(ctx context.Context, tx *solanago.Transaction) (bool, error) {
		fmt.Fprintf(out, "\nSignature request: %d instruction(s)", len(tx.Message.Instructions))
		if payer := feePayer(tx); payer != "" {
			fmt.Fprintf(out, " paid by %s", payer)
		}
		fmt.Fprint(out, "\nApprove? [y/N] ")

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return false, nil
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "y", "yes":
				return true, nil
			default:
				return false, nil
			}
		}
	}
}

func feePayer(tx *solanago.Transaction) string {
	if len(tx.Message.AccountKeys) == 0 {
		return ""
	}
	return tx.Message.AccountKeys[0].String()
}

// sessionNotifier forwards manager notifications to the session created
// after the manager.
type sessionNotifier struct {
	session atomic.Pointer[agent.Session]
}

func (n *sessionNotifier) Notify(ctx context.Context, note wallet.Notification) {
	if s := n.session.Load(); s != nil {
		s.Notify(ctx, note)
	}
}
