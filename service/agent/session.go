package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/brojonat/pathos/client"
	"github.com/brojonat/pathos/service/intent"
	"github.com/brojonat/pathos/service/metrics"
	natspkg "github.com/brojonat/pathos/service/nats"
	"github.com/brojonat/pathos/service/wallet"
	"github.com/google/uuid"
)

const (
	greetingMessage = "Hello! I'm Pathos, your Solana AI assistant. I can help with Solana blockchain operations like checking balances and making transfers. To get started, simply ask me to connect your wallet. What would you like to do today?"

	notInstalledMessage = "I notice you don't have a wallet installed. You'll need it to perform Solana transfers. Would you like to know how to install it?"
)

// Relay sends the conversation to the language model.
type Relay interface {
	Complete(ctx context.Context, messages []client.Message, system string) (string, error)
}

// SessionConfig holds a session's collaborators.
type SessionConfig struct {
	Manager   *wallet.Manager
	Transfers *wallet.TransferEngine
	Chain     Chain
	Relay     Relay

	// Recorder is optional.
	Recorder *Recorder
	// Out receives assistant and system lines. Defaults to io.Discard.
	Out io.Writer

	SlotPollInterval  time.Duration
	ReconcileInterval time.Duration

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Session is one conversation between a user and the agent. Turns are
// serialised; the background pollers run alongside them.
type Session struct {
	id         uuid.UUID
	manager    *wallet.Manager
	transfers  *wallet.TransferEngine
	relay      Relay
	recorder   *Recorder
	transcript *Transcript
	tracker    *ChainTracker
	dispatcher *Dispatcher
	pollers    *Pollers
	metrics    *metrics.Metrics
	logger     *slog.Logger

	turnMu sync.Mutex
	outMu  sync.Mutex
	out    io.Writer

	slotEvery      time.Duration
	reconcileEvery time.Duration

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewSession wires a session. Call Start before the first Turn.
func NewSession(cfg SessionConfig) *Session {
	out := cfg.Out
	if out == nil {
		out = io.Discard
	}
	s := &Session{
		id:         uuid.New(),
		manager:    cfg.Manager,
		transfers:  cfg.Transfers,
		relay:      cfg.Relay,
		recorder:   cfg.Recorder,
		transcript: NewTranscript(),
		tracker:    NewChainTracker(cfg.Chain, cfg.Logger),
		metrics:    cfg.Metrics,
		out:        out,

		slotEvery:      cfg.SlotPollInterval,
		reconcileEvery: cfg.ReconcileInterval,
	}
	s.logger = cfg.Logger.With("session_id", s.id.String())
	s.dispatcher = NewDispatcher(cfg.Manager, cfg.Transfers, cfg.Chain, s.tracker, cfg.Metrics, s.logger,
		WithProgress(func(ctx context.Context, msg string) {
			s.say(ctx, RoleAssistant, msg, "")
		}),
	)
	return s
}

// ID returns the session id used for persistence and events.
func (s *Session) ID() uuid.UUID { return s.id }

// Transcript returns the session's conversation.
func (s *Session) Transcript() *Transcript { return s.transcript }

// Chain returns the session's cached chain status.
func (s *Session) Chain() *ChainTracker { return s.tracker }

// Start greets the user, adopts an existing wallet connection and starts
// the background pollers.
func (s *Session) Start(ctx context.Context) error {
	s.say(ctx, RoleAssistant, greetingMessage, "")

	if !s.manager.IsInstalled() {
		s.say(ctx, RoleAssistant, notInstalledMessage, "")
	} else {
		s.manager.Attach()
		if s.manager.ProviderConnected() {
			s.runAction(ctx, intent.ConnectWallet{})
		}
	}

	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	pollers, err := NewPollers(pollCtx, s.tracker, s.manager, s.slotEvery, s.reconcileEvery, s.metrics, s.logger)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to start pollers: %w", err)
	}
	s.cancel = cancel
	s.pollers = pollers
	s.pollers.Start()

	s.logger.InfoContext(ctx, "session started", "wallet_installed", s.manager.IsInstalled())
	return nil
}

// Turn handles one line of user input: the model is asked for a reply,
// any action tag is extracted and, unless the reply already covers it,
// dispatched. A relay failure is reported in the transcript and returned.
func (s *Session) Turn(ctx context.Context, input string) error {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil
	}

	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	s.say(ctx, RoleUser, input, "")

	system, err := BuildSystemPrompt(s.manager.State(), s.tracker.Snapshot())
	if err != nil {
		return err
	}

	reply, err := s.relay.Complete(ctx, s.transcript.RelayMessages(), system)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to get model reply", "error", err)
		s.say(ctx, RoleAssistant, RelayErrorMessage(err), "")
		return err
	}

	extraction := intent.Extract(reply)
	action := extraction.Action
	necessary := intent.IsNecessary(extraction.Text, action)
	if action != nil && s.metrics != nil {
		s.metrics.RecordActionExtracted(action.Name())
		if !necessary {
			s.metrics.RecordActionSuppressed(action.Name())
		}
	}
	if action != nil && !necessary {
		s.logger.DebugContext(ctx, "skipping redundant action", "action", action.Name())
	}

	dispatched := ""
	if action != nil && necessary {
		dispatched = action.Name()
	}
	s.say(ctx, RoleAssistant, extraction.Text, dispatched)

	if dispatched != "" {
		s.runAction(ctx, action)
	}
	return nil
}

func (s *Session) runAction(ctx context.Context, action intent.Action) {
	outcome := s.dispatcher.Dispatch(ctx, action)
	s.say(ctx, RoleAssistant, outcome.Message, "")

	if outcome.Err != nil || outcome.Message == "" {
		return
	}
	switch action.(type) {
	case intent.ConnectWallet:
		st := s.manager.State()
		if st.PublicKey != nil {
			s.recorder.WalletEvent(ctx, s.id, natspkg.WalletConnected, st.PublicKey.String(), outcome.Message)
		}
	case intent.DisconnectWallet:
		s.recorder.WalletEvent(ctx, s.id, natspkg.WalletDisconnected, "", outcome.Message)
	case intent.TransferSol:
		s.recorder.Transfer(ctx, s.id, outcome.Transfer, s.transfers.Fees())
	}
}

// Notify receives wallet notifications raised outside a user turn.
func (s *Session) Notify(ctx context.Context, n wallet.Notification) {
	s.say(ctx, RoleSystem, n.Message, "")

	kind := natspkg.WalletDesync
	if n.Kind == wallet.NotificationAccountChanged {
		kind = natspkg.WalletAccountSwap
	}
	address := ""
	if n.PublicKey != nil {
		address = n.PublicKey.String()
	}
	s.recorder.WalletEvent(ctx, s.id, kind, address, n.Message)
}

// Close stops the pollers and disconnects a connected wallet. It is safe
// to call more than once.
func (s *Session) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		if s.pollers != nil {
			if err := s.pollers.Stop(); err != nil {
				s.logger.WarnContext(ctx, "failed to stop pollers", "error", err)
			}
		}
		if s.cancel != nil {
			s.cancel()
		}

		if s.manager.State().Connected || s.manager.ProviderConnected() {
			if err := s.manager.Disconnect(ctx); err != nil {
				s.logger.ErrorContext(ctx, "error disconnecting wallet during cleanup", "error", err)
			}
		}
		s.manager.Close()
		s.logger.InfoContext(ctx, "session closed", "messages", s.transcript.Len())
	})
}

// say appends a line to the transcript, prints it and stores it. Empty
// lines are dropped.
func (s *Session) say(ctx context.Context, role, content, action string) {
	if content == "" {
		return
	}
	entry := s.transcript.Append(role, content, action)

	if role != RoleUser {
		s.outMu.Lock()
		prefix := "pathos> "
		if role == RoleSystem {
			prefix = "* "
		}
		fmt.Fprintf(s.out, "%s%s\n\n", prefix, content)
		s.outMu.Unlock()
	}

	s.recorder.Message(ctx, s.id, entry)
}
