package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/pathos/service/metrics"
	"github.com/gagliardetto/solana-go"
)

// Status is the connection state machine of a Manager.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusStale        Status = "stale"
)

// State is the session's view of the wallet. Connected == false implies
// PublicKey == nil.
type State struct {
	Connected       bool
	PublicKey       *solana.PublicKey
	BalanceLamports *uint64
	LastChecked     time.Time
	Status          Status
}

// BalanceSol returns the cached balance in SOL, if any.
func (s State) BalanceSol() (float64, bool) {
	if s.BalanceLamports == nil {
		return 0, false
	}
	return LamportsToSol(*s.BalanceLamports), true
}

func (s State) clone() State {
	out := s
	if s.PublicKey != nil {
		pk := *s.PublicKey
		out.PublicKey = &pk
	}
	if s.BalanceLamports != nil {
		b := *s.BalanceLamports
		out.BalanceLamports = &b
	}
	return out
}

// NotificationKind classifies a message the manager raises for the transcript.
type NotificationKind string

const (
	NotificationDesync         NotificationKind = "desync"
	NotificationAccountChanged NotificationKind = "account_changed"
)

// Notification is raised when wallet state changes outside a user action.
type Notification struct {
	Kind      NotificationKind
	PublicKey *solana.PublicKey
	Message   string
	At        time.Time
}

// Notifier receives manager notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification)

func (f NotifierFunc) Notify(ctx context.Context, n Notification) { f(ctx, n) }

// Manager owns the wallet State and keeps it in line with the provider.
// Provider calls are never made while holding mu, since providers may emit
// events synchronously.
type Manager struct {
	provider  Provider
	chain     Chain
	notifier  Notifier
	logger    *slog.Logger
	metrics   *metrics.Metrics
	retryOpts []RetryOption

	mu        sync.Mutex
	state     State
	disposers []func()
	wg        sync.WaitGroup
}

// NewManager creates a Manager. provider may be nil when no wallet is
// installed. If metrics is nil, no metrics will be recorded.
func NewManager(provider Provider, chain Chain, notifier Notifier, m *metrics.Metrics, logger *slog.Logger, opts ...RetryOption) *Manager {
	retryOpts := append([]RetryOption{
		WithRetryLogger(logger),
		WithRetryMetrics(m),
	}, opts...)
	return &Manager{
		provider:  provider,
		chain:     chain,
		notifier:  notifier,
		logger:    logger,
		metrics:   m,
		retryOpts: retryOpts,
		state:     State{Status: StatusDisconnected},
	}
}

// State returns a copy of the current wallet state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// IsInstalled reports whether a wallet provider is present.
func (m *Manager) IsInstalled() bool {
	return m.provider != nil && m.provider.IsWallet()
}

// ProviderConnected reports whether the provider currently holds a
// connection, whatever the local state says.
func (m *Manager) ProviderConnected() bool {
	return m.IsInstalled() && m.provider.IsConnected()
}

// Connect connects the provider and records its key. It is a no-op when the
// provider is already connected. A provider that still holds a key while
// reporting disconnected is reset before reconnecting.
func (m *Manager) Connect(ctx context.Context) (solana.PublicKey, error) {
	if !m.IsInstalled() {
		return solana.PublicKey{}, ErrWalletUnavailable
	}

	if m.provider.IsConnected() {
		if pk := m.provider.PublicKey(); pk != nil {
			m.setConnected(*pk)
			return *pk, nil
		}
	}

	if pk := m.provider.PublicKey(); pk != nil && !m.provider.IsConnected() {
		m.setStatus(StatusStale)
		m.logger.InfoContext(ctx, "provider holds a stale key, resetting connection",
			"public_key", pk.String(),
		)
		if err := m.provider.Disconnect(ctx); err != nil {
			m.logger.DebugContext(ctx, "ignoring disconnect error during reset", "error", err)
		}
	}

	m.setStatus(StatusConnecting)
	if err := m.provider.Connect(ctx); err != nil {
		m.setDisconnected()
		m.logger.ErrorContext(ctx, "failed to connect wallet", "error", err)
		return solana.PublicKey{}, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	pk := m.provider.PublicKey()
	if pk == nil {
		m.setDisconnected()
		return solana.PublicKey{}, fmt.Errorf("%w: provider returned no public key", ErrConnectFailed)
	}

	m.setConnected(*pk)
	m.logger.InfoContext(ctx, "wallet connected", "public_key", pk.String())
	if m.metrics != nil {
		m.metrics.RecordWalletEvent("connect")
	}
	return *pk, nil
}

// Disconnect disconnects the provider. State is only cleared on success.
func (m *Manager) Disconnect(ctx context.Context) error {
	if !m.IsInstalled() {
		return ErrWalletUnavailable
	}
	if err := m.provider.Disconnect(ctx); err != nil {
		m.logger.ErrorContext(ctx, "failed to disconnect wallet", "error", err)
		return fmt.Errorf("failed to disconnect wallet: %w", err)
	}
	m.setDisconnected()
	m.logger.InfoContext(ctx, "wallet disconnected")
	if m.metrics != nil {
		m.metrics.RecordWalletEvent("disconnect")
	}
	return nil
}

// Reconcile compares local state with the provider. A local connection the
// provider no longer has is forced to Disconnected and a single desync
// notification is raised. Reports whether a desync was healed.
func (m *Manager) Reconcile(ctx context.Context) bool {
	m.mu.Lock()
	local := m.state.Connected
	m.mu.Unlock()

	if !local || !m.IsInstalled() || m.provider.IsConnected() {
		return false
	}

	m.mu.Lock()
	if !m.state.Connected {
		// A concurrent user action already settled the state.
		m.mu.Unlock()
		return false
	}
	previous := m.state.PublicKey
	m.state = State{Status: StatusDisconnected, LastChecked: time.Now()}
	m.mu.Unlock()

	m.logger.WarnContext(ctx, "wallet disconnected outside the session", "public_key", keyString(previous))
	if m.metrics != nil {
		m.metrics.RecordDesync()
	}
	m.notify(ctx, Notification{
		Kind:      NotificationDesync,
		PublicKey: previous,
		Message:   "Your wallet was disconnected. Please reconnect to continue.",
		At:        time.Now(),
	})
	return true
}

// Attach subscribes to provider lifecycle events. Calling it again while
// attached does nothing.
func (m *Manager) Attach() {
	if !m.IsInstalled() {
		return
	}
	m.mu.Lock()
	attached := len(m.disposers) > 0
	m.mu.Unlock()
	if attached {
		return
	}

	disposers := []func(){
		m.provider.Subscribe(EventConnect, m.onConnect),
		m.provider.Subscribe(EventDisconnect, m.onDisconnect),
		m.provider.Subscribe(EventAccountChanged, m.onAccountChanged),
	}

	m.mu.Lock()
	m.disposers = disposers
	m.mu.Unlock()
}

// Close releases every subscription exactly once and waits for pending
// balance refreshes.
func (m *Manager) Close() {
	m.mu.Lock()
	disposers := m.disposers
	m.disposers = nil
	m.mu.Unlock()

	for _, dispose := range disposers {
		dispose()
	}
	m.wg.Wait()
}

func (m *Manager) onConnect(pk *solana.PublicKey) {
	if pk == nil {
		return
	}
	m.setConnected(*pk)
	m.logger.Debug("provider connect event", "public_key", pk.String())
	if m.metrics != nil {
		m.metrics.RecordWalletEvent("provider_connect")
	}
}

func (m *Manager) onDisconnect(*solana.PublicKey) {
	m.setDisconnected()
	m.logger.Debug("provider disconnect event")
	if m.metrics != nil {
		m.metrics.RecordWalletEvent("provider_disconnect")
	}
}

func (m *Manager) onAccountChanged(pk *solana.PublicKey) {
	if m.metrics != nil {
		m.metrics.RecordWalletEvent("account_changed")
	}
	if pk == nil {
		m.setDisconnected()
		m.logger.Info("wallet account removed")
		return
	}

	m.setConnected(*pk)
	m.logger.Info("wallet account changed", "public_key", pk.String())
	m.notify(context.Background(), Notification{
		Kind:      NotificationAccountChanged,
		PublicKey: pk,
		Message:   fmt.Sprintf("Wallet account changed to %s.", FormatAddress(pk.String())),
		At:        time.Now(),
	})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := m.GetBalance(ctx); err != nil {
			m.logger.Warn("failed to refresh balance after account change", "error", err)
		}
	}()
}

// GetBalance returns the connected wallet's balance in SOL and caches it.
// A disconnected wallet gets one connect attempt first.
func (m *Manager) GetBalance(ctx context.Context) (float64, error) {
	return Retry(ctx, func(ctx context.Context) (float64, error) {
		pk, err := m.connectedKey(ctx)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrBalanceUnavailable, err)
		}

		lamports, err := m.chain.GetBalance(ctx, pk)
		if err != nil {
			return 0, rpcFailure("get balance", err)
		}

		m.mu.Lock()
		if m.state.PublicKey != nil && m.state.PublicKey.Equals(pk) {
			m.state.BalanceLamports = &lamports
			m.state.LastChecked = time.Now()
		}
		m.mu.Unlock()

		if m.metrics != nil {
			m.metrics.RecordBalance(lamports)
		}
		return LamportsToSol(lamports), nil
	}, m.retryOptions("get_balance")...)
}

func (m *Manager) retryOptions(operation string) []RetryOption {
	opts := make([]RetryOption, 0, len(m.retryOpts)+1)
	opts = append(opts, m.retryOpts...)
	return append(opts, WithOperation(operation))
}

// EnsureConnected returns the connected key, making one reconnect attempt
// when needed.
func (m *Manager) EnsureConnected(ctx context.Context) (solana.PublicKey, error) {
	pk, err := m.connectedKey(ctx)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	return pk, nil
}

// ForceDisconnected resets local state after the wallet dropped mid-operation.
func (m *Manager) ForceDisconnected(ctx context.Context, reason string) {
	m.setDisconnected()
	m.logger.WarnContext(ctx, "forcing wallet state to disconnected", "reason", reason)
	if m.metrics != nil {
		m.metrics.RecordWalletEvent("connection_lost")
	}
}

func (m *Manager) connectedKey(ctx context.Context) (solana.PublicKey, error) {
	if !m.IsInstalled() {
		return solana.PublicKey{}, ErrWalletUnavailable
	}

	m.mu.Lock()
	local := m.state.Connected
	m.mu.Unlock()

	if !local || !m.provider.IsConnected() {
		if _, err := m.Connect(ctx); err != nil {
			return solana.PublicKey{}, err
		}
		if !m.provider.IsConnected() {
			return solana.PublicKey{}, fmt.Errorf("failed to reconnect wallet automatically")
		}
	}

	pk := m.provider.PublicKey()
	if pk == nil {
		return solana.PublicKey{}, fmt.Errorf("public key not available")
	}
	return *pk, nil
}

func (m *Manager) setConnected(pk solana.PublicKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.PublicKey == nil || !m.state.PublicKey.Equals(pk) {
		m.state.BalanceLamports = nil
	}
	m.state.Connected = true
	m.state.PublicKey = &pk
	m.state.Status = StatusConnected
	m.state.LastChecked = time.Now()
}

func (m *Manager) setDisconnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = State{Status: StatusDisconnected, LastChecked: time.Now()}
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Status = s
}

func (m *Manager) notify(ctx context.Context, n Notification) {
	if m.notifier != nil {
		m.notifier.Notify(ctx, n)
	}
}

func keyString(pk *solana.PublicKey) string {
	if pk == nil {
		return ""
	}
	return pk.String()
}
