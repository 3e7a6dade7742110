package wallet

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// Approver is asked before every signature. Returning false declines the
// request the way a user clicking "Reject" in a wallet would.
type Approver func(ctx context.Context, tx *solana.Transaction) (bool, error)

// AutoApprove signs everything.
func AutoApprove(context.Context, *solana.Transaction) (bool, error) { return true, nil }

// KeypairProvider is a local wallet backed by a solana-keygen keypair.
type KeypairProvider struct {
	mu        sync.Mutex
	key       solana.PrivateKey
	connected bool
	// holdsKey mirrors a browser wallet that remembers the last account
	// after an out-of-band disconnect.
	holdsKey bool
	approver Approver

	nextID   int
	handlers map[EventKind]map[int]EventHandler
}

// NewKeypairProvider creates a disconnected provider for key.
// A nil approver signs everything.
func NewKeypairProvider(key solana.PrivateKey, approver Approver) *KeypairProvider {
	if approver == nil {
		approver = AutoApprove
	}
	return &KeypairProvider{
		key:      key,
		approver: approver,
		handlers: make(map[EventKind]map[int]EventHandler),
	}
}

// LoadKeypairProvider reads a solana-keygen JSON keypair file. A leading ~
// is expanded to the home directory.
func LoadKeypairProvider(path string, approver Approver) (*KeypairProvider, error) {
	expanded, err := expandHome(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(expanded); err != nil {
		return nil, fmt.Errorf("failed to load keypair from %s: %w", expanded, err)
	}
	key, err := solana.PrivateKeyFromSolanaKeygenFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to load keypair from %s: %w", expanded, err)
	}
	return NewKeypairProvider(key, approver), nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

func (p *KeypairProvider) IsWallet() bool { return true }

func (p *KeypairProvider) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Address returns the keypair's public key whether or not it is connected.
func (p *KeypairProvider) Address() solana.PublicKey {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.key.PublicKey()
}

func (p *KeypairProvider) PublicKey() *solana.PublicKey {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected && !p.holdsKey {
		return nil
	}
	pk := p.key.PublicKey()
	return &pk
}

func (p *KeypairProvider) Connect(ctx context.Context) error {
	p.mu.Lock()
	p.connected = true
	p.holdsKey = false
	pk := p.key.PublicKey()
	p.mu.Unlock()

	p.emit(EventConnect, &pk)
	return nil
}

func (p *KeypairProvider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	p.connected = false
	p.holdsKey = false
	p.mu.Unlock()

	p.emit(EventDisconnect, nil)
	return nil
}

// Revoke drops the connection without notifying subscribers, leaving the
// key visible. It models a session revoked from the wallet's own UI.
func (p *KeypairProvider) Revoke() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected {
		p.connected = false
		p.holdsKey = true
	}
}

// SwitchAccount replaces the signing key and emits accountChanged.
func (p *KeypairProvider) SwitchAccount(key solana.PrivateKey) {
	p.mu.Lock()
	p.key = key
	connected := p.connected
	pk := key.PublicKey()
	p.mu.Unlock()

	if connected {
		p.emit(EventAccountChanged, &pk)
	} else {
		p.emit(EventAccountChanged, nil)
	}
}

func (p *KeypairProvider) SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error) {
	p.mu.Lock()
	connected := p.connected
	key := p.key
	approver := p.approver
	p.mu.Unlock()

	if !connected {
		return nil, &ProviderError{Code: 4900, Name: "WalletNotConnectedError", Message: "wallet disconnected"}
	}

	ok, err := approver(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to get signing approval: %w", err)
	}
	if !ok {
		return nil, NewUserRejectedError()
	}

	signer := key.PublicKey()
	_, err = tx.Sign(func(pk solana.PublicKey) *solana.PrivateKey {
		if pk.Equals(signer) {
			return &key
		}
		return nil
	})
	if err != nil {
		return nil, &ProviderError{Name: "WalletSignTransactionError", Message: err.Error()}
	}
	return tx, nil
}

func (p *KeypairProvider) Subscribe(kind EventKind, handler EventHandler) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	if p.handlers[kind] == nil {
		p.handlers[kind] = make(map[int]EventHandler)
	}
	p.handlers[kind][id] = handler

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.handlers[kind], id)
	}
}

// SubscriberCount returns the number of live handlers for kind.
func (p *KeypairProvider) SubscriberCount(kind EventKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handlers[kind])
}

// emit calls handlers outside the lock so they may call back into p.
func (p *KeypairProvider) emit(kind EventKind, pk *solana.PublicKey) {
	p.mu.Lock()
	handlers := make([]EventHandler, 0, len(p.handlers[kind]))
	for _, h := range p.handlers[kind] {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()

	for _, h := range handlers {
		h(pk)
	}
}
