package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/pathos/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// Chain is the read-only chain surface the agent needs.
type Chain interface {
	GetBalance(ctx context.Context, account solanago.PublicKey) (uint64, error)
	Status(ctx context.Context) (solana.ChainStatus, error)
}

// Connection states reported for the chain.
const (
	ChainChecking  = "checking"
	ChainConnected = "connected"
	ChainError     = "error"
)

// ChainSnapshot is the last known chain status.
type ChainSnapshot struct {
	Connection string
	Slot       uint64 // zero until the first successful check
	CheckedAt  time.Time
}

// ChainTracker caches the current slot for prompts and status replies.
type ChainTracker struct {
	chain  Chain
	logger *slog.Logger

	mu       sync.Mutex
	snapshot ChainSnapshot
}

func NewChainTracker(chain Chain, logger *slog.Logger) *ChainTracker {
	return &ChainTracker{
		chain:    chain,
		logger:   logger,
		snapshot: ChainSnapshot{Connection: ChainChecking},
	}
}

// Snapshot returns the last known status.
func (t *ChainTracker) Snapshot() ChainSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot
}

// Refresh queries the chain for the current slot. A failed check keeps the
// last known slot.
func (t *ChainTracker) Refresh(ctx context.Context) (uint64, error) {
	t.mu.Lock()
	t.snapshot.Connection = ChainChecking
	t.mu.Unlock()

	status, err := t.chain.Status(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.snapshot.Connection = ChainError
		t.logger.WarnContext(ctx, "failed to get current slot", "error", err)
		return 0, err
	}
	t.snapshot = ChainSnapshot{
		Connection: ChainConnected,
		Slot:       status.Slot,
		CheckedAt:  status.CheckedAt,
	}
	return status.Slot, nil
}
