package solana

import (
	"errors"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
)

var (
	// ErrBlockHeightExceeded means the blockhash expired before the
	// transaction reached the requested commitment.
	ErrBlockHeightExceeded = errors.New("block height exceeded")
	// ErrTransactionFailed means the transaction landed but failed on chain.
	ErrTransactionFailed = errors.New("transaction failed on chain")
)

// ChainStatus is a point-in-time view of the cluster.
type ChainStatus struct {
	Slot      uint64
	CheckedAt time.Time
}

// ParseCommitment maps a config string to a commitment level.
func ParseCommitment(s string) (rpc.CommitmentType, error) {
	switch rpc.CommitmentType(s) {
	case rpc.CommitmentProcessed, rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
		return rpc.CommitmentType(s), nil
	default:
		return "", errors.New("commitment must be processed, confirmed or finalized")
	}
}

func commitmentRank(c rpc.CommitmentType) int {
	switch c {
	case rpc.CommitmentProcessed:
		return 1
	case rpc.CommitmentConfirmed:
		return 2
	case rpc.CommitmentFinalized:
		return 3
	default:
		return 0
	}
}

func statusRank(s rpc.ConfirmationStatusType) int {
	switch s {
	case rpc.ConfirmationStatusProcessed:
		return 1
	case rpc.ConfirmationStatusConfirmed:
		return 2
	case rpc.ConfirmationStatusFinalized:
		return 3
	default:
		return 0
	}
}

// reached reports whether status satisfies the requested commitment.
func reached(status rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	r := statusRank(status)
	return r > 0 && r >= commitmentRank(want)
}
