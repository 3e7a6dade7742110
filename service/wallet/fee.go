package wallet

import (
	"fmt"
	"math"
	"math/big"
	"strconv"

	"github.com/gagliardetto/solana-go"
)

// DefaultFeeCollector receives the service fee leg of a transfer.
const DefaultFeeCollector = "7VfiZzdzFA9E6SvXfCLbe8EMWCMW1ycmVstgo42WYo4g"

// FeeConfig is the service fee policy applied to transfers.
type FeeConfig struct {
	Percentage       float64
	CollectorAddress solana.PublicKey
	MinFeeLamports   uint64
	MaxFeeLamports   uint64
}

// DefaultFeeConfig is 2.5% bounded to [0.001, 0.1] SOL.
func DefaultFeeConfig() FeeConfig {
	return FeeConfig{
		Percentage:       2.5,
		CollectorAddress: solana.MustPublicKeyFromBase58(DefaultFeeCollector),
		MinFeeLamports:   solana.LAMPORTS_PER_SOL / 1000,
		MaxFeeLamports:   solana.LAMPORTS_PER_SOL / 10,
	}
}

// Validate checks the fee policy for internal consistency.
func (c FeeConfig) Validate() error {
	var errs []error
	if math.IsNaN(c.Percentage) || c.Percentage < 0 || c.Percentage > 100 {
		errs = append(errs, fmt.Errorf("fee percentage must be between 0 and 100, got %v", c.Percentage))
	}
	if c.MinFeeLamports > c.MaxFeeLamports {
		errs = append(errs, fmt.Errorf("minimum fee (%d) cannot exceed maximum fee (%d)", c.MinFeeLamports, c.MaxFeeLamports))
	}
	if c.CollectorAddress == (solana.PublicKey{}) {
		errs = append(errs, fmt.Errorf("fee collector address is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid fee config: %v", errs)
	}
	return nil
}

// FeeQuote splits a transfer into the recipient leg and the service fee.
// RecipientLamports + FeeLamports always equals TotalLamports.
type FeeQuote struct {
	Percentage        float64
	FeeLamports       uint64
	RecipientLamports uint64
	TotalLamports     uint64
}

func (q FeeQuote) FeeSol() float64       { return LamportsToSol(q.FeeLamports) }
func (q FeeQuote) RecipientSol() float64 { return LamportsToSol(q.RecipientLamports) }
func (q FeeQuote) TotalSol() float64     { return LamportsToSol(q.TotalLamports) }

// Quote converts amountSol to lamports and applies the fee policy.
func Quote(amountSol float64, cfg FeeConfig) (FeeQuote, error) {
	lamports, err := SolToLamports(amountSol)
	if err != nil {
		return FeeQuote{}, err
	}
	return QuoteLamports(lamports, cfg), nil
}

// QuoteLamports applies the fee policy to an amount already in lamports.
//
// fee = floor(lamports * percentage / 100), clamped to [min, max]. When the
// clamped fee would consume the whole amount it becomes floor(lamports / 2).
func QuoteLamports(lamports uint64, cfg FeeConfig) FeeQuote {
	fee := percentOf(lamports, cfg.Percentage)

	if fee < cfg.MinFeeLamports {
		fee = cfg.MinFeeLamports
	} else if fee > cfg.MaxFeeLamports {
		fee = cfg.MaxFeeLamports
	}
	if fee >= lamports {
		fee = lamports / 2
	}

	return FeeQuote{
		Percentage:        cfg.Percentage,
		FeeLamports:       fee,
		RecipientLamports: lamports - fee,
		TotalLamports:     lamports,
	}
}

// percentOf computes floor(lamports * pct / 100) exactly. The percentage is
// taken at its shortest decimal form, so 0.125 means 1/800 and not the
// nearest binary fraction.
func percentOf(lamports uint64, pct float64) uint64 {
	if math.IsNaN(pct) || pct <= 0 {
		return 0
	}
	rate, ok := new(big.Rat).SetString(strconv.FormatFloat(pct, 'f', -1, 64))
	if !ok {
		return 0
	}
	num := new(big.Int).Mul(new(big.Int).SetUint64(lamports), rate.Num())
	den := new(big.Int).Mul(rate.Denom(), big.NewInt(100))
	fee := num.Quo(num, den)
	if !fee.IsUint64() {
		return math.MaxUint64
	}
	return fee.Uint64()
}

// ZeroFeeQuote is the quote for a transfer that charges no service fee.
func ZeroFeeQuote(lamports uint64) FeeQuote {
	return FeeQuote{
		RecipientLamports: lamports,
		TotalLamports:     lamports,
	}
}

// SolToLamports converts a positive, finite SOL amount to lamports.
func SolToLamports(amountSol float64) (uint64, error) {
	if math.IsNaN(amountSol) || math.IsInf(amountSol, 0) || amountSol <= 0 {
		return 0, fmt.Errorf("%w: got %v", ErrInvalidAmount, amountSol)
	}
	lamports := math.Round(amountSol * float64(solana.LAMPORTS_PER_SOL))
	if lamports < 1 {
		return 0, fmt.Errorf("%w: %v SOL is less than one lamport", ErrInvalidAmount, amountSol)
	}
	if lamports >= math.MaxUint64 {
		return 0, fmt.Errorf("%w: %v SOL is out of range", ErrInvalidAmount, amountSol)
	}
	return uint64(lamports), nil
}

// LamportsToSol converts lamports to SOL.
func LamportsToSol(lamports uint64) float64 {
	return float64(lamports) / float64(solana.LAMPORTS_PER_SOL)
}
