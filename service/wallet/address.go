package wallet

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

const (
	minAddressLength = 32
	maxAddressLength = 44
)

// ParseAddress validates a base58 account address. The string must be
// 32 to 44 characters long and decode to exactly 32 bytes.
func ParseAddress(s string) (solana.PublicKey, error) {
	if len(s) < minAddressLength || len(s) > maxAddressLength {
		return solana.PublicKey{}, fmt.Errorf("%w: %q has length %d", ErrInvalidAddress, s, len(s))
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %q is not base58", ErrInvalidAddress, s)
	}
	if len(raw) != solana.PublicKeyLength {
		return solana.PublicKey{}, fmt.Errorf("%w: %q decodes to %d bytes", ErrInvalidAddress, s, len(raw))
	}
	return solana.PublicKeyFromBytes(raw), nil
}

// IsValidAddress reports whether s parses as an address.
func IsValidAddress(s string) bool {
	_, err := ParseAddress(s)
	return err == nil
}

// FormatAddress shortens an address to its first and last four characters.
func FormatAddress(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:4] + "..." + s[len(s)-4:]
}
