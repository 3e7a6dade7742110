package wallet

import (
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	random := solana.NewWallet().PublicKey().String()

	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{name: "system program", address: "11111111111111111111111111111111"},
		{name: "fee collector", address: DefaultFeeCollector},
		{name: "random key", address: random},
		{name: "empty", address: "", wantErr: true},
		{name: "too short", address: "1111111111111111111111111111111", wantErr: true},
		{name: "too long", address: strings.Repeat("2", 45), wantErr: true},
		{name: "not base58", address: "0OIl" + strings.Repeat("1", 30), wantErr: true},
		{name: "wrong decoded length", address: strings.Repeat("z", 44), wantErr: true},
		{name: "placeholder from prompt", address: "8xrt45...zQ9", wantErr: true},
		{name: "not-an-address", address: "not-an-address", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pk, err := ParseAddress(tt.address)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidAddress)
				assert.False(t, IsValidAddress(tt.address))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.address, pk.String())
			assert.True(t, IsValidAddress(tt.address))
		})
	}
}

func TestFormatAddress(t *testing.T) {
	assert.Equal(t, "7Vfi...Yo4g", FormatAddress(DefaultFeeCollector))
	assert.Equal(t, "short", FormatAddress("short"))
	assert.Equal(t, "", FormatAddress(""))
}
