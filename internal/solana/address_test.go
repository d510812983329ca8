package solana

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func walletAddress(t *testing.T) string {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return base58.Encode(pub)
}

// offCurveAddress derives a 32-byte value that is not a curve point.
func offCurveAddress(t *testing.T) string {
	t.Helper()
	for i := uint64(0); i < 1000; i++ {
		var seed [8]byte
		binary.BigEndian.PutUint64(seed[:], i)
		hash := sha256.Sum256(seed[:])
		if !isOnCurve(hash[:]) {
			return base58.Encode(hash[:])
		}
	}
	t.Fatal("no off-curve point found")
	return ""
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{"system program", "11111111111111111111111111111111", false},
		{"wrapped sol mint", "So11111111111111111111111111111111111111112", false},
		{"empty", "", true},
		{"too short", "abc", true},
		{"invalid character zero", "0" + strings.Repeat("1", 40), true},
		{"invalid character l", "l" + strings.Repeat("1", 40), true},
		{"wrong decoded length", strings.Repeat("z", 44), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.address)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAddress)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateWalletAddress(t *testing.T) {
	assert.NoError(t, ValidateWalletAddress(walletAddress(t)))

	err := ValidateWalletAddress(offCurveAddress(t))
	assert.ErrorIs(t, err, ErrInvalidAddress)

	assert.ErrorIs(t, ValidateWalletAddress("not-an-address"), ErrInvalidAddress)
}
