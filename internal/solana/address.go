package solana

import (
	"regexp"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

// ErrInvalidAddress is returned for strings that are not wallet addresses.
var ErrInvalidAddress = errors.New("invalid solana address")

var addressPattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

// ValidateAddress checks that s is a base58 encoded 32-byte public key.
func ValidateAddress(s string) error {
	if !addressPattern.MatchString(s) {
		return errors.Wrapf(ErrInvalidAddress, "%q: not base58", s)
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return errors.Wrapf(ErrInvalidAddress, "%q: %v", s, err)
	}
	if len(raw) != 32 {
		return errors.Wrapf(ErrInvalidAddress, "%q: decoded length %d", s, len(raw))
	}
	return nil
}

// ValidateWalletAddress checks that s is a public key on the ed25519 curve.
// Program derived addresses are off-curve and cannot sign, so they are rejected.
func ValidateWalletAddress(s string) error {
	if err := ValidateAddress(s); err != nil {
		return err
	}
	raw, _ := base58.Decode(s)
	if !isOnCurve(raw) {
		return errors.Wrapf(ErrInvalidAddress, "%q: off-curve (program derived address)", s)
	}
	return nil
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
