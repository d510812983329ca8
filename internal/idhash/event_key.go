package idhash

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// ComputeEventKey computes the idempotency key of a swap event using SHA256.
// Formula: SHA256(lower(wallet)|tx_signature|event_index)
// Returns hex-encoded hash (64 characters).
func ComputeEventKey(
	walletAddress string,
	txSignature string,
	eventIndex int,
) string {
	data := fmt.Sprintf("%s|%s|%d",
		strings.ToLower(walletAddress),
		txSignature,
		eventIndex,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputeWalletLockKey maps a wallet address to a 64-bit key for
// PostgreSQL advisory locks.
func ComputeWalletLockKey(walletAddress string) int64 {
	hash := sha256.Sum256([]byte(strings.ToLower(walletAddress)))
	return int64(binary.BigEndian.Uint64(hash[:8]))
}
