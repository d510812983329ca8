package domain

import "time"

// RecentEventRetention is the age after which audit rows are pruned.
const RecentEventRetention = 90 * 24 * time.Hour

// RecentEvent is one human-readable audit row of an applied swap.
type RecentEvent struct {
	WalletAddress string
	Timestamp     int64  // event time, Unix milliseconds
	TxSignature   string // source transaction
	EventKey      string // idempotency key of the applied event
	Summary       string
}
