package solana

import "context"

// WSClient defines Solana WebSocket subscription interface.
type WSClient interface {
	// SubscribeLogs subscribes to transaction logs matching the filter.
	SubscribeLogs(ctx context.Context, filter LogsFilter) (*LogSubscription, error)

	// Unsubscribe cancels a subscription and closes its channel.
	Unsubscribe(ctx context.Context, sub *LogSubscription) error

	// Close closes the WebSocket connection and every subscription.
	Close() error
}

// LogsFilter defines subscription filter for logs.
type LogsFilter struct {
	// Mentions filters logs of transactions that mention these accounts.
	Mentions []string
}

// LogSubscription is a live logs subscription. The handle stays valid across
// reconnects even though the server-side subscription id changes.
type LogSubscription struct {
	handle uint64
	C      <-chan LogNotification
}

// LogNotification represents a logs subscription message.
type LogNotification struct {
	Signature string
	Slot      int64
	Logs      []string
	Err       interface{}
}
