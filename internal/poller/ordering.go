package poller

import (
	"sort"

	"solana-wallet-ledger/internal/domain"
	"solana-wallet-ledger/internal/solana"
)

// Delta returns the signatures of a newest-first page that are strictly newer
// than cursor. When cursor is empty or not in the page the whole page is
// returned; history older than one page is not recovered.
func Delta(page []solana.SignatureInfo, cursor string) []solana.SignatureInfo {
	if cursor == "" {
		return page
	}
	for i, s := range page {
		if s.Signature == cursor {
			return page[:i]
		}
	}
	return page
}

// Batch returns the oldest max signatures of a newest-first delta, still
// newest first. The newer remainder is left for the next cycle.
func Batch(delta []solana.SignatureInfo, max int) []solana.SignatureInfo {
	if max <= 0 || len(delta) <= max {
		return delta
	}
	return delta[len(delta)-max:]
}

// SortEvents orders events oldest first by (slot ASC, age rank ASC, event_index ASC).
// rank maps a signature to its position counted from the oldest signature of
// the batch, breaking ties between transactions of the same slot.
func SortEvents(events []domain.SwapEvent, rank map[string]int) {
	sort.SliceStable(events, func(i, j int) bool {
		return compareEvents(events[i], events[j], rank) < 0
	})
}

// ageRank numbers a newest-first batch from the oldest signature up.
func ageRank(batch []solana.SignatureInfo) map[string]int {
	rank := make(map[string]int, len(batch))
	for i, s := range batch {
		rank[s.Signature] = len(batch) - 1 - i
	}
	return rank
}

// compareEvents returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
func compareEvents(a, b domain.SwapEvent, rank map[string]int) int {
	if a.Slot != b.Slot {
		if a.Slot < b.Slot {
			return -1
		}
		return 1
	}
	ra, rb := rank[a.TxSignature], rank[b.TxSignature]
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	if a.EventIndex != b.EventIndex {
		if a.EventIndex < b.EventIndex {
			return -1
		}
		return 1
	}
	return 0
}
