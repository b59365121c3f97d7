// Package seen is the dedup bookkeeping for emitted offers: category-scoped
// records of already-notified IDs with bounded retention.
package seen

import (
	"context"
	"sort"
	"time"
)

// legacyCategory holds IDs recovered from pre-category state shapes. Those
// records were written by versions with one global seen set, so they suppress
// re-emission in every category.
const legacyCategory = "unknown"

// Record marks one offer as already emitted.
type Record struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"ts"`
}

// Store is the dedup state for poll sessions. Load brings a category's
// snapshot into memory; IsSeen and MarkSeen operate on that snapshot; Flush
// persists everything touched since load. Implementations must keep each
// category's collection bounded and must never fail a session over missing or
// corrupt prior state.
type Store interface {
	Load(ctx context.Context, category string) error
	IsSeen(category, id string) bool
	MarkSeen(category, id string, ts time.Time)
	Flush(ctx context.Context) error
	Close() error
}

// truncate keeps the limit most recent records by timestamp, dropping
// duplicate IDs (first occurrence wins after ordering). The sort is stable so
// equal timestamps keep their insertion order.
func truncate(records []Record, limit int) []Record {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	out := records[:0]
	ids := make(map[string]bool, len(records))
	for _, r := range records {
		if ids[r.ID] {
			continue
		}
		ids[r.ID] = true
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out
}
