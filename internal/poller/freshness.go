package poller

import "time"

// Freshness classifies an offer's resolved publication time against the
// session's window start.
type Freshness int

const (
	// Fresh: published at or after the window start.
	Fresh Freshness = iota
	// Stale: published before the window start. Stale offers never touch
	// dedup state; they were never emitted and staleness must not consume
	// bookkeeping.
	Stale
	// Undated: no publication time could be resolved. Whether undated offers
	// are admitted (fail-open) or skipped (fail-closed) is a policy knob.
	Undated
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "undated"
	}
}

// Classify treats a zero publishedAt as unresolved. A timestamp exactly at
// windowStart is fresh.
func Classify(publishedAt, windowStart time.Time) Freshness {
	if publishedAt.IsZero() {
		return Undated
	}
	if publishedAt.Before(windowStart) {
		return Stale
	}
	return Fresh
}
