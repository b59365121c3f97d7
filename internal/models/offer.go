package models

import "time"

// Offer is one catalog entry as returned by the listings API for a single poll.
// PublishedAt stays zero when no publication time could be resolved from the
// payload; callers must branch on IsZero rather than assume a date.
type Offer struct {
	ID          string
	Title       string
	Link        string
	Price       string // display string, empty when the listing carries no price
	Category    string
	PublishedAt time.Time

	// Raw is the decoded payload record the offer was extracted from. The
	// date resolver searches it because the API's timestamp field names vary
	// by deployment.
	Raw map[string]any
}

// Valid reports whether the offer has the fields required for any further
// processing. Offers failing this are dropped silently, not counted as
// duplicate, stale, or new.
func (o Offer) Valid() bool {
	return o.ID != "" && o.Title != "" && o.Link != ""
}

// Notification is the record emitted for a new, fresh offer.
type Notification struct {
	ID          string `json:"id" validate:"required"`
	Title       string `json:"title" validate:"required"`
	Price       string `json:"price,omitempty"`
	Link        string `json:"link" validate:"required,url"`
	PublishedAt string `json:"publishedAt"`
	Category    string `json:"category"`
}
