// Package poller drives one polling run per watch: fetch page, extract
// offers, resolve dates, filter by freshness, suppress duplicates, emit, and
// decide when to stop paginating.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vtudose/olx-watch-bot/internal/catalog"
	"github.com/vtudose/olx-watch-bot/internal/config"
	"github.com/vtudose/olx-watch-bot/internal/dates"
	"github.com/vtudose/olx-watch-bot/internal/models"
	"github.com/vtudose/olx-watch-bot/internal/query"
)

// SeenStore is the dedup state the poller consumes.
type SeenStore interface {
	Load(ctx context.Context, category string) error
	IsSeen(category, id string) bool
	MarkSeen(category, id string, ts time.Time)
	Flush(ctx context.Context) error
}

// Notifier delivers one emitted offer. Delivery failures are the notifier's
// problem: the poller marks the offer seen either way, since re-notifying
// after a transient delivery failure beats silently losing an item.
type Notifier interface {
	Send(ctx context.Context, n models.Notification) error
}

type Poller struct {
	fetcher  catalog.Fetcher
	store    SeenStore
	notifier Notifier
	cfg      *config.Config
}

func New(fetcher catalog.Fetcher, store SeenStore, notifier Notifier, cfg *config.Config) *Poller {
	return &Poller{
		fetcher:  fetcher,
		store:    store,
		notifier: notifier,
		cfg:      cfg,
	}
}

// session holds the per-run counters. One session belongs to exactly one Run
// call; nothing here survives the run, persistence happens only through the
// seen store.
type session struct {
	category                 string
	pageIndex                int
	consecutiveDuplicates    int
	maxPages                 int
	maxConsecutiveDuplicates int
	windowStart              time.Time
	startedAt                time.Time

	emitted, duplicates, stale, undatedSkipped, invalid int
}

// Summary reports what one run did.
type Summary struct {
	Category       string
	Pages          int
	Emitted        int
	Duplicates     int
	Stale          int
	UndatedSkipped int
	Invalid        int
	StopReason     string
}

// Run executes one poll session for the watch. Pages are fetched strictly
// sequentially: the stop decision for page N+1 depends on page N's duplicate
// run and cursor. A fetch or decode failure ends the session cleanly after
// flushing what earlier pages already emitted.
//
// Pagination stops early once maxConsecutiveDuplicates already-seen offers
// arrive in a row. This leans on the API returning results newest-first: a
// run of duplicates means the rest is almost certainly known too. If the API
// ever broke that ordering, new offers past such a run would be missed until
// a later poll.
func (p *Poller) Run(ctx context.Context, watch config.Watch) (*Summary, error) {
	sess := p.newSession(watch)
	log := slog.With("category", sess.category)

	if err := p.store.Load(ctx, sess.category); err != nil {
		return nil, fmt.Errorf("loading seen state for %s: %w", sess.category, err)
	}

	pageURL, err := query.BuildAPIURL(p.cfg.APIBase, watch.URL, 0, p.cfg.PageLimit)
	if err != nil {
		return nil, err
	}

	stopReason := ""
	for {
		page, err := p.fetcher.FetchPage(ctx, pageURL)
		if err != nil {
			// Nothing from the failed page was marked seen; earlier pages'
			// emissions must still be persisted.
			log.Warn("Page fetch failed, ending session", "page", sess.pageIndex, "error", err)
			if flushErr := p.store.Flush(ctx); flushErr != nil {
				log.Error("Flushing seen state after failed fetch", "error", flushErr)
			}
			return sess.summary("fetch failed"), fmt.Errorf("page %d: %w", sess.pageIndex, err)
		}

		p.evaluatePage(ctx, sess, page, log)
		sess.pageIndex++

		switch {
		case sess.consecutiveDuplicates >= sess.maxConsecutiveDuplicates:
			stopReason = "duplicate run"
		case page.Next == "":
			stopReason = "no next page"
		case sess.pageIndex >= sess.maxPages:
			stopReason = "page budget"
		default:
			// The API's own cursor is authoritative; never recompute the
			// offset from the original query.
			pageURL = page.Next
			continue
		}
		break
	}

	if err := p.store.Flush(ctx); err != nil {
		return sess.summary(stopReason), fmt.Errorf("flushing seen state for %s: %w", sess.category, err)
	}

	summary := sess.summary(stopReason)
	log.Info("Poll session finished",
		"pages", summary.Pages,
		"emitted", summary.Emitted,
		"duplicates", summary.Duplicates,
		"stale", summary.Stale,
		"undated_skipped", summary.UndatedSkipped,
		"invalid", summary.Invalid,
		"stop", summary.StopReason)
	return summary, nil
}

func (p *Poller) newSession(watch config.Watch) *session {
	window := p.cfg.FreshnessWindow
	if watch.FreshnessWindow > 0 {
		window = watch.FreshnessWindow.Std()
	}
	maxPages := p.cfg.MaxPages
	if watch.MaxPages > 0 {
		maxPages = watch.MaxPages
	}
	now := time.Now()
	return &session{
		category:                 query.Category(watch.Name, watch.URL),
		maxPages:                 maxPages,
		maxConsecutiveDuplicates: p.cfg.MaxConsecutiveDuplicates,
		windowStart:              now.Add(-window),
		startedAt:                now,
	}
}

func (p *Poller) evaluatePage(ctx context.Context, sess *session, page *catalog.Page, log *slog.Logger) {
	for i := range page.Offers {
		offer := &page.Offers[i]
		if !offer.Valid() {
			sess.invalid++
			continue
		}
		offer.Category = sess.category

		if ts, ok := dates.Resolve(offer.Raw); ok {
			offer.PublishedAt = ts
		}

		switch Classify(offer.PublishedAt, sess.windowStart) {
		case Stale:
			sess.stale++
			continue
		case Undated:
			if p.cfg.UndatedPolicy == config.UndatedSkip {
				sess.undatedSkipped++
				continue
			}
		}

		if p.store.IsSeen(sess.category, offer.ID) {
			sess.duplicates++
			sess.consecutiveDuplicates++
			continue
		}
		sess.consecutiveDuplicates = 0

		p.emit(ctx, sess, *offer, log)
		// Marked immediately so a same-run re-fetch or overlapping page
		// cannot re-emit this ID, regardless of delivery outcome.
		p.store.MarkSeen(sess.category, offer.ID, sess.seenTimestamp(*offer))
		sess.emitted++
	}
}

func (p *Poller) emit(ctx context.Context, sess *session, offer models.Offer, log *slog.Logger) {
	publishedAt := offer.PublishedAt
	if publishedAt.IsZero() {
		// Admitted without a resolvable date; best effort.
		publishedAt = sess.startedAt
	}
	n := models.Notification{
		ID:          offer.ID,
		Title:       offer.Title,
		Price:       offer.Price,
		Link:        offer.Link,
		PublishedAt: publishedAt.Format(time.RFC3339),
		Category:    offer.Category,
	}
	if err := p.notifier.Send(ctx, n); err != nil {
		log.Error("Notification failed", "id", offer.ID, "error", err)
	}
}

func (sess *session) seenTimestamp(offer models.Offer) time.Time {
	if offer.PublishedAt.IsZero() {
		return sess.startedAt
	}
	return offer.PublishedAt
}

func (sess *session) summary(stopReason string) *Summary {
	return &Summary{
		Category:       sess.category,
		Pages:          sess.pageIndex,
		Emitted:        sess.emitted,
		Duplicates:     sess.duplicates,
		Stale:          sess.stale,
		UndatedSkipped: sess.undatedSkipped,
		Invalid:        sess.invalid,
		StopReason:     stopReason,
	}
}
