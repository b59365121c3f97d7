// Package catalog fetches and decodes pages from the listings JSON API.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/vtudose/olx-watch-bot/internal/models"
	"github.com/vtudose/olx-watch-bot/internal/util"
)

const maxRetries = 3

// Page is one decoded API response.
type Page struct {
	Offers []models.Offer
	// Next is the absolute URL of the next page, empty when the API offers
	// no continuation.
	Next string
}

type Fetcher interface {
	FetchPage(ctx context.Context, pageURL string) (*Page, error)
}

type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string
}

// New builds a client that paces requests at one per delay. A zero delay
// disables pacing.
func New(timeout, delay time.Duration, userAgent string) *Client {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
		userAgent:  userAgent,
	}
}

// FetchPage requests pageURL and decodes it into offers plus the next-page
// cursor. Transient failures (429, 5xx, network errors) are retried with
// backoff; other HTTP errors and undecodable payloads fail the fetch, which
// ends the caller's session for this run.
func (c *Client) FetchPage(ctx context.Context, pageURL string) (*Page, error) {
	var body []byte
	err := util.RetryWithBackoff(ctx, maxRetries, func(attempt int) error {
		var attemptErr error
		body, attemptErr = c.fetchOnce(ctx, pageURL)
		return attemptErr
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", pageURL, err)
	}

	page, err := decodePage(body, pageURL)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", pageURL, err)
	}
	return page, nil
}

func (c *Client) fetchOnce(ctx context.Context, pageURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrPermanent, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w: %v", util.ErrPermanent, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		if transientStatus(res.StatusCode) {
			return nil, fmt.Errorf("status %d", res.StatusCode)
		}
		return nil, fmt.Errorf("status %d: %w", res.StatusCode, util.ErrPermanent)
	}
	return io.ReadAll(res.Body)
}

func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

type pageEnvelope struct {
	Data  []json.RawMessage `json:"data"`
	Links struct {
		Next json.RawMessage `json:"next"`
	} `json:"links"`
}

func decodePage(body []byte, pageURL string) (*Page, error) {
	var envelope pageEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("malformed payload: %w", err)
	}
	if envelope.Data == nil {
		return nil, fmt.Errorf("payload has no data array")
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL: %w", err)
	}

	page := &Page{Next: nextURL(envelope.Links.Next, base)}
	for _, raw := range envelope.Data {
		record, err := decodeRecord(raw)
		if err != nil {
			// One undecodable record doesn't invalidate the page.
			continue
		}
		page.Offers = append(page.Offers, extractOffer(record, base))
	}
	return page, nil
}

// decodeRecord keeps numbers as json.Number so large numeric IDs and epoch
// timestamps survive without float rounding.
func decodeRecord(raw json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var record map[string]any
	if err := dec.Decode(&record); err != nil {
		return nil, err
	}
	return record, nil
}

// extractOffer pulls the notification-relevant fields out of a record. IDs
// may be strings or numbers; links may be site-relative; prices live under a
// price object with display_value/value plus currency. Missing required
// fields leave the offer invalid and the caller drops it.
func extractOffer(record map[string]any, base *url.URL) models.Offer {
	offer := models.Offer{Raw: record}

	switch id := record["id"].(type) {
	case string:
		offer.ID = strings.TrimSpace(id)
	case json.Number:
		offer.ID = id.String()
	}

	if title, ok := record["title"].(string); ok {
		offer.Title = strings.TrimSpace(title)
	}

	if link, ok := record["url"].(string); ok && link != "" {
		if ref, err := url.Parse(link); err == nil {
			offer.Link = base.ResolveReference(ref).String()
		}
	}

	if price, ok := record["price"].(map[string]any); ok {
		offer.Price = formatPrice(price)
	}

	return offer
}

func formatPrice(price map[string]any) string {
	value := stringValue(price["display_value"])
	if value == "" {
		value = stringValue(price["value"])
	}
	currency := stringValue(price["currency"])
	return strings.TrimSpace(value + " " + currency)
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	default:
		return ""
	}
}

// nextURL extracts the continuation URL from links.next, which the API emits
// as a bare string, an object with an href, or an array of either.
func nextURL(raw json.RawMessage, base *url.URL) string {
	candidate := firstUsableString(raw)
	if candidate == "" {
		return ""
	}
	ref, err := url.Parse(candidate)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

func firstUsableString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var obj struct {
		Href string `json:"href"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Href != "" {
		return strings.TrimSpace(obj.Href)
	}

	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, elem := range list {
			if s := firstUsableString(elem); s != "" {
				return s
			}
		}
	}
	return ""
}
