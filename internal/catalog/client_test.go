package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vtudose/olx-watch-bot/internal/util"
)

func testClient() *Client {
	return New(5*time.Second, 0, "test-agent")
}

func TestFetchPage_DecodesOffers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("missing Accept header")
		}
		if r.Header.Get("User-Agent") != "test-agent" {
			t.Errorf("missing User-Agent header")
		}
		fmt.Fprint(w, `{
			"data": [
				{"id": 123456789012345, "title": " Sony A7 ", "url": "/d/oferta/sony-a7.html",
				 "price": {"display_value": "2 500", "currency": "lei"},
				 "created_time": "2024-06-01T12:30:00Z"},
				{"id": "abc", "title": "No price", "url": "https://example.org/abs.html"}
			],
			"links": {"next": "/api/v1/offers/?offset=40"}
		}`)
	}))
	defer srv.Close()

	page, err := testClient().FetchPage(context.Background(), srv.URL+"/api/v1/offers/?offset=0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Offers) != 2 {
		t.Fatalf("expected 2 offers, got %d", len(page.Offers))
	}

	first := page.Offers[0]
	if first.ID != "123456789012345" {
		t.Errorf("numeric ID should survive exactly, got %q", first.ID)
	}
	if first.Title != "Sony A7" {
		t.Errorf("title should be trimmed, got %q", first.Title)
	}
	if first.Link != srv.URL+"/d/oferta/sony-a7.html" {
		t.Errorf("relative link should resolve against the page URL, got %q", first.Link)
	}
	if first.Price != "2 500 lei" {
		t.Errorf("unexpected price %q", first.Price)
	}
	if first.Raw == nil {
		t.Error("raw record must be retained for date resolution")
	}

	second := page.Offers[1]
	if second.Price != "" {
		t.Errorf("missing price should stay empty, got %q", second.Price)
	}
	if second.Link != "https://example.org/abs.html" {
		t.Errorf("absolute links should pass through, got %q", second.Link)
	}

	if page.Next != srv.URL+"/api/v1/offers/?offset=40" {
		t.Errorf("unexpected next URL %q", page.Next)
	}
}

func TestFetchPage_NextLinkShapes(t *testing.T) {
	tests := []struct {
		name  string
		links string
		want  string // relative form; empty means no continuation
	}{
		{"absent", `{}`, ""},
		{"null", `{"next": null}`, ""},
		{"string", `{"next": "/p2"}`, "/p2"},
		{"object", `{"next": {"href": "/p2"}}`, "/p2"},
		{"array of strings", `{"next": ["/p2", "/p3"]}`, "/p2"},
		{"array of objects", `{"next": [{"href": "/p2"}]}`, "/p2"},
		{"array with unusable head", `{"next": [42, "/p2"]}`, "/p2"},
		{"empty string", `{"next": ""}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintf(w, `{"data": [], "links": %s}`, tt.links)
			}))
			defer srv.Close()

			page, err := testClient().FetchPage(context.Background(), srv.URL)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			want := tt.want
			if want != "" {
				want = srv.URL + want
			}
			if page.Next != want {
				t.Errorf("next = %q, want %q", page.Next, want)
			}
		})
	}
}

func TestFetchPage_MalformedPayload(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "<html>blocked</html>"},
		{"missing data", `{"links": {}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			if _, err := testClient().FetchPage(context.Background(), srv.URL); err == nil {
				t.Error("expected an error for a malformed payload")
			}
		})
	}
}

func TestFetchPage_SkipsUndecodableRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": ["not-an-object", {"id": "1", "title": "ok", "url": "/x"}]}`)
	}))
	defer srv.Close()

	page, err := testClient().FetchPage(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Offers) != 1 || page.Offers[0].ID != "1" {
		t.Errorf("expected the single decodable record, got %+v", page.Offers)
	}
}

func TestFetchPage_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"data": []}`)
	}))
	defer srv.Close()

	page, err := testClient().FetchPage(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error after retry: %v", err)
	}
	if page == nil || calls.Load() != 2 {
		t.Errorf("expected exactly one retry, got %d calls", calls.Load())
	}
}

func TestFetchPage_PermanentStatusFailsFast(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testClient().FetchPage(context.Background(), srv.URL)
	if !errors.Is(err, util.ErrPermanent) {
		t.Fatalf("expected ErrPermanent, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("404 must not be retried, got %d calls", calls.Load())
	}
}

func TestNextURL_GarbageCandidate(t *testing.T) {
	base, _ := url.Parse("https://example.org/api")
	if got := nextURL([]byte(`":%//bad"`), base); got != "" {
		t.Errorf("unparseable candidate should yield no continuation, got %q", got)
	}
}
