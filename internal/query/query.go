// Package query translates human-facing search URLs into listings API
// requests and derives the category tag that scopes dedup state.
package query

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// pathKeyword matches the /q-<keyword>/ segment search pages embed the query in.
var pathKeyword = regexp.MustCompile(`/q-([^/]+)/`)

// BuildAPIURL turns a search page URL into an API call against apiBase,
// keeping the search's own parameters and setting offset/limit. A keyword
// found in the path overrides any existing query parameter; the legacy "q"
// parameter is migrated to "query".
func BuildAPIURL(apiBase, searchURL string, offset, limit int) (string, error) {
	parsed, err := url.Parse(searchURL)
	if err != nil {
		return "", fmt.Errorf("invalid search URL %q: %w", searchURL, err)
	}
	base, err := url.Parse(apiBase)
	if err != nil {
		return "", fmt.Errorf("invalid API base %q: %w", apiBase, err)
	}

	params := parsed.Query()

	// QueryUnescape rather than PathUnescape: search pages encode multi-word
	// keywords with '+' in the path segment.
	if m := pathKeyword.FindStringSubmatch(parsed.EscapedPath()); m != nil {
		if kw, err := url.QueryUnescape(m[1]); err == nil {
			params.Set("query", kw)
		}
	}

	// compat: old 'q' parameter
	if params.Has("q") {
		if !params.Has("query") {
			params.Set("query", params.Get("q"))
		}
		params.Del("q")
	}

	params.Set("offset", strconv.Itoa(offset))
	params.Set("limit", strconv.Itoa(limit))

	base.RawQuery = params.Encode()
	return base.String(), nil
}

// Category derives the dedup-state tag for a watch: the explicit name when
// set, else a slug of the search keyword, else a slug of the URL itself.
func Category(name, searchURL string) string {
	if name != "" {
		return Slug(name)
	}
	if parsed, err := url.Parse(searchURL); err == nil {
		if m := pathKeyword.FindStringSubmatch(parsed.EscapedPath()); m != nil {
			if kw, err := url.QueryUnescape(m[1]); err == nil {
				return Slug(kw)
			}
		}
		q := parsed.Query()
		for _, key := range []string{"query", "q"} {
			if v := q.Get(key); v != "" {
				return Slug(v)
			}
		}
		if parsed.Host != "" {
			return Slug(parsed.Host + " " + parsed.Path)
		}
	}
	return Slug(searchURL)
}

// Slug lowercases s and collapses everything that is not a letter or digit
// into single dashes.
func Slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
