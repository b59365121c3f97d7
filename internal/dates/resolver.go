// Package dates resolves a publication timestamp from offer records of
// unknown shape. The listings API names its timestamp fields differently per
// deployment (created_time, createdAt, last_refresh_time, nested params
// objects), so resolution is a bounded search instead of a struct decode.
package dates

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
)

// keywords are matched case-insensitively as substrings of field names.
var keywords = []string{
	"created",
	"date",
	"published",
	"timestamp",
	"time",
	"refresh",
	"updated",
}

// layouts is the declared set of accepted string formats, tried in order.
var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

const (
	// maxDepth bounds the nested-object search.
	maxDepth = 3
	// maxArrayElems bounds how many elements of a nested array are inspected.
	maxArrayElems = 2
	// epochMillisCutoff: numeric values above this are millisecond epochs.
	epochMillisCutoff = int64(1e10)
)

// Resolve searches record for a parseable publication timestamp and returns
// it with ok=true, or a zero time with ok=false when nothing parses. An
// unresolved date is a normal outcome, not an error; callers decide how to
// treat undated offers. Resolution is pure and deterministic: own fields are
// tried in sorted key order before nested objects and arrays, and the first
// successful parse wins.
func Resolve(record map[string]any) (time.Time, bool) {
	return resolve(record, 0)
}

func resolve(record map[string]any, depth int) (time.Time, bool) {
	if record == nil || depth > maxDepth {
		return time.Time{}, false
	}

	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Own fields first.
	for _, k := range keys {
		if !keyMatches(k) {
			continue
		}
		if ts, ok := parseValue(record[k]); ok {
			return ts, true
		}
	}

	// Then nested objects and arrays.
	for _, k := range keys {
		switch v := record[k].(type) {
		case map[string]any:
			if ts, ok := resolve(v, depth+1); ok {
				return ts, true
			}
		case []any:
			n := len(v)
			if n > maxArrayElems {
				n = maxArrayElems
			}
			for i := 0; i < n; i++ {
				child, ok := v[i].(map[string]any)
				if !ok {
					continue
				}
				if ts, ok := resolve(child, depth+1); ok {
					return ts, true
				}
			}
		}
	}

	return time.Time{}, false
}

func keyMatches(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func parseValue(v any) (time.Time, bool) {
	switch val := v.(type) {
	case string:
		return parseString(val)
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			f, ferr := val.Float64()
			if ferr != nil {
				return time.Time{}, false
			}
			n = int64(f)
		}
		return fromEpoch(n)
	case float64:
		return fromEpoch(int64(val))
	case int64:
		return fromEpoch(val)
	case int:
		return fromEpoch(int64(val))
	default:
		return time.Time{}, false
	}
}

func parseString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return fromEpoch(n)
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func fromEpoch(n int64) (time.Time, bool) {
	if n <= 0 {
		return time.Time{}, false
	}
	if n > epochMillisCutoff {
		return time.UnixMilli(n).UTC(), true
	}
	return time.Unix(n, 0).UTC(), true
}
