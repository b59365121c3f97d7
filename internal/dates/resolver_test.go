package dates

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestResolve_FieldNameVariants(t *testing.T) {
	want := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name   string
		record map[string]any
	}{
		{"created_time", map[string]any{"created_time": "2024-06-01T12:30:00Z"}},
		{"createdAt", map[string]any{"createdAt": "2024-06-01T12:30:00Z"}},
		{"last_refresh_time", map[string]any{"last_refresh_time": "2024-06-01 12:30:00"}},
		{"pushup_time", map[string]any{"pushup_time": "2024-06-01T12:30:00Z"}},
		{"DATE uppercase", map[string]any{"DATE": "2024-06-01T12:30:00Z"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Resolve(tt.record)
			if !ok {
				t.Fatal("expected a resolved timestamp")
			}
			if !got.Equal(want) {
				t.Errorf("got %v, want %v", got, want)
			}
		})
	}
}

func TestResolve_StringFormats(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Time
	}{
		{"rfc3339", "2024-06-01T12:30:00Z", time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)},
		{"rfc3339 fractional", "2024-06-01T12:30:00.500Z", time.Date(2024, 6, 1, 12, 30, 0, 500e6, time.UTC)},
		{"rfc3339 offset", "2024-06-01T14:30:00+02:00", time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)},
		{"no zone", "2024-06-01T12:30:00", time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)},
		{"space separated", "2024-06-01 12:30:00", time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)},
		{"date only", "2024-06-01", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Resolve(map[string]any{"created_time": tt.value})
			if !ok {
				t.Fatalf("value %q did not resolve", tt.value)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolve_NumericEpochs(t *testing.T) {
	want := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value any
	}{
		{"seconds float", float64(1717245000)},
		{"milliseconds float", float64(1717245000000)},
		{"seconds string", "1717245000"},
		{"milliseconds string", "1717245000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Resolve(map[string]any{"timestamp": tt.value})
			if !ok {
				t.Fatal("expected a resolved timestamp")
			}
			if !got.Equal(want) {
				t.Errorf("got %v, want %v", got, want)
			}
		})
	}
}

func TestResolve_JSONNumber(t *testing.T) {
	dec := json.NewDecoder(strings.NewReader(`{"created_time": 1717245000}`))
	dec.UseNumber()
	var record map[string]any
	if err := dec.Decode(&record); err != nil {
		t.Fatal(err)
	}

	got, ok := Resolve(record)
	if !ok {
		t.Fatal("expected a resolved timestamp")
	}
	want := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResolve_NestedObject(t *testing.T) {
	record := map[string]any{
		"id":    "123",
		"title": "camera",
		"params": map[string]any{
			"created_time": "2024-06-01T12:30:00Z",
		},
	}
	got, ok := Resolve(record)
	if !ok {
		t.Fatal("expected a resolved timestamp from the nested object")
	}
	if !got.Equal(time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)) {
		t.Errorf("unexpected timestamp %v", got)
	}
}

func TestResolve_OwnFieldBeforeNested(t *testing.T) {
	record := map[string]any{
		"created_time": "2024-06-02T00:00:00Z",
		"nested": map[string]any{
			"created_time": "2020-01-01T00:00:00Z",
		},
	}
	got, ok := Resolve(record)
	if !ok {
		t.Fatal("expected a resolved timestamp")
	}
	if got.Year() != 2024 {
		t.Errorf("own field should win over nested, got %v", got)
	}
}

func TestResolve_ArrayOnlyFirstTwoElements(t *testing.T) {
	record := map[string]any{
		"entries": []any{
			map[string]any{"irrelevant": "x"},
			map[string]any{"other": "y"},
			map[string]any{"created_time": "2024-06-01T12:30:00Z"},
		},
	}
	if _, ok := Resolve(record); ok {
		t.Error("third array element must not be inspected")
	}

	record["entries"] = []any{
		map[string]any{"created_time": "2024-06-01T12:30:00Z"},
		map[string]any{"irrelevant": "x"},
	}
	if _, ok := Resolve(record); !ok {
		t.Error("first array element should be inspected")
	}
}

func TestResolve_Unresolved(t *testing.T) {
	tests := []struct {
		name   string
		record map[string]any
	}{
		{"nil record", nil},
		{"empty record", map[string]any{}},
		{"no matching keys", map[string]any{"id": "1", "title": "x"}},
		{"matching key, garbage value", map[string]any{"created_time": "next tuesday"}},
		{"matching key, zero epoch", map[string]any{"timestamp": float64(0)}},
		{"matching key, bool", map[string]any{"updated": true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if ts, ok := Resolve(tt.record); ok {
				t.Errorf("expected unresolved, got %v", ts)
			}
		})
	}
}

func TestResolve_DepthBound(t *testing.T) {
	deep := map[string]any{"created_time": "2024-06-01T12:30:00Z"}
	record := map[string]any{}
	cursor := record
	for i := 0; i < maxDepth+1; i++ {
		next := map[string]any{}
		cursor["nested"] = next
		cursor = next
	}
	cursor["leaf"] = deep

	if _, ok := Resolve(record); ok {
		t.Error("timestamps beyond the depth bound must not resolve")
	}
}
