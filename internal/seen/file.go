package seen

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// FileStore persists seen records as a single JSON file mapping category name
// to a list of {id, ts} records. Flushes are atomic (temp file + rename) and
// run under a sibling lock file with a read-merge-write cycle, so concurrent
// sessions for different categories cannot clobber each other's updates.
type FileStore struct {
	path  string
	limit int

	mu         sync.Mutex
	loaded     bool
	categories map[string][]Record
	index      map[string]map[string]bool
	touched    map[string]bool
}

var _ Store = (*FileStore)(nil)

func NewFileStore(path string, limit int) *FileStore {
	return &FileStore{
		path:       path,
		limit:      limit,
		categories: make(map[string][]Record),
		index:      make(map[string]map[string]bool),
		touched:    make(map[string]bool),
	}
}

// Load reads the state file once; later calls for other categories reuse the
// snapshot. Missing or corrupt state degrades to an empty snapshot with a
// warning; losing dedup history costs at worst duplicate notifications, while
// failing here would halt polling entirely.
func (s *FileStore) Load(ctx context.Context, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}
	s.categories = s.readState()
	s.index = buildIndex(s.categories)
	s.loaded = true
	return nil
}

func (s *FileStore) readState() map[string][]Record {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Failed to read state file, starting empty", "path", s.path, "error", err)
		}
		return make(map[string][]Record)
	}
	state, err := decodeState(data)
	if err != nil {
		slog.Warn("Corrupt state file, starting empty", "path", s.path, "error", err)
		return make(map[string][]Record)
	}
	return state
}

// decodeState upgrades any of the three historical shapes to the current one:
// current (category → records), legacy (category → bare ID list), and the
// original flat ID list. Legacy IDs get a load-time timestamp so they still
// participate in truncation ordering.
func decodeState(data []byte) (map[string][]Record, error) {
	now := time.Now()

	var byCategory map[string]json.RawMessage
	if err := json.Unmarshal(data, &byCategory); err == nil {
		state := make(map[string][]Record, len(byCategory))
		for category, raw := range byCategory {
			var records []Record
			if err := json.Unmarshal(raw, &records); err == nil {
				state[category] = records
				continue
			}
			var ids []string
			if err := json.Unmarshal(raw, &ids); err != nil {
				return nil, fmt.Errorf("category %q has an unreadable record list", category)
			}
			state[category] = recordsFromIDs(ids, now)
		}
		return state, nil
	}

	var flat []string
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, fmt.Errorf("state is neither a category map nor an ID list")
	}
	return map[string][]Record{legacyCategory: recordsFromIDs(flat, now)}, nil
}

func recordsFromIDs(ids []string, ts time.Time) []Record {
	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		records = append(records, Record{ID: id, Timestamp: ts})
	}
	return records
}

func buildIndex(state map[string][]Record) map[string]map[string]bool {
	index := make(map[string]map[string]bool, len(state))
	for category, records := range state {
		ids := make(map[string]bool, len(records))
		for _, r := range records {
			ids[r.ID] = true
		}
		index[category] = ids
	}
	return index
}

func (s *FileStore) IsSeen(category, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index[category][id] || s.index[legacyCategory][id]
}

func (s *FileStore) MarkSeen(category, id string, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index[category][id] {
		return
	}
	s.categories[category] = truncate(append(s.categories[category], Record{ID: id, Timestamp: ts}), s.limit)
	if s.index[category] == nil {
		s.index[category] = make(map[string]bool)
	}
	s.index[category][id] = true
	s.touched[category] = true
}

// Flush persists all categories touched since load. The on-disk state is
// re-read and merged under the file lock first: another process may have
// flushed other categories in the meantime, and same-category records are
// unioned before truncation so the K most recent survive regardless of which
// side wrote them.
func (s *FileStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock := flock.New(s.path + ".lock")
	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("locking state file: %w", err)
	}
	if !locked {
		return fmt.Errorf("locking state file: lock not acquired")
	}
	defer lock.Unlock()

	state := s.readState()
	for category := range s.touched {
		state[category] = truncate(append(state[category], s.categories[category]...), s.limit)
	}

	if err := s.writeState(state); err != nil {
		return err
	}

	s.categories = state
	s.index = buildIndex(state)
	s.touched = make(map[string]bool)
	return nil
}

func (s *FileStore) writeState(state map[string][]Record) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error {
	return nil
}
