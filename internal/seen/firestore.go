package seen

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const seenCollection = "seen"

// FirestoreStore keeps one document per seen offer, keyed "category#id", for
// deployments that run on Cloud Run without a persistent disk. Documents are
// created with create-if-absent semantics so two racing sessions cannot both
// claim an offer as new at the storage layer.
type FirestoreStore struct {
	client *firestore.Client
	limit  int

	mu      sync.Mutex
	loaded  map[string]map[string]bool
	pending map[string][]Record
}

var _ Store = (*FirestoreStore)(nil)

type seenDoc struct {
	Category  string    `firestore:"category"`
	ID        string    `firestore:"id"`
	Timestamp time.Time `firestore:"ts"`
}

func NewFirestoreStore(ctx context.Context, projectID string, limit int) (*FirestoreStore, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore.NewClient: %w", err)
	}
	return &FirestoreStore{
		client:  client,
		limit:   limit,
		loaded:  make(map[string]map[string]bool),
		pending: make(map[string][]Record),
	}, nil
}

// Load reads the category's seen IDs into memory. A failed read degrades to
// an empty snapshot: the session proceeds and may re-notify, which is
// preferable to not polling at all.
func (s *FirestoreStore) Load(ctx context.Context, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.loaded[category]; ok {
		return nil
	}

	ids := make(map[string]bool)
	iter := s.client.Collection(seenCollection).
		Where("category", "==", category).
		Documents(ctx)
	defer iter.Stop()

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			slog.Warn("Failed to load seen records, starting empty", "category", category, "error", err)
			ids = make(map[string]bool)
			break
		}
		var rec seenDoc
		if err := doc.DataTo(&rec); err != nil {
			continue
		}
		ids[rec.ID] = true
	}

	s.loaded[category] = ids
	return nil
}

func (s *FirestoreStore) IsSeen(category, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded[category][id]
}

func (s *FirestoreStore) MarkSeen(category, id string, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded[category] == nil {
		s.loaded[category] = make(map[string]bool)
	}
	if s.loaded[category][id] {
		return
	}
	s.loaded[category][id] = true
	s.pending[category] = append(s.pending[category], Record{ID: id, Timestamp: ts})
}

// Flush creates documents for everything marked this session, then trims each
// touched category back to the retention limit, oldest first.
func (s *FirestoreStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[string][]Record)
	s.mu.Unlock()

	coll := s.client.Collection(seenCollection)
	for category, records := range pending {
		for _, rec := range records {
			docID := category + "#" + rec.ID
			_, err := coll.Doc(docID).Create(ctx, seenDoc{
				Category:  category,
				ID:        rec.ID,
				Timestamp: rec.Timestamp,
			})
			if err != nil && status.Code(err) != codes.AlreadyExists {
				return fmt.Errorf("recording seen offer %s: %w", docID, err)
			}
		}
		if err := s.trim(ctx, category); err != nil {
			slog.Warn("Failed to trim seen records", "category", category, "error", err)
		}
	}
	return nil
}

func (s *FirestoreStore) trim(ctx context.Context, category string) error {
	iter := s.client.Collection(seenCollection).
		Where("category", "==", category).
		OrderBy("ts", firestore.Desc).
		Offset(s.limit).
		Documents(ctx)
	defer iter.Stop()

	bw := s.client.BulkWriter(ctx)
	defer bw.End()

	deleted := 0
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("iterating seen records: %w", err)
		}
		if _, err := bw.Delete(doc.Ref); err != nil {
			slog.Warn("Failed to queue delete", "doc", doc.Ref.ID, "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		bw.Flush()
		slog.Info("Trimmed seen records", "category", category, "deleted", deleted)
	}
	return nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
