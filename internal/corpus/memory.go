package corpus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ppiankov/receiptguard/internal/phash"
)

// MemoryStore keeps the corpus in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	byRef   map[string]int
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory corpus
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byRef: make(map[string]int),
		now:   time.Now,
	}
}

// FindBestMatch scans every entry
func (s *MemoryStore) FindBestMatch(ctx context.Context, sig phash.Signature, exclude string) (*Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *Match
	for i, e := range s.entries {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if e.SubmissionRef == exclude {
			continue
		}
		m := Match{Entry: e, Similarity: phash.Similarity(sig, e.Signature)}
		if better(m, best) {
			best = &m
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

// FindByExactDigest returns the earliest entry with digest
func (s *MemoryStore) FindByExactDigest(ctx context.Context, digest, exclude string) (*Entry, error) {
	return s.first(func(e Entry) bool {
		return e.Digest == digest && e.SubmissionRef != exclude
	})
}

// FindByReference looks up an entry by submission ref
func (s *MemoryStore) FindByReference(ctx context.Context, ref string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byRef[ref]
	if !ok {
		return nil, ErrNotFound
	}
	e := s.entries[i]
	return &e, nil
}

// FindByTransactionID returns the earliest entry carrying txID
func (s *MemoryStore) FindByTransactionID(ctx context.Context, txID, exclude string) (*Entry, error) {
	if txID == "" {
		return nil, ErrNotFound
	}
	return s.first(func(e Entry) bool {
		return e.TransactionID == txID && e.SubmissionRef != exclude
	})
}

// entries are appended in recording order, so the first hit is the earliest
func (s *MemoryStore) first(match func(Entry) bool) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entries {
		if match(e) {
			found := e
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

// Record appends an entry
func (s *MemoryStore) Record(ctx context.Context, e Entry) error {
	if e.SubmissionRef == "" {
		return fmt.Errorf("record: empty submission reference")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byRef[e.SubmissionRef]; exists {
		return fmt.Errorf("record %s: %w", e.SubmissionRef, ErrDuplicateReference)
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = s.now().UTC()
	}
	s.byRef[e.SubmissionRef] = len(s.entries)
	s.entries = append(s.entries, e)
	return nil
}

// Count returns the number of recorded entries
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
