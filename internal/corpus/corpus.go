// Package corpus is the append-only historical record of receipt digests
// and perceptual signatures, queried by the duplicate detector.
package corpus

import (
	"context"
	"errors"
	"time"

	"github.com/ppiankov/receiptguard/internal/phash"
)

var (
	// ErrNotFound is returned when no entry matches a lookup
	ErrNotFound = errors.New("corpus: entry not found")

	// ErrDuplicateReference is returned when a submission ref is recorded twice
	ErrDuplicateReference = errors.New("corpus: submission reference already recorded")
)

// Entry is everything retained about one past submission
type Entry struct {
	SubmissionRef string          `json:"submission_ref"`
	SubmitterID   string          `json:"submitter_id"`
	Digest        string          `json:"digest"`
	Signature     phash.Signature `json:"signature"`
	TransactionID string          `json:"transaction_id,omitempty"`
	RecordedAt    time.Time       `json:"recorded_at"`
}

// Match is the best perceptual match found for a signature
type Match struct {
	Entry      Entry
	Similarity float64
}

// Store is the corpus contract. Reads may run concurrently; Record only
// ever appends. The exclude argument skips one submission ref, so a
// submission never matches itself after it has been recorded.
type Store interface {
	// FindBestMatch returns the most similar entry, or ErrNotFound for an empty corpus
	FindBestMatch(ctx context.Context, sig phash.Signature, exclude string) (*Match, error)
	// FindByExactDigest returns the earliest entry with the same digest
	FindByExactDigest(ctx context.Context, digest, exclude string) (*Entry, error)
	FindByReference(ctx context.Context, ref string) (*Entry, error)
	// FindByTransactionID returns the earliest entry carrying txID
	FindByTransactionID(ctx context.Context, txID, exclude string) (*Entry, error)
	Record(ctx context.Context, e Entry) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// better reports whether candidate should replace best: higher similarity
// wins, ties go to the earlier recording, then the smaller ref.
func better(candidate Match, best *Match) bool {
	if best == nil {
		return true
	}
	if candidate.Similarity != best.Similarity {
		return candidate.Similarity > best.Similarity
	}
	if !candidate.Entry.RecordedAt.Equal(best.Entry.RecordedAt) {
		return candidate.Entry.RecordedAt.Before(best.Entry.RecordedAt)
	}
	return candidate.Entry.SubmissionRef < best.Entry.SubmissionRef
}
