package duplicate

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"testing"
	"time"

	"github.com/ppiankov/receiptguard/internal/cache"
	"github.com/ppiankov/receiptguard/internal/corpus"
	"github.com/ppiankov/receiptguard/internal/model"
	"github.com/ppiankov/receiptguard/internal/phash"
	"github.com/ppiankov/receiptguard/internal/receiptstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiptLike(w, h int, seed int64) *image.RGBA {
	r := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 245, 245, 240, 255
	}
	for line := 10; line < h-10; line += 14 {
		start := 10 + r.Intn(w/4)
		end := min(start+w/3+r.Intn(w/3), w-10)
		for y := line; y < line+6 && y < h; y++ {
			for x := start; x < end; x++ {
				img.Set(x, y, color.RGBA{R: 30, G: 30, B: 60, A: 255})
			}
		}
	}
	return img
}

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: 10, B: uint8(y % 256), A: 255})
		}
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func jpegBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}))
	return buf.Bytes()
}

func record(t *testing.T, store corpus.Store, ref, submitter string, data []byte, at time.Time) {
	t.Helper()
	fp, err := Fingerprint(data)
	require.NoError(t, err)
	require.NoError(t, store.Record(context.Background(), corpus.Entry{
		SubmissionRef: ref,
		SubmitterID:   submitter,
		Digest:        fp.Digest,
		Signature:     fp.Signature,
		RecordedAt:    at,
	}))
}

type mapFetcher struct {
	files map[string][]byte
	calls int
}

func (m *mapFetcher) Fetch(_ context.Context, ref string) ([]byte, error) {
	m.calls++
	data, ok := m.files[ref]
	if !ok {
		return nil, receiptstore.ErrNotFound
	}
	return data, nil
}

type failingStore struct {
	corpus.Store
}

func (failingStore) FindByExactDigest(context.Context, string, string) (*corpus.Entry, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) FindByReference(context.Context, string) (*corpus.Entry, error) {
	return nil, corpus.ErrNotFound
}

func TestCheck_EmptyCorpus(t *testing.T) {
	d := NewDetector(corpus.NewMemoryStore(), nil, nil, 75)
	got := d.Check(context.Background(), Request{
		Image:       model.ReceiptImage{Data: pngBytes(t, receiptLike(200, 300, 1))},
		SubmitterID: "alice",
	})

	assert.False(t, got.IsDuplicate)
	assert.Equal(t, model.MatchDifferent, got.MatchType)
	assert.Equal(t, model.RiskLow, got.RiskTier)
	assert.Equal(t, "No duplicates found", got.Message)
	assert.Nil(t, got.MatchedSubmissionRef)
}

func TestCheck_ExactCrossSubmitter(t *testing.T) {
	store := corpus.NewMemoryStore()
	data := pngBytes(t, receiptLike(200, 300, 2))
	record(t, store, "r-1", "bob", data, time.Now())

	d := NewDetector(store, nil, nil, 75)
	got := d.Check(context.Background(), Request{
		Image:         model.ReceiptImage{Data: data},
		SubmitterID:   "alice",
		SubmissionRef: "r-2",
	})

	assert.True(t, got.IsDuplicate)
	assert.True(t, got.CrossSubmitterExact)
	assert.False(t, got.SameSubmitter)
	assert.Equal(t, model.MatchExact, got.MatchType)
	assert.Equal(t, 100.0, got.SimilarityPercentage)
	assert.Equal(t, model.RiskHigh, got.RiskTier)
	require.NotNil(t, got.MatchedSubmissionRef)
	assert.Equal(t, "r-1", *got.MatchedSubmissionRef)
}

func TestCheck_ExcludesOwnReference(t *testing.T) {
	store := corpus.NewMemoryStore()
	data := pngBytes(t, receiptLike(200, 300, 3))
	record(t, store, "r-self", "alice", data, time.Now())

	d := NewDetector(store, nil, nil, 75)
	got := d.Check(context.Background(), Request{
		Image:         model.ReceiptImage{Data: data},
		SubmitterID:   "alice",
		SubmissionRef: "r-self",
	})

	assert.False(t, got.IsDuplicate)
	assert.Equal(t, model.RiskLow, got.RiskTier)
}

func TestCheck_SameSubmitterExactFromCorpus(t *testing.T) {
	store := corpus.NewMemoryStore()
	data := pngBytes(t, receiptLike(200, 300, 4))
	record(t, store, "r-1", "alice", data, time.Now())

	d := NewDetector(store, nil, nil, 75)
	got := d.Check(context.Background(), Request{
		Image:       model.ReceiptImage{Data: data},
		SubmitterID: "alice",
	})

	assert.True(t, got.IsDuplicate)
	assert.True(t, got.SameSubmitter)
	assert.False(t, got.CrossSubmitterExact)
	assert.Contains(t, got.Message, "Please submit a NEW receipt")
}

func TestCheck_PriorReceiptsTakePriority(t *testing.T) {
	store := corpus.NewMemoryStore()
	data := pngBytes(t, receiptLike(200, 300, 5))
	// the same bytes are in the corpus under another submitter
	record(t, store, "r-other", "bob", data, time.Now())

	fetcher := &mapFetcher{files: map[string][]byte{"prior/a.png": data}}
	d := NewDetector(store, fetcher, nil, 75)
	got := d.Check(context.Background(), Request{
		Image:         model.ReceiptImage{Data: data},
		SubmitterID:   "alice",
		PriorReceipts: []string{" prior/a.png , prior/missing.png"},
	})

	assert.True(t, got.SameSubmitter)
	assert.False(t, got.CrossSubmitterExact)
	require.NotNil(t, got.MatchedSubmissionRef)
	assert.Equal(t, "prior/a.png", *got.MatchedSubmissionRef)
	assert.Equal(t, "You already submitted this exact receipt. Please submit a NEW receipt for the remaining amount.", got.Message)
}

func TestCheck_PriorRecompressedIsSimilar(t *testing.T) {
	src := receiptLike(240, 360, 6)
	fetcher := &mapFetcher{files: map[string][]byte{"prior.jpg": jpegBytes(t, src)}}
	prints := cache.NewFingerprintCache(cache.NewMemoryCache(time.Minute, time.Minute), 0)

	d := NewDetector(corpus.NewMemoryStore(), fetcher, prints, 75)
	req := Request{
		Image:         model.ReceiptImage{Data: pngBytes(t, src)},
		SubmitterID:   "alice",
		PriorReceipts: []string{"prior.jpg"},
	}
	got := d.Check(context.Background(), req)

	assert.True(t, got.IsDuplicate)
	assert.True(t, got.SameSubmitter)
	assert.GreaterOrEqual(t, got.SimilarityPercentage, 85.0)
	assert.Contains(t, got.Message, "similar to one you already submitted")

	// second check is served from the fingerprint cache
	d.Check(context.Background(), req)
	assert.Equal(t, 1, fetcher.calls)
}

func TestCheck_CrossSubmitterSimilar(t *testing.T) {
	store := corpus.NewMemoryStore()
	src := receiptLike(240, 360, 7)
	record(t, store, "r-1", "bob", jpegBytes(t, src), time.Now())

	d := NewDetector(store, nil, nil, 75)
	got := d.Check(context.Background(), Request{
		Image:       model.ReceiptImage{Data: pngBytes(t, src)},
		SubmitterID: "alice",
	})

	assert.True(t, got.IsDuplicate)
	assert.False(t, got.SameSubmitter)
	assert.Contains(t, got.Message, "receipt used by another user")
	assert.Contains(t, []model.RiskTier{model.RiskMedium, model.RiskHigh}, got.RiskTier)
}

func TestCheck_DifferentImageBelowThreshold(t *testing.T) {
	store := corpus.NewMemoryStore()
	record(t, store, "r-1", "bob", pngBytes(t, gradient(200, 300)), time.Now())

	d := NewDetector(store, nil, nil, 75)
	got := d.Check(context.Background(), Request{
		Image:       model.ReceiptImage{Data: pngBytes(t, receiptLike(200, 300, 8))},
		SubmitterID: "alice",
	})

	assert.False(t, got.IsDuplicate)
	assert.Equal(t, model.RiskLow, got.RiskTier)
	assert.Nil(t, got.MatchedSubmissionRef)
	assert.Equal(t, 1, got.CandidatesChecked)
}

func TestCheck_UndecodableImage(t *testing.T) {
	d := NewDetector(corpus.NewMemoryStore(), nil, nil, 75)
	got := d.Check(context.Background(), Request{Image: model.ReceiptImage{Data: []byte("not an image")}})

	assert.False(t, got.IsDuplicate)
	assert.Equal(t, model.RiskUnknown, got.RiskTier)
	assert.Contains(t, got.Message, "Could not compute image signature")
}

func TestCheck_CorpusFailureIsUnknown(t *testing.T) {
	d := NewDetector(failingStore{corpus.NewMemoryStore()}, nil, nil, 75)
	got := d.Check(context.Background(), Request{Image: model.ReceiptImage{Data: pngBytes(t, receiptLike(80, 80, 9))}})

	assert.False(t, got.IsDuplicate)
	assert.Equal(t, model.RiskUnknown, got.RiskTier)
	assert.Contains(t, got.Message, "connection refused")
}

func TestCheck_UsesPrecomputedFingerprint(t *testing.T) {
	store := corpus.NewMemoryStore()
	data := pngBytes(t, receiptLike(200, 300, 10))
	record(t, store, "r-1", "bob", data, time.Now())

	fp, err := Fingerprint(data)
	require.NoError(t, err)

	d := NewDetector(store, nil, nil, 75)
	got := d.Check(context.Background(), Request{SubmitterID: "alice", Fingerprint: &fp})
	assert.True(t, got.CrossSubmitterExact)
}

func TestSplitReferences(t *testing.T) {
	got := SplitReferences([]string{"a, b", "", " c ,a", "s3://x/y"})
	assert.Equal(t, []string{"a", "b", "c", "s3://x/y"}, got)
	assert.Empty(t, SplitReferences(nil))
}

func TestFingerprint_UndecodableKeepsDigest(t *testing.T) {
	fp, err := Fingerprint([]byte("garbage"))
	assert.Error(t, err)
	assert.Equal(t, phash.Digest([]byte("garbage")), fp.Digest)
	assert.True(t, fp.Signature.IsZero())
}
