package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/receiptguard/internal/corpus"
	"github.com/ppiankov/receiptguard/internal/duplicate"
	"github.com/ppiankov/receiptguard/internal/logging"
	"github.com/ppiankov/receiptguard/internal/metrics"
	"github.com/ppiankov/receiptguard/internal/model"
	"github.com/ppiankov/receiptguard/internal/pipeline"
	"github.com/ppiankov/receiptguard/internal/receiptstore"
	"go.uber.org/zap"
)

// Evaluator defines the interface for evaluating one submission
type Evaluator interface {
	Evaluate(ctx context.Context, req pipeline.Request) model.FraudAssessment
}

// EvaluateResult is the outcome of one manifest row
type EvaluateResult struct {
	Item       ManifestItem
	Assessment *model.FraudAssessment
	Error      error
}

// IndexResult is the outcome of indexing one historical receipt
type IndexResult struct {
	Item    ManifestItem
	Digest  string
	Skipped bool // already in the corpus
	Error   error
}

// BatchProcessor evaluates or indexes manifest items concurrently
type BatchProcessor struct {
	fetcher     receiptstore.Fetcher
	concurrency int
}

// NewBatchProcessor creates a batch processor reading receipts through fetcher
func NewBatchProcessor(fetcher receiptstore.Fetcher, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		fetcher:     fetcher,
		concurrency: concurrency,
	}
}

// Evaluate runs every item through eval. Results keep item order; items
// never started because ctx ended carry its error.
func (b *BatchProcessor) Evaluate(ctx context.Context, eval Evaluator, items []ManifestItem) []*EvaluateResult {
	if len(items) == 0 {
		return []*EvaluateResult{}
	}

	results := make([]*EvaluateResult, len(items))
	jobs := make([]Job[int], len(items))
	for i, item := range items {
		jobs[i] = func(ctx context.Context) int {
			results[i] = b.evaluateOne(ctx, eval, item)
			return i
		}
	}
	Run(ctx, b.concurrency, jobs)

	for i, r := range results {
		if r == nil {
			results[i] = &EvaluateResult{Item: items[i], Error: fmt.Errorf("not evaluated: %w", context.Cause(ctx))}
		}
	}
	return results
}

func (b *BatchProcessor) evaluateOne(ctx context.Context, eval Evaluator, item ManifestItem) *EvaluateResult {
	data, err := b.fetcher.Fetch(ctx, item.Path)
	if err != nil {
		return &EvaluateResult{Item: item, Error: fmt.Errorf("load receipt: %w", err)}
	}

	assessment := eval.Evaluate(ctx, pipeline.Request{
		Image:            model.ReceiptImage{Data: data},
		ExpectedAmount:   item.ExpectedAmount,
		AcceptedAccounts: item.AcceptedAccounts,
		SubmitterID:      item.SubmitterID,
		SubmissionRef:    item.SubmissionRef,
		PriorReceipts:    item.PriorReceipts,
	})
	return &EvaluateResult{Item: item, Assessment: &assessment}
}

// EvaluateFile reads a manifest and evaluates it
func (b *BatchProcessor) EvaluateFile(ctx context.Context, eval Evaluator, filePath string) ([]*EvaluateResult, error) {
	items, err := ReadManifest(filePath)
	if err != nil {
		return nil, err
	}
	return b.Evaluate(ctx, eval, items), nil
}

// Index records historical receipts in the corpus without evaluating
// them. Items without a submission ref are keyed by their path.
func (b *BatchProcessor) Index(ctx context.Context, store corpus.Store, items []ManifestItem) []*IndexResult {
	if len(items) == 0 {
		return []*IndexResult{}
	}

	results := make([]*IndexResult, len(items))
	jobs := make([]Job[int], len(items))
	for i, item := range items {
		jobs[i] = func(ctx context.Context) int {
			results[i] = b.indexOne(ctx, store, item)
			return i
		}
	}
	Run(ctx, b.concurrency, jobs)

	for i, r := range results {
		if r == nil {
			results[i] = &IndexResult{Item: items[i], Error: fmt.Errorf("not indexed: %w", context.Cause(ctx))}
		}
	}

	if n, err := store.Count(ctx); err == nil {
		metrics.SetCorpusEntries(n)
	}
	return results
}

func (b *BatchProcessor) indexOne(ctx context.Context, store corpus.Store, item ManifestItem) *IndexResult {
	ref := item.SubmissionRef
	if ref == "" {
		ref = item.Path
	}

	data, err := b.fetcher.Fetch(ctx, item.Path)
	if err != nil {
		return &IndexResult{Item: item, Error: fmt.Errorf("load receipt: %w", err)}
	}

	fp, err := duplicate.Fingerprint(data)
	if err != nil {
		return &IndexResult{Item: item, Digest: fp.Digest, Error: fmt.Errorf("fingerprint: %w", err)}
	}

	err = store.Record(ctx, corpus.Entry{
		SubmissionRef: ref,
		SubmitterID:   item.SubmitterID,
		Digest:        fp.Digest,
		Signature:     fp.Signature,
		RecordedAt:    time.Now().UTC(),
	})
	switch {
	case errors.Is(err, corpus.ErrDuplicateReference):
		return &IndexResult{Item: item, Digest: fp.Digest, Skipped: true}
	case err != nil:
		logging.Warn("Failed to index receipt", zap.String("path", item.Path), zap.Error(err))
		return &IndexResult{Item: item, Digest: fp.Digest, Error: fmt.Errorf("record: %w", err)}
	}
	return &IndexResult{Item: item, Digest: fp.Digest}
}

// GetError returns the error from the result
func (r *EvaluateResult) GetError() error {
	return r.Error
}

// GetError returns the error from the result
func (r *IndexResult) GetError() error {
	return r.Error
}
