// Package pipeline evaluates one receipt end to end: the evidence
// extractors run concurrently, the submission is recorded and re-checked,
// and the scorer produces the verdict.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ppiankov/receiptguard/internal/cache"
	"github.com/ppiankov/receiptguard/internal/corpus"
	"github.com/ppiankov/receiptguard/internal/duplicate"
	"github.com/ppiankov/receiptguard/internal/forensics"
	"github.com/ppiankov/receiptguard/internal/lock"
	"github.com/ppiankov/receiptguard/internal/logging"
	"github.com/ppiankov/receiptguard/internal/metrics"
	"github.com/ppiankov/receiptguard/internal/model"
	"github.com/ppiankov/receiptguard/internal/receiptstore"
	"github.com/ppiankov/receiptguard/internal/score"
	"github.com/ppiankov/receiptguard/internal/validate"
	"go.uber.org/zap"
)

var errValidatorDisabled = errors.New("content validator disabled")

// Request is one receipt submission
type Request struct {
	Image            model.ReceiptImage
	ExpectedAmount   float64
	AcceptedAccounts []string
	SubmitterID      string
	// SubmissionRef identifies this submission in the corpus; generated when empty
	SubmissionRef string
	// PriorReceipts are references to the submitter's earlier receipts for
	// the same payment
	PriorReceipts []string
}

// Deps are the collaborators a pipeline needs. Only Corpus is required.
type Deps struct {
	Corpus    corpus.Store
	Fetcher   receiptstore.Fetcher
	Prints    *cache.FingerprintCache
	Locker    lock.Locker
	Validator validate.Validator // nil: every receipt goes to manual review
}

// Options change how Evaluate treats the corpus
type Options struct {
	// Record appends each evaluated submission to the corpus. Without it an
	// evaluation is a dry run.
	Record bool
}

// Pipeline orchestrates the complete evaluation
type Pipeline struct {
	metadata  *forensics.MetadataAnalyzer
	tamper    *forensics.TamperDetector
	detector  *duplicate.Detector
	validator validate.Validator
	sanity    *validate.Sanity
	scorer    *score.Scorer
	store     corpus.Store
	locker    lock.Locker

	record   bool
	timeout  time.Duration
	lockWait time.Duration
	now      func() time.Time
}

// NewPipeline creates a new pipeline with the given configuration
func NewPipeline(cfg *model.Config, deps Deps, opts Options) *Pipeline {
	return &Pipeline{
		metadata:  forensics.NewMetadataAnalyzer(),
		tamper:    forensics.NewTamperDetector(cfg.Tamper),
		detector:  duplicate.NewDetector(deps.Corpus, deps.Fetcher, deps.Prints, cfg.Duplicate.Threshold),
		validator: deps.Validator,
		sanity:    validate.NewSanity(cfg.Sanity, deps.Corpus),
		scorer:    score.NewScorer(cfg.Weights),
		store:     deps.Corpus,
		locker:    deps.Locker,
		record:    opts.Record,
		timeout:   cfg.Pipeline.Timeout,
		lockWait:  cfg.Lock.Wait,
		now:       time.Now,
	}
}

// signals are the sub-assessments gathered for one submission
type signals struct {
	metadata  model.MetadataAssessment
	tamper    model.TamperAssessment
	duplicate model.DuplicateAssessment
	content   model.ContentValidation
}

// Evaluate produces the verdict for one submission. It never fails:
// every collaborator failure degrades into its sub-assessment.
func (p *Pipeline) Evaluate(ctx context.Context, req Request) model.FraudAssessment {
	start := time.Now()
	if req.SubmissionRef == "" {
		req.SubmissionRef = uuid.NewString()
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	fp, fpErr := duplicate.Fingerprint(req.Image.Data)

	release := p.acquire(ctx, req.SubmitterID, fp.Digest)
	defer release()

	var given *cache.Fingerprint
	if fpErr == nil {
		given = &fp
	}
	s := p.collect(ctx, req, given)

	p.sanity.Apply(ctx, &s.content, validate.SanityInput{
		ExpectedAmount:   req.ExpectedAmount,
		AcceptedAccounts: req.AcceptedAccounts,
		SubmissionRef:    req.SubmissionRef,
	})

	if p.record && fpErr == nil {
		s.duplicate = p.recordAndRecheck(ctx, req, fp, s)
	}
	countDuplicate(s.duplicate)

	result := p.scorer.Calculate(score.Inputs{
		Metadata:  s.metadata,
		Tamper:    s.tamper,
		Duplicate: s.duplicate,
		Content:   s.content,
	})
	result.SubmissionRef = req.SubmissionRef
	result.SubmitterID = req.SubmitterID
	result.Digest = fp.Digest
	result.EvaluatedAt = p.now().UTC()

	elapsed := time.Since(start)
	metrics.ObserveEvaluation(string(result.Action), result.FraudScore, elapsed.Seconds())
	logging.Info("Receipt evaluated",
		zap.String("submission_ref", result.SubmissionRef),
		zap.String("submitter_id", result.SubmitterID),
		zap.Int("score", result.FraudScore),
		zap.String("action", string(result.Action)),
		zap.Duration("elapsed", elapsed))

	return result
}

// collect runs the four extractors concurrently and waits for all of them
func (p *Pipeline) collect(ctx context.Context, req Request, fp *cache.Fingerprint) signals {
	var s signals
	var wg sync.WaitGroup

	run := func(signal model.SignalType, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			fn()
			metrics.ObserveSignal(string(signal), time.Since(start).Seconds())
		}()
	}

	run(model.SignalMetadata, func() {
		s.metadata = p.metadata.Analyze(req.Image)
	})
	run(model.SignalTamper, func() {
		s.tamper = p.tamper.Analyze(req.Image)
	})
	run(model.SignalDuplicate, func() {
		s.duplicate = p.detector.Check(ctx, duplicate.Request{
			Image:         req.Image,
			SubmitterID:   req.SubmitterID,
			SubmissionRef: req.SubmissionRef,
			PriorReceipts: req.PriorReceipts,
			Fingerprint:   fp,
		})
	})
	run(model.SignalContent, func() {
		s.content = p.validateContent(ctx, req)
	})

	wg.Wait()
	return s
}

func (p *Pipeline) validateContent(ctx context.Context, req Request) model.ContentValidation {
	if p.validator == nil {
		return model.UnavailableValidation("", 0, errValidatorDisabled)
	}

	cv, err := p.validator.Validate(ctx, validate.Request{
		Image:            req.Image,
		ExpectedAmount:   req.ExpectedAmount,
		AcceptedAccounts: req.AcceptedAccounts,
	})
	if err != nil {
		logging.Warn("Content validation unavailable",
			zap.String("submission_ref", req.SubmissionRef),
			zap.Error(err))
		if cv == nil || cv.Available {
			return model.UnavailableValidation(validatorName(p.validator), 0, err)
		}
	}
	if cv == nil {
		return model.UnavailableValidation(validatorName(p.validator), 0, errors.New("empty validation result"))
	}
	return *cv
}

// recordAndRecheck appends the submission and looks again. A match that
// only shows up now was recorded by a concurrent submission.
func (p *Pipeline) recordAndRecheck(ctx context.Context, req Request, fp cache.Fingerprint, s signals) model.DuplicateAssessment {
	dup := s.duplicate

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), model.RecordTimeout)
	defer cancel()

	entry := corpus.Entry{
		SubmissionRef: req.SubmissionRef,
		SubmitterID:   req.SubmitterID,
		Digest:        fp.Digest,
		Signature:     fp.Signature,
		TransactionID: s.content.TransactionID,
		RecordedAt:    p.now().UTC(),
	}
	if err := p.store.Record(rctx, entry); err != nil {
		if errors.Is(err, corpus.ErrDuplicateReference) {
			logging.Warn("Submission already recorded", zap.String("submission_ref", req.SubmissionRef))
		} else {
			logging.Error("Failed to record submission", zap.String("submission_ref", req.SubmissionRef), zap.Error(err))
		}
		return dup
	}
	if n, err := p.store.Count(rctx); err == nil {
		metrics.SetCorpusEntries(n)
	}

	if dup.IsDuplicate || dup.RiskTier == model.RiskUnknown {
		return dup
	}

	again := p.detector.Check(rctx, duplicate.Request{
		Image:         req.Image,
		SubmitterID:   req.SubmitterID,
		SubmissionRef: req.SubmissionRef,
		Fingerprint:   &fp,
	})
	if !again.IsDuplicate {
		return dup
	}
	again.ConcurrentMatch = true
	logging.Warn("Concurrent duplicate detected after recording",
		zap.String("submission_ref", req.SubmissionRef),
		zap.Float64("similarity", again.SimilarityPercentage))
	return again
}

// acquire takes the advisory lock for the submitter, or for the digest of
// anonymous submissions. The re-check after recording still catches races
// when the lock cannot be had, so failure only logs.
func (p *Pipeline) acquire(ctx context.Context, submitter, digest string) func() {
	if p.locker == nil {
		return func() {}
	}
	key := "submitter:" + submitter
	if submitter == "" {
		key = "digest:" + digest
	}

	lctx := ctx
	if p.lockWait > 0 {
		var cancel context.CancelFunc
		lctx, cancel = context.WithTimeout(ctx, p.lockWait)
		defer cancel()
	}

	release, err := p.locker.Lock(lctx, key)
	if err != nil {
		logging.Warn("Proceeding without submitter lock", zap.String("key", key), zap.Error(err))
		return func() {}
	}
	return release
}

func countDuplicate(d model.DuplicateAssessment) {
	switch {
	case !d.IsDuplicate:
	case d.ConcurrentMatch:
		metrics.IncDuplicate("concurrent")
	case d.SameSubmitter:
		metrics.IncDuplicate("same_submitter")
	default:
		metrics.IncDuplicate("cross_submitter")
	}
}

func validatorName(v validate.Validator) string {
	if n, ok := v.(interface{ Name() string }); ok {
		return n.Name()
	}
	return ""
}
