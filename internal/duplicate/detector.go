// Package duplicate decides whether a receipt was submitted before, by the
// same submitter (partial-payment resubmission) or by anyone else.
package duplicate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ppiankov/receiptguard/internal/cache"
	"github.com/ppiankov/receiptguard/internal/corpus"
	"github.com/ppiankov/receiptguard/internal/logging"
	"github.com/ppiankov/receiptguard/internal/model"
	"github.com/ppiankov/receiptguard/internal/phash"
	"github.com/ppiankov/receiptguard/internal/receiptstore"
	"go.uber.org/zap"
)

// Messages shown to submitters. The same-submitter ones guide rather than accuse.
const (
	msgSameExact       = "You already submitted this exact receipt. Please submit a NEW receipt for the remaining amount."
	msgSameSimilar     = "This receipt is %.1f%% similar to one you already submitted. Please submit a NEW receipt for the remaining amount."
	msgCrossExact      = "Exact duplicate - identical receipt submitted by another user"
	msgCrossSimilar    = "Duplicate detected (%.1f%% similar) - receipt used by another user"
	msgNoDuplicate     = "No duplicates found"
	msgNoSignature     = "Could not compute image signature: %v"
	msgCorpusUnavail   = "Duplicate check unavailable: %v"
	highRiskSimilarity = 90.0
)

// Request is one duplicate check
type Request struct {
	Image         model.ReceiptImage
	SubmitterID   string
	SubmissionRef string   // excluded from corpus lookups
	PriorReceipts []string // same-submitter references, entries may be comma-separated

	// Fingerprint, when set, is used instead of hashing Image again
	Fingerprint *cache.Fingerprint
}

// Detector checks receipts against same-submitter priors and the corpus
type Detector struct {
	store     corpus.Store
	fetcher   receiptstore.Fetcher
	prints    *cache.FingerprintCache
	threshold float64
}

// NewDetector creates a detector. fetcher and prints may be nil; priors
// that are neither in the corpus nor fetchable are skipped.
func NewDetector(store corpus.Store, fetcher receiptstore.Fetcher, prints *cache.FingerprintCache, threshold float64) *Detector {
	return &Detector{
		store:     store,
		fetcher:   fetcher,
		prints:    prints,
		threshold: threshold,
	}
}

// Fingerprint computes the digest and signature of raw receipt bytes
func Fingerprint(data []byte) (cache.Fingerprint, error) {
	fp := cache.Fingerprint{Digest: phash.Digest(data)}
	sig, err := phash.ComputeBytes(data)
	if err != nil {
		return fp, err
	}
	fp.Signature = sig
	return fp, nil
}

type prior struct {
	ref string
	fp  cache.Fingerprint
}

// Check runs the duplicate checks in priority order: exact against priors,
// exact against the corpus, perceptual against priors, perceptual against
// the corpus. It never returns an error; failures degrade to UNKNOWN.
func (d *Detector) Check(ctx context.Context, req Request) model.DuplicateAssessment {
	var fp cache.Fingerprint
	var sigErr error
	if req.Fingerprint != nil {
		fp = *req.Fingerprint
		if fp.Signature.IsZero() {
			sigErr = errors.New("empty signature")
		}
	} else {
		fp, sigErr = Fingerprint(req.Image.Data)
	}

	priors := d.resolvePriors(ctx, req.PriorReceipts)
	checked := len(priors)

	for _, p := range priors {
		if p.fp.Digest == fp.Digest {
			return sameSubmitterMatch(p.ref, 100, checked, msgSameExact)
		}
	}

	exact, err := d.store.FindByExactDigest(ctx, fp.Digest, req.SubmissionRef)
	switch {
	case err == nil:
		if req.SubmitterID != "" && exact.SubmitterID == req.SubmitterID {
			return sameSubmitterMatch(exact.SubmissionRef, 100, checked, msgSameExact)
		}
		ref := exact.SubmissionRef
		logging.Warn("Exact duplicate across submitters",
			zap.String("submission_ref", req.SubmissionRef),
			zap.String("matched_ref", ref))
		return model.DuplicateAssessment{
			IsDuplicate:          true,
			MatchType:            model.MatchExact,
			SimilarityPercentage: 100,
			MatchedSubmissionRef: &ref,
			CrossSubmitterExact:  true,
			CandidatesChecked:    checked + 1,
			RiskTier:             model.RiskHigh,
			Message:              msgCrossExact,
		}
	case !errors.Is(err, corpus.ErrNotFound):
		return corpusUnavailable(err, checked)
	}

	if sigErr != nil {
		return model.DuplicateAssessment{
			MatchType:         model.MatchDifferent,
			CandidatesChecked: checked,
			RiskTier:          model.RiskUnknown,
			Message:           fmt.Sprintf(msgNoSignature, sigErr),
		}
	}

	var bestPrior *prior
	bestPriorSim := -1.0
	for i := range priors {
		if priors[i].fp.Signature.IsZero() {
			continue
		}
		if sim := phash.Similarity(fp.Signature, priors[i].fp.Signature); sim > bestPriorSim {
			bestPriorSim = sim
			bestPrior = &priors[i]
		}
	}
	if bestPrior != nil && bestPriorSim >= d.threshold {
		return sameSubmitterMatch(bestPrior.ref, bestPriorSim, checked, fmt.Sprintf(msgSameSimilar, bestPriorSim))
	}

	match, err := d.store.FindBestMatch(ctx, fp.Signature, req.SubmissionRef)
	if errors.Is(err, corpus.ErrNotFound) {
		return model.DuplicateAssessment{
			MatchType:         model.MatchDifferent,
			CandidatesChecked: checked,
			RiskTier:          model.RiskLow,
			Message:           msgNoDuplicate,
		}
	}
	if err != nil {
		return corpusUnavailable(err, checked)
	}
	if n, err := d.store.Count(ctx); err == nil {
		checked += n
	}

	sim := match.Similarity
	result := model.DuplicateAssessment{
		IsDuplicate:          sim >= d.threshold,
		MatchType:            model.ClassifyMatch(sim),
		SimilarityPercentage: sim,
		CandidatesChecked:    checked,
	}
	if !result.IsDuplicate {
		result.RiskTier = model.RiskLow
		result.Message = fmt.Sprintf("%s (best similarity %.1f%%)", msgNoDuplicate, sim)
		return result
	}

	if req.SubmitterID != "" && match.Entry.SubmitterID == req.SubmitterID {
		return sameSubmitterMatch(match.Entry.SubmissionRef, sim, checked, fmt.Sprintf(msgSameSimilar, sim))
	}

	ref := match.Entry.SubmissionRef
	result.MatchedSubmissionRef = &ref
	result.CrossSubmitterExact = result.MatchType == model.MatchExact
	result.RiskTier = model.RiskMedium
	if sim >= highRiskSimilarity {
		result.RiskTier = model.RiskHigh
	}
	result.Message = fmt.Sprintf(msgCrossSimilar, sim)
	logging.Warn("Similar duplicate across submitters",
		zap.String("submission_ref", req.SubmissionRef),
		zap.String("matched_ref", ref),
		zap.Float64("similarity", sim))
	return result
}

func sameSubmitterMatch(ref string, sim float64, checked int, msg string) model.DuplicateAssessment {
	tier := model.RiskMedium
	if sim >= highRiskSimilarity {
		tier = model.RiskHigh
	}
	return model.DuplicateAssessment{
		IsDuplicate:          true,
		MatchType:            model.ClassifyMatch(sim),
		SimilarityPercentage: sim,
		MatchedSubmissionRef: &ref,
		SameSubmitter:        true,
		CandidatesChecked:    checked,
		RiskTier:             tier,
		Message:              msg,
	}
}

func corpusUnavailable(err error, checked int) model.DuplicateAssessment {
	logging.Error("Corpus lookup failed", zap.Error(err))
	return model.DuplicateAssessment{
		MatchType:         model.MatchDifferent,
		CandidatesChecked: checked,
		RiskTier:          model.RiskUnknown,
		Message:           fmt.Sprintf(msgCorpusUnavail, err),
	}
}

// SplitReferences expands comma-separated entries, trims and de-duplicates
func SplitReferences(refs []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range refs {
		for _, part := range strings.Split(r, ",") {
			part = strings.TrimSpace(part)
			if part == "" || seen[part] {
				continue
			}
			seen[part] = true
			out = append(out, part)
		}
	}
	return out
}

// resolvePriors finds a fingerprint for each prior reference: corpus first,
// then the fingerprint cache, then the receipt store
func (d *Detector) resolvePriors(ctx context.Context, refs []string) []prior {
	var out []prior
	for _, ref := range SplitReferences(refs) {
		fp, err := d.priorFingerprint(ctx, ref)
		if err != nil {
			logging.Warn("Skipping prior receipt", zap.String("ref", ref), zap.Error(err))
			continue
		}
		out = append(out, prior{ref: ref, fp: fp})
	}
	return out
}

func (d *Detector) priorFingerprint(ctx context.Context, ref string) (cache.Fingerprint, error) {
	if e, err := d.store.FindByReference(ctx, ref); err == nil {
		return cache.Fingerprint{Digest: e.Digest, Signature: e.Signature}, nil
	}
	if d.prints != nil {
		if fp, ok := d.prints.Get(ref); ok {
			return fp, nil
		}
	}
	if d.fetcher == nil {
		return cache.Fingerprint{}, fmt.Errorf("prior %s: not in corpus and no receipt store", ref)
	}

	data, err := d.fetcher.Fetch(ctx, ref)
	if err != nil {
		return cache.Fingerprint{}, err
	}
	fp, err := Fingerprint(data)
	if err != nil {
		// the digest alone still supports the exact check
		logging.Debug("Prior receipt not decodable", zap.String("ref", ref), zap.Error(err))
		return fp, nil
	}
	if d.prints != nil {
		if err := d.prints.Put(ref, fp); err != nil {
			logging.Debug("Fingerprint cache write failed", zap.String("ref", ref), zap.Error(err))
		}
	}
	return fp, nil
}
