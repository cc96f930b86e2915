package score

import (
	"fmt"

	"github.com/ppiankov/receiptguard/internal/model"
)

// Indicator emitted when the content validator produced nothing
const IndicatorValidatorUnavailable = "Content validation unavailable, manual review required"

// Inputs are the four sub-assessments of one submission
type Inputs struct {
	Metadata  model.MetadataAssessment
	Tamper    model.TamperAssessment
	Duplicate model.DuplicateAssessment
	Content   model.ContentValidation
}

// Scorer folds sub-assessments into a fraud score and an action.
// Calculate is pure: the same inputs and weights always give the same result.
type Scorer struct {
	weights model.Weights
}

// NewScorer creates a new scorer
func NewScorer(weights model.Weights) *Scorer {
	return &Scorer{weights: weights}
}

type tally struct {
	components []model.ScoreComponent
	indicators []string
	floor      bool // action may not be better than MANUAL_REVIEW
}

func (t *tally) add(signal model.SignalType, points int, reason string) {
	if points <= 0 {
		return
	}
	t.components = append(t.components, model.ScoreComponent{Signal: signal, Reason: reason, Points: points})
}

func (t *tally) indicate(format string, args ...any) {
	t.indicators = append(t.indicators, fmt.Sprintf(format, args...))
}

// Calculate computes the verdict. Indicators are ordered metadata, tamper,
// duplicate, content validation.
func (s *Scorer) Calculate(in Inputs) model.FraudAssessment {
	t := &tally{}

	s.scoreMetadata(t, in.Metadata)
	s.scoreTamper(t, in.Tamper)
	s.scoreDuplicate(t, in.Duplicate)
	s.scoreContent(t, in.Content)

	total := 0
	for _, c := range t.components {
		total += c.Points
	}
	total = max(0, min(100, total))

	tier, action := s.classify(total)
	if t.floor && action == model.ActionApprove {
		action = model.ActionManualReview
	}

	indicators := t.indicators
	if indicators == nil {
		indicators = []string{}
	}
	breakdown := t.components
	if breakdown == nil {
		breakdown = []model.ScoreComponent{}
	}

	return model.FraudAssessment{
		FraudScore:           total,
		RiskTier:             tier,
		Action:               action,
		Indicators:           indicators,
		RequiresManualReview: action == model.ActionManualReview,
		Breakdown:            breakdown,
		Metadata:             in.Metadata,
		Tamper:               in.Tamper,
		Duplicate:            in.Duplicate,
		Content:              in.Content,
	}
}

// classify maps a clamped score onto tier and action
func (s *Scorer) classify(score int) (model.RiskTier, model.Action) {
	switch {
	case score >= s.weights.HighRiskThreshold:
		return model.RiskHigh, model.ActionReject
	case score >= s.weights.MediumRiskThreshold:
		return model.RiskMedium, model.ActionManualReview
	default:
		return model.RiskLow, model.ActionApprove
	}
}

func (s *Scorer) scoreMetadata(t *tally, m model.MetadataAssessment) {
	switch m.RiskTier {
	case model.RiskHigh:
		t.add(model.SignalMetadata, s.weights.MetadataHigh, "Capture metadata risk HIGH")
	case model.RiskMedium:
		t.add(model.SignalMetadata, s.weights.MetadataMedium, "Capture metadata risk MEDIUM")
	default:
		return
	}
	for _, f := range m.Flags {
		t.indicate("Metadata: %s", f)
	}
}

func (s *Scorer) scoreTamper(t *tally, ta model.TamperAssessment) {
	switch ta.RiskTier {
	case model.RiskHigh:
		t.add(model.SignalTamper, s.weights.TamperHigh, "Compression error level risk HIGH")
	case model.RiskMedium:
		t.add(model.SignalTamper, s.weights.TamperMedium, "Compression error level risk MEDIUM")
	default:
		return
	}
	for _, r := range ta.Reasons {
		t.indicate("Tamper: %s", r)
	}
}

func (s *Scorer) scoreDuplicate(t *tally, d model.DuplicateAssessment) {
	if d.ConcurrentMatch {
		t.floor = true
	}
	if !d.IsDuplicate {
		if d.RiskTier == model.RiskUnknown && d.Message != "" {
			t.indicate("Duplicate check: %s", d.Message)
		}
		return
	}

	t.add(model.SignalDuplicate, s.weights.Duplicate, fmt.Sprintf("Duplicate receipt (%s, %.1f%% similar)", d.MatchType, d.SimilarityPercentage))
	if d.CrossSubmitterExact {
		t.add(model.SignalDuplicate, s.weights.ExactReuse, "Exact reuse of another submitter's receipt")
	}
	t.indicate("Duplicate: %s", d.Message)
	if d.ConcurrentMatch {
		t.indicate("Duplicate: submitted concurrently with a matching receipt")
	}
}

func (s *Scorer) scoreContent(t *tally, c model.ContentValidation) {
	if !c.Available {
		// missing evidence is not scored, only routed to a human
		t.floor = true
		t.indicators = append(t.indicators, IndicatorValidatorUnavailable)
		return
	}
	if c.RequiresManualReview {
		t.floor = true
	}

	if !c.IsValid {
		reason := "Content validation failed"
		if c.Notes != "" {
			reason += ": " + c.Notes
		}
		t.add(model.SignalContent, s.weights.ContentFailure, reason)
		t.indicators = append(t.indicators, reason)
	}

	if n := len(c.TamperingIndicators); n > 0 {
		points := min(n*s.weights.IndicatorEach, s.weights.IndicatorCap)
		t.add(model.SignalContent, points, fmt.Sprintf("%d visual tampering indicator(s)", n))
		for _, ind := range c.TamperingIndicators {
			t.indicate("Tampering: %s", ind)
		}
	}

	if c.AuthenticityScore < s.weights.AuthenticityCutoff {
		t.add(model.SignalContent, s.weights.LowAuthenticity, fmt.Sprintf("Authenticity score %d below %d", c.AuthenticityScore, s.weights.AuthenticityCutoff))
		t.indicate("Low authenticity score: %d%%", c.AuthenticityScore)
	}

	for _, si := range c.SanityIndicators {
		t.indicate("Content: %s", si)
	}
}
