package model

import "time"

// Action is the terminal decision handed to the enrollment workflow
type Action string

const (
	ActionApprove      Action = "APPROVE"
	ActionManualReview Action = "MANUAL_REVIEW"
	ActionReject       Action = "REJECT"
)

// FraudAssessment is the consolidated verdict for one submission.
// It is created once by the scorer and passed around by value.
type FraudAssessment struct {
	FraudScore           int      `json:"fraud_score"`
	RiskTier             RiskTier `json:"risk_tier"`
	Action               Action   `json:"action"`
	Indicators           []string `json:"indicators"`
	RequiresManualReview bool     `json:"requires_manual_review"`

	Breakdown []ScoreComponent `json:"breakdown"`

	Metadata  MetadataAssessment  `json:"metadata"`
	Tamper    TamperAssessment    `json:"tamper"`
	Duplicate DuplicateAssessment `json:"duplicate"`
	Content   ContentValidation   `json:"content"`

	SubmissionRef string    `json:"submission_ref,omitempty"`
	SubmitterID   string    `json:"submitter_id,omitempty"`
	Digest        string    `json:"digest,omitempty"`
	EvaluatedAt   time.Time `json:"evaluated_at"`
}

// ScoreComponent is one weighted contribution to the fraud score
type ScoreComponent struct {
	Signal SignalType `json:"signal"`
	Reason string     `json:"reason"`
	Points int        `json:"points"`
}

// SignalType names the evidence source a score component came from
type SignalType string

const (
	SignalMetadata  SignalType = "metadata"
	SignalTamper    SignalType = "tamper"
	SignalDuplicate SignalType = "duplicate"
	SignalContent   SignalType = "content_validation"
)
