package model

// ReceiptImage is the submitted receipt as received from the caller.
// It is never mutated; analyzers only read it and derive transient buffers.
type ReceiptImage struct {
	Data        []byte `json:"-"`
	ContentType string `json:"content_type,omitempty"`
}

// RiskTier is the coarse ordinal classification attached to each signal
type RiskTier string

const (
	RiskUnknown RiskTier = "UNKNOWN"
	RiskLow     RiskTier = "LOW"
	RiskMedium  RiskTier = "MEDIUM"
	RiskHigh    RiskTier = "HIGH"
)

// MetadataAssessment is the output of the capture-metadata analyzer
type MetadataAssessment struct {
	HasCaptureMetadata   bool     `json:"has_capture_metadata"`
	IsProbableScreenshot bool     `json:"is_probable_screenshot"`
	EditingToolDetected  bool     `json:"editing_tool_detected"`
	TimestampAnomaly     bool     `json:"timestamp_anomaly"`
	Flags                []string `json:"flags,omitempty"`
	RiskTier             RiskTier `json:"risk_tier"`
	Explanation          string   `json:"explanation"`
}

// Region is one suspicious cell of the 3x3 error-level grid
type Region struct {
	Label     string  `json:"label"` // e.g. "Top-left", "Center"
	MeanError float64 `json:"mean_error"`
	MaxError  float64 `json:"max_error"`
}

// TamperAssessment is the output of the compression error-level detector
type TamperAssessment struct {
	MaxError          float64  `json:"max_error"`
	MeanError         float64  `json:"mean_error"`
	StdError          float64  `json:"std_error"`
	SuspiciousRegions []Region `json:"suspicious_regions"`
	Reasons           []string `json:"reasons,omitempty"`
	Points            int      `json:"points"`
	IsScreenshot      bool     `json:"is_screenshot"`
	RiskTier          RiskTier `json:"risk_tier"`
	Message           string   `json:"message,omitempty"`
}

// RegionLabels returns the region labels in rank order
func (t TamperAssessment) RegionLabels() []string {
	labels := make([]string, 0, len(t.SuspiciousRegions))
	for _, r := range t.SuspiciousRegions {
		labels = append(labels, r.Label)
	}
	return labels
}

// MatchType classifies a similarity percentage against fixed cut points
type MatchType string

const (
	MatchExact       MatchType = "EXACT"
	MatchVerySimilar MatchType = "VERY_SIMILAR"
	MatchSimilar     MatchType = "SIMILAR"
	MatchDifferent   MatchType = "DIFFERENT"
)

// ClassifyMatch maps a similarity percentage to a MatchType
// (>=98 EXACT, >=85 VERY_SIMILAR, >=75 SIMILAR, else DIFFERENT).
func ClassifyMatch(similarity float64) MatchType {
	switch {
	case similarity >= 98:
		return MatchExact
	case similarity >= 85:
		return MatchVerySimilar
	case similarity >= 75:
		return MatchSimilar
	default:
		return MatchDifferent
	}
}

// DuplicateAssessment is the output of the duplicate detector
type DuplicateAssessment struct {
	IsDuplicate          bool      `json:"is_duplicate"`
	MatchType            MatchType `json:"match_type"`
	SimilarityPercentage float64   `json:"similarity_percentage"`
	MatchedSubmissionRef *string   `json:"matched_submission_reference"`

	// SameSubmitter is set when the match is one of the submitter's own
	// prior partial-payment receipts.
	SameSubmitter bool `json:"same_submitter"`

	// CrossSubmitterExact is set for a byte- or hash-exact match against a
	// receipt recorded for a different submitter.
	CrossSubmitterExact bool `json:"cross_submitter_exact"`

	// ConcurrentMatch is set when the match only became visible after this
	// submission was recorded (a near-simultaneous duplicate).
	ConcurrentMatch bool `json:"concurrent_match"`

	CandidatesChecked int      `json:"candidates_checked"`
	RiskTier          RiskTier `json:"risk_tier"`
	Message           string   `json:"message"`
}

// ContentValidation is the record returned by the external content validator,
// after the local sanity pass has been applied.
type ContentValidation struct {
	IsValid             bool     `json:"is_valid"`
	ExtractedAmount     *float64 `json:"extracted_amount"`
	ExtractedAccount    string   `json:"extracted_account,omitempty"`
	ExtractedDate       string   `json:"extracted_date,omitempty"`
	TransactionID       string   `json:"transaction_id,omitempty"`
	SenderName          string   `json:"sender_name,omitempty"`
	Currency            string   `json:"currency,omitempty"`
	TamperingIndicators []string `json:"tampering_indicators"`
	AuthenticityScore   int      `json:"authenticity_score"`
	Notes               string   `json:"notes,omitempty"`

	// SanityIndicators are produced locally, never by the external service
	SanityIndicators []string `json:"sanity_indicators,omitempty"`

	// Available is false when the validator could not produce a result
	Available            bool   `json:"available"`
	RequiresManualReview bool   `json:"requires_manual_review"`
	Error                string `json:"error,omitempty"`
	Provider             string `json:"provider,omitempty"`
	Attempts             int    `json:"attempts"`
}

// UnavailableValidation returns the conservative record used when the
// validator could not be reached or did not answer in time.
func UnavailableValidation(provider string, attempts int, err error) ContentValidation {
	cv := ContentValidation{
		IsValid:              false,
		TamperingIndicators:  []string{},
		Available:            false,
		RequiresManualReview: true,
		Provider:             provider,
		Attempts:             attempts,
	}
	if err != nil {
		cv.Error = err.Error()
	}
	return cv
}
