package forensics

import (
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/receiptguard/internal/model"
)

// DefaultEditingTools are Software-field substrings of known image editors
var DefaultEditingTools = []string{
	"photoshop",
	"gimp",
	"paint.net",
	"pixlr",
	"canva",
	"affinity",
	"lightroom",
	"snapseed",
	"picsart",
}

// maxModificationDelay is how long after capture a file may be re-saved
// before it is flagged
const maxModificationDelay = 24 * time.Hour

// MetadataAnalyzer classifies screenshots and flags editing traces in EXIF
type MetadataAnalyzer struct {
	editingTools []string
}

// NewMetadataAnalyzer creates an analyzer with the default editor list
func NewMetadataAnalyzer() *MetadataAnalyzer {
	return &MetadataAnalyzer{editingTools: DefaultEditingTools}
}

// Analyze inspects the receipt's capture metadata
func (a *MetadataAnalyzer) Analyze(img model.ReceiptImage) model.MetadataAssessment {
	return a.Assess(ReadCaptureMetadata(img.Data))
}

// Assess applies the metadata rules to already-extracted fields
func (a *MetadataAnalyzer) Assess(meta CaptureMetadata) model.MetadataAssessment {
	if !meta.Present {
		return model.MetadataAssessment{
			IsProbableScreenshot: true,
			RiskTier:             model.RiskLow,
			Explanation:          "Receipt is a screenshot (no capture metadata)",
		}
	}
	if !meta.HasCamera() {
		return model.MetadataAssessment{
			IsProbableScreenshot: true,
			RiskTier:             model.RiskLow,
			Explanation:          "Receipt is a screenshot (no camera make or model)",
		}
	}

	result := model.MetadataAssessment{HasCaptureMetadata: true}

	software := strings.ToLower(meta.Software)
	for _, tool := range a.editingTools {
		if software != "" && strings.Contains(software, tool) {
			result.EditingToolDetected = true
			result.Flags = append(result.Flags, fmt.Sprintf("Edited with: %s", meta.Software))
			break
		}
	}

	if meta.DateTimeOriginal != "" && meta.DateTimeDigitized != "" &&
		meta.DateTimeOriginal != meta.DateTimeDigitized {
		result.TimestampAnomaly = true
		result.Flags = append(result.Flags, "Date mismatch between capture and digitization")
	}

	orig, okOrig := parseExifTime(meta.DateTimeOriginal)
	mod, okMod := parseExifTime(meta.DateTime)
	if okOrig && okMod {
		if delay := mod.Sub(orig); delay > maxModificationDelay {
			result.TimestampAnomaly = true
			result.Flags = append(result.Flags, fmt.Sprintf("Modified %.1f hours after capture", delay.Hours()))
		}
	}

	switch {
	case len(result.Flags) >= 2:
		result.RiskTier = model.RiskHigh
	case len(result.Flags) == 1:
		result.RiskTier = model.RiskMedium
	default:
		result.RiskTier = model.RiskLow
	}

	if len(result.Flags) > 0 {
		result.Explanation = strings.Join(result.Flags, "; ")
	} else {
		result.Explanation = "Metadata appears authentic"
	}
	return result
}
