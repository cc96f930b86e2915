package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/ppiankov/receiptguard/internal/model"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed, color.Bold).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
)

const rule = "═══════════════════════════════════════════════════════════"

// actionLabel colors an action for the terminal
func actionLabel(a model.Action) string {
	switch a {
	case model.ActionApprove:
		return green(string(a))
	case model.ActionReject:
		return red(string(a))
	default:
		return yellow(string(a))
	}
}

// printSummary writes a human-readable verdict
func printSummary(w io.Writer, a model.FraudAssessment) {
	fmt.Fprintf(w, "  Submission:  %s\n", a.SubmissionRef)
	if a.SubmitterID != "" {
		fmt.Fprintf(w, "  Submitter:   %s\n", a.SubmitterID)
	}
	fmt.Fprintf(w, "  Action:      %s\n", actionLabel(a.Action))
	fmt.Fprintf(w, "  Fraud score: %d/100 (%s)\n", a.FraudScore, a.RiskTier)
	fmt.Fprintf(w, "  Duplicate:   %s %.1f%%\n", a.Duplicate.MatchType, a.Duplicate.SimilarityPercentage)
	if !a.Content.Available {
		fmt.Fprintf(w, "  Content:     %s\n", faint("unavailable: "+a.Content.Error))
	} else {
		fmt.Fprintf(w, "  Content:     valid=%v authenticity=%d\n", a.Content.IsValid, a.Content.AuthenticityScore)
	}

	if len(a.Breakdown) > 0 {
		fmt.Fprintln(w)
		for _, c := range a.Breakdown {
			fmt.Fprintf(w, "    +%-3d %-18s %s\n", c.Points, c.Signal, c.Reason)
		}
	}
	if len(a.Indicators) > 0 {
		fmt.Fprintln(w)
		for _, ind := range a.Indicators {
			fmt.Fprintf(w, "  - %s\n", ind)
		}
	}
}

// writeJSONFile writes v as indented JSON; path "-" means stdout
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	data = append(data, '\n')
	if path == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

var filenameReplacer = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
	" ", "-",
)

// sanitizeFilename turns a submission ref or path into a safe file name
func sanitizeFilename(s string) string {
	s = filenameReplacer.Replace(strings.TrimSpace(s))
	s = strings.Trim(s, ".")
	if s == "" {
		s = "receipt"
	}
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}
