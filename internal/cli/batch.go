package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ppiankov/receiptguard/internal/model"
	"github.com/ppiankov/receiptguard/internal/worker"
	"github.com/spf13/cobra"
)

var (
	concurrency  int
	outputDir    string
	batchTimeout time.Duration
	batchDryRun  bool
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <manifest.csv>",
	Short: "Evaluate the receipts listed in a manifest in parallel",
	Long: `Batch evaluates every receipt listed in a CSV manifest:
- One receipt per row: path,submitter_id,submission_ref,expected_amount,accepted_accounts,prior_receipts
- Only the path column is required; list columns are separated by ';'
- Rows are evaluated concurrently; each writes <output-dir>/<ref>.json
- A summary of actions is printed at the end

Example:
  receiptguard batch manifest.csv
  receiptguard batch manifest.csv --concurrency 8 --output-dir ./verdicts
  receiptguard batch manifest.csv --dry-run --timeout 30m`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	// Concurrency flags
	batchCmd.Flags().IntVar(&concurrency, "concurrency", runtime.NumCPU(), "number of concurrent workers")
	batchCmd.Flags().StringVar(&outputDir, "output-dir", "./receiptguard-verdicts", "output directory for assessments")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 10*time.Minute, "total timeout for batch processing")
	batchCmd.Flags().BoolVar(&batchDryRun, "dry-run", false, "do not record submissions in the corpus")

	// Validator flags
	batchCmd.Flags().BoolVar(&validateOn, "validate", false, "enable content validation (overrides config)")
	batchCmd.Flags().StringVar(&llmProvider, "provider", "", "validator provider (openai, anthropic, ollama)")
	batchCmd.Flags().StringVar(&llmModel, "model", "", "validator model name")
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyValidatorFlags(cmd, &cfg)
	if cmd.Flags().Changed("concurrency") {
		cfg.Worker.Concurrency = concurrency
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), batchTimeout)
	defer cancel()

	fmt.Fprintf(os.Stderr, "\n%s\n  receiptguard batch\n%s\n\n", rule, rule)
	fmt.Fprintf(os.Stderr, "  Manifest:     %s\n", file)
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", cfg.Worker.Concurrency)
	fmt.Fprintf(os.Stderr, "  Output dir:   %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "  Timeout:      %v\n", batchTimeout)
	if cfg.Validator.Enabled {
		fmt.Fprintf(os.Stderr, "  Validator:    %s/%s\n", cfg.Validator.Provider, cfg.Validator.Model)
	}
	fmt.Fprintln(os.Stderr)

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	rt, err := buildRuntime(ctx, cfg, !batchDryRun)
	if err != nil {
		return err
	}
	defer rt.Close()

	processor := worker.NewBatchProcessor(rt.fetcher, cfg.Worker.Concurrency)
	results, err := processor.EvaluateFile(ctx, rt.pipeline, file)
	if err != nil {
		return fmt.Errorf("process manifest: %w", err)
	}

	counts := make(map[model.Action]int)
	failures := 0
	for _, result := range results {
		name := result.Item.SubmissionRef
		if name == "" {
			name = result.Item.Path
		}
		if result.Error != nil {
			failures++
			fmt.Fprintf(os.Stderr, "%s %s: %v\n", red("✗"), name, result.Error)
			continue
		}

		a := result.Assessment
		if err := writeJSONFile(filepath.Join(outputDir, sanitizeFilename(a.SubmissionRef)+".json"), a); err != nil {
			failures++
			fmt.Fprintf(os.Stderr, "%s %s: failed to write JSON: %v\n", red("✗"), name, err)
			continue
		}
		counts[a.Action]++
		fmt.Fprintf(os.Stderr, "%s %s (score: %d/100)\n", actionLabel(a.Action), name, a.FraudScore)
	}

	fmt.Fprintf(os.Stderr, "\n%s\n  Batch Complete\n%s\n\n", rule, rule)
	fmt.Fprintf(os.Stderr, "  Total:          %d receipts\n", len(results))
	fmt.Fprintf(os.Stderr, "  Approved:       %d\n", counts[model.ActionApprove])
	fmt.Fprintf(os.Stderr, "  Manual review:  %d\n", counts[model.ActionManualReview])
	fmt.Fprintf(os.Stderr, "  Rejected:       %d\n", counts[model.ActionReject])
	fmt.Fprintf(os.Stderr, "  Failures:       %d\n", failures)
	fmt.Fprintf(os.Stderr, "  Output:         %s\n\n", outputDir)

	return nil
}
