package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/ppiankov/receiptguard/internal/duplicate"
	"github.com/ppiankov/receiptguard/internal/model"
	"github.com/ppiankov/receiptguard/internal/pipeline"
	"github.com/spf13/cobra"
)

var (
	submitterID    string
	submissionRef  string
	expectedAmount float64
	accounts       []string
	priors         []string
	outJSON        string
	dryRun         bool
	validateOn     bool
	llmProvider    string
	llmModel       string
)

// evaluateCmd represents the evaluate command
var evaluateCmd = &cobra.Command{
	Use:   "evaluate <receipt>",
	Short: "Evaluate a single receipt image",
	Long: `Evaluate runs one receipt through every check and prints the verdict:
capture metadata, compression error levels, duplicate search against the
corpus and the submitter's prior receipts, and content validation when a
validator is enabled.

The receipt may be a local path, an s3://bucket/key URL or an http(s) URL.
Unless --dry-run is given, the submission is recorded in the corpus.

Example:
  receiptguard evaluate receipt.jpg --submitter u-42 --amount 1500
  receiptguard evaluate receipt.jpg --account 1234-5678 --prior sub-17 --json -
  receiptguard evaluate s3://receipts/u-42/1.jpg --validate --provider anthropic`,
	Args: cobra.ExactArgs(1),
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	// Submission flags
	evaluateCmd.Flags().StringVar(&submitterID, "submitter", "", "submitter id")
	evaluateCmd.Flags().StringVar(&submissionRef, "ref", "", "submission reference (generated when empty)")
	evaluateCmd.Flags().Float64Var(&expectedAmount, "amount", 0, "expected payment amount (0 = unknown)")
	evaluateCmd.Flags().StringSliceVar(&accounts, "account", nil, "accepted receiving account (repeatable)")
	evaluateCmd.Flags().StringSliceVar(&priors, "prior", nil, "prior receipt reference of the same submitter (repeatable)")

	// Output flags
	evaluateCmd.Flags().StringVar(&outJSON, "json", "", "write the full assessment as JSON to this path (- for stdout)")
	evaluateCmd.Flags().BoolVar(&dryRun, "dry-run", false, "do not record the submission in the corpus")

	// Validator flags
	evaluateCmd.Flags().BoolVar(&validateOn, "validate", false, "enable content validation (overrides config)")
	evaluateCmd.Flags().StringVar(&llmProvider, "provider", "", "validator provider (openai, anthropic, ollama)")
	evaluateCmd.Flags().StringVar(&llmModel, "model", "", "validator model name")
}

// applyValidatorFlags lets command flags override the loaded config
func applyValidatorFlags(cmd *cobra.Command, cfg *model.Config) {
	if cmd.Flags().Changed("validate") {
		cfg.Validator.Enabled = validateOn
	}
	if llmProvider != "" {
		cfg.Validator.Provider = llmProvider
	}
	if llmModel != "" {
		cfg.Validator.Model = llmModel
	}
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyValidatorFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Pipeline.Timeout+cfg.Lock.Wait)
	defer cancel()

	rt, err := buildRuntime(ctx, cfg, !dryRun)
	if err != nil {
		return err
	}
	defer rt.Close()

	data, err := rt.fetcher.Fetch(ctx, args[0])
	if err != nil {
		return fmt.Errorf("load receipt: %w", err)
	}

	if verbose {
		fmt.Fprintf(os.Stderr, "Evaluating: %s (%d bytes)\n", args[0], len(data))
		fmt.Fprintf(os.Stderr, "Validator: %v\n", cfg.Validator.Enabled)
		fmt.Fprintf(os.Stderr, "Record: %v\n", !dryRun)
		fmt.Fprintln(os.Stderr)
	}

	result := rt.pipeline.Evaluate(ctx, pipeline.Request{
		Image:            model.ReceiptImage{Data: data, ContentType: http.DetectContentType(data)},
		ExpectedAmount:   expectedAmount,
		AcceptedAccounts: accounts,
		SubmitterID:      submitterID,
		SubmissionRef:    submissionRef,
		PriorReceipts:    duplicate.SplitReferences(priors),
	})

	if outJSON != "" {
		if err := writeJSONFile(outJSON, result); err != nil {
			return fmt.Errorf("write JSON: %w", err)
		}
	}
	if outJSON != "-" {
		fmt.Fprintln(os.Stderr, rule)
		printSummary(os.Stderr, result)
		fmt.Fprintln(os.Stderr, rule)
	}
	return nil
}
