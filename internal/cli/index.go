package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ppiankov/receiptguard/internal/worker"
	"github.com/spf13/cobra"
)

var indexTimeout time.Duration

// indexCmd seeds the corpus with historical receipts
var indexCmd = &cobra.Command{
	Use:   "index <manifest.csv>",
	Short: "Record historical receipts in the corpus without evaluating them",
	Long: `Index fingerprints the receipts listed in a manifest and records them in
the corpus, so later submissions are checked against them. Rows without a
submission_ref are keyed by their path; rows already in the corpus are skipped.

Example:
  receiptguard index history.csv --concurrency 8`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)

	indexCmd.Flags().IntVar(&concurrency, "concurrency", 4, "number of concurrent workers")
	indexCmd.Flags().DurationVar(&indexTimeout, "timeout", 30*time.Minute, "total timeout for indexing")
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.Worker.Concurrency = concurrency
	}
	// indexing never calls the validator
	cfg.Validator.Enabled = false
	if err := cfg.Validate(); err != nil {
		return err
	}

	items, err := worker.ReadManifest(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), indexTimeout)
	defer cancel()

	rt, err := buildRuntime(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	fmt.Fprintf(os.Stderr, "Indexing %d receipts with %d workers...\n", len(items), cfg.Worker.Concurrency)

	processor := worker.NewBatchProcessor(rt.fetcher, cfg.Worker.Concurrency)
	results := processor.Index(ctx, rt.corpus, items)

	indexed, skipped, failed := 0, 0, 0
	for _, r := range results {
		switch {
		case r.Error != nil:
			failed++
			fmt.Fprintf(os.Stderr, "%s %s: %v\n", red("✗"), r.Item.Path, r.Error)
		case r.Skipped:
			skipped++
			if verbose {
				fmt.Fprintf(os.Stderr, "%s %s\n", faint("="), r.Item.Path)
			}
		default:
			indexed++
			if verbose {
				fmt.Fprintf(os.Stderr, "%s %s %s\n", green("✓"), r.Item.Path, faint(r.Digest[:12]))
			}
		}
	}

	total, _ := rt.corpus.Count(ctx)
	fmt.Fprintf(os.Stderr, "\n  Indexed:  %d\n  Skipped:  %d\n  Failed:   %d\n  Corpus:   %d entries\n\n", indexed, skipped, failed, total)
	if failed > 0 {
		return fmt.Errorf("%d receipts could not be indexed", failed)
	}
	return nil
}
