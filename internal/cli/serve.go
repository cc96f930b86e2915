package cli

import (
	"os/signal"
	"syscall"

	"github.com/ppiankov/receiptguard/internal/logging"
	"github.com/ppiankov/receiptguard/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var listenAddr string

// serveCmd runs the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the evaluation API over HTTP",
	Long: `Serve exposes the pipeline over HTTP:
  POST /v1/evaluate   multipart upload (field "receipt") returning the assessment
  GET  /healthz       corpus and lock backend health
  GET  /metrics       Prometheus metrics

Every accepted submission is recorded in the corpus.

Example:
  receiptguard serve --addr :8080`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().BoolVar(&validateOn, "validate", false, "enable content validation (overrides config)")
	serveCmd.Flags().StringVar(&llmProvider, "provider", "", "validator provider (openai, anthropic, ollama)")
	serveCmd.Flags().StringVar(&llmModel, "model", "", "validator model name")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyValidatorFlags(cmd, &cfg)
	if listenAddr != "" {
		cfg.Server.Addr = listenAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	if !cfg.Validator.Enabled {
		logging.Warn("Content validator disabled; every receipt will require manual review")
	}
	logging.Info("Starting receiptguard",
		zap.String("version", version),
		zap.String("corpus", cfg.Corpus.Driver),
		zap.String("lock", cfg.Lock.Backend))

	srv := server.New(cfg.Server, rt.pipeline, rt.health)
	return srv.Run(ctx)
}
