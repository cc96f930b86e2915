// Package server exposes the evaluation pipeline over HTTP
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/ppiankov/receiptguard/internal/duplicate"
	"github.com/ppiankov/receiptguard/internal/logging"
	"github.com/ppiankov/receiptguard/internal/model"
	"github.com/ppiankov/receiptguard/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// receiptField is the multipart field carrying the image
const receiptField = "receipt"

// Evaluator produces a verdict for one submission
type Evaluator interface {
	Evaluate(ctx context.Context, req pipeline.Request) model.FraudAssessment
}

// HealthFunc reports whether the backing stores are reachable, returning
// the current corpus size
type HealthFunc func(ctx context.Context) (int, error)

// evaluateForm is the non-file part of an evaluate request
type evaluateForm struct {
	SubmitterID      string   `validate:"max=256"`
	SubmissionRef    string   `validate:"max=256"`
	ExpectedAmount   float64  `validate:"gte=0"`
	AcceptedAccounts []string `validate:"dive,max=64"`
	PriorReceipts    []string `validate:"max=50,dive,max=1024"`
}

// Server is a thin wrapper over chi + stdlib http.Server
type Server struct {
	addr      string
	mux       *chi.Mux
	srv       *http.Server
	eval      Evaluator
	health    HealthFunc
	maxUpload int64
	validate  *validator.Validate
}

// New creates a server. health may be nil.
func New(cfg model.ServerConfig, eval Evaluator, health HealthFunc) *Server {
	s := &Server{
		addr:      cfg.Addr,
		mux:       chi.NewRouter(),
		eval:      eval,
		health:    health,
		maxUpload: cfg.MaxUpload,
		validate:  validator.New(),
	}

	s.mux.Use(middleware.RequestID)
	s.mux.Use(middleware.Recoverer)
	s.mux.Use(requestLogger)

	s.mux.Get("/healthz", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.Route("/v1", func(r chi.Router) {
		r.Post("/evaluate", s.handleEvaluate)
	})

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
	return s
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info("HTTP server listening", zap.String("addr", s.addr))
		err := s.srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || errors.Is(err, multipart.ErrMessageTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", s.maxUpload))
			return
		}
		writeError(w, http.StatusBadRequest, "expected multipart/form-data: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	form, err := parseForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validate.Struct(form); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	file, header, err := r.FormFile(receiptField)
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing receipt file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read receipt: "+err.Error())
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty receipt file")
		return
	}

	result := s.eval.Evaluate(r.Context(), pipeline.Request{
		Image:            model.ReceiptImage{Data: data, ContentType: header.Header.Get("Content-Type")},
		ExpectedAmount:   form.ExpectedAmount,
		AcceptedAccounts: form.AcceptedAccounts,
		SubmitterID:      form.SubmitterID,
		SubmissionRef:    form.SubmissionRef,
		PriorReceipts:    form.PriorReceipts,
	})
	writeJSON(w, http.StatusOK, result)
}

func parseForm(r *http.Request) (evaluateForm, error) {
	form := evaluateForm{
		SubmitterID:      strings.TrimSpace(r.FormValue("submitter_id")),
		SubmissionRef:    strings.TrimSpace(r.FormValue("submission_ref")),
		AcceptedAccounts: listValues(r, "accepted_accounts"),
		PriorReceipts:    duplicate.SplitReferences(r.MultipartForm.Value["prior_receipts"]),
	}
	if raw := strings.TrimSpace(r.FormValue("expected_amount")); raw != "" {
		amount, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return form, fmt.Errorf("invalid expected_amount %q", raw)
		}
		form.ExpectedAmount = amount
	}
	return form, nil
}

// listValues accepts repeated fields as well as comma-separated ones
func listValues(r *http.Request, key string) []string {
	var out []string
	for _, v := range r.MultipartForm.Value[key] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	n, err := s.health(ctx)
	if err != nil {
		logging.Warn("Health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "corpus_entries": n})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("Failed to write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
