package validate

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/receiptguard/internal/llm"
	"github.com/ppiankov/receiptguard/internal/model"
)

func init() {
	// Disable retry sleep in all tests for fast execution
	validateSleepFunc = func(ctx context.Context, d time.Duration) {}
}

type stubValidator struct {
	calls   int32
	results []error // error per call; nil means success
	delay   time.Duration
}

func (s *stubValidator) Validate(ctx context.Context, req Request) (*model.ContentValidation, error) {
	n := int(atomic.AddInt32(&s.calls, 1)) - 1
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	if n < len(s.results) && s.results[n] != nil {
		return nil, s.results[n]
	}
	return &model.ContentValidation{IsValid: true, Available: true, AuthenticityScore: 90}, nil
}

func testConfig() model.ValidatorConfig {
	cfg := model.DefaultConfig().Validator
	cfg.AttemptTimeout = time.Second
	return cfg
}

func TestResilient_SucceedsAfterTransientFailures(t *testing.T) {
	inner := &stubValidator{results: []error{
		&llm.StatusError{Code: 503, Message: "unavailable"},
		errors.New("connection reset by peer"),
	}}
	r := NewResilient(inner, "stub-ok", testConfig(), nil)

	cv, err := r.Validate(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if cv.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", cv.Attempts)
	}
	if !cv.Available || !cv.IsValid {
		t.Errorf("Expected available valid record, got %+v", cv)
	}
}

func TestResilient_ExhaustionIsUnavailable(t *testing.T) {
	fail := &llm.StatusError{Code: 500, Message: "boom"}
	inner := &stubValidator{results: []error{fail, fail, fail, fail}}
	r := NewResilient(inner, "stub-exhaust", testConfig(), nil)

	cv, err := r.Validate(context.Background(), Request{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Expected ErrUnavailable, got %v", err)
	}
	if cv == nil || cv.Available || !cv.RequiresManualReview {
		t.Fatalf("Expected unavailable record requiring review, got %+v", cv)
	}
	if cv.Attempts != 3 || atomic.LoadInt32(&inner.calls) != 3 {
		t.Errorf("Expected 3 attempts, got %d (calls %d)", cv.Attempts, inner.calls)
	}
	if !strings.Contains(cv.Error, "boom") {
		t.Errorf("Expected last error recorded, got %q", cv.Error)
	}
}

func TestResilient_PermanentErrorStopsRetrying(t *testing.T) {
	inner := &stubValidator{results: []error{&llm.StatusError{Code: 401, Message: "bad key"}}}
	r := NewResilient(inner, "stub-401", testConfig(), nil)

	cv, err := r.Validate(context.Background(), Request{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Expected ErrUnavailable, got %v", err)
	}
	if inner.calls != 1 || cv.Attempts != 1 {
		t.Errorf("Expected a single attempt, got %d", inner.calls)
	}
}

func TestResilient_AttemptTimeout(t *testing.T) {
	inner := &stubValidator{delay: 200 * time.Millisecond}
	cfg := testConfig()
	cfg.AttemptTimeout = 10 * time.Millisecond
	cfg.MaxAttempts = 2
	r := NewResilient(inner, "stub-slow", cfg, nil)

	cv, err := r.Validate(context.Background(), Request{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Expected ErrUnavailable, got %v", err)
	}
	if cv.Attempts != 2 {
		t.Errorf("Expected 2 timed-out attempts, got %d", cv.Attempts)
	}
}

func TestResilient_CallerCancellation(t *testing.T) {
	inner := &stubValidator{delay: time.Second}
	r := NewResilient(inner, "stub-cancel", testConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	cv, err := r.Validate(ctx, Request{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Expected ErrUnavailable, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("Expected early return on caller timeout, took %v", time.Since(start))
	}
	if cv.Available {
		t.Error("Expected unavailable record")
	}
}

func TestResilient_BreakerOpens(t *testing.T) {
	fail := &llm.StatusError{Code: 502, Message: "bad gateway"}
	inner := &stubValidator{results: []error{fail, fail, fail, fail, fail, fail}}
	cfg := testConfig()
	cfg.MaxAttempts = 1
	cfg.BreakerFailures = 2
	cfg.BreakerCooldown = time.Minute
	r := NewResilient(inner, "stub-breaker", cfg, nil)

	for i := 0; i < 2; i++ {
		_, _ = r.Validate(context.Background(), Request{})
	}
	cv, err := r.Validate(context.Background(), Request{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Expected ErrUnavailable, got %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("Expected open breaker to short-circuit, inner called %d times", inner.calls)
	}
	if !strings.Contains(cv.Error, "circuit breaker is open") {
		t.Errorf("Expected breaker error, got %q", cv.Error)
	}
}

func TestResilient_RateLimited(t *testing.T) {
	inner := &stubValidator{}
	limiter := NewLimiter(1, 1)
	r := NewResilient(inner, "stub-rate", testConfig(), limiter)

	if _, err := r.Validate(context.Background(), Request{}); err != nil {
		t.Fatalf("first call: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	cv, err := r.Validate(ctx, Request{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Expected rate-limited call to be unavailable, got %v", err)
	}
	if cv.Attempts != 0 {
		t.Errorf("Expected no attempt past the limiter, got %d", cv.Attempts)
	}
}

type stubProvider struct {
	reply *llm.ReceiptReply
	err   error
	got   llm.ReceiptRequest
}

func (p *stubProvider) Name() string                     { return "stub" }
func (p *stubProvider) IsAvailable(context.Context) bool { return true }
func (p *stubProvider) ExtractReceipt(ctx context.Context, req llm.ReceiptRequest) (*llm.ReceiptReply, error) {
	p.got = req
	return p.reply, p.err
}

func TestLLMValidator_MapsFields(t *testing.T) {
	fields, err := llm.ParseReply(`{"account_number":"12-34","amount":"0","date":"2024-01-02","transaction_id":"T1","is_valid":true,"tampering_indicators":["", "font mismatch"],"authenticity_score":140}`)
	if err != nil {
		t.Fatalf("ParseReply: %v", err)
	}
	p := &stubProvider{reply: &llm.ReceiptReply{Fields: *fields}}
	v := NewLLMValidator(p)

	cv, err := v.Validate(context.Background(), Request{
		Image:            model.ReceiptImage{Data: []byte("img"), ContentType: "image/png"},
		ExpectedAmount:   100,
		AcceptedAccounts: []string{"1234"},
	})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cv.ExtractedAmount != nil {
		t.Error("Expected zero amount to be treated as absent")
	}
	if cv.AuthenticityScore != 100 {
		t.Errorf("Expected score clamped to 100, got %d", cv.AuthenticityScore)
	}
	if len(cv.TamperingIndicators) != 1 || cv.TamperingIndicators[0] != "font mismatch" {
		t.Errorf("Expected blank indicators dropped, got %v", cv.TamperingIndicators)
	}
	if cv.Provider != "stub" || !cv.Available {
		t.Errorf("unexpected record: %+v", cv)
	}
	if p.got.ContentType != "image/png" || p.got.ExpectedAmount != 100 {
		t.Errorf("request not forwarded: %+v", p.got)
	}
}

func TestLLMValidator_MissingScoreDefaultsAuthentic(t *testing.T) {
	fields, _ := llm.ParseReply(`{"is_valid":false}`)
	v := NewLLMValidator(&stubProvider{reply: &llm.ReceiptReply{Fields: *fields}})

	cv, err := v.Validate(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cv.AuthenticityScore != 100 {
		t.Errorf("Expected default 100, got %d", cv.AuthenticityScore)
	}
	if cv.TamperingIndicators == nil {
		t.Error("Expected empty, non-nil indicators")
	}
}

func TestLLMValidator_PropagatesError(t *testing.T) {
	v := NewLLMValidator(&stubProvider{err: errors.New("down")})
	if _, err := v.Validate(context.Background(), Request{}); err == nil {
		t.Error("Expected provider error")
	}
}
