package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/ppiankov/receiptguard/internal/model"
	"github.com/ppiankov/receiptguard/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEvaluator struct {
	got   pipeline.Request
	calls int
}

func (s *stubEvaluator) Evaluate(ctx context.Context, req pipeline.Request) model.FraudAssessment {
	s.got = req
	s.calls++
	return model.FraudAssessment{
		FraudScore:    12,
		RiskTier:      model.RiskLow,
		Action:        model.ActionApprove,
		Indicators:    []string{},
		SubmissionRef: req.SubmissionRef,
		SubmitterID:   req.SubmitterID,
	}
}

func testConfig() model.ServerConfig {
	cfg := model.DefaultConfig().Server
	cfg.MaxUpload = 1 << 16
	return cfg
}

type part struct {
	name, value string
}

func multipartBody(t *testing.T, file []byte, fields ...part) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range fields {
		require.NoError(t, mw.WriteField(f.name, f.value))
	}
	if file != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="receipt"; filename="r.png"`)
		h.Set("Content-Type", "image/png")
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = w.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func post(t *testing.T, h http.Handler, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/evaluate", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestEvaluate_OK(t *testing.T) {
	eval := &stubEvaluator{}
	s := New(testConfig(), eval, nil)

	body, ct := multipartBody(t, []byte("\x89PNG\r\n\x1a\nrest"),
		part{"submitter_id", "u1"},
		part{"submission_ref", "sub-9"},
		part{"expected_amount", "1500.50"},
		part{"accepted_accounts", "1234-5678, 8765"},
		part{"prior_receipts", "sub-1,sub-2"},
		part{"prior_receipts", "sub-2"},
	)
	rec := post(t, s.Handler(), body, ct)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got model.FraudAssessment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, model.ActionApprove, got.Action)
	assert.Equal(t, "sub-9", got.SubmissionRef)

	assert.Equal(t, "u1", eval.got.SubmitterID)
	assert.Equal(t, 1500.50, eval.got.ExpectedAmount)
	assert.Equal(t, []string{"1234-5678", "8765"}, eval.got.AcceptedAccounts)
	assert.Equal(t, []string{"sub-1", "sub-2"}, eval.got.PriorReceipts)
	assert.Equal(t, "image/png", eval.got.Image.ContentType)
}

func TestEvaluate_BadRequests(t *testing.T) {
	tests := []struct {
		name   string
		file   []byte
		fields []part
	}{
		{"missing file", nil, []part{{"submitter_id", "u1"}}},
		{"empty file", []byte{}, nil},
		{"bad amount", []byte("img"), []part{{"expected_amount", "lots"}}},
		{"negative amount", []byte("img"), []part{{"expected_amount", "-1"}}},
		{"long submitter", []byte("img"), []part{{"submitter_id", strings.Repeat("x", 300)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval := &stubEvaluator{}
			s := New(testConfig(), eval, nil)

			body, ct := multipartBody(t, tt.file, tt.fields...)
			rec := post(t, s.Handler(), body, ct)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
			assert.Zero(t, eval.calls)
		})
	}
}

func TestEvaluate_NotMultipart(t *testing.T) {
	s := New(testConfig(), &stubEvaluator{}, nil)
	rec := post(t, s.Handler(), strings.NewReader(`{}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvaluate_TooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.MaxUpload = 1024
	eval := &stubEvaluator{}
	s := New(cfg, eval, nil)

	body, ct := multipartBody(t, bytes.Repeat([]byte("x"), 4096))
	rec := post(t, s.Handler(), body, ct)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, eval.calls)
}

func TestEvaluate_MethodNotAllowed(t *testing.T) {
	s := New(testConfig(), &stubEvaluator{}, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/evaluate", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealth(t *testing.T) {
	ok := New(testConfig(), &stubEvaluator{}, func(context.Context) (int, error) { return 7, nil })
	rec := httptest.NewRecorder()
	ok.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","corpus_entries":7}`, rec.Body.String())

	down := New(testConfig(), &stubEvaluator{}, func(context.Context) (int, error) { return 0, errors.New("db down") })
	rec = httptest.NewRecorder()
	down.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "db down")
}

func TestMetricsEndpoint(t *testing.T) {
	s := New(testConfig(), &stubEvaluator{}, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Addr = "127.0.0.1:0"
	s := New(cfg, &stubEvaluator{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	assert.NoError(t, <-done)
}
