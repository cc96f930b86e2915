// Package validate calls the external content validator, keeps it from
// hurting the pipeline when it misbehaves, and applies local sanity checks
// to whatever it extracts.
package validate

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/ppiankov/receiptguard/internal/llm"
	"github.com/ppiankov/receiptguard/internal/model"
)

// ErrUnavailable is returned when no validation result could be obtained
var ErrUnavailable = errors.New("validate: content validator unavailable")

// Request is one content validation call
type Request struct {
	Image            model.ReceiptImage
	ExpectedAmount   float64
	AcceptedAccounts []string
}

// Validator extracts and judges the content of a receipt
type Validator interface {
	Validate(ctx context.Context, req Request) (*model.ContentValidation, error)
}

// LLMValidator adapts a vision LLM provider to the Validator contract
type LLMValidator struct {
	provider llm.Provider
	now      func() time.Time
}

// NewLLMValidator wraps p
func NewLLMValidator(p llm.Provider) *LLMValidator {
	return &LLMValidator{provider: p, now: time.Now}
}

// Name is the provider name
func (v *LLMValidator) Name() string {
	return v.provider.Name()
}

// Validate makes a single provider call
func (v *LLMValidator) Validate(ctx context.Context, req Request) (*model.ContentValidation, error) {
	reply, err := v.provider.ExtractReceipt(ctx, llm.ReceiptRequest{
		Image:            req.Image.Data,
		ContentType:      req.Image.ContentType,
		ExpectedAmount:   req.ExpectedAmount,
		AcceptedAccounts: req.AcceptedAccounts,
		Now:              v.now(),
	})
	if err != nil {
		return nil, err
	}

	cv := fromFields(reply.Fields)
	cv.Provider = v.provider.Name()
	return cv, nil
}

// fromFields maps the model's JSON onto the domain record. A missing
// authenticity score counts as fully authentic and a zero amount as absent.
func fromFields(f llm.ReceiptFields) *model.ContentValidation {
	cv := &model.ContentValidation{
		IsValid:             bool(f.IsValid),
		ExtractedAccount:    string(f.AccountNumber),
		ExtractedDate:       string(f.Date),
		TransactionID:       string(f.TransactionID),
		SenderName:          string(f.SenderName),
		Currency:            string(f.Currency),
		TamperingIndicators: nonEmpty(f.TamperingIndicators),
		AuthenticityScore:   100,
		Notes:               f.ValidationNotes,
		Available:           true,
	}

	if amt := f.Amount.Float(); amt != nil && *amt != 0 {
		cv.ExtractedAmount = amt
	}
	if s := f.AuthenticityScore.Float(); s != nil {
		cv.AuthenticityScore = int(math.Round(math.Max(0, math.Min(100, *s))))
	}
	return cv
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
