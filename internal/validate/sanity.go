package validate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/receiptguard/internal/corpus"
	"github.com/ppiankov/receiptguard/internal/logging"
	"github.com/ppiankov/receiptguard/internal/model"
	"go.uber.org/zap"
)

// dateLayouts are tried in order; day-first wins over month-first
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006/01/02",
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
	"2 Jan 2006",
	"Jan 2, 2006",
}

// TransactionLookup finds earlier uses of a transaction id
type TransactionLookup interface {
	FindByTransactionID(ctx context.Context, txID, exclude string) (*corpus.Entry, error)
}

// SanityInput is what the sanity pass checks the extracted fields against
type SanityInput struct {
	ExpectedAmount   float64
	AcceptedAccounts []string
	SubmissionRef    string
}

// Sanity re-checks validator output locally. Account and date checks can
// flip IsValid to false whatever the validator said.
type Sanity struct {
	cfg    model.SanityConfig
	lookup TransactionLookup
	now    func() time.Time
}

// NewSanity creates a sanity pass. lookup may be nil to skip the
// transaction id check.
func NewSanity(cfg model.SanityConfig, lookup TransactionLookup) *Sanity {
	return &Sanity{cfg: cfg, lookup: lookup, now: time.Now}
}

// Apply mutates cv in place. Unavailable records are left untouched.
func (s *Sanity) Apply(ctx context.Context, cv *model.ContentValidation, in SanityInput) {
	if cv == nil || !cv.Available {
		return
	}

	s.checkAccount(cv, in.AcceptedAccounts)
	s.checkDate(cv)
	s.checkTransaction(ctx, cv, in.SubmissionRef)

	if in.ExpectedAmount > 0 && cv.ExtractedAmount != nil && *cv.ExtractedAmount < in.ExpectedAmount {
		cv.SanityIndicators = append(cv.SanityIndicators,
			fmt.Sprintf("Partial payment: %.2f of expected %.2f", *cv.ExtractedAmount, in.ExpectedAmount))
	}
}

func (s *Sanity) reject(cv *model.ContentValidation, reason string) {
	cv.IsValid = false
	cv.SanityIndicators = append(cv.SanityIndicators, reason)
}

func (s *Sanity) checkAccount(cv *model.ContentValidation, accepted []string) {
	if len(accepted) == 0 {
		return
	}
	got := NormalizeAccount(cv.ExtractedAccount)
	if got == "" {
		s.reject(cv, "Recipient account not found on receipt")
		return
	}
	for _, a := range accepted {
		if NormalizeAccount(a) == got {
			return
		}
	}
	s.reject(cv, fmt.Sprintf("Recipient account %s does not match any accepted account", cv.ExtractedAccount))
}

func (s *Sanity) checkDate(cv *model.ContentValidation) {
	raw := strings.TrimSpace(cv.ExtractedDate)
	if raw == "" {
		return
	}
	d, ok := parseDate(raw)
	if !ok {
		cv.SanityIndicators = append(cv.SanityIndicators, fmt.Sprintf("Unreadable receipt date: %s", raw))
		return
	}

	now := s.now()
	if d.After(now.Add(s.cfg.FutureTolerance)) {
		s.reject(cv, fmt.Sprintf("Receipt date %s is in the future", raw))
		return
	}
	if s.cfg.MaxReceiptAge > 0 && now.Sub(d) > s.cfg.MaxReceiptAge {
		cv.SanityIndicators = append(cv.SanityIndicators,
			fmt.Sprintf("Receipt date %s is older than %d days", raw, int(s.cfg.MaxReceiptAge.Hours()/24)))
	}
}

func (s *Sanity) checkTransaction(ctx context.Context, cv *model.ContentValidation, ref string) {
	if s.lookup == nil || cv.TransactionID == "" {
		return
	}
	e, err := s.lookup.FindByTransactionID(ctx, cv.TransactionID, ref)
	switch {
	case err == nil:
		s.reject(cv, fmt.Sprintf("Transaction ID %s already used by submission %s", cv.TransactionID, e.SubmissionRef))
	case errors.Is(err, corpus.ErrNotFound):
	default:
		logging.Warn("Transaction ID lookup failed", zap.String("transaction_id", cv.TransactionID), zap.Error(err))
	}
}

// NormalizeAccount keeps only digits
func NormalizeAccount(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
