package validate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/receiptguard/internal/corpus"
	"github.com/ppiankov/receiptguard/internal/model"
)

var sanityNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

type txLookup map[string]string // txID -> submission ref

func (l txLookup) FindByTransactionID(_ context.Context, txID, exclude string) (*corpus.Entry, error) {
	if txID == "ERR" {
		return nil, errors.New("db down")
	}
	ref, ok := l[txID]
	if !ok || ref == exclude {
		return nil, corpus.ErrNotFound
	}
	return &corpus.Entry{SubmissionRef: ref, TransactionID: txID}, nil
}

func newTestSanity(lookup TransactionLookup) *Sanity {
	s := NewSanity(model.DefaultConfig().Sanity, lookup)
	s.now = func() time.Time { return sanityNow }
	return s
}

func validRecord() *model.ContentValidation {
	amt := 1500.0
	return &model.ContentValidation{
		IsValid:          true,
		Available:        true,
		ExtractedAmount:  &amt,
		ExtractedAccount: "1234 5678",
		ExtractedDate:    "2024-06-14",
	}
}

func hasIndicator(cv *model.ContentValidation, substr string) bool {
	for _, s := range cv.SanityIndicators {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

func TestSanity_Passes(t *testing.T) {
	cv := validRecord()
	newTestSanity(nil).Apply(context.Background(), cv, SanityInput{ExpectedAmount: 1500, AcceptedAccounts: []string{"1234-5678"}})

	if !cv.IsValid {
		t.Errorf("Expected valid, indicators: %v", cv.SanityIndicators)
	}
	if len(cv.SanityIndicators) != 0 {
		t.Errorf("Expected no indicators, got %v", cv.SanityIndicators)
	}
}

func TestSanity_Account(t *testing.T) {
	tests := []struct {
		name      string
		extracted string
		accepted  []string
		valid     bool
	}{
		{"formatting ignored", "1234-5678", []string{"1234 5678"}, true},
		{"leading zero significant", "999", []string{"1", "0999"}, false},
		{"second accepted", "0999", []string{"1", "0999"}, true},
		{"mismatch", "12345679", []string{"12345678"}, false},
		{"missing", "", []string{"12345678"}, false},
		{"letters only", "N/A", []string{"12345678"}, false},
		{"no accepted set", "anything", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cv := validRecord()
			cv.ExtractedAccount = tt.extracted
			newTestSanity(nil).Apply(context.Background(), cv, SanityInput{AcceptedAccounts: tt.accepted})
			if cv.IsValid != tt.valid {
				t.Errorf("IsValid = %v, want %v (%v)", cv.IsValid, tt.valid, cv.SanityIndicators)
			}
		})
	}
}

func TestSanity_Dates(t *testing.T) {
	tests := []struct {
		date      string
		valid     bool
		indicator string
	}{
		{"2024-06-16", true, ""}, // within the 1 day tolerance
		{"2024-06-17", false, "in the future"},
		{"17/06/2024", false, "in the future"},
		{"2023-11-01", true, "older than 180 days"},
		{"yesterday-ish", true, "Unreadable receipt date"},
		{"", true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			cv := validRecord()
			cv.ExtractedDate = tt.date
			newTestSanity(nil).Apply(context.Background(), cv, SanityInput{})
			if cv.IsValid != tt.valid {
				t.Errorf("IsValid = %v, want %v", cv.IsValid, tt.valid)
			}
			if tt.indicator != "" && !hasIndicator(cv, tt.indicator) {
				t.Errorf("Expected indicator %q, got %v", tt.indicator, cv.SanityIndicators)
			}
			if tt.indicator == "" && len(cv.SanityIndicators) != 0 {
				t.Errorf("Expected no indicators, got %v", cv.SanityIndicators)
			}
		})
	}
}

func TestSanity_CanOverrideValidator(t *testing.T) {
	cv := validRecord()
	cv.ExtractedDate = "2025-01-01"
	newTestSanity(nil).Apply(context.Background(), cv, SanityInput{})
	if cv.IsValid {
		t.Error("Expected future date to flip a validator-approved record")
	}
}

func TestSanity_TransactionReuse(t *testing.T) {
	lookup := txLookup{"TX-1": "sub-1"}

	cv := validRecord()
	cv.TransactionID = "TX-1"
	newTestSanity(lookup).Apply(context.Background(), cv, SanityInput{SubmissionRef: "sub-2"})
	if cv.IsValid || !hasIndicator(cv, "already used by submission sub-1") {
		t.Errorf("Expected reuse rejection, got %v %v", cv.IsValid, cv.SanityIndicators)
	}

	cv = validRecord()
	cv.TransactionID = "TX-1"
	newTestSanity(lookup).Apply(context.Background(), cv, SanityInput{SubmissionRef: "sub-1"})
	if !cv.IsValid {
		t.Error("Expected own submission to be excluded")
	}

	cv = validRecord()
	cv.TransactionID = "ERR"
	newTestSanity(lookup).Apply(context.Background(), cv, SanityInput{})
	if !cv.IsValid {
		t.Error("Expected lookup failure not to reject")
	}
}

func TestSanity_PartialPayment(t *testing.T) {
	cv := validRecord()
	newTestSanity(nil).Apply(context.Background(), cv, SanityInput{ExpectedAmount: 3000})
	if !cv.IsValid {
		t.Error("Partial payment is informational")
	}
	if !hasIndicator(cv, "Partial payment: 1500.00 of expected 3000.00") {
		t.Errorf("Expected partial payment indicator, got %v", cv.SanityIndicators)
	}
}

func TestSanity_SkipsUnavailable(t *testing.T) {
	cv := model.UnavailableValidation("openai", 3, errors.New("down"))
	cv.ExtractedDate = "2099-01-01"
	newTestSanity(nil).Apply(context.Background(), &cv, SanityInput{AcceptedAccounts: []string{"1"}})
	if len(cv.SanityIndicators) != 0 {
		t.Errorf("Expected unavailable record untouched, got %v", cv.SanityIndicators)
	}
	newTestSanity(nil).Apply(context.Background(), nil, SanityInput{})
}

func TestNormalizeAccount(t *testing.T) {
	if got := NormalizeAccount(" 12-34 56/78 "); got != "12345678" {
		t.Errorf("got %q", got)
	}
	if got := NormalizeAccount("٣٤"); got != "" {
		t.Errorf("Expected non-ASCII digits dropped, got %q", got)
	}
}
