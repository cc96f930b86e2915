package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ReceiptFields is the JSON object the prompt asks for
type ReceiptFields struct {
	AccountNumber       flexString `json:"account_number"`
	Amount              *flexFloat `json:"amount"`
	Date                flexString `json:"date"`
	TransactionID       flexString `json:"transaction_id"`
	SenderName          flexString `json:"sender_name"`
	Currency            flexString `json:"currency"`
	IsValid             flexBool   `json:"is_valid"`
	ValidationNotes     string     `json:"validation_notes"`
	TamperingIndicators []string   `json:"tampering_indicators"`
	AuthenticityScore   *flexFloat `json:"authenticity_score"`
}

// ParseReply extracts the JSON object from model text. Code fences and
// surrounding prose are tolerated.
func ParseReply(text string) (*ReceiptFields, error) {
	body := stripFences(text)
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in model reply")
	}

	var f ReceiptFields
	if err := json.Unmarshal([]byte(body[start:end+1]), &f); err != nil {
		return nil, fmt.Errorf("invalid JSON in model reply: %w", err)
	}
	return &f, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// flexFloat accepts 1500, "1500", "1,500.00" and "SDG 1500"
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] != '"' {
		var v float64
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*f = flexFloat(v)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			return r
		}
		return -1
	}, s)
	if cleaned == "" {
		return nil
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", s)
	}
	*f = flexFloat(v)
	return nil
}

// flexString accepts strings, numbers and null
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*s = ""
	case len(data) > 0 && data[0] == '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(strings.TrimSpace(v))
	default:
		*s = flexString(data)
	}
	return nil
}

// flexBool accepts true, "true", "yes" and 1
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	v := strings.ToLower(strings.Trim(string(bytes.TrimSpace(data)), `"`))
	switch v {
	case "true", "yes", "1", "valid":
		*b = true
	default:
		*b = false
	}
	return nil
}

// Float returns the value, or nil when absent
func (f *flexFloat) Float() *float64 {
	if f == nil {
		return nil
	}
	v := float64(*f)
	return &v
}
