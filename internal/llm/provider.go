package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Provider defines the interface for vision LLM providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// ExtractReceipt reads the receipt image and returns the fields the
	// model extracted, plus its own verdict
	ExtractReceipt(ctx context.Context, req ReceiptRequest) (*ReceiptReply, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// ReceiptRequest contains the input for one receipt extraction
type ReceiptRequest struct {
	// Image is the raw receipt bytes, sent to the model inline
	Image []byte

	// ContentType is the image MIME type; sniffed when empty
	ContentType string

	ExpectedAmount   float64
	AcceptedAccounts []string

	// Now anchors the date rules in the prompt
	Now time.Time

	// Prompt is an optional custom prompt (if empty, use default)
	Prompt string

	// Model overrides the configured model
	Model string

	// MaxTokens limits the response length
	MaxTokens int
}

// ReceiptReply is the parsed model answer
type ReceiptReply struct {
	Fields ReceiptFields

	// Raw is the model text before parsing
	Raw string

	// Model is the model that generated the response
	Model string

	// TokensUsed tracks token consumption
	TokensUsed int
}

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai", "anthropic", "ollama", ""
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for OpenAI/Anthropic
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama)
	BaseURL string

	// Timeout for API requests
	Timeout time.Duration

	Temperature float64

	// MaxTokens for response generation
	MaxTokens int

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:    "", // Disabled by default
		Timeout:     30 * time.Second,
		Temperature: 0.1,
		MaxTokens:   800,
	}
}

const systemPrompt = "You are a payment receipt verification assistant. You read receipt images and answer with a single JSON object."

// BuildPrompt constructs the default extraction prompt. Matching is lenient:
// the local sanity pass makes the strict decisions.
func BuildPrompt(req ReceiptRequest) string {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	accounts := "(any)"
	if len(req.AcceptedAccounts) > 0 {
		accounts = strings.Join(req.AcceptedAccounts, ", ")
	}

	return fmt.Sprintf(`Analyze this payment receipt image and return ONLY this JSON object:

{
  "account_number": "recipient account number as printed",
  "amount": payment amount as a number,
  "date": "payment date as YYYY-MM-DD if visible",
  "transaction_id": "transaction, reference or operation number if visible",
  "sender_name": "sender or payer name if visible",
  "currency": "currency code",
  "is_valid": true or false,
  "validation_notes": "brief explanation, max 80 words",
  "tampering_indicators": ["visual signs of editing, empty if none"],
  "authenticity_score": 0-100
}

Rules:
1. Accepted recipient accounts: %s. Ignore spaces and dashes when comparing; a match on the last 4-6 digits is acceptable.
2. Expected amount: %.2f. Accept within 5%% (%.2f to %.2f).
3. Today is %s. A payment date after %s is invalid. Old dates are not by themselves a reason to reject.
4. Extract any unique-looking identifier as transaction_id, even in an unusual format.
5. Only list OBVIOUS tampering: pasted digits, misaligned text, mismatched fonts in critical fields. Low quality or blur is not tampering.
6. When in doubt set is_valid to true.`,
		accounts,
		req.ExpectedAmount, req.ExpectedAmount*0.95, req.ExpectedAmount*1.05,
		now.Format("2006-01-02"), now.AddDate(0, 0, 1).Format("2006-01-02"))
}

// mediaType returns the declared content type, or sniffs it
func mediaType(req ReceiptRequest) string {
	if req.ContentType != "" {
		return req.ContentType
	}
	ct := http.DetectContentType(req.Image)
	if strings.HasPrefix(ct, "image/") {
		return ct
	}
	return "image/jpeg"
}

func encodeImage(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// dataURI renders the image as a data: URL
func dataURI(req ReceiptRequest) string {
	return "data:" + mediaType(req) + ";base64," + encodeImage(req.Image)
}
