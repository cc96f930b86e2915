package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ppiankov/receiptguard/internal/model"
	"github.com/sashabaranov/go-openai"
)

// StatusError is a non-200 answer from a provider API
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Code, e.Message)
}

// NewProvider creates a new LLM provider based on configuration
func NewProvider(config Config) (Provider, error) {
	provider := strings.ToLower(config.Provider)

	switch provider {
	case "openai":
		return NewOpenAIProvider(config)

	case "anthropic", "claude":
		return NewAnthropicProvider(config)

	case "ollama":
		return NewOllamaProvider(config)

	case "":
		// No provider configured - return nil (content validation disabled)
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (supported: openai, anthropic, ollama)", config.Provider)
	}
}

// ConfigFromModel converts model.ValidatorConfig to llm.Config
func ConfigFromModel(vc model.ValidatorConfig) Config {
	return Config{
		Provider:    vc.Provider,
		Model:       vc.Model,
		APIKey:      vc.APIKey,
		BaseURL:     vc.BaseURL,
		Timeout:     vc.AttemptTimeout,
		Temperature: vc.Temperature,
		MaxTokens:   vc.MaxTokens,
		HTTPProxy:   vc.HTTPProxy,
		HTTPSProxy:  vc.HTTPSProxy,
		NoProxy:     vc.NoProxy,
	}
}

// IsRetryable reports whether another attempt could succeed. Client errors
// other than 408 and 429 are permanent; everything else (transport errors,
// 5xx, unparseable replies) is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	code := 0
	var se *StatusError
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &se):
		code = se.Code
	case errors.As(err, &apiErr):
		code = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		code = reqErr.HTTPStatusCode
	}

	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return true
	}
	return code < 400 || code >= 500
}
