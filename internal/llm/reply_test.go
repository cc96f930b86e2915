package llm

import (
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestParseReply_Tolerant(t *testing.T) {
	cases := map[string]string{
		"plain":  validReply,
		"fenced": "```json\n" + validReply + "\n```",
		"prose":  "Here is the result:\n" + validReply + "\nThanks.",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			f, err := ParseReply(text)
			if err != nil {
				t.Fatalf("ParseReply: %v", err)
			}
			if f.TransactionID != "TXN42" || !f.IsValid {
				t.Errorf("unexpected fields: %+v", f)
			}
		})
	}
}

func TestParseReply_NullsAndMissing(t *testing.T) {
	f, err := ParseReply(`{"amount":null,"date":null,"is_valid":false}`)
	if err != nil {
		t.Fatalf("ParseReply: %v", err)
	}
	if f.Amount.Float() != nil {
		t.Error("Expected nil amount")
	}
	if f.AuthenticityScore.Float() != nil {
		t.Error("Expected nil authenticity score")
	}
	if f.Date != "" || f.IsValid {
		t.Errorf("unexpected fields: %+v", f)
	}
}

func TestParseReply_Errors(t *testing.T) {
	for _, text := range []string{"", "no json here", `{"amount": "1.2.3"}`, `{"amount":`} {
		if _, err := ParseReply(text); err == nil {
			t.Errorf("Expected error for %q", text)
		}
	}
}

func TestBuildPrompt(t *testing.T) {
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	p := BuildPrompt(ReceiptRequest{ExpectedAmount: 1000, AcceptedAccounts: []string{"111", "222"}, Now: now})

	for _, want := range []string{"111, 222", "1000.00", "950.00", "1050.00", "2024-03-10", "2024-03-11"} {
		if !strings.Contains(p, want) {
			t.Errorf("Expected prompt to contain %q", want)
		}
	}
	if strings.Contains(BuildPrompt(ReceiptRequest{}), "Accepted recipient accounts: ,") {
		t.Error("Expected placeholder for empty account list")
	}
}

func TestMediaType(t *testing.T) {
	if got := mediaType(ReceiptRequest{Image: testImage}); got != "image/png" {
		t.Errorf("Expected sniffed image/png, got %s", got)
	}
	if got := mediaType(ReceiptRequest{Image: []byte("????")}); got != "image/jpeg" {
		t.Errorf("Expected jpeg fallback, got %s", got)
	}
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(Config{})
	if err != nil || p != nil {
		t.Errorf("Expected disabled provider, got %v %v", p, err)
	}
	if _, err := NewProvider(Config{Provider: "gemini"}); err == nil {
		t.Error("Expected error for unknown provider")
	}
	p, err = NewProvider(Config{Provider: "Claude", APIKey: "k"})
	if err != nil || p.Name() != "anthropic" {
		t.Errorf("Expected anthropic provider, got %v %v", p, err)
	}
}

func TestNewProxyFunc(t *testing.T) {
	proxy := newProxyFunc("http://proxy:3128", "", "internal.example")

	req := &http.Request{URL: &url.URL{Scheme: "http", Host: "api.example.com"}}
	u, err := proxy(req)
	if err != nil || u == nil || u.Host != "proxy:3128" {
		t.Errorf("Expected proxy:3128, got %v %v", u, err)
	}

	req = &http.Request{URL: &url.URL{Scheme: "http", Host: "internal.example"}}
	if u, _ := proxy(req); u != nil {
		t.Errorf("Expected NO_PROXY bypass, got %v", u)
	}
}
