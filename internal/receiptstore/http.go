package receiptstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxFetchAttempts = 3

// fetchSleepFunc is the sleep used between retries (replaceable in tests)
var fetchSleepFunc = func(d time.Duration) { time.Sleep(d) }

// HTTPStore downloads receipts addressed by http(s) URL, such as messenger
// file links or pre-signed object URLs. Only hosts on the allow list are
// contacted, redirects included.
type HTTPStore struct {
	httpClient   *http.Client
	userAgent    string
	allowedHosts []string
}

// NewHTTPStore creates an HTTP store. client may be nil. An allowed host is
// either an exact hostname or a ".suffix" matching any subdomain; an empty
// list allows nothing.
func NewHTTPStore(client *http.Client, timeout time.Duration, userAgent string, allowedHosts []string) *HTTPStore {
	if client == nil {
		client = &http.Client{}
	}
	s := &HTTPStore{userAgent: userAgent}
	for _, h := range allowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			s.allowedHosts = append(s.allowedHosts, h)
		}
	}

	c := *client
	if c.Timeout == 0 {
		c.Timeout = timeout
	}
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 3 {
			return fmt.Errorf("stopped after 3 redirects")
		}
		return s.checkHost(req.URL)
	}
	s.httpClient = &c
	return s
}

func (s *HTTPStore) checkHost(u *url.URL) error {
	host := strings.ToLower(u.Hostname())
	for _, allowed := range s.allowedHosts {
		if host == allowed || (strings.HasPrefix(allowed, ".") && strings.HasSuffix(host, allowed)) {
			return nil
		}
	}
	return fmt.Errorf("%s: %w", host, ErrHostNotAllowed)
}

// Fetch downloads ref, retrying transient failures with backoff (1s, 2s)
func (s *HTTPStore) Fetch(ctx context.Context, ref string) ([]byte, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", ref, err)
	}
	if err := s.checkHost(u); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < maxFetchAttempts; attempt++ {
		if attempt > 0 {
			fetchSleepFunc(time.Duration(1<<(attempt-1)) * time.Second)
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		data, err := s.fetchOnce(ctx, ref)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !isRetryableFetchError(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (s *HTTPStore) fetchOnce(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	req.Header.Set("Accept", "image/*,application/octet-stream;q=0.8")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("unexpected status: %d %s", resp.StatusCode, resp.Status)
	}

	data, err := readLimited(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}

// isRetryableFetchError reports whether a fetch error is worth retrying:
// 5xx, 429 and transport failures are; other statuses and read errors are not.
func isRetryableFetchError(err error) bool {
	if err == nil || errors.Is(err, ErrHostNotAllowed) {
		return false
	}
	msg := err.Error()
	if strings.HasPrefix(msg, "unexpected status: ") {
		code := strings.TrimPrefix(msg, "unexpected status: ")
		return strings.HasPrefix(code, "5") || strings.HasPrefix(code, "429")
	}
	return strings.HasPrefix(msg, "fetch: ")
}
