// Package receiptstore fetches the bytes of previously submitted receipts
// addressed by reference: a local path, an s3://bucket/key URL or an
// http(s) URL.
package receiptstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNotFound is returned when the referenced receipt does not exist
var ErrNotFound = errors.New("receiptstore: receipt not found")

// ErrOutsideRoot is returned for local references that escape the store root
var ErrOutsideRoot = errors.New("receiptstore: reference outside store root")

// ErrHostNotAllowed is returned for URLs whose host is not on the allow list
var ErrHostNotAllowed = errors.New("receiptstore: host not allowed")

// MaxReceiptBytes bounds how much of a stored object is read
const MaxReceiptBytes = 20 << 20

// Fetcher returns the raw bytes behind a reference
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Router dispatches s3:// references to the S3 fetcher, http(s) URLs to
// the HTTP fetcher and everything else to the local one. Any may be nil.
type Router struct {
	Local *LocalStore
	S3    *S3Store
	HTTP  *HTTPStore
}

// Fetch resolves ref with the matching backend
func (r *Router) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if strings.HasPrefix(ref, "s3://") {
		if r.S3 == nil {
			return nil, fmt.Errorf("fetch %s: s3 store not configured", ref)
		}
		return r.S3.Fetch(ctx, ref)
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		if r.HTTP == nil {
			return nil, fmt.Errorf("fetch %s: http store not configured", ref)
		}
		return r.HTTP.Fetch(ctx, ref)
	}
	if r.Local == nil {
		return nil, fmt.Errorf("fetch %s: local store not configured", ref)
	}
	return r.Local.Fetch(ctx, ref)
}

func readLimited(rd io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(rd, MaxReceiptBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxReceiptBytes {
		return nil, fmt.Errorf("receipt exceeds %d bytes", MaxReceiptBytes)
	}
	return data, nil
}
