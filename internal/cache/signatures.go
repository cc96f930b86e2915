package cache

import (
	"encoding/json"
	"time"

	"github.com/ppiankov/receiptguard/internal/phash"
)

// Fingerprint is what the duplicate detector needs to know about a receipt
type Fingerprint struct {
	Digest    string          `json:"digest"`
	Signature phash.Signature `json:"signature"`
}

// FingerprintCache stores fingerprints keyed by receipt reference
type FingerprintCache struct {
	c   Cache
	ttl time.Duration
}

// NewFingerprintCache wraps c; ttl 0 uses the cache default
func NewFingerprintCache(c Cache, ttl time.Duration) *FingerprintCache {
	return &FingerprintCache{c: c, ttl: ttl}
}

// Get returns the cached fingerprint for ref
func (f *FingerprintCache) Get(ref string) (Fingerprint, bool) {
	raw, ok := f.c.Get(Key("fp", ref))
	if !ok {
		return Fingerprint{}, false
	}
	var fp Fingerprint
	if err := json.Unmarshal(raw, &fp); err != nil || fp.Digest == "" {
		return Fingerprint{}, false
	}
	return fp, true
}

// Put caches fp for ref
func (f *FingerprintCache) Put(ref string, fp Fingerprint) error {
	raw, err := json.Marshal(fp)
	if err != nil {
		return err
	}
	return f.c.Set(Key("fp", ref), raw, f.ttl)
}
