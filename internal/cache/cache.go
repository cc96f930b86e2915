// Package cache stores computed receipt signatures so that prior receipts
// fetched from object storage are hashed once.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache is a byte-oriented key/value cache with per-entry TTL.
// A ttl of 0 means the implementation's default.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Key namespaces id under kind, e.g. Key("sig", "s3://bucket/r1.jpg")
func Key(kind, id string) string {
	return "receiptguard:v1:" + kind + ":" + id
}

// fileName maps an arbitrary key to a filesystem-safe name
func fileName(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}
