package phash

import (
	"encoding/json"
	"fmt"
	"image"
	"sort"

	"github.com/ppiankov/receiptguard/internal/imaging"
)

// Family names one perceptual hash algorithm
type Family string

const (
	FamilyAverage    Family = "ahash"
	FamilyDifference Family = "dhash"
	FamilyPerceptual Family = "phash"
	FamilyWavelet    Family = "whash"
	FamilyColor      Family = "colorhash"
)

// Families lists every family a full signature carries
var Families = []Family{FamilyAverage, FamilyDifference, FamilyPerceptual, FamilyWavelet, FamilyColor}

var hashers = map[Family]func(image.Image) Hash{
	FamilyAverage:    averageHash,
	FamilyDifference: differenceHash,
	FamilyPerceptual: perceptualHash,
	FamilyWavelet:    waveletHash,
	FamilyColor:      colorHash,
}

// Signature is the set of perceptual hashes of one image
type Signature struct {
	Hashes map[Family]Hash
}

// Compute returns the full signature of a decoded image
func Compute(img image.Image) Signature {
	sig := Signature{Hashes: make(map[Family]Hash, len(Families))}
	for _, f := range Families {
		sig.Hashes[f] = hashers[f](img)
	}
	return sig
}

// ComputeBytes decodes data and returns its signature
func ComputeBytes(data []byte) (Signature, error) {
	img, _, err := imaging.Decode(data)
	if err != nil {
		return Signature{}, err
	}
	return Compute(img), nil
}

// IsZero reports whether the signature carries no hashes
func (s Signature) IsZero() bool {
	return len(s.Hashes) == 0
}

// Similarity is the mean bit agreement over the families both signatures
// carry, as a percentage. It is symmetric and Similarity(a, a) is 100 for
// any non-empty signature. Signatures with no common family score 0.
func Similarity(a, b Signature) float64 {
	var sum float64
	shared := 0
	for _, f := range Families {
		ha, okA := a.Hashes[f]
		hb, okB := b.Hashes[f]
		if !okA || !okB {
			continue
		}
		sum += Agreement(ha, hb)
		shared++
	}
	if shared == 0 {
		return 0
	}
	return sum / float64(shared) * 100
}

// MarshalJSON encodes the signature as {"family": "hex", ...}
func (s Signature) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, len(s.Hashes))
	for f, h := range s.Hashes {
		out[string(f)] = h.String()
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the format written by MarshalJSON
func (s *Signature) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	s.Hashes = make(map[Family]Hash, len(raw))
	for f, hexStr := range raw {
		h, err := ParseHash(hexStr)
		if err != nil {
			return fmt.Errorf("family %s: %w", f, err)
		}
		s.Hashes[Family(f)] = h
	}
	return nil
}

// String renders the signature deterministically, for logs
func (s Signature) String() string {
	keys := make([]string, 0, len(s.Hashes))
	for f := range s.Hashes {
		keys = append(keys, string(f))
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += " "
		}
		h := s.Hashes[Family(k)].String()
		if len(h) > 16 {
			h = h[:16]
		}
		out += k + ":" + h
	}
	return out
}
