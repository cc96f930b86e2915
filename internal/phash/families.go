package phash

import (
	"image"
	"sort"

	"github.com/corona10/goimagehash"
	"github.com/ppiankov/receiptguard/internal/imaging"
	"golang.org/x/image/draw"
)

// HashSize is the side of every hash grid; each family is HashSize^2 bits
const HashSize = 16

// averageHash thresholds a 16x16 grayscale thumbnail at its mean
func averageHash(img image.Image) Hash {
	return fromExt(goimagehash.ExtAverageHash(img, HashSize, HashSize))
}

// differenceHash compares horizontally adjacent pixels of a 17x16 thumbnail
func differenceHash(img image.Image) Hash {
	return fromExt(goimagehash.ExtDifferenceHash(img, HashSize, HashSize))
}

// perceptualHash keeps the low-frequency 16x16 block of the DCT and
// thresholds it at its median
func perceptualHash(img image.Image) Hash {
	return fromExt(goimagehash.ExtPerceptionHash(img, HashSize, HashSize))
}

// fromExt repacks goimagehash's uint64 words into a Hash with the same bit
// order. The extended hashers only fail on a nil image, which yields an
// all-zero hash.
func fromExt(ext *goimagehash.ExtImageHash, err error) Hash {
	h := newHash(HashSize * HashSize)
	if err != nil {
		return h
	}
	words := ext.GetHash()
	for i := 0; i < ext.Bits() && i < HashSize*HashSize; i++ {
		if words[i/64]>>(63-uint(i%64))&1 == 1 {
			h.set(i)
		}
	}
	return h
}

// waveletHash thresholds the LL band of a two-level Haar decomposition of a
// 64x64 thumbnail at its median
func waveletHash(img image.Image) Hash {
	const n = HashSize * 4
	g := imaging.GrayMatrix(img, n, n)

	ll := g.Pix
	size := n
	for size > HashSize {
		ll = haarLL(ll, size)
		size /= 2
	}
	return thresholdMedian(ll)
}

// colorHash thermometer-codes a normalized 4x4x4 RGB histogram.
// Each of the 64 bins contributes 4 bits, one per occupancy threshold.
func colorHash(img image.Image) Hash {
	const side = 64
	small := imaging.Resize(imaging.ToRGB(img), side, side, draw.BiLinear)

	var hist [64]float64
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			off := small.PixOffset(x, y)
			r := int(small.Pix[off]) >> 6
			gr := int(small.Pix[off+1]) >> 6
			b := int(small.Pix[off+2]) >> 6
			hist[r*16+gr*4+b]++
		}
	}

	thresholds := [4]float64{0.005, 0.02, 0.05, 0.15}
	total := float64(side * side)
	h := newHash(len(hist) * len(thresholds))
	for bin, count := range hist {
		frac := count / total
		for k, t := range thresholds {
			if frac > t {
				h.set(bin*len(thresholds) + k)
			}
		}
	}
	return h
}

// haarLL returns the approximation band of one Haar level (2x2 block means)
func haarLL(pix []float64, n int) []float64 {
	half := n / 2
	out := make([]float64, half*half)
	for y := 0; y < half; y++ {
		for x := 0; x < half; x++ {
			a := pix[(2*y)*n+2*x]
			b := pix[(2*y)*n+2*x+1]
			c := pix[(2*y+1)*n+2*x]
			d := pix[(2*y+1)*n+2*x+1]
			out[y*half+x] = (a + b + c + d) / 4
		}
	}
	return out
}

func thresholdMedian(values []float64) Hash {
	med := median(values)
	h := newHash(len(values))
	for i, v := range values {
		if v > med {
			h.set(i)
		}
	}
	return h
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}
