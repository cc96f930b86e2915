package forensics

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"sort"
	"strings"

	"github.com/ppiankov/receiptguard/internal/imaging"
	"github.com/ppiankov/receiptguard/internal/model"
)

var regionNames = [3][3]string{
	{"Top-left", "Top-center", "Top-right"},
	{"Middle-left", "Center", "Middle-right"},
	{"Bottom-left", "Bottom-center", "Bottom-right"},
}

// TamperDetector runs error level analysis: re-encode at a fixed JPEG
// quality and look for areas whose recompression error stands out.
type TamperDetector struct {
	cfg model.TamperConfig
}

// NewTamperDetector creates a detector with the given thresholds
func NewTamperDetector(cfg model.TamperConfig) *TamperDetector {
	return &TamperDetector{cfg: cfg}
}

// errorMap is the per-channel absolute difference between original and
// recompressed image, 3 values per pixel, row-major
type errorMap struct {
	w, h int
	diff []uint8
}

type cellStats struct {
	label string
	mean  float64
	max   uint8
}

// Analyze runs ELA over the receipt
func (d *TamperDetector) Analyze(img model.ReceiptImage) model.TamperAssessment {
	decoded, _, err := imaging.Decode(img.Data)
	if err != nil {
		return model.TamperAssessment{
			SuspiciousRegions: []model.Region{},
			IsScreenshot:      true,
			RiskTier:          model.RiskUnknown,
			Message:           fmt.Sprintf("ELA analysis error: %v", err),
		}
	}

	b := decoded.Bounds()
	screenshot := isScreenshotCapture(ReadCaptureMetadata(img.Data), b.Dx(), b.Dy())

	em, err := d.errorLevels(decoded)
	if err != nil {
		return model.TamperAssessment{
			SuspiciousRegions: []model.Region{},
			IsScreenshot:      screenshot,
			RiskTier:          model.RiskUnknown,
			Message:           fmt.Sprintf("ELA analysis error: %v", err),
		}
	}

	th := d.cfg.Photo
	if screenshot {
		th = d.cfg.Screenshot
	}

	maxErr, mean, std := em.stats()
	result := model.TamperAssessment{
		MaxError:          float64(maxErr),
		MeanError:         mean,
		StdError:          std,
		SuspiciousRegions: em.suspiciousRegions(mean, th),
		IsScreenshot:      screenshot,
	}
	d.score(&result, th)
	return result
}

// score fills Points, Reasons, RiskTier and Message from the statistics
func (d *TamperDetector) score(a *model.TamperAssessment, th model.ELAThresholds) {
	points := 0
	var reasons []string

	if a.MaxError > th.MaxError {
		points += 3
		reasons = append(reasons, fmt.Sprintf("High compression variance detected (max: %.0f)", a.MaxError))
	}
	if a.StdError > th.StdError {
		points += 2
		reasons = append(reasons, fmt.Sprintf("Inconsistent compression patterns (std: %.2f)", a.StdError))
	}
	if n := len(a.SuspiciousRegions); n >= th.RegionThreshold {
		points += min(n, 3)
		reasons = append(reasons, fmt.Sprintf("Found %d suspicious region(s): %s", n, strings.Join(a.RegionLabels(), ", ")))
	}

	if a.IsScreenshot && points > 0 {
		points = max(0, points-d.cfg.ScreenshotDiscount)
	}

	a.Points = min(points, 8)
	a.Reasons = reasons
	switch {
	case a.Points >= 5:
		a.RiskTier = model.RiskHigh
	case a.Points >= 3:
		a.RiskTier = model.RiskMedium
	default:
		a.RiskTier = model.RiskLow
	}

	if len(reasons) > 0 {
		a.Message = strings.Join(reasons, "; ")
	} else {
		a.Message = "Compression levels consistent"
	}
}

func (d *TamperDetector) errorLevels(img image.Image) (*errorMap, error) {
	orig := imaging.ToRGB(img)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, orig, &jpeg.Options{Quality: d.cfg.Quality}); err != nil {
		return nil, fmt.Errorf("re-encode: %w", err)
	}
	reenc, err := jpeg.Decode(&buf)
	if err != nil {
		return nil, fmt.Errorf("decode re-encoded: %w", err)
	}
	comp := imaging.ToRGB(reenc)

	w, h := orig.Bounds().Dx(), orig.Bounds().Dy()
	em := &errorMap{w: w, h: h, diff: make([]uint8, w*h*3)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := orig.PixOffset(x, y)
			c := comp.PixOffset(x, y)
			i := (y*w + x) * 3
			for ch := 0; ch < 3; ch++ {
				em.diff[i+ch] = absDiff(orig.Pix[o+ch], comp.Pix[c+ch])
			}
		}
	}
	return em, nil
}

func (em *errorMap) stats() (uint8, float64, float64) {
	var maxErr uint8
	var sum, sumSq float64
	for _, v := range em.diff {
		if v > maxErr {
			maxErr = v
		}
		f := float64(v)
		sum += f
		sumSq += f * f
	}
	n := float64(len(em.diff))
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return maxErr, mean, math.Sqrt(variance)
}

// suspiciousRegions splits the map into a 3x3 grid (the last row and column
// absorb the remainder) and returns cells whose mean error exceeds
// ratio*globalMean and whose max exceeds the floor, highest mean first.
func (em *errorMap) suspiciousRegions(globalMean float64, th model.ELAThresholds) []model.Region {
	cellH := em.h / 3
	cellW := em.w / 3

	var cells []cellStats
	for row := 0; row < 3; row++ {
		y0, y1 := row*cellH, (row+1)*cellH
		if row == 2 {
			y1 = em.h
		}
		for col := 0; col < 3; col++ {
			x0, x1 := col*cellW, (col+1)*cellW
			if col == 2 {
				x1 = em.w
			}
			if y1 <= y0 || x1 <= x0 {
				continue
			}
			cells = append(cells, em.cell(regionNames[row][col], x0, y0, x1, y1))
		}
	}

	limit := globalMean * th.RegionRatio
	regions := []model.Region{}
	for _, c := range cells {
		if c.mean > limit && float64(c.max) > th.RegionFloor {
			regions = append(regions, model.Region{
				Label:     c.label,
				MeanError: c.mean,
				MaxError:  float64(c.max),
			})
		}
	}
	sort.SliceStable(regions, func(i, j int) bool {
		return regions[i].MeanError > regions[j].MeanError
	})
	return regions
}

func (em *errorMap) cell(label string, x0, y0, x1, y1 int) cellStats {
	var sum float64
	var maxErr uint8
	for y := y0; y < y1; y++ {
		row := em.diff[(y*em.w+x0)*3 : (y*em.w+x1)*3]
		for _, v := range row {
			sum += float64(v)
			if v > maxErr {
				maxErr = v
			}
		}
	}
	n := float64((x1 - x0) * (y1 - y0) * 3)
	return cellStats{label: label, mean: sum / n, max: maxErr}
}

// isScreenshotCapture decides which threshold set applies. Images without a
// camera make/model are screenshots; large frames are photos; phone-shaped
// frames are treated as screenshots.
func isScreenshotCapture(meta CaptureMetadata, w, h int) bool {
	if !meta.HasCamera() {
		return true
	}
	if w > 2000 || h > 2000 {
		return false
	}
	short, long := w, h
	if short > long {
		short, long = long, short
	}
	if short == 0 {
		return true
	}
	aspect := float64(long) / float64(short)
	return aspect >= 1.5 && aspect <= 2.5
}

func absDiff(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}
