package forensics

import (
	"image/color"
	"math/rand"
	"testing"

	"github.com/ppiankov/receiptguard/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDetector() *TamperDetector {
	return NewTamperDetector(model.DefaultConfig().Tamper)
}

func TestTamperDetector_FlatScreenshotIsClean(t *testing.T) {
	data := pngBytes(t, solid(300, 600, color.RGBA{240, 240, 240, 255}))

	got := newDetector().Analyze(model.ReceiptImage{Data: data})
	assert.True(t, got.IsScreenshot)
	assert.Equal(t, model.RiskLow, got.RiskTier)
	assert.Equal(t, 0, got.Points)
	assert.Empty(t, got.SuspiciousRegions)
	assert.Equal(t, "Compression levels consistent", got.Message)
}

func TestTamperDetector_PastedNoiseIsLocalized(t *testing.T) {
	img := solid(300, 300, color.RGBA{240, 240, 240, 255})
	r := rand.New(rand.NewSource(42))
	for y := 110; y < 190; y++ {
		for x := 110; x < 190; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(r.Intn(256)), uint8(r.Intn(256)), uint8(r.Intn(256)), 255})
		}
	}

	got := newDetector().Analyze(model.ReceiptImage{Data: pngBytes(t, img)})
	require.NotEmpty(t, got.SuspiciousRegions)
	assert.Equal(t, "Center", got.SuspiciousRegions[0].Label)
	assert.Greater(t, got.MaxError, 40.0)
	assert.Greater(t, got.SuspiciousRegions[0].MeanError, got.MeanError)
}

func TestTamperDetector_UndecodableIsUnknown(t *testing.T) {
	got := newDetector().Analyze(model.ReceiptImage{Data: []byte("not an image")})
	assert.Equal(t, model.RiskUnknown, got.RiskTier)
	assert.Equal(t, 0, got.Points)
	assert.NotNil(t, got.SuspiciousRegions)
	assert.Empty(t, got.SuspiciousRegions)
	assert.Contains(t, got.Message, "ELA analysis error")
}

func TestTamperDetector_TinyImage(t *testing.T) {
	got := newDetector().Analyze(model.ReceiptImage{Data: pngBytes(t, solid(2, 2, color.RGBA{10, 20, 30, 255}))})
	assert.NotEqual(t, model.RiskUnknown, got.RiskTier)
}

func TestTamperDetector_Score(t *testing.T) {
	cfg := model.DefaultConfig().Tamper
	d := NewTamperDetector(cfg)
	regions := func(n int) []model.Region {
		out := make([]model.Region, n)
		for i := range out {
			out[i] = model.Region{Label: regionNames[i/3][i%3]}
		}
		return out
	}

	tests := []struct {
		name       string
		in         model.TamperAssessment
		th         model.ELAThresholds
		wantPoints int
		wantTier   model.RiskTier
	}{
		{
			name:       "photo all signals",
			in:         model.TamperAssessment{MaxError: 60, StdError: 30, SuspiciousRegions: regions(4)},
			th:         cfg.Photo,
			wantPoints: 8,
			wantTier:   model.RiskHigh,
		},
		{
			name:       "photo max only",
			in:         model.TamperAssessment{MaxError: 26, StdError: 5, SuspiciousRegions: regions(0)},
			th:         cfg.Photo,
			wantPoints: 3,
			wantTier:   model.RiskMedium,
		},
		{
			name:       "photo single region below count",
			in:         model.TamperAssessment{MaxError: 10, StdError: 5, SuspiciousRegions: regions(1)},
			th:         cfg.Photo,
			wantPoints: 0,
			wantTier:   model.RiskLow,
		},
		{
			name:       "photo max and two regions",
			in:         model.TamperAssessment{MaxError: 30, StdError: 5, SuspiciousRegions: regions(2)},
			th:         cfg.Photo,
			wantPoints: 5,
			wantTier:   model.RiskHigh,
		},
		{
			name:       "screenshot discount",
			in:         model.TamperAssessment{MaxError: 41, StdError: 26, SuspiciousRegions: regions(0), IsScreenshot: true},
			th:         cfg.Screenshot,
			wantPoints: 3,
			wantTier:   model.RiskMedium,
		},
		{
			name:       "screenshot below relaxed thresholds",
			in:         model.TamperAssessment{MaxError: 35, StdError: 20, SuspiciousRegions: regions(2), IsScreenshot: true},
			th:         cfg.Screenshot,
			wantPoints: 0,
			wantTier:   model.RiskLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in
			d.score(&got, tt.th)
			assert.Equal(t, tt.wantPoints, got.Points)
			assert.Equal(t, tt.wantTier, got.RiskTier)
		})
	}
}

func TestSuspiciousRegions_RankedByMean(t *testing.T) {
	em := &errorMap{w: 9, h: 9, diff: make([]uint8, 9*9*3)}
	fill := func(cx, cy int, v uint8) {
		for y := cy * 3; y < cy*3+3; y++ {
			for x := cx * 3; x < cx*3+3; x++ {
				i := (y*9 + x) * 3
				em.diff[i], em.diff[i+1], em.diff[i+2] = v, v, v
			}
		}
	}
	fill(0, 0, 60)  // Top-left
	fill(2, 2, 100) // Bottom-right

	_, mean, _ := em.stats()
	got := em.suspiciousRegions(mean, model.DefaultConfig().Tamper.Photo)
	require.Len(t, got, 2)
	assert.Equal(t, "Bottom-right", got[0].Label)
	assert.Equal(t, "Top-left", got[1].Label)
	assert.Equal(t, 100.0, got[0].MaxError)
}

func TestIsScreenshotCapture(t *testing.T) {
	camera := CaptureMetadata{Present: true, Make: "Apple"}
	assert.True(t, isScreenshotCapture(CaptureMetadata{}, 4000, 3000))
	assert.False(t, isScreenshotCapture(camera, 4032, 3024))
	assert.True(t, isScreenshotCapture(camera, 1080, 1920))
	assert.False(t, isScreenshotCapture(camera, 1200, 1000))
}
