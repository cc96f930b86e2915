// Package forensics holds the two image-level evidence extractors: the
// capture-metadata analyzer and the compression error-level tamper detector.
// Both are pure functions over the receipt bytes and never return errors;
// unreadable input degrades to the non-penalizing assessment.
package forensics

import (
	"bytes"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// exifTimeLayout is the EXIF 2.x timestamp format
const exifTimeLayout = "2006:01:02 15:04:05"

// CaptureMetadata is the subset of EXIF fields the analyzers look at
type CaptureMetadata struct {
	Present           bool // an EXIF block was found and parsed
	Make              string
	Model             string
	Software          string
	DateTimeOriginal  string
	DateTimeDigitized string
	DateTime          string
}

// HasCamera reports whether a device make or model is recorded
func (m CaptureMetadata) HasCamera() bool {
	return m.Make != "" || m.Model != ""
}

// ReadCaptureMetadata extracts capture fields from the image bytes.
// Missing or corrupt EXIF yields a zero CaptureMetadata.
func ReadCaptureMetadata(data []byte) CaptureMetadata {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil && (x == nil || exif.IsCriticalError(err)) {
		return CaptureMetadata{}
	}
	if x == nil {
		return CaptureMetadata{}
	}

	return CaptureMetadata{
		Present:           true,
		Make:              exifString(x, exif.Make),
		Model:             exifString(x, exif.Model),
		Software:          exifString(x, exif.Software),
		DateTimeOriginal:  exifString(x, exif.DateTimeOriginal),
		DateTimeDigitized: exifString(x, exif.DateTimeDigitized),
		DateTime:          exifString(x, exif.DateTime),
	}
}

func exifString(x *exif.Exif, field exif.FieldName) string {
	tag, err := x.Get(field)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimRight(s, "\x00"))
}

func parseExifTime(s string) (time.Time, bool) {
	t, err := time.Parse(exifTimeLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
