package worker

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ManifestItem is one row of a batch manifest
type ManifestItem struct {
	Line             int
	Path             string
	SubmitterID      string
	SubmissionRef    string
	ExpectedAmount   float64
	AcceptedAccounts []string
	PriorReceipts    []string
}

// key identifies an item for deduplication
func (m ManifestItem) key() string {
	if m.SubmissionRef != "" {
		return "ref:" + m.SubmissionRef
	}
	return "path:" + m.Path
}

var manifestColumns = []string{"path", "submitter_id", "submission_ref", "expected_amount", "accepted_accounts", "prior_receipts"}

// ReadManifest reads a CSV manifest. Columns are, in order: path,
// submitter_id, submission_ref, expected_amount, accepted_accounts,
// prior_receipts; only path is required. List columns are separated by
// semicolons. A header row, blank lines and lines starting with # are
// skipped, and repeated submissions are kept once.
func ReadManifest(filePath string) ([]ManifestItem, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer func() { _ = file.Close() }()

	return ParseManifest(file)
}

// ParseManifest parses manifest rows from r
func ParseManifest(r io.Reader) ([]ManifestItem, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var items []ManifestItem
	seen := make(map[string]bool)

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read manifest: %w", err)
		}
		line, _ := reader.FieldPos(0)

		if len(record) > len(manifestColumns) {
			return nil, fmt.Errorf("manifest line %d: %d columns, at most %d allowed", line, len(record), len(manifestColumns))
		}
		for i := range record {
			record[i] = strings.TrimSpace(record[i])
		}
		if strings.EqualFold(record[0], manifestColumns[0]) {
			continue
		}
		if record[0] == "" {
			continue
		}

		item, err := parseRow(record)
		if err != nil {
			return nil, fmt.Errorf("manifest line %d: %w", line, err)
		}
		item.Line = line

		if seen[item.key()] {
			continue
		}
		seen[item.key()] = true
		items = append(items, item)
	}

	return items, nil
}

func parseRow(record []string) (ManifestItem, error) {
	field := func(i int) string {
		if i < len(record) {
			return record[i]
		}
		return ""
	}

	item := ManifestItem{
		Path:             field(0),
		SubmitterID:      field(1),
		SubmissionRef:    field(2),
		AcceptedAccounts: splitList(field(4)),
		PriorReceipts:    splitList(field(5)),
	}
	if raw := field(3); raw != "" {
		amount, err := strconv.ParseFloat(raw, 64)
		if err != nil || amount < 0 {
			return item, fmt.Errorf("invalid expected_amount %q", raw)
		}
		item.ExpectedAmount = amount
	}
	return item, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ";") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
