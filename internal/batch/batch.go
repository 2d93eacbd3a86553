// Package batch reads recipient batch artifacts.
package batch

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ContentType is the media type batch artifacts are stored with.
const ContentType = "text/csv"

// Row is one non-blank record of a batch artifact. Line is 1-based and counts
// the physical line where the record starts.
type Row struct {
	Line   int
	Fields []string
}

// Options control how an artifact is read.
type Options struct {
	// SkipHeader drops the first record when it looks like a column header.
	SkipHeader bool
}

// Parse splits a comma separated artifact into rows. Blank lines are ignored
// and field counts are not enforced here; row validation owns that rule.
func Parse(r io.Reader, opts Options) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = false

	var rows []Row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read batch: %w", err)
		}
		line, _ := reader.FieldPos(0)
		if isBlank(record) {
			continue
		}
		if len(rows) == 0 && opts.SkipHeader && IsHeader(record) {
			opts.SkipHeader = false
			continue
		}
		rows = append(rows, Row{Line: line, Fields: record})
	}
	return rows, nil
}

// ParseBytes is Parse over an in-memory artifact.
func ParseBytes(b []byte, opts Options) ([]Row, error) {
	return Parse(bytes.NewReader(b), opts)
}

// IsHeader reports whether record names the name and idType columns.
func IsHeader(record []string) bool {
	if len(record) < 3 {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(record[0]), "name") &&
		strings.EqualFold(strings.TrimSpace(record[2]), "idType")
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
