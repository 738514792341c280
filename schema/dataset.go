package schema

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrMalformedInput matches every InputError via errors.Is.
var ErrMalformedInput = errors.New("malformed input")

// InputError describes input that can never be processed as given: unreadable
// CSV, empty files, duplicate column names.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string { return e.Reason }

func (e *InputError) Is(target error) bool { return target == ErrMalformedInput }

func malformed(format string, args ...interface{}) error {
	return &InputError{Reason: fmt.Sprintf(format, args...)}
}

// Dataset is a parsed CSV: the header row plus the raw data rows in file order.
// Rows may be shorter or longer than the header.
type Dataset struct {
	Headers []string
	Rows    [][]string

	index map[string]int
}

// NewDataset indexes headers by name and rejects duplicates.
func NewDataset(headers []string, rows [][]string) (*Dataset, error) {
	index := make(map[string]int, len(headers))
	for i, h := range headers {
		if _, dup := index[h]; dup {
			return nil, malformed("Duplicate column %q in CSV header.", h)
		}
		index[h] = i
	}
	return &Dataset{Headers: headers, Rows: rows, index: index}, nil
}

// Column returns the position of the named header.
func (d *Dataset) Column(name string) (int, bool) {
	if name == "" {
		return -1, false
	}
	idx, ok := d.index[name]
	return idx, ok
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

// ParseCSV reads a comma separated file whose first row is the header.
func ParseCSV(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, malformed("CSV file is empty.")
	}
	if err != nil {
		return nil, malformed("Invalid CSV: %v", err)
	}
	for i, h := range headers {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		headers[i] = strings.TrimSpace(h)
	}

	var rows [][]string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, malformed("Invalid CSV: %v", err)
		}
		if blankRow(row) {
			continue
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, malformed("CSV contains no rows.")
	}

	return NewDataset(headers, rows)
}

func blankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
