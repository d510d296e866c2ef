// Package spreadsheet reads tabular vehicle exports into header-keyed rows.
package spreadsheet

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Row maps column header to cell value. Cells missing from a short record
// are absent from the map; cells beyond the header are dropped.
type Row map[string]string

// ErrUnsupportedFormat is returned for spreadsheet formats other than CSV.
var ErrUnsupportedFormat = errors.New("unsupported spreadsheet format")

const utf8BOM = "\ufeff"

// ParseFile opens a CSV file and parses it with Parse.
func ParseFile(path string) ([]Row, error) {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".csv" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	f, err := os.Open(path) //nolint:gosec // path chosen by the local user
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close() //nolint:errcheck
	return Parse(f)
}

// Parse reads a header line followed by records. Records may have fewer or
// more fields than the header. An empty input yields no rows.
func Parse(r io.Reader) ([]Row, error) {
	br := bufio.NewReader(r)
	if bom, err := br.Peek(len(utf8BOM)); err == nil && string(bom) == utf8BOM {
		_, _ = br.Discard(len(utf8BOM))
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	headerRecord, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return []Row{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading headers: %w", err)
	}
	headers := make([]string, len(headerRecord))
	copy(headers, headerRecord)

	rows := []Row{}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading record: %w", err)
		}
		row := make(Row, len(headers))
		for i, h := range headers {
			if i >= len(record) {
				break
			}
			row[h] = record[i]
		}
		rows = append(rows, row)
	}
	return rows, nil
}
