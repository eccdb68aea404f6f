package design

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// table is a parsed numeric CSV file.
type table struct {
	header []string
	rows   [][]float64
}

// column returns the index of name in the header, or -1.
func (t *table) column(name string) int {
	for i, h := range t.header {
		if h == name {
			return i
		}
	}
	return -1
}

// readTable loads a CSV file. With header set, the first record names the
// columns. Every other cell must parse as a finite float and every row must
// have the same width.
func readTable(path string, header bool) (*table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open CSV: %w", err)
	}
	defer file.Close()
	return parseTable(file, path, header)
}

func parseTable(r io.Reader, name string, header bool) (*table, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read CSV %s: %w", name, err)
	}

	t := &table{}
	start := 0
	if header {
		if len(records) < 2 {
			return nil, fmt.Errorf("CSV %s empty or missing header", name)
		}
		for _, h := range records[0] {
			t.header = append(t.header, strings.TrimSpace(h))
		}
		start = 1
	} else if len(records) == 0 {
		return nil, fmt.Errorf("CSV %s is empty", name)
	}

	width := len(records[start])
	if header {
		width = len(t.header)
	}
	for i, record := range records[start:] {
		line := i + start + 1
		if len(record) != width {
			return nil, fmt.Errorf("CSV %s row %d: expected %d columns, got %d", name, line, width, len(record))
		}
		row := make([]float64, width)
		for j, cell := range record {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, fmt.Errorf("CSV %s row %d column %d: %w", name, line, j+1, err)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("CSV %s row %d column %d: value must be finite, got %v", name, line, j+1, v)
			}
			row[j] = v
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}
