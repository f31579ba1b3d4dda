package export

import (
	"fmt"
	"strconv"
)

// Dataset defines tabular export content.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

// Field is a labelled value printed outside the table.
type Field struct {
	Label string
	Value string
}

// String renders the field as "LABEL: value".
func (f Field) String() string {
	return fmt.Sprintf("%s: %s", f.Label, f.Value)
}

// Document is a printable report: an identity header, metadata lines, one
// table and a statistics block.
type Document struct {
	LeftHeader  []string
	RightHeader []string
	MetaRows    [][]Field
	Table       Dataset
	// Widths holds one relative width per table header.
	Widths []float64
	// Fills maps a header to the hex background of its column heading.
	Fills map[string]string
	// Numeric lists headers whose cells are written as numbers where possible.
	Numeric    map[string]bool
	StatsTitle string
	Stats      [][]Field
}

func (d Document) validate() error {
	if len(d.Table.Headers) == 0 {
		return fmt.Errorf("document requires at least one header")
	}
	if len(d.Widths) != 0 && len(d.Widths) != len(d.Table.Headers) {
		return fmt.Errorf("document has %d widths for %d headers", len(d.Widths), len(d.Table.Headers))
	}
	return nil
}

func (d Document) width(i int) float64 {
	if i < len(d.Widths) && d.Widths[i] > 0 {
		return d.Widths[i]
	}
	return 10
}

// headerLines pairs the left and right identity lines row by row.
func (d Document) headerLines() [][2]string {
	n := len(d.LeftHeader)
	if len(d.RightHeader) > n {
		n = len(d.RightHeader)
	}
	lines := make([][2]string, n)
	for i := range lines {
		if i < len(d.LeftHeader) {
			lines[i][0] = d.LeftHeader[i]
		}
		if i < len(d.RightHeader) {
			lines[i][1] = d.RightHeader[i]
		}
	}
	return lines
}

func (d Document) numericValue(header, raw string) (float64, bool) {
	if !d.Numeric[header] || raw == "" {
		return 0, false
	}
	return parseNumber(raw)
}

func parseNumber(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func hexRGB(hex string) (int, int, int) {
	if len(hex) != 6 {
		return 255, 255, 255
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 255, 255, 255
	}
	return int(v >> 16 & 0xFF), int(v >> 8 & 0xFF), int(v & 0xFF)
}
