package export

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	maxSheetNameLen   = 31
	sheetNameStemLen  = 28
	defaultSheetName  = "Sheet1"
	singleSheetName   = "Relevé"
	rightHeaderColumn = 5
	rightMetaColumn   = 8
)

var sheetNameReplacer = strings.NewReplacer("[", "_", "]", "_", "*", "_", ":", "_", "?", "_", "/", "_", "\\", "_")

// NamedDocument pairs a document with its worksheet name.
type NamedDocument struct {
	Name     string
	Document Document
}

// XLSXExporter renders documents into Excel workbooks.
type XLSXExporter struct{}

// NewXLSXExporter builds an XLSX exporter.
func NewXLSXExporter() *XLSXExporter {
	return &XLSXExporter{}
}

// Render writes a single-sheet workbook.
func (e *XLSXExporter) Render(doc Document) ([]byte, error) {
	return e.RenderWorkbook([]NamedDocument{{Name: singleSheetName, Document: doc}})
}

// RenderWorkbook writes one worksheet per document. Names are sanitised
// and made unique with SheetNames.
func (e *XLSXExporter) RenderWorkbook(docs []NamedDocument) ([]byte, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("workbook requires at least one sheet")
	}
	raw := make([]string, len(docs))
	for i, doc := range docs {
		if err := doc.Document.validate(); err != nil {
			return nil, fmt.Errorf("sheet %s: %w", doc.Name, err)
		}
		raw[i] = doc.Name
	}
	names := SheetNames(raw)

	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck

	for i, doc := range docs {
		if i == 0 {
			if err := f.SetSheetName(defaultSheetName, names[i]); err != nil {
				return nil, fmt.Errorf("rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(names[i]); err != nil {
			return nil, fmt.Errorf("create sheet %s: %w", names[i], err)
		}
		if err := writeWorksheet(f, names[i], doc.Document); err != nil {
			return nil, fmt.Errorf("write sheet %s: %w", names[i], err)
		}
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("render xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

// SheetNames turns raw names into valid, unique worksheet names: []*:?/\
// become '_', names are cut to 31 characters and a collision is resolved by
// cutting to 28 and appending "(n)".
func SheetNames(raw []string) []string {
	used := make(map[string]bool, len(raw))
	out := make([]string, len(raw))
	for i, name := range raw {
		base := truncateRunes(sheetNameReplacer.Replace(name), maxSheetNameLen)
		if base == "" {
			base = defaultSheetName
		}
		unique := base
		for n := 1; used[unique]; n++ {
			unique = fmt.Sprintf("%s(%d)", truncateRunes(base, sheetNameStemLen), n)
		}
		used[unique] = true
		out[i] = unique
	}
	return out
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

type sheetStyles struct {
	bold   int
	cell   int
	header map[string]int
}

func newSheetStyles(f *excelize.File, doc Document) (sheetStyles, error) {
	border := []excelize.Border{
		{Type: "left", Color: "000000", Style: 1},
		{Type: "right", Color: "000000", Style: 1},
		{Type: "top", Color: "000000", Style: 1},
		{Type: "bottom", Color: "000000", Style: 1},
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return sheetStyles{}, err
	}
	cell, err := f.NewStyle(&excelize.Style{
		Border:    border,
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return sheetStyles{}, err
	}
	styles := sheetStyles{bold: bold, cell: cell, header: make(map[string]int, len(doc.Table.Headers))}
	for _, header := range doc.Table.Headers {
		style := &excelize.Style{
			Font:      &excelize.Font{Bold: true},
			Border:    border,
			Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		}
		if fill := doc.Fills[header]; fill != "" {
			style.Fill = excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{fill}}
		}
		id, err := f.NewStyle(style)
		if err != nil {
			return sheetStyles{}, err
		}
		styles.header[header] = id
	}
	return styles, nil
}

func writeWorksheet(f *excelize.File, sheet string, doc Document) error {
	styles, err := newSheetStyles(f, doc)
	if err != nil {
		return err
	}
	set := func(col, row int, value interface{}) (string, error) {
		cell, err := excelize.CoordinatesToCellName(col, row)
		if err != nil {
			return "", err
		}
		return cell, f.SetCellValue(sheet, cell, value)
	}
	setBold := func(col, row int, value string) error {
		cell, err := set(col, row, value)
		if err != nil {
			return err
		}
		return f.SetCellStyle(sheet, cell, cell, styles.bold)
	}

	row := 1
	for _, line := range doc.headerLines() {
		if line[0] != "" {
			if err := setBold(1, row, line[0]); err != nil {
				return err
			}
		}
		if line[1] != "" {
			if err := setBold(rightHeaderColumn, row, line[1]); err != nil {
				return err
			}
		}
		row++
	}
	if row > 1 {
		row++
	}

	for _, meta := range doc.MetaRows {
		for i, field := range meta {
			col := 1
			if i > 0 {
				col = rightMetaColumn
			}
			if err := setBold(col, row, field.String()); err != nil {
				return err
			}
		}
		row++
	}
	if len(doc.MetaRows) > 0 {
		row++
	}

	for i, header := range doc.Table.Headers {
		cell, err := set(i+1, row, header)
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, cell, cell, styles.header[header]); err != nil {
			return err
		}
		colName, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, colName, colName, doc.width(i)); err != nil {
			return err
		}
	}
	row++

	for _, record := range doc.Table.Rows {
		for i, header := range doc.Table.Headers {
			var value interface{} = record[header]
			if v, ok := doc.numericValue(header, record[header]); ok {
				value = v
			}
			cell, err := set(i+1, row, value)
			if err != nil {
				return err
			}
			if err := f.SetCellStyle(sheet, cell, cell, styles.cell); err != nil {
				return err
			}
		}
		row++
	}

	if len(doc.Stats) == 0 {
		return nil
	}
	row++
	if doc.StatsTitle != "" {
		if err := setBold(1, row, doc.StatsTitle); err != nil {
			return err
		}
		row++
	}
	for _, stats := range doc.Stats {
		col := 1
		for _, field := range stats {
			if _, err := set(col, row, field.Label); err != nil {
				return err
			}
			var value interface{} = field.Value
			if v, ok := parseNumber(field.Value); ok {
				value = v
			}
			if _, err := set(col+1, row, value); err != nil {
				return err
			}
			col += 2
		}
		row++
	}
	return nil
}
