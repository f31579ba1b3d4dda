package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// CSVExporter renders documents into CSV bytes.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Render produces CSV encoded bytes. Header, metadata and statistics lines
// surround the table, separated by empty records.
func (e *CSVExporter) Render(doc Document) ([]byte, error) {
	if err := doc.validate(); err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)

	var records [][]string
	for _, line := range doc.headerLines() {
		records = append(records, []string{line[0], line[1]})
	}
	if len(records) > 0 {
		records = append(records, []string{})
	}
	for _, row := range doc.MetaRows {
		record := make([]string, 0, len(row))
		for _, field := range row {
			record = append(record, field.String())
		}
		records = append(records, record)
	}
	if len(doc.MetaRows) > 0 {
		records = append(records, []string{})
	}

	records = append(records, doc.Table.Headers)
	for _, row := range doc.Table.Rows {
		record := make([]string, len(doc.Table.Headers))
		for i, header := range doc.Table.Headers {
			record[i] = row[header]
		}
		records = append(records, record)
	}

	if len(doc.Stats) > 0 {
		records = append(records, []string{})
		if doc.StatsTitle != "" {
			records = append(records, []string{doc.StatsTitle})
		}
		for _, row := range doc.Stats {
			record := make([]string, 0, len(row)*2)
			for _, field := range row {
				record = append(record, field.Label, field.Value)
			}
			records = append(records, record)
		}
	}

	for _, record := range records {
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv record: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
