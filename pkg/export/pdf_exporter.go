package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

const (
	pdfMargin    = 10.0
	pdfPageWidth = 297.0
	pdfRowHeight = 6.0
)

// PDFExporter renders documents into a landscape A4 table.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates a PDF document with an optional title above the table.
func (e *PDFExporter) Render(doc Document, title string) ([]byte, error) {
	if err := doc.validate(); err != nil {
		return nil, err
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(true, pdfMargin)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	usable := pdfPageWidth - 2*pdfMargin
	half := usable / 2

	pdf.SetFont("Arial", "B", 9)
	for _, line := range doc.headerLines() {
		pdf.CellFormat(half, 5, tr(line[0]), "", 0, "L", false, 0, "")
		pdf.CellFormat(half, 5, tr(line[1]), "", 1, "R", false, 0, "")
	}

	if title != "" {
		pdf.Ln(3)
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, tr(strings.ToUpper(title)), "", 1, "C", false, 0, "")
	}

	pdf.SetFont("Arial", "", 10)
	for _, row := range doc.MetaRows {
		if len(row) == 0 {
			continue
		}
		cell := usable / float64(len(row))
		for _, field := range row {
			pdf.CellFormat(cell, 6, tr(field.String()), "", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}
	pdf.Ln(2)

	widths := scaledWidths(doc, usable)
	writeHeader := func() {
		pdf.SetFont("Arial", "B", 8)
		for i, header := range doc.Table.Headers {
			fill := doc.Fills[header]
			if fill == "" {
				fill = "FFFFFF"
			}
			r, g, b := hexRGB(fill)
			pdf.SetFillColor(r, g, b)
			pdf.CellFormat(widths[i], 7, tr(header), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
	}
	writeHeader()

	pdf.SetFont("Arial", "", 8)
	_, pageHeight := pdf.GetPageSize()
	for _, row := range doc.Table.Rows {
		if pdf.GetY()+pdfRowHeight > pageHeight-pdfMargin {
			pdf.AddPage()
			writeHeader()
			pdf.SetFont("Arial", "", 8)
		}
		for i, header := range doc.Table.Headers {
			align := "C"
			if !doc.Numeric[header] && i > 0 {
				align = "L"
			}
			pdf.CellFormat(widths[i], pdfRowHeight, tr(row[header]), "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	if len(doc.Stats) > 0 {
		pdf.Ln(4)
		if doc.StatsTitle != "" {
			pdf.SetFont("Arial", "B", 10)
			pdf.CellFormat(0, 6, tr(doc.StatsTitle), "", 1, "L", false, 0, "")
		}
		pdf.SetFont("Arial", "", 9)
		for _, row := range doc.Stats {
			for _, field := range row {
				pdf.CellFormat(45, 6, tr(field.Label), "1", 0, "L", false, 0, "")
				pdf.CellFormat(20, 6, tr(field.Value), "1", 0, "C", false, 0, "")
			}
			pdf.Ln(-1)
		}
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func scaledWidths(doc Document, usable float64) []float64 {
	var total float64
	for i := range doc.Table.Headers {
		total += doc.width(i)
	}
	widths := make([]float64, len(doc.Table.Headers))
	for i := range widths {
		widths[i] = doc.width(i) / total * usable
	}
	return widths
}
