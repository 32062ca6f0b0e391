// Package xlsx writes scored batches and their summary to an Excel workbook.
package xlsx

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	pwio "github.com/hed1ad/procurewatch/pkg/io"
	"github.com/hed1ad/procurewatch/pkg/pipeline"
	"github.com/hed1ad/procurewatch/pkg/risk"
)

// Sheet names.
const (
	ScoresSheet  = "Scores"
	SummarySheet = "Summary"
)

// Writer buffers rows in a workbook and saves it on Close.
type Writer struct {
	file  *excelize.File
	path  string
	flags bool
	row   int
}

// Option configures a Writer.
type Option func(*Writer)

// WithFlags adds the pattern flag columns.
func WithFlags(on bool) Option {
	return func(w *Writer) {
		w.flags = on
	}
}

// NewWriter returns a writer that saves the workbook to path on Close.
func NewWriter(path string, opts ...Option) (*Writer, error) {
	w := &Writer{file: excelize.NewFile(), path: path}
	for _, opt := range opts {
		opt(w)
	}

	if err := w.file.SetSheetName("Sheet1", ScoresSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if err := w.setRow(ScoresSheet, 1, pwio.Header(w.flags)); err != nil {
		return nil, err
	}
	if err := w.file.SetPanes(ScoresSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("freeze header: %w", err)
	}
	w.row = 1
	return w, nil
}

// Write outputs a single result.
func (w *Writer) Write(result pipeline.Result) error {
	w.row++
	return w.setRow(ScoresSheet, w.row, pwio.Row(result, w.flags))
}

// WriteAll outputs multiple results.
func (w *Writer) WriteAll(results []pipeline.Result) error {
	for _, r := range results {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// WriteSummary adds a sheet with the batch report.
func (w *Writer) WriteSummary(s pipeline.Summary) error {
	if _, err := w.file.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}

	rows := [][]any{
		{"Total contracts", s.Records},
		{"Total contract value", s.TotalValue},
		{"Isolation forest anomalies", s.IsoAnomalies},
		{"LOF anomalies", s.LOFAnomalies},
		{"Combined anomalies", s.AnyAnomalies},
		{"High confidence anomalies", s.BothAnomalies},
		{"High-risk contracts", s.HighRisk},
		{"High-risk value", s.HighRiskValue},
		{"Vendor concentration (HHI)", s.VendorConcentration},
		{},
		{"Risk category", "Contracts", "Share %"},
	}
	for _, c := range risk.Categories() {
		rows = append(rows, []any{c.String(), s.Categories[c], s.Rate(s.Categories[c])})
	}
	rows = append(rows, []any{}, []any{"Top high-risk vendor", "Contracts", "Value"})
	for _, c := range s.TopVendors {
		rows = append(rows, []any{c.Key, c.Contracts, c.Value})
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := w.file.SetSheetRow(SummarySheet, cell, &row); err != nil {
			return fmt.Errorf("write summary row %d: %w", i+1, err)
		}
	}
	return nil
}

// Close saves the workbook.
func (w *Writer) Close() error {
	if err := w.file.SaveAs(w.path); err != nil {
		w.file.Close()
		return fmt.Errorf("save workbook: %w", err)
	}
	return w.file.Close()
}

func (w *Writer) setRow(sheet string, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := w.file.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write row %d: %w", row, err)
	}
	return nil
}

var _ pwio.Writer = (*Writer)(nil)
