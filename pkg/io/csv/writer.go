package csv

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	pwio "github.com/hed1ad/procurewatch/pkg/io"
	"github.com/hed1ad/procurewatch/pkg/pipeline"
	"github.com/hed1ad/procurewatch/pkg/procurement"
)

// Writer writes scored records as CSV. The header is written before the first row.
type Writer struct {
	file   *os.File
	writer *csv.Writer
	flags  bool
	header bool
}

// WriterOption configures a CSV writer.
type WriterOption func(*Writer)

// WithFlags adds the pattern flag columns.
func WithFlags(on bool) WriterOption {
	return func(w *Writer) {
		w.flags = on
	}
}

// Create creates or truncates filename for writing.
func Create(filename string, opts ...WriterOption) (*Writer, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	w := NewWriter(file, opts...)
	w.file = file
	return w, nil
}

// NewWriter writes CSV to dst.
func NewWriter(dst io.Writer, opts ...WriterOption) *Writer {
	w := &Writer{writer: csv.NewWriter(dst)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs a single result.
func (w *Writer) Write(result pipeline.Result) error {
	if !w.header {
		if err := w.writer.Write(pwio.Header(w.flags)); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		w.header = true
	}
	return w.writer.Write(pwio.Row(result, w.flags))
}

// WriteAll outputs multiple results.
func (w *Writer) WriteAll(results []pipeline.Result) error {
	for _, r := range results {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	w.writer.Flush()
	return w.writer.Error()
}

// Close flushes buffered rows and closes the file if the writer owns one.
func (w *Writer) Close() error {
	w.writer.Flush()
	err := w.writer.Error()
	if w.file != nil {
		if cerr := w.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// WriteBatch writes the source columns of every record in b, header first.
func WriteBatch(dst io.Writer, b *procurement.Batch) error {
	w := csv.NewWriter(dst)
	if err := w.Write(procurement.AllColumns()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, rec := range b.Records {
		if err := w.Write(pwio.RecordRow(rec)); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

var _ pwio.Writer = (*Writer)(nil)
