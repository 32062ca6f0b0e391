// Package csv reads contract batches from CSV files and writes scored batches back.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"

	pwio "github.com/hed1ad/procurewatch/pkg/io"
	"github.com/hed1ad/procurewatch/pkg/procurement"
	"github.com/hed1ad/procurewatch/pkg/riskerr"
)

// Reader reads contract records from CSV with a header row. Columns are
// matched by name; unknown columns are ignored.
type Reader struct {
	file   *os.File
	reader *csv.Reader
	comma  rune
}

// Option configures a CSV reader.
type Option func(*Reader)

// WithComma sets the field delimiter.
func WithComma(c rune) Option {
	return func(r *Reader) {
		r.comma = c
	}
}

// NewReader opens filename for reading.
func NewReader(filename string, opts ...Option) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	r := FromReader(file, opts...)
	r.file = file
	return r, nil
}

// FromReader reads CSV from src.
func FromReader(src io.Reader, opts ...Option) *Reader {
	r := &Reader{comma: ','}
	for _, opt := range opts {
		opt(r)
	}
	r.reader = csv.NewReader(src)
	r.reader.Comma = r.comma
	r.reader.TrimLeadingSpace = true
	return r
}

// Read returns the batch. A malformed cell fails the whole read with
// riskerr.ErrDataQuality naming its line and column.
func (r *Reader) Read() (*procurement.Batch, error) {
	header, err := r.reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: missing header row", riskerr.ErrSchema)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	index := make(map[string]int)
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, dup := index[name]; dup {
			return nil, fmt.Errorf("%w: duplicate column %q", riskerr.ErrSchema, name)
		}
		index[name] = i
	}

	batch := &procurement.Batch{}
	for _, col := range procurement.AllColumns() {
		if _, ok := index[col]; ok {
			batch.Columns = append(batch.Columns, col)
		}
	}

	line := 1
	for {
		record, err := r.reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", riskerr.ErrDataQuality, line, err)
		}

		rec, err := parseRecord(record, index, batch)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", riskerr.ErrDataQuality, line, err)
		}
		batch.Records = append(batch.Records, rec)
	}
	return batch, nil
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

func parseRecord(record []string, index map[string]int, batch *procurement.Batch) (procurement.ContractRecord, error) {
	cell := func(col string) string {
		i, ok := index[col]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	rec := procurement.ContractRecord{
		ID:           cell(procurement.ColumnID),
		VendorID:     cell(procurement.ColumnVendor),
		AuthorityID:  cell(procurement.ColumnAuthority),
		CategoryCode: cell(procurement.ColumnCategory),
	}

	var err error
	if batch.Has(procurement.ColumnValue) {
		if rec.Value, err = parseFloat(cell(procurement.ColumnValue)); err != nil {
			return rec, fmt.Errorf("%s: %v", procurement.ColumnValue, err)
		}
	}
	if batch.Has(procurement.ColumnAwardDate) {
		if rec.AwardDate, err = parseDate(cell(procurement.ColumnAwardDate)); err != nil {
			return rec, fmt.Errorf("%s: %v", procurement.ColumnAwardDate, err)
		}
	}
	if batch.Has(procurement.ColumnPublishDate) {
		// an empty publication date is unknown, not malformed
		if s := cell(procurement.ColumnPublishDate); s != "" {
			if rec.PublishDate, err = parseDate(s); err != nil {
				return rec, fmt.Errorf("%s: %v", procurement.ColumnPublishDate, err)
			}
		}
	}
	return rec, nil
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, errors.New("empty value")
	}
	return cast.ToFloat64E(s)
}

func parseDate(s string) (t time.Time, err error) {
	if s == "" {
		return t, errors.New("empty date")
	}
	return cast.ToTimeE(s)
}

var _ pwio.Reader = (*Reader)(nil)
