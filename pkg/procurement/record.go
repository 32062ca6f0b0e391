// Package procurement defines the contract records and batches handed to the
// scoring core, together with input-contract validation.
package procurement

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/hed1ad/procurewatch/pkg/riskerr"
)

// Source column names.
const (
	ColumnID          = "contract_id"
	ColumnValue       = "contract_value"
	ColumnVendor      = "vendor_id"
	ColumnAuthority   = "authority_id"
	ColumnCategory    = "category_code"
	ColumnPublishDate = "publish_date"
	ColumnAwardDate   = "award_date"
)

// MaxContractValue is the largest contract value accepted by the input contract.
const MaxContractValue = 1e9

// RequiredColumns must be present in every batch.
var RequiredColumns = []string{
	ColumnID,
	ColumnValue,
	ColumnVendor,
	ColumnAuthority,
	ColumnAwardDate,
}

// OptionalColumns feed optional features; their absence drops those features.
var OptionalColumns = []string{
	ColumnCategory,
	ColumnPublishDate,
}

// AllColumns lists every source column in canonical order.
func AllColumns() []string {
	return append(slices.Clone(RequiredColumns), OptionalColumns...)
}

// ContractRecord is one procurement award.
type ContractRecord struct {
	ID           string    `json:"contract_id" validate:"required"`
	Value        float64   `json:"contract_value" validate:"gt=0,lte=1000000000"`
	VendorID     string    `json:"vendor_id" validate:"required"`
	AuthorityID  string    `json:"authority_id" validate:"required"`
	CategoryCode string    `json:"category_code,omitempty"`
	PublishDate  time.Time `json:"publish_date,omitempty"`
	AwardDate    time.Time `json:"award_date" validate:"required,gtefield=PublishDate"`
}

// DaysToAward returns whole days between publication and award, or NaN when
// the publication date is unknown.
func (r ContractRecord) DaysToAward() float64 {
	if r.PublishDate.IsZero() {
		return math.NaN()
	}
	return float64(int64(r.AwardDate.Sub(r.PublishDate).Hours()) / 24)
}

// Batch is a tabular set of records together with the source columns that
// were present when the batch was read.
type Batch struct {
	Records []ContractRecord `json:"records"`
	Columns []string         `json:"columns"`
}

// NewBatch returns a batch that declares every source column.
func NewBatch(records []ContractRecord) *Batch {
	return &Batch{Records: records, Columns: AllColumns()}
}

// Len returns the number of records.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Records)
}

// Has reports whether the batch carries column.
func (b *Batch) Has(column string) bool {
	return slices.Contains(b.Columns, column)
}

// WithoutColumn returns a shallow copy of the batch that no longer declares column.
func (b *Batch) WithoutColumn(column string) *Batch {
	cols := make([]string, 0, len(b.Columns))
	for _, c := range b.Columns {
		if c != column {
			cols = append(cols, c)
		}
	}
	return &Batch{Records: b.Records, Columns: cols}
}

// CheckSchema fails with riskerr.ErrSchema when a required column is absent.
func CheckSchema(b *Batch) error {
	if b == nil {
		return fmt.Errorf("%w: nil batch", riskerr.ErrSchema)
	}
	var missing []string
	for _, col := range RequiredColumns {
		if !b.Has(col) {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required columns %v", riskerr.ErrSchema, missing)
	}
	return nil
}
