// Package features derives the fixed-width numeric feature matrix from a batch
// of contract records using per-vendor, per-authority and per-category aggregates.
package features

import (
	"fmt"
	"math"
	"slices"

	"github.com/hed1ad/procurewatch/pkg/procurement"
	"github.com/hed1ad/procurewatch/pkg/riskerr"
	"github.com/hed1ad/procurewatch/pkg/stats"
)

// Feature names in canonical order.
const (
	LogValue               = "log_value"
	PriceDeviation         = "price_deviation"
	VendorContractCount    = "vendor_contract_count"
	VendorAuthorityCount   = "vendor_authority_count"
	DaysToAward            = "days_to_award"
	AwardMonth             = "award_month"
	AwardQuarter           = "award_quarter"
	AuthorityVendorCount   = "authority_vendor_count"
	AuthorityContractCount = "authority_contract_count"
)

// Epsilon keeps the category z-score finite for zero-variance categories.
const Epsilon = 1e-6

type definition struct {
	name     string
	requires []string
	compute  func(agg *aggregates, rec procurement.ContractRecord) float64
}

var definitions = []definition{
	{
		name: LogValue,
		compute: func(_ *aggregates, rec procurement.ContractRecord) float64 {
			return math.Log10(rec.Value + 1)
		},
	},
	{
		name:     PriceDeviation,
		requires: []string{procurement.ColumnCategory},
		compute: func(agg *aggregates, rec procurement.ContractRecord) float64 {
			c := agg.category[rec.CategoryCode]
			return (rec.Value - c.mean) / (c.std + Epsilon)
		},
	},
	{
		name: VendorContractCount,
		compute: func(agg *aggregates, rec procurement.ContractRecord) float64 {
			return float64(agg.vendor[rec.VendorID].contracts)
		},
	},
	{
		name: VendorAuthorityCount,
		compute: func(agg *aggregates, rec procurement.ContractRecord) float64 {
			return float64(len(agg.vendor[rec.VendorID].partners))
		},
	},
	{
		name:     DaysToAward,
		requires: []string{procurement.ColumnPublishDate},
		compute: func(_ *aggregates, rec procurement.ContractRecord) float64 {
			return rec.DaysToAward()
		},
	},
	{
		name: AwardMonth,
		compute: func(_ *aggregates, rec procurement.ContractRecord) float64 {
			return float64(rec.AwardDate.Month())
		},
	},
	{
		name: AwardQuarter,
		compute: func(_ *aggregates, rec procurement.ContractRecord) float64 {
			return float64((int(rec.AwardDate.Month())-1)/3 + 1)
		},
	},
	{
		name: AuthorityVendorCount,
		compute: func(agg *aggregates, rec procurement.ContractRecord) float64 {
			return float64(len(agg.authority[rec.AuthorityID].partners))
		},
	},
	{
		name: AuthorityContractCount,
		compute: func(agg *aggregates, rec procurement.ContractRecord) float64 {
			return float64(agg.authority[rec.AuthorityID].contracts)
		},
	},
}

// AllNames returns every feature the builder knows, in canonical order.
func AllNames() []string {
	names := make([]string, len(definitions))
	for i, d := range definitions {
		names[i] = d.name
	}
	return names
}

// Matrix is the output of a build: one row per record, columns in Names order.
type Matrix struct {
	Names   []string
	Rows    [][]float64
	Dropped []string
}

// Width returns the number of features per row.
func (m *Matrix) Width() int {
	return len(m.Names)
}

// Builder turns batches into feature matrices.
type Builder struct {
	defs []definition
}

// NewBuilder returns a builder restricted to the named features, or to every
// known feature when names is empty. Canonical order is kept regardless of the
// order names are given in.
func NewBuilder(names ...string) (*Builder, error) {
	if len(names) == 0 {
		return &Builder{defs: definitions}, nil
	}

	known := AllNames()
	for i, n := range names {
		if !slices.Contains(known, n) {
			return nil, fmt.Errorf("%w: unknown feature %q", riskerr.ErrConfig, n)
		}
		if slices.Contains(names[:i], n) {
			return nil, fmt.Errorf("%w: duplicate feature %q", riskerr.ErrConfig, n)
		}
	}

	b := &Builder{}
	for _, d := range definitions {
		if slices.Contains(names, d.name) {
			b.defs = append(b.defs, d)
		}
	}
	return b, nil
}

// Names returns the features this builder emits for a batch carrying every column.
func (b *Builder) Names() []string {
	names := make([]string, len(b.defs))
	for i, d := range b.defs {
		names[i] = d.name
	}
	return names
}

// Build derives the feature matrix for batch. Features whose optional source
// column is absent are dropped and reported; non-finite values are replaced
// by the batch median of their column.
func (b *Builder) Build(batch *procurement.Batch) (*Matrix, error) {
	if err := procurement.CheckSchema(batch); err != nil {
		return nil, err
	}
	if batch.Len() == 0 {
		return nil, fmt.Errorf("%w: empty batch", riskerr.ErrDataQuality)
	}

	m := &Matrix{}
	var active []definition
	for _, d := range b.defs {
		if available(batch, d) {
			active = append(active, d)
			m.Names = append(m.Names, d.name)
		} else {
			m.Dropped = append(m.Dropped, d.name)
		}
	}
	if len(active) == 0 {
		return nil, fmt.Errorf("%w: no features available, dropped %v", riskerr.ErrDataQuality, m.Dropped)
	}

	agg := aggregate(batch)

	cols := make([][]float64, len(active))
	for j, d := range active {
		col := make([]float64, batch.Len())
		for i, rec := range batch.Records {
			col[i] = d.compute(agg, rec)
		}
		if err := impute(d.name, col); err != nil {
			return nil, err
		}
		cols[j] = col
	}

	m.Rows = make([][]float64, batch.Len())
	for i := range m.Rows {
		row := make([]float64, len(cols))
		for j := range cols {
			row[j] = cols[j][i]
		}
		m.Rows[i] = row
	}
	return m, nil
}

func available(batch *procurement.Batch, d definition) bool {
	for _, col := range d.requires {
		if !batch.Has(col) {
			return false
		}
	}
	return true
}

func impute(name string, col []float64) error {
	med := stats.Median(col)
	if math.IsNaN(med) {
		return fmt.Errorf("%w: feature %s has no finite value to impute from", riskerr.ErrDataQuality, name)
	}
	for i, v := range col {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			col[i] = med
		}
	}
	return nil
}
