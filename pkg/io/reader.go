// Package io provides contract batch readers and scored-result writers.
package io

import (
	"strconv"
	"strings"

	"github.com/hed1ad/procurewatch/pkg/pipeline"
	"github.com/hed1ad/procurewatch/pkg/procurement"
)

// DateLayout is the date format written for record dates.
const DateLayout = "2006-01-02"

// Reader is the interface for reading contract batches from various sources.
type Reader interface {
	// Read returns the complete batch together with the columns the source carried.
	Read() (*procurement.Batch, error)

	// Close releases resources.
	Close() error
}

// Writer is the interface for writing scored records.
type Writer interface {
	// Write outputs a single result.
	Write(result pipeline.Result) error

	// WriteAll outputs multiple results.
	WriteAll(results []pipeline.Result) error

	// Close flushes and releases resources.
	Close() error
}

// Output columns appended to the source columns.
const (
	ColumnIsoScore    = "iso_score"
	ColumnIsoAnomaly  = "iso_anomaly"
	ColumnLOFScore    = "lof_score"
	ColumnLOFAnomaly  = "lof_anomaly"
	ColumnAnyAnomaly  = "any_anomaly"
	ColumnBothAnomaly = "both_anomaly"
	ColumnRiskScore   = "risk_score"
	ColumnRiskCat     = "risk_category"
	ColumnFlags       = "flags"
	ColumnTotalFlags  = "total_flags"
)

// Header returns the output columns: every source column followed by the
// assessment columns and, when flags is set, the pattern flag columns.
func Header(flags bool) []string {
	h := append(procurement.AllColumns(),
		ColumnIsoScore, ColumnIsoAnomaly,
		ColumnLOFScore, ColumnLOFAnomaly,
		ColumnAnyAnomaly, ColumnBothAnomaly,
		ColumnRiskScore, ColumnRiskCat,
	)
	if flags {
		h = append(h, ColumnFlags, ColumnTotalFlags)
	}
	return h
}

// RecordRow renders the source columns of rec in procurement.AllColumns order.
func RecordRow(rec procurement.ContractRecord) []string {
	return []string{
		rec.ID,
		formatFloat(rec.Value),
		rec.VendorID,
		rec.AuthorityID,
		formatDate(rec.AwardDate),
		rec.CategoryCode,
		formatDate(rec.PublishDate),
	}
}

// Row renders r in Header order. Booleans are written as 0/1.
func Row(r pipeline.Result, flags bool) []string {
	row := append(RecordRow(r.ContractRecord),
		formatFloat(r.IsoScore),
		formatBool(r.IsoAnomaly),
		formatFloat(r.LOFScore),
		formatBool(r.LOFAnomaly),
		formatBool(r.AnyAnomaly),
		formatBool(r.BothAnomaly),
		formatFloat(r.RiskScore),
		r.Category.String(),
	)
	if flags {
		row = append(row, strings.Join(r.Raised, ";"), strconv.Itoa(r.Total))
	}
	return row
}
