package features

import (
	"github.com/hed1ad/procurewatch/pkg/procurement"
	"github.com/hed1ad/procurewatch/pkg/stats"
)

type categoryStats struct {
	mean float64
	std  float64
}

type partyStats struct {
	contracts int
	partners  map[string]struct{}
}

type aggregates struct {
	category  map[string]categoryStats
	vendor    map[string]*partyStats
	authority map[string]*partyStats
}

// aggregate computes the grouped statistics in a single pass over the batch.
// Category values are collected in record order so sums are reproducible.
func aggregate(batch *procurement.Batch) *aggregates {
	agg := &aggregates{
		category:  make(map[string]categoryStats),
		vendor:    make(map[string]*partyStats),
		authority: make(map[string]*partyStats),
	}

	values := make(map[string][]float64)
	for _, rec := range batch.Records {
		values[rec.CategoryCode] = append(values[rec.CategoryCode], rec.Value)
		count(agg.vendor, rec.VendorID, rec.AuthorityID)
		count(agg.authority, rec.AuthorityID, rec.VendorID)
	}

	for code, vals := range values {
		mean, std := stats.MeanStd(vals)
		agg.category[code] = categoryStats{mean: mean, std: std}
	}
	return agg
}

func count(groups map[string]*partyStats, key, partner string) {
	g, ok := groups[key]
	if !ok {
		g = &partyStats{partners: make(map[string]struct{})}
		groups[key] = g
	}
	g.contracts++
	g.partners[partner] = struct{}{}
}
