package pipeline

import (
	"cmp"
	"log/slog"
	"slices"

	"github.com/hed1ad/procurewatch/pkg/risk"
)

// Count aggregates the high-risk contracts of one vendor, authority or category.
type Count struct {
	Key       string  `json:"key"`
	Contracts int     `json:"contracts"`
	Value     float64 `json:"value"`
}

// Summary is the batch-level report over scored results.
type Summary struct {
	Records       int     `json:"records"`
	TotalValue    float64 `json:"total_value"`
	IsoAnomalies  int     `json:"iso_anomalies"`
	LOFAnomalies  int     `json:"lof_anomalies"`
	AnyAnomalies  int     `json:"any_anomalies"`
	BothAnomalies int     `json:"both_anomalies"`

	Categories map[risk.Category]int `json:"risk_distribution"`

	// HighRisk counts records in the High or Critical band.
	HighRisk      int     `json:"high_risk"`
	HighRiskValue float64 `json:"high_risk_value"`

	// VendorConcentration is the Herfindahl-Hirschman index of vendor shares
	// of total contract value, from 0 to 10000.
	VendorConcentration float64 `json:"vendor_concentration_hhi"`

	TopVendors     []Count `json:"top_vendors,omitempty"`
	TopAuthorities []Count `json:"top_authorities,omitempty"`
	TopCategories  []Count `json:"top_categories,omitempty"`

	PatternFlags map[string]int `json:"pattern_flags,omitempty"`
}

// Summarize reports totals, anomaly counts, the risk distribution and the
// topN vendors, authorities and categories among high-risk records. topN <= 0
// keeps every group.
func Summarize(results []Result, topN int) Summary {
	s := Summary{
		Records:    len(results),
		Categories: make(map[risk.Category]int, len(risk.Categories())),
	}
	for _, c := range risk.Categories() {
		s.Categories[c] = 0
	}

	vendorValue := make(map[string]float64)
	vendors := make(map[string]*Count)
	authorities := make(map[string]*Count)
	categories := make(map[string]*Count)

	for _, r := range results {
		s.TotalValue += r.Value
		vendorValue[r.VendorID] += r.Value
		s.Categories[r.Category]++
		if r.IsoAnomaly {
			s.IsoAnomalies++
		}
		if r.LOFAnomaly {
			s.LOFAnomalies++
		}
		if r.AnyAnomaly {
			s.AnyAnomalies++
		}
		if r.BothAnomaly {
			s.BothAnomalies++
		}
		for _, f := range r.Raised {
			if s.PatternFlags == nil {
				s.PatternFlags = make(map[string]int)
			}
			s.PatternFlags[f]++
		}

		if r.Category < risk.High {
			continue
		}
		s.HighRisk++
		s.HighRiskValue += r.Value
		tally(vendors, r.VendorID, r.Value)
		tally(authorities, r.AuthorityID, r.Value)
		if r.CategoryCode != "" {
			tally(categories, r.CategoryCode, r.Value)
		}
	}

	if s.TotalValue > 0 {
		for _, v := range vendorValue {
			share := v / s.TotalValue
			s.VendorConcentration += share * share * 10000
		}
	}

	s.TopVendors = top(vendors, topN)
	s.TopAuthorities = top(authorities, topN)
	s.TopCategories = top(categories, topN)
	return s
}

func tally(m map[string]*Count, key string, value float64) {
	c, ok := m[key]
	if !ok {
		c = &Count{Key: key}
		m[key] = c
	}
	c.Contracts++
	c.Value += value
}

func top(m map[string]*Count, n int) []Count {
	out := make([]Count, 0, len(m))
	for _, c := range m {
		out = append(out, *c)
	}
	slices.SortFunc(out, func(a, b Count) int {
		if c := cmp.Compare(b.Contracts, a.Contracts); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Value, a.Value); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// Rate returns n as a percentage of the summarized records.
func (s Summary) Rate(n int) float64 {
	if s.Records == 0 {
		return 0
	}
	return float64(n) / float64(s.Records) * 100
}

// LogValue renders the summary as a structured log group.
func (s Summary) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int("records", s.Records),
		slog.Float64("total_value", s.TotalValue),
		slog.Int("iso_anomalies", s.IsoAnomalies),
		slog.Int("lof_anomalies", s.LOFAnomalies),
		slog.Int("any_anomalies", s.AnyAnomalies),
		slog.Int("both_anomalies", s.BothAnomalies),
		slog.Int("high_risk", s.HighRisk),
		slog.Float64("vendor_hhi", s.VendorConcentration),
	}
	for _, c := range risk.Categories() {
		attrs = append(attrs, slog.Int(c.String(), s.Categories[c]))
	}
	return slog.GroupValue(attrs...)
}
