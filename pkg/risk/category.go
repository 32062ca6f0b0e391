package risk

import (
	"fmt"
	"strings"
)

// Category is an ordered risk band.
type Category int

// Risk bands in ascending order.
const (
	Low Category = iota
	Medium
	High
	Critical
)

var categoryNames = [...]string{"Low", "Medium", "High", "Critical"}

// Categories returns every band in ascending order.
func Categories() []Category {
	return []Category{Low, Medium, High, Critical}
}

func (c Category) String() string {
	if c < Low || c > Critical {
		return fmt.Sprintf("Category(%d)", int(c))
	}
	return categoryNames[c]
}

// MarshalText encodes the band by name.
func (c Category) MarshalText() ([]byte, error) {
	if c < Low || c > Critical {
		return nil, fmt.Errorf("unknown risk category %d", int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText decodes a band name, ignoring case.
func (c *Category) UnmarshalText(text []byte) error {
	for i, name := range categoryNames {
		if strings.EqualFold(name, string(text)) {
			*c = Category(i)
			return nil
		}
	}
	return fmt.Errorf("unknown risk category %q", text)
}

// Bands are the lower bounds of the Medium, High and Critical bands.
// Each band is right-open: [0,Medium) Low, [Medium,High) Medium,
// [High,Critical) High, [Critical,100] Critical.
type Bands struct {
	Medium   float64 `json:"medium" yaml:"medium"`
	High     float64 `json:"high" yaml:"high"`
	Critical float64 `json:"critical" yaml:"critical"`
}

// DefaultBands returns the 50/75/90 banding.
func DefaultBands() Bands {
	return Bands{Medium: 50, High: 75, Critical: 90}
}

// Classify maps a score onto its band using exact comparisons.
func (b Bands) Classify(score float64) Category {
	switch {
	case score >= b.Critical:
		return Critical
	case score >= b.High:
		return High
	case score >= b.Medium:
		return Medium
	default:
		return Low
	}
}

// Lower returns the inclusive lower bound of a band.
func (b Bands) Lower(c Category) float64 {
	switch c {
	case Medium:
		return b.Medium
	case High:
		return b.High
	case Critical:
		return b.Critical
	default:
		return MinScore
	}
}
