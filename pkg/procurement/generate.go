package procurement

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// GenerateConfig controls the synthetic batch generator.
type GenerateConfig struct {
	Records     int
	Seed        int64
	Vendors     int
	Authorities int
	Categories  int

	// Contract values are drawn from exp(ValueMu + ValueSigma*N(0,1)).
	ValueMu    float64
	ValueSigma float64

	// Award happens MinDelay..MaxDelay-1 days after publication.
	MinDelay int
	MaxDelay int

	// Publication dates are spread over PublishWindow days from Start.
	Start         time.Time
	PublishWindow int
}

// DefaultGenerateConfig returns a generator shaped like a national procurement feed.
func DefaultGenerateConfig() GenerateConfig {
	return GenerateConfig{
		Records:       2000,
		Seed:          42,
		Vendors:       15,
		Authorities:   9,
		Categories:    10,
		ValueMu:       11,
		ValueSigma:    1.5,
		MinDelay:      30,
		MaxDelay:      120,
		Start:         time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		PublishWindow: 5 * 365,
	}
}

var categoryCodes = []string{
	"45000000", "72000000", "90000000", "85000000", "79000000",
	"80000000", "71000000", "60000000", "55000000", "50000000",
}

// Generate returns a deterministic synthetic batch.
func Generate(cfg GenerateConfig) *Batch {
	rng := rand.New(rand.NewSource(cfg.Seed))

	records := make([]ContractRecord, cfg.Records)
	for i := range records {
		publish := cfg.Start.AddDate(0, 0, intn(rng, cfg.PublishWindow))
		delay := cfg.MinDelay + intn(rng, cfg.MaxDelay-cfg.MinDelay)
		value := math.Min(math.Exp(cfg.ValueMu+cfg.ValueSigma*rng.NormFloat64()), MaxContractValue/10)

		records[i] = ContractRecord{
			ID:           fmt.Sprintf("FI-%06d", i+1),
			Value:        math.Round(value*100) / 100,
			VendorID:     fmt.Sprintf("V%03d", intn(rng, cfg.Vendors)+1),
			AuthorityID:  fmt.Sprintf("A%02d", intn(rng, cfg.Authorities)+1),
			CategoryCode: categoryCodes[intn(rng, min(cfg.Categories, len(categoryCodes)))],
			PublishDate:  publish,
			AwardDate:    publish.AddDate(0, 0, delay),
		}
	}
	return NewBatch(records)
}

func intn(rng *rand.Rand, n int) int {
	if n <= 1 {
		return 0
	}
	return rng.Intn(n)
}

// InjectOverpricing multiplies the value of the record at idx by factor.
func InjectOverpricing(b *Batch, idx int, factor float64) {
	b.Records[idx].Value = math.Min(b.Records[idx].Value*factor, MaxContractValue)
}

// InjectRapidAward moves the award date of the record at idx to days after publication.
func InjectRapidAward(b *Batch, idx int, days int) {
	b.Records[idx].AwardDate = b.Records[idx].PublishDate.AddDate(0, 0, days)
}

// InjectAnomalies perturbs a rate fraction of the batch, alternating between
// overpricing (x3..x10) and rapid awards (1..9 days). It returns the indices touched.
func InjectAnomalies(b *Batch, rate float64, seed int64) []int {
	rng := rand.New(rand.NewSource(seed))
	n := int(float64(b.Len()) * rate)
	idx := rng.Perm(b.Len())[:n]
	for _, i := range idx {
		if rng.Float64() < 0.5 {
			InjectOverpricing(b, i, 3+rng.Float64()*7)
		} else {
			InjectRapidAward(b, i, 1+rng.Intn(9))
		}
	}
	return idx
}
