// Package synth generates synthetic auto policy portfolios shaped like a
// production extract: a claim rate near 30%, lognormal claim sizes and
// premiums loaded by driver age, gender and car age.
package synth

import (
	"math"
	"math/rand/v2"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Config controls a generated portfolio.
type Config struct {
	Rows int
	Seed uint64

	// ReferenceYear is the "current" year used to age cars.
	ReferenceYear int

	// FirstModelYear is the oldest car in the fleet.
	FirstModelYear int
}

// DefaultConfig returns the reference portfolio: 10,000 rows, seed 42.
func DefaultConfig() Config {
	return Config{
		Rows:           10_000,
		Seed:           42,
		ReferenceYear:  2025,
		FirstModelYear: 2000,
	}
}

const (
	basePremium   = 1200.0
	minPremium    = 500.0
	maxPremium    = 5000.0
	maxLoss       = 80_000.0
	baseClaimProb = 0.28
	maleShare     = 0.52
)

// Generate returns cfg.Rows records with customer ids 1..Rows. The same
// config always yields the same records.
func Generate(cfg Config) []domain.PolicyRecord {
	def := DefaultConfig()
	if cfg.ReferenceYear == 0 {
		cfg.ReferenceYear = def.ReferenceYear
	}
	if cfg.FirstModelYear == 0 || cfg.FirstModelYear > cfg.ReferenceYear {
		cfg.FirstModelYear = def.FirstModelYear
	}
	if cfg.Rows < 0 {
		cfg.Rows = 0
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	years := yearSampler(cfg.FirstModelYear, cfg.ReferenceYear)

	records := make([]domain.PolicyRecord, cfg.Rows)
	for i := range records {
		gender := domain.GenderFemale
		if rng.Float64() < maleShare {
			gender = domain.GenderMale
		}

		age := int(clamp(40+12*rng.NormFloat64(), 18, 75))
		year := years(rng)
		carAge := float64(cfg.ReferenceYear - year)

		premium := basePremium * premiumAgeFactor(age) * (1 + carAge*0.012) * (1 + 0.10*rng.NormFloat64())
		if gender == domain.GenderMale {
			premium *= 1.08
		}
		premium = clamp(premium, minPremium, maxPremium)

		claimProb := clamp(baseClaimProb+claimAgeAdjust(age)+carAge*0.005, 0.05, 0.70)
		loss := 0.0
		if rng.Float64() < claimProb {
			loss = clamp(math.Exp(7.5+rng.NormFloat64()), 0, maxLoss)
		}

		records[i] = domain.PolicyRecord{
			CustomerID:    int64(i + 1),
			Gender:        gender,
			Age:           age,
			CarModelYear:  year,
			AnnualPremium: cents(premium),
			TotalLoss:     cents(loss),
		}
	}
	return records
}

// yearSampler draws model years with weights rising linearly from 1 for the
// oldest year to 5 for the newest.
func yearSampler(first, last int) func(*rand.Rand) int {
	n := last - first + 1
	cumulative := make([]float64, n)
	total := 0.0
	for i := range n {
		w := 1.0
		if n > 1 {
			w = 1 + 4*float64(i)/float64(n-1)
		}
		total += w
		cumulative[i] = total
	}
	return func(rng *rand.Rand) int {
		u := rng.Float64() * total
		for i, c := range cumulative {
			if u < c {
				return first + i
			}
		}
		return last
	}
}

func premiumAgeFactor(age int) float64 {
	switch {
	case age < 25:
		return 1.45
	case age < 30:
		return 1.15
	case age < 60:
		return 1.0
	case age < 70:
		return 1.10
	default:
		return 1.25
	}
}

func claimAgeAdjust(age int) float64 {
	switch {
	case age < 25:
		return 0.15
	case age < 30:
		return 0.05
	case age < 60:
		return 0
	case age < 70:
		return 0.05
	default:
		return 0.10
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func cents(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
