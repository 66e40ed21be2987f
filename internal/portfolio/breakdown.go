// Package portfolio computes book-of-business aggregates over policy records:
// loss ratio, claims frequency and average premium, overall and per segment.
package portfolio

import (
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/harrier/internal/domain"
)

// CarEra groups car model years into five-year ranges.
type CarEra string

const (
	CarEraPre2005 CarEra = "2000-2004"
	CarEra2005    CarEra = "2005-2009"
	CarEra2010    CarEra = "2010-2014"
	CarEra2015    CarEra = "2015-2019"
	CarEra2020    CarEra = "2020-2025"
)

// CarEras lists the eras in ascending order.
var CarEras = []CarEra{CarEraPre2005, CarEra2005, CarEra2010, CarEra2015, CarEra2020}

// EraOf returns the era of a car model year. Years before 2000 fall into the
// first era and years after 2025 into the last.
func EraOf(year int) CarEra {
	switch {
	case year < 2005:
		return CarEraPre2005
	case year < 2010:
		return CarEra2005
	case year < 2015:
		return CarEra2010
	case year < 2020:
		return CarEra2015
	default:
		return CarEra2020
	}
}

// Segment aggregates the records sharing one key. Ratios are nil when their
// denominator is zero.
type Segment struct {
	Key        string   `json:"key"`
	Count      int      `json:"count"`
	Claims     int      `json:"claims"`
	Premium    float64  `json:"premium"`
	Loss       float64  `json:"loss"`
	AvgPremium *float64 `json:"avgPremium"`
	LossRatio  *float64 `json:"lossRatio"`
	ClaimsFreq *float64 `json:"claimsFreq"`
}

// Cell is one age band by car era entry of the loss ratio heatmap.
type Cell struct {
	AgeBand   domain.AgeBand `json:"ageBand"`
	CarEra    CarEra         `json:"carEra"`
	Count     int            `json:"count"`
	LossRatio *float64       `json:"lossRatio"`
}

// Breakdown is the portfolio view of a dataset.
type Breakdown struct {
	Total Segment `json:"total"`

	// AvgLossPerClaim is total loss over the claim count.
	AvgLossPerClaim *float64 `json:"avgLossPerClaim"`

	ByAgeBand []Segment `json:"byAgeBand"`
	ByGender  []Segment `json:"byGender"`
	ByCarEra  []Segment `json:"byCarEra"`

	// Heatmap rows follow domain.AgeBands, columns follow CarEras.
	Heatmap [][]Cell `json:"heatmap"`
}

// accumulator sums amounts exactly in decimal.
type accumulator struct {
	count   int
	claims  int
	premium decimal.Decimal
	loss    decimal.Decimal
}

func (a *accumulator) add(r domain.PolicyRecord) {
	a.count++
	if r.HasClaim() {
		a.claims++
	}
	a.premium = a.premium.Add(decimal.NewFromFloat(r.AnnualPremium))
	a.loss = a.loss.Add(decimal.NewFromFloat(r.TotalLoss))
}

func (a *accumulator) lossRatio() *float64 {
	if !a.premium.IsPositive() {
		return nil
	}
	v := a.loss.Div(a.premium).InexactFloat64()
	return &v
}

func (a *accumulator) segment(key string) Segment {
	s := Segment{
		Key:       key,
		Count:     a.count,
		Claims:    a.claims,
		Premium:   a.premium.InexactFloat64(),
		Loss:      a.loss.InexactFloat64(),
		LossRatio: a.lossRatio(),
	}
	if a.count > 0 {
		n := decimal.NewFromInt(int64(a.count))
		avg := a.premium.Div(n).InexactFloat64()
		freq := float64(a.claims) / float64(a.count)
		s.AvgPremium = &avg
		s.ClaimsFreq = &freq
	}
	return s
}

var genders = []domain.Gender{domain.GenderMale, domain.GenderFemale}

// Summarize aggregates records. Every band, gender and era is present in the
// result, including empty ones.
func Summarize(records []domain.PolicyRecord) *Breakdown {
	var total accumulator
	byBand := make(map[domain.AgeBand]*accumulator, len(domain.AgeBands))
	byGender := make(map[domain.Gender]*accumulator, len(genders))
	byEra := make(map[CarEra]*accumulator, len(CarEras))
	cells := make(map[domain.AgeBand]map[CarEra]*accumulator, len(domain.AgeBands))

	for _, b := range domain.AgeBands {
		byBand[b] = &accumulator{}
		cells[b] = make(map[CarEra]*accumulator, len(CarEras))
		for _, e := range CarEras {
			cells[b][e] = &accumulator{}
		}
	}
	for _, g := range genders {
		byGender[g] = &accumulator{}
	}
	for _, e := range CarEras {
		byEra[e] = &accumulator{}
	}

	for _, r := range records {
		band, era := domain.BandOf(r.Age), EraOf(r.CarModelYear)
		total.add(r)
		byBand[band].add(r)
		byEra[era].add(r)
		cells[band][era].add(r)
		if acc, ok := byGender[r.Gender]; ok {
			acc.add(r)
		}
	}

	b := &Breakdown{
		Total:     total.segment("all"),
		ByAgeBand: make([]Segment, 0, len(domain.AgeBands)),
		ByGender:  make([]Segment, 0, len(genders)),
		ByCarEra:  make([]Segment, 0, len(CarEras)),
		Heatmap:   make([][]Cell, 0, len(domain.AgeBands)),
	}

	if total.claims > 0 {
		v := total.loss.Div(decimal.NewFromInt(int64(total.claims))).InexactFloat64()
		b.AvgLossPerClaim = &v
	}

	for _, band := range domain.AgeBands {
		b.ByAgeBand = append(b.ByAgeBand, byBand[band].segment(string(band)))

		row := make([]Cell, len(CarEras))
		for i, era := range CarEras {
			acc := cells[band][era]
			row[i] = Cell{AgeBand: band, CarEra: era, Count: acc.count, LossRatio: acc.lossRatio()}
		}
		b.Heatmap = append(b.Heatmap, row)
	}
	for _, g := range genders {
		b.ByGender = append(b.ByGender, byGender[g].segment(string(g)))
	}
	for _, era := range CarEras {
		b.ByCarEra = append(b.ByCarEra, byEra[era].segment(string(era)))
	}

	return b
}

// Find returns the segment with key from segments.
func Find(segments []Segment, key string) (Segment, bool) {
	for _, s := range segments {
		if s.Key == key {
			return s, true
		}
	}
	return Segment{}, false
}
