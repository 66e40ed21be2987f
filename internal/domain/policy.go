package domain

import (
	"fmt"
	"math"
)

// Gender is the policyholder gender as recorded in the dataset.
type Gender string

const (
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
)

// Valid reports whether g is one of the known values.
func (g Gender) Valid() bool {
	return g == GenderMale || g == GenderFemale
}

// PolicyRecord is one row of the auto-insurance dataset.
// Records are treated as immutable once loaded.
type PolicyRecord struct {
	CustomerID    int64   `json:"customerId"`
	Gender        Gender  `json:"gender"`
	Age           int     `json:"age"`
	CarModelYear  int     `json:"carModelYear"`
	AnnualPremium float64 `json:"annualPremium"`
	TotalLoss     float64 `json:"totalLoss"`
}

// LossRatio is total_loss / annual_premium, or 0 when the premium is not positive.
// It is always derived from the two amounts and never stored.
func (r PolicyRecord) LossRatio() float64 {
	if r.AnnualPremium <= 0 {
		return 0
	}
	return r.TotalLoss / r.AnnualPremium
}

// HasClaim reports whether the record belongs to the claim subset.
func (r PolicyRecord) HasClaim() bool {
	return r.TotalLoss > 0
}

// Validate checks the fields the scoring engine depends on.
func (r PolicyRecord) Validate() error {
	if r.CustomerID <= 0 {
		return &ValidationError{CustomerID: r.CustomerID, Field: "customer_id", Reason: "must be a positive integer"}
	}
	if !r.Gender.Valid() {
		return &ValidationError{CustomerID: r.CustomerID, Field: "gender", Reason: fmt.Sprintf("unknown value %q", r.Gender)}
	}
	if r.Age <= 0 {
		return &ValidationError{CustomerID: r.CustomerID, Field: "age", Reason: "is required"}
	}
	if r.CarModelYear <= 0 {
		return &ValidationError{CustomerID: r.CustomerID, Field: "car_model_year", Reason: "is required"}
	}
	if !finite(r.AnnualPremium) {
		return &ValidationError{CustomerID: r.CustomerID, Field: "annual_premium", Reason: "must be a finite number"}
	}
	if !finite(r.TotalLoss) {
		return &ValidationError{CustomerID: r.CustomerID, Field: "total_loss", Reason: "must be a finite number"}
	}
	if r.TotalLoss < 0 {
		return &ValidationError{CustomerID: r.CustomerID, Field: "total_loss", Reason: "must not be negative"}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// AgeBand is one of six right-open age partitions used for outlier thresholds.
type AgeBand string

const (
	AgeBandUnder25 AgeBand = "<25"
	AgeBand25To34  AgeBand = "25-34"
	AgeBand35To44  AgeBand = "35-44"
	AgeBand45To54  AgeBand = "45-54"
	AgeBand55To64  AgeBand = "55-64"
	AgeBand65Plus  AgeBand = "65+"
)

// AgeBands lists the bands in ascending order.
var AgeBands = []AgeBand{
	AgeBandUnder25,
	AgeBand25To34,
	AgeBand35To44,
	AgeBand45To54,
	AgeBand55To64,
	AgeBand65Plus,
}

// BandOf returns the band containing age. Upper bounds are exclusive.
func BandOf(age int) AgeBand {
	switch {
	case age < 25:
		return AgeBandUnder25
	case age < 35:
		return AgeBand25To34
	case age < 45:
		return AgeBand35To44
	case age < 55:
		return AgeBand45To54
	case age < 65:
		return AgeBand55To64
	default:
		return AgeBand65Plus
	}
}
