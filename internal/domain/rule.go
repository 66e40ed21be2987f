package domain

import (
	"errors"
	"fmt"
)

// RuleID identifies a scoring rule.
type RuleID string

// Built-in rule identifiers, in evaluation order.
const (
	RuleExtremeLossRatio    RuleID = "extreme_loss_ratio"
	RuleStatisticalOutlier  RuleID = "statistical_outlier"
	RuleNewCarHighLoss      RuleID = "new_car_high_loss"
	RuleYoungDriverExtreme  RuleID = "young_driver_extreme"
	RulePremiumLossMismatch RuleID = "premium_loss_mismatch"
)

// RuleDefinition is a single scoring rule.
type RuleDefinition struct {
	ID    RuleID `json:"id"`
	Label string `json:"label"`

	// Score is added to a record's risk score when the rule fires.
	Score int `json:"score"`

	// CEL predicate evaluated per claim record. Must return bool.
	Expression string `json:"expression"`
}

// Limits holds the numeric parameters referenced by the rule predicates
// and by the threshold computation.
type Limits struct {
	MaxLossRatio float64 `json:"maxLossRatio" mapstructure:"max_loss_ratio"`

	OutlierSigma float64 `json:"outlierSigma" mapstructure:"outlier_sigma"`

	NewCarYear int     `json:"newCarYear" mapstructure:"new_car_year"`
	NewCarLoss float64 `json:"newCarLoss" mapstructure:"new_car_loss"`

	YoungAge  int     `json:"youngAge" mapstructure:"young_age"`
	YoungLoss float64 `json:"youngLoss" mapstructure:"young_loss"`

	// Quantiles for the premium-loss mismatch cutoffs (0.0-1.0).
	LossQuantile    float64 `json:"lossQuantile" mapstructure:"loss_quantile"`
	PremiumQuantile float64 `json:"premiumQuantile" mapstructure:"premium_quantile"`
}

// DefaultLimits returns the reference parameters.
func DefaultLimits() Limits {
	return Limits{
		MaxLossRatio:    15,
		OutlierSigma:    3,
		NewCarYear:      2022,
		NewCarLoss:      10_000,
		YoungAge:        25,
		YoungLoss:       15_000,
		LossQuantile:    0.95,
		PremiumQuantile: 0.25,
	}
}

// RuleSet is the immutable rule configuration handed to the engine.
type RuleSet struct {
	Version string           `json:"version"`
	Limits  Limits           `json:"limits"`
	Rules   []RuleDefinition `json:"rules"`
}

// DefaultRuleSet returns the five reference rules.
func DefaultRuleSet() *RuleSet {
	return &RuleSet{
		Version: "1.0.0",
		Limits:  DefaultLimits(),
		Rules: []RuleDefinition{
			{
				ID:         RuleExtremeLossRatio,
				Label:      "Extreme Loss Ratio (>15x)",
				Score:      3,
				Expression: "loss_ratio > max_loss_ratio",
			},
			{
				ID:         RuleStatisticalOutlier,
				Label:      "Statistical Outlier (>mean+3*std by age group)",
				Score:      2,
				Expression: "band_threshold_defined && total_loss > band_threshold",
			},
			{
				ID:         RuleNewCarHighLoss,
				Label:      "New Car (>=2022) High Loss (>$10k)",
				Score:      2,
				Expression: "car_model_year >= new_car_year && total_loss > new_car_loss",
			},
			{
				ID:         RuleYoungDriverExtreme,
				Label:      "Young Driver (<25) Extreme Claim (>$15k)",
				Score:      2,
				Expression: "age < young_age && total_loss > young_loss",
			},
			{
				ID:         RulePremiumLossMismatch,
				Label:      "Premium-Loss Mismatch (top 5% loss / bottom 25% premium)",
				Score:      1,
				Expression: "total_loss >= loss_p95 && annual_premium <= premium_p25",
			},
		},
	}
}

// WithLimits returns a copy of the rule set using l.
func (rs *RuleSet) WithLimits(l Limits) *RuleSet {
	out := &RuleSet{
		Version: rs.Version,
		Limits:  l,
		Rules:   make([]RuleDefinition, len(rs.Rules)),
	}
	copy(out.Rules, rs.Rules)
	return out
}

// Definition looks up a rule by id.
func (rs *RuleSet) Definition(id RuleID) (RuleDefinition, bool) {
	for _, r := range rs.Rules {
		if r.ID == id {
			return r, true
		}
	}
	return RuleDefinition{}, false
}

// Label returns the display label for id, falling back to the id itself.
func (rs *RuleSet) Label(id RuleID) string {
	if r, ok := rs.Definition(id); ok && r.Label != "" {
		return r.Label
	}
	return string(id)
}

// ErrInvalidRuleSet is returned for malformed rule configuration.
var ErrInvalidRuleSet = errors.New("invalid rule set")

// Validate checks structural constraints. Expressions are checked at compile time.
func (rs *RuleSet) Validate() error {
	if len(rs.Rules) == 0 {
		return fmt.Errorf("%w: no rules defined", ErrInvalidRuleSet)
	}

	seen := make(map[RuleID]bool, len(rs.Rules))
	for _, r := range rs.Rules {
		if r.ID == "" {
			return fmt.Errorf("%w: rule id is required", ErrInvalidRuleSet)
		}
		if seen[r.ID] {
			return fmt.Errorf("%w: duplicate rule id %s", ErrInvalidRuleSet, r.ID)
		}
		seen[r.ID] = true

		if r.Score < 0 {
			return fmt.Errorf("%w: rule %s has negative score", ErrInvalidRuleSet, r.ID)
		}
		if r.Expression == "" {
			return fmt.Errorf("%w: rule %s has no expression", ErrInvalidRuleSet, r.ID)
		}
	}

	l := rs.Limits
	if l.LossQuantile < 0 || l.LossQuantile > 1 {
		return fmt.Errorf("%w: loss quantile must be within [0, 1]", ErrInvalidRuleSet)
	}
	if l.PremiumQuantile < 0 || l.PremiumQuantile > 1 {
		return fmt.Errorf("%w: premium quantile must be within [0, 1]", ErrInvalidRuleSet)
	}
	if l.OutlierSigma < 0 {
		return fmt.Errorf("%w: outlier sigma must not be negative", ErrInvalidRuleSet)
	}
	return nil
}
