package domain

import "time"

// Risk levels used by reports.
const (
	RiskHigh     = "high"
	RiskElevated = "elevated"
	RiskModerate = "moderate"
)

// RiskLevel buckets a risk score for display.
func RiskLevel(score int) string {
	switch {
	case score >= 7:
		return RiskHigh
	case score >= 5:
		return RiskElevated
	default:
		return RiskModerate
	}
}

// FlaggedClaim is the export view of a flagged assessment.
type FlaggedClaim struct {
	CustomerID    int64    `json:"customerId"`
	Gender        Gender   `json:"gender"`
	Age           int      `json:"age"`
	CarModelYear  int      `json:"carModelYear"`
	AnnualPremium float64  `json:"annualPremium"`
	TotalLoss     float64  `json:"totalLoss"`
	LossRatio     float64  `json:"lossRatio"`
	RiskScore     int      `json:"riskScore"`
	RiskLevel     string   `json:"riskLevel"`
	Rules         []RuleID `json:"rules"`
	Flags         []string `json:"flags"`
}

// NewFlaggedClaim renders an assessment with labels from rs.
func NewFlaggedClaim(a RiskAssessment, rs *RuleSet) FlaggedClaim {
	labels := make([]string, len(a.TriggeredRules))
	for i, id := range a.TriggeredRules {
		labels[i] = rs.Label(id)
	}
	return FlaggedClaim{
		CustomerID:    a.Record.CustomerID,
		Gender:        a.Record.Gender,
		Age:           a.Record.Age,
		CarModelYear:  a.Record.CarModelYear,
		AnnualPremium: a.Record.AnnualPremium,
		TotalLoss:     a.Record.TotalLoss,
		LossRatio:     a.Record.LossRatio(),
		RiskScore:     a.RiskScore,
		RiskLevel:     RiskLevel(a.RiskScore),
		Rules:         a.TriggeredRules,
		Flags:         labels,
	}
}

// Report is the summary of one scoring run. It is what gets cached,
// persisted and returned by the API; per-record assessments beyond the
// top flagged claims are not kept.
type Report struct {
	ID             string    `json:"id"`
	Fingerprint    string    `json:"fingerprint"`
	Source         string    `json:"source"`
	RuleSetVersion string    `json:"ruleSetVersion"`
	CreatedAt      time.Time `json:"createdAt"`
	DurationMs     int64     `json:"durationMs"`

	TotalRecords int      `json:"totalRecords"`
	ClaimCount   int      `json:"claimCount"`
	FlaggedCount int      `json:"flaggedCount"`
	FlagRate     *float64 `json:"flagRate"`
	MaxScore     int      `json:"maxScore"`

	RuleCounts []RuleCount   `json:"ruleCounts"`
	Histogram  []ScoreBucket `json:"histogram"`
	Thresholds Thresholds    `json:"thresholds"`

	Top []FlaggedClaim `json:"top"`
}

// NewReport summarises res, keeping at most topN flagged claims.
func NewReport(id, fingerprint, source string, rs *RuleSet, res *Result, topN int) *Report {
	report := &Report{
		ID:             id,
		Fingerprint:    fingerprint,
		Source:         source,
		RuleSetVersion: rs.Version,
		CreatedAt:      time.Now().UTC(),
		TotalRecords:   res.TotalRecords,
		ClaimCount:     res.ClaimCount,
		FlaggedCount:   len(res.Flagged),
		MaxScore:       res.MaxScore(),
		RuleCounts:     res.RuleCounts,
		Histogram:      res.Histogram,
		Thresholds:     res.Thresholds,
	}

	if rate, ok := res.FlagRate(); ok {
		report.FlagRate = &rate
	}

	top := res.Top(topN)
	report.Top = make([]FlaggedClaim, len(top))
	for i, a := range top {
		report.Top[i] = NewFlaggedClaim(a, rs)
	}

	return report
}
