package domain

// RiskAssessment is the scoring outcome for one claim record.
type RiskAssessment struct {
	Record PolicyRecord `json:"record"`

	// Position of the record in the input collection.
	Index int `json:"index"`

	RiskScore int `json:"riskScore"`

	// Rules that fired, in rule evaluation order.
	TriggeredRules []RuleID `json:"triggeredRules"`
}

// IsFlagged reports whether at least one rule contributed to the score.
func (a RiskAssessment) IsFlagged() bool {
	return a.RiskScore > 0
}

// Triggered reports whether id fired for this record.
func (a RiskAssessment) Triggered(id RuleID) bool {
	for _, r := range a.TriggeredRules {
		if r == id {
			return true
		}
	}
	return false
}

// BandThreshold holds the outlier statistics for one age band.
// Mean, StdDev and Threshold are nil when undefined.
type BandThreshold struct {
	Band      AgeBand  `json:"band"`
	Count     int      `json:"count"`
	Mean      *float64 `json:"mean"`
	StdDev    *float64 `json:"stdDev"`
	Threshold *float64 `json:"threshold"`
}

// Thresholds are the cutoffs computed once per run over the claim subset.
// Nil values mean "no data", not zero.
type Thresholds struct {
	LossP95    *float64        `json:"lossP95"`
	PremiumP25 *float64        `json:"premiumP25"`
	AgeBands   []BandThreshold `json:"ageBands"`
}

// Band returns the outlier threshold for band b, if defined.
func (t Thresholds) Band(b AgeBand) (float64, bool) {
	for _, bt := range t.AgeBands {
		if bt.Band == b && bt.Threshold != nil {
			return *bt.Threshold, true
		}
	}
	return 0, false
}

// RuleCount is the number of claim records a rule fired for.
type RuleCount struct {
	Rule  RuleID `json:"rule"`
	Label string `json:"label"`
	Score int    `json:"score"`
	Count int    `json:"count"`
}

// ScoreBucket is one bar of the risk score histogram.
type ScoreBucket struct {
	Score int `json:"score"`
	Count int `json:"count"`
}

// Result is everything a scoring run produces.
type Result struct {
	TotalRecords int `json:"totalRecords"`
	ClaimCount   int `json:"claimCount"`

	// One per claim record, in input order.
	Assessments []RiskAssessment `json:"assessments"`

	// Records with a positive score, by score descending then input order.
	Flagged []RiskAssessment `json:"flagged"`

	RuleCounts []RuleCount   `json:"ruleCounts"`
	Histogram  []ScoreBucket `json:"histogram"`
	Thresholds Thresholds    `json:"thresholds"`
}

// FlagRate is the share of claim records that were flagged.
// The second value is false when there are no claims.
func (r *Result) FlagRate() (float64, bool) {
	if r.ClaimCount == 0 {
		return 0, false
	}
	return float64(len(r.Flagged)) / float64(r.ClaimCount), true
}

// MaxScore returns the highest risk score, or 0 when nothing was flagged.
func (r *Result) MaxScore() int {
	if len(r.Flagged) == 0 {
		return 0
	}
	return r.Flagged[0].RiskScore
}

// Count returns the trigger count for id.
func (r *Result) Count(id RuleID) int {
	for _, c := range r.RuleCounts {
		if c.Rule == id {
			return c.Count
		}
	}
	return 0
}

// Top returns at most n flagged assessments. n <= 0 returns all of them.
func (r *Result) Top(n int) []RiskAssessment {
	if n <= 0 || n >= len(r.Flagged) {
		return r.Flagged
	}
	return r.Flagged[:n]
}
