package rules

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"reflect"
	"testing"

	"github.com/opensource-finance/harrier/internal/domain"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(domain.DefaultRuleSet(), 4)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return engine
}

func rec(id int64, age, year int, premium, loss float64) domain.PolicyRecord {
	return domain.PolicyRecord{
		CustomerID:    id,
		Gender:        domain.GenderMale,
		Age:           age,
		CarModelYear:  year,
		AnnualPremium: premium,
		TotalLoss:     loss,
	}
}

// syntheticRecords builds a dataset shaped like the reference one:
// roughly a third of customers have a lognormal claim.
func syntheticRecords(n int, seed int64) []domain.PolicyRecord {
	rng := rand.New(rand.NewSource(seed))
	records := make([]domain.PolicyRecord, n)
	for i := range records {
		gender := domain.GenderFemale
		if rng.Float64() < 0.52 {
			gender = domain.GenderMale
		}
		age := int(math.Max(18, math.Min(75, rng.NormFloat64()*12+40)))
		year := 2000 + rng.Intn(26)
		premium := math.Round((900+rng.Float64()*1200)*100) / 100

		loss := 0.0
		if rng.Float64() < 0.3 {
			loss = math.Round(math.Min(80000, math.Exp(7.5+rng.NormFloat64()))*100) / 100
		}

		records[i] = domain.PolicyRecord{
			CustomerID:    int64(i + 1),
			Gender:        gender,
			Age:           age,
			CarModelYear:  year,
			AnnualPremium: premium,
			TotalLoss:     loss,
		}
	}
	return records
}

func TestEngineCreation(t *testing.T) {
	engine := newTestEngine(t)

	if engine.RulesCount() != 5 {
		t.Errorf("expected 5 rules, got %d", engine.RulesCount())
	}
	if engine.RuleSet().Rules[0].ID != domain.RuleExtremeLossRatio {
		t.Errorf("expected first rule %s, got %s", domain.RuleExtremeLossRatio, engine.RuleSet().Rules[0].ID)
	}
}

func TestNewEngineRejectsInvalidRules(t *testing.T) {
	tests := []struct {
		name  string
		rules []domain.RuleDefinition
	}{
		{"InvalidCEL", []domain.RuleDefinition{{ID: "bad", Score: 1, Expression: "this is not valid CEL !!!"}}},
		{"NonBoolOutput", []domain.RuleDefinition{{ID: "num", Score: 1, Expression: "total_loss * 2.0"}}},
		{"UnknownVariable", []domain.RuleDefinition{{ID: "unk", Score: 1, Expression: "mileage > 100.0"}}},
		{"DuplicateID", []domain.RuleDefinition{
			{ID: "dup", Score: 1, Expression: "true"},
			{ID: "dup", Score: 1, Expression: "false"},
		}},
		{"NegativeScore", []domain.RuleDefinition{{ID: "neg", Score: -1, Expression: "true"}}},
		{"Empty", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := &domain.RuleSet{Version: "test", Limits: domain.DefaultLimits(), Rules: tt.rules}
			if _, err := NewEngine(rs, 1); err == nil {
				t.Error("expected error creating engine")
			}
		})
	}

	t.Run("NilRuleSet", func(t *testing.T) {
		if _, err := NewEngine(nil, 1); !errors.Is(err, domain.ErrInvalidRuleSet) {
			t.Errorf("expected ErrInvalidRuleSet, got %v", err)
		}
	})
}

func TestScoreScenario(t *testing.T) {
	engine := newTestEngine(t)

	records := []domain.PolicyRecord{
		rec(1, 30, 2015, 1000, 16000),
		{CustomerID: 2, Gender: domain.GenderFemale, Age: 22, CarModelYear: 2010, AnnualPremium: 900, TotalLoss: 16000},
		rec(3, 40, 2023, 1200, 10500),
		rec(4, 50, 2020, 1100, 0),
	}

	result, err := engine.Score(context.Background(), records)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	if result.TotalRecords != 4 || result.ClaimCount != 3 {
		t.Fatalf("expected 4 records / 3 claims, got %d / %d", result.TotalRecords, result.ClaimCount)
	}
	if len(result.Assessments) != 3 {
		t.Fatalf("expected 3 assessments, got %d", len(result.Assessments))
	}

	// p95 of {10500, 16000, 16000} is 16000; p25 of {900, 1000, 1200} is 950.
	if result.Thresholds.LossP95 == nil || *result.Thresholds.LossP95 != 16000 {
		t.Errorf("expected loss p95 16000, got %v", result.Thresholds.LossP95)
	}
	if result.Thresholds.PremiumP25 == nil || *result.Thresholds.PremiumP25 != 950 {
		t.Errorf("expected premium p25 950, got %v", result.Thresholds.PremiumP25)
	}

	t.Run("Ranking", func(t *testing.T) {
		var ids []int64
		var scores []int
		for _, a := range result.Flagged {
			ids = append(ids, a.Record.CustomerID)
			scores = append(scores, a.RiskScore)
		}
		if !reflect.DeepEqual(ids, []int64{2, 1, 3}) {
			t.Errorf("expected ranking [2 1 3], got %v", ids)
		}
		if !reflect.DeepEqual(scores, []int{6, 3, 2}) {
			t.Errorf("expected scores [6 3 2], got %v", scores)
		}
	})

	t.Run("TriggeredRulesInEvaluationOrder", func(t *testing.T) {
		want := []domain.RuleID{domain.RuleExtremeLossRatio, domain.RuleYoungDriverExtreme, domain.RulePremiumLossMismatch}
		if got := result.Flagged[0].TriggeredRules; !reflect.DeepEqual(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("RuleCounts", func(t *testing.T) {
		want := map[domain.RuleID]int{
			domain.RuleExtremeLossRatio:    2,
			domain.RuleStatisticalOutlier:  0,
			domain.RuleNewCarHighLoss:      1,
			domain.RuleYoungDriverExtreme:  1,
			domain.RulePremiumLossMismatch: 1,
		}
		for id, n := range want {
			if got := result.Count(id); got != n {
				t.Errorf("rule %s: expected %d, got %d", id, n, got)
			}
		}
	})

	t.Run("Histogram", func(t *testing.T) {
		want := []domain.ScoreBucket{{Score: 2, Count: 1}, {Score: 3, Count: 1}, {Score: 6, Count: 1}}
		if !reflect.DeepEqual(result.Histogram, want) {
			t.Errorf("expected %v, got %v", want, result.Histogram)
		}
	})

	t.Run("Indexes", func(t *testing.T) {
		for i, a := range result.Assessments {
			if a.Index != i {
				t.Errorf("expected assessment %d to carry index %d, got %d", i, i, a.Index)
			}
		}
	})
}

func TestScoreBoundaries(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	t.Run("LossRatioExactly15", func(t *testing.T) {
		result, err := engine.Score(ctx, []domain.PolicyRecord{rec(1, 40, 2010, 1000, 15000)})
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if result.Assessments[0].Triggered(domain.RuleExtremeLossRatio) {
			t.Error("loss ratio of exactly 15 must not trigger")
		}
	})

	t.Run("NewCarExactBounds", func(t *testing.T) {
		result, err := engine.Score(ctx, []domain.PolicyRecord{
			rec(1, 40, 2022, 1000, 10000),
			rec(2, 41, 2022, 1000, 10000.01),
		})
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if result.Assessments[0].Triggered(domain.RuleNewCarHighLoss) {
			t.Error("loss of exactly 10000 must not trigger")
		}
		if !result.Assessments[1].Triggered(domain.RuleNewCarHighLoss) {
			t.Error("model year 2022 with loss above 10000 must trigger")
		}
	})

	t.Run("YoungDriverAge25", func(t *testing.T) {
		result, err := engine.Score(ctx, []domain.PolicyRecord{
			rec(1, 25, 2010, 1000, 20000),
			rec(2, 24, 2010, 1000, 20000),
		})
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if result.Assessments[0].Triggered(domain.RuleYoungDriverExtreme) {
			t.Error("age 25 is not a young driver")
		}
		if !result.Assessments[1].Triggered(domain.RuleYoungDriverExtreme) {
			t.Error("age 24 with loss above 15000 must trigger")
		}
	})
}

func TestStatisticalOutlier(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	t.Run("DegenerateBandNeverTriggers", func(t *testing.T) {
		records := []domain.PolicyRecord{
			rec(1, 20, 2010, 1000, 79000), // only record in <25
			rec(2, 40, 2010, 1000, 500),
			rec(3, 41, 2010, 1000, 600),
		}
		result, err := engine.Score(ctx, records)
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if result.Assessments[0].Triggered(domain.RuleStatisticalOutlier) {
			t.Error("a band with one claim must not trigger the outlier rule")
		}
		if _, ok := result.Thresholds.Band(domain.AgeBandUnder25); ok {
			t.Error("expected undefined threshold for a single-claim band")
		}
		if result.Count(domain.RuleStatisticalOutlier) != 0 {
			t.Errorf("expected no outliers, got %d", result.Count(domain.RuleStatisticalOutlier))
		}
	})

	t.Run("OutlierWithinBand", func(t *testing.T) {
		var records []domain.PolicyRecord
		for i := 1; i <= 20; i++ {
			records = append(records, rec(int64(i), 38, 2010, 1000, 1000))
		}
		records = append(records, rec(21, 39, 2010, 1000, 100000))

		result, err := engine.Score(ctx, records)
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}

		threshold, ok := result.Thresholds.Band(domain.AgeBand35To44)
		if !ok {
			t.Fatal("expected a defined threshold for 35-44")
		}
		if threshold >= 100000 {
			t.Errorf("expected threshold below the outlier loss, got %.2f", threshold)
		}
		if result.Count(domain.RuleStatisticalOutlier) != 1 {
			t.Errorf("expected 1 outlier, got %d", result.Count(domain.RuleStatisticalOutlier))
		}
		if !result.Assessments[20].Triggered(domain.RuleStatisticalOutlier) {
			t.Error("expected the large claim to be an outlier")
		}
	})
}

func TestNonPositivePremium(t *testing.T) {
	engine := newTestEngine(t)

	records := []domain.PolicyRecord{
		rec(1, 20, 2010, 0, 50000),
		rec(2, 45, 2010, 1000, 2000),
	}

	result, err := engine.Score(context.Background(), records)
	if err != nil {
		t.Fatalf("expected zero premium to be accepted, got %v", err)
	}

	a := result.Assessments[0]
	if a.Triggered(domain.RuleExtremeLossRatio) {
		t.Error("zero premium has loss ratio 0 and must not trigger the ratio rule")
	}
	if !a.Triggered(domain.RuleYoungDriverExtreme) {
		t.Error("remaining rules must still be evaluated for a zero premium record")
	}
}

func TestEmptyClaimSubset(t *testing.T) {
	engine := newTestEngine(t)

	for name, records := range map[string][]domain.PolicyRecord{
		"NoRecords": nil,
		"NoClaims":  {rec(1, 30, 2010, 1000, 0), rec(2, 31, 2011, 1000, 0)},
	} {
		t.Run(name, func(t *testing.T) {
			result, err := engine.Score(context.Background(), records)
			if err != nil {
				t.Fatalf("Score failed: %v", err)
			}
			if len(result.Assessments) != 0 || len(result.Flagged) != 0 {
				t.Error("expected no assessments")
			}
			if result.Thresholds.LossP95 != nil || result.Thresholds.PremiumP25 != nil {
				t.Error("expected undefined percentiles")
			}
			if len(result.Thresholds.AgeBands) != 0 {
				t.Error("expected no band thresholds")
			}
			if len(result.RuleCounts) != 5 {
				t.Errorf("expected a count entry per rule, got %d", len(result.RuleCounts))
			}
			if _, ok := result.FlagRate(); ok {
				t.Error("expected undefined flag rate")
			}
		})
	}
}

func TestScoreValidation(t *testing.T) {
	engine := newTestEngine(t)

	tests := []struct {
		name   string
		record domain.PolicyRecord
		field  string
	}{
		{"UnknownGender", domain.PolicyRecord{CustomerID: 7, Gender: "X", Age: 30, CarModelYear: 2010, AnnualPremium: 1000, TotalLoss: 10}, "gender"},
		{"MissingAge", domain.PolicyRecord{CustomerID: 7, Gender: domain.GenderMale, CarModelYear: 2010, AnnualPremium: 1000, TotalLoss: 10}, "age"},
		{"NaNLoss", domain.PolicyRecord{CustomerID: 7, Gender: domain.GenderMale, Age: 30, CarModelYear: 2010, AnnualPremium: 1000, TotalLoss: math.NaN()}, "total_loss"},
		{"NegativeLoss", domain.PolicyRecord{CustomerID: 7, Gender: domain.GenderMale, Age: 30, CarModelYear: 2010, AnnualPremium: 1000, TotalLoss: -5}, "total_loss"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Score(context.Background(), []domain.PolicyRecord{rec(1, 30, 2010, 1000, 100), tt.record})

			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.CustomerID != 7 || verr.Field != tt.field {
				t.Errorf("expected customer 7 field %s, got customer %d field %s", tt.field, verr.CustomerID, verr.Field)
			}
		})
	}

	t.Run("DuplicateCustomer", func(t *testing.T) {
		_, err := engine.Score(context.Background(), []domain.PolicyRecord{rec(1, 30, 2010, 1000, 100), rec(1, 31, 2011, 900, 0)})
		var verr *domain.ValidationError
		if !errors.As(err, &verr) || verr.Field != "customer_id" {
			t.Fatalf("expected duplicate customer_id error, got %v", err)
		}
	})
}

func TestScoreProperties(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()
	records := syntheticRecords(5000, 42)

	result, err := engine.Score(ctx, records)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if len(result.Flagged) == 0 {
		t.Fatal("expected some flagged claims in the synthetic dataset")
	}

	t.Run("ScoreIsSumOfIndependentPredicates", func(t *testing.T) {
		th := result.Thresholds
		l := domain.DefaultLimits()
		for _, a := range result.Assessments {
			r := a.Record
			want := 0
			if r.LossRatio() > l.MaxLossRatio {
				want += 3
			}
			if bt, ok := th.Band(domain.BandOf(r.Age)); ok && r.TotalLoss > bt {
				want += 2
			}
			if r.CarModelYear >= l.NewCarYear && r.TotalLoss > l.NewCarLoss {
				want += 2
			}
			if r.Age < l.YoungAge && r.TotalLoss > l.YoungLoss {
				want += 2
			}
			if r.TotalLoss >= *th.LossP95 && r.AnnualPremium <= *th.PremiumP25 {
				want++
			}
			if a.RiskScore != want {
				t.Fatalf("customer %d: expected score %d, got %d (%v)", r.CustomerID, want, a.RiskScore, a.TriggeredRules)
			}
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		again, err := engine.Score(ctx, records)
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if !reflect.DeepEqual(result, again) {
			t.Error("expected identical results for identical input")
		}
	})

	t.Run("WorkerCountDoesNotChangeOutput", func(t *testing.T) {
		serial, err := NewEngine(domain.DefaultRuleSet(), 1)
		if err != nil {
			t.Fatalf("failed to create engine: %v", err)
		}
		got, err := serial.Score(ctx, records)
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if !reflect.DeepEqual(result, got) {
			t.Error("expected serial and parallel runs to agree")
		}
	})

	t.Run("StableTieBreak", func(t *testing.T) {
		for i := 1; i < len(result.Flagged); i++ {
			prev, cur := result.Flagged[i-1], result.Flagged[i]
			if prev.RiskScore < cur.RiskScore {
				t.Fatalf("ranking not descending at %d", i)
			}
			if prev.RiskScore == cur.RiskScore && prev.Index > cur.Index {
				t.Fatalf("tie at %d not in input order", i)
			}
		}
	})

	t.Run("HistogramMatchesFlagged", func(t *testing.T) {
		total := 0
		for _, b := range result.Histogram {
			total += b.Count
		}
		if total != len(result.Flagged) {
			t.Errorf("histogram covers %d records, flagged %d", total, len(result.Flagged))
		}
	})

	t.Run("InputNotMutated", func(t *testing.T) {
		before := make([]domain.PolicyRecord, len(records))
		copy(before, records)
		if _, err := engine.Score(ctx, records); err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if !reflect.DeepEqual(before, records) {
			t.Error("input records were modified")
		}
	})

	t.Run("PercentilesInvariantUnderReordering", func(t *testing.T) {
		shuffled := make([]domain.PolicyRecord, len(records))
		copy(shuffled, records)
		rand.New(rand.NewSource(7)).Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		got, err := engine.Score(ctx, shuffled)
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if *got.Thresholds.LossP95 != *result.Thresholds.LossP95 {
			t.Errorf("loss p95 changed under reordering: %v vs %v", *got.Thresholds.LossP95, *result.Thresholds.LossP95)
		}
		if *got.Thresholds.PremiumP25 != *result.Thresholds.PremiumP25 {
			t.Errorf("premium p25 changed under reordering")
		}
	})

	t.Run("RaisingRatioLimitIsMonotone", func(t *testing.T) {
		limits := domain.DefaultLimits()
		limits.MaxLossRatio = 20
		stricter, err := NewEngine(domain.DefaultRuleSet().WithLimits(limits), 4)
		if err != nil {
			t.Fatalf("failed to create engine: %v", err)
		}
		got, err := stricter.Score(ctx, records)
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if got.Count(domain.RuleExtremeLossRatio) > result.Count(domain.RuleExtremeLossRatio) {
			t.Errorf("raising the limit increased triggers: %d > %d",
				got.Count(domain.RuleExtremeLossRatio), result.Count(domain.RuleExtremeLossRatio))
		}
	})
}

func TestStableTieBreakExplicit(t *testing.T) {
	// Customers 20 and 40 only trigger the new car rule.
	records := []domain.PolicyRecord{
		rec(10, 40, 2010, 1000, 500),
		rec(20, 41, 2024, 1000, 11000),
		rec(30, 46, 2010, 1000, 400),
		rec(40, 47, 2023, 1100, 12000),
	}
	limits := domain.DefaultLimits()
	limits.LossQuantile = 1
	limits.PremiumQuantile = 0
	engine, err := NewEngine(domain.DefaultRuleSet().WithLimits(limits), 2)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	result, err := engine.Score(context.Background(), records)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if len(result.Flagged) != 2 {
		t.Fatalf("expected 2 flagged, got %d", len(result.Flagged))
	}
	if result.Flagged[0].Record.CustomerID != 20 || result.Flagged[1].Record.CustomerID != 40 {
		t.Errorf("expected ties in input order [20 40], got [%d %d]",
			result.Flagged[0].Record.CustomerID, result.Flagged[1].Record.CustomerID)
	}
}

func TestCustomRule(t *testing.T) {
	rs := domain.DefaultRuleSet()
	rs.Rules = append(rs.Rules, domain.RuleDefinition{
		ID:         "large_female_claim",
		Label:      "Large claim by female policyholder",
		Score:      4,
		Expression: `gender == "Female" && total_loss > 20000.0`,
	})

	engine, err := NewEngine(rs, 2)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	records := []domain.PolicyRecord{
		{CustomerID: 1, Gender: domain.GenderFemale, Age: 50, CarModelYear: 2010, AnnualPremium: 1000, TotalLoss: 21000},
		rec(2, 51, 2010, 1000, 21000),
	}
	result, err := engine.Score(context.Background(), records)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	if result.Count("large_female_claim") != 1 {
		t.Errorf("expected custom rule to fire once, got %d", result.Count("large_female_claim"))
	}
	last := result.Assessments[0].TriggeredRules[len(result.Assessments[0].TriggeredRules)-1]
	if last != "large_female_claim" {
		t.Errorf("expected custom rule last in evaluation order, got %s", last)
	}
}

func TestScoreCancelled(t *testing.T) {
	engine := newTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Score(ctx, syntheticRecords(100, 1))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestValidateExpression(t *testing.T) {
	engine := newTestEngine(t)

	if err := engine.ValidateExpression("total_loss > 100.0"); err != nil {
		t.Errorf("expected valid expression, got %v", err)
	}
	if err := engine.ValidateExpression("total_loss +"); err == nil {
		t.Error("expected error for invalid expression")
	}
}

func BenchmarkScore(b *testing.B) {
	engine, err := NewEngine(domain.DefaultRuleSet(), 8)
	if err != nil {
		b.Fatalf("failed to create engine: %v", err)
	}
	records := syntheticRecords(10000, 42)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.Score(ctx, records); err != nil {
			b.Fatal(err)
		}
	}
}
