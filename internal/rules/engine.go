// Package rules provides the CEL-Go based risk scoring engine.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/harrier/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("harrier-rules")

// chunkSize is the number of claim records handed to one worker at a time.
const chunkSize = 512

// Engine scores policy records against a compiled rule set.
// It holds no per-run state, so one Engine may score many datasets concurrently.
type Engine struct {
	env        *cel.Env
	ruleSet    *domain.RuleSet
	compiled   []*CompiledRule
	maxWorkers int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Definition domain.RuleDefinition
	Program    cel.Program
}

// NewEnv returns the CEL environment rule predicates are compiled against.
func NewEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		// Record fields
		cel.Variable("customer_id", cel.IntType),
		cel.Variable("gender", cel.StringType),
		cel.Variable("age", cel.IntType),
		cel.Variable("car_model_year", cel.IntType),
		cel.Variable("annual_premium", cel.DoubleType),
		cel.Variable("total_loss", cel.DoubleType),
		cel.Variable("loss_ratio", cel.DoubleType),
		cel.Variable("age_band", cel.StringType),
		// Run thresholds
		cel.Variable("band_threshold", cel.DoubleType),
		cel.Variable("band_threshold_defined", cel.BoolType),
		cel.Variable("loss_p95", cel.DoubleType),
		cel.Variable("premium_p25", cel.DoubleType),
		// Limits
		cel.Variable("max_loss_ratio", cel.DoubleType),
		cel.Variable("new_car_year", cel.IntType),
		cel.Variable("new_car_loss", cel.DoubleType),
		cel.Variable("young_age", cel.IntType),
		cel.Variable("young_loss", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// NewEngine validates and compiles rs. Rules are evaluated in the order they
// appear in rs.Rules.
func NewEngine(rs *domain.RuleSet, maxWorkers int) (*Engine, error) {
	if rs == nil {
		return nil, fmt.Errorf("%w: rule set is required", domain.ErrInvalidRuleSet)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	env, err := NewEnv()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		env:        env,
		ruleSet:    rs.WithLimits(rs.Limits),
		maxWorkers: maxWorkers,
	}

	for _, def := range e.ruleSet.Rules {
		compiled, err := e.compileRule(def)
		if err != nil {
			return nil, err
		}
		e.compiled = append(e.compiled, compiled)
	}

	return e, nil
}

// ValidateExpression compiles expr without adding it to the engine.
func (e *Engine) ValidateExpression(expr string) error {
	_, err := e.compileRule(domain.RuleDefinition{ID: "adhoc", Expression: expr})
	return err
}

// RuleSet returns the engine's rule configuration.
func (e *Engine) RuleSet() *domain.RuleSet {
	return e.ruleSet
}

// RulesCount returns the number of compiled rules.
func (e *Engine) RulesCount() int {
	return len(e.compiled)
}

// Score evaluates every claim record in records and aggregates the results.
// records is not modified.
func (e *Engine) Score(ctx context.Context, records []domain.PolicyRecord) (*domain.Result, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "rules.Score",
		trace.WithAttributes(attribute.Int("records.total", len(records))),
	)
	defer span.End()

	result, err := e.score(ctx, records)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("records.claims", result.ClaimCount),
		attribute.Int("records.flagged", len(result.Flagged)),
	)

	slog.Debug("scoring run complete",
		"records", result.TotalRecords,
		"claims", result.ClaimCount,
		"flagged", len(result.Flagged),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return result, nil
}

func (e *Engine) score(ctx context.Context, records []domain.PolicyRecord) (*domain.Result, error) {
	if err := ValidateRecords(records); err != nil {
		return nil, err
	}

	claims, positions := claimSubset(records)

	// Aggregate passes: global percentiles and per-band statistics.
	thresholds := ComputeThresholds(claims, e.ruleSet.Limits)

	assessments, err := e.assessAll(ctx, claims, positions, thresholds)
	if err != nil {
		return nil, err
	}

	result := &domain.Result{
		TotalRecords: len(records),
		ClaimCount:   len(claims),
		Assessments:  assessments,
		Thresholds:   thresholds,
	}
	result.RuleCounts = e.countRules(assessments)
	result.Flagged = rank(assessments)
	result.Histogram = histogram(result.Flagged)

	return result, nil
}

// assessAll evaluates claims in parallel chunks. Each assessment is written to
// its own index, so output order never depends on scheduling.
func (e *Engine) assessAll(ctx context.Context, claims []domain.PolicyRecord, positions []int, th domain.Thresholds) ([]domain.RiskAssessment, error) {
	assessments := make([]domain.RiskAssessment, len(claims))
	if len(claims) == 0 {
		return assessments, nil
	}

	globals := e.globals(th)

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	setErr := func(err error) {
		errOnce.Do(func() { firstErr = err })
	}

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for lo := 0; lo < len(claims); lo += chunkSize {
		hi := min(lo+chunkSize, len(claims))

		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			if err := ctx.Err(); err != nil {
				setErr(err)
				return
			}

			for i := lo; i < hi; i++ {
				a, err := e.assess(claims[i], globals, th)
				if err != nil {
					setErr(err)
					return
				}
				a.Index = positions[i]
				assessments[i] = a
			}
		}(lo, hi)
	}

	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return assessments, nil
}

// globals are the activation values shared by every record in a run.
func (e *Engine) globals(th domain.Thresholds) map[string]any {
	l := e.ruleSet.Limits

	g := map[string]any{
		"loss_p95":       0.0,
		"premium_p25":    0.0,
		"max_loss_ratio": l.MaxLossRatio,
		"new_car_year":   int64(l.NewCarYear),
		"new_car_loss":   l.NewCarLoss,
		"young_age":      int64(l.YoungAge),
		"young_loss":     l.YoungLoss,
	}
	if th.LossP95 != nil {
		g["loss_p95"] = *th.LossP95
	}
	if th.PremiumP25 != nil {
		g["premium_p25"] = *th.PremiumP25
	}
	return g
}

// assess evaluates every rule against one record, in definition order.
func (e *Engine) assess(rec domain.PolicyRecord, globals map[string]any, th domain.Thresholds) (domain.RiskAssessment, error) {
	band := domain.BandOf(rec.Age)
	bandThreshold, bandDefined := th.Band(band)

	activation := make(map[string]any, len(globals)+10)
	for k, v := range globals {
		activation[k] = v
	}
	activation["customer_id"] = rec.CustomerID
	activation["gender"] = string(rec.Gender)
	activation["age"] = int64(rec.Age)
	activation["car_model_year"] = int64(rec.CarModelYear)
	activation["annual_premium"] = rec.AnnualPremium
	activation["total_loss"] = rec.TotalLoss
	activation["loss_ratio"] = rec.LossRatio()
	activation["age_band"] = string(band)
	activation["band_threshold"] = bandThreshold
	activation["band_threshold_defined"] = bandDefined

	a := domain.RiskAssessment{Record: rec}

	for _, rule := range e.compiled {
		out, _, err := rule.Program.Eval(activation)
		if err != nil {
			return a, fmt.Errorf("rule %s failed for customer %d: %w", rule.Definition.ID, rec.CustomerID, err)
		}

		fired, ok := out.(types.Bool)
		if !ok {
			return a, fmt.Errorf("rule %s returned %s for customer %d, want bool", rule.Definition.ID, out.Type().TypeName(), rec.CustomerID)
		}

		if fired {
			a.RiskScore += rule.Definition.Score
			a.TriggeredRules = append(a.TriggeredRules, rule.Definition.ID)
		}
	}

	return a, nil
}

// countRules returns how many assessments each rule fired for, in rule order.
func (e *Engine) countRules(assessments []domain.RiskAssessment) []domain.RuleCount {
	counts := make([]domain.RuleCount, len(e.compiled))
	index := make(map[domain.RuleID]int, len(e.compiled))
	for i, rule := range e.compiled {
		counts[i] = domain.RuleCount{
			Rule:  rule.Definition.ID,
			Label: rule.Definition.Label,
			Score: rule.Definition.Score,
		}
		index[rule.Definition.ID] = i
	}

	for _, a := range assessments {
		for _, id := range a.TriggeredRules {
			counts[index[id]].Count++
		}
	}
	return counts
}

// rank returns the flagged assessments ordered by score descending.
// Ties keep input order.
func rank(assessments []domain.RiskAssessment) []domain.RiskAssessment {
	flagged := make([]domain.RiskAssessment, 0)
	for _, a := range assessments {
		if a.IsFlagged() {
			flagged = append(flagged, a)
		}
	}

	sort.SliceStable(flagged, func(i, j int) bool {
		return flagged[i].RiskScore > flagged[j].RiskScore
	})
	return flagged
}

// histogram counts flagged records per distinct score, ascending.
func histogram(flagged []domain.RiskAssessment) []domain.ScoreBucket {
	counts := make(map[int]int)
	for _, a := range flagged {
		counts[a.RiskScore]++
	}

	buckets := make([]domain.ScoreBucket, 0, len(counts))
	for score, n := range counts {
		buckets = append(buckets, domain.ScoreBucket{Score: score, Count: n})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].Score < buckets[j].Score
	})
	return buckets
}

// claimSubset returns the records with a positive loss and their input positions.
func claimSubset(records []domain.PolicyRecord) ([]domain.PolicyRecord, []int) {
	claims := make([]domain.PolicyRecord, 0)
	positions := make([]int, 0)
	for i, r := range records {
		if r.HasClaim() {
			claims = append(claims, r)
			positions = append(positions, i)
		}
	}
	return claims, positions
}

// ValidateRecords fails on the first malformed or duplicate record.
func ValidateRecords(records []domain.PolicyRecord) error {
	seen := make(map[int64]struct{}, len(records))
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return err
		}
		if _, dup := seen[r.CustomerID]; dup {
			return &domain.ValidationError{CustomerID: r.CustomerID, Field: "customer_id", Reason: "is duplicated"}
		}
		seen[r.CustomerID] = struct{}{}
	}
	return nil
}

func (e *Engine) compileRule(def domain.RuleDefinition) (*CompiledRule, error) {
	ast, issues := e.env.Compile(def.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", def.ID, issues.Err())
	}

	if outputType := ast.OutputType(); outputType != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", def.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", def.ID, err)
	}

	return &CompiledRule{
		Definition: def,
		Program:    program,
	}, nil
}
