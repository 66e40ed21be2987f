// Package pipeline turns a submitted dataset into a persisted run report.
// The API and the async worker both score through a Processor so cached,
// fresh and failed runs are handled the same way.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/rules"
)

// Processor scores datasets and records the outcome.
type Processor struct {
	engine  *rules.Engine
	repo    domain.Repository
	cache   domain.Cache
	metrics *metrics.Metrics

	// TopN is the default number of flagged claims a report keeps.
	TopN int

	// ReportTTL is how long reports stay cached.
	ReportTTL time.Duration
}

// Option configures a Processor.
type Option func(*Processor)

// WithRepository persists every fresh report.
func WithRepository(repo domain.Repository) Option {
	return func(p *Processor) { p.repo = repo }
}

// WithCache reuses reports for identical datasets.
func WithCache(c domain.Cache, ttl time.Duration) Option {
	return func(p *Processor) {
		p.cache = c
		p.ReportTTL = ttl
	}
}

// WithMetrics records run and cache metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithTopN sets the default report size.
func WithTopN(n int) Option {
	return func(p *Processor) { p.TopN = n }
}

// NewProcessor creates a processor around engine.
func NewProcessor(engine *rules.Engine, opts ...Option) *Processor {
	p := &Processor{
		engine:    engine,
		TopN:      30,
		ReportTTL: time.Hour,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Input is one dataset to score.
type Input struct {
	// RunID identifies the run. A new id is generated when empty.
	RunID   string
	Source  string
	TraceID string

	// TopN overrides the processor default when positive.
	TopN    int
	Records []domain.PolicyRecord
}

// Output is the outcome of Process.
type Output struct {
	Report *domain.Report

	// Result is the full engine output. It is nil when the report came
	// from the cache.
	Result *domain.Result
	Cached bool
}

// Process scores input.Records, persists the report and caches it. A cached
// report for the same records, rule set and report size is returned as is.
func (p *Processor) Process(ctx context.Context, input *Input) (*Output, error) {
	start := time.Now()

	topN := input.TopN
	if topN <= 0 {
		topN = p.TopN
	}
	runID := input.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	rs := p.engine.RuleSet()
	fingerprint := cache.Fingerprint(input.Records, rs, topN)

	if report := p.cached(ctx, fingerprint); report != nil {
		p.metrics.ObserveRun(metrics.OutcomeCached, len(input.Records), nil, time.Since(start))
		slog.Info("run served from cache",
			"run_id", report.ID,
			"trace_id", input.TraceID,
			"records", len(input.Records),
			"fingerprint", fingerprint,
		)
		return &Output{Report: report, Cached: true}, nil
	}

	res, err := p.engine.Score(ctx, input.Records)
	if err != nil {
		p.metrics.ObserveRun(metrics.OutcomeFailed, len(input.Records), nil, time.Since(start))
		return nil, fmt.Errorf("scoring run %s: %w", runID, err)
	}

	report := domain.NewReport(runID, fingerprint, input.Source, rs, res, topN)
	report.DurationMs = time.Since(start).Milliseconds()

	if p.repo != nil {
		if err := p.repo.SaveReport(ctx, report); err != nil {
			p.metrics.ObserveRun(metrics.OutcomeFailed, len(input.Records), nil, time.Since(start))
			return nil, fmt.Errorf("saving run %s: %w", runID, err)
		}
	}

	if p.cache != nil {
		if err := p.cache.SetReport(ctx, report, p.ReportTTL); err != nil {
			slog.Warn("failed to cache report",
				"run_id", runID,
				"error", err,
			)
		}
	}

	p.metrics.ObserveRun(metrics.OutcomeScored, len(input.Records), res, time.Since(start))

	slog.Info("run scored",
		"run_id", runID,
		"trace_id", input.TraceID,
		"source", input.Source,
		"records", res.TotalRecords,
		"claims", res.ClaimCount,
		"flagged", len(res.Flagged),
		"duration_ms", report.DurationMs,
	)

	return &Output{Report: report, Result: res}, nil
}

// cached returns the cached report for fingerprint, or nil. Cache failures
// are logged and treated as misses.
func (p *Processor) cached(ctx context.Context, fingerprint string) *domain.Report {
	if p.cache == nil {
		return nil
	}
	report, err := p.cache.GetReport(ctx, fingerprint)
	if err != nil {
		slog.Warn("report cache lookup failed",
			"fingerprint", fingerprint,
			"error", err,
		)
		report = nil
	}
	p.metrics.CacheLookup(report != nil)
	return report
}

// RuleSet returns the rule set reports are scored with.
func (p *Processor) RuleSet() *domain.RuleSet {
	return p.engine.RuleSet()
}

// HasFlagged reports whether a run flagged at least one claim.
func HasFlagged(report *domain.Report) bool {
	return report != nil && report.FlaggedCount > 0
}
