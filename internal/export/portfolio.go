package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/opensource-finance/harrier/internal/portfolio"
)

// WriteBreakdown prints the portfolio breakdown of a dataset.
func WriteBreakdown(w io.Writer, b *portfolio.Breakdown) error {
	p := &printer{w: w}

	heavy := strings.Repeat("=", summaryWidth)
	light := strings.Repeat("-", summaryWidth)

	p.line(heavy)
	p.line("  PORTFOLIO OVERVIEW")
	p.line(heavy)
	p.linef("  %-30s: %s", "Policies", humanize.Comma(int64(b.Total.Count)))
	p.linef("  %-30s: %s", "Total premium", Money(&b.Total.Premium))
	p.linef("  %-30s: %s", "Total loss", Money(&b.Total.Loss))
	p.linef("  %-30s: %s", "Loss ratio", Percent(b.Total.LossRatio))
	p.linef("  %-30s: %s", "Claims frequency", Percent(b.Total.ClaimsFreq))
	p.linef("  %-30s: %s", "Average premium", Money(b.Total.AvgPremium))
	p.linef("  %-30s: %s", "Average loss per claim", Money(b.AvgLossPerClaim))

	segments := []struct {
		title string
		rows  []portfolio.Segment
	}{
		{"BY AGE GROUP", b.ByAgeBand},
		{"BY GENDER", b.ByGender},
		{"BY CAR MODEL YEAR", b.ByCarEra},
	}
	for _, s := range segments {
		p.line(light)
		p.linef("  %-14s %8s %12s %10s %10s", s.title, "Policies", "Avg premium", "Loss ratio", "Claims")
		p.line(light)
		for _, seg := range s.rows {
			p.linef("    %-12s %8s %12s %10s %10s",
				seg.Key,
				humanize.Comma(int64(seg.Count)),
				Money(seg.AvgPremium),
				Percent(seg.LossRatio),
				Percent(seg.ClaimsFreq),
			)
		}
	}
	p.line(heavy)

	return p.err
}

// Percent formats an optional ratio as 12.3%, or n/a when undefined.
func Percent(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", *v*100)
}
