package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/opensource-finance/harrier/internal/domain"
)

const (
	summaryWidth = 62
	maxBarWidth  = 60
)

// WriteSummary prints the console summary of a run.
func WriteSummary(w io.Writer, res *domain.Result) error {
	p := &printer{w: w}

	heavy := strings.Repeat("=", summaryWidth)
	light := strings.Repeat("-", summaryWidth)

	p.line(heavy)
	p.line("  AUTO INSURANCE FRAUD / ANOMALY DETECTION - SUMMARY")
	p.line(heavy)
	p.linef("  %-30s: %s", "Total records in dataset", humanize.Comma(int64(res.TotalRecords)))
	p.linef("  %-30s: %s", "Total claims analysed", humanize.Comma(int64(res.ClaimCount)))
	p.linef("  %-30s: %s", "Unique customers flagged", humanize.Comma(int64(len(res.Flagged))))
	p.linef("  %-30s: %s", "Flag rate", flagRate(res))

	p.line(light)
	p.line("  FLAGS BY RULE")
	p.line(light)
	for _, rc := range res.RuleCounts {
		label := rc.Label
		if label == "" {
			label = string(rc.Rule)
		}
		p.linef("    %-52s %5d", label, rc.Count)
	}

	p.line(light)
	p.line("  RISK SCORE DISTRIBUTION (flagged customers only)")
	p.line(light)
	for _, b := range res.Histogram {
		p.linef("    Score %2d: %5d  %s", b.Score, b.Count, Bar(b.Count))
	}

	p.line(light)
	p.line("  Computed thresholds:")
	p.linef("    %-29s: %s", "Loss top-5% cutoff", Money(res.Thresholds.LossP95))
	p.linef("    %-29s: %s", "Premium bottom-25% cutoff", Money(res.Thresholds.PremiumP25))
	for _, bt := range res.Thresholds.AgeBands {
		p.linef("    Age group %-8s outlier   : %s", bt.Band, Money(bt.Threshold))
	}
	p.line(heavy)

	return p.err
}

// Bar renders a histogram bar, capped at 60 characters.
func Bar(n int) string {
	return strings.Repeat("#", max(0, min(n, maxBarWidth)))
}

// Money formats an optional amount as $1,234.56, or n/a when undefined.
func Money(v *float64) string {
	if v == nil {
		return "n/a"
	}
	if *v < 0 {
		return "-$" + humanize.FormatFloat("#,###.##", -*v)
	}
	return "$" + humanize.FormatFloat("#,###.##", *v)
}

func flagRate(res *domain.Result) string {
	rate, ok := res.FlagRate()
	if !ok {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", rate*100)
}

// printer keeps the first write error.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) line(s string) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintln(p.w, s)
}

func (p *printer) linef(format string, args ...any) {
	p.line(fmt.Sprintf(format, args...))
}
