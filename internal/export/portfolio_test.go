package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/portfolio"
)

func TestWriteBreakdown(t *testing.T) {
	b := portfolio.Summarize([]domain.PolicyRecord{
		{CustomerID: 1, Gender: domain.GenderMale, Age: 30, CarModelYear: 2015, AnnualPremium: 1000, TotalLoss: 16000},
		{CustomerID: 2, Gender: domain.GenderFemale, Age: 22, CarModelYear: 2010, AnnualPremium: 900, TotalLoss: 0},
	})

	var buf bytes.Buffer
	if err := WriteBreakdown(&buf, b); err != nil {
		t.Fatalf("WriteBreakdown failed: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"PORTFOLIO OVERVIEW",
		"$1,900.00",
		"842.1%",
		"50.0%",
		"BY CAR MODEL YEAR",
		"    <25                 1      $900.00       0.0%       0.0%",
		"    55-64               0          n/a        n/a        n/a",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in breakdown:\n%s", want, out)
		}
	}
}

func TestPercent(t *testing.T) {
	v := 0.1234
	if got := Percent(&v); got != "12.3%" {
		t.Errorf("expected 12.3%%, got %s", got)
	}
	if got := Percent(nil); got != "n/a" {
		t.Errorf("expected n/a, got %s", got)
	}
}
