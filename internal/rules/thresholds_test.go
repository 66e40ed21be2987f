package rules

import (
	"math"
	"testing"

	"github.com/opensource-finance/harrier/internal/domain"
)

func TestComputeThresholds(t *testing.T) {
	claims := []domain.PolicyRecord{
		rec(1, 30, 2015, 1000, 16000),
		rec(2, 22, 2010, 900, 16000),
		rec(3, 40, 2023, 1200, 10500),
		rec(4, 36, 2012, 1000, 2500),
	}

	th := ComputeThresholds(claims, domain.DefaultLimits())

	t.Run("Percentiles", func(t *testing.T) {
		// Losses sorted: 2500, 10500, 16000, 16000. pos = 0.95*3 = 2.85.
		if th.LossP95 == nil || *th.LossP95 != 16000 {
			t.Errorf("expected loss p95 16000, got %v", th.LossP95)
		}
		// Premiums sorted: 900, 1000, 1000, 1200. pos = 0.75.
		if th.PremiumP25 == nil || math.Abs(*th.PremiumP25-975) > 1e-9 {
			t.Errorf("expected premium p25 975, got %v", th.PremiumP25)
		}
	})

	t.Run("OnlyObservedBands", func(t *testing.T) {
		want := []domain.AgeBand{domain.AgeBandUnder25, domain.AgeBand25To34, domain.AgeBand35To44}
		if len(th.AgeBands) != len(want) {
			t.Fatalf("expected %d bands, got %d", len(want), len(th.AgeBands))
		}
		for i, b := range want {
			if th.AgeBands[i].Band != b {
				t.Errorf("band %d: expected %s, got %s", i, b, th.AgeBands[i].Band)
			}
		}
	})

	t.Run("SingleClaimBand", func(t *testing.T) {
		bt := th.AgeBands[0]
		if bt.Count != 1 {
			t.Errorf("expected count 1, got %d", bt.Count)
		}
		if bt.Mean == nil || *bt.Mean != 16000 {
			t.Errorf("expected mean 16000, got %v", bt.Mean)
		}
		if bt.StdDev != nil || bt.Threshold != nil {
			t.Error("expected undefined stddev and threshold")
		}
	})

	t.Run("TwoClaimBand", func(t *testing.T) {
		bt := th.AgeBands[2]
		// 35-44 holds 10500 and 2500: mean 6500, sample stddev 8000/sqrt(2).
		wantSD := 8000 / math.Sqrt2
		if bt.Mean == nil || *bt.Mean != 6500 {
			t.Errorf("expected mean 6500, got %v", bt.Mean)
		}
		if bt.StdDev == nil || math.Abs(*bt.StdDev-wantSD) > 1e-6 {
			t.Errorf("expected stddev %.4f, got %v", wantSD, bt.StdDev)
		}
		if bt.Threshold == nil || math.Abs(*bt.Threshold-(6500+3*wantSD)) > 1e-6 {
			t.Errorf("unexpected threshold %v", bt.Threshold)
		}
	})
}

func TestComputeThresholdsEmpty(t *testing.T) {
	th := ComputeThresholds(nil, domain.DefaultLimits())

	if th.LossP95 != nil || th.PremiumP25 != nil {
		t.Error("expected undefined percentiles")
	}
	if th.AgeBands == nil {
		t.Error("expected an empty, non-nil band list")
	}
	if _, ok := th.Band(domain.AgeBand25To34); ok {
		t.Error("expected no band threshold")
	}
}

func TestComputeThresholdsSigma(t *testing.T) {
	claims := []domain.PolicyRecord{
		rec(1, 50, 2010, 1000, 100),
		rec(2, 51, 2010, 1000, 300),
	}

	limits := domain.DefaultLimits()
	limits.OutlierSigma = 0

	th := ComputeThresholds(claims, limits)
	got, ok := th.Band(domain.AgeBand45To54)
	if !ok {
		t.Fatal("expected defined threshold")
	}
	if got != 200 {
		t.Errorf("expected threshold equal to the mean with sigma 0, got %v", got)
	}
}
