package rules

import (
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/stats"
)

// ComputeThresholds derives the run-scoped cutoffs from the claim subset.
//
// The loss and premium percentiles are global. The outlier threshold of a band
// is mean + sigma*stddev over that band's losses; a band with fewer than two
// claims has no standard deviation and therefore no threshold. Only bands with
// at least one claim are listed.
func ComputeThresholds(claims []domain.PolicyRecord, l domain.Limits) domain.Thresholds {
	th := domain.Thresholds{
		AgeBands: make([]domain.BandThreshold, 0, len(domain.AgeBands)),
	}
	if len(claims) == 0 {
		return th
	}

	losses := make([]float64, len(claims))
	premiums := make([]float64, len(claims))
	byBand := make(map[domain.AgeBand][]float64)

	for i, c := range claims {
		losses[i] = c.TotalLoss
		premiums[i] = c.AnnualPremium
		band := domain.BandOf(c.Age)
		byBand[band] = append(byBand[band], c.TotalLoss)
	}

	if v, ok := stats.Percentile(losses, l.LossQuantile); ok {
		th.LossP95 = &v
	}
	if v, ok := stats.Percentile(premiums, l.PremiumQuantile); ok {
		th.PremiumP25 = &v
	}

	for _, band := range domain.AgeBands {
		values := byBand[band]
		if len(values) == 0 {
			continue
		}

		bt := domain.BandThreshold{Band: band, Count: len(values)}
		if mean, ok := stats.Mean(values); ok {
			bt.Mean = &mean
			if sd, ok := stats.SampleStdDev(values); ok {
				threshold := mean + l.OutlierSigma*sd
				bt.StdDev = &sd
				bt.Threshold = &threshold
			}
		}
		th.AgeBands = append(th.AgeBands, bt)
	}

	return th
}
