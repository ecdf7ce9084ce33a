package calibration

import (
	"math"
	"sort"
	"strconv"
)

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stdDev is the population standard deviation; calibration treats the
// cycle's ratings as the whole population, not a sample of one.
func stdDev(values []float64, m float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}

// percentile interpolates linearly between the two nearest ranks of the
// sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// Analyze computes the full calibration report for one set of samples: org
// and per-group distributions, per-rater bias, percentile bands, and the
// flagged outliers.
//
// A rating is an outlier only when both conditions hold: it sits more than
// cfg.OutlierStdDev standard deviations from its group mean, and its rater's
// mean deviates from the organization mean by more than
// cfg.LeniencyThreshold. A single strict rater does not flag outliers by
// volume alone, and one extreme score from an otherwise centered rater is
// left to the group signal.
func Analyze(samples []Sample, cfg Config) Report {
	report := Report{SampleCount: len(samples), Percentiles: map[string]float64{}}
	if len(samples) == 0 {
		return report
	}

	all := make([]float64, 0, len(samples))
	byRater := map[string][]float64{}
	byGroup := map[string][]float64{}
	for _, sample := range samples {
		all = append(all, sample.Rating)
		byRater[sample.RaterID] = append(byRater[sample.RaterID], sample.Rating)
		byGroup[sample.Group] = append(byGroup[sample.Group], sample.Rating)
	}

	report.OrgMean = mean(all)
	report.OrgStdDev = stdDev(all, report.OrgMean)

	sorted := append([]float64(nil), all...)
	sort.Float64s(sorted)
	for _, p := range []int{25, 50, 75, 90} {
		report.Percentiles["p"+strconv.Itoa(p)] = percentile(sorted, float64(p))
	}

	raterMeans := map[string]float64{}
	raterDevs := map[string]float64{}
	for raterID, ratings := range byRater {
		m := mean(ratings)
		raterMeans[raterID] = m
		raterDevs[raterID] = stdDev(ratings, m)
		stats := RaterStats{
			RaterID: raterID,
			Count:   len(ratings),
			Mean:    m,
			StdDev:  raterDevs[raterID],
			Delta:   m - report.OrgMean,
		}
		// Bias alerts are suppressed below the minimum sample size; two
		// ratings do not make a pattern.
		if stats.Count >= cfg.BiasMinSample {
			switch {
			case stats.Delta > cfg.LeniencyThreshold:
				stats.Bias = BiasLeniency
			case stats.Delta < -cfg.LeniencyThreshold:
				stats.Bias = BiasSeverity
			}
		}
		report.Raters = append(report.Raters, stats)
	}
	sort.Slice(report.Raters, func(i, j int) bool { return report.Raters[i].RaterID < report.Raters[j].RaterID })

	groupMeans := map[string]float64{}
	groupDevs := map[string]float64{}
	for group, ratings := range byGroup {
		m := mean(ratings)
		sd := stdDev(ratings, m)
		groupMeans[group] = m
		groupDevs[group] = sd
		report.Groups = append(report.Groups, GroupStats{Group: group, Count: len(ratings), Mean: m, StdDev: sd})
	}
	sort.Slice(report.Groups, func(i, j int) bool { return report.Groups[i].Group < report.Groups[j].Group })

	for _, sample := range samples {
		sd := groupDevs[sample.Group]
		if sd == 0 {
			continue
		}
		groupZ := (sample.Rating - groupMeans[sample.Group]) / sd
		raterDelta := raterMeans[sample.RaterID] - report.OrgMean
		if math.Abs(groupZ) > cfg.OutlierStdDev && math.Abs(raterDelta) > cfg.LeniencyThreshold {
			var raterZ float64
			if rsd := raterDevs[sample.RaterID]; rsd > 0 {
				raterZ = (sample.Rating - raterMeans[sample.RaterID]) / rsd
			}
			report.Outliers = append(report.Outliers, Outlier{
				ReviewID:   sample.ReviewID,
				RaterID:    sample.RaterID,
				Group:      sample.Group,
				Rating:     sample.Rating,
				GroupZ:     groupZ,
				RaterZ:     raterZ,
				RaterDelta: raterDelta,
			})
		}
	}
	sort.Slice(report.Outliers, func(i, j int) bool { return report.Outliers[i].ReviewID < report.Outliers[j].ReviewID })

	return report
}
