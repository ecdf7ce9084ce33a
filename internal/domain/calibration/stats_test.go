package calibration

import (
	"math"
	"testing"
)

func testConfig() Config {
	return Config{OutlierStdDev: 2.0, LeniencyThreshold: 0.5, BiasMinSample: 3}
}

func TestAnalyzeEmpty(t *testing.T) {
	report := Analyze(nil, testConfig())
	if report.SampleCount != 0 || len(report.Outliers) != 0 {
		t.Fatalf("empty input produced %+v", report)
	}
}

func TestAnalyzeOrgStats(t *testing.T) {
	samples := []Sample{
		{ReviewID: "r1", RaterID: "m1", Group: "eng", Rating: 2},
		{ReviewID: "r2", RaterID: "m1", Group: "eng", Rating: 4},
	}
	report := Analyze(samples, testConfig())
	if report.OrgMean != 3 {
		t.Fatalf("org mean = %v, want 3", report.OrgMean)
	}
	if report.OrgStdDev != 1 {
		t.Fatalf("org stddev = %v, want 1 (population)", report.OrgStdDev)
	}
}

func TestAnalyzeLeniencyBias(t *testing.T) {
	// Org mean is 4.33; the lenient rater sits 0.67 above it, the other two
	// raters only 0.33 below.
	samples := []Sample{
		{ReviewID: "r1", RaterID: "lenient", Group: "eng", Rating: 5},
		{ReviewID: "r2", RaterID: "lenient", Group: "eng", Rating: 5},
		{ReviewID: "r3", RaterID: "lenient", Group: "eng", Rating: 5},
		{ReviewID: "r4", RaterID: "centered", Group: "eng", Rating: 4},
		{ReviewID: "r5", RaterID: "centered", Group: "eng", Rating: 4},
		{ReviewID: "r6", RaterID: "centered", Group: "eng", Rating: 4},
		{ReviewID: "r7", RaterID: "other", Group: "eng", Rating: 4},
		{ReviewID: "r8", RaterID: "other", Group: "eng", Rating: 4},
		{ReviewID: "r9", RaterID: "other", Group: "eng", Rating: 4},
	}
	report := Analyze(samples, testConfig())

	var lenient, centered RaterStats
	for _, stats := range report.Raters {
		switch stats.RaterID {
		case "lenient":
			lenient = stats
		case "centered":
			centered = stats
		}
	}
	if lenient.Bias != BiasLeniency {
		t.Fatalf("lenient rater bias = %q, want %q (delta %v)", lenient.Bias, BiasLeniency, lenient.Delta)
	}
	if centered.Bias != "" {
		t.Fatalf("centered rater flagged with %q", centered.Bias)
	}
}

func TestAnalyzeBiasSuppressedBelowMinSample(t *testing.T) {
	samples := []Sample{
		{ReviewID: "r1", RaterID: "m1", Group: "eng", Rating: 5},
		{ReviewID: "r2", RaterID: "m1", Group: "eng", Rating: 5},
		{ReviewID: "r3", RaterID: "m2", Group: "eng", Rating: 3},
		{ReviewID: "r4", RaterID: "m2", Group: "eng", Rating: 3},
	}
	report := Analyze(samples, testConfig())
	for _, stats := range report.Raters {
		if stats.Bias != "" {
			t.Fatalf("rater %s flagged %q on %d samples, min is 3", stats.RaterID, stats.Bias, stats.Count)
		}
	}
}

// An extreme score alone is not an outlier; the rater must also skew away
// from the organization. Both conditions are exercised separately.
func TestAnalyzeOutlierNeedsBothConditions(t *testing.T) {
	// m9 rates far above the group while the rest cluster; m9's own mean is
	// pulled well above the org mean, so both conditions hold for r9.
	samples := []Sample{
		{ReviewID: "r1", RaterID: "m1", Group: "eng", Rating: 3},
		{ReviewID: "r2", RaterID: "m2", Group: "eng", Rating: 3},
		{ReviewID: "r3", RaterID: "m3", Group: "eng", Rating: 3},
		{ReviewID: "r4", RaterID: "m4", Group: "eng", Rating: 3},
		{ReviewID: "r5", RaterID: "m5", Group: "eng", Rating: 3},
		{ReviewID: "r6", RaterID: "m6", Group: "eng", Rating: 3},
		{ReviewID: "r7", RaterID: "m7", Group: "eng", Rating: 3},
		{ReviewID: "r8", RaterID: "m8", Group: "eng", Rating: 3},
		{ReviewID: "r9", RaterID: "m9", Group: "eng", Rating: 5},
	}
	report := Analyze(samples, testConfig())
	if len(report.Outliers) != 1 || report.Outliers[0].ReviewID != "r9" {
		t.Fatalf("outliers = %+v, want exactly r9", report.Outliers)
	}
	if report.Outliers[0].GroupZ <= 2.0 {
		t.Fatalf("r9 group z = %v, want > 2.0", report.Outliers[0].GroupZ)
	}
	// m9 only rated once, so there is no rater distribution to place r9 in.
	if report.Outliers[0].RaterZ != 0 {
		t.Fatalf("r9 rater z = %v, want 0 for a single-rating rater", report.Outliers[0].RaterZ)
	}
}

func TestAnalyzeOutlierRaterZ(t *testing.T) {
	// m9's own ratings are 5 and 4 (mean 4.5, stddev 0.5), so the flagged
	// score sits exactly one rater stddev above the rater's mean.
	samples := []Sample{
		{ReviewID: "r1", RaterID: "m1", Group: "eng", Rating: 3},
		{ReviewID: "r2", RaterID: "m2", Group: "eng", Rating: 3},
		{ReviewID: "r3", RaterID: "m3", Group: "eng", Rating: 3},
		{ReviewID: "r4", RaterID: "m4", Group: "eng", Rating: 3},
		{ReviewID: "r5", RaterID: "m5", Group: "eng", Rating: 3},
		{ReviewID: "r6", RaterID: "m6", Group: "eng", Rating: 3},
		{ReviewID: "r9", RaterID: "m9", Group: "eng", Rating: 5},
		{ReviewID: "r10", RaterID: "m9", Group: "eng", Rating: 4},
	}
	report := Analyze(samples, testConfig())
	if len(report.Outliers) != 1 || report.Outliers[0].ReviewID != "r9" {
		t.Fatalf("outliers = %+v, want exactly r9", report.Outliers)
	}
	if got := report.Outliers[0].RaterZ; math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("r9 rater z = %v, want 1.0", got)
	}
}

func TestAnalyzeCenteredRaterExtremeScoreNotFlagged(t *testing.T) {
	// m1's mean stays near the org mean because their scores balance out,
	// so even the deviant score fails the rater-skew condition.
	samples := []Sample{
		{ReviewID: "r1", RaterID: "m1", Group: "eng", Rating: 5},
		{ReviewID: "r2", RaterID: "m1", Group: "eng", Rating: 1},
		{ReviewID: "r3", RaterID: "m2", Group: "eng", Rating: 3},
		{ReviewID: "r4", RaterID: "m3", Group: "eng", Rating: 3},
		{ReviewID: "r5", RaterID: "m4", Group: "eng", Rating: 3},
		{ReviewID: "r6", RaterID: "m5", Group: "eng", Rating: 3},
	}
	report := Analyze(samples, testConfig())
	if len(report.Outliers) != 0 {
		t.Fatalf("outliers = %+v, want none for a centered rater", report.Outliers)
	}
}

func TestAnalyzeUniformGroupHasNoOutliers(t *testing.T) {
	samples := []Sample{
		{ReviewID: "r1", RaterID: "m1", Group: "eng", Rating: 4},
		{ReviewID: "r2", RaterID: "m2", Group: "eng", Rating: 4},
		{ReviewID: "r3", RaterID: "m3", Group: "eng", Rating: 4},
	}
	report := Analyze(samples, testConfig())
	if len(report.Outliers) != 0 {
		t.Fatalf("zero-variance group produced outliers: %+v", report.Outliers)
	}
}

func TestPercentiles(t *testing.T) {
	var samples []Sample
	for i := 1; i <= 5; i++ {
		samples = append(samples, Sample{ReviewID: "r", RaterID: "m", Group: "g", Rating: float64(i)})
	}
	report := Analyze(samples, testConfig())

	want := map[string]float64{"p25": 2, "p50": 3, "p75": 4, "p90": 4.6}
	for key, expected := range want {
		if got := report.Percentiles[key]; math.Abs(got-expected) > 1e-9 {
			t.Errorf("%s = %v, want %v", key, got, expected)
		}
	}
}

func TestPercentileSingleSample(t *testing.T) {
	report := Analyze([]Sample{{ReviewID: "r1", RaterID: "m1", Group: "g", Rating: 3.5}}, testConfig())
	for _, key := range []string{"p25", "p50", "p75", "p90"} {
		if report.Percentiles[key] != 3.5 {
			t.Fatalf("%s = %v, want 3.5", key, report.Percentiles[key])
		}
	}
}
