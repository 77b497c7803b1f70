package experiments

import "math"

// welchMethod names the statistical test recorded in verdicts.
const welchMethod = "welch_t_normal_approx"

// maxEffectSize stands in for Cohen's d when both samples have zero variance
// and different means: the pooled standard deviation is zero, so the true
// value is unbounded. Verdicts are serialized to JSON, which cannot carry an
// infinity, so a finite stand-in is recorded instead.
const maxEffectSize = 100

// welchResult carries the test statistics for a two-sample comparison.
type welchResult struct {
	MeanA, MeanB float64
	PValue       float64
	EffectSize   float64 // Cohen's d with pooled standard deviation
}

// welchTest runs Welch's unequal-variance t-test on two reward samples,
// two-sided, with a normal approximation for the p-value. Both samples must
// have at least two observations.
func welchTest(a, b []float64) welchResult {
	meanA, varA := meanVariance(a)
	meanB, varB := meanVariance(b)

	res := welchResult{MeanA: meanA, MeanB: meanB}

	se := math.Sqrt(varA/float64(len(a)) + varB/float64(len(b)))
	if se == 0 {
		// Zero variance in both samples: identical means are maximally
		// unsurprising, different means maximally surprising.
		if meanA == meanB {
			res.PValue = 1
		} else {
			res.PValue = 0
			res.EffectSize = maxEffectSize
		}
		return res
	}

	t := (meanB - meanA) / se
	res.PValue = math.Erfc(math.Abs(t) / math.Sqrt2)

	pooled := math.Sqrt((varA + varB) / 2)
	if pooled > 0 {
		res.EffectSize = math.Abs(meanB-meanA) / pooled
	}
	return res
}

// meanVariance returns the sample mean and unbiased sample variance.
func meanVariance(vals []float64) (mean, variance float64) {
	n := float64(len(vals))
	if n == 0 {
		return 0, 0
	}
	for _, v := range vals {
		mean += v
	}
	mean /= n

	if n < 2 {
		return mean, 0
	}
	for _, v := range vals {
		d := v - mean
		variance += d * d
	}
	return mean, variance / (n - 1)
}
