package evaluate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAUROCMatchesKnownCurve(t *testing.T) {
	auc, err := AUROC([]int{0, 0, 1, 1}, []float64{0.1, 0.4, 0.35, 0.8})
	require.NoError(t, err)
	assert.InDelta(t, 0.75, auc, 1e-12)
}

func TestAUPRCAveragePrecision(t *testing.T) {
	ap, err := AUPRC([]int{0, 0, 1, 1}, []float64{0.1, 0.4, 0.35, 0.8})
	require.NoError(t, err)
	assert.InDelta(t, 0.5+0.5*2.0/3.0, ap, 1e-12)

	ap, err = AUPRC([]int{1, 0, 1}, []float64{0.9, 0.1, 0.8})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, ap, 1e-12)
}

func TestAUPRCGroupsTies(t *testing.T) {
	// One threshold: precision 0.5 over the whole recall range.
	ap, err := AUPRC([]int{1, 0, 1, 0}, []float64{1, 1, 1, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, ap, 1e-12)
}

func TestRankingMetricsRejectSingleClass(t *testing.T) {
	_, err := AUROC([]int{1, 1}, []float64{0.2, 0.3})
	assert.ErrorIs(t, err, ErrSingleClass)
	_, err = AUPRC([]int{0, 0}, []float64{0.2, 0.3})
	assert.ErrorIs(t, err, ErrSingleClass)
	_, err = AUROC([]int{0, 1}, []float64{0.2})
	assert.Error(t, err)
}

func TestCalculate(t *testing.T) {
	scores := [][2]float64{
		{0.9, 0.1}, // inlier, predicted inlier
		{0.7, 0.3}, // inlier, predicted inlier
		{0.2, 0.8}, // inlier, predicted outlier
		{0.6, 0.4}, // outlier, predicted inlier
		{0.5, 0.5}, // outlier, tie predicts outlier
	}
	labels := []int{1, 1, 1, 0, 0}

	r, err := Calculate(scores, labels)
	require.NoError(t, err)

	assert.Equal(t, Confusion{TP: 2, FP: 1, TN: 1, FN: 1}, r.Inlier)
	assert.Equal(t, Confusion{TP: 1, FP: 1, TN: 2, FN: 1}, r.Outlier)
	assert.InDelta(t, 2.0/3.0, r.TPRIn, 1e-12)
	assert.InDelta(t, 0.5, r.FPRIn, 1e-12)
	assert.InDelta(t, 0.5, r.TPROut, 1e-12)
	assert.InDelta(t, 1.0/3.0, r.FPROut, 1e-12)
	assert.InDelta(t, 7.0/12.0, r.AUROC, 1e-12)
	assert.InDelta(t, 29.0/45.0, r.AUPRCIn, 1e-12)
	assert.InDelta(t, 0.45, r.AUPRCOut, 1e-12)

	// Labels are not modified in place.
	assert.Equal(t, []int{1, 1, 1, 0, 0}, labels)
}

func TestCalculateSingleClassYieldsZeros(t *testing.T) {
	r, err := Calculate([][2]float64{{0.9, 0.1}, {0.1, 0.9}}, []int{1, 1})
	require.NoError(t, err)
	assert.Zero(t, r.AUROC)
	assert.Zero(t, r.AUPRCIn)
	assert.InDelta(t, 0.5, r.TPRIn, 1e-12)
	assert.Zero(t, r.FPRIn)
	assert.Zero(t, r.TPROut)
}

func TestInlierLabels(t *testing.T) {
	names := []string{"airplane", "cat", "dog"}
	got := InlierLabels(names, []int{0, 1, 2, 1, 5}, []string{"cat"})
	assert.Equal(t, []int{0, 1, 0, 1, 0}, got)
}
