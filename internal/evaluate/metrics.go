// Package evaluate scores held-out images with the trained discriminator
// and P head and reports inlier/outlier detection statistics.
package evaluate

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// ErrSingleClass is returned when a ranking metric sees only one class.
var ErrSingleClass = errors.New("evaluate: labels contain a single class")

// AUROC is the area under the ROC curve of scores against binary labels
// (1 positive).
func AUROC(labels []int, scores []float64) (float64, error) {
	y, classes, err := sorted(labels, scores)
	if err != nil {
		return 0, err
	}
	tpr, fpr, _ := stat.ROC(nil, y, classes, nil)
	return integrate.Trapezoidal(fpr, tpr), nil
}

// AUPRC is the average precision of scores against binary labels:
// the sum over distinct thresholds of precision times the recall gained.
func AUPRC(labels []int, scores []float64) (float64, error) {
	y, classes, err := sorted(labels, scores)
	if err != nil {
		return 0, err
	}
	positives := 0
	for _, c := range classes {
		if c {
			positives++
		}
	}
	var (
		ap     float64
		tp, fp int
		recall float64
	)
	// y is ascending; walk thresholds from the highest score down.
	for i := len(y) - 1; i >= 0; {
		j := i
		for ; j >= 0 && y[j] == y[i]; j-- {
			if classes[j] {
				tp++
			} else {
				fp++
			}
		}
		r := float64(tp) / float64(positives)
		ap += (r - recall) * float64(tp) / float64(tp+fp)
		recall = r
		i = j
	}
	return ap, nil
}

func sorted(labels []int, scores []float64) ([]float64, []bool, error) {
	if len(labels) != len(scores) {
		return nil, nil, fmt.Errorf("evaluate: %d labels for %d scores", len(labels), len(scores))
	}
	y := append([]float64(nil), scores...)
	classes := make([]bool, len(labels))
	pos := 0
	for i, l := range labels {
		classes[i] = l == 1
		if classes[i] {
			pos++
		}
	}
	if pos == 0 || pos == len(labels) {
		return nil, nil, ErrSingleClass
	}
	stat.SortWeightedLabeled(y, classes, nil)
	return y, classes, nil
}

// Confusion counts binary predictions against labels.
type Confusion struct {
	TP, FP, TN, FN int
}

// Count builds the confusion matrix of preds against labels (1 positive).
func Count(labels, preds []int) Confusion {
	var c Confusion
	for i, l := range labels {
		switch {
		case l == 1 && preds[i] == 1:
			c.TP++
		case l == 1:
			c.FN++
		case preds[i] == 1:
			c.FP++
		default:
			c.TN++
		}
	}
	return c
}

// TPR is TP/(TP+FN), or 0 without positives.
func (c Confusion) TPR() float64 { return ratio(c.TP, c.TP+c.FN) }

// FPR is FP/(FP+TN), or 0 without negatives.
func (c Confusion) FPR() float64 { return ratio(c.FP, c.FP+c.TN) }

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// Report holds the detection statistics of one evaluation.
type Report struct {
	AUROC    float64
	AUPRCIn  float64
	AUPRCOut float64
	TPRIn    float64
	FPRIn    float64
	TPROut   float64
	FPROut   float64
	// Inlier is the confusion matrix with inliers as the positive class.
	Inlier Confusion
	// Outlier is the confusion matrix with outliers as the positive class.
	Outlier Confusion
}

// Calculate turns P-head probabilities [authentic, generated] into a Report.
// labels are 1 for inliers and 0 for outliers. An image is predicted inlier
// when its authentic probability is strictly greater. Ranking metrics stay
// 0 when labels hold a single class.
func Calculate(scores [][2]float64, labels []int) (Report, error) {
	if len(scores) != len(labels) {
		return Report{}, fmt.Errorf("evaluate: %d labels for %d scores", len(labels), len(scores))
	}
	pre1 := make([]int, len(scores))
	pre2 := make([]int, len(scores))
	flipped := make([]int, len(labels))
	s1 := make([]float64, len(scores))
	s2 := make([]float64, len(scores))
	for i, s := range scores {
		if s[0] > s[1] {
			pre1[i] = 1
		}
		pre2[i] = 1 - pre1[i]
		flipped[i] = 1 - labels[i]
		s1[i] = float64(pre1[i])
		s2[i] = float64(pre2[i])
	}

	var r Report
	var err error
	if r.AUROC, err = AUROC(labels, s1); err != nil && !errors.Is(err, ErrSingleClass) {
		return Report{}, err
	}
	if r.AUPRCIn, err = AUPRC(labels, s1); err != nil && !errors.Is(err, ErrSingleClass) {
		return Report{}, err
	}
	if r.AUPRCOut, err = AUPRC(flipped, s2); err != nil && !errors.Is(err, ErrSingleClass) {
		return Report{}, err
	}

	r.Inlier = Count(labels, pre1)
	r.Outlier = Count(flipped, pre2)
	r.TPRIn, r.FPRIn = r.Inlier.TPR(), r.Inlier.FPR()
	r.TPROut, r.FPROut = r.Outlier.TPR(), r.Outlier.FPR()
	return r, nil
}

// InlierLabels maps class names to 1 when listed in inliers, else 0.
func InlierLabels(classNames []string, classes []int, inliers []string) []int {
	set := make(map[string]bool, len(inliers))
	for _, name := range inliers {
		set[name] = true
	}
	labels := make([]int, len(classes))
	for i, c := range classes {
		if c >= 0 && c < len(classNames) && set[classNames[c]] {
			labels[i] = 1
		}
	}
	return labels
}
