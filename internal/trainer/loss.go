package trainer

import (
	"math/rand"

	"outlier-aae/internal/model"
	"outlier-aae/internal/tensor"
)

const (
	// probEps bounds P and C outputs away from 0 and 1.
	probEps = 1e-12
	tiny    = 1e-15
)

// Calibration targets over (authentic, generated).
var (
	targetReal = [2]float64{0.99, 0.01}
	targetFake = [2]float64{0.101, 0.99}
)

// Gate draws the per-row hint mask: 1 keeps the confidence, 0 replaces
// the prediction by the target.
type Gate func(rows int) []float64

// BernoulliGate draws p ~ U(0,1) per row and then b ~ Bernoulli(p).
func BernoulliGate(rng *rand.Rand) Gate {
	return func(rows int) []float64 {
		b := make([]float64, rows)
		for i := range b {
			p := rng.Float64()
			if rng.Float64() < p {
				b[i] = 1
			}
		}
		return b
	}
}

// calibratedLoss scores images with D, P and C and returns
//
//	mean( sum_j -log(p'_j + tiny) y_j - lambda log(c' + tiny) + tiny )
//
// with c' = c b + (1 - b) and p' = p c' + (1 - c') y.
func calibratedLoss(nets *model.Networks, images *tensor.Tensor, target [2]float64, gate Gate, lambda float64) *tensor.Tensor {
	score, _ := nets.D.Forward(images)
	_, probs := nets.P.Forward(score)
	_, conf := nets.C.Forward(score)
	return hintedLoss(probs, conf, target, gate(images.Dim(0)), lambda)
}

// hintedLoss is the loss of calibratedLoss for given P probabilities [n,2],
// C confidences [n,1] and gate values.
func hintedLoss(probs, conf *tensor.Tensor, target [2]float64, b []float64, lambda float64) *tensor.Tensor {
	n := probs.Dim(0)
	y := make([]float64, 0, 2*n)
	notB := make([]float64, n)
	for i := 0; i < n; i++ {
		y = append(y, target[0], target[1])
		notB[i] = 1 - b[i]
	}
	yT := tensor.New(y, n, 2)

	p := tensor.Clamp(probs, probEps, 1-probEps)
	c := tensor.Clamp(conf, probEps, 1-probEps)
	c = tensor.Add(tensor.Mul(c, tensor.New(b, n, 1)), tensor.New(notB, n, 1))
	p = tensor.Add(tensor.Mul(p, c), tensor.Mul(yT, tensor.OneMinus(c)))

	ce := tensor.Scale(tensor.SumRows(tensor.Mul(tensor.Log(tensor.AddScalar(p, tiny)), yT)), -1)
	penalty := tensor.Scale(tensor.Log(tensor.AddScalar(c, tiny)), lambda)
	return tensor.Mean(tensor.AddScalar(tensor.Sub(ce, penalty), tiny))
}
