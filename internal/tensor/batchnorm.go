package tensor

import (
	"fmt"
	"math"
)

// BatchNormState holds the running statistics of a batch-norm layer.
type BatchNormState struct {
	RunningMean []float64
	RunningVar  []float64
	Momentum    float64
	Eps         float64
}

// BatchNorm2D normalises x [n,c,h,w] per channel and applies the affine
// gamma/beta [c]. In training mode batch statistics are used and the
// running statistics are updated; otherwise the running statistics are used.
func BatchNorm2D(x, gamma, beta *Tensor, st *BatchNormState, training bool) *Tensor {
	if len(x.Shape) != 4 || gamma.Len() != x.Shape[1] || beta.Len() != x.Shape[1] {
		panic(fmt.Sprintf("tensor: BatchNorm2D of %v with %d channels", x.Shape, gamma.Len()))
	}
	n, c := x.Shape[0], x.Shape[1]
	spatial := x.Shape[2] * x.Shape[3]
	m := float64(n * spatial)

	mean := make([]float64, c)
	invStd := make([]float64, c)
	if training {
		for ch := 0; ch < c; ch++ {
			var sum float64
			forChannel(n, c, spatial, ch, func(i int) { sum += x.Data[i] })
			mu := sum / m
			var sq float64
			forChannel(n, c, spatial, ch, func(i int) {
				d := x.Data[i] - mu
				sq += d * d
			})
			variance := sq / m
			mean[ch] = mu
			invStd[ch] = 1 / math.Sqrt(variance+st.Eps)

			unbiased := variance
			if m > 1 {
				unbiased = sq / (m - 1)
			}
			st.RunningMean[ch] = (1-st.Momentum)*st.RunningMean[ch] + st.Momentum*mu
			st.RunningVar[ch] = (1-st.Momentum)*st.RunningVar[ch] + st.Momentum*unbiased
		}
	} else {
		for ch := 0; ch < c; ch++ {
			mean[ch] = st.RunningMean[ch]
			invStd[ch] = 1 / math.Sqrt(st.RunningVar[ch]+st.Eps)
		}
	}

	xhat := make([]float64, len(x.Data))
	data := make([]float64, len(x.Data))
	for ch := 0; ch < c; ch++ {
		mu, is, gm, bt := mean[ch], invStd[ch], gamma.Data[ch], beta.Data[ch]
		forChannel(n, c, spatial, ch, func(i int) {
			xhat[i] = (x.Data[i] - mu) * is
			data[i] = gm*xhat[i] + bt
		})
	}

	out := result(data, x.Shape, x, gamma, beta)
	if out.requiresGrad {
		out.backward = func() {
			for ch := 0; ch < c; ch++ {
				var sumG, sumGX float64
				forChannel(n, c, spatial, ch, func(i int) {
					sumG += out.Grad[i]
					sumGX += out.Grad[i] * xhat[i]
				})
				if gamma.requiresGrad {
					gamma.Grad[ch] += sumGX
				}
				if beta.requiresGrad {
					beta.Grad[ch] += sumG
				}
				if !x.requiresGrad {
					continue
				}
				gm, is := gamma.Data[ch], invStd[ch]
				if !training {
					forChannel(n, c, spatial, ch, func(i int) {
						x.Grad[i] += out.Grad[i] * gm * is
					})
					continue
				}
				forChannel(n, c, spatial, ch, func(i int) {
					x.Grad[i] += gm * is / m * (m*out.Grad[i] - sumG - xhat[i]*sumGX)
				})
			}
		}
	}
	return out
}

func forChannel(n, c, spatial, ch int, fn func(i int)) {
	for s := 0; s < n; s++ {
		base := (s*c + ch) * spatial
		for i := base; i < base+spatial; i++ {
			fn(i)
		}
	}
}
