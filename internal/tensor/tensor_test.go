package tensor

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randParam(rng *rand.Rand, scale float64, shape ...int) *Tensor {
	data := make([]float64, numel(shape))
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * scale
	}
	return Param(data, shape...)
}

// checkGrad compares analytic gradients of loss() against central
// differences for every input.
func checkGrad(t *testing.T, loss func() *Tensor, inputs ...*Tensor) {
	t.Helper()
	for _, in := range inputs {
		in.ZeroGrad()
	}
	require.NoError(t, loss().Backward())

	const h = 1e-6
	for k, in := range inputs {
		for i := range in.Data {
			orig := in.Data[i]
			in.Data[i] = orig + h
			plus := loss().Item()
			in.Data[i] = orig - h
			minus := loss().Item()
			in.Data[i] = orig

			numeric := (plus - minus) / (2 * h)
			tol := 1e-5 * math.Max(1, math.Abs(numeric))
			require.InDeltaf(t, numeric, in.Grad[i], tol, "input %d element %d", k, i)
		}
	}
}

func TestElementwiseGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	a := randParam(rng, 1, 3, 2)
	row := randParam(rng, 1, 1, 2)
	col := randParam(rng, 1, 3, 1)

	checkGrad(t, func() *Tensor {
		x := Add(Mul(a, row), Mul(a, col))
		x = Sub(Tanh(x), Scale(Sigmoid(x), 0.5))
		x = LeakyReLU(AddScalar(x, 0.1), 0.2)
		return Mean(Mul(x, x))
	}, a, row, col)
}

func TestSoftmaxLogGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	a := randParam(rng, 2, 4, 3)
	target := Full(0.3, 4, 3)

	checkGrad(t, func() *Tensor {
		p := Softmax(a)
		return Mean(SumRows(Mul(Log(p), target)))
	}, a)
}

func TestLinearGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	x := randParam(rng, 1, 5, 4)
	w := randParam(rng, 1, 3, 4)
	b := randParam(rng, 1, 3)

	checkGrad(t, func() *Tensor {
		return Mean(Sigmoid(Linear(x, w, b)))
	}, x, w, b)
}

func TestMatMulGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	a := randParam(rng, 1, 2, 3)
	b := randParam(rng, 1, 3, 4)

	checkGrad(t, func() *Tensor {
		y := MatMul(a, b)
		return Mean(Mul(y, y))
	}, a, b)
}

func TestConv2DGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	x := randParam(rng, 1, 2, 2, 6, 6)
	w := randParam(rng, 0.5, 3, 2, 4, 4)
	b := randParam(rng, 0.5, 3)
	g := ConvGeom{Kernel: 4, Stride: 2, Padding: 1}

	out := Conv2D(x, w, b, g)
	assert.Equal(t, []int{2, 3, 3, 3}, out.Shape)

	checkGrad(t, func() *Tensor {
		y := Conv2D(x, w, b, g)
		return Mean(Mul(y, y))
	}, x, w, b)
}

func TestConvTranspose2DGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	x := randParam(rng, 1, 2, 3, 3, 3)
	w := randParam(rng, 0.5, 3, 2, 4, 4)
	b := randParam(rng, 0.5, 2)
	g := ConvGeom{Kernel: 4, Stride: 2, Padding: 1}

	out := ConvTranspose2D(x, w, b, g)
	assert.Equal(t, []int{2, 2, 6, 6}, out.Shape)

	checkGrad(t, func() *Tensor {
		y := ConvTranspose2D(x, w, b, g)
		return Mean(Mul(y, y))
	}, x, w, b)
}

func TestConvTransposeIsAdjointOfConv(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	g := ConvGeom{Kernel: 4, Stride: 2, Padding: 1}
	x := randParam(rng, 1, 1, 2, 8, 8)
	y := randParam(rng, 1, 1, 3, 4, 4)
	w := randParam(rng, 1, 3, 2, 4, 4)

	// <conv(x), y> == <x, convT(y)> with the same weights.
	cx := Conv2D(x, w, nil, g)
	ty := ConvTranspose2D(y, w, nil, g)
	var lhs, rhs float64
	for i := range cx.Data {
		lhs += cx.Data[i] * y.Data[i]
	}
	for i := range ty.Data {
		rhs += ty.Data[i] * x.Data[i]
	}
	assert.InDelta(t, lhs, rhs, 1e-9)
}

func TestBatchNormGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	x := randParam(rng, 1, 3, 2, 2, 2)
	gamma := randParam(rng, 1, 2)
	beta := randParam(rng, 1, 2)
	st := &BatchNormState{
		RunningMean: make([]float64, 2),
		RunningVar:  []float64{1, 1},
		Momentum:    0.1,
		Eps:         1e-5,
	}
	weights := randParam(rng, 1, 3, 2, 2, 2).Detach()

	for _, training := range []bool{true, false} {
		checkGrad(t, func() *Tensor {
			y := BatchNorm2D(x, gamma, beta, st, training)
			return Mean(Mul(Tanh(y), weights))
		}, x, gamma, beta)
	}
}

func TestBatchNormTrainingNormalises(t *testing.T) {
	x := New([]float64{1, 2, 3, 4, 10, 20, 30, 40}, 2, 1, 2, 2)
	st := &BatchNormState{RunningMean: []float64{0}, RunningVar: []float64{1}, Momentum: 0.1, Eps: 1e-5}
	y := BatchNorm2D(x, Full(1, 1), Full(0, 1), st, true)

	var mean float64
	for _, v := range y.Data {
		mean += v
	}
	assert.InDelta(t, 0, mean/8, 1e-9)
	assert.InDelta(t, 0.1*13.75, st.RunningMean[0], 1e-9)
}

func TestLossGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	logits := randParam(rng, 1, 4)
	pred := randParam(rng, 1, 2, 3)
	ref := randParam(rng, 1, 2, 3)
	target := []float64{1, 0, 1, 0}

	checkGrad(t, func() *Tensor {
		return Add(BCE(Sigmoid(logits), target), MSE(pred, ref))
	}, logits, pred, ref)
}

func TestClampBlocksGradientOutsideRange(t *testing.T) {
	a := Param([]float64{-1, 0.5, 2}, 3)
	require.NoError(t, Mean(Clamp(a, 0, 1)).Backward())
	assert.Equal(t, []float64{0, 1.0 / 3, 0}, a.Grad)
}

func TestDetachIsolatesGradient(t *testing.T) {
	a := Param([]float64{1, 2}, 2)
	b := Param([]float64{3, 4}, 2)

	loss := Mean(Mul(Scale(a, 2).Detach(), b))
	require.NoError(t, loss.Backward())

	assert.Equal(t, []float64{0, 0}, a.Grad)
	assert.Equal(t, []float64{1, 2}, b.Grad)
}

func TestBackwardAccumulatesAcrossCalls(t *testing.T) {
	a := Param([]float64{1, 2}, 2)
	hidden := Scale(a, 3)

	require.NoError(t, Mean(hidden).Backward())
	require.NoError(t, Mean(hidden).Backward())

	assert.Equal(t, []float64{3, 3}, a.Grad)

	a.ZeroGrad()
	assert.Equal(t, []float64{0, 0}, a.Grad)
}

func TestBackwardRequiresScalar(t *testing.T) {
	a := Param([]float64{1, 2}, 2)
	assert.ErrorIs(t, Scale(a, 2).Backward(), ErrNotScalar)
}
