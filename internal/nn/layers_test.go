package nn

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outlier-aae/internal/tensor"
)

func TestSequentialNamesParameters(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	geom := tensor.ConvGeom{Kernel: 4, Stride: 2, Padding: 1}
	seq := NewSequential(
		NewConv2d(rng, 3, 4, geom, false),
		NewBatchNorm2d(4),
		LeakyReLU(0.2),
	)

	var names []string
	for _, p := range seq.Parameters() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"0.weight", "1.weight", "1.bias"}, names)

	var buffers []string
	for _, b := range seq.Buffers() {
		buffers = append(buffers, b.Name)
	}
	assert.Equal(t, []string{"1.running_mean", "1.running_var"}, buffers)
	assert.Len(t, Params(seq), 3)
}

func TestBatchNormBuffersAliasRunningStats(t *testing.T) {
	bn := NewBatchNorm2d(2)
	x := tensor.New([]float64{1, 2, 3, 4, 5, 6, 7, 8}, 1, 2, 2, 2)
	bn.Forward(x)

	bufs := bn.Buffers()
	assert.Equal(t, bn.State.RunningMean, bufs[0].Tensor.Data)
	assert.NotEqual(t, 0.0, bufs[0].Tensor.Data[0])

	bn.SetTraining(false)
	before := append([]float64(nil), bn.State.RunningMean...)
	bn.Forward(x)
	assert.Equal(t, before, bn.State.RunningMean)
}

func TestInitDCGAN(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	geom := tensor.ConvGeom{Kernel: 4, Stride: 2, Padding: 1}
	conv := NewConv2d(rng, 16, 32, geom, true)
	bn := NewBatchNorm2d(64)
	InitDCGAN(rng, NewSequential(conv, bn))

	var sum, sq float64
	for _, v := range conv.Weight.Data {
		sum += v
		sq += v * v
	}
	n := float64(len(conv.Weight.Data))
	std := math.Sqrt(sq/n - (sum/n)*(sum/n))
	assert.InDelta(t, 0.02, std, 0.002)

	for _, v := range conv.Bias.Data {
		require.Equal(t, 0.0, v)
	}
	for _, v := range bn.Gamma.Data {
		assert.InDelta(t, 1, v, 0.1)
	}
}

func TestLinearForwardShape(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	l := NewLinear(rng, 4, 2)
	InitDense(rng, 0, 0.01, l)
	y := l.Forward(tensor.Zeros(5, 4))
	assert.Equal(t, []int{5, 2}, y.Shape)
	assert.Equal(t, make([]float64, 10), y.Data)
}
