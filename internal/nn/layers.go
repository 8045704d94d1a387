package nn

import (
	"math/rand"
	"strconv"

	"outlier-aae/internal/tensor"
)

// Linear is a fully connected layer y = xWᵀ + b.
type Linear struct {
	Weight *tensor.Tensor
	Bias   *tensor.Tensor
}

// NewLinear uses the default fan-in uniform initialisation.
func NewLinear(rng *rand.Rand, in, out int) *Linear {
	bound := fanInBound(in)
	w := make([]float64, out*in)
	b := make([]float64, out)
	Uniform(bound)(rng, w)
	Uniform(bound)(rng, b)
	return &Linear{
		Weight: tensor.Param(w, out, in),
		Bias:   tensor.Param(b, out),
	}
}

func (l *Linear) Forward(x *tensor.Tensor) *tensor.Tensor {
	return tensor.Linear(x, l.Weight, l.Bias)
}

func (l *Linear) Parameters() []Named {
	return []Named{{"weight", l.Weight}, {"bias", l.Bias}}
}

func (l *Linear) Buffers() []Named { return nil }
func (l *Linear) SetTraining(bool) {}

// Conv2d is a square-kernel convolution.
type Conv2d struct {
	Weight *tensor.Tensor
	Bias   *tensor.Tensor // nil when the layer has no bias
	Geom   tensor.ConvGeom
}

// NewConv2d builds a convolution; weights use the default fan-in init.
func NewConv2d(rng *rand.Rand, in, out int, geom tensor.ConvGeom, bias bool) *Conv2d {
	fanIn := in * geom.Kernel * geom.Kernel
	w := make([]float64, out*fanIn)
	Uniform(fanInBound(fanIn))(rng, w)
	c := &Conv2d{
		Weight: tensor.Param(w, out, in, geom.Kernel, geom.Kernel),
		Geom:   geom,
	}
	if bias {
		c.Bias = tensor.Param(make([]float64, out), out)
	}
	return c
}

func (c *Conv2d) Forward(x *tensor.Tensor) *tensor.Tensor {
	return tensor.Conv2D(x, c.Weight, c.Bias, c.Geom)
}

func (c *Conv2d) Parameters() []Named {
	return weightAndBias(c.Weight, c.Bias)
}

func (c *Conv2d) Buffers() []Named { return nil }
func (c *Conv2d) SetTraining(bool) {}

// ConvTranspose2d is a square-kernel transposed convolution.
type ConvTranspose2d struct {
	Weight *tensor.Tensor
	Bias   *tensor.Tensor
	Geom   tensor.ConvGeom
}

// NewConvTranspose2d builds a transposed convolution with weight [in,out,k,k].
func NewConvTranspose2d(rng *rand.Rand, in, out int, geom tensor.ConvGeom, bias bool) *ConvTranspose2d {
	fanIn := out * geom.Kernel * geom.Kernel
	w := make([]float64, in*fanIn)
	Uniform(fanInBound(fanIn))(rng, w)
	c := &ConvTranspose2d{
		Weight: tensor.Param(w, in, out, geom.Kernel, geom.Kernel),
		Geom:   geom,
	}
	if bias {
		c.Bias = tensor.Param(make([]float64, out), out)
	}
	return c
}

func (c *ConvTranspose2d) Forward(x *tensor.Tensor) *tensor.Tensor {
	return tensor.ConvTranspose2D(x, c.Weight, c.Bias, c.Geom)
}

func (c *ConvTranspose2d) Parameters() []Named {
	return weightAndBias(c.Weight, c.Bias)
}

func (c *ConvTranspose2d) Buffers() []Named { return nil }
func (c *ConvTranspose2d) SetTraining(bool) {}

func weightAndBias(w, b *tensor.Tensor) []Named {
	out := []Named{{"weight", w}}
	if b != nil {
		out = append(out, Named{"bias", b})
	}
	return out
}

// BatchNorm2d normalises each channel of an NCHW batch.
type BatchNorm2d struct {
	Gamma *tensor.Tensor
	Beta  *tensor.Tensor
	State tensor.BatchNormState

	training    bool
	runningMean *tensor.Tensor
	runningVar  *tensor.Tensor
}

// NewBatchNorm2d starts with gamma=1, beta=0 and unit running variance.
func NewBatchNorm2d(channels int) *BatchNorm2d {
	mean := make([]float64, channels)
	variance := make([]float64, channels)
	Constant(1)(nil, variance)
	gamma := make([]float64, channels)
	Constant(1)(nil, gamma)
	return &BatchNorm2d{
		Gamma: tensor.Param(gamma, channels),
		Beta:  tensor.Param(make([]float64, channels), channels),
		State: tensor.BatchNormState{
			RunningMean: mean,
			RunningVar:  variance,
			Momentum:    0.1,
			Eps:         1e-5,
		},
		training:    true,
		runningMean: tensor.New(mean, channels),
		runningVar:  tensor.New(variance, channels),
	}
}

func (b *BatchNorm2d) Forward(x *tensor.Tensor) *tensor.Tensor {
	return tensor.BatchNorm2D(x, b.Gamma, b.Beta, &b.State, b.training)
}

func (b *BatchNorm2d) Parameters() []Named {
	return []Named{{"weight", b.Gamma}, {"bias", b.Beta}}
}

// Buffers exposes the running statistics; they alias State.
func (b *BatchNorm2d) Buffers() []Named {
	return []Named{{"running_mean", b.runningMean}, {"running_var", b.runningVar}}
}

func (b *BatchNorm2d) SetTraining(training bool) { b.training = training }

// Activation wraps a parameter-free tensor function as a Layer.
type Activation struct {
	fn func(*tensor.Tensor) *tensor.Tensor
}

func (a Activation) Forward(x *tensor.Tensor) *tensor.Tensor { return a.fn(x) }
func (a Activation) Parameters() []Named                     { return nil }
func (a Activation) Buffers() []Named                        { return nil }
func (a Activation) SetTraining(bool)                        {}

func ReLU() Activation    { return Activation{tensor.ReLU} }
func Tanh() Activation    { return Activation{tensor.Tanh} }
func Sigmoid() Activation { return Activation{tensor.Sigmoid} }

func LeakyReLU(slope float64) Activation {
	return Activation{func(x *tensor.Tensor) *tensor.Tensor { return tensor.LeakyReLU(x, slope) }}
}

// Sequential chains layers; parameter names are "<index>.<name>".
type Sequential struct {
	Layers []Layer
}

func NewSequential(layers ...Layer) *Sequential {
	return &Sequential{Layers: layers}
}

func (s *Sequential) Forward(x *tensor.Tensor) *tensor.Tensor {
	for _, l := range s.Layers {
		x = l.Forward(x)
	}
	return x
}

func (s *Sequential) Parameters() []Named {
	var out []Named
	for i, l := range s.Layers {
		out = append(out, prefixed(strconv.Itoa(i)+".", l.Parameters())...)
	}
	return out
}

func (s *Sequential) Buffers() []Named {
	var out []Named
	for i, l := range s.Layers {
		out = append(out, prefixed(strconv.Itoa(i)+".", l.Buffers())...)
	}
	return out
}

func (s *Sequential) SetTraining(training bool) {
	for _, l := range s.Layers {
		l.SetTraining(training)
	}
}
