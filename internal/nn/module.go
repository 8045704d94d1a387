// Package nn provides parameterised layers built on the tensor package.
package nn

import (
	"math"
	"math/rand"

	"outlier-aae/internal/tensor"
)

// Named pairs a tensor with its state-dict style name.
type Named struct {
	Name   string
	Tensor *tensor.Tensor
}

// Module is anything that owns trainable parameters.
type Module interface {
	// Parameters returns trainable tensors in a stable order.
	Parameters() []Named
	// Buffers returns non-trainable state such as running statistics.
	Buffers() []Named
	SetTraining(training bool)
}

// Layer is a Module with a single-input forward pass.
type Layer interface {
	Module
	Forward(x *tensor.Tensor) *tensor.Tensor
}

// Params flattens the trainable tensors of the given modules.
func Params(mods ...Module) []*tensor.Tensor {
	var out []*tensor.Tensor
	for _, m := range mods {
		for _, p := range m.Parameters() {
			out = append(out, p.Tensor)
		}
	}
	return out
}

// Initializer fills a weight slice in place.
type Initializer func(rng *rand.Rand, data []float64)

// Normal returns an initializer drawing from N(mean, std²).
func Normal(mean, std float64) Initializer {
	return func(rng *rand.Rand, data []float64) {
		for i := range data {
			data[i] = mean + std*rng.NormFloat64()
		}
	}
}

// Uniform returns an initializer drawing from U(-bound, bound).
func Uniform(bound float64) Initializer {
	return func(rng *rand.Rand, data []float64) {
		for i := range data {
			data[i] = (rng.Float64()*2 - 1) * bound
		}
	}
}

// Constant returns an initializer setting every value to v.
func Constant(v float64) Initializer {
	return func(_ *rand.Rand, data []float64) {
		for i := range data {
			data[i] = v
		}
	}
}

func fanInBound(fanIn int) float64 {
	return 1 / math.Sqrt(float64(fanIn))
}

func prefixed(prefix string, in []Named) []Named {
	out := make([]Named, len(in))
	for i, n := range in {
		out[i] = Named{Name: prefix + n.Name, Tensor: n.Tensor}
	}
	return out
}
