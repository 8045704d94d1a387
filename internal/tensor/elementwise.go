package tensor

import (
	"fmt"
	"math"
)

// broadcastIndex maps a flat index of a onto b. b may match a, be a single
// value, or be a [1,n] row / [m,1] column against a 2-D a.
func broadcastIndex(a, b *Tensor) func(i int) int {
	switch {
	case sameShape(a.Shape, b.Shape):
		return func(i int) int { return i }
	case len(b.Data) == 1:
		return func(int) int { return 0 }
	case len(a.Shape) == 2 && len(b.Shape) == 2 && b.Shape[0] == 1 && b.Shape[1] == a.Shape[1]:
		cols := a.Shape[1]
		return func(i int) int { return i % cols }
	case len(a.Shape) == 2 && len(b.Shape) == 2 && b.Shape[1] == 1 && b.Shape[0] == a.Shape[0]:
		cols := a.Shape[1]
		return func(i int) int { return i / cols }
	}
	panic(fmt.Sprintf("tensor: cannot broadcast %v onto %v", b.Shape, a.Shape))
}

func binary(a, b *Tensor, f func(x, y float64) float64, da, db func(x, y, g float64) float64) *Tensor {
	idx := broadcastIndex(a, b)
	data := make([]float64, len(a.Data))
	for i, x := range a.Data {
		data[i] = f(x, b.Data[idx(i)])
	}
	out := result(data, a.Shape, a, b)
	if out.requiresGrad {
		out.backward = func() {
			for i, g := range out.Grad {
				j := idx(i)
				if a.requiresGrad {
					a.Grad[i] += da(a.Data[i], b.Data[j], g)
				}
				if b.requiresGrad {
					b.Grad[j] += db(a.Data[i], b.Data[j], g)
				}
			}
		}
	}
	return out
}

// Add returns a + b, broadcasting b.
func Add(a, b *Tensor) *Tensor {
	return binary(a, b,
		func(x, y float64) float64 { return x + y },
		func(_, _, g float64) float64 { return g },
		func(_, _, g float64) float64 { return g })
}

// Sub returns a - b, broadcasting b.
func Sub(a, b *Tensor) *Tensor {
	return binary(a, b,
		func(x, y float64) float64 { return x - y },
		func(_, _, g float64) float64 { return g },
		func(_, _, g float64) float64 { return -g })
}

// Mul returns the elementwise product a * b, broadcasting b.
func Mul(a, b *Tensor) *Tensor {
	return binary(a, b,
		func(x, y float64) float64 { return x * y },
		func(_, y, g float64) float64 { return g * y },
		func(x, _, g float64) float64 { return g * x })
}

func unary(a *Tensor, f func(x float64) float64, df func(x, y, g float64) float64) *Tensor {
	data := make([]float64, len(a.Data))
	for i, x := range a.Data {
		data[i] = f(x)
	}
	out := result(data, a.Shape, a)
	if out.requiresGrad {
		out.backward = func() {
			for i, g := range out.Grad {
				a.Grad[i] += df(a.Data[i], out.Data[i], g)
			}
		}
	}
	return out
}

// Scale returns k * a.
func Scale(a *Tensor, k float64) *Tensor {
	return unary(a,
		func(x float64) float64 { return k * x },
		func(_, _, g float64) float64 { return k * g })
}

// AddScalar returns a + k.
func AddScalar(a *Tensor, k float64) *Tensor {
	return unary(a,
		func(x float64) float64 { return x + k },
		func(_, _, g float64) float64 { return g })
}

// OneMinus returns 1 - a.
func OneMinus(a *Tensor) *Tensor {
	return unary(a,
		func(x float64) float64 { return 1 - x },
		func(_, _, g float64) float64 { return -g })
}

// Log returns the natural logarithm of a.
func Log(a *Tensor) *Tensor {
	return unary(a, math.Log, func(x, _, g float64) float64 { return g / x })
}

// Clamp limits a to [lo, hi]. Gradient is zero where a was clipped.
func Clamp(a *Tensor, lo, hi float64) *Tensor {
	return unary(a,
		func(x float64) float64 { return math.Min(math.Max(x, lo), hi) },
		func(x, _, g float64) float64 {
			if x < lo || x > hi {
				return 0
			}
			return g
		})
}

// ReLU returns max(a, 0).
func ReLU(a *Tensor) *Tensor {
	return LeakyReLU(a, 0)
}

// LeakyReLU returns a where a > 0 and slope*a otherwise.
func LeakyReLU(a *Tensor, slope float64) *Tensor {
	return unary(a,
		func(x float64) float64 {
			if x > 0 {
				return x
			}
			return slope * x
		},
		func(x, _, g float64) float64 {
			if x > 0 {
				return g
			}
			return slope * g
		})
}

// Tanh returns the hyperbolic tangent of a.
func Tanh(a *Tensor) *Tensor {
	return unary(a, math.Tanh, func(_, y, g float64) float64 { return g * (1 - y*y) })
}

// Sigmoid returns 1/(1+exp(-a)).
func Sigmoid(a *Tensor) *Tensor {
	return unary(a, sigmoid, func(_, y, g float64) float64 { return g * y * (1 - y) })
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// Reshape returns a view of a with a new shape of equal size.
func Reshape(a *Tensor, shape ...int) *Tensor {
	if numel(shape) != len(a.Data) {
		panic(fmt.Sprintf("tensor: cannot reshape %v to %v", a.Shape, shape))
	}
	out := result(a.Data, shape, a)
	if out.requiresGrad {
		out.backward = func() {
			for i, g := range out.Grad {
				a.Grad[i] += g
			}
		}
	}
	return out
}
