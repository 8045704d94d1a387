package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Mean returns the average of all elements as a scalar.
func Mean(a *Tensor) *Tensor {
	n := float64(len(a.Data))
	out := result([]float64{floats.Sum(a.Data) / n}, []int{1}, a)
	if out.requiresGrad {
		out.backward = func() {
			g := out.Grad[0] / n
			for i := range a.Grad {
				a.Grad[i] += g
			}
		}
	}
	return out
}

// SumRows sums each row of a 2-D tensor into a [rows,1] column.
func SumRows(a *Tensor) *Tensor {
	if len(a.Shape) != 2 {
		panic(fmt.Sprintf("tensor: SumRows on shape %v", a.Shape))
	}
	rows, cols := a.Shape[0], a.Shape[1]
	data := make([]float64, rows)
	for r := 0; r < rows; r++ {
		data[r] = floats.Sum(a.Data[r*cols : (r+1)*cols])
	}
	out := result(data, []int{rows, 1}, a)
	if out.requiresGrad {
		out.backward = func() {
			for r := 0; r < rows; r++ {
				g := out.Grad[r]
				for c := 0; c < cols; c++ {
					a.Grad[r*cols+c] += g
				}
			}
		}
	}
	return out
}

// Softmax normalises each row of a 2-D tensor.
func Softmax(a *Tensor) *Tensor {
	if len(a.Shape) != 2 {
		panic(fmt.Sprintf("tensor: Softmax on shape %v", a.Shape))
	}
	rows, cols := a.Shape[0], a.Shape[1]
	data := make([]float64, len(a.Data))
	for r := 0; r < rows; r++ {
		in := a.Data[r*cols : (r+1)*cols]
		row := data[r*cols : (r+1)*cols]
		maxv := floats.Max(in)
		for c, v := range in {
			row[c] = math.Exp(v - maxv)
		}
		floats.Scale(1/floats.Sum(row), row)
	}
	out := result(data, a.Shape, a)
	if out.requiresGrad {
		out.backward = func() {
			for r := 0; r < rows; r++ {
				y := out.Data[r*cols : (r+1)*cols]
				g := out.Grad[r*cols : (r+1)*cols]
				dot := floats.Dot(y, g)
				for c := range y {
					a.Grad[r*cols+c] += y[c] * (g[c] - dot)
				}
			}
		}
	}
	return out
}

// logFloor matches the -100 floor applied to log terms in binary
// cross-entropy so saturated predictions stay finite.
const logFloor = -100

// BCE returns the mean binary cross-entropy of probabilities p against
// constant targets.
func BCE(p *Tensor, target []float64) *Tensor {
	if len(target) != len(p.Data) {
		panic(fmt.Sprintf("tensor: BCE target has %d values for shape %v", len(target), p.Shape))
	}
	n := float64(len(p.Data))
	var sum float64
	for i, x := range p.Data {
		t := target[i]
		sum -= t*math.Max(math.Log(x), logFloor) + (1-t)*math.Max(math.Log(1-x), logFloor)
	}
	out := result([]float64{sum / n}, []int{1}, p)
	if out.requiresGrad {
		out.backward = func() {
			g := out.Grad[0] / n
			for i, x := range p.Data {
				denom := math.Max(x*(1-x), 1e-12)
				p.Grad[i] += g * (x - target[i]) / denom
			}
		}
	}
	return out
}

// MSE returns the mean squared error between a and b.
func MSE(a, b *Tensor) *Tensor {
	if len(a.Data) != len(b.Data) {
		panic(fmt.Sprintf("tensor: MSE of %v and %v", a.Shape, b.Shape))
	}
	n := float64(len(a.Data))
	var sum float64
	for i := range a.Data {
		d := a.Data[i] - b.Data[i]
		sum += d * d
	}
	out := result([]float64{sum / n}, []int{1}, a, b)
	if out.requiresGrad {
		out.backward = func() {
			g := 2 * out.Grad[0] / n
			for i := range a.Data {
				d := g * (a.Data[i] - b.Data[i])
				if a.requiresGrad {
					a.Grad[i] += d
				}
				if b.requiresGrad {
					b.Grad[i] -= d
				}
			}
		}
	}
	return out
}
