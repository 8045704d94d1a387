// Package tensor is a small dense float64 tensor with reverse-mode
// automatic differentiation.
//
// Every op result remembers its parents and a backward closure. Calling
// Backward on a scalar result accumulates gradients into every leaf that
// requires them; leaf gradients persist until ZeroGrad, so several
// Backward calls before an optimizer step sum their contributions.
package tensor

import (
	"errors"
	"fmt"
)

// ErrNotScalar is returned by Backward when called on a non-scalar tensor.
var ErrNotScalar = errors.New("tensor: backward requires a scalar")

// Tensor is a row-major dense array.
type Tensor struct {
	Data  []float64
	Grad  []float64
	Shape []int

	requiresGrad bool
	parents      []*Tensor
	backward     func()
}

// New wraps data in a constant tensor. data is not copied.
func New(data []float64, shape ...int) *Tensor {
	if n := numel(shape); n != len(data) {
		panic(fmt.Sprintf("tensor: shape %v needs %d values, got %d", shape, n, len(data)))
	}
	return &Tensor{Data: data, Shape: append([]int(nil), shape...)}
}

// Zeros returns a constant zero tensor.
func Zeros(shape ...int) *Tensor {
	return New(make([]float64, numel(shape)), shape...)
}

// Full returns a constant tensor filled with v.
func Full(v float64, shape ...int) *Tensor {
	t := Zeros(shape...)
	for i := range t.Data {
		t.Data[i] = v
	}
	return t
}

// Param returns a trainable leaf with an allocated gradient.
func Param(data []float64, shape ...int) *Tensor {
	t := New(data, shape...)
	t.requiresGrad = true
	t.Grad = make([]float64, len(data))
	return t
}

// RequiresGrad reports whether gradients flow into t.
func (t *Tensor) RequiresGrad() bool { return t.requiresGrad }

// Len returns the number of elements.
func (t *Tensor) Len() int { return len(t.Data) }

// Dim returns the size of dimension i.
func (t *Tensor) Dim(i int) int { return t.Shape[i] }

// Item returns the single value of a scalar tensor.
func (t *Tensor) Item() float64 {
	if len(t.Data) != 1 {
		panic(fmt.Sprintf("tensor: Item on shape %v", t.Shape))
	}
	return t.Data[0]
}

// Detach returns a constant copy of t cut off from the graph.
func (t *Tensor) Detach() *Tensor {
	return New(append([]float64(nil), t.Data...), t.Shape...)
}

// ZeroGrad clears the accumulated gradient.
func (t *Tensor) ZeroGrad() {
	for i := range t.Grad {
		t.Grad[i] = 0
	}
}

// Backward back-propagates from a scalar tensor.
func (t *Tensor) Backward() error {
	if len(t.Data) != 1 {
		return ErrNotScalar
	}
	if !t.requiresGrad {
		return nil
	}
	order := topoSort(t)
	// Interior gradients are per-call scratch; leaves accumulate.
	for _, n := range order {
		if n.backward != nil {
			n.Grad = make([]float64, len(n.Data))
		}
	}
	t.Grad[0] += 1
	for i := len(order) - 1; i >= 0; i-- {
		if order[i].backward != nil {
			order[i].backward()
		}
	}
	return nil
}

func topoSort(root *Tensor) []*Tensor {
	var order []*Tensor
	seen := make(map[*Tensor]bool)
	var visit func(*Tensor)
	visit = func(n *Tensor) {
		if seen[n] || !n.requiresGrad {
			return
		}
		seen[n] = true
		for _, p := range n.parents {
			visit(p)
		}
		order = append(order, n)
	}
	visit(root)
	return order
}

// result builds an op output tracking parents that need gradients.
func result(data []float64, shape []int, parents ...*Tensor) *Tensor {
	out := New(data, shape...)
	for _, p := range parents {
		if p != nil && p.requiresGrad {
			out.requiresGrad = true
			out.parents = append(out.parents, p)
		}
	}
	return out
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
