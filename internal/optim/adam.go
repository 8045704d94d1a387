// Package optim implements the Adam optimizer over tensor parameters.
package optim

import (
	"fmt"
	"math"

	"outlier-aae/internal/tensor"
)

// AdamConfig holds Adam hyperparameters.
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
}

// DefaultAdamConfig returns the settings every network is trained with.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.5,
		Beta2:        0.9,
		Epsilon:      1e-8,
	}
}

// Adam keeps first and second moment estimates for a fixed parameter group.
type Adam struct {
	Name   string
	config AdamConfig
	params []*tensor.Tensor
	m      [][]float64
	v      [][]float64
	step   int
}

// NewAdam creates an optimizer for params. A tensor shared with another
// group keeps independent moments here.
func NewAdam(name string, params []*tensor.Tensor, config AdamConfig) *Adam {
	a := &Adam{
		Name:   name,
		config: config,
		params: params,
		m:      make([][]float64, len(params)),
		v:      make([][]float64, len(params)),
	}
	for i, p := range params {
		a.m[i] = make([]float64, p.Len())
		a.v[i] = make([]float64, p.Len())
	}
	return a
}

// Params returns the parameter group.
func (a *Adam) Params() []*tensor.Tensor { return a.params }

// ZeroGrad clears the gradient of every parameter in the group.
func (a *Adam) ZeroGrad() {
	for _, p := range a.params {
		p.ZeroGrad()
	}
}

// Step applies one bias-corrected Adam update from the current gradients.
func (a *Adam) Step() {
	a.step++
	c := a.config
	bc1 := 1 - math.Pow(c.Beta1, float64(a.step))
	bc2 := 1 - math.Pow(c.Beta2, float64(a.step))
	for i, p := range a.params {
		m, v := a.m[i], a.v[i]
		for j, g := range p.Grad {
			m[j] = c.Beta1*m[j] + (1-c.Beta1)*g
			v[j] = c.Beta2*v[j] + (1-c.Beta2)*g*g
			p.Data[j] -= c.LearningRate * (m[j] / bc1) / (math.Sqrt(v[j]/bc2) + c.Epsilon)
		}
	}
}

// State is a serialisable snapshot of the moment estimates.
type State struct {
	Step int
	M    [][]float64
	V    [][]float64
}

// State returns a copy of the optimizer state.
func (a *Adam) State() State {
	s := State{Step: a.step, M: make([][]float64, len(a.m)), V: make([][]float64, len(a.v))}
	for i := range a.m {
		s.M[i] = append([]float64(nil), a.m[i]...)
		s.V[i] = append([]float64(nil), a.v[i]...)
	}
	return s
}

// Restore loads a state produced by State for the same parameter group.
func (a *Adam) Restore(s State) error {
	if len(s.M) != len(a.m) || len(s.V) != len(a.v) {
		return fmt.Errorf("optim: %s state has %d tensors, group has %d", a.Name, len(s.M), len(a.m))
	}
	for i := range a.m {
		if len(s.M[i]) != len(a.m[i]) || len(s.V[i]) != len(a.v[i]) {
			return fmt.Errorf("optim: %s state tensor %d size mismatch", a.Name, i)
		}
	}
	for i := range a.m {
		copy(a.m[i], s.M[i])
		copy(a.v[i], s.V[i])
	}
	a.step = s.Step
	return nil
}
