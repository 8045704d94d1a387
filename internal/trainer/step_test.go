package trainer

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outlier-aae/internal/dataset"
	"outlier-aae/internal/model"
	"outlier-aae/internal/nn"
	"outlier-aae/internal/optim"
	"outlier-aae/internal/tensor"
)

func newStepper(t *testing.T, gate Gate) (*Stepper, *tensor.Tensor) {
	t.Helper()
	nets, err := model.New(model.Config{ImageSize: 8, Channels: 1, ZSize: 4, BaseWidth: 2, HeadWidth: 4}, 11)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(3))
	if gate == nil {
		gate = BernoulliGate(rng)
	}
	s := &Stepper{
		Nets:   nets,
		Opts:   NewOptimizers(nets, optim.DefaultAdamConfig()),
		Lambda: 0.1,
		ZSize:  4,
		RNG:    rng,
		Gate:   gate,
	}
	x := make([]float64, 3*8*8)
	for i := range x {
		x[i] = rng.Float64()*2 - 1
	}
	return s, tensor.New(x, 3, 1, 8, 8)
}

func ones(rows int) []float64 { return constant(rows, 1) }

// paramSnapshot copies the parameter values of every network by name.
func paramSnapshot(nets *model.Networks) map[string][][]float64 {
	out := make(map[string][][]float64)
	for _, m := range nets.Modules() {
		for _, p := range m.Module.Parameters() {
			out[m.Name] = append(out[m.Name], append([]float64(nil), p.Tensor.Data...))
		}
	}
	return out
}

func changedNetworks(before map[string][][]float64, nets *model.Networks) map[string]bool {
	changed := make(map[string]bool)
	for _, m := range nets.Modules() {
		for i, p := range m.Module.Parameters() {
			for j, v := range p.Tensor.Data {
				if v != before[m.Name][i][j] {
					changed[m.Name] = true
				}
			}
		}
	}
	return changed
}

func TestPhasesUpdateOnlyTheirGroup(t *testing.T) {
	tests := []struct {
		name string
		run  func(*Stepper, *tensor.Tensor) error
		want map[string]bool
	}{
		{
			name: "latent discriminator",
			run:  func(s *Stepper, x *tensor.Tensor) error { _, err := s.stepZD(x); return err },
			want: map[string]bool{"ZD": true},
		},
		{
			name: "autoencoder",
			run:  func(s *Stepper, x *tensor.Tensor) error { _, _, err := s.stepAE(x); return err },
			want: map[string]bool{"E": true, "G": true},
		},
		{
			name: "discriminator",
			run:  func(s *Stepper, x *tensor.Tensor) error { _, err := s.stepD(x); return err },
			want: map[string]bool{"D": true, "P": true, "C": true},
		},
		{
			name: "generator",
			run:  func(s *Stepper, x *tensor.Tensor) error { _, err := s.stepG(x); return err },
			want: map[string]bool{"G": true, "E": true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, x := newStepper(t, ones)
			before := paramSnapshot(s.Nets)
			require.NoError(t, tt.run(s, x))
			assert.Equal(t, tt.want, changedNetworks(before, s.Nets))
		})
	}
}

func TestGeneratorStepReachesEncoderThroughDiscriminator(t *testing.T) {
	s, x := newStepper(t, ones)
	_, err := s.stepG(x)
	require.NoError(t, err)

	var norm float64
	for _, p := range s.Nets.E.Parameters() {
		for _, g := range p.Tensor.Grad {
			norm += g * g
		}
	}
	assert.Greater(t, norm, 0.0)
}

// firstGrads copies the gradient of the first parameter of D, P and C.
func firstGrads(nets *model.Networks) map[string][]float64 {
	return map[string][]float64{
		"D": append([]float64(nil), nets.D.Parameters()[0].Tensor.Grad...),
		"P": append([]float64(nil), nets.P.Parameters()[0].Tensor.Grad...),
		"C": append([]float64(nil), nets.C.Parameters()[0].Tensor.Grad...),
	}
}

func TestDiscriminatorStepDiscardsGeneratorGradients(t *testing.T) {
	ref, x := newStepper(t, ones)
	_, err := ref.stepD(x)
	require.NoError(t, err)
	want := firstGrads(ref.Nets)

	s, x := newStepper(t, ones)
	// A zero learning rate keeps G and E fixed so stepD sees the same fakes.
	frozen := optim.DefaultAdamConfig()
	frozen.LearningRate = 0
	s.Opts.GE = optim.NewAdam("GE", nn.Params(s.Nets.G, s.Nets.E), frozen)
	_, err = s.stepG(x)
	require.NoError(t, err)
	for name, g := range firstGrads(s.Nets) {
		var norm float64
		for _, v := range g {
			norm += v * v
		}
		require.Greater(t, norm, 0.0, "%s holds no generator gradient", name)
	}

	_, err = s.stepD(x)
	require.NoError(t, err)
	got := firstGrads(s.Nets)
	for _, name := range []string{"D", "P", "C"} {
		assert.InDeltaSlice(t, want[name], got[name], 1e-12, name)
	}
}

func TestStepReturnsFiniteLosses(t *testing.T) {
	s, x := newStepper(t, nil)
	for i := 0; i < 3; i++ {
		losses, err := s.Step(model.Batch{Images: x})
		require.NoError(t, err)
		for _, v := range []float64{losses.ZD, losses.Recon, losses.E, losses.D, losses.G} {
			assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "loss %v", losses)
		}
		assert.Greater(t, losses.Recon, 0.0)
	}
	require.NotNil(t, s.LastReconstruction())
	assert.Equal(t, x.Shape, s.LastReconstruction().Shape)
}

func TestHintedLoss(t *testing.T) {
	probs := tensor.New([]float64{0.7, 0.3}, 1, 2)
	conf := tensor.New([]float64{0.5}, 1, 1)

	// Closed gate: c' = 1, so the loss is the cross-entropy of p.
	got := hintedLoss(probs, conf, targetReal, []float64{0}, 0.1).Item()
	want := -(0.99*math.Log(0.7) + 0.01*math.Log(0.3))
	assert.InDelta(t, want, got, 1e-9)

	// Open gate: p' = p c + (1-c) y and the confidence penalty applies.
	got = hintedLoss(probs, conf, targetReal, []float64{1}, 0.1).Item()
	want = -(0.99*math.Log(0.5*0.7+0.5*0.99) + 0.01*math.Log(0.5*0.3+0.5*0.01)) - 0.1*math.Log(0.5)
	assert.InDelta(t, want, got, 1e-9)
}

func TestHintedLossAveragesRows(t *testing.T) {
	probs := tensor.New([]float64{0.7, 0.3, 0.2, 0.8}, 2, 2)
	conf := tensor.New([]float64{0.9, 0.1}, 2, 1)
	got := hintedLoss(probs, conf, targetFake, []float64{0, 0}, 0.1).Item()
	row := func(p0, p1 float64) float64 { return -(0.101*math.Log(p0) + 0.99*math.Log(p1)) }
	assert.InDelta(t, (row(0.7, 0.3)+row(0.2, 0.8))/2, got, 1e-9)
}

func TestBernoulliGateIsBinary(t *testing.T) {
	gate := BernoulliGate(rand.New(rand.NewSource(1)))
	b := gate(1000)
	var sum float64
	for _, v := range b {
		assert.True(t, v == 0 || v == 1)
		sum += v
	}
	// E[b] = E[p] = 0.5.
	assert.InDelta(t, 500, sum, 60)
}

func TestSnapshotGrid(t *testing.T) {
	x := tensor.Full(-1, 2, 1, 8, 8)
	r := tensor.Full(1, 2, 1, 8, 8)
	grid := snapshotGrid(x, r, dataset.HalfNormalize(1))
	assert.Equal(t, 4*10+2, grid.Bounds().Dx())
	assert.Equal(t, 2*10+2, grid.Bounds().Dy())
	assert.Equal(t, uint8(0), grid.NRGBAAt(2, 2).R)
	assert.Equal(t, uint8(255), grid.NRGBAAt(2, 12).R)
}
