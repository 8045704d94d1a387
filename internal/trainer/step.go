package trainer

import (
	"fmt"
	"math/rand"

	"outlier-aae/internal/metrics"
	"outlier-aae/internal/model"
	"outlier-aae/internal/nn"
	"outlier-aae/internal/optim"
	"outlier-aae/internal/tensor"
)

// Optimizers holds one Adam per parameter group of the alternating loop.
type Optimizers struct {
	// ZD trains the latent discriminator.
	ZD *optim.Adam
	// AE trains E and G on reconstruction and the latent adversarial term.
	AE *optim.Adam
	// DPC trains D with the P and C heads.
	DPC *optim.Adam
	// GE trains G and E against the calibrated discriminator.
	GE *optim.Adam
}

// NewOptimizers builds the four parameter groups of nets.
func NewOptimizers(nets *model.Networks, cfg optim.AdamConfig) *Optimizers {
	return &Optimizers{
		ZD:  optim.NewAdam("ZD", nn.Params(nets.ZD), cfg),
		AE:  optim.NewAdam("AE", nn.Params(nets.E, nets.G), cfg),
		DPC: optim.NewAdam("DPC", nn.Params(nets.D, nets.P, nets.C), cfg),
		GE:  optim.NewAdam("GE", nn.Params(nets.G, nets.E), cfg),
	}
}

// All lists the optimizers in checkpoint order.
func (o *Optimizers) All() []*optim.Adam {
	return []*optim.Adam{o.ZD, o.AE, o.DPC, o.GE}
}

// Stepper runs the four optimisation phases on a batch.
type Stepper struct {
	Nets   *model.Networks
	Opts   *Optimizers
	Lambda float64
	ZSize  int
	RNG    *rand.Rand
	Gate   Gate

	// recon holds G(E(x)) of the last reconstruction phase.
	recon *tensor.Tensor
}

// Step runs, in order, the latent discriminator, reconstruction,
// discriminator and generator phases on the batch images.
func (s *Stepper) Step(batch model.Batch) (metrics.Losses, error) {
	images := batch.Images
	var losses metrics.Losses
	var err error
	if losses.ZD, err = s.stepZD(images); err != nil {
		return losses, fmt.Errorf("latent discriminator step: %w", err)
	}
	if losses.Recon, losses.E, err = s.stepAE(images); err != nil {
		return losses, fmt.Errorf("autoencoder step: %w", err)
	}
	if losses.D, err = s.stepD(images); err != nil {
		return losses, fmt.Errorf("discriminator step: %w", err)
	}
	if losses.G, err = s.stepG(images); err != nil {
		return losses, fmt.Errorf("generator step: %w", err)
	}
	return losses, nil
}

// LastReconstruction returns G(E(x)) from the most recent Step.
func (s *Stepper) LastReconstruction() *tensor.Tensor { return s.recon }

func (s *Stepper) stepZD(x *tensor.Tensor) (float64, error) {
	s.Opts.ZD.ZeroGrad()
	n := x.Dim(0)
	prior := make([]float64, n*s.ZSize)
	for i := range prior {
		prior[i] = s.RNG.NormFloat64()
	}
	priorLoss := tensor.BCE(s.Nets.ZD.Forward(tensor.New(prior, n, s.ZSize)), constant(n, 1))
	encodedLoss := tensor.BCE(s.Nets.ZD.Forward(s.Nets.E.Forward(x).Detach()), constant(n, 0))
	loss := tensor.Add(priorLoss, encodedLoss)
	if err := loss.Backward(); err != nil {
		return 0, err
	}
	s.Opts.ZD.Step()
	return loss.Item(), nil
}

func (s *Stepper) stepAE(x *tensor.Tensor) (float64, float64, error) {
	s.Opts.AE.ZeroGrad()
	n := x.Dim(0)
	z := s.Nets.E.Forward(x)
	recon := s.Nets.G.Forward(z)
	reconLoss := tensor.MSE(recon, x)
	eLoss := tensor.Scale(tensor.BCE(s.Nets.ZD.Forward(z), constant(n, 1)), 2)
	if err := tensor.Add(reconLoss, eLoss).Backward(); err != nil {
		return 0, 0, err
	}
	s.Opts.AE.Step()
	s.recon = recon.Detach()
	return reconLoss.Item(), eLoss.Item(), nil
}

func (s *Stepper) stepD(x *tensor.Tensor) (float64, error) {
	s.Opts.DPC.ZeroGrad()
	fake := s.Nets.G.Forward(s.Nets.E.Forward(x)).Detach()
	realLoss := calibratedLoss(s.Nets, x, targetReal, s.Gate, s.Lambda)
	fakeLoss := calibratedLoss(s.Nets, fake, targetFake, s.Gate, s.Lambda)
	loss := tensor.Add(realLoss, fakeLoss)
	if err := loss.Backward(); err != nil {
		return 0, err
	}
	s.Opts.DPC.Step()
	return loss.Item(), nil
}

// stepG leaves gradients on D, P and C; stepD clears them before use.
func (s *Stepper) stepG(x *tensor.Tensor) (float64, error) {
	s.Opts.GE.ZeroGrad()
	fake := s.Nets.G.Forward(s.Nets.E.Forward(x))
	loss := calibratedLoss(s.Nets, fake, targetReal, s.Gate, s.Lambda)
	if err := loss.Backward(); err != nil {
		return 0, err
	}
	s.Opts.GE.Step()
	return loss.Item(), nil
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
