package model

import (
	"math/rand"

	"outlier-aae/internal/nn"
	"outlier-aae/internal/tensor"
)

// ZDiscriminator tells prior samples from encoded latents.
type ZDiscriminator struct {
	net *nn.Sequential
}

func NewZDiscriminator(rng *rand.Rand, cfg Config) *ZDiscriminator {
	return &ZDiscriminator{net: nn.NewSequential(
		nn.NewLinear(rng, cfg.ZSize, cfg.HeadWidth),
		nn.LeakyReLU(0.2),
		nn.NewLinear(rng, cfg.HeadWidth, cfg.HeadWidth),
		nn.LeakyReLU(0.2),
		nn.NewLinear(rng, cfg.HeadWidth, 1),
		nn.Sigmoid(),
	)}
}

// Forward returns the probability [batch,1] that z came from the prior.
func (z *ZDiscriminator) Forward(latent *tensor.Tensor) *tensor.Tensor {
	return z.net.Forward(latent)
}

func (z *ZDiscriminator) Parameters() []nn.Named { return z.net.Parameters() }
func (z *ZDiscriminator) Buffers() []nn.Named    { return nil }
func (z *ZDiscriminator) SetTraining(bool)       {}

// PHead turns a discriminator score into a two-class probability
// (authentic, generated).
type PHead struct {
	hidden *nn.Linear
	out    *nn.Linear
}

func NewPHead(rng *rand.Rand, width int) *PHead {
	p := &PHead{
		hidden: nn.NewLinear(rng, 1, width),
		out:    nn.NewLinear(rng, width, 2),
	}
	nn.InitDense(rng, 0, 0.01, p.hidden, p.out)
	return p
}

// Forward returns logits and softmax probabilities, both [batch,2].
func (p *PHead) Forward(score *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor) {
	logits := p.out.Forward(tensor.ReLU(p.hidden.Forward(score)))
	return logits, tensor.Softmax(logits)
}

func (p *PHead) Parameters() []nn.Named { return dense(p.hidden, p.out).Parameters() }
func (p *PHead) Buffers() []nn.Named    { return nil }
func (p *PHead) SetTraining(bool)       {}

// CHead estimates how much the P head can be trusted for a score.
type CHead struct {
	hidden *nn.Linear
	out    *nn.Linear
}

func NewCHead(rng *rand.Rand, width int) *CHead {
	c := &CHead{
		hidden: nn.NewLinear(rng, 1, width),
		out:    nn.NewLinear(rng, width, 1),
	}
	nn.InitDense(rng, 0, 0.01, c.hidden, c.out)
	return c
}

// Forward returns the logit and the sigmoid confidence, both [batch,1].
func (c *CHead) Forward(score *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor) {
	logit := c.out.Forward(tensor.ReLU(c.hidden.Forward(score)))
	return logit, tensor.Sigmoid(logit)
}

func (c *CHead) Parameters() []nn.Named { return dense(c.hidden, c.out).Parameters() }
func (c *CHead) Buffers() []nn.Named    { return nil }
func (c *CHead) SetTraining(bool)       {}

func dense(hidden, out *nn.Linear) *nn.Sequential {
	return nn.NewSequential(hidden, nn.ReLU(), out)
}
