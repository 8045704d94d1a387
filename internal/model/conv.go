package model

import (
	"math/rand"

	"outlier-aae/internal/nn"
	"outlier-aae/internal/tensor"
)

// convTrunk builds the shared stride-2 feature extractor of E and D:
// conv → lrelu, then (conv → bn → lrelu) until the map is 4x4.
// It returns the trunk and its output channel count.
func convTrunk(rng *rand.Rand, cfg Config) (*nn.Sequential, int) {
	width := cfg.BaseWidth
	layers := []nn.Layer{
		nn.NewConv2d(rng, cfg.Channels, width, halve, true),
		nn.LeakyReLU(0.2),
	}
	for i := 1; i < cfg.downsamples(); i++ {
		layers = append(layers,
			nn.NewConv2d(rng, width, width*2, halve, false),
			nn.NewBatchNorm2d(width*2),
			nn.LeakyReLU(0.2),
		)
		width *= 2
	}
	return nn.NewSequential(layers...), width
}

// Encoder maps images to latent vectors.
type Encoder struct {
	trunk *nn.Sequential
	head  *nn.Conv2d
	zsize int
}

func NewEncoder(rng *rand.Rand, cfg Config) *Encoder {
	trunk, width := convTrunk(rng, cfg)
	e := &Encoder{
		trunk: trunk,
		head:  nn.NewConv2d(rng, width, cfg.ZSize, collapse, true),
		zsize: cfg.ZSize,
	}
	nn.InitDCGAN(rng, e.trunk, e.head)
	return e
}

// Forward returns z [batch, zsize].
func (e *Encoder) Forward(x *tensor.Tensor) *tensor.Tensor {
	z := e.head.Forward(e.trunk.Forward(x))
	return tensor.Reshape(z, x.Dim(0), e.zsize)
}

func (e *Encoder) Parameters() []nn.Named { return trunkAndHead(e.trunk, e.head).Parameters() }
func (e *Encoder) Buffers() []nn.Named    { return trunkAndHead(e.trunk, e.head).Buffers() }
func (e *Encoder) SetTraining(t bool)     { e.trunk.SetTraining(t) }

// Generator decodes latent vectors into images in [-1, 1].
type Generator struct {
	net   *nn.Sequential
	zsize int
}

func NewGenerator(rng *rand.Rand, cfg Config) *Generator {
	width := cfg.BaseWidth << (cfg.downsamples() - 1)
	layers := []nn.Layer{
		nn.NewConvTranspose2d(rng, cfg.ZSize, width, collapse, false),
		nn.NewBatchNorm2d(width),
		nn.ReLU(),
	}
	for i := 1; i < cfg.downsamples(); i++ {
		layers = append(layers,
			nn.NewConvTranspose2d(rng, width, width/2, halve, false),
			nn.NewBatchNorm2d(width/2),
			nn.ReLU(),
		)
		width /= 2
	}
	layers = append(layers,
		nn.NewConvTranspose2d(rng, width, cfg.Channels, halve, true),
		nn.Tanh(),
	)
	g := &Generator{net: nn.NewSequential(layers...), zsize: cfg.ZSize}
	nn.InitDCGAN(rng, g.net)
	return g
}

// Forward accepts z as [batch, zsize] or [batch, zsize, 1, 1].
func (g *Generator) Forward(z *tensor.Tensor) *tensor.Tensor {
	return g.net.Forward(tensor.Reshape(z, z.Dim(0), g.zsize, 1, 1))
}

func (g *Generator) Parameters() []nn.Named { return g.net.Parameters() }
func (g *Generator) Buffers() []nn.Named    { return g.net.Buffers() }
func (g *Generator) SetTraining(t bool)     { g.net.SetTraining(t) }

// Discriminator scores images with an unbounded realness score.
type Discriminator struct {
	trunk *nn.Sequential
	head  *nn.Conv2d
}

func NewDiscriminator(rng *rand.Rand, cfg Config) *Discriminator {
	trunk, width := convTrunk(rng, cfg)
	d := &Discriminator{
		trunk: trunk,
		head:  nn.NewConv2d(rng, width, 1, collapse, true),
	}
	nn.InitDCGAN(rng, d.trunk, d.head)
	return d
}

// Forward returns the score [batch,1] and the flattened 4x4 trunk
// features [batch, width*16].
func (d *Discriminator) Forward(x *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor) {
	n := x.Dim(0)
	feat := d.trunk.Forward(x)
	score := tensor.Reshape(d.head.Forward(feat), n, 1)
	return score, tensor.Reshape(feat, n, feat.Len()/n)
}

func (d *Discriminator) Parameters() []nn.Named { return trunkAndHead(d.trunk, d.head).Parameters() }
func (d *Discriminator) Buffers() []nn.Named    { return trunkAndHead(d.trunk, d.head).Buffers() }
func (d *Discriminator) SetTraining(t bool)     { d.trunk.SetTraining(t) }

func trunkAndHead(trunk *nn.Sequential, head nn.Layer) *nn.Sequential {
	return nn.NewSequential(append(append([]nn.Layer(nil), trunk.Layers...), head)...)
}
