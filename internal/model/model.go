// Package model defines the five networks of the calibrated adversarial
// autoencoder: encoder, generator, image discriminator, latent
// discriminator and the P/C calibration heads.
package model

import (
	"errors"
	"fmt"
	"math/bits"
	"math/rand"

	"outlier-aae/internal/nn"
	"outlier-aae/internal/tensor"
)

// Batch is a minibatch of NCHW images with their pseudo-labels.
type Batch struct {
	Images *tensor.Tensor
	Labels []float64
	// Classes carries the dataset class index of each image.
	Classes []int
}

// Size returns the number of images in the batch.
func (b Batch) Size() int {
	if b.Images == nil {
		return 0
	}
	return b.Images.Dim(0)
}

// MeanLabel is the average pseudo-label, or 0 for an empty batch.
func (b Batch) MeanLabel() float64 {
	if len(b.Labels) == 0 {
		return 0
	}
	var sum float64
	for _, l := range b.Labels {
		sum += l
	}
	return sum / float64(len(b.Labels))
}

// Config sizes the networks.
type Config struct {
	ImageSize int
	Channels  int
	ZSize     int
	BaseWidth int
	// HeadWidth is the hidden width of ZD, P and C.
	HeadWidth int
}

// ErrImageSize is returned for image sizes the conv stacks cannot handle.
var ErrImageSize = errors.New("model: image size must be a power of two >= 8")

// Validate checks the configuration is buildable.
func (c Config) Validate() error {
	if c.ImageSize < 8 || c.ImageSize&(c.ImageSize-1) != 0 {
		return fmt.Errorf("%w (got %d)", ErrImageSize, c.ImageSize)
	}
	if c.Channels <= 0 || c.ZSize <= 0 || c.BaseWidth <= 0 || c.HeadWidth <= 0 {
		return fmt.Errorf("model: channels, zsize, base width and head width must be > 0 (got %+v)", c)
	}
	return nil
}

// downsamples is the number of stride-2 stages from ImageSize to 4x4.
func (c Config) downsamples() int {
	return bits.TrailingZeros(uint(c.ImageSize)) - 2
}

var (
	halve    = tensor.ConvGeom{Kernel: 4, Stride: 2, Padding: 1}
	collapse = tensor.ConvGeom{Kernel: 4, Stride: 1, Padding: 0}
)

// Networks bundles every trainable module of the system.
type Networks struct {
	E  *Encoder
	G  *Generator
	D  *Discriminator
	ZD *ZDiscriminator
	P  *PHead
	C  *CHead
}

// New builds and initialises all networks from a seed.
func New(cfg Config, seed int64) (*Networks, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(seed))
	return &Networks{
		G:  NewGenerator(rng, cfg),
		D:  NewDiscriminator(rng, cfg),
		P:  NewPHead(rng, cfg.HeadWidth),
		C:  NewCHead(rng, cfg.HeadWidth),
		E:  NewEncoder(rng, cfg),
		ZD: NewZDiscriminator(rng, cfg),
	}, nil
}

// Module is a named network, as written to checkpoints.
type Module struct {
	Name   string
	Module nn.Module
}

// Modules lists the networks in checkpoint order.
func (n *Networks) Modules() []Module {
	return []Module{
		{"G", n.G},
		{"E", n.E},
		{"D", n.D},
		{"ZD", n.ZD},
		{"P", n.P},
		{"C", n.C},
	}
}

// SetTraining switches every network between training and eval mode.
func (n *Networks) SetTraining(training bool) {
	for _, m := range n.Modules() {
		m.Module.SetTraining(training)
	}
}
