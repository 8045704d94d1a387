package nn

import "math/rand"

// InitDCGAN re-initialises convolutions with N(0, 0.02) weights and zero
// bias, and batch norms with N(1, 0.02) scale and zero shift. Other layers
// keep their defaults.
func InitDCGAN(rng *rand.Rand, layers ...Layer) {
	for _, l := range layers {
		switch v := l.(type) {
		case *Sequential:
			InitDCGAN(rng, v.Layers...)
		case *Conv2d:
			Normal(0, 0.02)(rng, v.Weight.Data)
			if v.Bias != nil {
				Constant(0)(rng, v.Bias.Data)
			}
		case *ConvTranspose2d:
			Normal(0, 0.02)(rng, v.Weight.Data)
			if v.Bias != nil {
				Constant(0)(rng, v.Bias.Data)
			}
		case *BatchNorm2d:
			Normal(1, 0.02)(rng, v.Gamma.Data)
			Constant(0)(rng, v.Beta.Data)
		}
	}
}

// InitDense re-initialises linear layers with N(mean, std) weights and
// zero bias.
func InitDense(rng *rand.Rand, mean, std float64, layers ...Layer) {
	for _, l := range layers {
		switch v := l.(type) {
		case *Sequential:
			InitDense(rng, mean, std, v.Layers...)
		case *Linear:
			Normal(mean, std)(rng, v.Weight.Data)
			Constant(0)(rng, v.Bias.Data)
		}
	}
}
