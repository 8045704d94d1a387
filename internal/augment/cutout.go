// Package augment holds the pseudo-label producing image augmentation.
package augment

import (
	"fmt"
	"math/rand"

	"outlier-aae/internal/tensor"
)

// Cutout masks random squares out of images.
type Cutout struct {
	Holes  int
	Length int
	// Probability is the chance that an image is masked at all.
	Probability float64
	// MaskedLabel and KeptLabel are the pseudo-labels of masked and
	// untouched images.
	MaskedLabel float64
	KeptLabel   float64
}

// DefaultCutout masks one 16px hole in half of the images and labels every
// image authentic.
func DefaultCutout() Cutout {
	return Cutout{Holes: 1, Length: 16, Probability: 0.5, MaskedLabel: 1, KeptLabel: 1}
}

// Apply masks images [n,c,h,w] in place and returns one pseudo-label per
// image. Each hole is centred on a uniform pixel and clipped to the image.
func (c Cutout) Apply(rng *rand.Rand, images *tensor.Tensor) []float64 {
	if len(images.Shape) != 4 {
		panic(fmt.Sprintf("augment: cutout needs NCHW images, got %v", images.Shape))
	}
	n, ch, h, w := images.Shape[0], images.Shape[1], images.Shape[2], images.Shape[3]
	labels := make([]float64, n)
	for i := 0; i < n; i++ {
		if rng.Float64() < 1-c.Probability {
			labels[i] = c.KeptLabel
			continue
		}
		img := images.Data[i*ch*h*w : (i+1)*ch*h*w]
		for hole := 0; hole < c.Holes; hole++ {
			cy, cx := rng.Intn(h), rng.Intn(w)
			y1, y2 := clip(cy-c.Length/2, h), clip(cy+c.Length/2, h)
			x1, x2 := clip(cx-c.Length/2, w), clip(cx+c.Length/2, w)
			for k := 0; k < ch; k++ {
				for y := y1; y < y2; y++ {
					row := img[(k*h+y)*w:]
					for x := x1; x < x2; x++ {
						row[x] = 0
					}
				}
			}
		}
		labels[i] = c.MaskedLabel
	}
	return labels
}

func clip(v, hi int) int {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}
