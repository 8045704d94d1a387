package dataset

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
)

// Normalize maps [0,1] pixel intensities per channel: (v - Mean) / Std.
type Normalize struct {
	Mean []float64
	Std  []float64
}

// HalfNormalize maps [0,1] onto [-1,1], matching a tanh generator.
func HalfNormalize(channels int) Normalize {
	n := Normalize{Mean: make([]float64, channels), Std: make([]float64, channels)}
	for i := range n.Mean {
		n.Mean[i] = 0.5
		n.Std[i] = 0.5
	}
	return n
}

// Decoder turns encoded images into normalised CHW pixels.
type Decoder struct {
	Size      int
	Channels  int
	Normalize Normalize
}

// Decode decodes raw PNG/JPEG bytes, nearest-resizes to Size x Size and
// returns Channels x Size x Size normalised values. One channel means
// luminance; three means RGB.
func (d Decoder) Decode(raw []byte) ([]float64, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, errors.New("empty image")
	}
	if d.Channels != 1 && d.Channels != 3 {
		return nil, fmt.Errorf("unsupported channel count %d", d.Channels)
	}

	plane := d.Size * d.Size
	out := make([]float64, d.Channels*plane)
	scaleX := float64(width) / float64(d.Size)
	scaleY := float64(height) / float64(d.Size)
	for y := 0; y < d.Size; y++ {
		sy := min(int(float64(y)*scaleY), height-1)
		for x := 0; x < d.Size; x++ {
			sx := min(int(float64(x)*scaleX), width-1)
			r, g, b, _ := img.At(bounds.Min.X+sx, bounds.Min.Y+sy).RGBA()
			idx := y*d.Size + x
			if d.Channels == 1 {
				out[idx] = (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 65535.0
				continue
			}
			out[idx] = float64(r) / 65535.0
			out[plane+idx] = float64(g) / 65535.0
			out[2*plane+idx] = float64(b) / 65535.0
		}
	}
	if len(d.Normalize.Mean) == d.Channels && len(d.Normalize.Std) == d.Channels {
		for c := 0; c < d.Channels; c++ {
			mean, std := d.Normalize.Mean[c], d.Normalize.Std[c]
			for i := c * plane; i < (c+1)*plane; i++ {
				out[i] = (out[i] - mean) / std
			}
		}
	}
	return out, nil
}
