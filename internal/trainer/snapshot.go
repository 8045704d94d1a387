package trainer

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"outlier-aae/internal/dataset"
	"outlier-aae/internal/tensor"
)

const (
	snapshotCount   = 4
	snapshotPadding = 2
)

// writeSnapshot saves a two-row grid: the first inputs above their
// reconstructions, mapped back to pixel range with norm.
func writeSnapshot(path string, inputs, recons *tensor.Tensor, norm dataset.Normalize) error {
	img := snapshotGrid(inputs, recons, norm)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("snapshot dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return f.Close()
}

func snapshotGrid(inputs, recons *tensor.Tensor, norm dataset.Normalize) *image.NRGBA {
	n := min(snapshotCount, inputs.Dim(0))
	ch, h, w := inputs.Dim(1), inputs.Dim(2), inputs.Dim(3)
	cell := func(size int) int { return size + snapshotPadding }
	grid := image.NewNRGBA(image.Rect(0, 0, snapshotCount*cell(w)+snapshotPadding, 2*cell(h)+snapshotPadding))
	for i := range grid.Pix {
		if i%4 == 3 {
			grid.Pix[i] = 255
		}
	}

	for row, src := range []*tensor.Tensor{inputs, recons} {
		for i := 0; i < n; i++ {
			x0 := snapshotPadding + i*cell(w)
			y0 := snapshotPadding + row*cell(h)
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					var rgb [3]uint8
					for c := 0; c < 3; c++ {
						k := min(c, ch-1)
						v := src.Data[((i*ch+k)*h+y)*w+x]
						rgb[c] = toByte(denormalize(v, k, norm))
					}
					grid.SetNRGBA(x0+x, y0+y, color.NRGBA{R: rgb[0], G: rgb[1], B: rgb[2], A: 255})
				}
			}
		}
	}
	return grid
}

func denormalize(v float64, c int, norm dataset.Normalize) float64 {
	if c < len(norm.Std) && c < len(norm.Mean) {
		return v*norm.Std[c] + norm.Mean[c]
	}
	return v
}

func toByte(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 255
	}
	return uint8(v*255 + 0.5)
}

func snapshotPath(dir string, epoch, iter int) string {
	return filepath.Join(dir, "images", fmt.Sprintf("epoch%d_iter%d.png", epoch, iter))
}
