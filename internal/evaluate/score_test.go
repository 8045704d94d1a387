package evaluate

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outlier-aae/internal/dataset"
	"outlier-aae/internal/model"
)

func writeImages(t *testing.T, root, class string, n int) {
	t.Helper()
	dir := filepath.Join(root, class)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for i := 0; i < n; i++ {
		img := image.NewGray(image.Rect(0, 0, 8, 8))
		for p := range img.Pix {
			img.Pix[p] = uint8((p*13 + i*31) % 256)
		}
		img.SetGray(0, 0, color.Gray{Y: uint8(i)})
		f, err := os.Create(filepath.Join(dir, string(rune('a'+i))+".png"))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, img))
		require.NoError(t, f.Close())
	}
}

func TestScoreFolder(t *testing.T) {
	root := t.TempDir()
	writeImages(t, root, "bird", 3)
	writeImages(t, root, "cat", 2)
	folder, err := dataset.OpenFolder(root)
	require.NoError(t, err)

	nets, err := model.New(model.Config{ImageSize: 8, Channels: 1, ZSize: 4, BaseWidth: 2, HeadWidth: 4}, 3)
	require.NoError(t, err)

	scored, err := Score(context.Background(), nets, ScoreOptions{
		Folder:     folder,
		Decoder:    dataset.Decoder{Size: 8, Channels: 1, Normalize: dataset.HalfNormalize(1)},
		BatchSize:  2,
		NumWorkers: 2,
	})
	require.NoError(t, err)
	require.Len(t, scored.Probs, 5)
	assert.Equal(t, []int{0, 0, 0, 1, 1}, scored.Classes)
	assert.Equal(t, "bird/a.png", scored.Keys[0])
	for _, p := range scored.Probs {
		assert.InDelta(t, 1.0, p[0]+p[1], 1e-9)
	}

	labels := InlierLabels(folder.Classes, scored.Classes, []string{"cat"})
	assert.Equal(t, []int{0, 0, 0, 1, 1}, labels)
	_, err = Calculate(scored.Probs, labels)
	assert.NoError(t, err)
}

func TestScoreRejectsBadOptions(t *testing.T) {
	nets, err := model.New(model.Config{ImageSize: 8, Channels: 1, ZSize: 4, BaseWidth: 2, HeadWidth: 4}, 3)
	require.NoError(t, err)
	_, err = Score(context.Background(), nets, ScoreOptions{})
	assert.Error(t, err)
}
