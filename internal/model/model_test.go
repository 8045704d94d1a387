package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outlier-aae/internal/tensor"
)

func smallConfig(size int) Config {
	return Config{ImageSize: size, Channels: 3, ZSize: 6, BaseWidth: 4, HeadWidth: 8}
}

func TestNetworkShapes(t *testing.T) {
	for _, size := range []int{8, 16, 32} {
		nets, err := New(smallConfig(size), 1)
		require.NoError(t, err)

		x := tensor.Zeros(2, 3, size, size)
		z := nets.E.Forward(x)
		assert.Equal(t, []int{2, 6}, z.Shape, "size %d", size)

		img := nets.G.Forward(z)
		assert.Equal(t, []int{2, 3, size, size}, img.Shape, "size %d", size)
		for _, v := range img.Data {
			require.True(t, v >= -1 && v <= 1)
		}

		score, feat := nets.D.Forward(img)
		assert.Equal(t, []int{2, 1}, score.Shape)
		assert.Equal(t, 2, feat.Dim(0))

		assert.Equal(t, []int{2, 1}, nets.ZD.Forward(z).Shape)

		_, probs := nets.P.Forward(score)
		assert.Equal(t, []int{2, 2}, probs.Shape)
		assert.InDelta(t, 1, probs.Data[0]+probs.Data[1], 1e-12)

		_, conf := nets.C.Forward(score)
		assert.Equal(t, []int{2, 1}, conf.Shape)
	}
}

func TestConfigValidate(t *testing.T) {
	assert.ErrorIs(t, smallConfig(12).Validate(), ErrImageSize)
	assert.ErrorIs(t, smallConfig(4).Validate(), ErrImageSize)
	assert.NoError(t, smallConfig(64).Validate())

	bad := smallConfig(32)
	bad.ZSize = 0
	assert.Error(t, bad.Validate())
}

func TestNewIsDeterministicPerSeed(t *testing.T) {
	a, err := New(smallConfig(8), 7)
	require.NoError(t, err)
	b, err := New(smallConfig(8), 7)
	require.NoError(t, err)

	for i, m := range a.Modules() {
		pa := m.Module.Parameters()
		pb := b.Modules()[i].Module.Parameters()
		require.Len(t, pb, len(pa))
		for j := range pa {
			assert.Equal(t, pa[j].Name, pb[j].Name)
			assert.Equal(t, pa[j].Tensor.Data, pb[j].Tensor.Data)
		}
	}
}

func TestModulesOrder(t *testing.T) {
	nets, err := New(smallConfig(8), 1)
	require.NoError(t, err)
	var names []string
	for _, m := range nets.Modules() {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"G", "E", "D", "ZD", "P", "C"}, names)
}

func TestBatchSizeAndMeanLabel(t *testing.T) {
	assert.Zero(t, Batch{}.Size())
	assert.Zero(t, Batch{}.MeanLabel())

	b := Batch{Images: tensor.Zeros(4, 1, 8, 8), Labels: []float64{1, 0, 1, 1}}
	assert.Equal(t, 4, b.Size())
	assert.InDelta(t, 0.75, b.MeanLabel(), 1e-12)
}
