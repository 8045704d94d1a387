package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFillsDefaults(t *testing.T) {
	path := writeConfig(t, `
train_root: /data/train
test_root: /data/test
inlier_classes: [cat, dog]
image_size: 32
cutout:
  enabled: true
  holes: 2
  length: 8
  probability: 0.5
  masked_label: 0
  kept_label: 1
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.ValidateEval())

	assert.Equal(t, "/data/train", cfg.TrainRoot)
	assert.Equal(t, []string{"cat", "dog"}, cfg.InlierClasses)
	assert.Equal(t, 32, cfg.ImageSize)
	assert.Equal(t, 2, cfg.Cutout.Holes)
	assert.Equal(t, 0.0, cfg.Cutout.MaskedLabel)
	assert.Equal(t, 25, cfg.Epochs)
	assert.Equal(t, 128, cfg.HeadWidth)
	assert.InDelta(t, 0.1, cfg.Lambda, 1e-12)
	assert.Equal(t, "console", cfg.Logger.Type)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "train_root: /x\nsteps: 10\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	cfg.TrainRoot = "/a"
	cfg.ApplyOverrides(Overrides{TrainRoot: "/b", Epochs: 3, Seed: 9, LogLevel: "debug"})
	assert.Equal(t, "/b", cfg.TrainRoot)
	assert.Equal(t, 3, cfg.Epochs)
	assert.Equal(t, int64(9), cfg.Seed)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, 256, cfg.BatchSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no data", func(c *Config) { c.TrainRoot = "" }},
		{"image size not power of two", func(c *Config) { c.ImageSize = 48 }},
		{"bad channels", func(c *Config) { c.Channels = 2 }},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }},
		{"beta out of range", func(c *Config) { c.Beta1 = 1 }},
		{"bad cutout label", func(c *Config) { c.Cutout.MaskedLabel = 2 }},
		{"cutout without holes", func(c *Config) { c.Cutout.Holes = 0 }},
		{"normalize length", func(c *Config) { c.Normalize = Normalize{Mean: []float64{0.5}, Std: []float64{0.5}} }},
		{"bad log level", func(c *Config) { c.Logger.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.TrainRoot = "/data"
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	assert.ErrorIs(t, cfg.Validate(), ErrNoTrainingData)
	cfg.TrainShards = "/shards"
	assert.NoError(t, cfg.Validate())
}

func TestValidateEval(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.ValidateEval())
	cfg.TestRoot = "/test"
	assert.Error(t, cfg.ValidateEval())
	cfg.InlierClasses = []string{"0"}
	assert.NoError(t, cfg.ValidateEval())
}

func TestDemoConfigIsValid(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "demo.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.ValidateEval())
	assert.Equal(t, []float64{0.5, 0.5, 0.5}, cfg.Normalize.Std)
}
