// Package config loads training and evaluation settings from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"outlier-aae/internal/logger"
)

// ErrNoTrainingData is returned when neither a folder nor shards are set.
var ErrNoTrainingData = errors.New("config: train_root or train_shards must be set")

// Cutout configures the occlusion augmentation.
type Cutout struct {
	Enabled     bool    `yaml:"enabled"`
	Holes       int     `yaml:"holes" validate:"gte=0"`
	Length      int     `yaml:"length" validate:"gte=0"`
	Probability float64 `yaml:"probability" validate:"gte=0,lte=1"`
	// MaskedLabel is the pseudo-label of occluded images.
	MaskedLabel float64 `yaml:"masked_label" validate:"gte=0,lte=1"`
	KeptLabel   float64 `yaml:"kept_label" validate:"gte=0,lte=1"`
}

// Normalize holds per-channel pixel statistics.
type Normalize struct {
	Mean []float64 `yaml:"mean"`
	Std  []float64 `yaml:"std" validate:"dive,gt=0"`
}

// Config captures the runtime knobs for a training or evaluation run.
type Config struct {
	TrainRoot     string   `yaml:"train_root"`
	TrainShards   string   `yaml:"train_shards"`
	TestRoot      string   `yaml:"test_root"`
	InlierClasses []string `yaml:"inlier_classes"`
	OutputDir     string   `yaml:"output_dir" validate:"required"`

	ImageSize int `yaml:"image_size" validate:"gte=8"`
	Channels  int `yaml:"channels" validate:"oneof=1 3"`
	ZSize     int `yaml:"z_size" validate:"gt=0"`
	BaseWidth int `yaml:"base_width" validate:"gt=0"`
	HeadWidth int `yaml:"head_width" validate:"gt=0"`

	Epochs        int     `yaml:"epochs" validate:"gt=0"`
	BatchSize     int     `yaml:"batch_size" validate:"gt=0"`
	TestBatchSize int     `yaml:"test_batch_size" validate:"gt=0"`
	LearningRate  float64 `yaml:"lr" validate:"gt=0"`
	Beta1         float64 `yaml:"beta1" validate:"gte=0,lt=1"`
	Beta2         float64 `yaml:"beta2" validate:"gte=0,lt=1"`
	Lambda        float64 `yaml:"lambda" validate:"gte=0"`

	Cutout    Cutout    `yaml:"cutout"`
	Normalize Normalize `yaml:"normalize"`

	NumWorkers    int   `yaml:"num_workers" validate:"gt=0"`
	Seed          int64 `yaml:"seed"`
	SnapshotEvery int   `yaml:"snapshot_every" validate:"gt=0"`
	// EvalEpoch selects the checkpoint the evaluate command loads.
	EvalEpoch int `yaml:"eval_epoch" validate:"gte=0"`

	Logger logger.Settings `yaml:"logger"`
}

// Default returns the settings used for keys a file leaves out.
func Default() *Config {
	return &Config{
		OutputDir:     "runs",
		ImageSize:     64,
		Channels:      3,
		ZSize:         100,
		BaseWidth:     64,
		HeadWidth:     128,
		Epochs:        25,
		BatchSize:     256,
		TestBatchSize: 32,
		LearningRate:  0.001,
		Beta1:         0.5,
		Beta2:         0.9,
		Lambda:        0.1,
		Cutout: Cutout{
			Enabled:     true,
			Holes:       1,
			Length:      16,
			Probability: 0.5,
			MaskedLabel: 1,
			KeptLabel:   1,
		},
		NumWorkers:    4,
		Seed:          1,
		SnapshotEvery: 80,
		Logger:        logger.DefaultSettings(),
	}
}

// Overrides captures CLI supplied values.
type Overrides struct {
	TrainRoot   string
	TrainShards string
	TestRoot    string
	OutputDir   string
	Epochs      int
	BatchSize   int
	NumWorkers  int
	Seed        int64
	EvalEpoch   int
	LogLevel    string
}

// Load reads a Config from YAML on top of Default. Unknown keys are errors.
// The result is not validated; call Validate after ApplyOverrides.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.TrainRoot != "" {
		c.TrainRoot = o.TrainRoot
	}
	if o.TrainShards != "" {
		c.TrainShards = o.TrainShards
	}
	if o.TestRoot != "" {
		c.TestRoot = o.TestRoot
	}
	if o.OutputDir != "" {
		c.OutputDir = o.OutputDir
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.EvalEpoch > 0 {
		c.EvalEpoch = o.EvalEpoch
	}
	if o.LogLevel != "" {
		c.Logger.Level = o.LogLevel
	}
}

// Validate verifies the config is runnable for training.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validation failed for config: %w", err)
	}
	if c.TrainRoot == "" && c.TrainShards == "" {
		return ErrNoTrainingData
	}
	if c.ImageSize&(c.ImageSize-1) != 0 {
		return fmt.Errorf("image_size must be a power of two (got %d)", c.ImageSize)
	}
	if n := len(c.Normalize.Mean); n != len(c.Normalize.Std) || (n != 0 && n != c.Channels) {
		return fmt.Errorf("normalize needs %d mean and std values (got %d and %d)",
			c.Channels, len(c.Normalize.Mean), len(c.Normalize.Std))
	}
	if c.Cutout.Enabled && (c.Cutout.Holes == 0 || c.Cutout.Length == 0) {
		return fmt.Errorf("cutout needs holes and length > 0 (got %d and %d)", c.Cutout.Holes, c.Cutout.Length)
	}
	return c.Logger.Validate()
}

// ValidateEval verifies the settings the evaluate command needs.
func (c *Config) ValidateEval() error {
	if c.TestRoot == "" {
		return errors.New("test_root must be set")
	}
	if len(c.InlierClasses) == 0 {
		return errors.New("inlier_classes must name at least one class")
	}
	return nil
}
