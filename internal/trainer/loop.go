// Package trainer runs the alternating optimisation of the calibrated
// adversarial autoencoder.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"path/filepath"
	"time"

	"outlier-aae/internal/augment"
	"outlier-aae/internal/checkpoint"
	"outlier-aae/internal/dataset"
	"outlier-aae/internal/metrics"
	"outlier-aae/internal/model"
	"outlier-aae/internal/optim"
)

// errEpochDone signals that the sampler ran out before a full batch.
var errEpochDone = errors.New("trainer: epoch exhausted")

// Resume points at the checkpoint a run continues from.
type Resume struct {
	Dir   string
	Epoch int
}

// RunConfig captures the knobs required by the training loop.
type RunConfig struct {
	Entries []dataset.Entry
	Shards  []string
	Decoder dataset.Decoder

	Model  model.Config
	Adam   optim.AdamConfig
	Lambda float64
	// Cutout is skipped when nil.
	Cutout *augment.Cutout

	Epochs        int
	BatchSize     int
	NumWorkers    int
	SnapshotEvery int
	Seed          int64

	// OutputDir receives model/ checkpoints and images/ snapshots.
	OutputDir string
	Resume    *Resume
	Logger    *slog.Logger
}

// Run trains all networks and checkpoints them after every epoch.
func Run(ctx context.Context, cfg RunConfig) (*model.Networks, error) {
	if cfg.Epochs <= 0 {
		return nil, errors.New("trainer: epochs must be > 0")
	}
	if cfg.BatchSize <= 0 {
		return nil, errors.New("trainer: batch size must be > 0")
	}
	if cfg.SnapshotEvery <= 0 {
		cfg.SnapshotEvery = 80
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	nets, err := model.New(cfg.Model, cfg.Seed)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	stepper := &Stepper{
		Nets:   nets,
		Opts:   NewOptimizers(nets, cfg.Adam),
		Lambda: cfg.Lambda,
		ZSize:  cfg.Model.ZSize,
		RNG:    rng,
		Gate:   BernoulliGate(rng),
	}

	first := 1
	if cfg.Resume != nil {
		if err := restore(cfg.Resume, stepper); err != nil {
			return nil, fmt.Errorf("resume: %w", err)
		}
		first = cfg.Resume.Epoch + 1
		cfg.Logger.Info("resumed", "dir", cfg.Resume.Dir, "epoch", cfg.Resume.Epoch)
	}

	modelDir := filepath.Join(cfg.OutputDir, "model")
	for epoch := first; epoch <= cfg.Epochs; epoch++ {
		start := time.Now()
		iters, err := runEpoch(ctx, cfg, stepper, epoch)
		if err != nil {
			return nil, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		if err := save(modelDir, epoch, stepper); err != nil {
			return nil, err
		}
		cfg.Logger.Info("epoch done",
			"epoch", epoch,
			"iters", iters,
			"seconds", time.Since(start).Seconds(),
			"checkpoint", modelDir,
		)
	}
	return nets, nil
}

func runEpoch(ctx context.Context, cfg RunConfig, s *Stepper, epoch int) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	examples, samplerErr, err := dataset.StartSampler(ctx, dataset.SamplerOptions{
		Entries:    cfg.Entries,
		Shards:     cfg.Shards,
		Decoder:    cfg.Decoder,
		Seed:       cfg.Seed,
		Epoch:      epoch,
		Shuffle:    true,
		NumWorkers: cfg.NumWorkers,
	})
	if err != nil {
		return 0, err
	}

	var window metrics.Window
	epochStart := time.Now()
	iters := 0
	for ; ; iters++ {
		startData := time.Now()
		items, err := nextBatch(ctx, examples, samplerErr, cfg.BatchSize)
		if errors.Is(err, errEpochDone) {
			break
		}
		if err != nil {
			return iters, err
		}
		batch, err := makeBatch(items, cfg, s.RNG)
		if err != nil {
			return iters, err
		}
		dataTime := time.Since(startData)

		startCompute := time.Now()
		losses, err := s.Step(batch)
		if err != nil {
			return iters, err
		}
		computeTime := time.Since(startCompute)
		window.Record(batch.Size(), dataTime, computeTime, losses)

		if iters%cfg.SnapshotEvery == 0 {
			snap := window.Snapshot()
			cfg.Logger.Info("train",
				"epoch", epoch,
				"iter", iters,
				"ptime", time.Since(epochStart).Seconds(),
				"images_per_sec", snap.ImagesPerSec,
				"g_loss", snap.Last.G,
				"d_loss", snap.Last.D,
				"zd_loss", snap.Last.ZD,
				"ge_loss", snap.Last.Recon,
				"e_loss", snap.Last.E,
				"mean_g_loss", snap.Mean.G,
				"mean_d_loss", snap.Mean.D,
				"mean_zd_loss", snap.Mean.ZD,
				"mean_ge_loss", snap.Mean.Recon,
				"mean_e_loss", snap.Mean.E,
				"pseudo_label", batch.MeanLabel(),
			)
			path := snapshotPath(cfg.OutputDir, epoch, iters)
			if err := writeSnapshot(path, batch.Images, s.LastReconstruction(), cfg.Decoder.Normalize); err != nil {
				cfg.Logger.Warn("snapshot failed", "path", path, "error", err)
			}
		}
	}
	if iters == 0 {
		return 0, fmt.Errorf("dataset holds fewer than %d images", cfg.BatchSize)
	}
	return iters, nil
}

// makeBatch stacks examples and applies cutout. Without cutout every image
// keeps the authentic pseudo-label 1.
func makeBatch(items []dataset.Example, cfg RunConfig, rng *rand.Rand) (model.Batch, error) {
	images, classes, err := dataset.Stack(items, cfg.Decoder.Channels, cfg.Decoder.Size)
	if err != nil {
		return model.Batch{}, err
	}
	batch := model.Batch{Images: images, Classes: classes}
	if cfg.Cutout != nil {
		batch.Labels = cfg.Cutout.Apply(rng, images)
	} else {
		batch.Labels = constant(len(items), 1)
	}
	return batch, nil
}

// nextBatch collects exactly batchSize examples; a trailing partial batch
// is dropped with errEpochDone.
func nextBatch(ctx context.Context, examples <-chan dataset.Example, errs <-chan error, batchSize int) ([]dataset.Example, error) {
	batch := make([]dataset.Example, 0, batchSize)
	for len(batch) < batchSize {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return nil, err
			}
		case ex, ok := <-examples:
			if !ok {
				if errs != nil {
					if err := <-errs; err != nil {
						return nil, err
					}
				}
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				return nil, errEpochDone
			}
			batch = append(batch, ex)
		}
	}
	return batch, nil
}

func save(dir string, epoch int, s *Stepper) error {
	if err := checkpoint.SaveNetworks(dir, epoch, s.Nets); err != nil {
		return err
	}
	for _, opt := range s.Opts.All() {
		if err := checkpoint.Save(checkpoint.OptimizerPath(dir, opt.Name, epoch), checkpoint.FromOptimizer(epoch, opt)); err != nil {
			return err
		}
	}
	return nil
}

func restore(r *Resume, s *Stepper) error {
	if err := checkpoint.LoadNetworks(r.Dir, r.Epoch, s.Nets); err != nil {
		return err
	}
	for _, opt := range s.Opts.All() {
		b, err := checkpoint.Load(checkpoint.OptimizerPath(r.Dir, opt.Name, r.Epoch))
		if err != nil {
			return err
		}
		if err := b.RestoreOptimizer(opt); err != nil {
			return fmt.Errorf("optimizer %s: %w", opt.Name, err)
		}
	}
	return nil
}
