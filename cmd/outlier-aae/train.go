package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"outlier-aae/internal/augment"
	"outlier-aae/internal/config"
	"outlier-aae/internal/dataset"
	"outlier-aae/internal/logger"
	"outlier-aae/internal/model"
	"outlier-aae/internal/optim"
	"outlier-aae/internal/trainer"
)

func newTrainCmd() *cobra.Command {
	var (
		o           config.Overrides
		resumeDir   string
		resumeEpoch int
	)
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train all networks and checkpoint them every epoch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, o)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			log, err := logger.New(cfg.Logger)
			if err != nil {
				return err
			}
			runID := uuid.NewString()
			runDir := filepath.Join(cfg.OutputDir, runID)
			log = log.With("run_id", runID)

			runCfg, err := buildRunConfig(cfg, runDir, log)
			if err != nil {
				return err
			}
			if resumeDir != "" {
				runCfg.Resume = &trainer.Resume{Dir: filepath.Join(resumeDir, "model"), Epoch: resumeEpoch}
			}
			log.Info("training",
				"images", len(runCfg.Entries),
				"shards", len(runCfg.Shards),
				"epochs", cfg.Epochs,
				"batch_size", cfg.BatchSize,
				"output", runDir,
			)

			nets, err := trainer.Run(cmd.Context(), runCfg)
			if err != nil {
				return fmt.Errorf("training failed: %w", err)
			}
			if err := cfg.ValidateEval(); err != nil {
				log.Info("skipping evaluation", "reason", err)
				return nil
			}
			report, err := evaluateNetworks(cmd.Context(), cfg, nets)
			if err != nil {
				return err
			}
			logReport(log, cfg.Epochs, report)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.TrainRoot, "train-root", "", "Override the training image folder")
	f.StringVar(&o.TrainShards, "train-shards", "", "Override the training shard directory")
	f.StringVar(&o.TestRoot, "test-root", "", "Override the held-out image folder")
	f.StringVar(&o.OutputDir, "output-dir", "", "Override the output directory")
	f.IntVar(&o.Epochs, "epochs", 0, "Number of training epochs")
	f.IntVar(&o.BatchSize, "batch-size", 0, "Batch size")
	f.IntVar(&o.NumWorkers, "num-workers", 0, "Number of data loader workers")
	f.Int64Var(&o.Seed, "seed", 0, "PRNG seed")
	f.StringVar(&o.LogLevel, "log-level", "", "Override the log level")
	f.StringVar(&resumeDir, "resume-dir", "", "Run directory to resume from")
	f.IntVar(&resumeEpoch, "resume-epoch", 0, "Epoch checkpoint to resume from")
	cmd.MarkFlagsRequiredTogether("resume-dir", "resume-epoch")
	return cmd
}

func loadConfig(cmd *cobra.Command, o config.Overrides) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyOverrides(o)
	return cfg, nil
}

func decoderFor(cfg *config.Config) dataset.Decoder {
	norm := dataset.Normalize{Mean: cfg.Normalize.Mean, Std: cfg.Normalize.Std}
	if len(norm.Mean) == 0 {
		norm = dataset.HalfNormalize(cfg.Channels)
	}
	return dataset.Decoder{Size: cfg.ImageSize, Channels: cfg.Channels, Normalize: norm}
}

func modelConfig(cfg *config.Config) model.Config {
	return model.Config{
		ImageSize: cfg.ImageSize,
		Channels:  cfg.Channels,
		ZSize:     cfg.ZSize,
		BaseWidth: cfg.BaseWidth,
		HeadWidth: cfg.HeadWidth,
	}
}

func buildRunConfig(cfg *config.Config, runDir string, log *slog.Logger) (trainer.RunConfig, error) {
	runCfg := trainer.RunConfig{
		Decoder: decoderFor(cfg),
		Model:   modelConfig(cfg),
		Adam: optim.AdamConfig{
			LearningRate: cfg.LearningRate,
			Beta1:        cfg.Beta1,
			Beta2:        cfg.Beta2,
			Epsilon:      optim.DefaultAdamConfig().Epsilon,
		},
		Lambda:        cfg.Lambda,
		Epochs:        cfg.Epochs,
		BatchSize:     cfg.BatchSize,
		NumWorkers:    cfg.NumWorkers,
		SnapshotEvery: cfg.SnapshotEvery,
		Seed:          cfg.Seed,
		OutputDir:     runDir,
		Logger:        log,
	}
	if cfg.Cutout.Enabled {
		runCfg.Cutout = &augment.Cutout{
			Holes:       cfg.Cutout.Holes,
			Length:      cfg.Cutout.Length,
			Probability: cfg.Cutout.Probability,
			MaskedLabel: cfg.Cutout.MaskedLabel,
			KeptLabel:   cfg.Cutout.KeptLabel,
		}
	}
	if cfg.TrainRoot != "" {
		folder, err := dataset.OpenFolder(cfg.TrainRoot)
		if err != nil {
			return runCfg, err
		}
		runCfg.Entries = folder.Entries
		log.Info("train folder", "root", cfg.TrainRoot, "classes", len(folder.Classes), "images", len(folder.Entries))
	}
	if cfg.TrainShards != "" {
		shards, err := dataset.DiscoverShards(cfg.TrainShards)
		if err != nil {
			return runCfg, fmt.Errorf("discover shards under %s: %w", cfg.TrainShards, err)
		}
		if len(shards) == 0 {
			return runCfg, fmt.Errorf("no shards discovered under %s", cfg.TrainShards)
		}
		runCfg.Shards = shards
		log.Info("train shards", "root", cfg.TrainShards, "shards", len(shards))
	}
	return runCfg, nil
}
