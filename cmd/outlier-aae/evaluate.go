package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"outlier-aae/internal/checkpoint"
	"outlier-aae/internal/config"
	"outlier-aae/internal/dataset"
	"outlier-aae/internal/evaluate"
	"outlier-aae/internal/logger"
	"outlier-aae/internal/model"
)

func newEvaluateCmd() *cobra.Command {
	var (
		o      config.Overrides
		runDir string
	)
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score the held-out folder with a trained checkpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, o)
			if err != nil {
				return err
			}
			if err := cfg.ValidateEval(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			log, err := logger.New(cfg.Logger)
			if err != nil {
				return err
			}
			epoch := cfg.EvalEpoch
			if epoch == 0 {
				epoch = cfg.Epochs
			}

			nets, err := model.New(modelConfig(cfg), cfg.Seed)
			if err != nil {
				return err
			}
			if err := checkpoint.LoadNetworks(filepath.Join(runDir, "model"), epoch, nets); err != nil {
				return fmt.Errorf("load checkpoint: %w", err)
			}
			report, err := evaluateNetworks(cmd.Context(), cfg, nets)
			if err != nil {
				return err
			}
			logReport(log, epoch, report)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&runDir, "run-dir", "", "Run directory holding model/ checkpoints")
	f.StringVar(&o.TestRoot, "test-root", "", "Override the held-out image folder")
	f.IntVar(&o.EvalEpoch, "epoch", 0, "Checkpoint epoch to load (default: epochs)")
	f.IntVar(&o.NumWorkers, "num-workers", 0, "Number of data loader workers")
	f.StringVar(&o.LogLevel, "log-level", "", "Override the log level")
	_ = cmd.MarkFlagRequired("run-dir")
	return cmd
}

func evaluateNetworks(ctx context.Context, cfg *config.Config, nets *model.Networks) (evaluate.Report, error) {
	folder, err := dataset.OpenFolder(cfg.TestRoot)
	if err != nil {
		return evaluate.Report{}, err
	}
	for _, name := range cfg.InlierClasses {
		if _, ok := folder.ClassIndex(name); !ok {
			return evaluate.Report{}, fmt.Errorf("inlier class %q not found in %s", name, cfg.TestRoot)
		}
	}
	scored, err := evaluate.Score(ctx, nets, evaluate.ScoreOptions{
		Folder:     folder,
		Decoder:    decoderFor(cfg),
		BatchSize:  cfg.TestBatchSize,
		NumWorkers: cfg.NumWorkers,
	})
	if err != nil {
		return evaluate.Report{}, fmt.Errorf("score %s: %w", cfg.TestRoot, err)
	}
	labels := evaluate.InlierLabels(folder.Classes, scored.Classes, cfg.InlierClasses)
	report, err := evaluate.Calculate(scored.Probs, labels)
	if err != nil {
		return evaluate.Report{}, err
	}
	return report, nil
}

func logReport(log *slog.Logger, epoch int, r evaluate.Report) {
	log.Info("evaluation",
		"epoch", epoch,
		"auroc", r.AUROC,
		"auprc_in", r.AUPRCIn,
		"auprc_out", r.AUPRCOut,
		"tpr_in", r.TPRIn,
		"fpr_in", r.FPRIn,
		"tpr_out", r.TPROut,
		"fpr_out", r.FPROut,
	)
}
