// Command outlier-aae trains the calibrated adversarial autoencoder on an
// image folder and evaluates it as an inlier/outlier detector.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:   "outlier-aae",
		Short: "Calibrated adversarial autoencoder for image outlier detection",
		Long: `outlier-aae trains an encoder, generator, image discriminator, latent
discriminator and P/C calibration heads on a folder of images, then scores a
held-out folder and reports AUROC, AUPRC and TPR/FPR for inliers and outliers.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "configs/demo.yaml", "Path to YAML config")
	rootCmd.AddCommand(newTrainCmd(), newEvaluateCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		return fmt.Errorf("command execution failed: %w", err)
	}
	return nil
}
