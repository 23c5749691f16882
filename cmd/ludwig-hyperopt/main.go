package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luwei0711/ludwig/internal/adapters/nvml"
	"github.com/luwei0711/ludwig/internal/cli"
	"github.com/luwei0711/ludwig/internal/config"
	"github.com/luwei0711/ludwig/internal/domain"
	"github.com/luwei0711/ludwig/internal/executor"
	"github.com/luwei0711/ludwig/internal/sampler"
	"github.com/luwei0711/ludwig/internal/trainer"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ludwig-hyperopt",
		Short:         "Hyperparameter optimization over model definitions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var (
		definitionFile string
		trainerProgram string
		trainerArgs    []string
		verbose        bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the hyperopt sweep described by a model definition file",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(verbose)
			if err != nil {
				return err
			}
			defer logger.Sync()

			def, h, err := config.Load(definitionFile)
			if err != nil {
				return err
			}

			grid, err := sampler.NewGrid(h.Parameters, h.Goal, h.Sampler.BatchSize)
			if err != nil {
				return err
			}
			logger.Info("sweep configured",
				zap.String("executor", h.Executor.Type),
				zap.String("metric", h.Metric),
				zap.Int("combinations", grid.Total()))

			runner, err := trainer.NewCommand(trainerProgram, trainerArgs, logger)
			if err != nil {
				return err
			}

			provider := gpuProvider(logger)
			if provider != nil {
				defer provider.Shutdown()
			}

			exec, err := executor.New(h.Executor.Type, executor.Options{
				Sampler:       grid,
				OutputFeature: h.OutputFeature,
				Metric:        h.Metric,
				Split:         h.Split,
				Runner:        runner,
				Logger:        logger,

				NumWorkers:     h.Executor.NumWorkers,
				Epsilon:        h.Executor.Epsilon,
				GPUs:           h.Executor.GPUs,
				GPUMemoryLimit: h.Executor.GPUMemoryLimit,
				GPUProvider:    provider,

				Backend:       h.Executor.Backend,
				BackendImage:  h.Executor.Image,
				CPUsPerWorker: h.Executor.CPUsPerWorker,
				GPUsPerWorker: h.Executor.GPUsPerWorker,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			results, err := exec.Execute(ctx, def, h.Settings())
			if err != nil {
				return err
			}

			cli.PrintResultsTable(h.Metric, results)
			cli.PrintBest(h.Metric, h.Goal, results)
			return nil
		},
	}

	cmd.Flags().StringVarP(&definitionFile, "definition", "f", "model_definition.yaml", "Model definition file with a hyperopt section")
	cmd.Flags().StringVar(&trainerProgram, "trainer", "ludwig", "Training program invoked per trial")
	cmd.Flags().StringSliceVar(&trainerArgs, "trainer-arg", []string{"experiment"}, "Leading arguments for the training program")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	return cmd
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	return cfg.Build()
}

// gpuProvider initializes NVML, falling back to CPU-only execution when
// no NVIDIA driver is around. The caller shuts the provider down after
// the sweep.
func gpuProvider(logger *zap.Logger) domain.GPUProvider {
	provider := nvml.NewNVMLProvider()
	if err := provider.Init(); err != nil {
		logger.Warn("NVML not available, trials run without GPU slots",
			zap.String("reason", strings.TrimSpace(err.Error())))
		return nil
	}
	return provider
}
