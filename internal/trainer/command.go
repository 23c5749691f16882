// Package trainer provides trial runners backed by external training
// programs. The executor stays agnostic of how a model is actually
// trained; this package bridges to a CLI trainer over files, flags and
// a JSON report on stdout.
package trainer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/luwei0711/ludwig/internal/domain"
	"github.com/luwei0711/ludwig/internal/trial"
)

// Command runs each trial by invoking an external training program.
// The modified model definition is written as YAML into a scratch
// directory, trial settings become command-line flags, and the program
// must print a trial report as the last JSON line on stdout.
type Command struct {
	program string
	args    []string
	logger  *zap.Logger
}

func NewCommand(program string, args []string, logger *zap.Logger) (*Command, error) {
	if program == "" {
		return nil, errors.New("command trainer requires a program")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Command{
		program: program,
		args:    args,
		logger:  logger.Named("trainer"),
	}, nil
}

func (c *Command) Run(ctx context.Context, def domain.Definition, settings trial.Settings) (domain.TrainStats, domain.EvalStats, error) {
	dir, err := os.MkdirTemp("", "trial-*")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trial scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	defPath := filepath.Join(dir, "model_definition.yaml")
	data, err := yaml.Marshal(def)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to serialize model definition: %w", err)
	}
	if err := os.WriteFile(defPath, data, 0o644); err != nil {
		return nil, nil, fmt.Errorf("failed to write model definition: %w", err)
	}

	flags, err := trialFlags(defPath, settings)
	if err != nil {
		return nil, nil, err
	}

	cmd := exec.CommandContext(ctx, c.program, append(append([]string{}, c.args...), flags...)...)
	cmd.Env = append(os.Environ(), trialEnv(settings)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.logger.Info("starting trial process",
		zap.String("program", c.program),
		zap.String("experiment", settings.ExperimentName))

	if err := cmd.Run(); err != nil {
		return nil, nil, fmt.Errorf("trial process failed: %w (stderr tail: %s)", err, tail(stderr.String(), 512))
	}

	report, err := trial.ParseReport(stdout.Bytes())
	if err != nil {
		return nil, nil, err
	}
	return report.TrainStats, report.EvalStats, nil
}

// trialFlags renders per-trial settings as CLI flags. Datasets must be
// file paths: in-memory datasets cannot cross the process boundary.
func trialFlags(defPath string, settings trial.Settings) ([]string, error) {
	flags := []string{"--model_definition_file", defPath}

	appendStr := func(flag, value string) {
		if value != "" {
			flags = append(flags, flag, value)
		}
	}
	appendStr("--experiment_name", settings.ExperimentName)
	appendStr("--model_name", settings.ModelName)
	appendStr("--output_directory", settings.OutputDirectory)
	appendStr("--eval_split", string(settings.EvalSplit))
	appendStr("--data_format", settings.DataFormat)

	// Fixed order so the rendered command line is reproducible.
	datasets := []struct {
		flag  string
		value any
	}{
		{"--dataset", settings.Dataset},
		{"--training_set", settings.TrainingSet},
		{"--validation_set", settings.ValidationSet},
		{"--test_set", settings.TestSet},
	}
	for _, d := range datasets {
		if d.value == nil {
			continue
		}
		path, ok := d.value.(string)
		if !ok {
			return nil, fmt.Errorf("command trainer needs a file path for %s, got %T", d.flag, d.value)
		}
		appendStr(d.flag, path)
	}

	skips := []struct {
		flag string
		set  bool
	}{
		{"--skip_save_training_description", settings.SkipSaveTrainingDescription},
		{"--skip_save_training_statistics", settings.SkipSaveTrainingStatistics},
		{"--skip_save_model", settings.SkipSaveModel},
		{"--skip_save_progress", settings.SkipSaveProgress},
		{"--skip_save_log", settings.SkipSaveLog},
		{"--skip_save_processed_input", settings.SkipSaveProcessedInput},
		{"--skip_save_unprocessed_output", settings.SkipSaveUnprocessedOutput},
		{"--skip_save_predictions", settings.SkipSavePredictions},
		{"--skip_save_eval_stats", settings.SkipSaveEvalStats},
	}
	for _, s := range skips {
		if s.set {
			flags = append(flags, s.flag)
		}
	}

	if settings.GPUMemoryLimit > 0 {
		flags = append(flags, "--gpu_memory_limit", strconv.FormatFloat(settings.GPUMemoryLimit, 'f', -1, 64))
	}
	if settings.DisableParallelThreads {
		flags = append(flags, "--disable_parallel_threads")
	}
	if settings.RandomSeed != 0 {
		flags = append(flags, "--random_seed", strconv.FormatInt(settings.RandomSeed, 10))
	}
	return flags, nil
}

// trialEnv pins the trial process to its assigned devices.
func trialEnv(settings trial.Settings) []string {
	if settings.GPUs == "" {
		return nil
	}
	return []string{"CUDA_VISIBLE_DEVICES=" + settings.GPUs}
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

var _ trial.Runner = (*Command)(nil)
