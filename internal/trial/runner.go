package trial

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/luwei0711/ludwig/internal/domain"
)

// LocalRunner runs trials in-process against a Trainer.
type LocalRunner struct {
	trainer Trainer
	logger  *zap.Logger
}

func NewLocalRunner(trainer Trainer, logger *zap.Logger) *LocalRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalRunner{trainer: trainer, logger: logger.Named("trial")}
}

// Run trains a model on the definition, then evaluates it on the split
// selected by the settings (validation by default). The evaluation batch
// size falls back from training.eval_batch_size to training.batch_size.
func (r *LocalRunner) Run(ctx context.Context, def domain.Definition, settings Settings) (domain.TrainStats, domain.EvalStats, error) {
	model, err := r.trainer.NewModel(def, ModelOptions{
		GPUs:                   settings.GPUs,
		GPUMemoryLimit:         settings.GPUMemoryLimit,
		DisableParallelThreads: settings.DisableParallelThreads,
		RandomSeed:             settings.RandomSeed,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("building model: %w", err)
	}

	r.logger.Debug("training model",
		zap.String("experiment_name", settings.ExperimentName),
		zap.String("gpus", settings.GPUs))

	trainStats, splits, err := model.Train(ctx, TrainRequest{
		Dataset:                     settings.Dataset,
		TrainingSet:                 settings.TrainingSet,
		ValidationSet:               settings.ValidationSet,
		TestSet:                     settings.TestSet,
		TrainingSetMetadata:         settings.TrainingSetMetadata,
		DataFormat:                  settings.DataFormat,
		ExperimentName:              settings.ExperimentName,
		ModelName:                   settings.ModelName,
		OutputDirectory:             settings.OutputDirectory,
		SkipSaveTrainingDescription: settings.SkipSaveTrainingDescription,
		SkipSaveTrainingStatistics:  settings.SkipSaveTrainingStatistics,
		SkipSaveModel:               settings.SkipSaveModel,
		SkipSaveProgress:            settings.SkipSaveProgress,
		SkipSaveLog:                 settings.SkipSaveLog,
		SkipSaveProcessedInput:      settings.SkipSaveProcessedInput,
		RandomSeed:                  settings.RandomSeed,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("training: %w", err)
	}

	batchSize, err := evalBatchSize(def)
	if err != nil {
		return nil, nil, err
	}

	evalSet := splits.Validation
	switch settings.EvalSplit {
	case TrainingSplit:
		evalSet = splits.Training
	case ValidationSplit, "":
		evalSet = splits.Validation
	case TestSplit:
		evalSet = splits.Test
	default:
		return nil, nil, fmt.Errorf("unknown eval split %q", settings.EvalSplit)
	}

	evalStats, err := model.Evaluate(ctx, EvalRequest{
		Dataset:                   evalSet,
		DataFormat:                settings.DataFormat,
		BatchSize:                 batchSize,
		OutputDirectory:           settings.OutputDirectory,
		SkipSaveUnprocessedOutput: settings.SkipSaveUnprocessedOutput,
		SkipSavePredictions:       settings.SkipSavePredictions,
		SkipSaveEvalStats:         settings.SkipSaveEvalStats,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("evaluating: %w", err)
	}

	return trainStats, evalStats, nil
}

// evalBatchSize resolves the evaluation batch size: training.eval_batch_size
// when positive, training.batch_size otherwise.
func evalBatchSize(def domain.Definition) (int, error) {
	training, ok := def["training"].(map[string]any)
	if !ok {
		return 0, fmt.Errorf("definition has no training section")
	}
	if v, ok := asInt(training["eval_batch_size"]); ok && v > 0 {
		return v, nil
	}
	if v, ok := asInt(training["batch_size"]); ok && v > 0 {
		return v, nil
	}
	return 0, fmt.Errorf("training section has no usable batch_size")
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case float32:
		return int(t), true
	case uint64:
		return int(t), true
	default:
		return 0, false
	}
}

var _ Runner = (*LocalRunner)(nil)
