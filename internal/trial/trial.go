// Package trial defines the single-trial unit of work: train a model on
// a modified definition, evaluate it on a chosen split, and hand back
// the statistics the executor reduces to a metric score.
package trial

import (
	"context"

	"github.com/luwei0711/ludwig/internal/domain"
)

// Split selects which preprocessed subset a trial is evaluated on.
type Split string

const (
	TrainingSplit   Split = "training"
	ValidationSplit Split = "validation"
	TestSplit       Split = "test"
)

// Settings carries every per-trial option by value. Executors copy it,
// fill in the per-trial fields (experiment name, GPU assignment) and
// pass it on; skip-save flags are threaded through to the model
// unchanged.
type Settings struct {
	ExperimentName  string
	ModelName       string
	OutputDirectory string
	EvalSplit       Split

	Dataset             any
	TrainingSet         any
	ValidationSet       any
	TestSet             any
	TrainingSetMetadata any
	DataFormat          string

	SkipSaveTrainingDescription bool
	SkipSaveTrainingStatistics  bool
	SkipSaveModel               bool
	SkipSaveProgress            bool
	SkipSaveLog                 bool
	SkipSaveProcessedInput      bool
	SkipSaveUnprocessedOutput   bool
	SkipSavePredictions         bool
	SkipSaveEvalStats           bool

	// GPUs is a comma-separated device id list for this trial. For
	// slot-gated trials the executor overwrites it with the borrowed
	// slot's device.
	GPUs string
	// GPUMemoryLimit is the per-trial memory limit in MiB, 0 = unlimited.
	GPUMemoryLimit float64
	// DisableParallelThreads opts out of multithreaded training; the
	// zero value leaves threading enabled.
	DisableParallelThreads bool
	RandomSeed             int64
}

// Report is the serialized outcome of one trial, produced by external
// trial runners (command trainer, container workers).
type Report struct {
	TrainStats domain.TrainStats `json:"train_stats"`
	EvalStats  domain.EvalStats  `json:"eval_stats"`
}

// ModelOptions are the device/seed/threading options a model is
// constructed with.
type ModelOptions struct {
	GPUs                   string
	GPUMemoryLimit         float64
	DisableParallelThreads bool
	RandomSeed             int64
}

// Splits bundles the preprocessed subsets produced by training.
type Splits struct {
	Training   any
	Validation any
	Test       any
	Metadata   any
}

// TrainRequest carries the training inputs and persistence toggles.
type TrainRequest struct {
	Dataset             any
	TrainingSet         any
	ValidationSet       any
	TestSet             any
	TrainingSetMetadata any
	DataFormat          string

	ExperimentName  string
	ModelName       string
	OutputDirectory string

	SkipSaveTrainingDescription bool
	SkipSaveTrainingStatistics  bool
	SkipSaveModel               bool
	SkipSaveProgress            bool
	SkipSaveLog                 bool
	SkipSaveProcessedInput      bool

	RandomSeed int64
}

// EvalRequest carries the evaluation inputs and persistence toggles.
type EvalRequest struct {
	Dataset         any
	DataFormat      string
	BatchSize       int
	OutputDirectory string

	SkipSaveUnprocessedOutput bool
	SkipSavePredictions       bool
	SkipSaveEvalStats         bool
}

// Model is one trained or trainable model instance.
type Model interface {
	Train(ctx context.Context, req TrainRequest) (domain.TrainStats, Splits, error)
	Evaluate(ctx context.Context, req EvalRequest) (domain.EvalStats, error)
}

// Trainer constructs a model from a definition plus device options.
// It is the external model-training collaborator; this package never
// looks inside the model.
type Trainer interface {
	NewModel(def domain.Definition, opts ModelOptions) (Model, error)
}

// Runner executes one trial end to end. A trial is all-or-nothing: any
// error propagates and no partial result is synthesized.
type Runner interface {
	Run(ctx context.Context, def domain.Definition, settings Settings) (domain.TrainStats, domain.EvalStats, error)
}
