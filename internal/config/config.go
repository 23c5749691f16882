// Package config loads the model definition file. Hyperopt settings
// live inside the definition under the "hyperopt" key and are stripped
// out before the definition is handed to trials.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/luwei0711/ludwig/internal/domain"
	"github.com/luwei0711/ludwig/internal/trial"
)

// Hyperopt is the search configuration carved out of a model
// definition file.
type Hyperopt struct {
	Goal          domain.Goal      `yaml:"goal"`
	OutputFeature string           `yaml:"output_feature"`
	Metric        string           `yaml:"metric"`
	Split         trial.Split      `yaml:"split"`
	Parameters    map[string][]any `yaml:"parameters"`
	Sampler       Sampler          `yaml:"sampler"`
	Executor      Executor         `yaml:"executor"`
	Run           Run              `yaml:"run"`
}

type Sampler struct {
	Type      string `yaml:"type"`
	BatchSize int    `yaml:"batch_size"`
}

type Executor struct {
	Type           string  `yaml:"type"`
	NumWorkers     int     `yaml:"num_workers"`
	Epsilon        float64 `yaml:"epsilon"`
	GPUs           string  `yaml:"gpus"`
	GPUMemoryLimit float64 `yaml:"gpu_memory_limit"`
	Backend        string  `yaml:"backend"`
	Image          string  `yaml:"image"`
	CPUsPerWorker  int     `yaml:"cpus_per_worker"`
	GPUsPerWorker  int     `yaml:"gpus_per_worker"`
}

// Run carries the trial settings shared by every trial of the sweep.
type Run struct {
	ExperimentName  string `yaml:"experiment_name"`
	ModelName       string `yaml:"model_name"`
	OutputDirectory string `yaml:"output_directory"`
	Dataset         string `yaml:"dataset"`
	DataFormat      string `yaml:"data_format"`
	RandomSeed      int64  `yaml:"random_seed"`

	// AllowParallelThreads defaults to true when absent; only an
	// explicit `false` disables multithreaded training.
	AllowParallelThreads *bool `yaml:"allow_parallel_threads"`

	SkipSaveModel          bool `yaml:"skip_save_model"`
	SkipSaveProgress       bool `yaml:"skip_save_progress"`
	SkipSaveLog            bool `yaml:"skip_save_log"`
	SkipSaveProcessedInput bool `yaml:"skip_save_processed_input"`
	SkipSavePredictions    bool `yaml:"skip_save_predictions"`
}

// Load reads a model definition file and splits it into the plain
// definition and the hyperopt search configuration.
func Load(path string) (domain.Definition, Hyperopt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Hyperopt{}, fmt.Errorf("failed to read definition file: %w", err)
	}
	return Parse(data)
}

// Parse splits raw definition YAML into the definition and its
// hyperopt section.
func Parse(data []byte) (domain.Definition, Hyperopt, error) {
	var def domain.Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, Hyperopt{}, fmt.Errorf("failed to parse definition file: %w", err)
	}

	raw, ok := def["hyperopt"]
	if !ok {
		return nil, Hyperopt{}, fmt.Errorf("definition has no hyperopt section")
	}
	delete(def, "hyperopt")

	// Round-trip the carved-out section through YAML to apply the
	// typed field mapping.
	section, err := yaml.Marshal(raw)
	if err != nil {
		return nil, Hyperopt{}, fmt.Errorf("failed to reread hyperopt section: %w", err)
	}
	var h Hyperopt
	if err := yaml.Unmarshal(section, &h); err != nil {
		return nil, Hyperopt{}, fmt.Errorf("failed to parse hyperopt section: %w", err)
	}

	applyDefaults(&h)
	if err := validate(h); err != nil {
		return nil, Hyperopt{}, err
	}
	return def, h, nil
}

func applyDefaults(h *Hyperopt) {
	if h.Goal == "" {
		h.Goal = domain.Maximize
	}
	if h.Split == "" {
		h.Split = trial.ValidationSplit
	}
	if h.Sampler.Type == "" {
		h.Sampler.Type = "grid"
	}
	if h.Sampler.BatchSize <= 0 {
		h.Sampler.BatchSize = 1
	}
	if h.Executor.Type == "" {
		h.Executor.Type = "serial"
	}
	if h.Run.ExperimentName == "" {
		h.Run.ExperimentName = "hyperopt"
	}
}

func validate(h Hyperopt) error {
	if h.Goal != domain.Maximize && h.Goal != domain.Minimize {
		return fmt.Errorf("hyperopt: invalid goal %q", h.Goal)
	}
	if h.OutputFeature == "" {
		return fmt.Errorf("hyperopt: output_feature is required")
	}
	if h.Metric == "" {
		return fmt.Errorf("hyperopt: metric is required")
	}
	if len(h.Parameters) == 0 {
		return fmt.Errorf("hyperopt: parameters section is empty")
	}
	return nil
}

// Settings renders the run section as the base trial settings.
func (h Hyperopt) Settings() trial.Settings {
	settings := trial.Settings{
		ExperimentName:  h.Run.ExperimentName,
		ModelName:       h.Run.ModelName,
		OutputDirectory: h.Run.OutputDirectory,
		EvalSplit:       h.Split,
		DataFormat:      h.Run.DataFormat,
		RandomSeed:      h.Run.RandomSeed,

		SkipSaveModel:          h.Run.SkipSaveModel,
		SkipSaveProgress:       h.Run.SkipSaveProgress,
		SkipSaveLog:            h.Run.SkipSaveLog,
		SkipSaveProcessedInput: h.Run.SkipSaveProcessedInput,
		SkipSavePredictions:    h.Run.SkipSavePredictions,
	}
	if h.Run.AllowParallelThreads != nil && !*h.Run.AllowParallelThreads {
		settings.DisableParallelThreads = true
	}
	if h.Run.Dataset != "" {
		settings.Dataset = h.Run.Dataset
	}
	return settings
}
