package trainer

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/luwei0711/ludwig/internal/domain"
	"github.com/luwei0711/ludwig/internal/trial"
)

// flagValue returns the value following flag, or "" when absent.
func flagValue(flags []string, flag string) string {
	for i, f := range flags {
		if f == flag && i+1 < len(flags) {
			return flags[i+1]
		}
	}
	return ""
}

func TestNewCommand_RequiresProgram(t *testing.T) {
	_, err := NewCommand("", nil, zap.NewNop())

	require.Error(t, err)
}

func TestTrialFlags_RendersSettings(t *testing.T) {
	flags, err := trialFlags("/tmp/def.yaml", trial.Settings{
		ExperimentName:  "hyperopt_3",
		ModelName:       "run",
		OutputDirectory: "/tmp/results",
		EvalSplit:       trial.TestSplit,
		Dataset:         "/data/train.csv",
		DataFormat:      "csv",
		RandomSeed:      42,
		GPUMemoryLimit:  2048,
	})

	require.NoError(t, err)
	assert.Equal(t, "/tmp/def.yaml", flagValue(flags, "--model_definition_file"))
	assert.Equal(t, "hyperopt_3", flagValue(flags, "--experiment_name"))
	assert.Equal(t, "run", flagValue(flags, "--model_name"))
	assert.Equal(t, "/tmp/results", flagValue(flags, "--output_directory"))
	assert.Equal(t, "test", flagValue(flags, "--eval_split"))
	assert.Equal(t, "/data/train.csv", flagValue(flags, "--dataset"))
	assert.Equal(t, "csv", flagValue(flags, "--data_format"))
	assert.Equal(t, "42", flagValue(flags, "--random_seed"))
	assert.Equal(t, "2048", flagValue(flags, "--gpu_memory_limit"))
	// threads stay enabled unless explicitly disabled
	assert.NotContains(t, flags, "--disable_parallel_threads")
}

func TestTrialFlags_ParallelThreadsEnabledByDefault(t *testing.T) {
	flags, err := trialFlags("/tmp/def.yaml", trial.Settings{})
	require.NoError(t, err)
	assert.NotContains(t, flags, "--disable_parallel_threads")

	flags, err = trialFlags("/tmp/def.yaml", trial.Settings{DisableParallelThreads: true})
	require.NoError(t, err)
	assert.Contains(t, flags, "--disable_parallel_threads")
}

func TestTrialFlags_OrderIsDeterministic(t *testing.T) {
	settings := trial.Settings{
		ExperimentName:      "hyperopt_0",
		Dataset:             "/data/all.csv",
		TrainingSet:         "/data/train.csv",
		TestSet:             "/data/test.csv",
		SkipSaveModel:       true,
		SkipSaveLog:         true,
		SkipSaveEvalStats:   true,
		SkipSavePredictions: true,
	}

	flags, err := trialFlags("/tmp/def.yaml", settings)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"--model_definition_file", "/tmp/def.yaml",
		"--experiment_name", "hyperopt_0",
		"--dataset", "/data/all.csv",
		"--training_set", "/data/train.csv",
		"--test_set", "/data/test.csv",
		"--skip_save_model",
		"--skip_save_log",
		"--skip_save_predictions",
		"--skip_save_eval_stats",
	}, flags)

	again, err := trialFlags("/tmp/def.yaml", settings)
	require.NoError(t, err)
	assert.Equal(t, flags, again)
}

func TestTrialFlags_SkipSaveFlagsAreBare(t *testing.T) {
	flags, err := trialFlags("/tmp/def.yaml", trial.Settings{
		SkipSaveModel:       true,
		SkipSavePredictions: true,
	})

	require.NoError(t, err)
	assert.Contains(t, flags, "--skip_save_model")
	assert.Contains(t, flags, "--skip_save_predictions")
	assert.NotContains(t, flags, "--skip_save_progress")
}

func TestTrialFlags_InMemoryDatasetRejected(t *testing.T) {
	_, err := trialFlags("/tmp/def.yaml", trial.Settings{
		Dataset: map[string]any{"rows": 3},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "file path")
}

func TestTrialEnv_PinsAssignedDevices(t *testing.T) {
	assert.Empty(t, trialEnv(trial.Settings{}))
	assert.Equal(t, []string{"CUDA_VISIBLE_DEVICES=1"}, trialEnv(trial.Settings{GPUs: "1"}))
}

func TestCommand_RunParsesReportFromStdout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script trainer")
	}
	script := `echo "loading dataset"
echo '{"train_stats":{"epochs":2},"eval_stats":{"class":{"accuracy":0.75}}}'`
	c, err := NewCommand("/bin/sh", []string{"-c", script, "trainer"}, zap.NewNop())
	require.NoError(t, err)

	trainStats, evalStats, err := c.Run(context.Background(),
		domain.Definition{"training": map[string]any{"batch_size": 16}},
		trial.Settings{ExperimentName: "hyperopt_0"})

	require.NoError(t, err)
	assert.Equal(t, float64(2), trainStats["epochs"])
	assert.Equal(t, 0.75, evalStats["class"]["accuracy"])
}

func TestCommand_RunSurfacesProcessFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script trainer")
	}
	c, err := NewCommand("/bin/sh", []string{"-c", "echo 'cuda out of memory' >&2; exit 3", "trainer"}, zap.NewNop())
	require.NoError(t, err)

	_, _, err = c.Run(context.Background(), domain.Definition{}, trial.Settings{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "trial process failed")
	assert.Contains(t, err.Error(), "cuda out of memory")
}
