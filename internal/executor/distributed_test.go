package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luwei0711/ludwig/internal/domain"
	"github.com/luwei0711/ludwig/internal/trial"
)

func TestDistributed_LocalBackendEndToEnd(t *testing.T) {
	sampler := &stubSampler{batches: [][]domain.Sample{
		{sampleLR(0.2), sampleLR(0.8), sampleLR(0.5)},
	}}
	runner := &scoreRunner{}
	e, err := NewDistributed(Options{
		Sampler:       sampler,
		OutputFeature: "class",
		Metric:        "accuracy",
		Runner:        runner,
		NumWorkers:    2,
		Backend:       "local",
	})
	require.NoError(t, err)

	results, err := e.Execute(context.Background(), testDefinition(), trial.Settings{ExperimentName: "exp"})

	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 0.8, results[0].MetricScore)
	assert.Equal(t, 0.2, results[2].MetricScore)
	assert.Equal(t, 3, runner.runCount())

	require.Len(t, sampler.Updates, 1)
	assert.Len(t, sampler.Updates[0], 3)
}

func TestDistributed_DefaultsToLocalBackend(t *testing.T) {
	sampler := &stubSampler{batches: [][]domain.Sample{{sampleLR(0.4)}}}
	e, err := NewDistributed(Options{
		Sampler:       sampler,
		OutputFeature: "class",
		Metric:        "accuracy",
		Runner:        &scoreRunner{},
	})
	require.NoError(t, err)

	results, err := e.Execute(context.Background(), testDefinition(), trial.Settings{})

	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestNewDistributed_UnknownBackendFailsFast(t *testing.T) {
	_, err := NewDistributed(Options{
		Sampler:       &stubSampler{},
		OutputFeature: "class",
		Metric:        "accuracy",
		Runner:        &scoreRunner{},
		Backend:       "kubernetes",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown pool backend")
}

func TestDistributed_MultipleBatchesSingleMapEach(t *testing.T) {
	sampler := &stubSampler{batches: [][]domain.Sample{
		{sampleLR(0.1), sampleLR(0.2)},
		{sampleLR(0.3)},
	}}
	runner := &scoreRunner{}
	e, err := NewDistributed(Options{
		Sampler:       sampler,
		OutputFeature: "class",
		Metric:        "accuracy",
		Runner:        runner,
		NumWorkers:    2,
		Backend:       "local",
	})
	require.NoError(t, err)

	results, err := e.Execute(context.Background(), testDefinition(), trial.Settings{ExperimentName: "exp"})

	require.NoError(t, err)
	assert.Len(t, results, 3)
	// one feedback call per batch
	require.Len(t, sampler.Updates, 2)
	assert.Len(t, sampler.Updates[0], 2)
	assert.Len(t, sampler.Updates[1], 1)

	names := map[string]bool{}
	for _, settings := range runner.Settings {
		names[settings.ExperimentName] = true
	}
	assert.True(t, names["exp_0"] && names["exp_1"] && names["exp_2"])
}
