package sampler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luwei0711/ludwig/internal/domain"
)

func TestNewGrid_Validation(t *testing.T) {
	_, err := NewGrid(nil, domain.Maximize, 1)
	assert.Error(t, err)

	_, err = NewGrid(map[string][]any{"a": {}}, domain.Maximize, 1)
	assert.Error(t, err)

	_, err = NewGrid(map[string][]any{"a": {1}}, "mediate", 1)
	assert.Error(t, err)
}

func TestGrid_EnumeratesFullProductInOrder(t *testing.T) {
	g, err := NewGrid(map[string][]any{
		"training.learning_rate": {0.1, 0.01},
		"combiner.fc_size":       {64, 128, 256},
	}, domain.Maximize, 10)
	require.NoError(t, err)
	assert.Equal(t, 6, g.Total())

	batch := g.SampleBatch()
	require.Len(t, batch, 6)
	assert.True(t, g.Finished())

	// sorted keys: combiner.fc_size first, training.learning_rate
	// varies fastest
	assert.Equal(t, domain.Sample{"combiner.fc_size": 64, "training.learning_rate": 0.1}, batch[0])
	assert.Equal(t, domain.Sample{"combiner.fc_size": 64, "training.learning_rate": 0.01}, batch[1])
	assert.Equal(t, domain.Sample{"combiner.fc_size": 128, "training.learning_rate": 0.1}, batch[2])
	assert.Equal(t, domain.Sample{"combiner.fc_size": 256, "training.learning_rate": 0.01}, batch[5])
}

func TestGrid_BatchSizeSplitsEnumeration(t *testing.T) {
	g, err := NewGrid(map[string][]any{
		"training.learning_rate": {0.1, 0.01, 0.001, 0.0001, 0.00001},
	}, domain.Maximize, 2)
	require.NoError(t, err)

	var all []domain.Sample
	batches := 0
	for !g.Finished() {
		batch := g.SampleBatch()
		require.NotEmpty(t, batch)
		all = append(all, batch...)
		batches++
	}

	assert.Equal(t, 3, batches) // 2 + 2 + 1
	require.Len(t, all, 5)
	assert.Equal(t, 0.1, all[0]["training.learning_rate"])
	assert.Equal(t, 0.00001, all[4]["training.learning_rate"])
}

func TestGrid_FinishedIsMonotone(t *testing.T) {
	g, err := NewGrid(map[string][]any{"a": {1, 2}}, domain.Minimize, 2)
	require.NoError(t, err)

	assert.False(t, g.Finished())
	g.SampleBatch()
	assert.True(t, g.Finished())
	assert.True(t, g.Finished())
}

func TestGrid_TracksBestScore(t *testing.T) {
	g, err := NewGrid(map[string][]any{"a": {1, 2, 3}}, domain.Minimize, 3)
	require.NoError(t, err)

	_, ok := g.Best()
	assert.False(t, ok)

	batch := g.SampleBatch()
	g.UpdateBatch([]domain.SampleScore{
		{Parameters: batch[0], Score: 0.5},
		{Parameters: batch[1], Score: 0.2},
		{Parameters: batch[2], Score: 0.4},
	})

	best, ok := g.Best()
	require.True(t, ok)
	assert.Equal(t, 0.2, best.Score)
	assert.Equal(t, batch[1], best.Parameters)
}

func TestGrid_DefaultBatchSize(t *testing.T) {
	g, err := NewGrid(map[string][]any{"a": {1, 2}}, domain.Maximize, 0)
	require.NoError(t, err)

	assert.Len(t, g.SampleBatch(), 1)
	assert.False(t, g.Finished())
}
