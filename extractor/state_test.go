package extractor

import (
	"path/filepath"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/knights-analytics/relex/data"
	"github.com/knights-analytics/relex/util"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	labels := data.NewDictionary("born_in", "located_in")
	original, err := New(newFakeTokenEmbedder(2), "relation", "ner", labels,
		WithSeed(42),
		WithEntityMarkers(),
		WithNonLinearDecoder(),
		WithPooling(PoolingFirst),
		WithDropout(0.1),
		WithEntityPairs([][2]string{{"PER", "LOC"}, {"LOC", "LOC"}}),
		WithLossWeights(map[string]float32{"born_in": 2}),
		WithGradientChunkLimit(3),
	)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, original.Save(path))

	serialized, err := util.ReadFileBytes(path)
	require.NoError(t, err)
	var state modelState
	require.NoError(t, jsoniter.Unmarshal(serialized, &state))

	restored, err := loadFromState(state, newFakeTokenEmbedder(2), WithSeed(7))
	require.NoError(t, err)

	assert.Equal(t, original.labelType, restored.labelType)
	assert.Equal(t, original.spanLabelType, restored.spanLabelType)
	assert.True(t, original.labels.Equal(restored.labels))
	assert.Equal(t, original.useEntityMarkers, restored.useEntityMarkers)
	assert.Equal(t, original.useGoldSpans, restored.useGoldSpans)
	assert.Equal(t, original.poolingOperation, restored.poolingOperation)
	assert.Equal(t, original.dropoutValue, restored.dropoutValue)
	assert.Equal(t, original.entityPairs, restored.entityPairs)
	assert.Equal(t, original.lossWeights, restored.lossWeights)
	assert.Equal(t, original.gradientChunkLimit, restored.gradientChunkLimit)
	assert.Equal(t, original.representationLength, restored.representationLength)

	// identical decoder outputs despite a different seed
	x := tensor.New(tensor.WithShape(1, original.representationLength),
		tensor.WithBacking([]float32{1, -1, 0.5, 2}))
	expected, err := original.decoder.forward(x)
	require.NoError(t, err)
	actual, err := restored.decoder.forward(x)
	require.NoError(t, err)
	assert.InDeltaSlice(t, expected.Data().([]float32), actual.Data().([]float32), 1e-6)
}

func TestSaveLoadGradientChunkLimitZero(t *testing.T) {
	labels := data.NewDictionary("born_in")
	original, err := New(newFakeTokenEmbedder(2), "relation", "ner", labels,
		WithSeed(42), WithGradientChunkLimit(0))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, original.Save(path))

	serialized, err := util.ReadFileBytes(path)
	require.NoError(t, err)
	var state modelState
	require.NoError(t, jsoniter.Unmarshal(serialized, &state))

	restored, err := loadFromState(state, newFakeTokenEmbedder(2))
	require.NoError(t, err)
	assert.Equal(t, 0, restored.gradientChunkLimit)
}

func TestSaveIsDeterministic(t *testing.T) {
	labels := data.NewDictionary("born_in")
	model, err := New(newFakeTokenEmbedder(2), "relation", "ner", labels,
		WithSeed(42),
		WithEntityPairs([][2]string{{"PER", "LOC"}, {"LOC", "PER"}, {"LOC", "LOC"}}),
	)
	require.NoError(t, err)

	dir := t.TempDir()
	first := filepath.Join(dir, "first.json")
	second := filepath.Join(dir, "second.json")
	require.NoError(t, model.Save(first))
	require.NoError(t, model.Save(second))

	firstBytes, err := util.ReadFileBytes(first)
	require.NoError(t, err)
	secondBytes, err := util.ReadFileBytes(second)
	require.NoError(t, err)
	assert.Equal(t, firstBytes, secondBytes)
}

func TestSortedEntityPairs(t *testing.T) {
	pairs := map[[2]string]struct{}{
		{"PER", "LOC"}: {},
		{"LOC", "PER"}: {},
		{"LOC", "LOC"}: {},
	}
	assert.Equal(t, [][2]string{{"LOC", "LOC"}, {"LOC", "PER"}, {"PER", "LOC"}}, sortedEntityPairs(pairs))
	assert.Nil(t, sortedEntityPairs(nil))
}

func TestLoadFromStateRejectsWidthMismatch(t *testing.T) {
	labels := data.NewDictionary("born_in")
	model, err := New(newFakeTokenEmbedder(2), "relation", "ner", labels, WithSeed(42))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, model.Save(path))

	serialized, err := util.ReadFileBytes(path)
	require.NoError(t, err)
	var state modelState
	require.NoError(t, jsoniter.Unmarshal(serialized, &state))

	// a wider embedding model changes the decoder input width
	_, err = loadFromState(state, newFakeTokenEmbedder(4))
	assert.ErrorContains(t, err, "does not match architecture")
}
