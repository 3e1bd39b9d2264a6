package embeddings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knights-analytics/relex/data"
)

func TestPickOutput(t *testing.T) {
	outputs := []inputOutputInfo{
		{Name: "logits", Dimensions: []int64{-1, 2}},
		{Name: "last_hidden_state", Dimensions: []int64{-1, -1, 384}},
	}
	assert.Equal(t, "last_hidden_state", pickOutput(outputs).Name)

	outputs = []inputOutputInfo{
		{Name: "custom_output", Dimensions: []int64{-1, 384}},
	}
	assert.Equal(t, "custom_output", pickOutput(outputs).Name)
}

func TestReshapeOutput3D(t *testing.T) {
	b := &batch{inputs: make([]tokenizedInput, 2), maxSequenceLength: 3}
	values := []float32{
		// input 0, 3 tokens x 2 hidden
		1, 2, 3, 4, 5, 6,
		// input 1
		7, 8, 9, 10, 11, 12,
	}
	require.NoError(t, reshapeOutput(b, values, []int64{2, 3, 2}, 2))
	require.Len(t, b.tokenVectors, 2)
	assert.Equal(t, []float32{3, 4}, b.tokenVectors[0][1])
	assert.Equal(t, []float32{11, 12}, b.tokenVectors[1][2])
	assert.Nil(t, b.docVectors)
}

func TestReshapeOutput2D(t *testing.T) {
	b := &batch{inputs: make([]tokenizedInput, 2), maxSequenceLength: 3}
	values := []float32{1, 2, 3, 4}
	require.NoError(t, reshapeOutput(b, values, []int64{2, 2}, 2))
	require.Len(t, b.docVectors, 2)
	assert.Equal(t, []float32{3, 4}, b.docVectors[1])
	assert.Nil(t, b.tokenVectors)
}

func TestReshapeOutputRejectsOtherRanks(t *testing.T) {
	b := &batch{inputs: make([]tokenizedInput, 1)}
	assert.Error(t, reshapeOutput(b, []float32{1}, []int64{1}, 1))
}

func TestWordBoundaries(t *testing.T) {
	sentence := data.NewSentence("George Washington went")
	assert.Equal(t, [][2]uint{{0, 6}, {7, 17}, {18, 22}}, wordBoundaries(sentence))
}

func TestAlignWords(t *testing.T) {
	// "George Washington" tokenized as [CLS] geo ##rge was ##hington [SEP]
	input := tokenizedInput{
		Raw:               "George Washington",
		SpecialTokensMask: []uint32{1, 0, 0, 0, 0, 1},
		Offsets:           [][2]uint{{0, 0}, {0, 3}, {3, 6}, {7, 10}, {10, 17}, {0, 0}},
	}
	indices, err := alignWords(input, [][2]uint{{0, 6}, {7, 17}})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, indices)
}

func TestAlignWordsMissingSubword(t *testing.T) {
	input := tokenizedInput{
		Raw:               "George Washington",
		SpecialTokensMask: []uint32{1, 0, 1},
		Offsets:           [][2]uint{{0, 0}, {0, 6}, {0, 0}},
	}
	_, err := alignWords(input, [][2]uint{{0, 6}, {7, 17}})
	assert.ErrorContains(t, err, "no subword token found for word 1")
}

func TestMeanPooling(t *testing.T) {
	tokens := [][]float32{
		{2, 4},
		{4, 8},
		{100, 100}, // padded position, masked out
	}
	input := tokenizedInput{
		AttentionMask:     []uint32{1, 1, 0},
		MaxAttentionIndex: 1,
	}
	assert.Equal(t, []float32{3, 6}, meanPooling(tokens, input, 3, 2))
}

func TestNewEmbedderRejectsUnknownKind(t *testing.T) {
	_, err := NewEmbedder(Config{Kind: "paragraph", ModelPath: "/nowhere"})
	assert.ErrorContains(t, err, "not recognized")
}
