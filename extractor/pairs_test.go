package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knights-analytics/relex/data"
)

func newPairTestExtractor(t *testing.T, opts ...Option) *RelationExtractor {
	t.Helper()
	model, err := New(newFakeTokenEmbedder(2), "relation", "ner", data.NewDictionary("born_in"), opts...)
	require.NoError(t, err)
	return model
}

func pairTexts(cands []*candidate) [][2]string {
	out := make([][2]string, len(cands))
	for i, c := range cands {
		out[i] = [2]string{c.head.Text(), c.tail.Text()}
	}
	return out
}

func TestGenerateCandidatesCrossProduct(t *testing.T) {
	model := newPairTestExtractor(t)

	sentence := data.NewSentence("a b c")
	sentence.AddSpan("ner", 0, 1, "ENT", 1)
	sentence.AddSpan("ner", 1, 2, "ENT", 1)
	sentence.AddSpan("ner", 2, 3, "ENT", 1)

	cands, err := model.generateCandidates(sentence, nil, false)
	require.NoError(t, err)
	require.Len(t, cands, 6)

	// annotation order, outer then inner, self pairs excluded
	assert.Equal(t, [][2]string{
		{"a", "b"}, {"a", "c"},
		{"b", "a"}, {"b", "c"},
		{"c", "a"}, {"c", "b"},
	}, pairTexts(cands))

	for i, c := range cands {
		assert.Equal(t, i, c.index)
		assert.Equal(t, data.NoRelation, c.label)
		assert.Same(t, sentence, c.embedSentence)
	}
}

func TestGenerateCandidatesGoldLabels(t *testing.T) {
	model := newPairTestExtractor(t)

	sentence := data.NewSentence("George Washington went to Washington")
	person := sentence.AddSpan("ner", 0, 2, "PER", 1)
	location := sentence.AddSpan("ner", 4, 5, "LOC", 1)
	sentence.AddRelation("relation", data.RelationLabel{Head: person.Span, Tail: location.Span, Value: "went_to"})

	cands, err := model.generateCandidates(sentence, nil, false)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "went_to", cands[0].label)
	assert.Equal(t, data.NoRelation, cands[1].label)
}

func TestGenerateCandidatesDuplicateAnnotations(t *testing.T) {
	model := newPairTestExtractor(t)

	sentence := data.NewSentence("George Washington went to Washington")
	person := sentence.AddSpan("ner", 0, 2, "PER", 1)
	location := sentence.AddSpan("ner", 4, 5, "LOC", 1)
	sentence.AddRelation("relation", data.RelationLabel{Head: person.Span, Tail: location.Span, Value: "went_to"})
	sentence.AddRelation("relation", data.RelationLabel{Head: person.Span, Tail: location.Span, Value: "visited"})

	cands, err := model.generateCandidates(sentence, nil, false)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	// the last annotation for an ordered pair wins
	assert.Equal(t, "visited", cands[0].label)
}

func TestGenerateCandidatesGoldSpansOnly(t *testing.T) {
	model := newPairTestExtractor(t, WithGoldSpans())

	sentence := data.NewSentence("George Washington went to Washington")
	person := sentence.AddSpan("ner", 0, 2, "PER", 1)
	location := sentence.AddSpan("ner", 4, 5, "LOC", 1)
	sentence.AddRelation("relation", data.RelationLabel{Head: person.Span, Tail: location.Span, Value: "went_to"})

	cands, err := model.generateCandidates(sentence, nil, false)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "went_to", cands[0].label)
	assert.Equal(t, "George Washington", cands[0].head.Text())
}

func TestGenerateCandidatesEntityPairFilter(t *testing.T) {
	model := newPairTestExtractor(t, WithEntityPairs([][2]string{{"PER", "LOC"}}))

	sentence := data.NewSentence("George Washington went to Washington")
	sentence.AddSpan("ner", 0, 2, "PER", 1)
	sentence.AddSpan("ner", 4, 5, "LOC", 1)

	cands, err := model.generateCandidates(sentence, nil, false)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "George Washington", cands[0].head.Text())
	assert.Equal(t, "Washington", cands[0].tail.Text())
}

func TestGenerateCandidatesWithMarkers(t *testing.T) {
	model := newPairTestExtractor(t, WithEntityMarkers())

	sentence := data.NewSentence("George Washington went to Washington")
	sentence.AddSpan("ner", 0, 2, "PER", 1)
	sentence.AddSpan("ner", 4, 5, "LOC", 1)

	cands, err := model.generateCandidates(sentence, nil, true)
	require.NoError(t, err)
	require.Len(t, cands, 2)

	// the embedded sentence is a marker rewrite, the original is untouched
	assert.Equal(t, "George Washington went to Washington", sentence.Text())
	assert.Equal(t, "<e1> George Washington </e1> went to <e2> Washington </e2>", cands[0].embedSentence.Text())
	assert.Equal(t, "<e2> George Washington </e2> went to <e1> Washington </e1>", cands[1].embedSentence.Text())

	// pending labels reference the original sentence's spans
	require.NotNil(t, cands[0].pending)
	assert.Equal(t, `span[0:2]: "George Washington"`, cands[0].pending.Head.IDText())
	assert.Equal(t, `span[4:5]: "Washington"`, cands[0].pending.Tail.IDText())
}

func TestPositionKey(t *testing.T) {
	sentence := data.NewSentence("George Washington went to Washington")
	head := sentence.NewSpan(0, 2)
	tail := sentence.NewSpan(4, 5)

	assert.Equal(t, `span[0:2]: "George Washington" -> span[4:5]: "Washington"`, positionKey(head, tail))
	assert.NotEqual(t, positionKey(head, tail), positionKey(tail, head))
}
