package data

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSentence(t *testing.T) {
	sentence := NewSentence("  George Washington went to  Washington ")
	require.Equal(t, 5, sentence.Len())
	assert.Equal(t, "George Washington went to Washington", sentence.Text())
	for i, token := range sentence.Tokens {
		assert.Equal(t, i, token.Index)
	}
}

func TestSpans(t *testing.T) {
	sentence := NewSentence("George Washington went to Washington")
	sentence.AddSpan("ner", 0, 2, "PER", 1)
	sentence.AddSpan("ner", 4, 5, "LOC", 1)

	spans := sentence.Spans("ner")
	require.Len(t, spans, 2)
	assert.Equal(t, "George Washington", spans[0].Span.Text())
	assert.Equal(t, "PER", spans[0].Value)
	assert.Equal(t, "Washington", spans[1].Span.Text())
	assert.Empty(t, sentence.Spans("otherLayer"))
}

func TestSpanIdentity(t *testing.T) {
	sentence := NewSentence("George Washington went to Washington")
	person := sentence.NewSpan(0, 2)
	location := sentence.NewSpan(4, 5)

	assert.Equal(t, `span[0:2]: "George Washington"`, person.IDText())
	assert.Equal(t, `span[4:5]: "Washington"`, location.IDText())

	// same surface text at a different position is a different mention
	first := sentence.NewSpan(1, 2)
	assert.False(t, first.Equal(location))
	assert.True(t, first.Equal(sentence.NewSpan(1, 2)))
}

func TestRelations(t *testing.T) {
	sentence := NewSentence("George Washington went to Washington")
	head := sentence.NewSpan(0, 2)
	tail := sentence.NewSpan(4, 5)

	sentence.AddRelation("relation", RelationLabel{Head: head, Tail: tail, Value: "went_to", Score: 1})
	relations := sentence.Relations("relation")
	require.Len(t, relations, 1)
	assert.Equal(t, "went_to", relations[0].Value)

	sentence.ClearRelations("relation")
	assert.Empty(t, sentence.Relations("relation"))
}

func TestDictionary(t *testing.T) {
	dictionary := NewDictionary("born_in", "located_in", "born_in")

	assert.Equal(t, 3, dictionary.Len())
	assert.Equal(t, 0, dictionary.Index("born_in"))
	assert.Equal(t, 1, dictionary.Index("located_in"))
	assert.Equal(t, 2, dictionary.Index(NoRelation))
	assert.Equal(t, -1, dictionary.Index("unknown"))
	assert.Equal(t, "located_in", dictionary.Label(1))
	assert.True(t, dictionary.Contains(NoRelation))

	labels := dictionary.Labels()
	labels[0] = "mutated"
	assert.Equal(t, "born_in", dictionary.Label(0))
}

func TestDictionaryEqual(t *testing.T) {
	a := NewDictionary("born_in", "located_in")
	b := NewDictionary("born_in", "located_in", NoRelation)
	c := NewDictionary("located_in", "born_in")

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestDictionaryEqualDisjointLabels(t *testing.T) {
	// same length, no shared labels: must not compare equal even though
	// lookups of missing labels would both report index zero
	a := NewDictionary("born_in")
	b := NewDictionary("located_in")

	assert.False(t, a.Equal(b))
	assert.False(t, b.Equal(a))
}
