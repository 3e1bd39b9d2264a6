package relex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knights-analytics/relex/data"
	"github.com/knights-analytics/relex/embeddings"
)

type stubEmbedder struct {
	destroyed bool
}

func (s *stubEmbedder) Kind() embeddings.Kind {
	return embeddings.KindToken
}

func (s *stubEmbedder) Length() int {
	return 2
}

func (s *stubEmbedder) Embed(sentences []*data.Sentence) error {
	for _, sentence := range sentences {
		for _, token := range sentence.Tokens {
			token.Embedding = []float32{float32(token.Index), 1}
		}
	}
	return nil
}

func (s *stubEmbedder) Train() {}

func (s *stubEmbedder) Eval() {}

func (s *stubEmbedder) Config() embeddings.Config {
	return embeddings.Config{Kind: embeddings.KindToken, ModelPath: "stub-model"}
}

func (s *stubEmbedder) Stats() []string {
	return nil
}

func (s *stubEmbedder) Destroy() error {
	s.destroyed = true
	return nil
}

func TestSessionExtractorRegistry(t *testing.T) {
	session, err := NewGoSession()
	require.NoError(t, err)

	embedder := &stubEmbedder{}
	labels := data.NewDictionary("born_in")

	model, err := session.NewRelationExtractor("extractor", embedder, "relation", "ner", labels)
	require.NoError(t, err)

	found, err := session.GetRelationExtractor("extractor")
	require.NoError(t, err)
	assert.Same(t, model, found)

	_, err = session.NewRelationExtractor("extractor", embedder, "relation", "ner", labels)
	assert.ErrorContains(t, err, "already exists")

	_, err = session.GetRelationExtractor("missing")
	assert.ErrorContains(t, err, "does not exist")

	require.NoError(t, session.Destroy())
}

func TestSessionDestroyReleasesEmbedders(t *testing.T) {
	session, err := NewGoSession()
	require.NoError(t, err)

	embedder := &stubEmbedder{}
	session.embedders["stub"] = embedder

	require.NoError(t, session.Destroy())
	assert.True(t, embedder.destroyed)

	_, err = session.GetEmbedder("stub")
	assert.ErrorContains(t, err, "does not exist")
}

func TestSessionPredictEndToEnd(t *testing.T) {
	session, err := NewGoSession()
	require.NoError(t, err)
	defer func() {
		require.NoError(t, session.Destroy())
	}()

	model, err := session.NewRelationExtractor("extractor", &stubEmbedder{}, "relation", "ner", data.NewDictionary("went_to"))
	require.NoError(t, err)

	sentence := data.NewSentence("George Washington went to Washington")
	sentence.AddSpan("ner", 0, 2, "PER", 1)
	sentence.AddSpan("ner", 4, 5, "LOC", 1)

	require.NoError(t, model.Predict([]*data.Sentence{sentence}))
	relations := sentence.Relations("relation")
	require.Len(t, relations, 2)
	for _, relation := range relations {
		assert.True(t, model.Labels().Contains(relation.Value))
	}
}
