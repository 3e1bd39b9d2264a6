package extractor

import (
	"fmt"

	"gorgonia.org/tensor"

	"github.com/knights-analytics/relex/data"
	"github.com/knights-analytics/relex/embeddings"
)

// embedCandidates drives the embedding provider chunk by chunk and stacks one
// representation vector per candidate into a (candidates x width) tensor.
//
// Once gradientChunkLimit chunks have been embedded the provider is switched
// to eval mode, so for trainable providers only the leading chunks keep a
// gradient path into shared embedding parameters; this bounds backpropagation
// memory no matter how many pairs a batch generates. If the extractor is in
// training mode the provider is switched back to training before returning.
func (r *RelationExtractor) embedCandidates(cands []*candidate, sentenceCount int) (*tensor.Dense, error) {
	chunks := chunkCandidates(cands, chunkFactor*sentenceCount)

	width := r.representationLength
	backing := make([]float32, 0, len(cands)*width)

	for chunkIndex, chunk := range chunks {
		if chunkIndex == r.gradientChunkLimit {
			r.embedder.Eval()
		}

		sentences := make([]*data.Sentence, len(chunk))
		for i, c := range chunk {
			sentences[i] = c.embedSentence
		}
		if err := r.embedder.Embed(sentences); err != nil {
			return nil, err
		}

		for _, c := range chunk {
			vector, err := r.representation(c)
			if err != nil {
				return nil, err
			}
			if len(vector) != width {
				return nil, fmt.Errorf("candidate %d: representation width %d does not match decoder input width %d",
					c.index, len(vector), width)
			}
			backing = append(backing, vector...)
		}
	}

	if r.training {
		r.embedder.Train()
	}

	return tensor.New(tensor.WithShape(len(cands), width), tensor.WithBacking(backing)), nil
}

// representation extracts the fixed-size relation vector of one embedded
// candidate, according to the embedding kind fixed at construction.
func (r *RelationExtractor) representation(c *candidate) ([]float32, error) {
	if r.embeddingKind == embeddings.KindDocument {
		if len(c.embedSentence.Embedding) == 0 {
			return nil, fmt.Errorf("candidate %d: sentence has no document embedding", c.index)
		}
		return c.embedSentence.Embedding, nil
	}

	spans := [2]data.Span{c.head, c.tail}
	vector := make([]float32, 0, r.representationLength)
	for _, span := range spans {
		first := span.First().Embedding
		if len(first) == 0 {
			return nil, fmt.Errorf("candidate %d: span %s has no token embedding", c.index, span.IDText())
		}
		vector = append(vector, first...)
		if r.poolingOperation == PoolingFirstLast {
			last := span.Last().Embedding
			if len(last) == 0 {
				return nil, fmt.Errorf("candidate %d: span %s has no token embedding", c.index, span.IDText())
			}
			vector = append(vector, last...)
		}
	}
	return vector, nil
}
