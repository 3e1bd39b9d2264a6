package embeddings

import (
	"fmt"

	"github.com/knights-analytics/relex/data"
	"github.com/knights-analytics/relex/util"
)

// DocumentEmbedder produces one fixed-size vector per sentence: the model's
// pooled 2D output when available, otherwise attention-masked mean pooling
// over the token axis.
type DocumentEmbedder struct {
	*transformer
}

func (e *DocumentEmbedder) Kind() Kind {
	return KindDocument
}

// Embed populates Sentence.Embedding for every sentence.
func (e *DocumentEmbedder) Embed(sentences []*data.Sentence) error {
	if len(sentences) == 0 {
		return nil
	}
	texts := make([]string, len(sentences))
	for i, sentence := range sentences {
		texts[i] = sentence.Text()
	}
	b, err := e.encode(texts)
	if err != nil {
		return err
	}
	for i, sentence := range sentences {
		var embedding []float32
		switch {
		case b.docVectors != nil:
			embedding = append([]float32(nil), b.docVectors[i]...)
		case b.tokenVectors != nil:
			embedding = meanPooling(b.tokenVectors[i], b.inputs[i], b.maxSequenceLength, e.length)
		default:
			return fmt.Errorf("document embedder received no output vectors")
		}
		if e.config.Normalize {
			embedding = util.Normalize(embedding, 2)
		}
		sentence.Embedding = embedding
	}
	return nil
}

func meanPooling(tokens [][]float32, input tokenizedInput, maxSequence int, dimensions int) []float32 {
	length := len(input.AttentionMask)
	vector := make([]float32, dimensions)
	for j := 0; j < maxSequence; j++ {
		if j+1 <= length && input.AttentionMask[j] != 0 {
			for k, vectorValue := range tokens[j] {
				vector[k] = vector[k] + vectorValue
			}
		}
	}

	numAttentionTokens := float32(input.MaxAttentionIndex + 1)
	for v, vectorValue := range vector {
		vector[v] = vectorValue / numAttentionTokens
	}

	return vector
}
