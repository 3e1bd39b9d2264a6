package embeddings

import (
	"fmt"
	"slices"

	"github.com/knights-analytics/relex/data"
)

// TokenEmbedder embeds every whitespace token of a sentence with the vector
// of its first subword token, aligned through tokenizer character offsets.
type TokenEmbedder struct {
	*transformer
}

func (e *TokenEmbedder) Kind() Kind {
	return KindToken
}

// Embed populates Token.Embedding for every token of every sentence.
func (e *TokenEmbedder) Embed(sentences []*data.Sentence) error {
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
	if b.tokenVectors == nil {
		return fmt.Errorf("token embedder requires a 3D (token level) model output")
	}
	for i, sentence := range sentences {
		subwordIndices, alignErr := alignWords(b.inputs[i], wordBoundaries(sentence))
		if alignErr != nil {
			return fmt.Errorf("sentence %d: %w", i, alignErr)
		}
		vectors := b.tokenVectors[i]
		for w, token := range sentence.Tokens {
			token.Embedding = slices.Clone(vectors[subwordIndices[w]])
		}
	}
	return nil
}

// wordBoundaries computes the [start, end) character range of every token in
// the space-joined sentence text.
func wordBoundaries(sentence *data.Sentence) [][2]uint {
	boundaries := make([][2]uint, len(sentence.Tokens))
	pos := 0
	for i, token := range sentence.Tokens {
		boundaries[i] = [2]uint{uint(pos), uint(pos + len(token.Text))}
		pos += len(token.Text) + 1
	}
	return boundaries
}

// alignWords maps every word to the index of its first subword token. A word
// without any subword indicates a tokenization mismatch and aborts the call:
// silently skipping it would misalign span embeddings downstream.
func alignWords(input tokenizedInput, boundaries [][2]uint) ([]int, error) {
	indices := make([]int, len(boundaries))
	for w, boundary := range boundaries {
		index := -1
		for t := range input.Offsets {
			if input.SpecialTokensMask[t] > 0 {
				continue
			}
			if input.Offsets[t][0] >= boundary[0] && input.Offsets[t][1] <= boundary[1] && input.Offsets[t][1] > input.Offsets[t][0] {
				index = t
				break
			}
		}
		if index == -1 {
			return nil, fmt.Errorf("no subword token found for word %d with boundary %v in %q", w, boundary, input.Raw)
		}
		indices[w] = index
	}
	return indices, nil
}
