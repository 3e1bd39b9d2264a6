package extractor

import (
	"fmt"
	"slices"

	jsoniter "github.com/json-iterator/go"

	"github.com/knights-analytics/relex/data"
	"github.com/knights-analytics/relex/embeddings"
	"github.com/knights-analytics/relex/util"
)

// modelState is the persisted form of a relation extractor. It holds the full
// architecture plus the decoder weights, so Load reconstructs a model that
// scores identically to the one saved.
type modelState struct {
	Embedder           embeddings.Config  `json:"embedder"`
	LabelType          string             `json:"label_type"`
	SpanLabelType      string             `json:"span_label_type"`
	Labels             []string           `json:"labels"`
	LossWeights        map[string]float32 `json:"loss_weights,omitempty"`
	Pooling            string             `json:"pooling"`
	Dropout            float32            `json:"dropout,omitempty"`
	EntityPairs        [][2]string        `json:"entity_pairs,omitempty"`
	EntityMarkers      bool               `json:"entity_markers"`
	GoldSpans          bool               `json:"gold_spans"`
	NonLinearDecoder   bool               `json:"non_linear_decoder"`
	GradientChunkLimit int                `json:"gradient_chunk_limit"`
	Decoder            decoderState       `json:"decoder"`
}

// Save writes the extractor state as json to path. The embedding model itself
// is not embedded in the file, only its configuration; Load resolves the model
// from that configuration again.
func (r *RelationExtractor) Save(path string) error {
	state := modelState{
		Embedder:           r.embedder.Config(),
		LabelType:          r.labelType,
		SpanLabelType:      r.spanLabelType,
		Labels:             r.labels.Labels(),
		LossWeights:        r.lossWeights,
		Pooling:            r.poolingOperation,
		Dropout:            r.dropoutValue,
		EntityPairs:        sortedEntityPairs(r.entityPairs),
		EntityMarkers:      r.useEntityMarkers,
		GoldSpans:          r.useGoldSpans,
		NonLinearDecoder:   r.nonLinearDecoder,
		GradientChunkLimit: r.gradientChunkLimit,
		Decoder:            r.decoder.state(),
	}
	serialized, err := jsoniter.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing extractor state: %w", err)
	}
	return util.WriteFileBytes(path, serialized)
}

// sortedEntityPairs flattens the allow-list in a deterministic order so that
// saving the same model twice yields the same bytes.
func sortedEntityPairs(pairs map[[2]string]struct{}) [][2]string {
	if pairs == nil {
		return nil
	}
	out := make([][2]string, 0, len(pairs))
	for pair := range pairs {
		out = append(out, pair)
	}
	slices.SortFunc(out, func(a, b [2]string) int {
		if a[0] != b[0] {
			if a[0] < b[0] {
				return -1
			}
			return 1
		}
		if a[1] < b[1] {
			return -1
		}
		if a[1] > b[1] {
			return 1
		}
		return 0
	})
	return out
}

// Load reads an extractor state written by Save, loads the embedding model it
// names, and restores the decoder weights into a freshly constructed
// extractor.
func Load(path string, opts ...Option) (*RelationExtractor, error) {
	serialized, err := util.ReadFileBytes(path)
	if err != nil {
		return nil, err
	}
	var state modelState
	if err := jsoniter.Unmarshal(serialized, &state); err != nil {
		return nil, fmt.Errorf("deserializing extractor state from %s: %w", path, err)
	}

	embedder, err := embeddings.NewEmbedder(state.Embedder)
	if err != nil {
		return nil, err
	}
	return loadFromState(state, embedder, opts...)
}

func loadFromState(state modelState, embedder embeddings.Embedder, opts ...Option) (*RelationExtractor, error) {
	options := []Option{WithPooling(state.Pooling)}
	if state.EntityMarkers {
		options = append(options, WithEntityMarkers())
	}
	if state.GoldSpans {
		options = append(options, WithGoldSpans())
	}
	if state.EntityPairs != nil {
		options = append(options, WithEntityPairs(state.EntityPairs))
	}
	if state.Dropout > 0 {
		options = append(options, WithDropout(state.Dropout))
	}
	if state.LossWeights != nil {
		options = append(options, WithLossWeights(state.LossWeights))
	}
	if state.NonLinearDecoder {
		options = append(options, WithNonLinearDecoder())
	}
	// restored verbatim: a persisted limit of 0 means every chunk is embedded
	// in eval mode and must not fall back to the construction default
	options = append(options, WithGradientChunkLimit(state.GradientChunkLimit))
	options = append(options, opts...)

	r, err := New(embedder, state.LabelType, state.SpanLabelType, data.NewDictionary(state.Labels...), options...)
	if err != nil {
		return nil, err
	}
	if err := r.decoder.loadState(state.Decoder); err != nil {
		return nil, err
	}
	return r, nil
}
