// Package extractor implements a relation extraction head on top of an
// embedding provider: for every ordered pair of annotated entity spans in a
// sentence it predicts the relation holding between them, or no relation.
package extractor

import (
	"fmt"
	"math"
	"math/rand"

	"gorgonia.org/tensor"

	"github.com/knights-analytics/relex/data"
	"github.com/knights-analytics/relex/embeddings"
	"github.com/knights-analytics/relex/util"
)

// Pooling operations for deriving a span vector from its token embeddings.
const (
	PoolingFirst     = "first"
	PoolingFirstLast = "first_last"
)

// RelationExtractor scores every ordered entity pair of a batch of sentences
// against its label dictionary. See ForwardPass for the pipeline.
type RelationExtractor struct {
	embedder      embeddings.Embedder
	embeddingKind embeddings.Kind

	labelType     string
	spanLabelType string
	labels        *data.Dictionary

	useEntityMarkers   bool
	useGoldSpans       bool
	nonLinearDecoder   bool
	entityPairs        map[[2]string]struct{}
	poolingOperation   string
	dropoutValue       float32
	lossWeights        map[string]float32
	gradientChunkLimit int

	representationLength int
	decoder              *decoder
	rng                  *rand.Rand
	training             bool
}

// Option configures a RelationExtractor at construction.
type Option func(r *RelationExtractor)

// WithEntityMarkers embeds each candidate pair as a standalone copy of the
// sentence with inline <e1>/<e2> boundary markers around the two spans.
func WithEntityMarkers() Option {
	return func(r *RelationExtractor) {
		r.useEntityMarkers = true
	}
}

// WithGoldSpans restricts candidates to pairs carrying a gold relation
// annotation, instead of labeling unannotated pairs as no-relation.
func WithGoldSpans() Option {
	return func(r *RelationExtractor) {
		r.useGoldSpans = true
	}
}

// WithEntityPairs restricts candidates to the given (head type, tail type)
// combinations.
func WithEntityPairs(pairs [][2]string) Option {
	return func(r *RelationExtractor) {
		r.entityPairs = map[[2]string]struct{}{}
		for _, pair := range pairs {
			r.entityPairs[pair] = struct{}{}
		}
	}
}

// WithPooling sets the span pooling operation, PoolingFirst or
// PoolingFirstLast. Default is PoolingFirstLast.
func WithPooling(operation string) Option {
	return func(r *RelationExtractor) {
		r.poolingOperation = operation
	}
}

// WithDropout sets the dropout probability applied to the stacked
// representations during training. Default is 0.
func WithDropout(value float32) Option {
	return func(r *RelationExtractor) {
		r.dropoutValue = value
	}
}

// WithNonLinearDecoder selects the two-layer decoder with a 1024-wide hidden
// layer instead of a single linear projection.
func WithNonLinearDecoder() Option {
	return func(r *RelationExtractor) {
		r.nonLinearDecoder = true
	}
}

// WithLossWeights sets per-label weights for the loss; unlisted labels weigh
// 1.
func WithLossWeights(weights map[string]float32) Option {
	return func(r *RelationExtractor) {
		r.lossWeights = weights
	}
}

// WithGradientChunkLimit sets how many embedding chunks keep the provider in
// training mode; later chunks are embedded in eval mode to bound gradient
// memory. Default is 1.
func WithGradientChunkLimit(limit int) Option {
	return func(r *RelationExtractor) {
		r.gradientChunkLimit = limit
	}
}

// WithSeed seeds decoder initialization and dropout.
func WithSeed(seed int64) Option {
	return func(r *RelationExtractor) {
		r.rng = rand.New(rand.NewSource(seed)) // #nosec G404 -- not used for crypto
	}
}

// New builds a RelationExtractor over the given embedding provider.
// labelType is the annotation layer holding relation labels, spanLabelType
// the layer holding entity spans. The label dictionary is snapshotted and
// always contains the no-relation label.
func New(embedder embeddings.Embedder, labelType, spanLabelType string, labels *data.Dictionary, opts ...Option) (*RelationExtractor, error) {
	r := &RelationExtractor{
		embedder:           embedder,
		embeddingKind:      embedder.Kind(),
		labelType:          labelType,
		spanLabelType:      spanLabelType,
		labels:             data.NewDictionary(labels.Labels()...),
		poolingOperation:   PoolingFirstLast,
		gradientChunkLimit: 1,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.rng == nil {
		r.rng = rand.New(rand.NewSource(rand.Int63())) // #nosec G404 -- not used for crypto
	}

	switch r.poolingOperation {
	case PoolingFirst, PoolingFirstLast:
	default:
		return nil, fmt.Errorf("pooling operation %q not recognized", r.poolingOperation)
	}

	switch r.embeddingKind {
	case embeddings.KindToken:
		r.representationLength = 2 * embedder.Length()
		if r.poolingOperation == PoolingFirstLast {
			r.representationLength *= 2
		}
	case embeddings.KindDocument:
		// one document vector per marker-rewritten sentence; without markers
		// a sentence-level embedding cannot distinguish which pair of the
		// sentence it represents
		if !r.useEntityMarkers {
			return nil, fmt.Errorf("a document embedding provider requires entity markers")
		}
		r.representationLength = embedder.Length()
	default:
		return nil, fmt.Errorf("embedding kind %q not recognized", r.embeddingKind)
	}

	r.decoder = newDecoder(r.representationLength, r.labels.Len(), r.nonLinearDecoder, r.rng)
	return r, nil
}

// ForwardOutput is the aligned result of one forward pass: row i of Scores,
// Labels[i] and (when requested) Sentences[i] and Pending[i] all describe the
// same candidate pair. A nil Scores means no candidates were generated, which
// is an expected state distinct from uniform or zero scores.
type ForwardOutput struct {
	Scores    *tensor.Dense
	Labels    [][]string
	Sentences []*data.Sentence
	Pending   []*data.RelationLabel
}

// ForwardPass generates all candidate pairs across the batch, embeds them in
// bounded chunks, and scores them against the label dictionary. With
// returnCandidates set it additionally returns, per candidate, the original
// sentence and an unscored relation label for the caller to populate.
func (r *RelationExtractor) ForwardPass(sentences []*data.Sentence, returnCandidates bool) (*ForwardOutput, error) {
	var cands []*candidate
	var err error
	for _, sentence := range sentences {
		cands, err = r.generateCandidates(sentence, cands, returnCandidates)
		if err != nil {
			return nil, err
		}
	}

	out := &ForwardOutput{Labels: make([][]string, len(cands))}
	for i, c := range cands {
		out.Labels[i] = []string{c.label}
	}
	if returnCandidates {
		out.Sentences = make([]*data.Sentence, len(cands))
		out.Pending = make([]*data.RelationLabel, len(cands))
		for i, c := range cands {
			out.Sentences[i] = c.sentence
			out.Pending[i] = c.pending
		}
	}

	if len(cands) == 0 {
		return out, nil
	}

	representations, err := r.embedCandidates(cands, len(sentences))
	if err != nil {
		return nil, err
	}
	r.applyDropout(representations)

	scores, err := r.decoder.forward(representations)
	if err != nil {
		return nil, err
	}
	out.Scores = scores
	return out, nil
}

// applyDropout applies inverted dropout in place during training; at
// inference it is the identity.
func (r *RelationExtractor) applyDropout(t *tensor.Dense) {
	if !r.training || r.dropoutValue <= 0 {
		return
	}
	scale := 1 / (1 - r.dropoutValue)
	values := t.Data().([]float32)
	for i := range values {
		if r.rng.Float32() < r.dropoutValue {
			values[i] = 0
		} else {
			values[i] *= scale
		}
	}
}

// Predict runs an eval-mode forward pass and writes the argmax relation with
// its softmax confidence onto each sentence, under the extractor's label
// type. Previous annotations of that type are replaced.
func (r *RelationExtractor) Predict(sentences []*data.Sentence) error {
	wasTraining := r.training
	r.Train(false)
	defer r.Train(wasTraining)

	out, err := r.ForwardPass(sentences, true)
	if err != nil {
		return err
	}
	for _, sentence := range sentences {
		sentence.ClearRelations(r.labelType)
	}
	if out.Scores == nil {
		return nil
	}

	values := out.Scores.Data().([]float32)
	width := r.labels.Len()
	for i, pending := range out.Pending {
		probabilities := util.SoftMax(values[i*width : (i+1)*width])
		index, score, argErr := util.ArgMax(probabilities)
		if argErr != nil {
			return argErr
		}
		pending.Value = r.labels.Label(index)
		pending.Score = score
		out.Sentences[i].AddRelation(r.labelType, *pending)
	}
	return nil
}

// Loss computes the label-weighted cross entropy of scores against the gold
// labels of a forward pass, returning the weighted mean loss and the candidate
// count. The mean is normalized by the sum of the sample weights, not the
// sample count, so reweighting a label shifts the balance between classes
// without inflating the loss magnitude.
func (r *RelationExtractor) Loss(scores *tensor.Dense, labels [][]string) (float32, int, error) {
	if scores == nil || len(labels) == 0 {
		return 0, 0, nil
	}
	values := scores.Data().([]float32)
	width := r.labels.Len()
	total := float64(0)
	weightSum := float64(0)
	for i, label := range labels {
		index := r.labels.Index(label[0])
		if index < 0 {
			return 0, 0, fmt.Errorf("label %q is not in the label dictionary", label[0])
		}
		probabilities := util.SoftMax(values[i*width : (i+1)*width])
		weight := float64(1)
		if w, ok := r.lossWeights[label[0]]; ok {
			weight = float64(w)
		}
		weightSum += weight
		total += weight * -math.Log(math.Max(float64(probabilities[index]), 1e-12))
	}
	if weightSum == 0 {
		return 0, len(labels), nil
	}
	return float32(total / weightSum), len(labels), nil
}

// Train switches the extractor and its embedding provider between training
// and eval mode.
func (r *RelationExtractor) Train(training bool) {
	r.training = training
	if training {
		r.embedder.Train()
	} else {
		r.embedder.Eval()
	}
}

// LabelType returns the annotation layer this extractor predicts.
func (r *RelationExtractor) LabelType() string {
	return r.labelType
}

// SpanLabelType returns the annotation layer entity spans are read from.
func (r *RelationExtractor) SpanLabelType() string {
	return r.spanLabelType
}

// Labels returns the frozen label dictionary.
func (r *RelationExtractor) Labels() *data.Dictionary {
	return r.labels
}

// Embedder returns the underlying embedding provider.
func (r *RelationExtractor) Embedder() embeddings.Embedder {
	return r.embedder
}
