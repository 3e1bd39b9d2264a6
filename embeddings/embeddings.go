// Package embeddings provides the embedding providers that the relation
// extraction head drives. A provider either embeds every token of a sentence
// (KindToken) or produces one vector for the whole sentence (KindDocument);
// the kind is a construction-time capability, not something callers probe by
// concrete type.
package embeddings

import (
	"fmt"

	"github.com/knights-analytics/relex/data"
)

// Kind distinguishes the embedding semantics of a provider.
type Kind string

const (
	// KindToken providers populate Token.Embedding for every token.
	KindToken Kind = "token"
	// KindDocument providers populate Sentence.Embedding only.
	KindDocument Kind = "document"
)

// Recognized values for Config.Runtime.
const (
	// RuntimeORT runs models through the onnxruntime C library.
	RuntimeORT = "ORT"
	// RuntimeGo runs models through the pure go gonnx runtime.
	RuntimeGo = "GO"
)

// Config describes an embedding provider completely enough to reconstruct it.
// It is what gets persisted inside a relation extractor state file.
type Config struct {
	Kind             Kind   `json:"kind"`
	ModelPath        string `json:"model_path"`
	OnnxFilename     string `json:"onnx_filename,omitempty"`
	Runtime          string `json:"runtime,omitempty"`           // ORT (default) or GO
	TokenizerRuntime string `json:"tokenizer_runtime,omitempty"` // RUST (default) or GO
	Normalize        bool   `json:"normalize,omitempty"`         // document kind only
}

// Embedder is the provider interface consumed by the extraction head.
// Embed populates embeddings on the given sentences in place. Train and Eval
// toggle the provider's training mode; for onnx inference providers these only
// flip a flag, but the head calls them as part of its chunked gradient policy
// and the contract is kept for trainable providers.
type Embedder interface {
	Kind() Kind
	Length() int
	Embed(sentences []*data.Sentence) error
	Train()
	Eval()
	Config() Config
	Stats() []string
	Destroy() error
}

// NewEmbedder loads the transformer model described by config and wraps it in
// an embedder of the configured kind.
func NewEmbedder(config Config) (Embedder, error) {
	switch config.Kind {
	case KindToken, KindDocument:
	default:
		return nil, fmt.Errorf("embedding kind %q not recognized", config.Kind)
	}
	model, err := loadTransformer(config)
	if err != nil {
		return nil, err
	}
	if config.Kind == KindToken {
		return &TokenEmbedder{transformer: model}, nil
	}
	return &DocumentEmbedder{transformer: model}, nil
}
