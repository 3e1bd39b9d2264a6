// Package relex implements relation extraction over transformer embeddings:
// given sentences annotated with entity spans, a relation extractor scores
// every ordered pair of spans against a label dictionary.
package relex

import (
	"errors"
	"fmt"

	"github.com/phuslu/log"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/knights-analytics/relex/data"
	"github.com/knights-analytics/relex/embeddings"
	"github.com/knights-analytics/relex/extractor"
)

// Session holds the embedding models and relation extractors created through
// it, and owns the onnx runtime environment they share. Only one ort session
// can be active at a time.
type Session struct {
	embedders  map[string]embeddings.Embedder
	extractors map[string]*extractor.RelationExtractor
	runtime    string
	ortManaged bool
}

// NewSession creates a session backed by the onnx runtime C library. The
// runtime environment is initialized here and destroyed with the session.
func NewSession() (*Session, error) {
	if ort.IsInitialized() {
		return nil, errors.New("another session is currently active and only one session can be active at one time")
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, err
	}
	if err := ort.DisableTelemetry(); err != nil {
		return nil, err
	}
	return newSession(embeddings.RuntimeORT, true), nil
}

// NewGoSession creates a session backed by the pure go onnx runtime. No
// shared library is needed; model coverage and speed are more limited.
func NewGoSession() (*Session, error) {
	return newSession(embeddings.RuntimeGo, false), nil
}

func newSession(runtime string, ortManaged bool) *Session {
	return &Session{
		embedders:  map[string]embeddings.Embedder{},
		extractors: map[string]*extractor.RelationExtractor{},
		runtime:    runtime,
		ortManaged: ortManaged,
	}
}

// NewEmbedder loads the embedding model described by config and registers it
// under name. If the config does not name a runtime the session default is
// used.
func (s *Session) NewEmbedder(name string, config embeddings.Config) (embeddings.Embedder, error) {
	if _, ok := s.embedders[name]; ok {
		return nil, fmt.Errorf("embedder named %s already exists", name)
	}
	if config.Runtime == "" {
		config.Runtime = s.runtime
	}
	embedder, err := embeddings.NewEmbedder(config)
	if err != nil {
		return nil, err
	}
	s.embedders[name] = embedder
	return embedder, nil
}

// GetEmbedder returns the embedder registered under name.
func (s *Session) GetEmbedder(name string) (embeddings.Embedder, error) {
	embedder, ok := s.embedders[name]
	if !ok {
		return nil, fmt.Errorf("embedder named %s does not exist", name)
	}
	return embedder, nil
}

// NewRelationExtractor creates a relation extractor over the given embedder
// and registers it under name.
func (s *Session) NewRelationExtractor(name string, embedder embeddings.Embedder, labelType, spanLabelType string, labels *data.Dictionary, opts ...extractor.Option) (*extractor.RelationExtractor, error) {
	if _, ok := s.extractors[name]; ok {
		return nil, fmt.Errorf("relation extractor named %s already exists", name)
	}
	r, err := extractor.New(embedder, labelType, spanLabelType, labels, opts...)
	if err != nil {
		return nil, err
	}
	s.extractors[name] = r
	return r, nil
}

// LoadRelationExtractor restores a relation extractor saved with Save and
// registers it, together with the embedding model its state names, under
// name.
func (s *Session) LoadRelationExtractor(name string, path string, opts ...extractor.Option) (*extractor.RelationExtractor, error) {
	if _, ok := s.extractors[name]; ok {
		return nil, fmt.Errorf("relation extractor named %s already exists", name)
	}
	r, err := extractor.Load(path, opts...)
	if err != nil {
		return nil, err
	}
	s.extractors[name] = r
	s.embedders[name] = r.Embedder()
	return r, nil
}

// GetRelationExtractor returns the extractor registered under name.
func (s *Session) GetRelationExtractor(name string) (*extractor.RelationExtractor, error) {
	r, ok := s.extractors[name]
	if !ok {
		return nil, fmt.Errorf("relation extractor named %s does not exist", name)
	}
	return r, nil
}

// GetStats logs the timing statistics of every registered embedder.
func (s *Session) GetStats() {
	for name, embedder := range s.embedders {
		for _, stat := range embedder.Stats() {
			log.Info().Str("embedder", name).Msg(stat)
		}
	}
}

// Destroy releases all registered models and, if the session owns it, the
// onnx runtime environment.
func (s *Session) Destroy() error {
	log.Info().Msg("Destroying embedding models")
	var errList []error
	for _, embedder := range s.embedders {
		errList = append(errList, embedder.Destroy())
	}
	s.embedders = map[string]embeddings.Embedder{}
	s.extractors = map[string]*extractor.RelationExtractor{}

	if s.ortManaged {
		log.Info().Msg("Destroying Onnx Runtime")
		errList = append(errList, ort.DestroyEnvironment())
	}
	return errors.Join(errList...)
}
