// Package data holds the sentence, span and label types consumed by the
// relation extraction head. Sentences are whitespace tokenized: annotation
// layers (entity markers in particular) rely on tokens being literal,
// space-separated strings.
package data

import (
	"strings"
)

// Token is a single word of a sentence. Embedding is populated in place by an
// embedding provider.
type Token struct {
	Text      string
	Index     int
	Embedding []float32
}

// Sentence is an ordered list of tokens plus typed annotation layers.
// A sentence additionally carries a document-level embedding when embedded by
// a whole-document provider.
type Sentence struct {
	Tokens    []*Token
	Embedding []float32

	spans     map[string][]SpanLabel
	relations map[string][]RelationLabel
}

// NewSentence splits text on whitespace. No subword tokenization happens
// here: the transformer tokenizers operate on the joined text downstream and
// map back to these tokens by character offset.
func NewSentence(text string) *Sentence {
	fields := strings.Fields(text)
	sentence := &Sentence{Tokens: make([]*Token, len(fields))}
	for i, field := range fields {
		sentence.Tokens[i] = &Token{Text: field, Index: i}
	}
	return sentence
}

func (s *Sentence) Text() string {
	parts := make([]string, len(s.Tokens))
	for i, token := range s.Tokens {
		parts[i] = token.Text
	}
	return strings.Join(parts, " ")
}

func (s *Sentence) Len() int {
	return len(s.Tokens)
}

// NewSpan builds a span over tokens [start, end) of this sentence.
func (s *Sentence) NewSpan(start, end int) Span {
	return Span{Tokens: s.Tokens[start:end]}
}

// AddSpan annotates tokens [start, end) as an entity mention of the given
// type under the annotation layer typeName.
func (s *Sentence) AddSpan(typeName string, start, end int, value string, score float32) SpanLabel {
	label := SpanLabel{Span: s.NewSpan(start, end), Value: value, Score: score}
	if s.spans == nil {
		s.spans = map[string][]SpanLabel{}
	}
	s.spans[typeName] = append(s.spans[typeName], label)
	return label
}

// Spans returns the entity annotations of the given layer, in insertion order.
func (s *Sentence) Spans(typeName string) []SpanLabel {
	return s.spans[typeName]
}

// AddRelation annotates a directed relation between two spans under the
// annotation layer typeName.
func (s *Sentence) AddRelation(typeName string, label RelationLabel) {
	if s.relations == nil {
		s.relations = map[string][]RelationLabel{}
	}
	s.relations[typeName] = append(s.relations[typeName], label)
}

// Relations returns the relation annotations of the given layer, in insertion
// order.
func (s *Sentence) Relations(typeName string) []RelationLabel {
	return s.relations[typeName]
}

// ClearRelations drops all relation annotations of the given layer. Predict
// uses this so repeated prediction does not accumulate labels.
func (s *Sentence) ClearRelations(typeName string) {
	if s.relations != nil {
		delete(s.relations, typeName)
	}
}
