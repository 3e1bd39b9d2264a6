package data

import (
	"fmt"
	"strings"
)

// Span is a contiguous sequence of tokens inside one sentence, identified as
// an entity mention. Spans are value types over shared token pointers and are
// never mutated after creation.
type Span struct {
	Tokens []*Token
}

func (s Span) First() *Token {
	return s.Tokens[0]
}

func (s Span) Last() *Token {
	return s.Tokens[len(s.Tokens)-1]
}

func (s Span) Text() string {
	parts := make([]string, len(s.Tokens))
	for i, token := range s.Tokens {
		parts[i] = token.Text
	}
	return strings.Join(parts, " ")
}

// IDText is the stable identity of a span within its sentence: the token
// positions plus the surface text. Two spans are the same mention iff their
// IDText is equal.
func (s Span) IDText() string {
	return fmt.Sprintf("span[%d:%d]: %q", s.First().Index, s.Last().Index+1, s.Text())
}

// Equal compares spans by identity text.
func (s Span) Equal(other Span) bool {
	return s.IDText() == other.IDText()
}

// SpanLabel is an entity annotation: a span tagged with an entity type.
type SpanLabel struct {
	Span  Span
	Value string
	Score float32
}
