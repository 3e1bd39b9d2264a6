package extractor

import (
	"fmt"
	"strings"

	"github.com/knights-analytics/relex/data"
)

// Marker tokens inserted around the two entity spans of a candidate. Marker
// numbering follows argument identity: span1 is always bracketed by the e1
// markers, span2 by the e2 markers, regardless of reading order.
const (
	markerHeadOpen  = "<e1>"
	markerHeadClose = "</e1>"
	markerTailOpen  = "<e2>"
	markerTailClose = "</e2>"
)

// addEntityMarkers rewrites the sentence with inline boundary markers around
// span1 and span2 in a single left-to-right scan. It returns the rewritten
// sentence plus the two single-token marker spans in reading order: the span
// occurring first in the sentence comes first in the returned pair.
//
// The spans must be non-overlapping contiguous spans of the given sentence.
// If the rewritten sentence does not carry the expected marker token at the
// computed position the call fails: tokenization drifted between the original
// and rewritten text, and continuing would silently misalign every downstream
// prediction of the batch.
func addEntityMarkers(sentence *data.Sentence, span1, span2 data.Span) (*data.Sentence, data.Span, data.Span, error) {
	var words []string
	span1Start := -1
	span2Start := -1
	entityOneIsFirst := true
	firstSeen := false

	for _, token := range sentence.Tokens {
		if token == span2.First() {
			if !firstSeen {
				entityOneIsFirst = false
				firstSeen = true
			}
			span2Start = len(words)
			words = append(words, markerTailOpen)
		}
		if token == span1.First() {
			if !firstSeen {
				firstSeen = true
			}
			span1Start = len(words)
			words = append(words, markerHeadOpen)
		}

		words = append(words, token.Text)

		if token == span1.Last() {
			words = append(words, markerHeadClose)
		}
		if token == span2.Last() {
			words = append(words, markerTailClose)
		}
	}

	var none data.Span
	if span1Start < 0 || span2Start < 0 {
		return nil, none, none, fmt.Errorf("entity marker rewrite: spans %s and %s not found in sentence %q",
			span1.IDText(), span2.IDText(), sentence.Text())
	}

	expanded := data.NewSentence(strings.Join(words, " "))

	expandedSpan1 := expanded.NewSpan(span1Start, span1Start+1)
	expandedSpan2 := expanded.NewSpan(span2Start, span2Start+1)

	if expandedSpan1.Text() != markerHeadOpen {
		return nil, none, none, fmt.Errorf("entity marker rewrite: expected %s at token %d of %q, found %q",
			markerHeadOpen, span1Start, expanded.Text(), expandedSpan1.Text())
	}
	if expandedSpan2.Text() != markerTailOpen {
		return nil, none, none, fmt.Errorf("entity marker rewrite: expected %s at token %d of %q, found %q",
			markerTailOpen, span2Start, expanded.Text(), expandedSpan2.Text())
	}

	if entityOneIsFirst {
		return expanded, expandedSpan1, expandedSpan2, nil
	}
	return expanded, expandedSpan2, expandedSpan1, nil
}
