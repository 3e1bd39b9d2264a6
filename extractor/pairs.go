package extractor

import (
	"fmt"

	"github.com/knights-analytics/relex/data"
)

// candidate is one entity pair flowing through the forward pass. Candidates
// carry their position in the flat batch explicitly so that labels, embeddings
// and label candidates can never drift out of alignment.
type candidate struct {
	index         int
	sentence      *data.Sentence // sentence the pair was generated from
	embedSentence *data.Sentence // sentence handed to the embedding provider
	head          data.Span      // spans in embedding space
	tail          data.Span
	label         string
	pending       *data.RelationLabel
}

// positionKey identifies an ordered (head, tail) span pair. Two pairs share a
// key iff both spans match by identity text.
func positionKey(head, tail data.Span) string {
	return fmt.Sprintf("%s -> %s", head.IDText(), tail.IDText())
}

// newGoldIndex builds the position key -> gold relation lookup for one
// sentence. Duplicate annotations for the same ordered pair keep the last one,
// matching the source data as given.
func newGoldIndex(sentence *data.Sentence, labelType string) map[string]data.RelationLabel {
	index := map[string]data.RelationLabel{}
	for _, relation := range sentence.Relations(labelType) {
		index[positionKey(relation.Head, relation.Tail)] = relation
	}
	return index
}

// generateCandidates walks the ordered cross product of the sentence's entity
// spans and appends one candidate per surviving pair to cands. Iteration order
// is the annotation order of the spans, outer then inner; this order is load
// bearing since every downstream stage is zipped positionally.
func (r *RelationExtractor) generateCandidates(sentence *data.Sentence, cands []*candidate, returnCandidates bool) ([]*candidate, error) {
	goldIndex := newGoldIndex(sentence, r.labelType)
	spanLabels := sentence.Spans(r.spanLabelType)

	for _, spanLabel := range spanLabels {
		span1 := spanLabel.Span

		for _, spanLabel2 := range spanLabels {
			span2 := spanLabel2.Span

			if span1.Equal(span2) {
				continue
			}

			if r.entityPairs != nil {
				if _, ok := r.entityPairs[[2]string{spanLabel.Value, spanLabel2.Value}]; !ok {
					continue
				}
			}

			var label string
			if gold, ok := goldIndex[positionKey(span1, span2)]; ok {
				label = gold.Value
			} else if r.useGoldSpans {
				// gold pairs only: pairs without an annotation are excluded
				// rather than labeled as no-relation
				continue
			} else {
				label = data.NoRelation
			}

			c := &candidate{
				index:    len(cands),
				sentence: sentence,
				label:    label,
			}

			if r.useEntityMarkers {
				expanded, head, tail, err := addEntityMarkers(sentence, span1, span2)
				if err != nil {
					return nil, err
				}
				c.embedSentence = expanded
				c.head = head
				c.tail = tail
			} else {
				c.embedSentence = sentence
				c.head = span1
				c.tail = span2
			}

			if returnCandidates {
				c.pending = &data.RelationLabel{Head: span1, Tail: span2}
			}

			cands = append(cands, c)
		}
	}
	return cands, nil
}
