// Package datasets reads relation extraction corpora in jsonl form: one json
// record per line carrying the sentence text, its entity mentions, and the
// gold relations between them.
package datasets

import (
	"bufio"
	"context"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/knights-analytics/relex/data"
	"github.com/knights-analytics/relex/util"
)

// entityRecord is one entity mention, as a [start, end) token range.
type entityRecord struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Label string `json:"label"`
}

// relationRecord is one gold relation between two entities of the same
// record, referenced by their position in the entities list.
type relationRecord struct {
	Head  int    `json:"head"`
	Tail  int    `json:"tail"`
	Label string `json:"label"`
}

type sentenceRecord struct {
	Text      string           `json:"text"`
	Entities  []entityRecord   `json:"entities"`
	Relations []relationRecord `json:"relations"`
}

// Dataset streams batches of annotated sentences from a jsonl corpus.
// Corpora can live on the local filesystem or on s3.
type Dataset struct {
	source        io.Closer
	scanner       *bufio.Scanner
	batchSize     int
	labelType     string
	spanLabelType string
	line          int
}

// NewDataset opens the corpus at path. labelType and spanLabelType name the
// annotation layers the records are loaded into, matching the layers the
// relation extractor is configured with.
func NewDataset(path string, batchSize int, labelType, spanLabelType string) (*Dataset, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("dataset batch size must be at least 1, got %d", batchSize)
	}
	exists, err := util.FileExists(path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("dataset %s does not exist", path)
	}
	source, err := util.FileSystem.OpenURL(context.Background(), path)
	if err != nil {
		return nil, fmt.Errorf("opening dataset %s: %w", path, err)
	}
	scanner := bufio.NewScanner(source)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Dataset{
		source:        source,
		scanner:       scanner,
		batchSize:     batchSize,
		labelType:     labelType,
		spanLabelType: spanLabelType,
	}, nil
}

// Next returns the next batch of at most batchSize sentences, or io.EOF once
// the corpus is exhausted. The final batch may be shorter.
func (d *Dataset) Next() ([]*data.Sentence, error) {
	batch := make([]*data.Sentence, 0, d.batchSize)
	for len(batch) < d.batchSize && d.scanner.Scan() {
		d.line++
		line := d.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record sentenceRecord
		if err := jsoniter.Unmarshal(line, &record); err != nil {
			return nil, fmt.Errorf("dataset line %d: %w", d.line, err)
		}
		sentence, err := d.parseRecord(record)
		if err != nil {
			return nil, fmt.Errorf("dataset line %d: %w", d.line, err)
		}
		batch = append(batch, sentence)
	}
	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, io.EOF
	}
	return batch, nil
}

func (d *Dataset) parseRecord(record sentenceRecord) (*data.Sentence, error) {
	sentence := data.NewSentence(record.Text)

	spans := make([]data.SpanLabel, len(record.Entities))
	for i, entity := range record.Entities {
		if entity.Start < 0 || entity.End > sentence.Len() || entity.Start >= entity.End {
			return nil, fmt.Errorf("entity %d: token range [%d, %d) is invalid for a %d token sentence",
				i, entity.Start, entity.End, sentence.Len())
		}
		spans[i] = sentence.AddSpan(d.spanLabelType, entity.Start, entity.End, entity.Label, 1)
	}

	for i, relation := range record.Relations {
		if relation.Head < 0 || relation.Head >= len(spans) || relation.Tail < 0 || relation.Tail >= len(spans) {
			return nil, fmt.Errorf("relation %d: entity reference (%d, %d) is out of range for %d entities",
				i, relation.Head, relation.Tail, len(spans))
		}
		sentence.AddRelation(d.labelType, data.RelationLabel{
			Head:  spans[relation.Head].Span,
			Tail:  spans[relation.Tail].Span,
			Value: relation.Label,
			Score: 1,
		})
	}
	return sentence, nil
}

// Close releases the underlying corpus reader.
func (d *Dataset) Close() error {
	return util.CloseFile(d.source)
}

// LoadAll reads a whole corpus into memory. Intended for test sets and label
// inventory scans, not for corpora that should be streamed.
func LoadAll(path string, labelType, spanLabelType string) ([]*data.Sentence, error) {
	dataset, err := NewDataset(path, 64, labelType, spanLabelType)
	if err != nil {
		return nil, err
	}
	defer dataset.Close()

	var sentences []*data.Sentence
	for {
		batch, err := dataset.Next()
		if err == io.EOF {
			return sentences, nil
		}
		if err != nil {
			return nil, err
		}
		sentences = append(sentences, batch...)
	}
}

// Labels collects the relation label inventory of a corpus into a dictionary.
// The no-relation label is always included.
func Labels(sentences []*data.Sentence, labelType string) *data.Dictionary {
	var labels []string
	seen := map[string]struct{}{}
	for _, sentence := range sentences {
		for _, relation := range sentence.Relations(labelType) {
			if _, ok := seen[relation.Value]; !ok {
				seen[relation.Value] = struct{}{}
				labels = append(labels, relation.Value)
			}
		}
	}
	return data.NewDictionary(labels...)
}
