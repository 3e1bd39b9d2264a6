package data

import (
	"slices"

	"golang.org/x/exp/maps"
)

// NoRelation is the label assigned to entity pairs without a gold relation.
const NoRelation = "O"

// Dictionary is an immutable label inventory. It is built once at model
// construction and always contains NoRelation, so sharing a label list across
// models cannot alias mutable state.
type Dictionary struct {
	labels  []string
	indices map[string]int
}

// NewDictionary freezes the given labels into a dictionary, appending
// NoRelation if absent. Duplicates keep their first position.
func NewDictionary(labels ...string) *Dictionary {
	d := &Dictionary{indices: map[string]int{}}
	for _, label := range labels {
		d.add(label)
	}
	d.add(NoRelation)
	return d
}

func (d *Dictionary) add(label string) {
	if _, ok := d.indices[label]; ok {
		return
	}
	d.indices[label] = len(d.labels)
	d.labels = append(d.labels, label)
}

func (d *Dictionary) Len() int {
	return len(d.labels)
}

// Index returns the position of label, or -1 if unknown.
func (d *Dictionary) Index(label string) int {
	if i, ok := d.indices[label]; ok {
		return i
	}
	return -1
}

// Label returns the label at position i.
func (d *Dictionary) Label(i int) string {
	return d.labels[i]
}

// Labels returns the labels in index order. The result is a copy.
func (d *Dictionary) Labels() []string {
	return slices.Clone(d.labels)
}

// Contains reports whether label is in the dictionary.
func (d *Dictionary) Contains(label string) bool {
	_, ok := d.indices[label]
	return ok
}

// Equal reports whether two dictionaries assign the same indices to the same
// labels.
func (d *Dictionary) Equal(other *Dictionary) bool {
	if len(d.labels) != len(other.labels) {
		return false
	}
	keys := maps.Keys(d.indices)
	for _, k := range keys {
		i, ok := other.indices[k]
		if !ok || i != d.indices[k] {
			return false
		}
	}
	return true
}
