package data

// RelationLabel is a directed, labeled edge between two spans of the same
// sentence. Gold relations are a sparse subset of all ordered span pairs.
type RelationLabel struct {
	Head  Span
	Tail  Span
	Value string
	Score float32
}
