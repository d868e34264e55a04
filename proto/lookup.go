package proto

// HintKind distinguishes the three shapes of a per-column bound.
type HintKind uint8

const (
	HintEqual HintKind = iota
	HintRange
	HintIn
)

// ColumnHint is a per-indexed-column bound contributed by a client query.
type ColumnHint struct {
	Column string
	Kind   HintKind
	Begin  Value
	End    Value
	InSet  []Value
}

// IndexQueryContext is one indexed scan within a LookupIndexRequest: a
// chosen index plus its column bounds and an optional filter expression.
type IndexQueryContext struct {
	IndexId IndexId
	Hints   []ColumnHint
	// Filter is an opaque, pre-compiled filter expression; evaluation is
	// an external collaborator (Eval(ctx, expr) -> Value) per scope.
	Filter interface{}
}

// LookupIndices names which tag or edge type the contexts are scanning.
type LookupIndices struct {
	IsEdge      bool
	TagOrEdgeId SchemaId
	Contexts    []IndexQueryContext
}

// LookupIndexRequest is the input to the lookup planner.
type LookupIndexRequest struct {
	SpaceId       SpaceId
	Indices       LookupIndices
	ReturnColumns []string
}

// LookupIndexResponse carries the planner's output rows plus any
// planning-time failure.
type LookupIndexResponse struct {
	Columns []string
	Rows    [][]Value
	Error   ErrorCode
}
