package query

// SortKey orders results by one field.
type SortKey struct {
	Field      string
	Descending bool
}

// Query selects documents of one collection. A nil *Query selects everything.
type Query struct {
	Filter Predicate
	Sort   []SortKey
	Fields []string
	Skip   int
	Limit  int
}

// New returns a query with the given filter.
func New(filter Predicate) *Query {
	return &Query{Filter: filter}
}

func (q *Query) Ascending(field string) *Query {
	q.Sort = append(q.Sort, SortKey{Field: field})
	return q
}

func (q *Query) Descending(field string) *Query {
	q.Sort = append(q.Sort, SortKey{Field: field, Descending: true})
	return q
}

func (q *Query) WithFields(fields ...string) *Query {
	q.Fields = append(q.Fields, fields...)
	return q
}

func (q *Query) WithSkip(n int) *Query {
	q.Skip = n
	return q
}

func (q *Query) WithLimit(n int) *Query {
	q.Limit = n
	return q
}

// Clone returns a copy that can be modified independently. Predicates are
// immutable values and are shared.
func (q *Query) Clone() *Query {
	if q == nil {
		return &Query{}
	}
	c := *q
	c.Sort = append([]SortKey(nil), q.Sort...)
	c.Fields = append([]string(nil), q.Fields...)
	return &c
}

// Paginated reports whether skip or limit is set.
func (q *Query) Paginated() bool {
	return q != nil && (q.Skip > 0 || q.Limit > 0)
}

// Unconstrained reports whether the query selects the whole collection.
func (q *Query) Unconstrained() bool {
	return q == nil || (q.Filter == nil && !q.Paginated())
}

// Projected reports whether only some fields are requested.
func (q *Query) Projected() bool {
	return q != nil && len(q.Fields) > 0
}

func (q *Query) filter() Predicate {
	if q == nil {
		return nil
	}
	return q.Filter
}
