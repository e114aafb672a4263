// Package query holds the query model of the sync engine and translates it
// into the two dialects that execute it: SQL over the local store's JSON
// documents and the backend's Mongo-style wire filter. Predicates that SQL
// cannot evaluate (geo, regex) run through the in-memory matcher instead.
package query

import "github.com/dmitrijs2005/synckit/internal/client/models"

// Predicate is a node of a filter expression.
type Predicate interface {
	isPredicate()
}

// Op is a comparison operator.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpGt
	OpGte
	OpLt
	OpLte
	OpIn
	OpNotIn
	OpRegex
	OpExists
)

var wireOps = map[Op]string{
	OpNe:     "$ne",
	OpGt:     "$gt",
	OpGte:    "$gte",
	OpLt:     "$lt",
	OpLte:    "$lte",
	OpIn:     "$in",
	OpNotIn:  "$nin",
	OpRegex:  "$regex",
	OpExists: "$exists",
}

var sqlOps = map[Op]string{
	OpEq:  "=",
	OpGt:  ">",
	OpGte: ">=",
	OpLt:  "<",
	OpLte: "<=",
}

// Comparison compares the value at Field (a dotted semantic path) with Value.
type Comparison struct {
	Field string
	Op    Op
	Value any
}

// LogicalOp joins terms.
type LogicalOp int

const (
	LogicalAnd LogicalOp = iota
	LogicalOr
)

type Logical struct {
	Op    LogicalOp
	Terms []Predicate
}

type Negation struct {
	Term Predicate
}

// WithinCircle matches geo points at most RadiusMeters from Center.
type WithinCircle struct {
	Field        string
	Center       models.GeoPoint
	RadiusMeters float64
}

// WithinPolygon matches geo points inside the closed ring Points.
type WithinPolygon struct {
	Field  string
	Points []models.GeoPoint
}

func (Comparison) isPredicate()    {}
func (Logical) isPredicate()       {}
func (Negation) isPredicate()      {}
func (WithinCircle) isPredicate()  {}
func (WithinPolygon) isPredicate() {}

func Eq(field string, v any) Comparison  { return Comparison{Field: field, Op: OpEq, Value: v} }
func Ne(field string, v any) Comparison  { return Comparison{Field: field, Op: OpNe, Value: v} }
func Gt(field string, v any) Comparison  { return Comparison{Field: field, Op: OpGt, Value: v} }
func Gte(field string, v any) Comparison { return Comparison{Field: field, Op: OpGte, Value: v} }
func Lt(field string, v any) Comparison  { return Comparison{Field: field, Op: OpLt, Value: v} }
func Lte(field string, v any) Comparison { return Comparison{Field: field, Op: OpLte, Value: v} }

func In(field string, vs ...any) Comparison    { return Comparison{Field: field, Op: OpIn, Value: vs} }
func NotIn(field string, vs ...any) Comparison { return Comparison{Field: field, Op: OpNotIn, Value: vs} }

// Regex matches string values against a RE2 pattern.
func Regex(field, pattern string) Comparison {
	return Comparison{Field: field, Op: OpRegex, Value: pattern}
}

func Exists(field string, exists bool) Comparison {
	return Comparison{Field: field, Op: OpExists, Value: exists}
}

func And(terms ...Predicate) Logical { return Logical{Op: LogicalAnd, Terms: terms} }
func Or(terms ...Predicate) Logical  { return Logical{Op: LogicalOr, Terms: terms} }
func Not(term Predicate) Negation    { return Negation{Term: term} }

func Near(field string, center models.GeoPoint, meters float64) WithinCircle {
	return WithinCircle{Field: field, Center: center, RadiusMeters: meters}
}

func InPolygon(field string, points ...models.GeoPoint) WithinPolygon {
	return WithinPolygon{Field: field, Points: points}
}

// needsMemory reports whether p contains a node SQL cannot evaluate.
func needsMemory(p Predicate) bool {
	switch t := p.(type) {
	case nil:
		return false
	case Comparison:
		return t.Op == OpRegex
	case WithinCircle, WithinPolygon:
		return true
	case Logical:
		for _, term := range t.Terms {
			if needsMemory(term) {
				return true
			}
		}
		return false
	case Negation:
		return needsMemory(t.Term)
	default:
		return false
	}
}
