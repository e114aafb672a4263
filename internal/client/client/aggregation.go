package client

import (
	"fmt"

	"github.com/dmitrijs2005/synckit/internal/client/query"
)

// Aggregation is a server-side grouping: documents matching Condition are
// grouped by Key and folded with the JavaScript Reduce function, starting
// from Initial.
type Aggregation struct {
	Key       []string
	Initial   map[string]any
	Reduce    string
	Condition query.Predicate
}

func (a Aggregation) keyDoc() map[string]bool {
	k := make(map[string]bool, len(a.Key))
	for _, f := range a.Key {
		k[f] = true
	}
	return k
}

// Where restricts the aggregation to matching documents.
func (a Aggregation) Where(p query.Predicate) Aggregation {
	a.Condition = p
	return a
}

// CountBy counts documents per group.
func CountBy(groupBy ...string) Aggregation {
	return Aggregation{
		Key:     groupBy,
		Initial: map[string]any{"count": 0},
		Reduce:  "function(doc, out) { out.count++; }",
	}
}

func Sum(field string, groupBy ...string) Aggregation {
	return Aggregation{
		Key:     groupBy,
		Initial: map[string]any{"sum": 0},
		Reduce:  fmt.Sprintf("function(doc, out) { out.sum += doc[%q]; }", field),
	}
}

func Min(field string, groupBy ...string) Aggregation {
	return Aggregation{
		Key:     groupBy,
		Initial: map[string]any{"min": "Infinity"},
		Reduce:  fmt.Sprintf("function(doc, out) { out.min = Math.min(out.min, doc[%q]); }", field),
	}
}

func Max(field string, groupBy ...string) Aggregation {
	return Aggregation{
		Key:     groupBy,
		Initial: map[string]any{"max": "-Infinity"},
		Reduce:  fmt.Sprintf("function(doc, out) { out.max = Math.max(out.max, doc[%q]); }", field),
	}
}

func Average(field string, groupBy ...string) Aggregation {
	return Aggregation{
		Key:     groupBy,
		Initial: map[string]any{"count": 0, "average": 0},
		Reduce: fmt.Sprintf("function(doc, out) { out.average = (out.average * out.count + doc[%q]) / (out.count + 1); out.count++; }",
			field),
	}
}
