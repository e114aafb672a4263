package query

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/dmitrijs2005/synckit/internal/client/models"
	"github.com/dmitrijs2005/synckit/internal/common"
)

// Match evaluates p against a wire-form document. Paths crossing lists match
// when any element matches.
func (t *Translator) Match(p Predicate, doc map[string]any) (bool, error) {
	switch v := p.(type) {
	case nil:
		return true, nil
	case Comparison:
		path, err := t.schema.Resolve(v.Field)
		if err != nil {
			return false, err
		}
		return matchComparison(v, lookupAll(doc, path.wire))
	case WithinCircle:
		path, err := t.schema.Resolve(v.Field)
		if err != nil {
			return false, err
		}
		pt, ok := geoAt(doc, path.wire)
		if !ok {
			return false, nil
		}
		return Distance(v.Center, pt) <= v.RadiusMeters, nil
	case WithinPolygon:
		if len(v.Points) < 3 {
			return false, common.NewError(common.KindInvalidQuery, "polygon needs at least 3 points")
		}
		path, err := t.schema.Resolve(v.Field)
		if err != nil {
			return false, err
		}
		pt, ok := geoAt(doc, path.wire)
		if !ok {
			return false, nil
		}
		return inPolygon(pt, v.Points), nil
	case Logical:
		for _, term := range v.Terms {
			ok, err := t.Match(term, doc)
			if err != nil {
				return false, err
			}
			if v.Op == LogicalOr && ok {
				return true, nil
			}
			if v.Op == LogicalAnd && !ok {
				return false, nil
			}
		}
		return v.Op == LogicalAnd, nil
	case Negation:
		ok, err := t.Match(v.Term, doc)
		return !ok, err
	default:
		return false, common.NewError(common.KindInvalidQuery, fmt.Sprintf("unsupported predicate %T", p))
	}
}

func matchComparison(c Comparison, values []any) (bool, error) {
	switch c.Op {
	case OpExists:
		want, ok := c.Value.(bool)
		if !ok {
			return false, common.NewError(common.KindInvalidQuery, "exists expects a bool")
		}
		return (len(values) > 0) == want, nil
	case OpEq:
		return anyEqual(values, c.Value), nil
	case OpNe:
		return !anyEqual(values, c.Value), nil
	case OpIn, OpNotIn:
		list, err := toList(c.Value)
		if err != nil {
			return false, err
		}
		found := false
		for _, want := range list {
			if anyEqual(values, want) {
				found = true
				break
			}
		}
		return found == (c.Op == OpIn), nil
	case OpGt, OpGte, OpLt, OpLte:
		for _, v := range values {
			cmp, ok := compareSameRank(v, c.Value)
			if !ok {
				continue
			}
			switch {
			case c.Op == OpGt && cmp > 0,
				c.Op == OpGte && cmp >= 0,
				c.Op == OpLt && cmp < 0,
				c.Op == OpLte && cmp <= 0:
				return true, nil
			}
		}
		return false, nil
	case OpRegex:
		pattern, ok := c.Value.(string)
		if !ok {
			return false, common.NewError(common.KindInvalidQuery, "regex expects a string pattern")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, common.Wrap(common.KindInvalidQuery, "invalid regex", err)
		}
		for _, v := range values {
			if s, ok := v.(string); ok && re.MatchString(s) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, common.NewError(common.KindInvalidQuery, fmt.Sprintf("unknown operator %d", c.Op))
	}
}

func anyEqual(values []any, want any) bool {
	if want == nil {
		if len(values) == 0 {
			return true
		}
		for _, v := range values {
			if v == nil {
				return true
			}
		}
		return false
	}
	want = wireValue(want)
	for _, v := range values {
		if cmp, ok := compareSameRank(v, want); ok && cmp == 0 {
			return true
		}
		if reflect.DeepEqual(v, want) {
			return true
		}
	}
	return false
}

// lookupAll returns every value reachable at keys, expanding lists along the
// way. A list found at the end is returned both whole and element-wise.
func lookupAll(doc map[string]any, keys []string) []any {
	var out []any
	var walk func(v any, rest []string)
	walk = func(v any, rest []string) {
		if len(rest) == 0 {
			out = append(out, v)
			if list, ok := v.([]any); ok {
				out = append(out, list...)
			}
			return
		}
		switch t := v.(type) {
		case map[string]any:
			next, ok := t[rest[0]]
			if !ok {
				return
			}
			walk(next, rest[1:])
		case []any:
			for _, e := range t {
				walk(e, rest)
			}
		}
	}
	walk(doc, keys)
	return out
}

// lookup returns the value at keys without list expansion.
func lookup(doc map[string]any, keys []string) (any, bool) {
	var cur any = doc
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[k]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func geoAt(doc map[string]any, keys []string) (models.GeoPoint, bool) {
	v, ok := lookup(doc, keys)
	if !ok || v == nil {
		return models.GeoPoint{}, false
	}
	pt, err := models.ParseGeoPoint(v)
	if err != nil {
		return models.GeoPoint{}, false
	}
	return pt, true
}

// rank orders values of different types: null, numbers and booleans,
// strings, everything else.
func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case float64, float32, int, int32, int64, bool:
		return 1
	case string:
		return 2
	default:
		return 3
	}
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case bool:
		if n {
			return 1
		}
	}
	return 0
}

func compareSameRank(a, b any) (int, bool) {
	ra, rb := rank(a), rank(b)
	if ra != rb || ra == 3 {
		return 0, false
	}
	return compareValues(a, b), true
}

func compareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case 1:
		x, y := number(a), number(b)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case 2:
		return strings.Compare(a.(string), b.(string))
	case 3:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
	return 0
}

// Sort orders documents by q's sort keys. Missing values sort first.
func (t *Translator) Sort(q *Query, docs []map[string]any) error {
	if q == nil || len(q.Sort) == 0 {
		return nil
	}
	paths := make([][]string, len(q.Sort))
	for i, k := range q.Sort {
		p, err := t.schema.Resolve(k.Field)
		if err != nil {
			return err
		}
		paths[i] = p.wire
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for n, k := range q.Sort {
			a, _ := lookup(docs[i], paths[n])
			b, _ := lookup(docs[j], paths[n])
			c := compareValues(a, b)
			if c == 0 {
				continue
			}
			if k.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return nil
}

// Apply filters, sorts and pages docs entirely in memory.
func (t *Translator) Apply(q *Query, docs []map[string]any) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		ok, err := t.Match(q.filter(), d)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	if err := t.Sort(q, out); err != nil {
		return nil, err
	}
	if q == nil {
		return out, nil
	}
	if q.Skip > 0 {
		if q.Skip >= len(out) {
			return []map[string]any{}, nil
		}
		out = out[q.Skip:]
	}
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out, nil
}

// Distance is the haversine great-circle distance in meters.
func Distance(a, b models.GeoPoint) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(b.Latitude - a.Latitude)
	dLon := rad(b.Longitude - a.Longitude)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(a.Latitude))*math.Cos(rad(b.Latitude))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// inPolygon is the even-odd ray casting test on (longitude, latitude).
func inPolygon(pt models.GeoPoint, ring []models.GeoPoint) bool {
	inside := false
	x, y := pt.Longitude, pt.Latitude
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		xi, yi := ring[i].Longitude, ring[i].Latitude
		xj, yj := ring[j].Longitude, ring[j].Latitude
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// Project keeps the requested top-level fields of doc plus the envelope.
func (t *Translator) Project(q *Query, doc map[string]any) map[string]any {
	if !q.Projected() {
		return doc
	}
	keep := map[string]bool{common.FieldID: true, common.FieldACL: true, common.FieldMetadata: true}
	for _, f := range q.Fields {
		p, err := t.schema.Resolve(f)
		if err != nil {
			continue
		}
		keep[p.wire[0]] = true
	}
	out := make(map[string]any, len(keep))
	for k, v := range doc {
		if keep[k] {
			out[k] = v
		}
	}
	return out
}
