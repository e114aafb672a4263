package query

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/dmitrijs2005/synckit/internal/common"
	"github.com/goccy/go-json"
)

// Translator translates queries of one collection. A nil schema maps every
// name to itself.
type Translator struct {
	schema *Schema
}

func NewTranslator(s *Schema) *Translator {
	return &Translator{schema: s}
}

// Schema returns the translator's schema (possibly nil).
func (t *Translator) Schema() *Schema {
	return t.schema
}

// SQLFilter is a query rendered for the records table. Expressions refer to
// the JSON column "doc".
//
// When InMemory is set the filter could not be expressed in SQL: Where is
// "1 = 1", OrderBy, Limit and Offset are empty and the caller must run Apply
// over the rows.
type SQLFilter struct {
	Where     string
	WhereArgs []any
	OrderBy   string
	OrderArgs []any
	Limit     int
	Offset    int
	InMemory  bool
}

// SQL renders q for the local store.
func (t *Translator) SQL(q *Query) (SQLFilter, error) {
	if needsMemory(q.filter()) {
		// Validate paths up front so errors surface before any rows are read.
		if err := t.validate(q.filter()); err != nil {
			return SQLFilter{}, err
		}
		return SQLFilter{Where: "1 = 1", InMemory: true}, nil
	}

	b := &sqlBuilder{schema: t.schema}
	out := SQLFilter{Where: "1 = 1"}
	if f := q.filter(); f != nil {
		where, err := b.pred(f)
		if err != nil {
			return SQLFilter{}, err
		}
		out.Where = where
		out.WhereArgs = b.args
	}

	if q != nil {
		var terms []string
		for _, k := range q.Sort {
			p, err := t.schema.Resolve(k.Field)
			if err != nil {
				return SQLFilter{}, err
			}
			dir := "ASC"
			if k.Descending {
				dir = "DESC"
			}
			terms = append(terms, "json_extract(doc, ?) "+dir)
			out.OrderArgs = append(out.OrderArgs, jsonPath(p.wire))
		}
		out.OrderBy = strings.Join(terms, ", ")
		out.Limit = q.Limit
		out.Offset = q.Skip
	}
	return out, nil
}

type sqlBuilder struct {
	schema *Schema
	args   []any
	alias  int
}

func (b *sqlBuilder) pred(p Predicate) (string, error) {
	switch t := p.(type) {
	case Comparison:
		return b.comparison(t)
	case Logical:
		if len(t.Terms) == 0 {
			if t.Op == LogicalAnd {
				return "1 = 1", nil
			}
			return "1 = 0", nil
		}
		joiner := " AND "
		if t.Op == LogicalOr {
			joiner = " OR "
		}
		parts := make([]string, 0, len(t.Terms))
		for _, term := range t.Terms {
			s, err := b.pred(term)
			if err != nil {
				return "", err
			}
			parts = append(parts, "("+s+")")
		}
		return strings.Join(parts, joiner), nil
	case Negation:
		s, err := b.pred(t.Term)
		if err != nil {
			return "", err
		}
		return negate(s), nil
	default:
		return "", common.NewError(common.KindInvalidQuery, fmt.Sprintf("unsupported predicate %T", p))
	}
}

func negate(s string) string {
	return "NOT IFNULL((" + s + "), 0)"
}

func (b *sqlBuilder) comparison(c Comparison) (string, error) {
	p, err := b.schema.Resolve(c.Field)
	if err != nil {
		return "", err
	}

	switch c.Op {
	case OpNe:
		s, err := b.comparison(Comparison{Field: c.Field, Op: OpEq, Value: c.Value})
		if err != nil {
			return "", err
		}
		return negate(s), nil
	case OpNotIn:
		s, err := b.comparison(Comparison{Field: c.Field, Op: OpIn, Value: c.Value})
		if err != nil {
			return "", err
		}
		return negate(s), nil
	case OpExists:
		want, ok := c.Value.(bool)
		if !ok {
			return "", common.NewError(common.KindInvalidQuery, "exists expects a bool")
		}
		s := b.path("doc", p.segs, func(src string, path []segment) string {
			if len(path) == 0 {
				return "1"
			}
			b.args = append(b.args, segPath(path))
			return "json_type(" + src + ", ?) IS NOT NULL"
		})
		if !want {
			return negate(s), nil
		}
		return s, nil
	case OpIn:
		values, err := toList(c.Value)
		if err != nil {
			return "", err
		}
		if len(values) == 0 {
			return "1 = 0", nil
		}
		return b.path("doc", p.segs, func(src string, path []segment) string {
			expr := b.extract(src, path)
			marks := make([]string, len(values))
			for i, v := range values {
				marks[i] = "?"
				b.args = append(b.args, sqlValue(v))
			}
			return expr + " IN (" + strings.Join(marks, ", ") + ")"
		}), nil
	case OpEq, OpGt, OpGte, OpLt, OpLte:
		return b.path("doc", p.segs, func(src string, path []segment) string {
			expr := b.extract(src, path)
			if c.Value == nil && c.Op == OpEq {
				return expr + " IS NULL"
			}
			b.args = append(b.args, sqlValue(c.Value))
			return expr + " " + sqlOps[c.Op] + " ?"
		}), nil
	default:
		return "", common.NewError(common.KindInvalidQuery, fmt.Sprintf("operator %d has no SQL form", c.Op))
	}
}

// path renders cond for the value at segs, iterating list segments with
// json_each so a condition holds when any element satisfies it.
func (b *sqlBuilder) path(src string, segs []segment, cond func(src string, rest []segment) string) string {
	for i, s := range segs {
		if !s.list {
			continue
		}
		b.alias++
		alias := fmt.Sprintf("je%d", b.alias)
		b.args = append(b.args, segPath(segs[:i+1]))
		inner := b.path(alias+".value", segs[i+1:], cond)
		return "EXISTS (SELECT 1 FROM json_each(" + src + ", ?) AS " + alias + " WHERE " + inner + ")"
	}
	return cond(src, segs)
}

func (b *sqlBuilder) extract(src string, path []segment) string {
	if len(path) == 0 {
		return src
	}
	b.args = append(b.args, segPath(path))
	return "json_extract(" + src + ", ?)"
}

func segPath(segs []segment) string {
	keys := make([]string, len(segs))
	for i, s := range segs {
		keys[i] = s.key
	}
	return jsonPath(keys)
}

func jsonPath(keys []string) string {
	var sb strings.Builder
	sb.WriteString("$")
	for _, k := range keys {
		sb.WriteString(`."`)
		sb.WriteString(k)
		sb.WriteString(`"`)
	}
	return sb.String()
}

// sqlValue converts a predicate operand to what json_extract yields for the
// same JSON value.
func sqlValue(v any) any {
	switch t := v.(type) {
	case bool:
		if t {
			return int64(1)
		}
		return int64(0)
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case int64, float64, string:
		return t
	case float32:
		return float64(t)
	case map[string]any, []any:
		b, _ := json.Marshal(t)
		return string(b)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		var decoded any
		if json.Unmarshal(b, &decoded) == nil {
			if _, isStruct := decoded.(map[string]any); !isStruct {
				return sqlValue(decoded)
			}
		}
		return string(b)
	}
}

func toList(v any) ([]any, error) {
	if v == nil {
		return nil, nil
	}
	if l, ok := v.([]any); ok {
		return l, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, common.NewError(common.KindInvalidQuery, fmt.Sprintf("expected a list operand, got %T", v))
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

func (t *Translator) validate(p Predicate) error {
	switch v := p.(type) {
	case nil:
		return nil
	case Comparison:
		_, err := t.schema.Resolve(v.Field)
		return err
	case WithinCircle:
		_, err := t.schema.Resolve(v.Field)
		return err
	case WithinPolygon:
		if len(v.Points) < 3 {
			return common.NewError(common.KindInvalidQuery, "polygon needs at least 3 points")
		}
		_, err := t.schema.Resolve(v.Field)
		return err
	case Logical:
		for _, term := range v.Terms {
			if err := t.validate(term); err != nil {
				return err
			}
		}
		return nil
	case Negation:
		return t.validate(v.Term)
	default:
		return common.NewError(common.KindInvalidQuery, fmt.Sprintf("unsupported predicate %T", p))
	}
}
