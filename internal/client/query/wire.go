package query

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/synckit/internal/client/models"
	"github.com/dmitrijs2005/synckit/internal/common"
	"github.com/goccy/go-json"
)

// EarthRadiusMeters converts distances to the radians used by $centerSphere.
const EarthRadiusMeters = 6371000.0

// Filter renders p as a Mongo-style filter document.
func (t *Translator) Filter(p Predicate) (map[string]any, error) {
	switch v := p.(type) {
	case nil:
		return map[string]any{}, nil
	case Comparison:
		path, err := t.schema.Resolve(v.Field)
		if err != nil {
			return nil, err
		}
		key := path.Wire()
		value := wireValue(v.Value)
		switch v.Op {
		case OpEq:
			return map[string]any{key: value}, nil
		case OpIn, OpNotIn:
			list, err := toList(v.Value)
			if err != nil {
				return nil, err
			}
			for i := range list {
				list[i] = wireValue(list[i])
			}
			if list == nil {
				list = []any{}
			}
			return map[string]any{key: map[string]any{wireOps[v.Op]: list}}, nil
		default:
			op, ok := wireOps[v.Op]
			if !ok {
				return nil, common.NewError(common.KindInvalidQuery, fmt.Sprintf("unknown operator %d", v.Op))
			}
			return map[string]any{key: map[string]any{op: value}}, nil
		}
	case WithinCircle:
		path, err := t.schema.Resolve(v.Field)
		if err != nil {
			return nil, err
		}
		return map[string]any{path.Wire(): map[string]any{
			"$geoWithin": map[string]any{
				"$centerSphere": []any{v.Center.Wire(), v.RadiusMeters / EarthRadiusMeters},
			},
		}}, nil
	case WithinPolygon:
		if len(v.Points) < 3 {
			return nil, common.NewError(common.KindInvalidQuery, "polygon needs at least 3 points")
		}
		path, err := t.schema.Resolve(v.Field)
		if err != nil {
			return nil, err
		}
		ring := make([]any, len(v.Points))
		for i, pt := range v.Points {
			ring[i] = pt.Wire()
		}
		return map[string]any{path.Wire(): map[string]any{
			"$geoWithin": map[string]any{"$polygon": ring},
		}}, nil
	case Logical:
		terms := make([]any, 0, len(v.Terms))
		for _, term := range v.Terms {
			f, err := t.Filter(term)
			if err != nil {
				return nil, err
			}
			terms = append(terms, f)
		}
		op := "$and"
		if v.Op == LogicalOr {
			op = "$or"
		}
		return map[string]any{op: terms}, nil
	case Negation:
		f, err := t.Filter(v.Term)
		if err != nil {
			return nil, err
		}
		return map[string]any{"$nor": []any{f}}, nil
	default:
		return nil, common.NewError(common.KindInvalidQuery, fmt.Sprintf("unsupported predicate %T", p))
	}
}

func wireValue(v any) any {
	if p, ok := v.(models.GeoPoint); ok {
		return p.Wire()
	}
	return v
}

// FilterJSON renders the filter of q as JSON; "{}" when there is none.
// Keys are emitted in sorted order so equal queries serialize equally.
func (t *Translator) FilterJSON(q *Query) (string, error) {
	f, err := t.Filter(q.filter())
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(f)
	if err != nil {
		return "", common.Wrap(common.KindInvalidQuery, "encode filter", err)
	}
	return string(b), nil
}

// SortJSON renders sort keys in their given order, e.g. {"a":1,"b":-1}.
func (t *Translator) SortJSON(q *Query) (string, error) {
	if q == nil || len(q.Sort) == 0 {
		return "", nil
	}
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range q.Sort {
		p, err := t.schema.Resolve(k.Field)
		if err != nil {
			return "", err
		}
		if i > 0 {
			sb.WriteByte(',')
		}
		key, _ := json.Marshal(p.Wire())
		sb.Write(key)
		if k.Descending {
			sb.WriteString(":-1")
		} else {
			sb.WriteString(":1")
		}
	}
	sb.WriteByte('}')
	return sb.String(), nil
}

// FieldsParam renders the projection, e.g. "title,author.name".
func (t *Translator) FieldsParam(q *Query) (string, error) {
	if q == nil || len(q.Fields) == 0 {
		return "", nil
	}
	keys := make([]string, 0, len(q.Fields))
	for _, f := range q.Fields {
		p, err := t.schema.Resolve(f)
		if err != nil {
			return "", err
		}
		keys = append(keys, p.Wire())
	}
	return strings.Join(keys, ","), nil
}

// Values renders q as URL parameters: query, sort, fields, skip and limit.
func (t *Translator) Values(q *Query) (url.Values, error) {
	v := url.Values{}
	if q.filter() != nil {
		f, err := t.FilterJSON(q)
		if err != nil {
			return nil, err
		}
		v.Set("query", f)
	}
	s, err := t.SortJSON(q)
	if err != nil {
		return nil, err
	}
	if s != "" {
		v.Set("sort", s)
	}
	fields, err := t.FieldsParam(q)
	if err != nil {
		return nil, err
	}
	if fields != "" {
		v.Set("fields", fields)
	}
	if q != nil && q.Skip > 0 {
		v.Set("skip", strconv.Itoa(q.Skip))
	}
	if q != nil && q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v, nil
}

// CheckpointKey returns the (query, fields) pair a sync checkpoint is keyed by.
func (t *Translator) CheckpointKey(q *Query) (string, string, error) {
	f, err := t.FilterJSON(q)
	if err != nil {
		return "", "", err
	}
	fields, err := t.FieldsParam(q)
	if err != nil {
		return "", "", err
	}
	return f, fields, nil
}
