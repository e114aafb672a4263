package query

import "github.com/dmitrijs2005/synckit/internal/common"

// ToStorage converts a wire document into its stored form. The input is not
// modified.
func (s *Schema) ToStorage(doc map[string]any) map[string]any {
	return s.convert(doc, wrap)
}

// FromStorage converts a stored document back into its wire form.
func (s *Schema) FromStorage(doc map[string]any) map[string]any {
	return s.convert(doc, unwrap)
}

func (s *Schema) convert(doc map[string]any, fn func(any) any) map[string]any {
	if s == nil || doc == nil {
		return doc
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	for _, f := range s.fields {
		v, ok := out[f.Key]
		if !ok || v == nil {
			continue
		}
		switch f.Kind {
		case KindWrappedList:
			if list, ok := v.([]any); ok {
				conv := make([]any, len(list))
				for i, e := range list {
					conv[i] = fn(e)
				}
				out[f.Key] = conv
			}
		case KindObject:
			if m, ok := v.(map[string]any); ok && f.Schema != nil {
				out[f.Key] = f.Schema.convert(m, fn)
			}
		case KindObjectList:
			if list, ok := v.([]any); ok && f.Schema != nil {
				conv := make([]any, len(list))
				for i, e := range list {
					if m, ok := e.(map[string]any); ok {
						conv[i] = f.Schema.convert(m, fn)
					} else {
						conv[i] = e
					}
				}
				out[f.Key] = conv
			}
		}
	}
	return out
}

func wrap(v any) any {
	return map[string]any{"value": v}
}

func unwrap(v any) any {
	if m, ok := v.(map[string]any); ok && len(m) == 1 {
		if inner, ok := m["value"]; ok {
			return inner
		}
	}
	return v
}

// NestedObject is an embedded entity with its own identity.
type NestedObject struct {
	Type string
	ID   string
	Doc  map[string]any
}

// Nested lists the embedded entities of a document: values of object fields
// that carry an "_id".
func (s *Schema) Nested(doc map[string]any) []NestedObject {
	if s == nil {
		return nil
	}
	var out []NestedObject
	for _, f := range s.fields {
		typ := f.Key
		if f.Schema != nil && f.Schema.Name != "" {
			typ = f.Schema.Name
		}
		switch f.Kind {
		case KindObject:
			if n, ok := nestedOf(typ, doc[f.Key]); ok {
				out = append(out, n)
			}
		case KindObjectList:
			list, _ := doc[f.Key].([]any)
			for _, e := range list {
				if n, ok := nestedOf(typ, e); ok {
					out = append(out, n)
				}
			}
		}
	}
	return out
}

// Hydrate replaces embedded entities with the shared copy returned by lookup.
func (s *Schema) Hydrate(doc map[string]any, lookup func(typ, id string) (map[string]any, bool)) map[string]any {
	if s == nil || doc == nil {
		return doc
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	for _, f := range s.fields {
		typ := f.Key
		if f.Schema != nil && f.Schema.Name != "" {
			typ = f.Schema.Name
		}
		switch f.Kind {
		case KindObject:
			if n, ok := nestedOf(typ, out[f.Key]); ok {
				if shared, ok := lookup(n.Type, n.ID); ok {
					out[f.Key] = shared
				}
			}
		case KindObjectList:
			list, ok := out[f.Key].([]any)
			if !ok {
				continue
			}
			conv := make([]any, len(list))
			for i, e := range list {
				conv[i] = e
				if n, ok := nestedOf(typ, e); ok {
					if shared, ok := lookup(n.Type, n.ID); ok {
						conv[i] = shared
					}
				}
			}
			out[f.Key] = conv
		}
	}
	return out
}

func nestedOf(typ string, v any) (NestedObject, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return NestedObject{}, false
	}
	id, ok := m[common.FieldID].(string)
	if !ok || id == "" {
		return NestedObject{}, false
	}
	return NestedObject{Type: typ, ID: id, Doc: m}, true
}
