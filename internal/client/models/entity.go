// Package models defines the records exchanged between the sync engine, the
// local store and the backend: entities, pending operations and checkpoints.
package models

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/synckit/internal/common"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Metadata is the server-maintained envelope stored under "_kmd".
type Metadata struct {
	// Ect is the creation time (ISO-8601, server clock).
	Ect string `json:"ect,omitempty"`
	// Lmt is the last-modified time (ISO-8601, server clock).
	Lmt string `json:"lmt,omitempty"`
	// Lrt is the last time the record was read from the local store.
	Lrt string `json:"lrt,omitempty"`
}

// ACL is the access-control descriptor stored under "_acl".
type ACL struct {
	Creator     string   `json:"creator,omitempty"`
	GlobalRead  *bool    `json:"gr,omitempty"`
	GlobalWrite *bool    `json:"gw,omitempty"`
	Readers     []string `json:"r,omitempty"`
	Writers     []string `json:"w,omitempty"`
}

// Entity is one document of a collection. Fields holds everything that is
// not part of the envelope; its values are plain JSON values.
type Entity struct {
	ID     string
	ACL    *ACL
	Meta   *Metadata
	Fields map[string]any
}

// NewTempID returns an identifier for an entity created on the device.
func NewTempID() string {
	return common.TempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id was assigned locally and not yet acknowledged.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, common.TempIDPrefix)
}

// Lmt returns the last-modified time or "".
func (e Entity) Lmt() string {
	if e.Meta == nil {
		return ""
	}
	return e.Meta.Lmt
}

// Document flattens the entity into its wire form.
func (e Entity) Document() map[string]any {
	doc := make(map[string]any, len(e.Fields)+3)
	for k, v := range e.Fields {
		doc[k] = v
	}
	if e.ID != "" {
		doc[common.FieldID] = e.ID
	}
	if e.ACL != nil {
		doc[common.FieldACL] = toMap(e.ACL)
	}
	if e.Meta != nil {
		doc[common.FieldMetadata] = toMap(e.Meta)
	}
	return doc
}

// FromDocument is the inverse of Document.
func FromDocument(doc map[string]any) (Entity, error) {
	e := Entity{Fields: make(map[string]any, len(doc))}
	for k, v := range doc {
		switch k {
		case common.FieldID:
			id, ok := v.(string)
			if !ok && v != nil {
				return Entity{}, fmt.Errorf("field %s: expected string, got %T", common.FieldID, v)
			}
			e.ID = id
		case common.FieldACL:
			if v == nil {
				continue
			}
			var acl ACL
			if err := remarshal(v, &acl); err != nil {
				return Entity{}, fmt.Errorf("field %s: %w", common.FieldACL, err)
			}
			e.ACL = &acl
		case common.FieldMetadata:
			if v == nil {
				continue
			}
			var md Metadata
			if err := remarshal(v, &md); err != nil {
				return Entity{}, fmt.Errorf("field %s: %w", common.FieldMetadata, err)
			}
			e.Meta = &md
		default:
			e.Fields[k] = v
		}
	}
	return e, nil
}

func (e Entity) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Document())
}

func (e *Entity) UnmarshalJSON(b []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	parsed, err := FromDocument(doc)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// Clone returns a deep copy.
func (e Entity) Clone() Entity {
	c := Entity{ID: e.ID}
	if e.ACL != nil {
		acl := *e.ACL
		acl.Readers = append([]string(nil), e.ACL.Readers...)
		acl.Writers = append([]string(nil), e.ACL.Writers...)
		c.ACL = &acl
	}
	if e.Meta != nil {
		md := *e.Meta
		c.Meta = &md
	}
	c.Fields = make(map[string]any, len(e.Fields))
	for k, v := range e.Fields {
		c.Fields[k] = CloneValue(v)
	}
	return c
}

// CloneValue deep-copies a JSON value.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, x := range t {
			m[k] = CloneValue(x)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, x := range t {
			s[i] = CloneValue(x)
		}
		return s
	default:
		return v
	}
}

// ParseEntities decodes a JSON array of documents. Decode errors name the
// offending element.
func ParseEntities(body []byte) ([]Entity, error) {
	var docs []map[string]any
	if err := json.Unmarshal(body, &docs); err != nil {
		return nil, fmt.Errorf("decode entities: %w", err)
	}
	out := make([]Entity, 0, len(docs))
	for i, d := range docs {
		e, err := FromDocument(d)
		if err != nil {
			return nil, fmt.Errorf("decode entity #%d: %w", i, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func toMap(v any) map[string]any {
	var m map[string]any
	_ = remarshal(v, &m)
	return m
}

func remarshal(in any, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
