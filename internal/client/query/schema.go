package query

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dmitrijs2005/synckit/internal/common"
)

// FieldKind tells the translators how a field is stored.
type FieldKind int

const (
	KindScalar FieldKind = iota
	// KindWrappedList is a list of primitives; storage wraps each element
	// as {"value": v}.
	KindWrappedList
	// KindGeoPoint is a [longitude, latitude] pair.
	KindGeoPoint
	// KindObject is an embedded object. When its value carries an "_id" it is
	// a nested entity stored once and shared between records.
	KindObject
	// KindObjectList is a list of embedded objects.
	KindObjectList
)

// Field describes one property of a type.
type Field struct {
	// Key is the name used on the wire and in storage.
	Key    string
	Kind   FieldKind
	Schema *Schema
}

// Schema maps the semantic property names of one type to stored fields.
type Schema struct {
	Name   string
	fields map[string]Field
}

// NewSchema builds a schema. Names not declared resolve to themselves.
func NewSchema(name string, fields map[string]Field) *Schema {
	s := &Schema{Name: name, fields: make(map[string]Field, len(fields))}
	for n, f := range fields {
		if f.Key == "" {
			f.Key = n
		}
		s.fields[n] = f
	}
	return s
}

var metadataSchema = NewSchema("_kmd", map[string]Field{
	"lmt":          {Key: "lmt"},
	"ect":          {Key: "ect"},
	"lastModified": {Key: "lmt"},
	"created":      {Key: "ect"},
})

var builtinFields = map[string]Field{
	"id":       {Key: common.FieldID},
	"_id":      {Key: common.FieldID},
	"acl":      {Key: common.FieldACL, Kind: KindObject},
	"_acl":     {Key: common.FieldACL, Kind: KindObject},
	"metadata": {Key: common.FieldMetadata, Kind: KindObject, Schema: metadataSchema},
	"_kmd":     {Key: common.FieldMetadata, Kind: KindObject, Schema: metadataSchema},
	"_geoloc":  {Key: common.FieldGeoLoc, Kind: KindGeoPoint},
}

func (s *Schema) lookup(name string, top bool) Field {
	if s != nil {
		if f, ok := s.fields[name]; ok {
			return f
		}
	}
	if top {
		if f, ok := builtinFields[name]; ok {
			return f
		}
	}
	return Field{Key: name}
}

// Fields returns the declared fields keyed by semantic name.
func (s *Schema) Fields() map[string]Field {
	if s == nil {
		return nil
	}
	out := make(map[string]Field, len(s.fields))
	for n, f := range s.fields {
		out[n] = f
	}
	return out
}

type segment struct {
	key  string
	list bool
}

// Path is a resolved field path.
type Path struct {
	Kind FieldKind
	wire []string
	segs []segment
}

// Wire returns the dotted wire path, e.g. "author.name".
func (p Path) Wire() string {
	return strings.Join(p.wire, ".")
}

// Storage returns the dotted storage path, with ".value" injected for
// wrapped lists.
func (p Path) Storage() string {
	keys := make([]string, len(p.segs))
	for i, s := range p.segs {
		keys[i] = s.key
	}
	return strings.Join(keys, ".")
}

// Resolve maps a dotted semantic path to stored keys, component by component.
// A nil schema resolves every name to itself.
func (s *Schema) Resolve(path string) (Path, error) {
	if path == "" {
		return Path{}, common.NewError(common.KindInvalidQuery, "empty field path")
	}
	parts := strings.Split(path, ".")
	cur := s
	var p Path
	for i, name := range parts {
		if name == "" || strings.ContainsAny(name, `"$`) {
			return Path{}, common.NewError(common.KindInvalidQuery, fmt.Sprintf("invalid field path %q", path))
		}
		last := i == len(parts)-1
		f := cur.lookup(name, i == 0)
		p.wire = append(p.wire, f.Key)
		switch f.Kind {
		case KindWrappedList:
			if !last {
				return Path{}, common.NewError(common.KindInvalidQuery, fmt.Sprintf("cannot traverse into list field %q", name))
			}
			p.segs = append(p.segs, segment{key: f.Key, list: true}, segment{key: "value"})
		case KindObjectList:
			p.segs = append(p.segs, segment{key: f.Key, list: true})
		default:
			p.segs = append(p.segs, segment{key: f.Key})
		}
		p.Kind = f.Kind
		cur = f.Schema
	}
	return p, nil
}

// Registry holds the schema of every collection. Schemas are registered
// once at startup.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*Schema)}
}

// Register binds a schema to a collection.
func (r *Registry) Register(collection string, s *Schema) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schemas[collection]; ok {
		return common.NewError(common.KindInvalidOperation, fmt.Sprintf("schema for %q already registered", collection))
	}
	r.schemas[collection] = s
	return nil
}

// Schema returns the schema of a collection, or nil when none is registered.
func (r *Registry) Schema(collection string) *Schema {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.schemas[collection]
}
