// Package mapping is the cross-system field-mapping and transform registry.
// Every business field is declared once as a FieldDef naming its key, its
// per-representation field names and its value kind; directed transform
// functions convert values between the frontend, local and external
// representations. Conversion is best-effort and lossy-tolerant: absent or
// unparseable values are omitted from the output, never defaulted, which is
// what gives sparse frontend submissions partial-update semantics.
package mapping

import (
	"fmt"

	"github.com/hyperengineering/trestle/internal/types"
)

// Repr names one of the three record representations.
type Repr string

const (
	ReprFrontend Repr = "frontend"
	ReprLocal    Repr = "local"
	ReprExternal Repr = "external"
)

// Kind is the declared value type of a field. It describes the canonical
// (local) form of the value; representations reached through a transform may
// carry a different wire type (e.g. date fields are epoch milliseconds on the
// external side).
type Kind string

const (
	KindText      Kind = "text"
	KindInteger   Kind = "integer"
	KindDecimal   Kind = "decimal"
	KindBoolean   Kind = "boolean"
	KindDate      Kind = "date"
	KindEnum      Kind = "enum"
	KindFileList  Kind = "file-list"
	KindTimestamp Kind = "timestamp"
)

func (k Kind) valid() bool {
	switch k {
	case KindText, KindInteger, KindDecimal, KindBoolean, KindDate, KindEnum, KindFileList, KindTimestamp:
		return true
	}
	return false
}

// TransformFunc converts a single field value for one direction. The second
// return value reports whether the input could be converted; false drops the
// value from the output entirely.
type TransformFunc func(v any) (any, bool)

// FieldDef declares one logical field across all three representations.
// An empty representation name means the field does not exist in that
// representation and is skipped for conversions touching it.
//
// Directed transforms:
//
//	ToLocal      frontend → local
//	ToExternal   local → external
//	FromExternal external → local
//
// All other direction pairs pass values through unchanged.
type FieldDef struct {
	Key      string
	Frontend string
	Local    string
	External string
	Kind     Kind

	// Options is the closed value set for enum fields.
	Options []string

	ToLocal      TransformFunc
	ToExternal   TransformFunc
	FromExternal TransformFunc
}

func (d *FieldDef) nameFor(r Repr) string {
	switch r {
	case ReprFrontend:
		return d.Frontend
	case ReprLocal:
		return d.Local
	case ReprExternal:
		return d.External
	}
	return ""
}

func (d *FieldDef) transformFor(from, to Repr) TransformFunc {
	switch {
	case from == ReprFrontend && to == ReprLocal:
		return d.ToLocal
	case from == ReprLocal && to == ReprExternal:
		return d.ToExternal
	case from == ReprExternal && to == ReprLocal:
		return d.FromExternal
	}
	return nil
}

// Registry holds the validated field definitions for one entity type.
type Registry struct {
	entity types.EntityType
	defs   []FieldDef
	byKey  map[string]int
}

// NewRegistry validates the definitions and builds a registry. Validation is
// exhaustive at construction so conversion never has to re-check shape at
// runtime: keys must be unique and non-empty, kinds must be known, enum
// fields must carry a non-empty option set, and external round-trip
// transforms must come in ToExternal/FromExternal pairs.
func NewRegistry(entity types.EntityType, defs []FieldDef) (*Registry, error) {
	r := &Registry{
		entity: entity,
		defs:   make([]FieldDef, len(defs)),
		byKey:  make(map[string]int, len(defs)),
	}
	copy(r.defs, defs)

	for i := range r.defs {
		def := &r.defs[i]
		if def.Key == "" {
			return nil, fmt.Errorf("%s: field %d has an empty key", entity, i)
		}
		if _, dup := r.byKey[def.Key]; dup {
			return nil, fmt.Errorf("%s: duplicate field key %q", entity, def.Key)
		}
		if !def.Kind.valid() {
			return nil, fmt.Errorf("%s: field %q has unknown kind %q", entity, def.Key, def.Kind)
		}
		if def.Kind == KindEnum && len(def.Options) == 0 {
			return nil, fmt.Errorf("%s: enum field %q has no options", entity, def.Key)
		}
		if def.Kind != KindEnum && len(def.Options) > 0 {
			return nil, fmt.Errorf("%s: field %q has options but kind %q", entity, def.Key, def.Kind)
		}
		if (def.ToExternal == nil) != (def.FromExternal == nil) {
			return nil, fmt.Errorf("%s: field %q has an unpaired external transform", entity, def.Key)
		}

		// Enum values are guarded in every direction: an unrecognized value
		// is dropped rather than passed through.
		if def.Kind == KindEnum {
			guard := enumGuard(def.Options)
			if def.ToLocal == nil {
				def.ToLocal = guard
			}
			if def.ToExternal == nil {
				def.ToExternal = guard
			}
			if def.FromExternal == nil {
				def.FromExternal = guard
			}
		}

		r.byKey[def.Key] = i
	}

	return r, nil
}

// Entity returns the entity type this registry describes.
func (r *Registry) Entity() types.EntityType {
	return r.entity
}

// Defs returns the field definitions in declaration order.
func (r *Registry) Defs() []FieldDef {
	return r.defs
}

// Field returns the definition for a logical key.
func (r *Registry) Field(key string) (*FieldDef, bool) {
	i, ok := r.byKey[key]
	if !ok {
		return nil, false
	}
	return &r.defs[i], true
}

// FileFields returns the file-list field definitions.
func (r *Registry) FileFields() []FieldDef {
	var out []FieldDef
	for _, def := range r.defs {
		if def.Kind == KindFileList {
			out = append(out, def)
		}
	}
	return out
}

// LocalColumns returns the local column name of every field that exists in
// the local representation, in declaration order. The store derives its
// upsert column list from this.
func (r *Registry) LocalColumns() []string {
	var out []string
	for _, def := range r.defs {
		if def.Local != "" {
			out = append(out, def.Local)
		}
	}
	return out
}

// Convert maps a record between two representations. For every field defined
// in both, the value is read under the source name, passed through the
// directed transform when one is registered, and written under the target
// name. Absent fields are omitted from the output — never inserted as null or
// a default — and values a transform cannot parse are dropped. Convert never
// fails; it is a best-effort mapping by design.
func (r *Registry) Convert(rec map[string]any, from, to Repr) map[string]any {
	out := make(map[string]any)
	for i := range r.defs {
		def := &r.defs[i]
		src := def.nameFor(from)
		dst := def.nameFor(to)
		if src == "" || dst == "" {
			continue
		}
		v, present := rec[src]
		if !present {
			continue
		}
		if fn := def.transformFor(from, to); fn != nil {
			converted, ok := fn(v)
			if !ok {
				continue
			}
			v = converted
		}
		out[dst] = v
	}
	return out
}

// enumGuard passes a value through only when it is a string contained in the
// closed option set.
func enumGuard(options []string) TransformFunc {
	allowed := make(map[string]struct{}, len(options))
	for _, o := range options {
		allowed[o] = struct{}{}
	}
	return func(v any) (any, bool) {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		if _, ok := allowed[s]; !ok {
			return nil, false
		}
		return s, true
	}
}
