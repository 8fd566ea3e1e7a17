package mapping

import (
	"fmt"
	"time"
)

// TypeMismatch reports one field whose present value does not match its
// declared kind for the checked representation.
type TypeMismatch struct {
	Key    string `json:"key"`
	Field  string `json:"field"`
	Repr   Repr   `json:"repr"`
	Kind   Kind   `json:"kind"`
	Detail string `json:"detail"`
}

// Validate independently checks each present field's value against its
// declared kind without mutating the record. Absent fields are not checked.
// The external representation is checked against the wire form its transforms
// produce (epoch milliseconds for date and timestamp fields).
func (r *Registry) Validate(rec map[string]any, repr Repr) []TypeMismatch {
	var mismatches []TypeMismatch
	for i := range r.defs {
		def := &r.defs[i]
		name := def.nameFor(repr)
		if name == "" {
			continue
		}
		v, present := rec[name]
		if !present {
			continue
		}
		if detail := checkKind(def, repr, v); detail != "" {
			mismatches = append(mismatches, TypeMismatch{
				Key:    def.Key,
				Field:  name,
				Repr:   repr,
				Kind:   def.Kind,
				Detail: detail,
			})
		}
	}
	return mismatches
}

func checkKind(def *FieldDef, repr Repr, v any) string {
	switch def.Kind {
	case KindText:
		if _, ok := v.(string); !ok {
			return fmt.Sprintf("expected text, got %T", v)
		}
	case KindInteger:
		if _, ok := asInt64(v); !ok {
			return fmt.Sprintf("not an integer: %v", v)
		}
	case KindDecimal:
		if _, ok := asFloat(v); !ok {
			return fmt.Sprintf("not a decimal: %v", v)
		}
	case KindBoolean:
		if _, ok := v.(bool); !ok {
			return fmt.Sprintf("expected boolean, got %T", v)
		}
	case KindDate:
		if repr == ReprExternal {
			if _, ok := asInt64(v); !ok {
				return fmt.Sprintf("not an epoch timestamp: %v", v)
			}
			return ""
		}
		s, ok := v.(string)
		if !ok {
			return fmt.Sprintf("expected date string, got %T", v)
		}
		if _, err := time.ParseInLocation(dateLayout, s, time.UTC); err != nil {
			return fmt.Sprintf("invalid date %q", s)
		}
	case KindTimestamp:
		if repr == ReprExternal {
			if _, ok := asInt64(v); !ok {
				return fmt.Sprintf("not an epoch timestamp: %v", v)
			}
			return ""
		}
		s, ok := v.(string)
		if !ok {
			return fmt.Sprintf("expected timestamp string, got %T", v)
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return fmt.Sprintf("invalid timestamp %q", s)
		}
	case KindEnum:
		s, ok := v.(string)
		if !ok {
			return fmt.Sprintf("expected enum string, got %T", v)
		}
		for _, o := range def.Options {
			if s == o {
				return ""
			}
		}
		return fmt.Sprintf("value %q not in option set", s)
	case KindFileList:
		if _, ok := decodeFileList(v); !ok {
			return "not a valid file descriptor list"
		}
	}
	return ""
}
