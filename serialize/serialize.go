package serialize

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/CrimsonAS/qcomponent/component"
	"github.com/CrimsonAS/qcomponent/selector"
	"github.com/CrimsonAS/qcomponent/wire"
)

// Envelope keys.
const (
	KeyComponent = "__component"
	KeyClass     = "__Component"
	KeyNew       = "__new"
	KeyDate      = "__date"
	KeyUndefined = "__undefined"
	KeyRegExp    = "__regExp"
	KeyError     = "__error"
)

// AttributeFilter decides whether an attribute takes part in a
// serialization or a deserialization. Returning false skips the attribute;
// returning an error aborts.
type AttributeFilter func(c component.Component, a *component.Attribute) (bool, error)

// Options controls Serialize and Deserialize. The zero Selector excludes
// every attribute; most callers want selector.True.
type Options struct {
	Selector        selector.Selector
	AttributeFilter AttributeFilter
	// IncludeNewMarker emits "__new" for instances that are still new.
	IncludeNewMarker bool

	Provider   *component.Provider
	Identities *IdentityMap
	// Source is recorded on every attribute a deserialization assigns.
	Source component.Source
	// Validate checks every written attribute against its validators and
	// reports all failures as one VALIDATION_FAILED error.
	Validate bool
}

type serializer struct {
	opts   Options
	active map[*component.Instance]bool
}

// Serialize converts value to its wire form. Component envelopes and plain
// maps become *wire.Map values with a stable key order.
func Serialize(value interface{}, opts Options) (interface{}, error) {
	s := &serializer{opts: opts, active: make(map[*component.Instance]bool)}
	return s.value(value, opts.Selector, false)
}

func (s *serializer) value(v interface{}, sel selector.Selector, refOnly bool) (interface{}, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool, string, float64:
		return t, nil
	case time.Time:
		return wire.NewMap().Set(KeyDate, t.UTC().Format(time.RFC3339Nano)), nil
	case *regexp.Regexp:
		return wire.NewMap().Set(KeyRegExp, "/"+t.String()+"/"), nil
	case *component.Class:
		return s.class(t, sel)
	case *component.Instance:
		return s.instance(t, sel, refOnly)
	case *wire.Error:
		return wire.NewMap().Set(KeyError, wire.MapOf(t.Map())), nil
	case error:
		return wire.NewMap().Set(KeyError, wire.MapOf(wire.FromError(t).Map())), nil
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			sv, err := s.value(e, sel, refOnly)
			if err != nil {
				return nil, err
			}
			out[i] = sv
		}
		return out, nil
	case *wire.Map:
		return s.object(t.Keys(), func(k string) interface{} { v, _ := t.Get(k); return v })
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return s.object(keys, func(k string) interface{} { return t[k] })
	}
	if v == component.Undefined {
		return wire.NewMap().Set(KeyUndefined, true), nil
	}

	// other numbers, slices and maps
	if normalized := component.Normalize(v); reflect.TypeOf(normalized) != reflect.TypeOf(v) {
		return s.value(normalized, sel, refOnly)
	}
	return nil, fmt.Errorf("serialize: cannot serialize a value of type %T", v)
}

func (s *serializer) object(keys []string, get func(string) interface{}) (interface{}, error) {
	out := wire.NewMap()
	for _, k := range keys {
		if strings.HasPrefix(k, "__") {
			return nil, wire.Errorf(wire.CodeMalformedQuery, "plain objects cannot use the reserved key '%s'", k)
		}
		sv, err := s.value(get(k), selector.True, false)
		if err != nil {
			return nil, err
		}
		out.Set(k, sv)
	}
	return out, nil
}

func (s *serializer) class(c *component.Class, sel selector.Selector) (interface{}, error) {
	out := wire.NewMap().Set(KeyClass, c.Name())
	if err := s.attributes(out, c, c.Attributes(), sel); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *serializer) instance(inst *component.Instance, sel selector.Selector, refOnly bool) (interface{}, error) {
	class := inst.Class()
	out := wire.NewMap().Set(KeyComponent, inst.Name())
	if s.opts.IncludeNewMarker && inst.IsNew() {
		out.Set(KeyNew, true)
	}

	if class.Referenced() {
		for _, id := range inst.Identifiers() {
			sv, err := s.value(id.Value, selector.True, false)
			if err != nil {
				return nil, err
			}
			out.Set(id.Attribute, sv)
		}
		if refOnly || s.active[inst] {
			return out, nil
		}
	} else if s.active[inst] {
		return nil, wire.Errorf(wire.CodeMalformedQuery, "component '%s' without identity refers to itself", inst.Name())
	}

	s.active[inst] = true
	defer delete(s.active, inst)
	if err := s.attributes(out, inst, inst.Attributes(), sel); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *serializer) attributes(out *wire.Map, c component.Component, attrs []*component.Attribute, sel selector.Selector) error {
	for _, a := range attrs {
		if _, done := out.Get(a.Name); done {
			continue
		}
		sub := sel.Get(a.Name)
		if sub.IsFalse() {
			continue
		}
		value, set := c.Get(a.Name)
		if !set {
			continue
		}
		if s.opts.AttributeFilter != nil {
			ok, err := s.opts.AttributeFilter(c, a)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
		}
		sv, err := s.value(value, sub, isAnyType(a.Type) && sub.IsTrue())
		if err != nil {
			return err
		}
		out.Set(a.Name, sv)
	}
	return nil
}

// isAnyType reports whether values of t are untyped, directly or as array
// elements. Referenced components reached through them are serialized as
// references only.
func isAnyType(t component.ValueType) bool {
	for t.Kind == component.KindArray && t.Elem != nil {
		t = *t.Elem
	}
	return t.Kind == component.KindAny
}
