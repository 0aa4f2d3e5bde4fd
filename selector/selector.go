// Package selector implements attribute selectors: projection trees that
// say which attributes, and which nested attributes, a serialization
// includes.
//
// A selector is a boolean leaf or an object of sub-selectors. True includes
// an attribute fully, False (or absence) excludes it, and an object includes
// only the listed sub-attributes of a nested component or of each element of
// an array of components.
package selector

import (
	"fmt"
	"sort"

	"github.com/CrimsonAS/qcomponent/wire"
)

type kind uint8

const (
	kindFalse kind = iota
	kindTrue
	kindObject
)

// Selector is immutable; every operation returns a new value.
type Selector struct {
	kind   kind
	fields map[string]Selector
}

var (
	True  = Selector{kind: kindTrue}
	False = Selector{kind: kindFalse}
)

// Object returns a selector including exactly the given sub-selectors.
// False entries are dropped.
func Object(fields map[string]Selector) Selector {
	s := Selector{kind: kindObject, fields: make(map[string]Selector, len(fields))}
	for name, sub := range fields {
		if sub.IsFalse() {
			continue
		}
		s.fields[name] = sub
	}
	return s
}

// Of is shorthand for an object selector including each name fully.
func Of(names ...string) Selector {
	fields := make(map[string]Selector, len(names))
	for _, name := range names {
		fields[name] = True
	}
	return Object(fields)
}

func (s Selector) IsTrue() bool   { return s.kind == kindTrue }
func (s Selector) IsFalse() bool  { return s.kind == kindFalse }
func (s Selector) IsObject() bool { return s.kind == kindObject }

// Get resolves the selector for one attribute: False when the attribute is
// excluded, True when it is included opaquely, or the child selector to
// recurse with.
func (s Selector) Get(name string) Selector {
	switch s.kind {
	case kindTrue:
		return True
	case kindObject:
		if sub, ok := s.fields[name]; ok {
			return sub
		}
	}
	return False
}

// Names returns the attribute names an object selector lists, sorted.
func (s Selector) Names() []string {
	names := make([]string, 0, len(s.fields))
	for name := range s.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Set returns a copy of an object selector with name set to sub. Setting on
// True returns True; setting on False starts a new object.
func (s Selector) Set(name string, sub Selector) Selector {
	if s.IsTrue() {
		return s
	}
	fields := make(map[string]Selector, len(s.fields)+1)
	for k, v := range s.fields {
		fields[k] = v
	}
	fields[name] = sub
	return Object(fields)
}

// Merge returns the union of selectors. True absorbs everything, objects
// merge key by key, and False is the identity element, so Merge is
// associative and commutative.
func Merge(selectors ...Selector) Selector {
	out := False
	for _, s := range selectors {
		out = merge(out, s)
	}
	return out
}

func merge(a, b Selector) Selector {
	switch {
	case a.IsTrue() || b.IsTrue():
		return True
	case a.IsFalse():
		return b
	case b.IsFalse():
		return a
	}
	fields := make(map[string]Selector, len(a.fields)+len(b.fields))
	for k, v := range a.fields {
		fields[k] = v
	}
	for k, v := range b.fields {
		fields[k] = merge(fields[k], v)
	}
	return Object(fields)
}

// Includes reports whether everything b selects is also selected by a.
func Includes(a, b Selector) bool {
	switch {
	case b.IsFalse():
		return true
	case a.IsTrue():
		return true
	case a.IsFalse():
		return false
	case b.IsTrue():
		return false
	}
	for name, sub := range b.fields {
		if !Includes(a.Get(name), sub) {
			return false
		}
	}
	return true
}

// Remove returns what a selects that b does not. Removing anything but
// True from True leaves True, since True cannot enumerate its attributes.
func Remove(a, b Selector) Selector {
	switch {
	case b.IsTrue():
		return False
	case b.IsFalse(), a.IsFalse():
		return a
	case a.IsTrue():
		return True
	}
	fields := make(map[string]Selector, len(a.fields))
	for name, sub := range a.fields {
		rest := Remove(sub, b.Get(name))
		if rest.IsFalse() {
			continue
		}
		fields[name] = rest
	}
	if len(fields) == 0 {
		return False
	}
	return Object(fields)
}

func Equal(a, b Selector) bool {
	if a.kind != b.kind {
		return false
	}
	if a.kind != kindObject {
		return true
	}
	if len(a.fields) != len(b.fields) {
		return false
	}
	for name, sub := range a.fields {
		other, ok := b.fields[name]
		if !ok || !Equal(sub, other) {
			return false
		}
	}
	return true
}

// Parse reads the wire form of a selector: a boolean, nil (which means
// True), or an object whose values are selectors.
func Parse(v interface{}) (Selector, error) {
	return parse(v, "")
}

func parse(v interface{}, path string) (Selector, error) {
	switch t := v.(type) {
	case nil:
		return True, nil
	case bool:
		if t {
			return True, nil
		}
		return False, nil
	case Selector:
		return t, nil
	case *wire.Map:
		fields := make(map[string]Selector, t.Len())
		for _, k := range t.Keys() {
			raw, _ := t.Get(k)
			sub, err := parse(raw, join(path, k))
			if err != nil {
				return False, err
			}
			fields[k] = sub
		}
		return Object(fields), nil
	case map[string]interface{}:
		fields := make(map[string]Selector, len(t))
		for k, raw := range t {
			sub, err := parse(raw, join(path, k))
			if err != nil {
				return False, err
			}
			fields[k] = sub
		}
		return Object(fields), nil
	default:
		if path == "" {
			return False, fmt.Errorf("selector: expected a boolean or an object, found %T", v)
		}
		return False, fmt.Errorf("selector: expected a boolean or an object at '%s', found %T", path, v)
	}
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

// Value returns the wire form: true, false, or a map.
func (s Selector) Value() interface{} {
	switch s.kind {
	case kindTrue:
		return true
	case kindObject:
		out := make(map[string]interface{}, len(s.fields))
		for name, sub := range s.fields {
			out[name] = sub.Value()
		}
		return out
	default:
		return false
	}
}

func (s Selector) String() string {
	switch s.kind {
	case kindTrue:
		return "true"
	case kindFalse:
		return "false"
	}
	out := "{"
	for i, name := range s.Names() {
		if i > 0 {
			out += ", "
		}
		out += name + ": " + s.fields[name].String()
	}
	return out + "}"
}
