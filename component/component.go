package component

import (
	"context"
	"reflect"
	"strconv"
	"sync"

	"github.com/CrimsonAS/qcomponent/wire"
)

// Component is the surface shared by classes and instances. The executor
// and the serializer only ever work through it.
type Component interface {
	Validatable

	// Name is the component name, the join key between peers.
	Name() string
	Class() *Class
	IsClass() bool

	Attribute(name string) (*Attribute, bool)
	Attributes() []*Attribute
	Method(name string) (*Method, bool)
	Methods() []*Method

	// Get returns the value of a set attribute.
	Get(name string) (interface{}, bool)
	// Set assigns a value as a local change.
	Set(name string, value interface{}) error
	// Assign assigns a value recording where it came from.
	Assign(name string, value interface{}, source Source) error
	Unset(name string)
	Source(name string) (Source, bool)
	// SetNames lists the set attributes in declaration order.
	SetNames() []string

	Invoke(ctx context.Context, method string, args ...interface{}) (interface{}, error)
	OnChange(hook ChangeHook)
}

// Source records which side of the connection last wrote a value.
type Source int

const (
	SourceLocal Source = iota
	SourceRemote
)

func (s Source) String() string {
	if s == SourceRemote {
		return "remote"
	}
	return "local"
}

// ChangeHook is called after an attribute of c was assigned or unset.
type ChangeHook func(c Component, attribute string)

// state holds attribute values for a class or an instance.
type state struct {
	mu      sync.RWMutex
	values  map[string]interface{}
	sources map[string]Source
	hooks   []ChangeHook
}

func newState() state {
	return state{
		values:  make(map[string]interface{}),
		sources: make(map[string]Source),
	}
}

func (s *state) get(name string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	return v, ok
}

func (s *state) source(name string) (Source, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[name]
	return src, ok
}

func (s *state) onChange(hook ChangeHook) {
	s.mu.Lock()
	s.hooks = append(s.hooks, hook)
	s.mu.Unlock()
}

func (s *state) notify(owner Component, name string) {
	s.mu.RLock()
	hooks := append([]ChangeHook(nil), s.hooks...)
	s.mu.RUnlock()
	for _, hook := range hooks {
		hook(owner, name)
	}
}

func (s *state) assign(owner Component, attr *Attribute, value interface{}, source Source) error {
	value = Normalize(value)
	if err := attr.Type.Check(value); err != nil {
		return wire.Errorf(wire.CodeMalformedQuery, "cannot assign attribute '%s' of component '%s': %s", attr.Name, owner.Name(), err)
	}

	s.mu.Lock()
	old, had := s.values[attr.Name]
	if attr.IsIdentifier() && had && !isAbsent(old) && !reflect.DeepEqual(old, value) {
		s.mu.Unlock()
		return wire.Errorf(wire.CodeIdentifierImmutable, "identifier '%s' of component '%s' cannot be changed once set", attr.Name, owner.Name())
	}
	s.values[attr.Name] = value
	s.sources[attr.Name] = source
	s.mu.Unlock()

	s.notify(owner, attr.Name)
	return nil
}

func (s *state) unset(owner Component, name string) {
	s.mu.Lock()
	_, had := s.values[name]
	delete(s.values, name)
	delete(s.sources, name)
	s.mu.Unlock()
	if had {
		s.notify(owner, name)
	}
}

func (s *state) setNames(m *members) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	for _, a := range m.attributes {
		if _, ok := s.values[a.Name]; ok {
			names = append(names, a.Name)
		}
	}
	return names
}

// copyFrom copies values and hooks for a fork of provider p. Embedded
// instances are copied; referenced instances and classes are shared.
func (s *state) copyFrom(other *state, p *Provider) {
	other.mu.RLock()
	defer other.mu.RUnlock()
	for k, v := range other.values {
		s.values[k] = forkValue(Normalize(v), p)
	}
	for k, v := range other.sources {
		s.sources[k] = v
	}
	s.hooks = append(s.hooks, other.hooks...)
}

// forkValue copies the embedded instances in v, binding the copies to the
// classes of p.
func forkValue(v interface{}, p *Provider) interface{} {
	switch t := v.(type) {
	case *Instance:
		if !t.class.Embedded() {
			return t
		}
		class := t.class
		if c, ok := p.classes[class.Name()]; ok {
			class = c
		}
		inst := &Instance{state: newState(), class: class}
		inst.MarkNew(t.IsNew())
		inst.state.copyFrom(&t.state, p)
		return inst
	case []interface{}:
		for i, e := range t {
			t[i] = forkValue(e, p)
		}
	case map[string]interface{}:
		for k, e := range t {
			t[k] = forkValue(e, p)
		}
	}
	return v
}

func invoke(ctx context.Context, owner Component, m *Method, args []interface{}) (interface{}, error) {
	if m.Handler == nil {
		return nil, wire.Errorf(wire.CodeMalformedQuery, "method '%s' of component '%s' has no implementation", m.Name, owner.Name())
	}
	normalized := make([]interface{}, len(args))
	for i, arg := range args {
		normalized[i] = Normalize(arg)
		if i < len(m.Params) {
			if err := m.Params[i].Check(normalized[i]); err != nil {
				return nil, wire.Errorf(wire.CodeMalformedQuery, "argument %d of method '%s' of component '%s': %s", i, m.Name, owner.Name(), err)
			}
		}
	}
	return m.Handler(&Invocation{
		Context:  ctx,
		Receiver: owner,
		Method:   m,
		Args:     normalized,
	})
}

// validate checks the named attributes, or all of them, recursing into
// embedded component values.
func validate(c Component, prefix string, names []string) []wire.Failure {
	var attrs []*Attribute
	if len(names) == 0 {
		attrs = c.Attributes()
	} else {
		for _, name := range names {
			if a, ok := c.Attribute(name); ok {
				attrs = append(attrs, a)
			}
		}
	}

	var failures []wire.Failure
	for _, a := range attrs {
		path := prefix + a.Name
		value, _ := c.Get(a.Name)
		for _, msg := range a.Check(value) {
			failures = append(failures, wire.Failure{Path: path, Message: msg})
		}
		failures = append(failures, validateNested(value, path)...)
	}
	return failures
}

func validateNested(value interface{}, path string) []wire.Failure {
	switch t := value.(type) {
	case *Instance:
		if t.Class().Embedded() {
			return validate(t, path+".", nil)
		}
	case []interface{}:
		var failures []wire.Failure
		for i, e := range t {
			failures = append(failures, validateNested(e, path+"["+strconv.Itoa(i)+"]")...)
		}
		return failures
	}
	return nil
}
