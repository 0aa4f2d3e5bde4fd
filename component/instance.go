package component

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/CrimsonAS/qcomponent/wire"
)

// Instance is one component instance. All methods are safe for concurrent
// use.
type Instance struct {
	state
	class *Class
	isNew int32
}

var _ Component = (*Instance)(nil)

func (i *Instance) Name() string { return i.class.Name() }
func (i *Instance) Class() *Class { return i.class }
func (i *Instance) IsClass() bool { return false }

// IsNew reports whether the instance was created locally and has not yet
// been acknowledged by the peer.
func (i *Instance) IsNew() bool { return atomic.LoadInt32(&i.isNew) == 1 }

func (i *Instance) MarkNew(isNew bool) {
	var v int32
	if isNew {
		v = 1
	}
	atomic.StoreInt32(&i.isNew, v)
}

func (i *Instance) Attribute(name string) (*Attribute, bool) {
	return i.class.InstanceAttribute(name)
}

func (i *Instance) Attributes() []*Attribute { return i.class.InstanceAttributes() }

func (i *Instance) Method(name string) (*Method, bool) {
	return i.class.InstanceMethod(name)
}

func (i *Instance) Methods() []*Method { return i.class.InstanceMethods() }

func (i *Instance) Get(name string) (interface{}, bool) { return i.state.get(name) }

func (i *Instance) Set(name string, value interface{}) error {
	return i.Assign(name, value, SourceLocal)
}

func (i *Instance) Assign(name string, value interface{}, source Source) error {
	attr, ok := i.Attribute(name)
	if !ok {
		return wire.Errorf(wire.CodeMalformedQuery, "component '%s' has no attribute '%s'", i.Name(), name)
	}
	return i.state.assign(i, attr, value, source)
}

func (i *Instance) Unset(name string) { i.state.unset(i, name) }
func (i *Instance) Source(name string) (Source, bool) { return i.state.source(name) }
func (i *Instance) SetNames() []string { return i.state.setNames(&i.class.schema.instance) }
func (i *Instance) OnChange(hook ChangeHook) { i.state.onChange(hook) }
func (i *Instance) Validate(names ...string) []wire.Failure { return validate(i, "", names) }

// Invoke calls an instance method directly, without exposure checks.
func (i *Instance) Invoke(ctx context.Context, method string, args ...interface{}) (interface{}, error) {
	m, ok := i.Method(method)
	if !ok {
		return nil, wire.Errorf(wire.CodeMalformedQuery, "component '%s' has no method '%s'", i.Name(), method)
	}
	return invoke(ctx, i, m, args)
}

// Identifier returns the primary identifier value, when set.
func (i *Instance) Identifier() (interface{}, bool) {
	primary := i.class.PrimaryIdentifier()
	if primary == nil {
		return nil, false
	}
	v, ok := i.Get(primary.Name)
	if !ok || isAbsent(v) {
		return nil, false
	}
	return v, true
}

// Identifiers returns the set identifier values, primary first.
func (i *Instance) Identifiers() []IdentifierValue {
	var ids []IdentifierValue
	for _, a := range i.class.IdentifierAttributes() {
		if v, ok := i.Get(a.Name); ok && !isAbsent(v) {
			ids = append(ids, IdentifierValue{Attribute: a.Name, Value: v})
		}
	}
	return ids
}

func (i *Instance) String() string {
	var b strings.Builder
	b.WriteString(i.Name())
	b.WriteString("(")
	for n, id := range i.Identifiers() {
		if n > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%v", id.Attribute, id.Value)
	}
	b.WriteString(")")
	return b.String()
}

// IdentifierValue is one identifier attribute and its value.
type IdentifierValue struct {
	Attribute string
	Value     interface{}
}
