package component

import (
	"context"

	uuid "github.com/satori/go.uuid"

	"github.com/CrimsonAS/qcomponent/wire"
)

// Class is a registered component type. It carries the static attribute
// values and creates instances. Classes are built with a Builder.
type Class struct {
	state
	schema   *schema
	provider *Provider
}

var _ Component = (*Class)(nil)

func (c *Class) Name() string { return c.schema.name }
func (c *Class) Class() *Class { return c }
func (c *Class) IsClass() bool { return true }
func (c *Class) Embedded() bool { return c.schema.embedded }
func (c *Class) Provider() *Provider { return c.provider }

// Referenced reports whether instances have a primary identifier and are
// therefore serialized by reference under a restricted selector.
func (c *Class) Referenced() bool { return c.schema.primary != nil }

// Loader returns the loader declared with Builder.Load, or nil.
func (c *Class) Loader() Loader { return c.schema.loader }

// PrimaryIdentifier returns the primary identifier attribute, if any.
func (c *Class) PrimaryIdentifier() *Attribute { return c.schema.primary }

// IdentifierAttributes returns the primary identifier followed by the
// secondary identifiers.
func (c *Class) IdentifierAttributes() []*Attribute {
	var ids []*Attribute
	if c.schema.primary != nil {
		ids = append(ids, c.schema.primary)
	}
	for _, a := range c.schema.instance.attributes {
		if a.Kind == KindSecondaryIdentifier {
			ids = append(ids, a)
		}
	}
	return ids
}

func (c *Class) Attribute(name string) (*Attribute, bool) {
	a, ok := c.schema.static.attributeIndex[name]
	return a, ok
}

func (c *Class) Attributes() []*Attribute { return c.schema.static.attributes }

func (c *Class) Method(name string) (*Method, bool) {
	m, ok := c.schema.static.methodIndex[name]
	return m, ok
}

func (c *Class) Methods() []*Method { return c.schema.static.methods }

func (c *Class) InstanceAttribute(name string) (*Attribute, bool) {
	a, ok := c.schema.instance.attributeIndex[name]
	return a, ok
}

func (c *Class) InstanceAttributes() []*Attribute { return c.schema.instance.attributes }

func (c *Class) InstanceMethod(name string) (*Method, bool) {
	m, ok := c.schema.instance.methodIndex[name]
	return m, ok
}

func (c *Class) InstanceMethods() []*Method { return c.schema.instance.methods }

func (c *Class) Get(name string) (interface{}, bool) { return c.state.get(name) }

func (c *Class) Set(name string, value interface{}) error {
	return c.Assign(name, value, SourceLocal)
}

func (c *Class) Assign(name string, value interface{}, source Source) error {
	attr, ok := c.Attribute(name)
	if !ok {
		return wire.Errorf(wire.CodeMalformedQuery, "component '%s' has no static attribute '%s'", c.Name(), name)
	}
	return c.state.assign(c, attr, value, source)
}

func (c *Class) Unset(name string) { c.state.unset(c, name) }
func (c *Class) Source(name string) (Source, bool) { return c.state.source(name) }
func (c *Class) SetNames() []string { return c.state.setNames(&c.schema.static) }
func (c *Class) OnChange(hook ChangeHook) { c.state.onChange(hook) }
func (c *Class) Validate(names ...string) []wire.Failure { return validate(c, "", names) }

// Invoke calls a static method directly, without exposure checks.
func (c *Class) Invoke(ctx context.Context, method string, args ...interface{}) (interface{}, error) {
	m, ok := c.Method(method)
	if !ok {
		return nil, wire.Errorf(wire.CodeMalformedQuery, "component '%s' has no static method '%s'", c.Name(), method)
	}
	return invoke(ctx, c, m, args)
}

// New creates a new instance with default values applied and, when the
// primary identifier is a string without a default, a generated UUID.
func (c *Class) New() *Instance {
	inst := c.Instantiate()
	inst.MarkNew(true)
	for _, a := range c.schema.instance.attributes {
		var value interface{}
		switch {
		case a.Default != nil:
			value = a.Default()
		case a.Kind == KindPrimaryIdentifier && a.Type.Kind == KindString:
			value = newID()
		default:
			continue
		}
		// defaults are trusted to match their declared types
		_ = inst.state.assign(inst, a, value, SourceLocal)
	}
	return inst
}

// Instantiate creates an empty instance, as the deserializer does for
// components it has not seen before.
func (c *Class) Instantiate() *Instance {
	return &Instance{state: newState(), class: c}
}

func (c *Class) fork(p *Provider) *Class {
	return &Class{state: newState(), schema: c.schema, provider: p}
}

func newID() string {
	u, _ := uuid.NewV4()
	return u.String()
}
