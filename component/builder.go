package component

import (
	"fmt"
)

// Builder declares a component class: its attributes, methods, identifiers
// and what each exposes. Builder methods chain; the first declaration error
// is reported by Build.
//
//	b := component.NewBuilder("Movie")
//	b.PrimaryIdentifier("id", component.String).Expose(component.Get)
//	b.Attribute("title", component.String).Expose(component.Get, component.Set).
//		Validate(component.Required())
//	b.StaticAttribute("limit", component.Number).Value(100).Expose(component.Get)
//	movie, err := b.Build()
type Builder struct {
	schema  *schema
	statics map[string]interface{}
	err     error
}

func NewBuilder(name string) *Builder {
	b := &Builder{
		schema: &schema{
			name:     name,
			static:   newMembers(),
			instance: newMembers(),
		},
		statics: make(map[string]interface{}),
	}
	if !isComponentName(name) {
		b.fail(fmt.Errorf("invalid component name %q", name))
	}
	return b
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Embedded marks the component as embedded: it has no identity and is
// always serialized inline as part of its owner.
func (b *Builder) Embedded() *Builder {
	b.schema.embedded = true
	return b
}

// Load sets the loader servers run on referenced instances received from
// a client before they take part in the query.
func (b *Builder) Load(fn Loader) *Builder {
	b.schema.loader = fn
	return b
}

func (b *Builder) PrimaryIdentifier(name string, t ValueType) *AttributeBuilder {
	if b.schema.primary != nil {
		b.fail(fmt.Errorf("primary identifier '%s' is already declared", b.schema.primary.Name))
	}
	a := b.attribute(name, t, KindPrimaryIdentifier, false)
	if b.schema.primary == nil {
		b.schema.primary = a.attr
	}
	return a
}

func (b *Builder) SecondaryIdentifier(name string, t ValueType) *AttributeBuilder {
	return b.attribute(name, t, KindSecondaryIdentifier, false)
}

func (b *Builder) Attribute(name string, t ValueType) *AttributeBuilder {
	return b.attribute(name, t, KindAttribute, false)
}

func (b *Builder) StaticAttribute(name string, t ValueType) *AttributeBuilder {
	return b.attribute(name, t, KindAttribute, true)
}

func (b *Builder) attribute(name string, t ValueType, kind AttributeKind, static bool) *AttributeBuilder {
	a := &Attribute{Name: name, Kind: kind, Type: t, Static: static}
	m := &b.schema.instance
	if static {
		m = &b.schema.static
	}
	if err := m.addAttribute(a); err != nil {
		b.fail(err)
	}
	return &AttributeBuilder{b: b, attr: a}
}

// Method declares an instance method. The handler may be nil and set later
// with Func.
func (b *Builder) Method(name string, h Handler) *MethodBuilder {
	return b.method(name, h, false)
}

func (b *Builder) StaticMethod(name string, h Handler) *MethodBuilder {
	return b.method(name, h, true)
}

func (b *Builder) method(name string, h Handler, static bool) *MethodBuilder {
	meth := &Method{Name: name, Handler: h, Static: static}
	m := &b.schema.instance
	if static {
		m = &b.schema.static
	}
	if err := m.addMethod(meth); err != nil {
		b.fail(err)
	}
	return &MethodBuilder{b: b, method: meth}
}

// Build checks the declarations and returns the class. The class is not
// registered with any provider yet.
func (b *Builder) Build() (*Class, error) {
	if err := b.check(); err != nil {
		return nil, fmt.Errorf("component.Build: %s: %w", b.schema.name, err)
	}
	c := &Class{state: newState(), schema: b.schema}
	for _, a := range b.schema.static.attributes {
		value, ok := b.statics[a.Name]
		if !ok {
			continue
		}
		if err := c.state.assign(c, a, value, SourceLocal); err != nil {
			return nil, fmt.Errorf("component.Build: %s: %w", b.schema.name, err)
		}
	}
	return c, nil
}

// MustBuild is Build for static declarations.
func (b *Builder) MustBuild() *Class {
	c, err := b.Build()
	if err != nil {
		panic(err)
	}
	return c
}

func (b *Builder) check() error {
	if b.err != nil {
		return b.err
	}
	s := b.schema
	hasSecondary := false
	for _, a := range s.instance.attributes {
		if a.Kind == KindSecondaryIdentifier {
			hasSecondary = true
		}
		if err := checkAttributeExposure(a); err != nil {
			return err
		}
	}
	for _, a := range s.static.attributes {
		if err := checkAttributeExposure(a); err != nil {
			return err
		}
	}
	if s.embedded && (s.primary != nil || hasSecondary) {
		return fmt.Errorf("an embedded component cannot have identifiers")
	}
	if hasSecondary && s.primary == nil {
		return fmt.Errorf("secondary identifiers require a primary identifier")
	}
	for _, m := range append(append([]*Method(nil), s.instance.methods...), s.static.methods...) {
		if m.Exposure.Get.Attemptable() || m.Exposure.Set.Attemptable() {
			return fmt.Errorf("method '%s' can only expose 'call'", m.Name)
		}
	}
	return nil
}

func checkAttributeExposure(a *Attribute) error {
	if a.Exposure.Call.Attemptable() {
		return fmt.Errorf("attribute '%s' cannot expose 'call'", a.Name)
	}
	return nil
}

// AttributeBuilder configures one attribute.
type AttributeBuilder struct {
	b    *Builder
	attr *Attribute
}

// Expose allows the given operations to everyone.
func (a *AttributeBuilder) Expose(ops ...Operation) *AttributeBuilder {
	for _, op := range ops {
		a.attr.Exposure.grant(op, Allow)
	}
	return a
}

// ExposeTo restricts op to the given roles.
func (a *AttributeBuilder) ExposeTo(op Operation, roles ...string) *AttributeBuilder {
	a.attr.Exposure.grant(op, Roles(roles...))
	return a
}

func (a *AttributeBuilder) Validate(validators ...Validator) *AttributeBuilder {
	a.attr.Validators = append(a.attr.Validators, validators...)
	return a
}

// Default sets the function producing the initial value of new instances.
func (a *AttributeBuilder) Default(fn func() interface{}) *AttributeBuilder {
	a.attr.Default = fn
	return a
}

// Value sets the initial value of a static attribute, or the default value
// of an instance attribute.
func (a *AttributeBuilder) Value(v interface{}) *AttributeBuilder {
	if a.attr.Static {
		a.b.statics[a.attr.Name] = v
		return a
	}
	a.attr.Default = func() interface{} { return Normalize(v) }
	return a
}

// Attribute returns the declared attribute.
func (a *AttributeBuilder) Attribute() *Attribute { return a.attr }

// MethodBuilder configures one method.
type MethodBuilder struct {
	b      *Builder
	method *Method
}

func (m *MethodBuilder) Params(types ...ValueType) *MethodBuilder {
	m.method.Params = types
	return m
}

func (m *MethodBuilder) Expose(ops ...Operation) *MethodBuilder {
	for _, op := range ops {
		m.method.Exposure.grant(op, Allow)
	}
	return m
}

func (m *MethodBuilder) ExposeTo(op Operation, roles ...string) *MethodBuilder {
	m.method.Exposure.grant(op, Roles(roles...))
	return m
}

// Func binds fn as the handler; see Func for the accepted signatures. The
// parameter types are derived from fn unless Params was called.
func (m *MethodBuilder) Func(fn interface{}) *MethodBuilder {
	h, params, err := Func(fn)
	if err != nil {
		m.b.fail(fmt.Errorf("method '%s': %w", m.method.Name, err))
		return m
	}
	m.method.Handler = h
	if m.method.Params == nil {
		m.method.Params = params
	}
	return m
}

// Method returns the declared method.
func (m *MethodBuilder) Method() *Method { return m.method }
