package client

import (
	"context"
	"fmt"

	"github.com/CrimsonAS/qcomponent/component"
	"github.com/CrimsonAS/qcomponent/query"
	"github.com/CrimsonAS/qcomponent/selector"
	"github.com/CrimsonAS/qcomponent/serialize"
	"github.com/CrimsonAS/qcomponent/wire"
)

// Connect introspects the server and builds a proxy class for every
// component it exposes. Calling Connect again rebuilds the proxies; the
// instances of the previous ones keep working but are no longer matched by
// the identity map's component lookups.
func (c *Client) Connect(ctx context.Context) error {
	q := wire.NewMap().Set("introspect=>", wire.NewMap().Set(query.KeyArguments, []interface{}{}))
	result, err := c.Do(ctx, q)
	if err != nil {
		return err
	}
	in, err := query.ParseIntrospection(result)
	if err != nil {
		return fmt.Errorf("client.Connect: %w", err)
	}
	p, err := c.build(in)
	if err != nil {
		return fmt.Errorf("client.Connect: %w", err)
	}

	c.mu.Lock()
	c.provider = p
	c.mu.Unlock()
	c.logger.Debug().Str("provider", in.Name).Int("components", len(in.Components)).Msg("connected")
	return nil
}

func (c *Client) build(in *query.Introspection) (*component.Provider, error) {
	p, err := component.NewProvider(in.Name)
	if err != nil {
		return nil, err
	}
	statics := make(map[*component.Class][]query.PropertyInfo)
	for _, info := range in.Components {
		b := component.NewBuilder(info.Name)
		if info.Embedded {
			b.Embedded()
		}
		for _, prop := range info.Properties {
			if err := c.declare(b, info.Name, prop, true); err != nil {
				return nil, err
			}
		}
		for _, prop := range info.Prototype {
			if err := c.declare(b, info.Name, prop, false); err != nil {
				return nil, err
			}
		}
		class, err := b.Build()
		if err != nil {
			return nil, err
		}
		if err := p.Register(class); err != nil {
			return nil, err
		}
		statics[class] = info.Properties
	}

	// static values may refer to any component, so they are read once every
	// proxy exists
	for class, props := range statics {
		for _, prop := range props {
			if prop.IsMethod() || !prop.HasValue {
				continue
			}
			v, err := serialize.Deserialize(prop.Value, serialize.Options{
				Provider:   p,
				Identities: c.identities,
				Source:     component.SourceRemote,
			})
			if err != nil {
				return nil, fmt.Errorf("value of '%s.%s': %w", class.Name(), prop.Name, err)
			}
			if err := class.Assign(prop.Name, v, component.SourceRemote); err != nil {
				return nil, fmt.Errorf("value of '%s.%s': %w", class.Name(), prop.Name, err)
			}
		}
	}
	return p, nil
}

func (c *Client) declare(b *component.Builder, name string, prop query.PropertyInfo, static bool) error {
	if prop.IsMethod() {
		params := make([]component.ValueType, len(prop.Params))
		for i, s := range prop.Params {
			t, err := component.ParseType(s)
			if err != nil {
				return fmt.Errorf("method '%s.%s': %w", name, prop.Name, err)
			}
			params[i] = t
		}
		var m *component.MethodBuilder
		if static {
			m = b.StaticMethod(prop.Name, c.stub(name, prop.Name))
		} else {
			m = b.Method(prop.Name, c.stub(name, prop.Name))
		}
		m.Params(params...).Method().Exposure = prop.Exposure
		return nil
	}

	t, err := component.ParseType(prop.ValueType)
	if err != nil {
		return fmt.Errorf("attribute '%s.%s': %w", name, prop.Name, err)
	}
	kind, err := component.ParseAttributeKind(prop.Type)
	if err != nil {
		return fmt.Errorf("attribute '%s.%s': %w", name, prop.Name, err)
	}
	var a *component.AttributeBuilder
	switch {
	case static:
		a = b.StaticAttribute(prop.Name, t)
	case kind == component.KindPrimaryIdentifier:
		a = b.PrimaryIdentifier(prop.Name, t)
	case kind == component.KindSecondaryIdentifier:
		a = b.SecondaryIdentifier(prop.Name, t)
	default:
		a = b.Attribute(prop.Name, t)
	}
	a.Attribute().Exposure = prop.Exposure
	return nil
}

// Override registers a local implementation of a method. Proxies dispatch
// to it instead of the server; the handler may still reach the server with
// Remote. Overrides may be registered before or after Connect.
func (c *Client) Override(componentName, method string, h component.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	methods, ok := c.overrides[componentName]
	if !ok {
		methods = make(map[string]component.Handler)
		c.overrides[componentName] = methods
	}
	methods[method] = h
}

func (c *Client) override(componentName, method string) (component.Handler, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.overrides[componentName][method]
	return h, ok
}

func (c *Client) stub(componentName, method string) component.Handler {
	return func(inv *component.Invocation) (interface{}, error) {
		if h, ok := c.override(componentName, method); ok {
			return h(inv)
		}
		return c.Remote(inv)
	}
}

// Remote runs an invocation on the server, bypassing overrides.
func (c *Client) Remote(inv *component.Invocation) (interface{}, error) {
	ctx := inv.Context
	if ctx == nil {
		ctx = context.Background()
	}
	return c.call(ctx, inv.Receiver, inv.Method.Name, inv.Args)
}

// Call invokes method on receiver, which is a proxy class or an instance
// of one. Overrides take precedence over the server.
func (c *Client) Call(ctx context.Context, receiver component.Component, method string, args ...interface{}) (interface{}, error) {
	return receiver.Invoke(ctx, method, args...)
}

func (c *Client) call(ctx context.Context, receiver component.Component, method string, args []interface{}) (interface{}, error) {
	p := c.Provider()
	if p == nil {
		return nil, ErrNotConnected
	}
	source, err := c.outgoing(receiver)
	if err != nil {
		return nil, err
	}
	sargs := make([]interface{}, len(args))
	for i, arg := range args {
		if sargs[i], err = c.outgoing(arg); err != nil {
			return nil, err
		}
		c.track(arg)
	}
	c.track(receiver)

	q := wire.NewMap().
		Set(query.KeySource, source).
		Set(method+"=>", wire.NewMap().Set(query.KeyArguments, sargs))
	result, err := c.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	out, ok := result.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("client: expected an object result, found %T", result)
	}
	return out[method], nil
}

// Commit sends the attributes of c written locally since the last round
// trip. The server checks them against its exposure and validators, and
// the echoed values replace the local ones. Commit does not persist
// anything by itself; a method call carries the same modifications.
func (c *Client) Commit(ctx context.Context, target component.Component) error {
	source, err := c.outgoing(target)
	if err != nil {
		return err
	}
	c.track(target)
	_, err = c.Query(ctx, wire.NewMap().Set(query.KeySource, source))
	return err
}

// Load reads the attributes sel selects from the server into target. A
// true selector loads every attribute the server lets clients read.
func (c *Client) Load(ctx context.Context, target component.Component, sel selector.Selector) error {
	p := c.Provider()
	if p == nil {
		return ErrNotConnected
	}
	ref, err := serialize.Serialize(target, serialize.Options{Selector: selector.False})
	if err != nil {
		return fmt.Errorf("client.Load: %w", err)
	}
	c.track(target)

	q := wire.NewMap().Set(query.KeySource, ref)
	for _, a := range target.Attributes() {
		if a.IsIdentifier() || !a.Exposure.Get.Attemptable() {
			continue
		}
		if sub := sel.Get(a.Name); !sub.IsFalse() {
			q.Set(a.Name, sub.Value())
		}
	}
	result, err := c.Do(ctx, q)
	if err != nil {
		return err
	}

	// the echo carries the identity and the other keys the attributes, which
	// together make one envelope to merge into target
	m, ok := wire.Plain(result).(map[string]interface{})
	if !ok {
		return fmt.Errorf("client.Load: expected an object result, found %T", result)
	}
	envelope, ok := m[query.KeySource].(map[string]interface{})
	if !ok {
		return fmt.Errorf("client.Load: the result carries no source")
	}
	for k, v := range m {
		if k != query.KeySource {
			envelope[k] = v
		}
	}
	if _, err := c.incoming(p, envelope); err != nil {
		return err
	}
	return nil
}

// Ensure loads the attributes sel selects that target does not hold yet,
// and sends nothing when it holds them all. Held attributes count as fully
// loaded, and a true selector always loads.
func (c *Client) Ensure(ctx context.Context, target component.Component, sel selector.Selector) error {
	missing := selector.Remove(sel, selector.Of(target.SetNames()...))
	if missing.IsFalse() {
		return nil
	}
	return c.Load(ctx, target, missing)
}

// outgoing serializes v as a query value: identifiers always, and the
// attributes written locally that the server lets clients set.
func (c *Client) outgoing(v interface{}) (interface{}, error) {
	out, err := serialize.Serialize(v, serialize.Options{
		Selector:         selector.True,
		AttributeFilter:  modified,
		IncludeNewMarker: true,
	})
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	return out, nil
}

func modified(c component.Component, a *component.Attribute) (bool, error) {
	if !a.Exposure.Set.Attemptable() {
		return false, nil
	}
	return modifiedLocally(c, a.Name), nil
}

// modifiedLocally reports whether an attribute was written locally, or
// holds an embedded component with such an attribute.
func modifiedLocally(c component.Component, name string) bool {
	source, ok := c.Source(name)
	if !ok {
		return false
	}
	if source == component.SourceLocal {
		return true
	}
	v, _ := c.Get(name)
	inst, ok := v.(*component.Instance)
	if !ok || !inst.Class().Embedded() {
		return false
	}
	for _, nested := range inst.SetNames() {
		if modifiedLocally(inst, nested) {
			return true
		}
	}
	return false
}

// track registers instances the client is about to send, so that the
// response updates them rather than new copies.
func (c *Client) track(v interface{}) {
	switch t := v.(type) {
	case *component.Instance:
		if t.Class().Referenced() {
			c.identities.Register(t)
		}
	case []interface{}:
		for _, e := range t {
			c.track(e)
		}
	}
}
