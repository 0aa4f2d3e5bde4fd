package query

import (
	"context"
	"strings"

	"github.com/CrimsonAS/qcomponent/component"
	"github.com/CrimsonAS/qcomponent/selector"
	"github.com/CrimsonAS/qcomponent/serialize"
	"github.com/CrimsonAS/qcomponent/wire"
)

// Query keys.
const (
	KeySource    = "<="
	KeyArguments = "()"
	invokeMarker = "=>"
	introspect   = "introspect"
)

// Options configures one execution.
type Options struct {
	// Provider is the set of components the query runs against. Servers
	// pass a per-request fork.
	Provider *component.Provider
	// Identities resolves component envelopes. A fresh map is used when nil.
	Identities *serialize.IdentityMap
	// Authorizer decides role-restricted members. Without one, a role list
	// permits the attempt.
	Authorizer component.Authorizer
}

type executor struct {
	ctx  context.Context
	opts Options
}

// Execute runs q and returns the serialized result. Keys are evaluated in
// document order and the first failure aborts the whole query.
func Execute(ctx context.Context, q *wire.Map, opts Options) (interface{}, error) {
	if opts.Provider == nil {
		return nil, wire.Errorf(wire.CodeMalformedQuery, "no provider to execute the query against")
	}
	if q == nil {
		return nil, wire.Errorf(wire.CodeMalformedQuery, "the query must be an object")
	}
	if opts.Identities == nil {
		opts.Identities = serialize.NewIdentityMap()
	}
	e := &executor{ctx: ctx, opts: opts}
	return e.node(nil, q)
}

// asQuery returns raw as an ordered query map, if it is an object.
func asQuery(raw interface{}) (*wire.Map, bool) {
	switch t := raw.(type) {
	case *wire.Map:
		return t, true
	case map[string]interface{}:
		return wire.MapOf(t), true
	}
	return nil, false
}

func isInvocation(key string) bool { return strings.Contains(key, invokeMarker) }
func isWrite(key string) bool      { return strings.HasSuffix(key, KeySource) }

// onlyReads reports whether q, and every sub-query under it, is a plain
// attribute selection.
func onlyReads(q *wire.Map) bool {
	for _, key := range q.Keys() {
		if isWrite(key) || isInvocation(key) {
			return false
		}
		raw, _ := q.Get(key)
		if sub, ok := asQuery(raw); ok && !onlyReads(sub) {
			return false
		}
	}
	return true
}

// node runs q against current, which is nil at the root. A node of plain
// reads on a component yields the component serialized with the query as
// its selector. Any other node yields one output per key, plus the echo of
// its source under "<=".
func (e *executor) node(current component.Component, q *wire.Map) (interface{}, error) {
	if current != nil && onlyReads(q) {
		return e.read(current, q)
	}

	out := wire.NewMap()
	var source component.Component
	var echo selector.Selector
	unaliased := make(map[string]bool)
	// failures of consecutive writes, reported before anything runs on
	// the written values
	var failures []wire.Failure

	for _, key := range q.Keys() {
		raw, _ := q.Get(key)
		if key == KeySource || !isWrite(key) {
			if err := validationError(failures); err != nil {
				return nil, err
			}
		}
		switch {
		case key == KeySource:
			c, sel, err := e.source(raw)
			if err != nil {
				return nil, err
			}
			current, source, echo = c, c, sel

		case isWrite(key):
			if current == nil {
				return nil, wire.Errorf(wire.CodeMalformedQuery, "'%s' has no component to write to", key)
			}
			written, err := e.write(current, strings.TrimSuffix(key, KeySource), raw)
			if err != nil {
				return nil, err
			}
			failures = append(failures, written...)

		case isInvocation(key):
			i := strings.Index(key, invokeMarker)
			method, alias := key[:i], key[i+len(invokeMarker):]
			if method == "" {
				return nil, wire.Errorf(wire.CodeMalformedQuery, "invalid invocation key '%s'", key)
			}
			value, err := e.invoke(current, method, raw)
			if err != nil {
				return nil, err
			}
			name := alias
			if alias == "" {
				name = method
				unaliased[name] = true
			}
			out.Set(name, value)

		case current == nil:
			class, ok := e.opts.Provider.Component(key)
			if !ok {
				return nil, wire.Errorf(wire.CodeUnknownComponent, "component '%s' does not exist", key)
			}
			value, ok, err := e.project(class, raw)
			if err != nil {
				return nil, err
			}
			if ok {
				out.Set(key, value)
			}

		default:
			value, ok, err := e.attribute(current, key, raw)
			if err != nil {
				return nil, err
			}
			if ok {
				out.Set(key, value)
			}
		}
	}
	if err := validationError(failures); err != nil {
		return nil, err
	}

	if source != nil {
		echoed, err := e.serialize(source, echo)
		if err != nil {
			return nil, err
		}
		result := wire.NewMap().Set(KeySource, echoed)
		for _, k := range out.Keys() {
			v, _ := out.Get(k)
			result.Set(k, v)
		}
		return result, nil
	}
	if keys := out.Keys(); len(keys) == 1 && unaliased[keys[0]] {
		v, _ := out.Get(keys[0])
		return v, nil
	}
	return out, nil
}

// source deserializes a "<=" value and returns it with the selector of the
// attributes it carried.
func (e *executor) source(raw interface{}) (component.Component, selector.Selector, error) {
	v, err := serialize.Deserialize(raw, e.deserializeOptions())
	if err != nil {
		return nil, selector.False, err
	}
	c, ok := v.(component.Component)
	if !ok {
		return nil, selector.False, wire.Errorf(wire.CodeMalformedQuery, "the source must be a component, found %T", v)
	}
	if inst, ok := c.(*component.Instance); ok && !inst.IsNew() {
		if load := inst.Class().Loader(); load != nil {
			if err := load(e.ctx, inst); err != nil {
				return nil, selector.False, err
			}
		}
	}
	return c, carried(raw), nil
}

// carried returns the selector of the attributes present in a serialized
// value, recursing into component envelopes.
func carried(raw interface{}) selector.Selector {
	if list, ok := raw.([]interface{}); ok {
		sels := make([]selector.Selector, len(list))
		for i, e := range list {
			sels[i] = carried(e)
		}
		if merged := selector.Merge(sels...); !merged.IsFalse() {
			return merged
		}
		return selector.True
	}
	q, ok := asQuery(raw)
	if !ok {
		return selector.True
	}
	_, isInstance := q.Get(serialize.KeyComponent)
	_, isClass := q.Get(serialize.KeyClass)
	if !isInstance && !isClass {
		return selector.True
	}
	fields := make(map[string]selector.Selector)
	for _, k := range q.Keys() {
		if strings.HasPrefix(k, "__") {
			continue
		}
		v, _ := q.Get(k)
		fields[k] = carried(v)
	}
	return selector.Object(fields)
}

// write assigns one attribute and returns its validation failures, which
// the caller reports together with those of the sibling writes.
func (e *executor) write(c component.Component, name string, raw interface{}) ([]wire.Failure, error) {
	attr, ok := c.Attribute(name)
	if !ok {
		return nil, e.denied(c, name, component.Set)
	}
	if err := e.permit(c, name, component.Set, attr.Exposure.Set); err != nil {
		return nil, err
	}
	v, err := serialize.Deserialize(raw, e.deserializeOptions())
	if err != nil {
		return nil, err
	}
	if err := c.Assign(name, v, component.SourceRemote); err != nil {
		return nil, err
	}
	var failures []wire.Failure
	for _, msg := range attr.Check(v) {
		failures = append(failures, wire.Failure{Path: name, Message: msg})
	}
	return failures, nil
}

func validationError(failures []wire.Failure) error {
	if len(failures) == 0 {
		return nil
	}
	return wire.ValidationError(failures)
}

func (e *executor) invoke(current component.Component, method string, raw interface{}) (interface{}, error) {
	q, ok := asQuery(raw)
	if !ok {
		if raw != nil && raw != true {
			return nil, wire.Errorf(wire.CodeMalformedQuery, "invocation of '%s' expects an object", method)
		}
		q = wire.NewMap()
	}

	var args []interface{}
	if rawArgs, ok := q.Get(KeyArguments); ok && rawArgs != nil {
		list, ok := rawArgs.([]interface{})
		if !ok {
			return nil, wire.Errorf(wire.CodeMalformedQuery, "arguments of '%s' must be an array", method)
		}
		v, err := serialize.Deserialize(list, e.deserializeOptions())
		if err != nil {
			return nil, err
		}
		args = v.([]interface{})
	}
	rest := wire.NewMap()
	for _, k := range q.Keys() {
		if k != KeyArguments {
			v, _ := q.Get(k)
			rest.Set(k, v)
		}
	}
	var sub interface{} = true
	if rest.Len() > 0 {
		sub = rest
	}

	if method == introspect {
		return e.introspect(current, args)
	}
	if current == nil {
		return nil, wire.Errorf(wire.CodeMalformedQuery, "method '%s' has no component to be called on", method)
	}
	m, ok := current.Method(method)
	if !ok {
		return nil, e.denied(current, method, component.Call)
	}
	if err := e.permit(current, method, component.Call, m.Exposure.Call); err != nil {
		return nil, err
	}
	result, err := current.Invoke(e.ctx, method, args...)
	if err != nil {
		return nil, err
	}
	value, _, err := e.project(result, sub)
	return value, err
}

func (e *executor) introspect(current component.Component, args []interface{}) (interface{}, error) {
	switch c := current.(type) {
	case nil:
		var names []string
		if len(args) > 0 {
			switch filter := args[0].(type) {
			case nil:
			case string:
				names = []string{filter}
			case []interface{}:
				for _, n := range filter {
					s, ok := n.(string)
					if !ok {
						return nil, wire.Errorf(wire.CodeMalformedQuery, "introspection filter must list component names")
					}
					names = append(names, s)
				}
			default:
				return nil, wire.Errorf(wire.CodeMalformedQuery, "introspection filter must be a component name or a list of names")
			}
		}
		in, err := Introspect(e.opts.Provider, e.readable, names...)
		if err != nil {
			return nil, err
		}
		return in.Map(), nil
	case *component.Class:
		info, err := IntrospectComponent(c, e.readable)
		if err != nil {
			return nil, err
		}
		return info.Map(), nil
	default:
		return nil, wire.Errorf(wire.CodeMalformedQuery, "introspection is only available on the root and on components")
	}
}

func (e *executor) attribute(c component.Component, name string, raw interface{}) (interface{}, bool, error) {
	attr, ok := c.Attribute(name)
	if !ok {
		return nil, false, e.denied(c, name, component.Get)
	}
	if err := e.permit(c, name, component.Get, attr.Exposure.Get); err != nil {
		return nil, false, err
	}
	value, set := c.Get(name)
	if !set {
		return nil, false, nil
	}
	return e.project(value, raw)
}

// project applies a read sub-query to a value: true (or nil) selects it
// whole, false skips it, and an object is a sub-query applied to a
// component or to each component of an array.
func (e *executor) project(v interface{}, raw interface{}) (interface{}, bool, error) {
	sub, isQuery := asQuery(raw)
	if !isQuery {
		switch raw {
		case nil, true:
			value, err := e.serialize(v, selector.True)
			return value, err == nil, err
		case false:
			return nil, false, nil
		}
		return nil, false, wire.Errorf(wire.CodeMalformedQuery, "expected a boolean or an object, found %T", raw)
	}

	switch t := component.Normalize(v).(type) {
	case component.Component:
		value, err := e.node(t, sub)
		return value, err == nil, err
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			if item == nil {
				continue
			}
			c, ok := item.(component.Component)
			if !ok {
				return nil, false, wire.Errorf(wire.CodeMalformedQuery, "a sub-query can only be applied to components, found %T", item)
			}
			value, err := e.node(c, sub)
			if err != nil {
				return nil, false, err
			}
			out[i] = value
		}
		return out, true, nil
	case nil:
		return nil, true, nil
	}
	if v == component.Undefined {
		value, err := e.serialize(v, selector.True)
		return value, err == nil, err
	}
	return nil, false, wire.Errorf(wire.CodeMalformedQuery, "a sub-query can only be applied to a component, found %T", v)
}

// read serializes c with q as its selector, after checking that every
// attribute q names explicitly is readable.
func (e *executor) read(c component.Component, q *wire.Map) (interface{}, error) {
	if err := e.checkReads(c, q); err != nil {
		return nil, err
	}
	sel, err := selector.Parse(q)
	if err != nil {
		return nil, wire.Errorf(wire.CodeMalformedQuery, "%s", err)
	}
	return e.serialize(c, sel)
}

func (e *executor) checkReads(c component.Component, q *wire.Map) error {
	for _, key := range q.Keys() {
		attr, ok := c.Attribute(key)
		if !ok {
			return e.denied(c, key, component.Get)
		}
		if err := e.permit(c, key, component.Get, attr.Exposure.Get); err != nil {
			return err
		}
		raw, _ := q.Get(key)
		sub, ok := asQuery(raw)
		if !ok {
			continue
		}
		value, _ := c.Get(key)
		values := []interface{}{value}
		if list, ok := value.([]interface{}); ok {
			values = list
		}
		for _, v := range values {
			switch t := v.(type) {
			case nil:
			case component.Component:
				if err := e.checkReads(t, sub); err != nil {
					return err
				}
			default:
				if v == component.Undefined {
					continue
				}
				return wire.Errorf(wire.CodeMalformedQuery, "a sub-query can only be applied to a component, but '%s' is a %T", key, v)
			}
		}
	}
	return nil
}

func (e *executor) serialize(v interface{}, sel selector.Selector) (interface{}, error) {
	return serialize.Serialize(v, serialize.Options{
		Selector:         sel,
		AttributeFilter:  e.readable,
		IncludeNewMarker: true,
	})
}

// readable omits attributes the caller may not read. Explicitly selected
// attributes were already checked by checkReads and fail loudly there.
func (e *executor) readable(c component.Component, a *component.Attribute) (bool, error) {
	if !a.Exposure.Get.Attemptable() {
		return false, nil
	}
	if err := e.permit(c, a.Name, component.Get, a.Exposure.Get); err != nil {
		if wire.CodeOf(err) == wire.CodeAccessDenied {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (e *executor) deserializeOptions() serialize.Options {
	return serialize.Options{
		Provider:   e.opts.Provider,
		Identities: e.opts.Identities,
		Source:     component.SourceRemote,
		Validate:   true,
		AttributeFilter: func(c component.Component, a *component.Attribute) (bool, error) {
			return true, e.permit(c, a.Name, component.Set, a.Exposure.Set)
		},
	}
}

// permit decides whether op on member may be attempted. Role lists are
// handed to the Authorizer when there is one.
func (e *executor) permit(c component.Component, member string, op component.Operation, p component.Permission) error {
	if p.Allowed() {
		return nil
	}
	if roles := p.Roles(); len(roles) > 0 {
		if e.opts.Authorizer == nil {
			return nil
		}
		ok, err := e.opts.Authorizer.Authorize(e.ctx, c, member, op, roles)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return e.denied(c, member, op)
}

func (e *executor) denied(c component.Component, member string, op component.Operation) error {
	switch op {
	case component.Get:
		return wire.Errorf(wire.CodeAccessDenied, "cannot read attribute '%s' of component '%s'", member, c.Name())
	case component.Set:
		return wire.Errorf(wire.CodeAccessDenied, "cannot write attribute '%s' of component '%s'", member, c.Name())
	default:
		return wire.Errorf(wire.CodeAccessDenied, "cannot call method '%s' of component '%s'", member, c.Name())
	}
}
