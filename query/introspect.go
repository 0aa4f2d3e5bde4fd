package query

import (
	"fmt"

	"github.com/CrimsonAS/qcomponent/component"
	"github.com/CrimsonAS/qcomponent/selector"
	"github.com/CrimsonAS/qcomponent/serialize"
	"github.com/CrimsonAS/qcomponent/wire"
)

// Property types in an introspection.
const (
	TypeComponent         = "Component"
	TypeEmbeddedComponent = "EmbeddedComponent"
	TypeMethod            = "Method"
)

// Introspection describes the exposed surface of a provider.
type Introspection struct {
	Name       string
	Components []ComponentInfo
}

type ComponentInfo struct {
	Name       string
	Embedded   bool
	Properties []PropertyInfo
	Prototype  []PropertyInfo
}

// PropertyInfo is an exposed attribute or method.
type PropertyInfo struct {
	Name string
	// Type is TypeMethod or the attribute kind, such as "Attribute".
	Type      string
	ValueType string
	Params    []string
	Value     interface{}
	HasValue  bool
	Exposure  component.Exposure
}

func (p PropertyInfo) IsMethod() bool { return p.Type == TypeMethod }

// Introspect describes the exposed members of every component in p, or of
// the named ones only. Static values are included when filter lets them be
// read; a nil filter checks exposure only.
func Introspect(p *component.Provider, filter serialize.AttributeFilter, names ...string) (*Introspection, error) {
	classes := p.Components()
	if len(names) > 0 {
		classes = classes[:0:0]
		for _, name := range names {
			c, ok := p.Component(name)
			if !ok {
				return nil, wire.Errorf(wire.CodeUnknownComponent, "component '%s' does not exist", name)
			}
			classes = append(classes, c)
		}
	}

	out := &Introspection{Name: p.Name()}
	for _, c := range classes {
		info, err := IntrospectComponent(c, filter)
		if err != nil {
			return nil, err
		}
		if len(info.Properties) == 0 && len(info.Prototype) == 0 {
			continue
		}
		out.Components = append(out.Components, info)
	}
	return out, nil
}

// IntrospectComponent describes the exposed members of one class. Static
// attribute values, and the attributes nested in them, are included when
// filter lets them be read.
func IntrospectComponent(c *component.Class, filter serialize.AttributeFilter) (ComponentInfo, error) {
	if filter == nil {
		filter = readable
	}
	info := ComponentInfo{Name: c.Name(), Embedded: c.Embedded()}
	for _, a := range c.Attributes() {
		if !a.Exposure.Exposed() {
			continue
		}
		prop := attributeInfo(a)
		value, set := c.Get(a.Name)
		include := false
		if set {
			var err error
			if include, err = filter(c, a); err != nil {
				return info, err
			}
		}
		if include {
			sv, err := serialize.Serialize(value, serialize.Options{Selector: selector.True, AttributeFilter: filter})
			if err != nil {
				return info, err
			}
			prop.Value, prop.HasValue = sv, true
		}
		info.Properties = append(info.Properties, prop)
	}
	for _, m := range c.Methods() {
		if m.Exposure.Exposed() {
			info.Properties = append(info.Properties, methodInfo(m))
		}
	}
	for _, a := range c.InstanceAttributes() {
		if a.Exposure.Exposed() {
			info.Prototype = append(info.Prototype, attributeInfo(a))
		}
	}
	for _, m := range c.InstanceMethods() {
		if m.Exposure.Exposed() {
			info.Prototype = append(info.Prototype, methodInfo(m))
		}
	}
	return info, nil
}

func attributeInfo(a *component.Attribute) PropertyInfo {
	return PropertyInfo{
		Name:      a.Name,
		Type:      a.Kind.String(),
		ValueType: a.Type.String(),
		Exposure:  a.Exposure,
	}
}

func methodInfo(m *component.Method) PropertyInfo {
	params := make([]string, len(m.Params))
	for i, p := range m.Params {
		params[i] = p.String()
	}
	return PropertyInfo{Name: m.Name, Type: TypeMethod, Params: params, Exposure: m.Exposure}
}

// readable is the serialization filter for values leaving a server: only
// attributes exposed for reading are written.
func readable(c component.Component, a *component.Attribute) (bool, error) {
	return a.Exposure.Get.Attemptable(), nil
}

// Map returns the wire form:
//
//	{"name"?, "components": [{"name", "type", "properties", "prototype"?}]}
func (in *Introspection) Map() *wire.Map {
	out := wire.NewMap()
	if in.Name != "" {
		out.Set("name", in.Name)
	}
	components := make([]interface{}, len(in.Components))
	for i, c := range in.Components {
		components[i] = c.Map()
	}
	return out.Set("components", components)
}

func (c ComponentInfo) Map() *wire.Map {
	typ := TypeComponent
	if c.Embedded {
		typ = TypeEmbeddedComponent
	}
	out := wire.NewMap().Set("name", c.Name).Set("type", typ)
	out.Set("properties", propertyList(c.Properties))
	if len(c.Prototype) > 0 {
		out.Set("prototype", wire.NewMap().Set("properties", propertyList(c.Prototype)))
	}
	return out
}

func propertyList(props []PropertyInfo) []interface{} {
	out := make([]interface{}, len(props))
	for i, p := range props {
		out[i] = p.Map()
	}
	return out
}

func (p PropertyInfo) Map() *wire.Map {
	out := wire.NewMap().Set("name", p.Name).Set("type", p.Type)
	if p.IsMethod() {
		params := make([]interface{}, len(p.Params))
		for i, param := range p.Params {
			params[i] = param
		}
		out.Set("params", params)
	} else {
		out.Set("valueType", p.ValueType)
	}
	if p.HasValue {
		out.Set("value", p.Value)
	}
	return out.Set("exposure", p.Exposure.Value())
}

// ParseIntrospection reads the wire form produced by Map. Values are left
// in their serialized form.
func ParseIntrospection(v interface{}) (*Introspection, error) {
	m, ok := wire.Plain(v).(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("query.ParseIntrospection: expected an object, found %T", v)
	}
	out := &Introspection{}
	out.Name, _ = m["name"].(string)
	list, _ := m["components"].([]interface{})
	for _, raw := range list {
		cm, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("query.ParseIntrospection: expected a component object, found %T", raw)
		}
		info := ComponentInfo{}
		info.Name, _ = cm["name"].(string)
		typ, _ := cm["type"].(string)
		info.Embedded = typ == TypeEmbeddedComponent

		var err error
		if info.Properties, err = parseProperties(cm["properties"]); err != nil {
			return nil, fmt.Errorf("query.ParseIntrospection: component '%s': %w", info.Name, err)
		}
		if proto, ok := cm["prototype"].(map[string]interface{}); ok {
			if info.Prototype, err = parseProperties(proto["properties"]); err != nil {
				return nil, fmt.Errorf("query.ParseIntrospection: component '%s': %w", info.Name, err)
			}
		}
		out.Components = append(out.Components, info)
	}
	return out, nil
}

func parseProperties(v interface{}) ([]PropertyInfo, error) {
	list, _ := v.([]interface{})
	props := make([]PropertyInfo, 0, len(list))
	for _, raw := range list {
		pm, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("expected a property object, found %T", raw)
		}
		p := PropertyInfo{}
		p.Name, _ = pm["name"].(string)
		p.Type, _ = pm["type"].(string)
		p.ValueType, _ = pm["valueType"].(string)
		if params, ok := pm["params"].([]interface{}); ok {
			for _, param := range params {
				s, _ := param.(string)
				p.Params = append(p.Params, s)
			}
		}
		if value, ok := pm["value"]; ok {
			p.Value, p.HasValue = value, true
		}
		if exposure, ok := pm["exposure"].(map[string]interface{}); ok {
			e, err := component.ParseExposure(exposure)
			if err != nil {
				return nil, fmt.Errorf("property '%s': %w", p.Name, err)
			}
			p.Exposure = e
		}
		props = append(props, p)
	}
	return props, nil
}
