package serialize

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/CrimsonAS/qcomponent/component"
	"github.com/CrimsonAS/qcomponent/wire"
)

type deserializer struct {
	opts     Options
	failures []wire.Failure
}

// Deserialize rebuilds values from their wire form. Component envelopes
// resolve through opts.Identities, so an envelope for an instance that is
// already known updates that instance in place: attributes absent from the
// envelope are left untouched.
func Deserialize(tree interface{}, opts Options) (interface{}, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("serialize.Deserialize: a provider is required")
	}
	if opts.Identities == nil {
		opts.Identities = NewIdentityMap()
	}
	d := &deserializer{opts: opts}
	v, err := d.value(tree, "", nil)
	if err != nil {
		return nil, err
	}
	if len(d.failures) > 0 {
		return nil, wire.ValidationError(d.failures)
	}
	return v, nil
}

// object gives uniform access to *wire.Map and plain maps.
type object struct {
	keys []string
	get  func(string) interface{}
}

func asObject(v interface{}) (object, bool) {
	switch t := v.(type) {
	case *wire.Map:
		return object{keys: t.Keys(), get: func(k string) interface{} { v, _ := t.Get(k); return v }}, true
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return object{keys: keys, get: func(k string) interface{} { return t[k] }}, true
	}
	return object{}, false
}

func (o object) has(key string) bool {
	for _, k := range o.keys {
		if k == key {
			return true
		}
	}
	return false
}

// value deserializes v found at path. existing is the value currently held
// at that place, which embedded components are merged into.
func (d *deserializer) value(v interface{}, path string, existing interface{}) (interface{}, error) {
	if list, ok := v.([]interface{}); ok {
		out := make([]interface{}, len(list))
		for i, e := range list {
			dv, err := d.value(e, fmt.Sprintf("%s[%d]", path, i), nil)
			if err != nil {
				return nil, err
			}
			out[i] = dv
		}
		return out, nil
	}

	obj, ok := asObject(v)
	if !ok {
		return component.Normalize(v), nil
	}

	switch {
	case obj.has(KeyComponent):
		return d.instance(obj, path, existing)
	case obj.has(KeyClass):
		return d.class(obj, path)
	case obj.has(KeyDate):
		s, ok := obj.get(KeyDate).(string)
		if !ok {
			return nil, wire.Errorf(wire.CodeMalformedQuery, "'%s' must be a string", KeyDate)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, wire.Errorf(wire.CodeMalformedQuery, "invalid date %q", s)
		}
		return t, nil
	case obj.has(KeyRegExp):
		s, _ := obj.get(KeyRegExp).(string)
		re, err := parseRegExp(s)
		if err != nil {
			return nil, wire.Errorf(wire.CodeMalformedQuery, "invalid regular expression %q: %s", s, err)
		}
		return re, nil
	case obj.has(KeyUndefined):
		return component.Undefined, nil
	case obj.has(KeyError):
		m, ok := wire.Plain(obj.get(KeyError)).(map[string]interface{})
		if !ok {
			return nil, wire.Errorf(wire.CodeMalformedQuery, "'%s' must be an object", KeyError)
		}
		return wire.ErrorFromMap(m), nil
	}

	out := make(map[string]interface{}, len(obj.keys))
	for _, k := range obj.keys {
		if strings.HasPrefix(k, "__") {
			return nil, wire.Errorf(wire.CodeMalformedQuery, "unknown reserved key '%s'", k)
		}
		dv, err := d.value(obj.get(k), join(path, k), nil)
		if err != nil {
			return nil, err
		}
		out[k] = dv
	}
	return out, nil
}

func (d *deserializer) class(obj object, path string) (interface{}, error) {
	name, _ := obj.get(KeyClass).(string)
	class, ok := d.opts.Provider.Component(name)
	if !ok {
		return nil, wire.Errorf(wire.CodeUnknownComponent, "component '%s' does not exist", name)
	}
	for _, k := range obj.keys {
		if k == KeyClass {
			continue
		}
		attr, ok := class.Attribute(k)
		if !ok {
			return nil, wire.Errorf(wire.CodeMalformedQuery, "component '%s' has no static attribute '%s'", name, k)
		}
		if err := d.assign(class, attr, obj.get(k), path); err != nil {
			return nil, err
		}
	}
	return class, nil
}

func (d *deserializer) instance(obj object, path string, existing interface{}) (interface{}, error) {
	name, _ := obj.get(KeyComponent).(string)
	class, ok := d.opts.Provider.Component(name)
	if !ok {
		return nil, wire.Errorf(wire.CodeUnknownComponent, "component '%s' does not exist", name)
	}
	isNew := false
	if marker, ok := obj.get(KeyNew).(bool); ok {
		isNew = marker
	}

	var inst *component.Instance
	switch {
	case class.Embedded():
		if prev, ok := existing.(*component.Instance); ok && prev.Class().Name() == name {
			inst = prev
		} else {
			inst = class.Instantiate()
		}
	case class.Referenced():
		var ids []component.IdentifierValue
		for _, a := range class.IdentifierAttributes() {
			if raw := obj.get(a.Name); obj.has(a.Name) && raw != nil {
				v, err := d.value(raw, join(path, a.Name), nil)
				if err != nil {
					return nil, err
				}
				ids = append(ids, component.IdentifierValue{Attribute: a.Name, Value: v})
			}
		}
		if len(ids) == 0 {
			return nil, wire.Errorf(wire.CodeMalformedQuery, "an instance of '%s' must carry an identifier", name)
		}
		var err error
		inst, _, err = d.opts.Identities.resolve(class, ids, d.opts.Source)
		if err != nil {
			return nil, err
		}
	default:
		inst = class.Instantiate()
	}
	inst.MarkNew(isNew)

	for _, k := range obj.keys {
		if k == KeyComponent || k == KeyNew {
			continue
		}
		attr, ok := inst.Attribute(k)
		if !ok {
			return nil, wire.Errorf(wire.CodeMalformedQuery, "component '%s' has no attribute '%s'", name, k)
		}
		if err := d.assign(inst, attr, obj.get(k), path); err != nil {
			return nil, err
		}
	}
	if class.Referenced() {
		d.opts.Identities.Register(inst)
	}
	return inst, nil
}

func (d *deserializer) assign(c component.Component, attr *component.Attribute, raw interface{}, path string) error {
	if !attr.IsIdentifier() && d.opts.AttributeFilter != nil {
		ok, err := d.opts.AttributeFilter(c, attr)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
	attrPath := join(path, attr.Name)
	current, _ := c.Get(attr.Name)
	v, err := d.value(raw, attrPath, current)
	if err != nil {
		return err
	}
	if err := c.Assign(attr.Name, v, d.opts.Source); err != nil {
		return err
	}
	if d.opts.Validate {
		for _, msg := range attr.Check(v) {
			d.failures = append(d.failures, wire.Failure{Path: attrPath, Message: msg})
		}
	}
	return nil
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

// parseRegExp reads "/source/flags". The i, m and s flags map to Go's
// inline flags; others have no Go equivalent and are ignored.
func parseRegExp(s string) (*regexp.Regexp, error) {
	if !strings.HasPrefix(s, "/") || strings.LastIndex(s, "/") == 0 {
		return regexp.Compile(s)
	}
	end := strings.LastIndex(s, "/")
	source, flags := s[1:end], s[end+1:]
	var inline string
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			inline += string(f)
		}
	}
	if inline != "" {
		source = "(?" + inline + ")" + source
	}
	return regexp.Compile(source)
}
