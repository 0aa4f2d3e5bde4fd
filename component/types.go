package component

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"
)

// TypeKind is the broad shape of a declared value type.
type TypeKind int

const (
	KindAny TypeKind = iota
	KindBoolean
	KindNumber
	KindString
	KindDate
	KindRegExp
	KindObject
	KindArray
	KindComponent
)

// ValueType is the declared type of an attribute or a method parameter. It
// prints and parses as "any", "boolean", "number", "string", "Date",
// "RegExp", "object", a component name, or any of those followed by "[]".
type ValueType struct {
	Kind      TypeKind
	Elem      *ValueType
	Component string
}

var (
	Any     = ValueType{Kind: KindAny}
	Boolean = ValueType{Kind: KindBoolean}
	Number  = ValueType{Kind: KindNumber}
	String  = ValueType{Kind: KindString}
	Date    = ValueType{Kind: KindDate}
	RegExp  = ValueType{Kind: KindRegExp}
	Object  = ValueType{Kind: KindObject}
)

// ArrayOf returns the type of arrays of elem.
func ArrayOf(elem ValueType) ValueType {
	return ValueType{Kind: KindArray, Elem: &elem}
}

// Ref returns the type of instances of the named component.
func Ref(name string) ValueType {
	return ValueType{Kind: KindComponent, Component: name}
}

// ParseType parses the printed form of a value type.
func ParseType(s string) (ValueType, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "[]") {
		elem, err := ParseType(strings.TrimSuffix(s, "[]"))
		if err != nil {
			return Any, err
		}
		return ArrayOf(elem), nil
	}
	switch s {
	case "", "any":
		return Any, nil
	case "boolean":
		return Boolean, nil
	case "number":
		return Number, nil
	case "string":
		return String, nil
	case "Date":
		return Date, nil
	case "RegExp":
		return RegExp, nil
	case "object":
		return Object, nil
	}
	if !isComponentName(s) {
		return Any, fmt.Errorf("component: invalid value type %q", s)
	}
	return Ref(s), nil
}

// MustParseType is ParseType for static declarations.
func MustParseType(s string) ValueType {
	t, err := ParseType(s)
	if err != nil {
		panic(err)
	}
	return t
}

func isComponentName(s string) bool {
	if s == "" || !(s[0] >= 'A' && s[0] <= 'Z') {
		return false
	}
	for _, r := range s {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

func (t ValueType) String() string {
	switch t.Kind {
	case KindBoolean:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindDate:
		return "Date"
	case KindRegExp:
		return "RegExp"
	case KindObject:
		return "object"
	case KindArray:
		if t.Elem == nil {
			return "any[]"
		}
		return t.Elem.String() + "[]"
	case KindComponent:
		return t.Component
	default:
		return "any"
	}
}

// ComponentName returns the component name t refers to, directly or as the
// element type of an array.
func (t ValueType) ComponentName() (string, bool) {
	for t.Kind == KindArray && t.Elem != nil {
		t = *t.Elem
	}
	if t.Kind == KindComponent {
		return t.Component, true
	}
	return "", false
}

// Check reports whether v conforms to t. Nil and Undefined always conform;
// use the Required validator to forbid them.
func (t ValueType) Check(v interface{}) error {
	if v == nil || v == Undefined {
		return nil
	}
	switch t.Kind {
	case KindAny:
		return nil
	case KindBoolean:
		if _, ok := v.(bool); ok {
			return nil
		}
	case KindNumber:
		if isNumber(v) {
			return nil
		}
	case KindString:
		if _, ok := v.(string); ok {
			return nil
		}
	case KindDate:
		if _, ok := v.(time.Time); ok {
			return nil
		}
	case KindRegExp:
		if _, ok := v.(*regexp.Regexp); ok {
			return nil
		}
	case KindObject:
		if _, ok := v.(map[string]interface{}); ok {
			return nil
		}
	case KindArray:
		list, ok := v.([]interface{})
		if !ok {
			break
		}
		if t.Elem == nil {
			return nil
		}
		for i, e := range list {
			if err := t.Elem.Check(e); err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
		}
		return nil
	case KindComponent:
		if inst, ok := v.(*Instance); ok {
			if inst.Class().Name() == t.Component {
				return nil
			}
			return fmt.Errorf("expected a value of type '%s', received an instance of '%s'", t, inst.Class().Name())
		}
	}
	return fmt.Errorf("expected a value of type '%s', received a value of type '%s'", t, describe(v))
}

func describe(v interface{}) string {
	switch t := v.(type) {
	case *Instance:
		return t.Class().Name()
	case *Class:
		return "typeof " + t.Name()
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	}
	if isNumber(v) {
		return "number"
	}
	return ValueTypeOf(reflect.TypeOf(v)).String()
}

func isNumber(v interface{}) bool {
	switch v.(type) {
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

// Normalize converts v into the canonical in-memory form: every number is a
// float64, every slice is []interface{}, every string-keyed map is
// map[string]interface{}. Components, dates, and regexps are kept as is.
func Normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case nil, bool, string, time.Time, *regexp.Regexp, *Instance, *Class, undefined:
		return v
	case float64:
		return t
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = Normalize(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = Normalize(e)
		}
		return out
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		out := make([]interface{}, rv.Len())
		for i := range out {
			out[i] = Normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		out := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = Normalize(iter.Value().Interface())
		}
		return out
	}
	return v
}

type undefined struct{}

func (undefined) String() string { return "undefined" }

// Undefined is an explicitly undefined value. It differs from an attribute
// that is not set at all, and from nil (null).
var Undefined interface{} = undefined{}
