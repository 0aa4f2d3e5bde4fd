package component

import (
	"context"
	"encoding"
	"reflect"
	"regexp"
	"time"
)

var (
	timeType       = reflect.TypeOf(time.Time{})
	regexpType     = reflect.TypeOf((*regexp.Regexp)(nil))
	instanceType   = reflect.TypeOf((*Instance)(nil))
	classType      = reflect.TypeOf((*Class)(nil))
	componentType  = reflect.TypeOf((*Component)(nil)).Elem()
	contextType    = reflect.TypeOf((*context.Context)(nil)).Elem()
	invocationType = reflect.TypeOf((*Invocation)(nil))
	errorType      = reflect.TypeOf((*error)(nil)).Elem()
	umType         = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
	genericSliceTy = reflect.TypeOf([]interface{}(nil))
)

// ValueTypeOf returns the declared value type matching a Go type, as used
// for the parameters of functions bound with Func.
func ValueTypeOf(t reflect.Type) ValueType {
	if t == nil {
		return Any
	}
	switch t {
	case timeType:
		return Date
	case regexpType:
		return RegExp
	case instanceType, classType, componentType:
		return Any
	}
	if t.Implements(umType) || reflect.PtrTo(t).Implements(umType) {
		// bound functions unmarshal these from strings
		return String
	}

	switch t.Kind() {
	case reflect.Ptr:
		return ValueTypeOf(t.Elem())

	case reflect.Bool:
		return Boolean

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return Number

	case reflect.String:
		return String

	case reflect.Array, reflect.Slice:
		if t.Elem().Kind() == reflect.Interface {
			return ArrayOf(Any)
		}
		return ArrayOf(ValueTypeOf(t.Elem()))

	case reflect.Map, reflect.Struct:
		return Object

	default:
		return Any
	}
}
