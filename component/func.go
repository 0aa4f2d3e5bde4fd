package component

import (
	"encoding"
	"fmt"
	"reflect"

	"github.com/CrimsonAS/qcomponent/wire"
)

// Func adapts an ordinary Go function to a Handler, returning the handler
// and the parameter types derived from the function's signature.
//
// Leading parameters of type context.Context, *Invocation, *Instance,
// *Class or Component receive the call context, the invocation, and the
// receiver. The remaining parameters receive the arguments in order; an
// argument that does not have the parameter's exact type is converted when
// the types are convertible, unmarshaled when the parameter implements
// encoding.TextUnmarshaler and the argument is a string, or converted
// element by element for slices and maps.
//
// fn may return nothing, an error, a value, or a value and an error.
func Func(fn interface{}) (Handler, []ValueType, error) {
	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func {
		return nil, nil, fmt.Errorf("component.Func: expected a function, got %T", fn)
	}
	ft := fv.Type()
	if ft.IsVariadic() {
		return nil, nil, fmt.Errorf("component.Func: variadic functions are not supported")
	}

	var inject []func(inv *Invocation) (reflect.Value, error)
	first := 0
leading:
	for ; first < ft.NumIn(); first++ {
		switch ft.In(first) {
		case contextType:
			inject = append(inject, func(inv *Invocation) (reflect.Value, error) {
				return reflect.ValueOf(&inv.Context).Elem(), nil
			})
		case invocationType:
			inject = append(inject, func(inv *Invocation) (reflect.Value, error) {
				return reflect.ValueOf(inv), nil
			})
		case instanceType:
			inject = append(inject, func(inv *Invocation) (reflect.Value, error) {
				inst, ok := inv.Receiver.(*Instance)
				if !ok {
					return reflect.Value{}, fmt.Errorf("method '%s' must be called on an instance", inv.Method.Name)
				}
				return reflect.ValueOf(inst), nil
			})
		case classType:
			inject = append(inject, func(inv *Invocation) (reflect.Value, error) {
				return reflect.ValueOf(inv.Receiver.Class()), nil
			})
		case componentType:
			inject = append(inject, func(inv *Invocation) (reflect.Value, error) {
				return reflect.ValueOf(&inv.Receiver).Elem(), nil
			})
		default:
			break leading
		}
	}

	switch {
	case ft.NumOut() > 2:
		return nil, nil, fmt.Errorf("component.Func: expected at most 2 results, got %d", ft.NumOut())
	case ft.NumOut() == 2 && ft.Out(1) != errorType:
		return nil, nil, fmt.Errorf("component.Func: the second result must be an error")
	}

	params := make([]ValueType, 0, ft.NumIn()-first)
	for i := first; i < ft.NumIn(); i++ {
		params = append(params, ValueTypeOf(ft.In(i)))
	}

	h := func(inv *Invocation) (interface{}, error) {
		name := "function"
		if inv.Method != nil {
			name = inv.Method.Name
		}
		if len(inv.Args) != len(params) {
			return nil, wire.Errorf(wire.CodeMalformedQuery, "wrong number of arguments for %s; expected %d, provided %d",
				name, len(params), len(inv.Args))
		}

		callArgs := make([]reflect.Value, 0, ft.NumIn())
		for _, fn := range inject {
			v, err := fn(inv)
			if err != nil {
				return nil, wire.Errorf(wire.CodeMalformedQuery, "%s", err)
			}
			callArgs = append(callArgs, v)
		}
		for i, arg := range inv.Args {
			argType := ft.In(first + i)
			v, err := convertArg(arg, argType)
			if err != nil {
				return nil, wire.Errorf(wire.CodeMalformedQuery, "wrong type for argument %d to %s; %s", i, name, err)
			}
			callArgs = append(callArgs, v)
		}

		return results(fv.Call(callArgs))
	}
	return h, params, nil
}

func results(out []reflect.Value) (interface{}, error) {
	var result interface{}
	for _, value := range out {
		if value.Type().Implements(errorType) {
			if !value.IsNil() {
				return nil, value.Interface().(error)
			}
			continue
		}
		result = value.Interface()
	}
	return result, nil
}

// convertArg matches an argument to the parameter type, converting or
// unmarshaling it if possible.
func convertArg(in interface{}, argType reflect.Type) (reflect.Value, error) {
	if in == Undefined {
		in = nil
	}
	inValue := reflect.ValueOf(in)

	switch {
	case !inValue.IsValid():
		// nil argument, pass the zero value
		return reflect.Zero(argType), nil

	case inValue.Type() == argType:
		return inValue, nil

	case argType.Kind() == reflect.Interface && inValue.Type().Implements(argType):
		v := reflect.New(argType).Elem()
		v.Set(inValue)
		return v, nil

	case inValue.Type().ConvertibleTo(argType) && inValue.Kind() != reflect.String:
		return inValue.Convert(argType), nil

	case inValue.Kind() == reflect.String:
		// Attempt to unmarshal via TextUnmarshaler, directly or by pointer
		var um encoding.TextUnmarshaler
		var arg reflect.Value
		if argType.Kind() == reflect.Ptr && argType.Implements(umType) {
			arg = reflect.New(argType.Elem())
			um = arg.Interface().(encoding.TextUnmarshaler)
		} else if reflect.PtrTo(argType).Implements(umType) {
			ptr := reflect.New(argType)
			um = ptr.Interface().(encoding.TextUnmarshaler)
			arg = ptr.Elem()
		}
		if um != nil {
			if err := um.UnmarshalText([]byte(in.(string))); err != nil {
				return reflect.Value{}, fmt.Errorf("expected %s, unmarshal failed: %s", argType, err)
			}
			return arg, nil
		}
		if inValue.Type().ConvertibleTo(argType) && argType.Kind() == reflect.String {
			return inValue.Convert(argType), nil
		}

	case inValue.Type() == genericSliceTy && argType.Kind() == reflect.Slice:
		list := in.([]interface{})
		out := reflect.MakeSlice(argType, len(list), len(list))
		for i, e := range list {
			v, err := convertArg(e, argType.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("element %d: %s", i, err)
			}
			out.Index(i).Set(v)
		}
		return out, nil

	case inValue.Kind() == reflect.Map && argType.Kind() == reflect.Map &&
		argType.Key().Kind() == reflect.String && inValue.Type().Key().Kind() == reflect.String:
		out := reflect.MakeMapWithSize(argType, inValue.Len())
		iter := inValue.MapRange()
		for iter.Next() {
			v, err := convertArg(iter.Value().Interface(), argType.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("key '%s': %s", iter.Key().String(), err)
			}
			out.SetMapIndex(iter.Key().Convert(argType.Key()), v)
		}
		return out, nil
	}

	return reflect.Value{}, fmt.Errorf("expected %s, provided %s", argType, inValue.Type())
}
