package component

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/xeipuuv/gojsonschema"

	"github.com/CrimsonAS/qcomponent/wire"
)

// Validator checks one attribute value. Apart from Required and NotEmpty,
// validators accept nil and Undefined so optional attributes stay optional.
type Validator struct {
	Name    string
	Message string
	check   func(v interface{}) (string, bool)
}

// NewValidator returns a validator that fails with message when fn reports
// false.
func NewValidator(name, message string, fn func(v interface{}) bool) Validator {
	return Validator{
		Name:    name,
		Message: message,
		check: func(v interface{}) (string, bool) {
			if isAbsent(v) {
				return "", true
			}
			return "", fn(v)
		},
	}
}

// Validate runs the validator, returning the failure message.
func (v Validator) Validate(value interface{}) (string, bool) {
	if v.check == nil {
		return "", true
	}
	msg, ok := v.check(value)
	if ok {
		return "", true
	}
	if msg == "" {
		msg = v.Message
	}
	return msg, false
}

// Validatable is implemented by anything whose attributes can be checked
// against their declared validators.
type Validatable interface {
	Validate(names ...string) []wire.Failure
}

func isAbsent(v interface{}) bool {
	return v == nil || v == Undefined
}

func length(v interface{}) (int, bool) {
	switch t := v.(type) {
	case string:
		return utf8.RuneCountInString(t), true
	case []interface{}:
		return len(t), true
	case map[string]interface{}:
		return len(t), true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return rv.Len(), true
	}
	return 0, false
}

func number(v interface{}) (float64, bool) {
	if !isNumber(v) {
		return 0, false
	}
	f, ok := Normalize(v).(float64)
	return f, ok
}

// Required fails on unset, nil, and Undefined values.
func Required() Validator {
	return Validator{
		Name:    "required",
		Message: "a value is required",
		check:   func(v interface{}) (string, bool) { return "", !isAbsent(v) },
	}
}

// NotEmpty fails on absent values, blank strings, and empty arrays or
// objects.
func NotEmpty() Validator {
	return Validator{
		Name:    "notEmpty",
		Message: "the value must not be empty",
		check: func(v interface{}) (string, bool) {
			if isAbsent(v) {
				return "", false
			}
			if s, ok := v.(string); ok {
				return "", strings.TrimSpace(s) != ""
			}
			if n, ok := length(v); ok {
				return "", n > 0
			}
			return "", true
		},
	}
}

func MinLength(n int) Validator {
	return NewValidator("minLength", fmt.Sprintf("the length must be at least %d", n), func(v interface{}) bool {
		l, ok := length(v)
		return ok && l >= n
	})
}

func MaxLength(n int) Validator {
	return NewValidator("maxLength", fmt.Sprintf("the length must be at most %d", n), func(v interface{}) bool {
		l, ok := length(v)
		return ok && l <= n
	})
}

func Min(min float64) Validator {
	return NewValidator("min", fmt.Sprintf("the value must be at least %v", min), func(v interface{}) bool {
		f, ok := number(v)
		return ok && f >= min
	})
}

func Max(max float64) Validator {
	return NewValidator("max", fmt.Sprintf("the value must be at most %v", max), func(v interface{}) bool {
		f, ok := number(v)
		return ok && f <= max
	})
}

func Positive() Validator {
	return NewValidator("positive", "the value must be positive", func(v interface{}) bool {
		f, ok := number(v)
		return ok && f > 0
	})
}

func Integer() Validator {
	return NewValidator("integer", "the value must be an integer", func(v interface{}) bool {
		f, ok := number(v)
		return ok && f == math.Trunc(f) && !math.IsInf(f, 0)
	})
}

// Match requires string values to match pattern.
func Match(pattern *regexp.Regexp) Validator {
	return NewValidator("match", fmt.Sprintf("the value must match %s", pattern), func(v interface{}) bool {
		s, ok := v.(string)
		return ok && pattern.MatchString(s)
	})
}

// OneOf requires the value to equal one of values, compared after
// normalization.
func OneOf(values ...interface{}) Validator {
	allowed := make([]interface{}, len(values))
	for i, v := range values {
		allowed[i] = Normalize(v)
	}
	return NewValidator("anyOf", fmt.Sprintf("the value must be one of %v", values), func(v interface{}) bool {
		v = Normalize(v)
		for _, a := range allowed {
			if reflect.DeepEqual(a, v) {
				return true
			}
		}
		return false
	})
}

// JSONSchema validates plain values (objects, arrays, and primitives)
// against a JSON Schema document.
func JSONSchema(schema string) (Validator, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		return Validator{}, fmt.Errorf("component.JSONSchema: compile failed: %w", err)
	}
	return Validator{
		Name:    "jsonSchema",
		Message: "the value does not match its schema",
		check: func(v interface{}) (string, bool) {
			if isAbsent(v) {
				return "", true
			}
			result, err := compiled.Validate(gojsonschema.NewGoLoader(v))
			if err != nil {
				return err.Error(), false
			}
			if result.Valid() {
				return "", true
			}
			msgs := make([]string, 0, len(result.Errors()))
			for _, desc := range result.Errors() {
				msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
			}
			return strings.Join(msgs, "; "), false
		},
	}, nil
}

// MustJSONSchema is JSONSchema for static declarations.
func MustJSONSchema(schema string) Validator {
	v, err := JSONSchema(schema)
	if err != nil {
		panic(err)
	}
	return v
}
