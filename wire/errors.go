package wire

import (
	"errors"
	"fmt"
	"sort"
)

// Code classifies a protocol error. Application errors have no code unless
// the application supplies one as an attribute.
type Code string

const (
	CodeVersionMismatch     Code = "VERSION_MISMATCH"
	CodeMalformedQuery      Code = "MALFORMED_QUERY"
	CodeUnknownComponent    Code = "UNKNOWN_COMPONENT"
	CodeIdentifierImmutable Code = "IDENTIFIER_IMMUTABLE"
	CodeAccessDenied        Code = "ACCESS_DENIED"
	CodeValidationFailed    Code = "VALIDATION_FAILED"
)

// Sentinels for errors.Is. They match any *Error carrying the same code.
var (
	ErrVersionMismatch     = &Error{Code: CodeVersionMismatch}
	ErrMalformedQuery      = &Error{Code: CodeMalformedQuery}
	ErrUnknownComponent    = &Error{Code: CodeUnknownComponent}
	ErrIdentifierImmutable = &Error{Code: CodeIdentifierImmutable}
	ErrAccessDenied        = &Error{Code: CodeAccessDenied}
	ErrValidationFailed    = &Error{Code: CodeValidationFailed}
)

// Protocol errors are fatal to the whole request. Access and validation
// errors are fatal to the operation but recoverable by the caller.
func (c Code) Protocol() bool {
	switch c {
	case CodeVersionMismatch, CodeMalformedQuery, CodeUnknownComponent, CodeIdentifierImmutable:
		return true
	}
	return false
}

// Failure is one failing validation path.
type Failure struct {
	Path    string `json:"path" msgpack:"path"`
	Message string `json:"message" msgpack:"message"`
}

// AttributedError is implemented by application errors that carry extra
// attributes across the wire next to their message.
type AttributedError interface {
	error
	ErrorAttributes() map[string]interface{}
}

// Error is the stable error payload carried by every transport:
//
//	{"message": "...", "code"?: "...", "failures"?: [...], ...attributes}
//
// Stack traces are never part of it.
type Error struct {
	Code       Code
	Message    string
	Attributes map[string]interface{}
	Failures   []Failure
}

// Errorf returns a protocol error with a formatted message.
func Errorf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Code == "" {
		return e.Message
	}
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

// Is reports whether target is a code sentinel matching e.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Message != "" || t.Code == "" {
		return false
	}
	return t.Code == e.Code
}

func (e *Error) ErrorAttributes() map[string]interface{} {
	return e.Attributes
}

// With returns e with an extra attribute set.
func (e *Error) With(key string, value interface{}) *Error {
	if e.Attributes == nil {
		e.Attributes = make(map[string]interface{})
	}
	e.Attributes[key] = value
	return e
}

// CodeOf returns the protocol code carried by err, if any.
func CodeOf(err error) Code {
	var we *Error
	if errors.As(err, &we) {
		return we.Code
	}
	return ""
}

// FromError converts any error to its wire form. Protocol errors pass
// through; other errors keep their message and their attributes, if they
// expose any.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var we *Error
	if errors.As(err, &we) {
		return we
	}
	out := &Error{Message: err.Error()}
	var ae AttributedError
	if errors.As(err, &ae) {
		for k, v := range ae.ErrorAttributes() {
			if reservedErrorKey(k) {
				continue
			}
			out.With(k, v)
		}
	}
	return out
}

func reservedErrorKey(k string) bool {
	switch k {
	case "message", "code", "failures", "stack":
		return true
	}
	return false
}

// Map returns the flattened wire shape.
func (e *Error) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(e.Attributes)+3)
	for k, v := range e.Attributes {
		if reservedErrorKey(k) {
			continue
		}
		out[k] = v
	}
	out["message"] = e.Message
	if e.Code != "" {
		out["code"] = string(e.Code)
	}
	if len(e.Failures) > 0 {
		failures := make([]interface{}, len(e.Failures))
		for i, f := range e.Failures {
			failures[i] = map[string]interface{}{"path": f.Path, "message": f.Message}
		}
		out["failures"] = failures
	}
	return out
}

// ErrorFromMap rebuilds an Error from its flattened wire shape.
func ErrorFromMap(m map[string]interface{}) *Error {
	e := &Error{}
	for k, v := range m {
		switch k {
		case "message":
			e.Message, _ = v.(string)
		case "code":
			if s, ok := v.(string); ok {
				e.Code = Code(s)
			}
		case "failures":
			list, _ := v.([]interface{})
			for _, item := range list {
				fm, ok := Plain(item).(map[string]interface{})
				if !ok {
					continue
				}
				path, _ := fm["path"].(string)
				msg, _ := fm["message"].(string)
				e.Failures = append(e.Failures, Failure{Path: path, Message: msg})
			}
		case "stack":
		default:
			e.With(k, v)
		}
	}
	return e
}

// ValidationError collects failures into a single VALIDATION_FAILED error.
// Failures are sorted by path so that the error is deterministic.
func ValidationError(failures []Failure) *Error {
	sorted := append([]Failure(nil), failures...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	msg := fmt.Sprintf("%d attribute(s) failed validation", len(sorted))
	if len(sorted) == 1 {
		msg = fmt.Sprintf("attribute '%s' failed validation: %s", sorted[0].Path, sorted[0].Message)
	}
	return &Error{Code: CodeValidationFailed, Message: msg, Failures: sorted}
}
