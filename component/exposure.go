package component

import (
	"context"
	"fmt"
	"sort"
)

// Operation is something a remote peer can do with an attribute or method.
type Operation string

const (
	Get  Operation = "get"
	Set  Operation = "set"
	Call Operation = "call"
)

// Permission grants one operation to everyone, to nobody, or to a list of
// roles. A role-restricted permission is attemptable: peers see it in the
// introspection and may try it, and an Authorizer decides at execution time.
type Permission struct {
	allowed bool
	roles   []string
}

var (
	Allow = Permission{allowed: true}
	Deny  = Permission{}
)

// Roles returns a permission restricted to the given roles.
func Roles(roles ...string) Permission {
	if len(roles) == 0 {
		return Deny
	}
	sorted := append([]string(nil), roles...)
	sort.Strings(sorted)
	return Permission{roles: sorted}
}

func (p Permission) Allowed() bool { return p.allowed }
func (p Permission) Roles() []string { return p.roles }
func (p Permission) Attemptable() bool { return p.allowed || len(p.roles) > 0 }

// Value returns the wire form: true, or the list of roles. A denied
// permission has no wire form and returns nil.
func (p Permission) Value() interface{} {
	switch {
	case p.allowed:
		return true
	case len(p.roles) > 0:
		roles := make([]interface{}, len(p.roles))
		for i, r := range p.roles {
			roles[i] = r
		}
		return roles
	default:
		return nil
	}
}

// ParsePermission reads the wire form of a permission.
func ParsePermission(v interface{}) (Permission, error) {
	switch t := v.(type) {
	case nil:
		return Deny, nil
	case bool:
		if t {
			return Allow, nil
		}
		return Deny, nil
	case []interface{}:
		roles := make([]string, 0, len(t))
		for _, r := range t {
			s, ok := r.(string)
			if !ok {
				return Deny, fmt.Errorf("component: permission roles must be strings, found %T", r)
			}
			roles = append(roles, s)
		}
		return Roles(roles...), nil
	case []string:
		return Roles(t...), nil
	default:
		return Deny, fmt.Errorf("component: a permission must be a boolean or a list of roles, found %T", v)
	}
}

// Exposure is the set of remote operations an attribute or method admits.
// The zero value exposes nothing.
type Exposure struct {
	Get  Permission
	Set  Permission
	Call Permission
}

// For returns the permission governing op.
func (e Exposure) For(op Operation) Permission {
	switch op {
	case Get:
		return e.Get
	case Set:
		return e.Set
	case Call:
		return e.Call
	}
	return Deny
}

func (e *Exposure) grant(op Operation, p Permission) {
	switch op {
	case Get:
		e.Get = p
	case Set:
		e.Set = p
	case Call:
		e.Call = p
	}
}

// Exposed reports whether any operation is attemptable.
func (e Exposure) Exposed() bool {
	return e.Get.Attemptable() || e.Set.Attemptable() || e.Call.Attemptable()
}

// Value returns the wire form, listing attemptable operations only.
func (e Exposure) Value() map[string]interface{} {
	out := make(map[string]interface{})
	for _, op := range []Operation{Get, Set, Call} {
		if v := e.For(op).Value(); v != nil {
			out[string(op)] = v
		}
	}
	return out
}

// ParseExposure reads the wire form of an exposure.
func ParseExposure(m map[string]interface{}) (Exposure, error) {
	var e Exposure
	for key, raw := range m {
		op := Operation(key)
		switch op {
		case Get, Set, Call:
		default:
			return e, fmt.Errorf("component: unknown exposed operation %q", key)
		}
		p, err := ParsePermission(raw)
		if err != nil {
			return e, err
		}
		e.grant(op, p)
	}
	return e, nil
}

// Authorizer decides role-restricted operations. It is consulted only when
// the permission is a role list; Allow and Deny are decided without it.
type Authorizer interface {
	Authorize(ctx context.Context, target Component, member string, op Operation, roles []string) (bool, error)
}

// AuthorizerFunc adapts a function to an Authorizer.
type AuthorizerFunc func(ctx context.Context, target Component, member string, op Operation, roles []string) (bool, error)

func (f AuthorizerFunc) Authorize(ctx context.Context, target Component, member string, op Operation, roles []string) (bool, error) {
	return f(ctx, target, member, op, roles)
}
