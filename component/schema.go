package component

import (
	"context"
	"fmt"
)

// AttributeKind distinguishes plain attributes from identifiers.
type AttributeKind int

const (
	KindAttribute AttributeKind = iota
	KindPrimaryIdentifier
	KindSecondaryIdentifier
)

func (k AttributeKind) String() string {
	switch k {
	case KindPrimaryIdentifier:
		return "PrimaryIdentifierAttribute"
	case KindSecondaryIdentifier:
		return "SecondaryIdentifierAttribute"
	default:
		return "Attribute"
	}
}

// ParseAttributeKind reads the introspected form of an attribute kind.
func ParseAttributeKind(s string) (AttributeKind, error) {
	switch s {
	case "Attribute", "":
		return KindAttribute, nil
	case "PrimaryIdentifierAttribute":
		return KindPrimaryIdentifier, nil
	case "SecondaryIdentifierAttribute":
		return KindSecondaryIdentifier, nil
	}
	return KindAttribute, fmt.Errorf("component: unknown attribute kind %q", s)
}

// Attribute describes one named value slot of a component class or of its
// instances.
type Attribute struct {
	Name       string
	Kind       AttributeKind
	Type       ValueType
	Exposure   Exposure
	Validators []Validator
	Default    func() interface{}
	Static     bool
}

func (a *Attribute) IsIdentifier() bool {
	return a.Kind != KindAttribute
}

// Check validates value against the attribute's validators and returns the
// failure messages.
func (a *Attribute) Check(value interface{}) []string {
	var msgs []string
	for _, v := range a.Validators {
		if msg, ok := v.Validate(value); !ok {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

// Method describes a callable member.
type Method struct {
	Name     string
	Params   []ValueType
	Exposure Exposure
	Static   bool
	Handler  Handler
}

// Invocation is what a Handler receives.
type Invocation struct {
	Context  context.Context
	Receiver Component
	Method   *Method
	Args     []interface{}
}

// Arg returns the i'th argument, or nil when fewer were passed.
func (inv *Invocation) Arg(i int) interface{} {
	if i < 0 || i >= len(inv.Args) {
		return nil
	}
	return inv.Args[i]
}

// Instance returns the receiver when the method was called on an instance.
func (inv *Invocation) Instance() *Instance {
	inst, _ := inv.Receiver.(*Instance)
	return inst
}

// Provider returns the provider the receiver's class is registered with,
// which on a server is the per-request fork.
func (inv *Invocation) Provider() *Provider {
	return inv.Receiver.Class().Provider()
}

// Handler implements a method.
type Handler func(inv *Invocation) (interface{}, error)

// Loader fills an instance a peer referred to by identity, typically from
// storage. Attributes that are already set came from the peer and must be
// left alone.
type Loader func(ctx context.Context, inst *Instance) error

type members struct {
	attributes     []*Attribute
	attributeIndex map[string]*Attribute
	methods        []*Method
	methodIndex    map[string]*Method
}

func newMembers() members {
	return members{
		attributeIndex: make(map[string]*Attribute),
		methodIndex:    make(map[string]*Method),
	}
}

func (m *members) addAttribute(a *Attribute) error {
	if _, exists := m.attributeIndex[a.Name]; exists {
		return fmt.Errorf("attribute '%s' is declared twice", a.Name)
	}
	if _, exists := m.methodIndex[a.Name]; exists {
		return fmt.Errorf("'%s' is declared as both an attribute and a method", a.Name)
	}
	m.attributes = append(m.attributes, a)
	m.attributeIndex[a.Name] = a
	return nil
}

func (m *members) addMethod(meth *Method) error {
	if _, exists := m.methodIndex[meth.Name]; exists {
		return fmt.Errorf("method '%s' is declared twice", meth.Name)
	}
	if _, exists := m.attributeIndex[meth.Name]; exists {
		return fmt.Errorf("'%s' is declared as both an attribute and a method", meth.Name)
	}
	m.methods = append(m.methods, meth)
	m.methodIndex[meth.Name] = meth
	return nil
}

// schema is shared by a class and all of its forks and never changes after
// Build.
type schema struct {
	name     string
	embedded bool
	static   members
	instance members
	primary  *Attribute
	loader   Loader
}
