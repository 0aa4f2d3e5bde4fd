package component

import (
	"fmt"
	"sync"
)

// Provider is the registry of classes a server exposes, or a client has
// built from an introspection.
type Provider struct {
	name    string
	mu      sync.RWMutex
	classes map[string]*Class
	order   []string
}

// NewProvider registers classes in order.
func NewProvider(name string, classes ...*Class) (*Provider, error) {
	p := &Provider{name: name, classes: make(map[string]*Class)}
	for _, c := range classes {
		if err := p.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Provider) Name() string { return p.name }

// Register adds c. A class belongs to one provider.
func (p *Provider) Register(c *Class) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.classes[c.Name()]; exists {
		return fmt.Errorf("component.Register: component '%s' is already registered", c.Name())
	}
	if c.provider != nil && c.provider != p {
		return fmt.Errorf("component.Register: component '%s' belongs to another provider", c.Name())
	}
	c.provider = p
	p.classes[c.Name()] = c
	p.order = append(p.order, c.Name())
	return nil
}

// Component returns the class registered under name.
func (p *Provider) Component(name string) (*Class, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.classes[name]
	return c, ok
}

// Components returns the classes in registration order.
func (p *Provider) Components() []*Class {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Class, len(p.order))
	for i, name := range p.order {
		out[i] = p.classes[name]
	}
	return out
}

// Check reports component types referenced by attributes or parameters
// that are not registered.
func (p *Provider) Check() error {
	for _, c := range p.Components() {
		var types []ValueType
		for _, list := range [][]*Attribute{c.Attributes(), c.InstanceAttributes()} {
			for _, a := range list {
				types = append(types, a.Type)
			}
		}
		for _, list := range [][]*Method{c.Methods(), c.InstanceMethods()} {
			for _, m := range list {
				types = append(types, m.Params...)
			}
		}
		for _, t := range types {
			if name, ok := t.ComponentName(); ok {
				if _, known := p.Component(name); !known {
					return fmt.Errorf("component.Check: '%s' refers to unknown component '%s'", c.Name(), name)
				}
			}
		}
	}
	return nil
}

// Fork returns an isolated copy: every class is copied with its static
// values, so static writes on the fork never reach p.
func (p *Provider) Fork() *Provider {
	p.mu.RLock()
	defer p.mu.RUnlock()
	forked := &Provider{
		name:    p.name,
		classes: make(map[string]*Class, len(p.classes)),
		order:   append([]string(nil), p.order...),
	}
	for name, c := range p.classes {
		forked.classes[name] = c.fork(forked)
	}
	// values may hold embedded instances of any class, so every class
	// exists in the fork before values are copied
	for name, c := range p.classes {
		forked.classes[name].state.copyFrom(&c.state, forked)
	}
	return forked
}
