package serialize

import (
	"reflect"
	"sync"

	"github.com/CrimsonAS/qcomponent/component"
)

type identityKey struct {
	component string
	attribute string
	value     interface{}
}

// IdentityMap maps (component name, identifier name, identifier value) to
// the one instance representing that identity. A client keeps one per
// session; a server uses one per request. It is safe for concurrent use.
type IdentityMap struct {
	mu        sync.Mutex
	instances map[identityKey]*component.Instance
}

func NewIdentityMap() *IdentityMap {
	return &IdentityMap{instances: make(map[identityKey]*component.Instance)}
}

func keyFor(name, attribute string, value interface{}) (identityKey, bool) {
	value = component.Normalize(value)
	if value == nil || !reflect.TypeOf(value).Comparable() {
		return identityKey{}, false
	}
	return identityKey{component: name, attribute: attribute, value: value}, true
}

// Lookup returns the instance registered under one identifier.
func (m *IdentityMap) Lookup(name, attribute string, value interface{}) (*component.Instance, bool) {
	key, ok := keyFor(name, attribute, value)
	if !ok {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[key]
	return inst, ok
}

// Register records inst under each of its set identifiers.
func (m *IdentityMap) Register(inst *component.Instance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.register(inst)
}

func (m *IdentityMap) register(inst *component.Instance) {
	for _, id := range inst.Identifiers() {
		if key, ok := keyFor(inst.Name(), id.Attribute, id.Value); ok {
			m.instances[key] = inst
		}
	}
}

// Forget removes every entry pointing at inst.
func (m *IdentityMap) Forget(inst *component.Instance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, registered := range m.instances {
		if registered == inst {
			delete(m.instances, key)
		}
	}
}

// Len returns the number of distinct instances registered.
func (m *IdentityMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[*component.Instance]struct{}, len(m.instances))
	for _, inst := range m.instances {
		seen[inst] = struct{}{}
	}
	return len(seen)
}

// resolve finds the instance for the given identifiers, or creates,
// identifies, and registers a new one. The lookup and the registration
// happen under one lock so concurrent responses agree on the instance.
func (m *IdentityMap) resolve(class *component.Class, ids []component.IdentifierValue, source component.Source) (*component.Instance, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		key, ok := keyFor(class.Name(), id.Attribute, id.Value)
		if !ok {
			continue
		}
		if inst, ok := m.instances[key]; ok {
			return inst, false, nil
		}
	}
	inst := class.Instantiate()
	for _, id := range ids {
		if err := inst.Assign(id.Attribute, id.Value, source); err != nil {
			return nil, false, err
		}
	}
	m.register(inst)
	return inst, true, nil
}
