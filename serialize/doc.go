// Package serialize converts values, including component classes and
// instances, to and from the protocol's JSON-compatible wire form.
//
// Instances are written as {"__component": name, ...attributes} and classes
// as {"__Component": name, ...static attributes}. Dates, regular
// expressions, errors and the undefined value use their own "__" envelopes.
// A selector chooses which attributes are written; identifiers of
// referenced components are always written.
//
// Deserialization resolves instance envelopes through an IdentityMap, so
// the same identity always yields the same *component.Instance and a known
// instance is updated in place.
package serialize
