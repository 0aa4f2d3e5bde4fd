// Package component is the component model: classes built from an explicit
// schema, their instances, and the provider registry a server exposes.
//
// A class is declared with a Builder. Every attribute and method states its
// value type and which remote operations (get, set, call) it exposes;
// nothing is exposed implicitly. Static attributes and methods belong to the
// class itself, the others to its instances.
//
// Instances hold only the attributes that are set. Each value remembers
// whether it was last written locally or by the peer, which the client uses
// to decide what to send back. Identifiers are immutable once set.
//
// A Provider is forked per request on a server so that mutations made while
// executing one query never leak into another.
package component
