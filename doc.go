// Package qcomponent exposes Go components to remote clients through a small
// JSON query language, and lets clients use those components as if they were
// local.
//
// There is no code in this package; it documents how the packages below fit
// together.
//
// Components
//
// A component is a class with attributes and methods, declared with
// component.NewBuilder. Each attribute and method carries an exposure that
// says whether remote peers may get, set or call it, and attributes may carry
// validators. Components that have an identifier are referenced: they travel
// as identity plus selected attributes and are merged into existing objects
// on the receiving side. Components without one are embedded and travel
// whole.
//
//	movie := component.NewBuilder("Movie")
//	movie.PrimaryIdentifier("id", component.String).Expose(component.Get)
//	movie.Attribute("title", component.String).Expose(component.Get, component.Set)
//	movie.Attribute("year", component.Number).Validate(component.Min(1888)).Expose(component.Get, component.Set)
//	movie.Method("delete", nil).Expose(component.Call).Func(func(inst *component.Instance) (bool, error) {
//		...
//	})
//
// Queries
//
// A query is a JSON object whose keys select, write and invoke:
//
//	{"Movie": {"get=>": {"()": ["inception"], "title": true, "year": true}}}
//
//	{"<=": {"__component": "Counter", "id": "c1", "value": 3}, "increment=>": {"()": []}}
//
// The query package executes a query against a component.Provider, checking
// exposure on every step and validating every write. The serialize package
// converts components, dates, regular expressions and errors to and from
// their JSON envelopes, and the selector package describes which attributes
// an output includes.
//
// Serving and connecting
//
// A server.Server receives requests over any transport: in-process
// (transport.Local), length-prefixed frames over pipes (transport/stream),
// HTTP, websockets or NATS. A client.Client introspects a server once and
// builds local proxy classes whose methods run on the server, unless a local
// override is registered for them.
//
//	cl := client.New(httptransport.NewSender("http://localhost:8080/query"))
//	if err := cl.Connect(ctx); err != nil {
//		...
//	}
//	catalog, _ := cl.Component("Catalog")
//	n, err := cl.Call(ctx, catalog, "count")
//
// Binaries
//
// cmd/qcomponentd serves the example movies provider over the configured
// transports, and cmd/qcomponentctl queries it from the command line.
package qcomponent
