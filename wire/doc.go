// Package wire defines what crosses the boundary between a component client
// and a component server: the request and response envelopes, the ordered
// Map used for query trees, the stable error payload, and the codecs that
// turn them into bytes.
//
// A request is
//
//	{"query": <query-tree>, "components"?: [<envelope>...], "version"?: <int>}
//
// and a response is either {"result": <value>} or {"error": {"message": ...}}.
// The error payload has the same shape on every transport; transports only
// choose how to signal it (an HTTP status, a frame, a NATS reply).
package wire
