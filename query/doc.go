// Package query executes component queries against a provider.
//
// A query is an ordered object. At the root its keys name components; under
// a component, keys read attributes ("title": true), write them
// ("title<=": "Heat"), or invoke methods ("find=>": {"()": [args]}, or
// "find=>alias" to name the output). The "<=" key supplies the component a
// node operates on, and the node echoes that component back after the
// other keys ran so that side effects travel to the caller:
//
//	{
//	  "<=": {"__component": "Counter", "id": "c1", "value": 0},
//	  "increment=>": {"()": []}
//	}
//
// returns
//
//	{"<=": {"__component": "Counter", "id": "c1", "value": 1}, "increment": null}
//
// Every member access is checked against the member's exposure first; a
// member that is not exposed fails with ACCESS_DENIED.
package query
