package query

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrimsonAS/qcomponent/component"
	"github.com/CrimsonAS/qcomponent/examples/movies"
	"github.com/CrimsonAS/qcomponent/testutil/testlog"
	"github.com/CrimsonAS/qcomponent/wire"
)

type fixture struct {
	store    *movies.Store
	provider *component.Provider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	testlog.Start(t)
	store := movies.NewStore(movies.Sample()...)
	p, err := movies.NewProvider(store)
	require.NoError(t, err)
	return &fixture{store: store, provider: p}
}

func parse(t *testing.T, src string) *wire.Map {
	t.Helper()
	q := wire.NewMap()
	require.NoError(t, json.Unmarshal([]byte(src), q))
	return q
}

func (f *fixture) run(t *testing.T, src string) (interface{}, error) {
	t.Helper()
	return Execute(context.Background(), parse(t, src), Options{Provider: f.provider.Fork()})
}

func (f *fixture) mustRun(t *testing.T, src string) interface{} {
	t.Helper()
	v, err := f.run(t, src)
	require.NoError(t, err)
	return v
}

func asJSON(t *testing.T, v interface{}) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func requireCode(t *testing.T, err error, code wire.Code) *wire.Error {
	t.Helper()
	require.Error(t, err)
	var we *wire.Error
	require.True(t, errors.As(err, &we), "expected a wire error, got %T: %v", err, err)
	require.Equal(t, code, we.Code, we.Message)
	return we
}

func TestIntrospectProvider(t *testing.T) {
	f := newFixture(t)
	v := f.mustRun(t, `{"introspect=>": {"()": []}}`)

	in, err := ParseIntrospection(v)
	require.NoError(t, err)
	assert.Equal(t, "movies", in.Name)

	names := make([]string, len(in.Components))
	for i, c := range in.Components {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"Details", "Movie", "Counter", "Catalog"}, names)

	var movie ComponentInfo
	for _, c := range in.Components {
		if c.Name == "Movie" {
			movie = c
		}
	}
	require.NotEmpty(t, movie.Properties)
	limit := movie.Properties[0]
	assert.Equal(t, "limit", limit.Name)
	assert.Equal(t, "Attribute", limit.Type)
	assert.Equal(t, "number", limit.ValueType)
	assert.True(t, limit.HasValue)
	assert.Equal(t, float64(100), limit.Value)
	assert.Equal(t, map[string]interface{}{"get": true}, limit.Exposure.Value())

	plain := wire.Plain(v).(map[string]interface{})
	components := plain["components"].([]interface{})
	details := components[0].(map[string]interface{})
	assert.Equal(t, "EmbeddedComponent", details["type"])
}

func TestIntrospectFilter(t *testing.T) {
	f := newFixture(t)
	v := f.mustRun(t, `{"introspect=>": {"()": ["Counter"]}}`)
	in, err := ParseIntrospection(v)
	require.NoError(t, err)
	require.Len(t, in.Components, 1)
	assert.Equal(t, "Counter", in.Components[0].Name)

	var increment PropertyInfo
	for _, p := range in.Components[0].Prototype {
		if p.Name == "increment" {
			increment = p
		}
	}
	assert.True(t, increment.IsMethod())
	assert.Empty(t, increment.Params)
	assert.True(t, increment.Exposure.Call.Allowed())

	_, err = f.run(t, `{"introspect=>": {"()": [["Counter", "Nope"]]}}`)
	requireCode(t, err, wire.CodeUnknownComponent)
}

func TestIntrospectComponentNode(t *testing.T) {
	f := newFixture(t)
	v := f.mustRun(t, `{"Movie": {"introspect=>": {"()": []}}}`)
	movie := wire.Plain(v).(map[string]interface{})["Movie"].(map[string]interface{})
	assert.Equal(t, "Movie", movie["name"])
	assert.Equal(t, "Component", movie["type"])

	proto := movie["prototype"].(map[string]interface{})["properties"].([]interface{})
	var names []string
	for _, p := range proto {
		names = append(names, p.(map[string]interface{})["name"].(string))
	}
	assert.Equal(t, []string{"id", "title", "year", "country", "details", "rating", "save", "delete"}, names)
}

func TestCounterIncrement(t *testing.T) {
	f := newFixture(t)
	v := f.mustRun(t, `{
		"<=": {"__component": "Counter", "__new": true, "id": "c1", "value": 0},
		"increment=>": {"()": []}
	}`)
	assert.JSONEq(t, `{
		"<=": {"__component": "Counter", "__new": true, "id": "c1", "value": 1},
		"increment": null
	}`, asJSON(t, v))
}

func TestSiblingsRunInDocumentOrder(t *testing.T) {
	f := newFixture(t)
	v := f.mustRun(t, `{
		"<=": {"__component": "Counter", "id": "c1", "value": 0},
		"add=>a": {"()": [2]},
		"add=>b": {"()": [3]}
	}`)
	assert.JSONEq(t, `{
		"<=": {"__component": "Counter", "id": "c1", "value": 5},
		"a": 2,
		"b": 5
	}`, asJSON(t, v))

	m := v.(*wire.Map)
	assert.Equal(t, []string{"<=", "a", "b"}, m.Keys())
}

func TestInvocationWithSelector(t *testing.T) {
	f := newFixture(t)
	v := f.mustRun(t, `{"Movie": {"get=>": {"()": ["inception"], "title": true, "details": {"duration": true}}}}`)
	assert.JSONEq(t, `{"Movie": {
		"__component": "Movie",
		"id": "inception",
		"title": "Inception",
		"details": {"__component": "Details", "duration": 148}
	}}`, asJSON(t, v))
}

func TestInvocationWholeResult(t *testing.T) {
	f := newFixture(t)
	v := f.mustRun(t, `{"Movie": {"get=>": {"()": ["amelie"]}}}`)
	assert.JSONEq(t, `{"Movie": {
		"__component": "Movie",
		"id": "amelie",
		"title": "Amélie",
		"year": 2001,
		"country": "France",
		"details": {"__component": "Details", "duration": 122, "tags": ["romance"]},
		"rating": 8.3
	}}`, asJSON(t, v))
}

func TestAliasesAndArrays(t *testing.T) {
	f := newFixture(t)
	v := f.mustRun(t, `{"Catalog": {
		"find=>usa": {"()": [{"country": "USA"}], "title": true},
		"count=>": {"()": []}
	}}`)
	assert.JSONEq(t, `{"Catalog": {
		"usa": [
			{"__component": "Movie", "id": "the-matrix", "title": "The Matrix"},
			{"__component": "Movie", "id": "inception", "title": "Inception"}
		],
		"count": 4
	}}`, asJSON(t, v))
}

func TestReadStaticAttribute(t *testing.T) {
	f := newFixture(t)
	v := f.mustRun(t, `{"Movie": {"limit": true}}`)
	assert.JSONEq(t, `{"Movie": {"__Component": "Movie", "limit": 100}}`, asJSON(t, v))
}

func TestWriteAndSave(t *testing.T) {
	f := newFixture(t)
	v := f.mustRun(t, `{
		"<=": {"__component": "Movie", "id": "inception"},
		"title<=": "Inception (2010)",
		"save=>": {}
	}`)
	assert.JSONEq(t, `{"<=": {"__component": "Movie", "id": "inception"}, "save": null}`, asJSON(t, v))

	r, ok := f.store.Get("inception")
	require.True(t, ok)
	assert.Equal(t, "Inception (2010)", r.Title)
	assert.Equal(t, 2010, r.Year)
}

func TestSourceIsLoaded(t *testing.T) {
	f := newFixture(t)
	v := f.mustRun(t, `{
		"<=": {"__component": "Movie", "id": "amelie", "country": "FR"},
		"title": true,
		"country": true,
		"details": {"duration": true}
	}`)
	assert.JSONEq(t, `{
		"<=": {"__component": "Movie", "id": "amelie", "country": "FR"},
		"title": "Amélie",
		"country": "FR",
		"details": {"__component": "Details", "duration": 122}
	}`, asJSON(t, v))
}

func TestCreateReturnsNewIdentity(t *testing.T) {
	f := newFixture(t)
	v := f.mustRun(t, `{"Catalog": {"create=>": {"()": ["Heat", 1995], "title": true, "year": true}}}`)
	created := wire.Plain(v).(map[string]interface{})["Catalog"].(map[string]interface{})
	assert.Equal(t, "Movie", created["__component"])
	assert.NotEmpty(t, created["id"])
	assert.NotContains(t, created, "__new")
	assert.Equal(t, "Heat", created["title"])
	assert.Equal(t, 5, f.store.Len())
}

func TestAccessDenied(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name  string
		query string
		msg   string
	}{
		{
			name:  "write not exposed",
			query: `{"<=": {"__component": "Movie", "id": "inception", "rating": 9}}`,
			msg:   "cannot write attribute 'rating' of component 'Movie'",
		},
		{
			name:  "single write not exposed",
			query: `{"Movie": {"limit<=": 1}}`,
			msg:   "cannot write attribute 'limit' of component 'Movie'",
		},
		{
			name:  "unknown attribute",
			query: `{"Movie": {"get=>": {"()": ["inception"], "budget": true}}}`,
			msg:   "cannot read attribute 'budget' of component 'Movie'",
		},
		{
			name:  "unknown method",
			query: `{"Movie": {"drop=>": {}}}`,
			msg:   "cannot call method 'drop' of component 'Movie'",
		},
		{
			name:  "instance method on class",
			query: `{"Movie": {"save=>": {}}}`,
			msg:   "cannot call method 'save' of component 'Movie'",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.run(t, tt.query)
			we := requireCode(t, err, wire.CodeAccessDenied)
			assert.Equal(t, tt.msg, we.Message)
		})
	}
}

func TestAuthorizer(t *testing.T) {
	f := newFixture(t)
	q := `{"Movie": {"get=>": {"()": ["inception"], "rating": true}}}`

	var seen []string
	deny := component.AuthorizerFunc(func(ctx context.Context, target component.Component, member string, op component.Operation, roles []string) (bool, error) {
		seen = append(seen, member)
		assert.Equal(t, []string{"critic"}, roles)
		return false, nil
	})
	_, err := Execute(context.Background(), parse(t, q), Options{Provider: f.provider.Fork(), Authorizer: deny})
	we := requireCode(t, err, wire.CodeAccessDenied)
	assert.Equal(t, "cannot read attribute 'rating' of component 'Movie'", we.Message)
	assert.Equal(t, []string{"rating"}, seen)

	allow := component.AuthorizerFunc(func(context.Context, component.Component, string, component.Operation, []string) (bool, error) {
		return true, nil
	})
	v, err := Execute(context.Background(), parse(t, q), Options{Provider: f.provider.Fork(), Authorizer: allow})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Movie": {"__component": "Movie", "id": "inception", "rating": 8.8}}`, asJSON(t, v))
}

func TestValidationCollectsEveryFailure(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, `{"<=": {
		"__component": "Movie", "__new": true, "id": "new",
		"title": "", "year": 1800,
		"details": {"__component": "Details", "duration": -5}
	}}`)
	we := requireCode(t, err, wire.CodeValidationFailed)
	paths := make([]string, len(we.Failures))
	for i, failure := range we.Failures {
		paths[i] = failure.Path
	}
	assert.Equal(t, []string{"details.duration", "title", "year"}, paths)
}

func TestObjectAttributeSchema(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, `{"<=": {"__component": "Movie", "id": "inception",
		"details": {"__component": "Details", "credits": {"director": 1}}
	}}`)
	we := requireCode(t, err, wire.CodeValidationFailed)
	require.Len(t, we.Failures, 1)
	assert.Equal(t, "details.credits", we.Failures[0].Path)

	v := f.mustRun(t, `{"<=": {"__component": "Movie", "id": "inception",
		"details": {"__component": "Details", "credits": {"director": "Christopher Nolan", "cast": ["Leonardo DiCaprio"]}}
	}, "details": {"credits": true}}`)
	assert.JSONEq(t, `{
		"<=": {"__component": "Movie", "id": "inception",
			"details": {"__component": "Details", "credits": {"director": "Christopher Nolan", "cast": ["Leonardo DiCaprio"]}}},
		"details": {"__component": "Details", "credits": {"director": "Christopher Nolan", "cast": ["Leonardo DiCaprio"]}}
	}`, asJSON(t, v))
}

func TestSingleWriteValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, `{"<=": {"__component": "Movie", "id": "inception"}, "year<=": 1800.5}`)
	we := requireCode(t, err, wire.CodeValidationFailed)
	require.Len(t, we.Failures, 2)
	assert.Equal(t, "year", we.Failures[0].Path)
}

func TestIdentifierWriteNeedsExposure(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, `{"<=": {"__component": "Counter", "id": "c1", "value": 0}, "id<=": "c2"}`)
	requireCode(t, err, wire.CodeAccessDenied)
}

func TestMalformedQueries(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name  string
		query string
		code  wire.Code
	}{
		{"unknown component", `{"Nope": true}`, wire.CodeUnknownComponent},
		{"unknown envelope component", `{"<=": {"__component": "Nope", "id": "x"}}`, wire.CodeUnknownComponent},
		{"root write without source", `{"title<=": "x"}`, wire.CodeMalformedQuery},
		{"root invocation", `{"find=>": {}}`, wire.CodeMalformedQuery},
		{"sub-query on a string", `{"Movie": {"get=>": {"()": ["inception"], "title": {"x": true}}}}`, wire.CodeMalformedQuery},
		{"source is not a component", `{"<=": 42}`, wire.CodeMalformedQuery},
		{"arguments not an array", `{"Movie": {"get=>": {"()": "inception"}}}`, wire.CodeMalformedQuery},
		{"wrong argument count", `{"Movie": {"get=>": {"()": []}}}`, wire.CodeMalformedQuery},
		{"wrong argument type", `{"Movie": {"get=>": {"()": [42]}}}`, wire.CodeMalformedQuery},
		{"missing identifier", `{"<=": {"__component": "Movie", "title": "x"}}`, wire.CodeMalformedQuery},
		{"wrong attribute type", `{"<=": {"__component": "Counter", "id": "c1", "value": "one"}}`, wire.CodeMalformedQuery},
		{"bad selector", `{"Movie": {"limit": 3}}`, wire.CodeMalformedQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.run(t, tt.query)
			requireCode(t, err, tt.code)
		})
	}
}

func TestApplicationErrorsPassThrough(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, `{"Movie": {"get=>": {"()": ["missing"]}}}`)
	require.Error(t, err)
	assert.Equal(t, wire.Code(""), wire.CodeOf(err))

	we := wire.FromError(err)
	assert.Equal(t, "movie 'missing' was not found", we.Message)
	assert.Equal(t, "missing", we.Attributes["id"])
}

func TestForkIsolatesRequests(t *testing.T) {
	f := newFixture(t)
	fork := f.provider.Fork()
	movie, ok := fork.Component("Movie")
	require.True(t, ok)
	require.NoError(t, movie.Set("limit", 1))

	v, err := Execute(context.Background(), parse(t, `{"Catalog": {"find=>": {"()": [{}], "id": true}}}`), Options{Provider: fork})
	require.NoError(t, err)
	assert.Len(t, wire.Plain(v).(map[string]interface{})["Catalog"], 1)

	v = f.mustRun(t, `{"Catalog": {"find=>": {"()": [{}], "id": true}}}`)
	assert.Len(t, wire.Plain(v).(map[string]interface{})["Catalog"], 4)
}

func TestPlainMapQuery(t *testing.T) {
	f := newFixture(t)
	q := wire.MapOf(map[string]interface{}{
		"Movie": map[string]interface{}{"limit": true},
	})
	v, err := Execute(context.Background(), q, Options{Provider: f.provider})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Movie": {"__Component": "Movie", "limit": 100}}`, asJSON(t, v))
}
