package serialize

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrimsonAS/qcomponent/component"
	"github.com/CrimsonAS/qcomponent/selector"
	"github.com/CrimsonAS/qcomponent/wire"
)

func newProvider(t *testing.T) *component.Provider {
	t.Helper()
	details := component.NewBuilder("Details").Embedded()
	details.Attribute("duration", component.Number).Expose(component.Get, component.Set).Validate(component.Min(1))
	details.Attribute("tags", component.ArrayOf(component.String)).Expose(component.Get, component.Set)

	movie := component.NewBuilder("Movie")
	movie.PrimaryIdentifier("id", component.String).Expose(component.Get)
	movie.SecondaryIdentifier("slug", component.String).Expose(component.Get)
	movie.Attribute("title", component.String).Expose(component.Get, component.Set).Validate(component.NotEmpty())
	movie.Attribute("year", component.Number).Expose(component.Get, component.Set).Validate(component.Min(1888))
	movie.Attribute("released", component.Date).Expose(component.Get, component.Set)
	movie.Attribute("details", component.Ref("Details")).Expose(component.Get, component.Set)
	movie.Attribute("related", component.ArrayOf(component.Ref("Movie"))).Expose(component.Get, component.Set)
	movie.Attribute("extra", component.Any).Expose(component.Get, component.Set)
	movie.StaticAttribute("limit", component.Number).Value(100).Expose(component.Get)

	p, err := component.NewProvider("test", movie.MustBuild(), details.MustBuild())
	require.NoError(t, err)
	return p
}

func class(t *testing.T, p *component.Provider, name string) *component.Class {
	t.Helper()
	c, ok := p.Component(name)
	require.True(t, ok, name)
	return c
}

func sampleMovie(t *testing.T, p *component.Provider) *component.Instance {
	t.Helper()
	d := class(t, p, "Details").New()
	require.NoError(t, d.Set("duration", 148))
	require.NoError(t, d.Set("tags", []string{"heist", "dream"}))

	m := class(t, p, "Movie").Instantiate()
	m.MarkNew(true)
	require.NoError(t, m.Set("id", "m1"))
	require.NoError(t, m.Set("title", "Inception"))
	require.NoError(t, m.Set("year", 2010))
	require.NoError(t, m.Set("released", time.Date(2010, 7, 16, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, m.Set("details", d))
	return m
}

// throughJSON sends a serialized tree through the JSON codec.
func throughJSON(t *testing.T, tree interface{}) interface{} {
	t.Helper()
	data, err := wire.JSON.Marshal(wire.NewMap().Set("v", tree))
	require.NoError(t, err)
	var decoded wire.Map
	require.NoError(t, wire.JSON.Unmarshal(data, &decoded))
	v, _ := decoded.Get("v")
	return v
}

func TestInstanceEnvelope(t *testing.T) {
	p := newProvider(t)
	m := sampleMovie(t, p)

	tree, err := Serialize(m, Options{Selector: selector.True, IncludeNewMarker: true})
	require.NoError(t, err)
	data, err := wire.JSON.Marshal(tree)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"__component": "Movie",
		"__new": true,
		"id": "m1",
		"title": "Inception",
		"year": 2010,
		"released": {"__date": "2010-07-16T00:00:00Z"},
		"details": {"__component": "Details", "__new": true, "duration": 148, "tags": ["heist", "dream"]}
	}`, string(data))
}

func TestRoundTripThroughJSON(t *testing.T) {
	p := newProvider(t)
	m := sampleMovie(t, p)

	tree, err := Serialize(m, Options{Selector: selector.True})
	require.NoError(t, err)

	fork := p.Fork()
	v, err := Deserialize(throughJSON(t, tree), Options{Provider: fork, Source: component.SourceRemote})
	require.NoError(t, err)

	got, ok := v.(*component.Instance)
	require.True(t, ok)
	assert.False(t, got.IsNew())
	for _, name := range []string{"id", "title", "year", "released"} {
		want, _ := m.Get(name)
		have, _ := got.Get(name)
		assert.Equal(t, want, have, name)
	}
	details, _ := got.Get("details")
	tags, _ := details.(*component.Instance).Get("tags")
	assert.Equal(t, []interface{}{"heist", "dream"}, tags)

	src, _ := got.Source("title")
	assert.Equal(t, component.SourceRemote, src)
}

func TestSelectorIdempotence(t *testing.T) {
	p := newProvider(t)
	m := sampleMovie(t, p)
	sel := selector.Object(map[string]selector.Selector{
		"title":   selector.True,
		"details": selector.Of("tags"),
	})

	first, err := Serialize(m, Options{Selector: sel})
	require.NoError(t, err)
	v, err := Deserialize(throughJSON(t, first), Options{Provider: p.Fork()})
	require.NoError(t, err)
	second, err := Serialize(v, Options{Selector: sel})
	require.NoError(t, err)

	a, _ := wire.JSON.Marshal(first)
	b, _ := wire.JSON.Marshal(second)
	assert.JSONEq(t, string(a), string(b))
	assert.JSONEq(t, `{"__component":"Movie","id":"m1","title":"Inception","details":{"__component":"Details","tags":["heist","dream"]}}`, string(a))
}

func TestPartialWriteLeavesOtherAttributes(t *testing.T) {
	p := newProvider(t)
	ids := NewIdentityMap()
	existing := sampleMovie(t, p)
	ids.Register(existing)

	tree := wire.NewMap().Set(KeyComponent, "Movie").Set("id", "m1").Set("title", "Tenet")
	v, err := Deserialize(tree, Options{Provider: p, Identities: ids})
	require.NoError(t, err)
	assert.Same(t, existing, v)

	title, _ := existing.Get("title")
	year, _ := existing.Get("year")
	assert.Equal(t, "Tenet", title)
	assert.Equal(t, 2010.0, year)
	assert.Equal(t, 1, ids.Len())
}

func TestIdentityBySecondaryIdentifier(t *testing.T) {
	p := newProvider(t)
	ids := NewIdentityMap()

	first, err := Deserialize(map[string]interface{}{KeyComponent: "Movie", "id": "m1", "slug": "inception"}, Options{Provider: p, Identities: ids})
	require.NoError(t, err)
	second, err := Deserialize(map[string]interface{}{KeyComponent: "Movie", "slug": "inception", "year": 2010}, Options{Provider: p, Identities: ids})
	require.NoError(t, err)
	assert.Same(t, first, second)

	_, err = Deserialize(map[string]interface{}{KeyComponent: "Movie", "id": "m1", "slug": "other"}, Options{Provider: p, Identities: ids})
	assert.True(t, errors.Is(err, wire.ErrIdentifierImmutable))
}

func TestEmbeddedMergesIntoExistingValue(t *testing.T) {
	p := newProvider(t)
	ids := NewIdentityMap()
	m := sampleMovie(t, p)
	ids.Register(m)
	before, _ := m.Get("details")

	tree := map[string]interface{}{
		KeyComponent: "Movie",
		"id":         "m1",
		"details":    map[string]interface{}{KeyComponent: "Details", "duration": 150},
	}
	_, err := Deserialize(tree, Options{Provider: p, Identities: ids})
	require.NoError(t, err)

	after, _ := m.Get("details")
	assert.Same(t, before, after)
	duration, _ := after.(*component.Instance).Get("duration")
	tags, _ := after.(*component.Instance).Get("tags")
	assert.Equal(t, 150.0, duration)
	assert.Len(t, tags, 2)
}

func TestCyclesAndAnyValuesSerializeAsReferences(t *testing.T) {
	p := newProvider(t)
	m := sampleMovie(t, p)
	other := class(t, p, "Movie").Instantiate()
	require.NoError(t, other.Set("id", "m2"))
	require.NoError(t, other.Set("title", "Tenet"))
	require.NoError(t, m.Set("related", []interface{}{m, other}))
	require.NoError(t, m.Set("extra", other))

	tree, err := Serialize(m, Options{Selector: selector.Of("related", "extra")})
	require.NoError(t, err)
	data, err := wire.JSON.Marshal(tree)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"__component": "Movie", "id": "m1",
		"related": [
			{"__component": "Movie", "id": "m1"},
			{"__component": "Movie", "id": "m2", "title": "Tenet"}
		],
		"extra": {"__component": "Movie", "id": "m2"}
	}`, string(data))
}

func TestSpecialEnvelopes(t *testing.T) {
	p := newProvider(t)
	in := []interface{}{
		component.Undefined,
		regexp.MustCompile(`(?i)^a+$`),
		wire.Errorf(wire.CodeAccessDenied, "nope"),
		errors.New("plain"),
		map[string]interface{}{"n": 1},
		int64(7),
	}
	tree, err := Serialize(in, Options{Selector: selector.True})
	require.NoError(t, err)
	data, err := wire.JSON.Marshal(tree)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"__undefined": true},
		{"__regExp": "/(?i)^a+$/"},
		{"__error": {"message": "nope", "code": "ACCESS_DENIED"}},
		{"__error": {"message": "plain"}},
		{"n": 1},
		7
	]`, string(data))

	out, err := Deserialize(throughJSON(t, tree), Options{Provider: p})
	require.NoError(t, err)
	list := out.([]interface{})
	assert.Equal(t, component.Undefined, list[0])
	assert.True(t, list[1].(*regexp.Regexp).MatchString("AAA"))
	assert.Equal(t, wire.CodeAccessDenied, wire.CodeOf(list[2].(error)))
	assert.Equal(t, map[string]interface{}{"n": 1.0}, list[4])
	assert.Equal(t, 7.0, list[5])

	re, err := parseRegExp("/abc/gi")
	require.NoError(t, err)
	assert.True(t, re.MatchString("ABC"))
}

func TestReservedKeysInPlainObjects(t *testing.T) {
	p := newProvider(t)
	_, err := Serialize(map[string]interface{}{"__proto": 1}, Options{Selector: selector.True})
	assert.Equal(t, wire.CodeMalformedQuery, wire.CodeOf(err))

	_, err = Deserialize(map[string]interface{}{"__bogus": 1}, Options{Provider: p})
	assert.Equal(t, wire.CodeMalformedQuery, wire.CodeOf(err))

	_, err = Serialize(struct{}{}, Options{})
	assert.Error(t, err)
}

func TestUnknownComponentAndAttribute(t *testing.T) {
	p := newProvider(t)
	_, err := Deserialize(map[string]interface{}{KeyComponent: "Nope", "id": "x"}, Options{Provider: p})
	assert.Equal(t, wire.CodeUnknownComponent, wire.CodeOf(err))

	_, err = Deserialize(map[string]interface{}{KeyClass: "Nope"}, Options{Provider: p})
	assert.Equal(t, wire.CodeUnknownComponent, wire.CodeOf(err))

	_, err = Deserialize(map[string]interface{}{KeyComponent: "Movie", "id": "x", "nope": 1}, Options{Provider: p})
	assert.Equal(t, wire.CodeMalformedQuery, wire.CodeOf(err))

	_, err = Deserialize(map[string]interface{}{KeyComponent: "Movie", "title": "x"}, Options{Provider: p})
	assert.Equal(t, wire.CodeMalformedQuery, wire.CodeOf(err))
}

func TestClassEnvelope(t *testing.T) {
	p := newProvider(t)
	movie := class(t, p, "Movie")

	tree, err := Serialize(movie, Options{Selector: selector.True})
	require.NoError(t, err)
	data, _ := wire.JSON.Marshal(tree)
	assert.JSONEq(t, `{"__Component":"Movie","limit":100}`, string(data))

	fork := p.Fork()
	v, err := Deserialize(map[string]interface{}{KeyClass: "Movie", "limit": 5}, Options{Provider: fork})
	require.NoError(t, err)
	assert.Same(t, class(t, fork, "Movie"), v)
	limit, _ := class(t, fork, "Movie").Get("limit")
	assert.Equal(t, 5.0, limit)
}

func TestAttributeFilter(t *testing.T) {
	p := newProvider(t)
	m := sampleMovie(t, p)
	hideYear := func(c component.Component, a *component.Attribute) (bool, error) {
		return a.Name != "year", nil
	}

	tree, err := Serialize(m, Options{Selector: selector.Of("title", "year"), AttributeFilter: hideYear})
	require.NoError(t, err)
	_, hasYear := tree.(*wire.Map).Get("year")
	assert.False(t, hasYear)

	denied := wire.Errorf(wire.CodeAccessDenied, "cannot write")
	_, err = Deserialize(map[string]interface{}{KeyComponent: "Movie", "id": "m9", "year": 2000}, Options{
		Provider: p,
		AttributeFilter: func(c component.Component, a *component.Attribute) (bool, error) {
			return false, denied
		},
	})
	assert.Same(t, denied, err, "identifiers are accepted, other attributes go through the filter")
}

func TestValidationCollectsAllFailures(t *testing.T) {
	p := newProvider(t)
	tree := map[string]interface{}{
		KeyComponent: "Movie",
		"id":         "m1",
		"title":      "",
		"year":       1500,
		"details":    map[string]interface{}{KeyComponent: "Details", "duration": 0},
	}
	_, err := Deserialize(tree, Options{Provider: p, Validate: true})
	require.Error(t, err)

	var we *wire.Error
	require.True(t, errors.As(err, &we))
	assert.Equal(t, wire.CodeValidationFailed, we.Code)
	paths := []string{}
	for _, f := range we.Failures {
		paths = append(paths, f.Path)
	}
	assert.Equal(t, []string{"details.duration", "title", "year"}, paths)
}

func TestNumbersNormalizeFromMsgpack(t *testing.T) {
	p := newProvider(t)
	data, err := wire.Msgpack.Marshal(wire.NewMap().Set("v", wire.NewMap().Set(KeyComponent, "Movie").Set("id", "m1").Set("year", 1999)))
	require.NoError(t, err)
	var decoded wire.Map
	require.NoError(t, wire.Msgpack.Unmarshal(data, &decoded))
	tree, _ := decoded.Get("v")

	v, err := Deserialize(tree, Options{Provider: p})
	require.NoError(t, err)
	year, _ := v.(*component.Instance).Get("year")
	assert.Equal(t, 1999.0, year)
}
