package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrimsonAS/qcomponent/examples/movies"
	"github.com/CrimsonAS/qcomponent/server"
	"github.com/CrimsonAS/qcomponent/testutil/testlog"
	"github.com/CrimsonAS/qcomponent/transport/httptransport"
	"github.com/CrimsonAS/qcomponent/wire"
)

func runCommand(t *testing.T, args ...string) (interface{}, error) {
	t.Helper()
	logger := testlog.Start(t)
	srv, err := server.New(movies.MustProvider(), server.WithLogger(logger))
	require.NoError(t, err)
	ts := httptest.NewServer(httptransport.HandlerWithLogger(srv, logger))
	t.Cleanup(ts.Close)

	var out bytes.Buffer
	if err := run(append([]string{"-url", ts.URL}, args...), &out); err != nil {
		return nil, err
	}
	var v interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &v))
	return v, nil
}

func TestGet(t *testing.T) {
	v, err := runCommand(t, "get", "Movie", "spirited-away")
	require.NoError(t, err)
	movie := v.(map[string]interface{})
	assert.Equal(t, "Movie", movie["__component"])
	assert.Equal(t, "Spirited Away", movie["title"])
	assert.EqualValues(t, 2001, movie["year"])
}

func TestCall(t *testing.T) {
	v, err := runCommand(t, "call", "Catalog", "count")
	require.NoError(t, err)
	assert.EqualValues(t, 4, v)

	v, err = runCommand(t, "call", "Catalog", "find", `{"country": "Japan"}`)
	require.NoError(t, err)
	list := v.([]interface{})
	require.Len(t, list, 1)
	assert.Equal(t, "spirited-away", list[0].(map[string]interface{})["id"])
}

func TestIntrospectAndQuery(t *testing.T) {
	v, err := runCommand(t, "introspect", "Counter")
	require.NoError(t, err)
	components := v.(map[string]interface{})["components"].([]interface{})
	require.Len(t, components, 1)
	assert.Equal(t, "Counter", components[0].(map[string]interface{})["name"])

	v, err = runCommand(t, "query", `{"Movie": {"limit": true}}`)
	require.NoError(t, err)
	assert.EqualValues(t, 100, v.(map[string]interface{})["Movie"].(map[string]interface{})["limit"])
}

func TestErrors(t *testing.T) {
	_, err := runCommand(t, "call", "Movie", "get", `"nope"`)
	var we *wire.Error
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "movie 'nope' was not found", we.Message)

	_, err = runCommand(t, "get", "Series", "x")
	assert.Error(t, err)
	_, err = runCommand(t, "frobnicate")
	assert.Error(t, err)
}
