package httptransport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrimsonAS/qcomponent/examples/movies"
	"github.com/CrimsonAS/qcomponent/server"
	"github.com/CrimsonAS/qcomponent/testutil/testlog"
	"github.com/CrimsonAS/qcomponent/wire"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := testlog.Start(t)
	srv, err := server.New(movies.MustProvider(), server.WithLogger(logger), server.WithVersion(1))
	require.NoError(t, err)
	ts := httptest.NewServer(HandlerWithLogger(srv, logger))
	t.Cleanup(ts.Close)
	return ts
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{nil, http.StatusOK},
		{wire.Errorf(wire.CodeMalformedQuery, "x"), http.StatusBadRequest},
		{wire.Errorf(wire.CodeAccessDenied, "x"), http.StatusForbidden},
		{wire.Errorf(wire.CodeUnknownComponent, "x"), http.StatusNotFound},
		{wire.Errorf(wire.CodeVersionMismatch, "x"), http.StatusConflict},
		{wire.Errorf(wire.CodeIdentifierImmutable, "x"), http.StatusConflict},
		{wire.Errorf(wire.CodeValidationFailed, "x"), http.StatusUnprocessableEntity},
		{errors.New("application"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		resp := wire.Success(nil)
		if tt.err != nil {
			resp = wire.Fail(tt.err)
		}
		assert.Equal(t, tt.status, StatusFor(resp), "%v", tt.err)
	}
}

func TestSendBothCodecs(t *testing.T) {
	ts := newTestServer(t)
	for _, codec := range []wire.Codec{wire.JSON, wire.Msgpack} {
		t.Run(codec.Name(), func(t *testing.T) {
			s := NewSender(ts.URL)
			s.Codec = codec
			q := wire.NewMap().Set("Movie", wire.NewMap().Set("get=>", wire.NewMap().
				Set("()", []interface{}{"the-matrix"}).
				Set("title", true)))
			resp, err := s.Send(context.Background(), &wire.Request{Query: q, Version: wire.Version(1)})
			require.NoError(t, err)
			require.Nil(t, resp.Error)

			movie := wire.Plain(resp.Result).(map[string]interface{})["Movie"].(map[string]interface{})
			assert.Equal(t, "Movie", movie["__component"])
			assert.Equal(t, "the-matrix", movie["id"])
			assert.Equal(t, "The Matrix", movie["title"])
		})
	}
}

func TestErrorStatusKeepsBody(t *testing.T) {
	ts := newTestServer(t)

	res, err := http.Post(ts.URL, "application/json", strings.NewReader(`{"query": {"Series": true}}`))
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "application/json", res.Header.Get("Content-Type"))

	resp, err := NewSender(ts.URL).Send(context.Background(), &wire.Request{
		Query:   wire.NewMap().Set("Movie", true),
		Version: wire.Version(2),
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, wire.CodeVersionMismatch, resp.Error.Code)
}

func TestRejectedRequests(t *testing.T) {
	ts := newTestServer(t)

	res, err := http.Get(ts.URL)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)

	res, err = http.Post(ts.URL, "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, res.StatusCode)

	res, err = http.Post(ts.URL, "application/json", strings.NewReader("not json"))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestStatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	_, err := NewSender(ts.URL).Send(context.Background(), &wire.Request{Query: wire.NewMap()})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Status)
	assert.True(t, se.Temporary())
	assert.True(t, ShouldRetry(err, 0))

	assert.False(t, ShouldRetry(&StatusError{Status: http.StatusNotFound}, 0))
	assert.True(t, ShouldRetry(errors.New("connection refused"), 3))
}
