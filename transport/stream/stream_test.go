package stream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrimsonAS/qcomponent/examples/movies"
	"github.com/CrimsonAS/qcomponent/server"
	"github.com/CrimsonAS/qcomponent/testutil/testlog"
	"github.com/CrimsonAS/qcomponent/transport"
	"github.com/CrimsonAS/qcomponent/wire"
)

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func TestFrameFormat(t *testing.T) {
	testlog.Start(t)
	var out bytes.Buffer
	c := NewConnSplit(io.NopCloser(strings.NewReader("")), nopCloser{&out})

	q := wire.NewMap().Set("Movie", true)
	require.NoError(t, c.WriteFrame(&transport.Frame{ID: "1", Request: &wire.Request{Query: q}}))

	body := `{"id":"1","request":{"query":{"Movie":true}}}`
	assert.Equal(t, fmt.Sprintf("%d %s\n", len(body), body), out.String())
}

func TestReadFrame(t *testing.T) {
	testlog.Start(t)
	body := `{"id":"7","response":{"result":42}}`
	input := fmt.Sprintf("%d %s\n", len(body), body)
	c := NewConnSplit(io.NopCloser(strings.NewReader(input)), nopCloser{io.Discard})

	f, err := c.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "7", f.ID)
	require.NotNil(t, f.Response)
	assert.Equal(t, float64(42), f.Response.Result)

	_, err = c.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestInvalidFrames(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name  string
		input string
		err   error
	}{
		{"size not a number", "abc {}\n", ErrInvalidSize},
		{"size too short", "0 \n", ErrInvalidSize},
		{"missing separator", " {}\n", ErrInvalidSize},
		{"missing newline", "2 {}x", ErrNoNewline},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConnSplit(io.NopCloser(strings.NewReader(tt.input)), nopCloser{io.Discard})
			_, err := c.ReadFrame()
			assert.ErrorIs(t, err, tt.err)
			// failures are fatal for the connection
			assert.ErrorIs(t, c.Err(), tt.err)
			assert.Error(t, c.WriteFrame(&transport.Frame{ID: "x"}))
		})
	}
}

func TestServeAndSend(t *testing.T) {
	logger := testlog.Start(t)
	srv, err := server.New(movies.MustProvider(), server.WithLogger(logger))
	require.NoError(t, err)

	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()
	serverConn := NewConnSplit(r1, w2)
	client := NewClient(NewConnSplit(r2, w1))

	served := make(chan error, 1)
	go func() { served <- Serve(context.Background(), serverConn, srv) }()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q := wire.NewMap().
				Set("<=", wire.NewMap().Set("__component", "Counter").Set("id", fmt.Sprintf("c%d", i)).Set("value", 0)).
				Set("add=>", wire.NewMap().Set("()", []interface{}{i}))
			resp, err := client.Send(context.Background(), &wire.Request{Query: q})
			if !assert.NoError(t, err) || !assert.Nil(t, resp.Error) {
				return
			}
			result := wire.Plain(resp.Result).(map[string]interface{})
			assert.Equal(t, float64(i), result["add"])
		}(i)
	}
	wg.Wait()

	require.NoError(t, client.Close())
	_, err = client.Send(context.Background(), &wire.Request{Query: wire.NewMap()})
	assert.Error(t, err)
	require.NoError(t, <-served)
}

func TestSendCanceled(t *testing.T) {
	testlog.Start(t)
	r, w := io.Pipe()
	defer r.Close()
	// nothing answers on this stream
	go io.Copy(io.Discard, r)
	in, _ := io.Pipe()
	client := NewClient(NewConnSplit(in, w))
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Send(ctx, &wire.Request{Query: wire.NewMap()})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, client.pending.Len())
}
