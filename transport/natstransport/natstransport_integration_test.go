//go:build integration

package natstransport

import (
	"context"
	"os"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrimsonAS/qcomponent/examples/movies"
	"github.com/CrimsonAS/qcomponent/server"
	"github.com/CrimsonAS/qcomponent/testutil/testlog"
	"github.com/CrimsonAS/qcomponent/wire"
)

func connect(t *testing.T) *nats.Conn {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL is not set")
	}
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func TestIntegration_RequestReply(t *testing.T) {
	logger := testlog.Start(t)
	nc := connect(t)

	srv, err := server.New(movies.MustProvider(), server.WithLogger(logger))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	subject := "qcomponent.test." + t.Name()
	s, err := Serve(ctx, nc, subject, srv)
	require.NoError(t, err)
	defer s.Close()

	for _, codec := range []wire.Codec{wire.JSON, wire.Msgpack} {
		t.Run(codec.Name(), func(t *testing.T) {
			sender := NewSender(nc, subject)
			sender.Codec = codec
			q := wire.NewMap().Set("Catalog", wire.NewMap().Set("count=>", wire.NewMap().Set("()", []interface{}{})))
			resp, err := sender.Send(ctx, &wire.Request{Query: q})
			require.NoError(t, err)
			require.Nil(t, resp.Error)
			count := wire.Plain(resp.Result).(map[string]interface{})["Catalog"]
			assert.EqualValues(t, 4, count)
		})
	}

	resp, err := NewSender(nc, subject).Send(ctx, &wire.Request{Query: wire.NewMap().Set("Series", true)})
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, wire.CodeUnknownComponent, resp.Error.Code)
}
