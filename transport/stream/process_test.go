package stream

import (
	"context"
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrimsonAS/qcomponent/examples/movies"
	"github.com/CrimsonAS/qcomponent/logging"
	"github.com/CrimsonAS/qcomponent/server"
	"github.com/CrimsonAS/qcomponent/testutil/testlog"
	"github.com/CrimsonAS/qcomponent/wire"
)

const childEnv = "QCOMPONENT_STREAM_CHILD"

// TestMain turns the test binary into a stdio server when started by
// TestExec.
func TestMain(m *testing.M) {
	if os.Getenv(childEnv) == "1" {
		os.Exit(serveChild())
	}
	os.Exit(m.Run())
}

func serveChild() int {
	cfg := logging.DefaultConfig(logging.ProfileRuntime)
	cfg.Output = os.Stderr
	logging.Install(cfg)
	srv, err := server.New(movies.MustProvider())
	if err != nil {
		return 1
	}
	if err := Serve(context.Background(), NewConnSplit(os.Stdin, os.Stdout), srv); err != nil {
		return 1
	}
	return 0
}

func TestExec(t *testing.T) {
	testlog.Start(t)
	cmd := exec.Command(os.Args[0], "-test.run=^$")
	cmd.Env = append(os.Environ(), childEnv+"=1")
	p, err := Exec(cmd)
	require.NoError(t, err)

	q := wire.NewMap().Set("Catalog", wire.NewMap().Set("count=>", wire.NewMap().Set("()", []interface{}{})))
	resp, err := p.Send(context.Background(), &wire.Request{Query: q})
	require.NoError(t, err)
	require.NoError(t, resp.Err())
	assert.Equal(t, map[string]interface{}{"Catalog": float64(4)}, wire.Plain(resp.Result))

	assert.NoError(t, p.Close())
}
