package stream

import (
	"context"

	"github.com/CrimsonAS/qcomponent/transport"
	"github.com/CrimsonAS/qcomponent/wire"
)

// Client sends requests over a Conn and matches responses to them.
type Client struct {
	conn    *Conn
	pending *transport.Pending
	done    chan struct{}
}

// NewClient starts reading responses from c.
func NewClient(c *Conn) *Client {
	cl := &Client{conn: c, pending: transport.NewPending(), done: make(chan struct{})}
	go cl.handle()
	return cl
}

// handle runs in an internal goroutine and dispatches response frames to
// their callers.
func (cl *Client) handle() {
	defer close(cl.done)
	for {
		f, err := cl.conn.ReadFrame()
		if err != nil {
			cl.pending.Close(err)
			return
		}
		if f.Response == nil || !cl.pending.Resolve(f.ID, f.Response) {
			cl.conn.logger.Warn().Str("id", f.ID).Msg("response to unknown request")
		}
	}
}

func (cl *Client) Send(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	id, ch, err := cl.pending.Add()
	if err != nil {
		return nil, err
	}
	if err := cl.conn.WriteFrame(&transport.Frame{ID: id, Request: req}); err != nil {
		cl.pending.Forget(id)
		return nil, err
	}
	return cl.pending.Wait(ctx, id, ch)
}

// Close closes the connection and fails outstanding calls.
func (cl *Client) Close() error {
	err := cl.conn.Close()
	<-cl.done
	return err
}
