package stream

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/CrimsonAS/qcomponent/transport"
	"github.com/CrimsonAS/qcomponent/wire"
)

// Serve reads request frames from c and answers each with the response of
// r, until the stream ends or ctx is done. Requests run concurrently. When
// the input ends, Serve answers the requests in flight, closes c and
// returns nil.
func Serve(ctx context.Context, c *Conn, r transport.Receiver) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		c.Close()
	}()

	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		c.Close()
	}()
	for {
		f, err := c.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, transport.ErrClosed) {
				return nil
			}
			return err
		}
		if f.Request == nil {
			c.logger.Warn().Str("id", f.ID).Msg("ignoring frame without a request")
			continue
		}

		wg.Add(1)
		go func(f *transport.Frame) {
			defer wg.Done()
			resp := r.Receive(ctx, f.Request)
			if resp == nil {
				resp = wire.Fail(transport.ErrNoReply)
			}
			if err := c.WriteFrame(&transport.Frame{ID: f.ID, Response: resp}); err != nil {
				c.logger.Debug().Err(err).Str("id", f.ID).Msg("response dropped")
			}
		}(f)
	}
}
