// Package transport defines how requests reach a server. Adapters in the
// sub-packages carry wire.Request and wire.Response values over stdio
// streams, HTTP, websockets and NATS; Local carries them in-process.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/CrimsonAS/qcomponent/wire"
)

var (
	ErrClosed  = errors.New("transport: closed")
	ErrNoReply = errors.New("transport: no response")
)

// Receiver executes requests. *server.Server is a Receiver.
type Receiver interface {
	Receive(ctx context.Context, req *wire.Request) *wire.Response
}

// Sender delivers a request and waits for its response. An error means the
// request may not have reached the receiver; protocol and application
// failures are carried by the response instead.
type Sender interface {
	Send(ctx context.Context, req *wire.Request) (*wire.Response, error)
}

type SenderFunc func(ctx context.Context, req *wire.Request) (*wire.Response, error)

func (f SenderFunc) Send(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	return f(ctx, req)
}

// Local sends requests to a receiver in the same process. Both directions
// are encoded and decoded with Codec, so values cross the boundary exactly
// as they would over a network.
type Local struct {
	Receiver Receiver
	Codec    wire.Codec
}

// NewLocal returns a Local using codec, or JSON when codec is nil.
func NewLocal(r Receiver, codec wire.Codec) *Local {
	if codec == nil {
		codec = wire.JSON
	}
	return &Local{Receiver: r, Codec: codec}
}

func (l *Local) Send(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	decoded := &wire.Request{}
	if err := l.roundTrip(req, decoded); err != nil {
		return nil, fmt.Errorf("transport.Local: request encoding failed: %w", err)
	}
	resp := l.Receiver.Receive(ctx, decoded)
	if resp == nil {
		return nil, ErrNoReply
	}
	out := &wire.Response{}
	if err := l.roundTrip(resp, out); err != nil {
		return nil, fmt.Errorf("transport.Local: response encoding failed: %w", err)
	}
	return out, nil
}

func (l *Local) roundTrip(in, out interface{}) error {
	data, err := l.Codec.Marshal(in)
	if err != nil {
		return err
	}
	return l.Codec.Unmarshal(data, out)
}

// Frame multiplexes requests and responses over one connection. ID
// correlates a response with its request.
type Frame struct {
	ID       string         `json:"id" msgpack:"id"`
	Request  *wire.Request  `json:"request,omitempty" msgpack:"request,omitempty"`
	Response *wire.Response `json:"response,omitempty" msgpack:"response,omitempty"`
}
