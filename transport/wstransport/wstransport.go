// Package wstransport carries requests over a websocket. Each websocket
// message holds one transport.Frame: text messages are JSON and binary
// messages are MessagePack. Responses use the encoding of their request.
package wstransport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/CrimsonAS/qcomponent/logging"
	"github.com/CrimsonAS/qcomponent/transport"
	"github.com/CrimsonAS/qcomponent/wire"
)

// MaxMessageSize bounds incoming messages.
const MaxMessageSize = 32 << 20

const closeTimeout = 5 * time.Second

func codecFor(messageType int) wire.Codec {
	if messageType == websocket.BinaryMessage {
		return wire.Msgpack
	}
	return wire.JSON
}

func messageTypeFor(codec wire.Codec) int {
	if codec == wire.Msgpack {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

// conn serializes writes on a websocket connection.
type conn struct {
	ws  *websocket.Conn
	wmu sync.Mutex
}

func (c *conn) write(codec wire.Codec, f *transport.Frame) error {
	data, err := codec.Marshal(f)
	if err != nil {
		return fmt.Errorf("wstransport: frame encoding failed: %w", err)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.WriteMessage(messageTypeFor(codec), data)
}

func (c *conn) read() (*transport.Frame, wire.Codec, error) {
	mt, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, nil, err
	}
	codec := codecFor(mt)
	f := &transport.Frame{}
	if err := codec.Unmarshal(data, f); err != nil {
		return nil, codec, fmt.Errorf("wstransport: invalid frame: %w", err)
	}
	return f, codec, nil
}

// Handler upgrades HTTP requests to websockets and serves r on them.
type Handler struct {
	Receiver transport.Receiver
	Upgrader websocket.Upgrader
	Logger   zerolog.Logger
}

func NewHandler(r transport.Receiver) *Handler {
	return &Handler{
		Receiver: r,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		Logger: logging.For("websocket"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied
		h.Logger.Debug().Err(err).Msg("upgrade failed")
		return
	}
	h.serve(r.Context(), &conn{ws: ws})
}

func (h *Handler) serve(ctx context.Context, c *conn) {
	defer c.ws.Close()
	c.ws.SetReadLimit(MaxMessageSize)

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		f, codec, err := c.read()
		if err != nil {
			if codec == nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.Logger.Debug().Err(err).Msg("connection ended")
				}
				return
			}
			h.Logger.Warn().Err(err).Msg("ignoring invalid frame")
			continue
		}
		if f.Request == nil {
			h.Logger.Warn().Str("id", f.ID).Msg("ignoring frame without a request")
			continue
		}

		wg.Add(1)
		go func(f *transport.Frame, codec wire.Codec) {
			defer wg.Done()
			resp := h.Receiver.Receive(ctx, f.Request)
			if resp == nil {
				resp = wire.Fail(transport.ErrNoReply)
			}
			if err := c.write(codec, &transport.Frame{ID: f.ID, Response: resp}); err != nil {
				h.Logger.Debug().Err(err).Str("id", f.ID).Msg("response dropped")
			}
		}(f, codec)
	}
}

// Client sends requests over one websocket connection.
type Client struct {
	c       *conn
	codec   wire.Codec
	pending *transport.Pending
	logger  zerolog.Logger
	done    chan struct{}
}

// Dial connects to a websocket endpoint. A nil codec selects JSON.
func Dial(ctx context.Context, url string, codec wire.Codec) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("wstransport: dial failed: %w", err)
	}
	if codec == nil {
		codec = wire.JSON
	}
	cl := &Client{
		c:       &conn{ws: ws},
		codec:   codec,
		pending: transport.NewPending(),
		logger:  logging.For("websocket"),
		done:    make(chan struct{}),
	}
	ws.SetReadLimit(MaxMessageSize)
	go cl.handle()
	return cl, nil
}

func (cl *Client) handle() {
	defer close(cl.done)
	for {
		f, codec, err := cl.c.read()
		if err != nil {
			if codec == nil {
				cl.pending.Close(err)
				return
			}
			cl.logger.Warn().Err(err).Msg("ignoring invalid frame")
			continue
		}
		if f.Response == nil || !cl.pending.Resolve(f.ID, f.Response) {
			cl.logger.Warn().Str("id", f.ID).Msg("response to unknown request")
		}
	}
}

func (cl *Client) Send(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	id, ch, err := cl.pending.Add()
	if err != nil {
		return nil, err
	}
	if err := cl.c.write(cl.codec, &transport.Frame{ID: id, Request: req}); err != nil {
		cl.pending.Forget(id)
		return nil, fmt.Errorf("wstransport: write failed: %w", err)
	}
	return cl.pending.Wait(ctx, id, ch)
}

// Close sends a close message and waits for the connection to end.
func (cl *Client) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	cl.c.wmu.Lock()
	err := cl.c.ws.WriteMessage(websocket.CloseMessage, msg)
	cl.c.wmu.Unlock()
	if err != nil {
		cl.c.ws.Close()
	} else {
		cl.c.ws.SetReadDeadline(time.Now().Add(closeTimeout))
	}
	<-cl.done
	cl.c.ws.Close()
	return nil
}
