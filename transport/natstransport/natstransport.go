// Package natstransport carries requests as NATS request/reply messages on
// a subject. The Content-Type message header selects the codec; without
// it, messages are JSON.
package natstransport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/CrimsonAS/qcomponent/logging"
	"github.com/CrimsonAS/qcomponent/transport"
	"github.com/CrimsonAS/qcomponent/wire"
)

const headerContentType = "Content-Type"

// DefaultQueue is the queue group servers join, so that several servers on
// one subject share the requests.
const DefaultQueue = "qcomponent"

// RequestTimeout bounds the execution of one request.
const RequestTimeout = 30 * time.Second

func codecOf(h nats.Header) (wire.Codec, error) {
	if h == nil {
		return wire.JSON, nil
	}
	return wire.CodecFor(h.Get(headerContentType))
}

// Server answers requests published on a subject.
type Server struct {
	sub    *nats.Subscription
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// Serve subscribes r to subject in the DefaultQueue group. Requests are
// executed concurrently until Close is called or ctx is done.
func Serve(ctx context.Context, nc *nats.Conn, subject string, r transport.Receiver) (*Server, error) {
	s := &Server{logger: logging.For("nats").With().Str("subject", subject).Logger()}
	sub, err := nc.QueueSubscribe(subject, DefaultQueue, func(msg *nats.Msg) {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, msg, r)
		}()
	})
	if err != nil {
		return nil, fmt.Errorf("natstransport: subscribe failed: %w", err)
	}
	s.sub = sub
	go func() {
		<-ctx.Done()
		s.sub.Unsubscribe()
	}()
	return s, nil
}

func (s *Server) handle(ctx context.Context, msg *nats.Msg, r transport.Receiver) {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	codec, err := codecOf(msg.Header)
	var resp *wire.Response
	if err != nil {
		codec = wire.JSON
		resp = wire.Fail(wire.Errorf(wire.CodeMalformedQuery, "%s", err))
	} else {
		req := &wire.Request{}
		if err := codec.Unmarshal(msg.Data, req); err != nil {
			resp = wire.Fail(wire.Errorf(wire.CodeMalformedQuery, "invalid request: %s", err))
		} else {
			resp = r.Receive(ctx, req)
		}
	}
	if resp == nil {
		resp = wire.Fail(transport.ErrNoReply)
	}

	data, err := codec.Marshal(resp)
	if err != nil {
		s.logger.Error().Err(err).Msg("response encoding failed")
		return
	}
	reply := nats.NewMsg(msg.Reply)
	reply.Header.Set(headerContentType, codec.ContentType())
	reply.Data = data
	if err := msg.RespondMsg(reply); err != nil {
		s.logger.Debug().Err(err).Msg("response dropped")
	}
}

// Close unsubscribes and waits for requests in flight.
func (s *Server) Close() error {
	err := s.sub.Unsubscribe()
	s.wg.Wait()
	if err == nats.ErrConnectionClosed || err == nats.ErrBadSubscription {
		return nil
	}
	return err
}

// Sender publishes requests on a subject and waits for the reply.
type Sender struct {
	Conn    *nats.Conn
	Subject string
	Codec   wire.Codec
}

func NewSender(nc *nats.Conn, subject string) *Sender {
	return &Sender{Conn: nc, Subject: subject, Codec: wire.JSON}
}

func (s *Sender) Send(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	codec := s.Codec
	if codec == nil {
		codec = wire.JSON
	}
	data, err := codec.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("natstransport: request encoding failed: %w", err)
	}
	msg := nats.NewMsg(s.Subject)
	msg.Header.Set(headerContentType, codec.ContentType())
	msg.Data = data

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, RequestTimeout)
		defer cancel()
	}
	reply, err := s.Conn.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("natstransport: %w", err)
	}
	replyCodec, err := codecOf(reply.Header)
	if err != nil {
		return nil, fmt.Errorf("natstransport: %w", err)
	}
	resp := &wire.Response{}
	if err := replyCodec.Unmarshal(reply.Data, resp); err != nil {
		return nil, fmt.Errorf("natstransport: invalid response: %w", err)
	}
	return resp, nil
}
