// Package server receives component queries and executes them against a
// provider.
//
// A Server is transport-agnostic: transports decode a wire.Request, hand it
// to Receive and encode the wire.Response it returns. Every request runs
// against its own fork of the provider, so a request never observes
// another request's static writes and a failed request leaves nothing
// behind.
package server

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/CrimsonAS/qcomponent/component"
	"github.com/CrimsonAS/qcomponent/logging"
	"github.com/CrimsonAS/qcomponent/query"
	"github.com/CrimsonAS/qcomponent/serialize"
	"github.com/CrimsonAS/qcomponent/wire"
)

type Server struct {
	provider   *component.Provider
	version    *int
	logger     zerolog.Logger
	metrics    *Metrics
	registerer prometheus.Registerer
	authorizer component.Authorizer
}

type Option func(*Server)

// WithVersion makes the server reject requests stamped with another
// version.
func WithVersion(version int) Option {
	return func(s *Server) { s.version = &version }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics registers the server collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *Server) { s.registerer = reg }
}

// WithAuthorizer sets the policy for role-restricted members.
func WithAuthorizer(a component.Authorizer) Option {
	return func(s *Server) { s.authorizer = a }
}

// New returns a server for p. The provider must not refer to components it
// does not register.
func New(p *component.Provider, opts ...Option) (*Server, error) {
	if p == nil {
		return nil, fmt.Errorf("server.New: a provider is required")
	}
	if err := p.Check(); err != nil {
		return nil, fmt.Errorf("server.New: %w", err)
	}
	s := &Server{
		provider: p,
		logger:   logging.For("server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registerer != nil {
		m, err := NewMetrics(s.registerer)
		if err != nil {
			return nil, fmt.Errorf("server.New: metrics registration failed: %w", err)
		}
		s.metrics = m
	}
	return s, nil
}

// Version returns the configured version, or nil.
func (s *Server) Version() *int { return s.version }

func (s *Server) Provider() *component.Provider { return s.provider }

// Receive executes one request. It never returns nil: failures, including
// panics raised by component methods, come back as error responses.
func (s *Server) Receive(ctx context.Context, req *wire.Request) (resp *wire.Response) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%v", r)
			}
			s.logger.Error().Msg("request panicked")
			resp = wire.Fail(err)
		}
		s.metrics.observe(start, resp)
		s.log(resp, time.Since(start))
	}()

	result, err := s.execute(ctx, req)
	if err != nil {
		return wire.Fail(err)
	}
	return wire.Success(result)
}

func (s *Server) execute(ctx context.Context, req *wire.Request) (interface{}, error) {
	if req == nil || req.Query == nil {
		return nil, wire.Errorf(wire.CodeMalformedQuery, "the request has no query")
	}
	if req.Version != nil && s.version != nil && *req.Version != *s.version {
		return nil, wire.Errorf(wire.CodeVersionMismatch,
			"the client version (%d) does not match the server version (%d)", *req.Version, *s.version)
	}

	fork := s.provider.Fork()
	if err := checkHints(fork, req.Components); err != nil {
		return nil, err
	}
	return query.Execute(ctx, req.Query, query.Options{
		Provider:   fork,
		Identities: serialize.NewIdentityMap(),
		Authorizer: s.authorizer,
	})
}

// checkHints verifies the component references a client sent along with
// its query.
func checkHints(p *component.Provider, hints []interface{}) error {
	for _, hint := range hints {
		m, ok := wire.Plain(hint).(map[string]interface{})
		if !ok {
			return wire.Errorf(wire.CodeMalformedQuery, "component hints must be objects, found %T", hint)
		}
		name, ok := m[serialize.KeyClass].(string)
		if !ok || len(m) != 1 {
			return wire.Errorf(wire.CodeMalformedQuery, "a component hint must be {%q: name}", serialize.KeyClass)
		}
		if _, ok := p.Component(name); !ok {
			return wire.Errorf(wire.CodeUnknownComponent, "component '%s' does not exist", name)
		}
	}
	return nil
}

// log records the outcome. Error messages belong to the application and
// are not logged.
func (s *Server) log(resp *wire.Response, elapsed time.Duration) {
	if resp.Error == nil {
		s.logger.Debug().Dur("elapsed", elapsed).Msg("request executed")
		return
	}
	ev := s.logger.Debug()
	if resp.Error.Code.Protocol() {
		ev = s.logger.Warn()
	}
	ev.Str("code", string(resp.Error.Code)).Dur("elapsed", elapsed).Msg("request failed")
}
