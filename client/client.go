// Package client is the peer of a component server. Connect introspects the
// server and builds local proxy classes; calling a method on a proxy
// dispatches to a local override when one is registered and otherwise sends
// a query carrying the receiver, the arguments, and any attribute written
// locally since the last round trip.
//
//	cl := client.New(transport.SenderFunc(...))
//	if err := cl.Connect(ctx); err != nil {
//		...
//	}
//	counterClass, _ := cl.Component("Counter")
//	counter := counterClass.New()
//	counter.Set("value", 0)
//	_, err := counter.Invoke(ctx, "increment")
//	v, _ := counter.Get("value") // 1
//
// All instances received by one client go through its identity map, so two
// responses describing the same identity yield the same *component.Instance.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/CrimsonAS/qcomponent/component"
	"github.com/CrimsonAS/qcomponent/logging"
	"github.com/CrimsonAS/qcomponent/serialize"
	"github.com/CrimsonAS/qcomponent/transport"
	"github.com/CrimsonAS/qcomponent/wire"
)

var ErrNotConnected = errors.New("client: not connected")

// RetryPolicy decides how requests that failed in transport are repeated.
// Responses, including error responses, are never retried.
type RetryPolicy struct {
	MaxRetries int
	// MinRetryDelay is the minimum time between the starts of two
	// attempts of one request.
	MinRetryDelay time.Duration
	// ShouldRetry, when set, may veto a retry. retryCount is the number of
	// retries already made.
	ShouldRetry func(err error, retryCount int) bool
}

var DefaultRetryPolicy = RetryPolicy{MaxRetries: 3, MinRetryDelay: time.Second}

type Client struct {
	sender     transport.Sender
	version    *int
	retry      RetryPolicy
	limiter    *rate.Limiter
	logger     zerolog.Logger
	identities *serialize.IdentityMap

	mu        sync.RWMutex
	provider  *component.Provider
	overrides map[string]map[string]component.Handler
}

type Option func(*Client)

// WithVersion sends version with every request, so that the server can
// refuse a client built for another version of it.
func WithVersion(version int) Option {
	return func(c *Client) { c.version = wire.Version(version) }
}

func WithRetry(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithRateLimit allows at most limit requests per second, with bursts of
// burst requests. Every attempt, retries included, waits for a token.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(limit, burst) }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func New(sender transport.Sender, opts ...Option) *Client {
	c := &Client{
		sender:     sender,
		retry:      DefaultRetryPolicy,
		logger:     logging.For("client"),
		identities: serialize.NewIdentityMap(),
		overrides:  make(map[string]map[string]component.Handler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Provider returns the proxy classes built by Connect, or nil before it.
func (c *Client) Provider() *component.Provider {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.provider
}

// Component returns the proxy class for name.
func (c *Client) Component(name string) (*component.Class, bool) {
	p := c.Provider()
	if p == nil {
		return nil, false
	}
	return p.Component(name)
}

// Identities is the session identity map.
func (c *Client) Identities() *serialize.IdentityMap { return c.identities }

// Send sends one request, retrying transport failures according to the
// retry policy.
func (c *Client) Send(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	var started time.Time
	for retries := 0; ; retries++ {
		if retries > 0 {
			if wait := c.retry.MinRetryDelay - time.Since(started); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return nil, ctx.Err()
				case <-timer.C:
				}
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("client.Send: %w", err)
			}
		}

		started = time.Now()
		resp, err := c.sender.Send(ctx, req)
		if err == nil {
			if resp == nil {
				return nil, transport.ErrNoReply
			}
			return resp, nil
		}
		if ctx.Err() != nil || retries >= c.retry.MaxRetries ||
			(c.retry.ShouldRetry != nil && !c.retry.ShouldRetry(err, retries)) {
			return nil, fmt.Errorf("client.Send: request failed: %w", err)
		}
		c.logger.Debug().Err(err).Int("retry", retries+1).Msg("request failed, retrying")
	}
}

// Do sends q and returns the result in its wire form, without
// deserializing it, or the error of the response.
func (c *Client) Do(ctx context.Context, q *wire.Map) (interface{}, error) {
	resp, err := c.Send(ctx, &wire.Request{Query: q, Version: c.version})
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		if wire.CodeOf(err).Protocol() {
			c.logger.Warn().Str("code", string(wire.CodeOf(err))).Msg("query refused")
		}
		return nil, err
	}
	return resp.Result, nil
}

// Query sends q as it is and deserializes the result, reconciling received
// instances with the session identity map.
func (c *Client) Query(ctx context.Context, q *wire.Map) (interface{}, error) {
	p := c.Provider()
	if p == nil {
		return nil, ErrNotConnected
	}
	result, err := c.Do(ctx, q)
	if err != nil {
		return nil, err
	}
	return c.incoming(p, result)
}

func (c *Client) incoming(p *component.Provider, result interface{}) (interface{}, error) {
	v, err := serialize.Deserialize(wire.Plain(result), serialize.Options{
		Provider:   p,
		Identities: c.identities,
		Source:     component.SourceRemote,
	})
	if err != nil {
		return nil, fmt.Errorf("client: invalid result: %w", err)
	}
	return v, nil
}
