package transport

import (
	"context"
	"sync"

	uuid "github.com/satori/go.uuid"

	"github.com/CrimsonAS/qcomponent/wire"
)

// Pending tracks requests awaiting a response on a multiplexed connection.
type Pending struct {
	mu     sync.Mutex
	calls  map[string]chan *wire.Response
	closed error
}

func NewPending() *Pending {
	return &Pending{calls: make(map[string]chan *wire.Response)}
}

// Add registers a new call and returns its correlation ID.
func (p *Pending) Add() (string, <-chan *wire.Response, error) {
	u, err := uuid.NewV4()
	if err != nil {
		return "", nil, err
	}
	id := u.String()
	ch := make(chan *wire.Response, 1)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed != nil {
		return "", nil, p.closed
	}
	p.calls[id] = ch
	return id, ch, nil
}

// Resolve delivers resp to the call with id. It reports false for unknown
// or abandoned calls.
func (p *Pending) Resolve(id string, resp *wire.Response) bool {
	p.mu.Lock()
	ch, ok := p.calls[id]
	delete(p.calls, id)
	p.mu.Unlock()
	if ok {
		ch <- resp
	}
	return ok
}

// Forget abandons a call.
func (p *Pending) Forget(id string) {
	p.mu.Lock()
	delete(p.calls, id)
	p.mu.Unlock()
}

// Wait blocks until the call's response arrives, the connection closes, or
// ctx is done.
func (p *Pending) Wait(ctx context.Context, id string, ch <-chan *wire.Response) (*wire.Response, error) {
	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, p.Err()
		}
		return resp, nil
	case <-ctx.Done():
		p.Forget(id)
		return nil, ctx.Err()
	}
}

// Close fails every outstanding call with err, and every later Add.
func (p *Pending) Close(err error) {
	if err == nil {
		err = ErrClosed
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed != nil {
		return
	}
	p.closed = err
	for id, ch := range p.calls {
		close(ch)
		delete(p.calls, id)
	}
}

// Err returns the error the tracker was closed with.
func (p *Pending) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed == nil {
		return ErrClosed
	}
	return p.closed
}

func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
