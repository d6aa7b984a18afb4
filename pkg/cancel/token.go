// Package cancel provides a first-wins cancellation token composed from any
// number of parent contexts.
package cancel

import (
	"context"
	"sync"
)

// Token is cancelled as soon as Cancel is called or any parent is done.
// Once cancelled it stays cancelled.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	stops []func() bool
}

// Merge returns a Token that observes every non-nil parent.
func Merge(parents ...context.Context) *Token {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Token{ctx: ctx, cancel: cancel}
	for _, p := range parents {
		if p == nil {
			continue
		}
		if p.Err() != nil {
			cancel()
			continue
		}
		stop := context.AfterFunc(p, cancel)
		t.stops = append(t.stops, stop)
	}
	return t
}

// Cancel marks the token cancelled. Extra calls have no effect.
func (t *Token) Cancel() {
	t.cancel()
}

// Cancelled reports whether the token has been cancelled.
func (t *Token) Cancelled() bool {
	return t.ctx.Err() != nil
}

// Done is closed once the token is cancelled.
func (t *Token) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Err returns context.Canceled after cancellation and nil before.
func (t *Token) Err() error {
	return t.ctx.Err()
}

// Context returns a context that is done when the token is cancelled.
func (t *Token) Context() context.Context {
	return t.ctx
}

// Stop detaches the token from its parents without cancelling it.
func (t *Token) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, stop := range t.stops {
		stop()
	}
	t.stops = nil
}
