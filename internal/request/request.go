// Package request wraps a single in-flight network call with an alive flag
// and an abort operation. Once a request is no longer alive, results that
// arrive late from the transport are dropped without invoking any callback.
package request

import (
	"context"
	"errors"
	"net/http"
	"sync"
)

// ErrAborted is returned by Wait for requests that were aborted before the
// transport settled.
var ErrAborted = errors.New("request: aborted")

// Result is the raw outcome of a successful transport call.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport performs the network call. It must honor ctx cancellation.
type Transport func(ctx context.Context) (*Result, error)

// Callbacks are invoked from the request goroutine. For requests that are not
// aborted first, exactly one of OnSuccess or OnError fires, followed by
// OnComplete. Any of them may be nil.
type Callbacks struct {
	OnSuccess  func(*Result)
	OnError    func(error)
	OnComplete func()
}

// Request is a handle to one network call.
type Request struct {
	// ID is the correlation id of the call.
	ID string

	mu     sync.Mutex
	alive  bool
	cancel context.CancelFunc
	done   chan struct{}
	result *Result
	err    error
}

// Start launches fn in its own goroutine and returns the handle immediately.
func Start(ctx context.Context, id string, fn Transport, cb Callbacks) *Request {
	rctx, cancel := context.WithCancel(ctx)
	r := &Request{
		ID:     id,
		alive:  true,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer cancel()
		res, err := fn(rctx)
		r.settle(res, err, cb)
	}()

	return r
}

// settle records the transport outcome and fires callbacks if the request is
// still alive. The alive flag flips exactly once.
func (r *Request) settle(res *Result, err error, cb Callbacks) {
	r.mu.Lock()
	if !r.alive {
		r.mu.Unlock()
		return
	}
	r.alive = false
	r.result, r.err = res, err
	r.mu.Unlock()

	defer close(r.done)
	if err != nil {
		if cb.OnError != nil {
			cb.OnError(err)
		}
	} else if cb.OnSuccess != nil {
		cb.OnSuccess(res)
	}
	if cb.OnComplete != nil {
		cb.OnComplete()
	}
}

// Alive reports whether the request is still in flight.
func (r *Request) Alive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.alive
}

// Abort cancels the underlying transport. It is a no-op once the request has
// settled or was already aborted.
func (r *Request) Abort() {
	r.mu.Lock()
	if !r.alive {
		r.mu.Unlock()
		return
	}
	r.alive = false
	r.err = ErrAborted
	r.mu.Unlock()

	r.cancel()
	close(r.done)
}

// Done is closed once the request has settled or been aborted. For settled
// requests it closes after all callbacks have returned.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the request settles, is aborted, or ctx is done.
func (r *Request) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-r.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.err
}
