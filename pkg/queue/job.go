package queue

import (
	"context"
	"time"
)

// Kind identifies what a queued request asks the provider for.
type Kind string

const (
	KindQuote      Kind = "quote"
	KindTimeSeries Kind = "time_series"
	KindIndicator  Kind = "indicator"
	KindEarnings   Kind = "earnings"
)

// RequestFunc performs one provider call. It runs on the scheduler goroutine
// and must honour ctx.
type RequestFunc func(ctx context.Context) (interface{}, error)

// Request is one queued item.
type Request struct {
	ID       string
	Kind     Kind
	Enqueued time.Time

	ctx  context.Context
	fn   RequestFunc
	done chan Result
}

// Result is delivered exactly once per request.
type Result struct {
	Value interface{}
	Err   error
}

func (r *Request) resolve(res Result) {
	r.done <- res
	close(r.done)
}

// Ticket is the caller's handle on a submitted request.
type Ticket struct {
	ID   string
	done <-chan Result
}

// Done yields the single Result once the request has run or been discarded.
func (t *Ticket) Done() <-chan Result { return t.done }

// Wait blocks for the result or until ctx ends. A request abandoned this way
// is skipped by the scheduler if it has not started yet.
func (t *Ticket) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-t.done:
		return res.Value, res.Err
	}
}
