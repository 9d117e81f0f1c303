package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

type timeoutRenderer struct {
	next    Renderer
	timeout time.Duration
}

// WithTimeout bounds each render. Expiry and renderer panics become render
// errors; the caller never blocks past the deadline. A render abandoned at
// the deadline keeps its Limit slot until it actually returns.
func WithTimeout(next Renderer, timeout time.Duration) Renderer {
	return &timeoutRenderer{next: next, timeout: timeout}
}

type renderResult struct {
	out *Output
	err error
}

func (t *timeoutRenderer) Render(ctx context.Context, req Request) (*Output, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan renderResult, 1)
	drop := holdSlot(ctx)
	go func() {
		defer drop()
		defer func() {
			if p := recover(); p != nil {
				slog.Error("renderer panic", "panic", p)
				done <- renderResult{err: errorf(ReasonPanic, "%v", p)}
			}
		}()
		out, err := t.next.Render(ctx, req)
		done <- renderResult{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &Error{Reason: ReasonTimeout, Err: fmt.Errorf("exceeded %s: %w", t.timeout, res.err)}
		}
		return res.out, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errorf(ReasonTimeout, "exceeded %s", t.timeout)
		}
		return nil, &Error{Reason: ReasonCancelled, Err: ctx.Err()}
	}
}

type limitRenderer struct {
	next Renderer
	sem  *semaphore.Weighted
}

// Limit caps the number of renders running at once across every caller
// sharing the returned Renderer.
func Limit(next Renderer, n int) Renderer {
	if n < 1 {
		n = 1
	}
	return &limitRenderer{next: next, sem: semaphore.NewWeighted(int64(n))}
}

func (l *limitRenderer) Render(ctx context.Context, req Request) (*Output, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, &Error{Reason: ReasonCancelled, Err: err}
	}
	s := &slot{release: func() { l.sem.Release(1) }}
	s.refs.Store(1)
	defer s.drop()
	return l.next.Render(context.WithValue(ctx, slotKey{}, s), req)
}

// slot is one Limit permit. It goes back to the semaphore once every holder
// dropped it.
type slot struct {
	refs    atomic.Int32
	release func()
}

func (s *slot) drop() {
	if s.refs.Add(-1) == 0 {
		s.release()
	}
}

type slotKey struct{}

// holdSlot takes a reference on the Limit slot carried by ctx, if any.
func holdSlot(ctx context.Context) func() {
	s, ok := ctx.Value(slotKey{}).(*slot)
	if !ok {
		return func() {}
	}
	s.refs.Add(1)
	return s.drop
}
