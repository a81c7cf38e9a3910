package session

import (
	"context"
	"sync"
	"sync/atomic"
)

// Result is the answer to a session creation request.
type Result struct {
	OK      bool
	Code    int
	Message string
	Data    map[string]any
}

// Pending is a one-shot reply slot for the request that created a session.
// The first Resolve wins; later calls are no-ops. A nil *Pending is valid and
// behaves as an already answered slot.
type Pending struct {
	once sync.Once
	done atomic.Bool
	ch   chan Result
}

func NewPending() *Pending {
	return &Pending{ch: make(chan Result, 1)}
}

// Resolve delivers r and reports whether it was the first answer.
func (p *Pending) Resolve(r Result) bool {
	if p == nil {
		return false
	}
	delivered := false
	p.once.Do(func() {
		p.done.Store(true)
		p.ch <- r
		delivered = true
	})
	return delivered
}

// Done reports whether the slot was answered or abandoned.
func (p *Pending) Done() bool {
	return p == nil || p.done.Load()
}

// Wait blocks for the answer. If ctx ends first the slot is abandoned so a
// later challenge is not sent to a caller that has gone away.
func (p *Pending) Wait(ctx context.Context) (Result, error) {
	select {
	case r := <-p.ch:
		return r, nil
	case <-ctx.Done():
		p.once.Do(func() { p.done.Store(true) })
		select {
		case r := <-p.ch:
			return r, nil
		default:
			return Result{}, ctx.Err()
		}
	}
}
