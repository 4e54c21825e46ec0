package client

import (
	"context"
	"sync"
	"time"
)

// RefreshState is the state of the refresh coordinator
type RefreshState int

const (
	// StateIdle means no refresh call is outstanding
	StateIdle RefreshState = iota
	// StateRefreshing means one refresh call is outstanding and nobody waits on it
	StateRefreshing
	// StateQueueing means a refresh is outstanding and at least one request waits on it
	StateQueueing
)

func (s RefreshState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRefreshing:
		return "REFRESHING"
	case StateQueueing:
		return "QUEUEING"
	}
	return "UNKNOWN"
}

// dispatchHandoff bounds how long settlement waits for one queued request to
// start its replay before moving on to the next.
const dispatchHandoff = 2 * time.Second

type refreshOutcome struct {
	session *Session
	err     error
}

// pending is the one-shot completion handle of a request queued behind a refresh
type pending struct {
	done chan refreshOutcome
	sent chan struct{}
	once sync.Once
}

func newPending() *pending {
	return &pending{
		done: make(chan refreshOutcome, 1),
		sent: make(chan struct{}),
	}
}

// dispatched tells the settling refresh that this request has started its
// replay (or given up), releasing the next queued request.
func (p *pending) dispatched() {
	p.once.Do(func() { close(p.sent) })
}

// coordinator owns the refresh-in-progress flag and the pending queue.
// The flag check and the enqueue happen under one lock.
type coordinator struct {
	mu         sync.Mutex
	refreshing bool
	queue      []*pending
}

func (c *coordinator) state() RefreshState {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case !c.refreshing:
		return StateIdle
	case len(c.queue) == 0:
		return StateRefreshing
	default:
		return StateQueueing
	}
}

// join makes the caller the leader when no refresh is outstanding. Otherwise
// it enqueues and returns the caller's pending handle.
func (c *coordinator) join() (leader bool, p *pending) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.refreshing {
		c.refreshing = true
		return true, nil
	}
	p = newPending()
	c.queue = append(c.queue, p)
	return false, p
}

// finish clears the flag and hands back the drained queue. The queue is
// always empty afterwards.
func (c *coordinator) finish() []*pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	waiters := c.queue
	c.queue = nil
	c.refreshing = false
	return waiters
}

// remove takes p out of the queue. It returns false if p was already drained.
func (c *coordinator) remove(p *pending) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, q := range c.queue {
		if q == p {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return true
		}
	}
	return false
}

// lead runs refresh as the single in-flight refresh and settles every request
// queued meanwhile. The flag is cleared even if refresh panics.
func (c *coordinator) lead(ctx context.Context, refresh func(context.Context) (*Session, error)) (*Session, error) {
	settled := false
	defer func() {
		if !settled {
			settle(c.finish(), refreshOutcome{err: ErrRefreshAborted})
		}
	}()

	sess, err := refresh(ctx)

	waiters := c.finish()
	settled = true
	settle(waiters, refreshOutcome{session: sess, err: err})
	return sess, err
}

// settle completes the handles in enqueue order. On success each request is
// given a head start before the next one is released.
func settle(waiters []*pending, out refreshOutcome) {
	for _, p := range waiters {
		p.done <- out
		if out.err != nil {
			continue
		}
		timer := time.NewTimer(dispatchHandoff)
		select {
		case <-p.sent:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// wait suspends a queued request until the in-flight refresh settles
func (c *coordinator) wait(ctx context.Context, p *pending) (refreshOutcome, error) {
	select {
	case out := <-p.done:
		return out, nil
	case <-ctx.Done():
		if !c.remove(p) {
			// Already drained; let settlement move on to the next request
			p.dispatched()
		}
		return refreshOutcome{}, ctx.Err()
	}
}
