package kaahttp

import "sync"

// refreshResult is what each queued waiter receives exactly once: the new
// access token on success, or the refresh error.
type refreshResult struct {
	token string
	err   error
}

// refreshGate serializes token refreshes. At most one refresh cycle is in
// flight per gate; requests failing with 401 during that window enqueue a
// waiter channel instead of re-triggering the refresh. The gate is a field of
// the interceptor, never package state, so independent clients cannot share
// a refresh cycle.
type refreshGate struct {
	mu         sync.Mutex
	refreshing bool
	waiters    []chan refreshResult
}

// acquire attempts to become the refresh owner. If another refresh is in
// flight it returns a waiter channel instead; the channel is buffered so a
// caller that gives up (context cancellation) never blocks the drain.
func (g *refreshGate) acquire() (waiter chan refreshResult, owner bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.refreshing {
		w := make(chan refreshResult, 1)
		g.waiters = append(g.waiters, w)
		return w, false
	}
	g.refreshing = true
	return nil, true
}

// finish completes the refresh cycle: every queued waiter receives the same
// outcome in FIFO arrival order, the queue is cleared and the gate reopens.
// Must be called exactly once per acquired ownership, on every path.
func (g *refreshGate) finish(token string, err error) {
	g.mu.Lock()
	waiters := g.waiters
	g.waiters = nil
	g.refreshing = false
	g.mu.Unlock()

	for _, w := range waiters {
		w <- refreshResult{token: token, err: err}
	}
}

// depth reports the number of queued waiters.
func (g *refreshGate) depth() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiters)
}

// inFlight reports whether a refresh is currently running.
func (g *refreshGate) inFlight() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refreshing
}
