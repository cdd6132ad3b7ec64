// Package fanin provides a barrier that waits for a fixed number of named
// asynchronous results and then fires its listeners exactly once.
//
// A sub-task that fails still announces (with AnnounceError) so the barrier
// always completes; the error is carried in the Result as a placeholder.
//
//	c := fanin.New(clk, 3, 5*time.Second)
//	c.OnComplete(func(r fanin.Result) { ... })
//	go func() { owner, err := resolve(...); c.AnnounceResult("owner", owner, err) }()
//	...
//	r, err := c.Wait(ctx)
package fanin

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophdirectory/internal/clock"
)

// Result is the announcement set at the time the coordinator fired.
type Result struct {
	Values map[string]any
	Errors map[string]error
	// Complete is false when the coordinator fired on timeout.
	Complete bool
}

// Value returns the value announced under name.
func (r Result) Value(name string) (any, bool) {
	v, ok := r.Values[name]
	return v, ok
}

// Err returns the error announced under name, nil if it succeeded or never announced.
func (r Result) Err(name string) error {
	return r.Errors[name]
}

// Announced reports whether name was announced, successfully or not.
func (r Result) Announced(name string) bool {
	_, ok := r.Values[name]
	if ok {
		return true
	}
	_, ok = r.Errors[name]
	return ok
}

// Coordinator collects up to n distinct named announcements and fires all
// listeners once, either when the n-th distinct name arrives or when the
// timeout elapses, whichever comes first. Re-announcing a name overwrites
// its value without counting twice.
type Coordinator struct {
	expected int

	mu        sync.Mutex
	values    map[string]any
	errors    map[string]error
	listeners []func(Result)
	fired     bool
	result    Result
	timer     *clock.Timer
	done      chan struct{}
}

// New arms a coordinator for n announcements with the given timeout.
// A timeout <= 0 disables the timeout.
func New(clk clock.Clock, n int, timeout time.Duration) *Coordinator {
	c := &Coordinator{
		expected: n,
		values:   make(map[string]any),
		errors:   make(map[string]error),
		done:     make(chan struct{}),
	}
	if n <= 0 {
		c.fire(true)
		return c
	}
	if timeout > 0 {
		c.mu.Lock()
		c.timer = clk.AfterFunc(timeout, func() { c.fire(false) })
		c.mu.Unlock()
	}
	return c
}

// OnComplete registers a listener. A listener registered after the
// coordinator fired is called immediately with the final result.
func (c *Coordinator) OnComplete(fn func(Result)) {
	c.mu.Lock()
	if c.fired {
		r := c.result
		c.mu.Unlock()
		fn(r)
		return
	}
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Announce records a successful sub-result.
func (c *Coordinator) Announce(name string, value any) {
	c.announce(name, value, nil)
}

// AnnounceError records a failed sub-result. It counts towards completion.
func (c *Coordinator) AnnounceError(name string, err error) {
	c.announce(name, nil, err)
}

// AnnounceResult records value or err depending on err.
func (c *Coordinator) AnnounceResult(name string, value any, err error) {
	c.announce(name, value, err)
}

func (c *Coordinator) announce(name string, value any, err error) {
	c.mu.Lock()
	if c.fired {
		c.mu.Unlock()
		return
	}
	if err != nil {
		delete(c.values, name)
		c.errors[name] = err
	} else {
		delete(c.errors, name)
		c.values[name] = value
	}
	complete := len(c.values)+len(c.errors) >= c.expected
	c.mu.Unlock()

	if complete {
		c.fire(true)
	}
}

func (c *Coordinator) fire(complete bool) {
	c.mu.Lock()
	if c.fired {
		c.mu.Unlock()
		return
	}
	c.fired = true
	if c.timer != nil {
		c.timer.Stop()
	}
	c.result = Result{
		Values:   maps.Clone(c.values),
		Errors:   maps.Clone(c.errors),
		Complete: complete,
	}
	listeners := c.listeners
	c.listeners = nil
	r := c.result
	close(c.done)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(r)
	}
}

// Done is closed once the coordinator has fired.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Fired reports whether the coordinator has fired.
func (c *Coordinator) Fired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired
}

// Wait blocks until the coordinator fires or ctx is done.
func (c *Coordinator) Wait(ctx context.Context) (Result, error) {
	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
