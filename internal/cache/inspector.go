package cache

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophdirectory/internal/clock"
	"github.com/dmitrijs2005/gophdirectory/internal/logging"
)

// DefaultInspectInterval is how often the inspector sweeps.
const DefaultInspectInterval = 10 * time.Second

// Sweeper is a collection the inspector can purge.
type Sweeper interface {
	// Sweep removes everything expired at now and returns it.
	Sweep(now time.Time) []Expirable
}

// EntityMap adapts an OrderedMap of expirable values to Sweeper.
type EntityMap[K comparable, V Expirable] struct {
	*OrderedMap[K, V]
}

func NewEntityMap[K comparable, V Expirable]() EntityMap[K, V] {
	return EntityMap[K, V]{OrderedMap: NewOrderedMap[K, V]()}
}

func (m EntityMap[K, V]) Sweep(now time.Time) []Expirable {
	removed := m.RemoveIf(func(v V) bool {
		return !v.ExpiresAt().After(now)
	})
	out := make([]Expirable, 0, len(removed))
	for _, v := range removed {
		out = append(out, v)
	}
	return out
}

type inspected struct {
	name     string
	sweeper  Sweeper
	listener func(Expirable)
}

// Inspector periodically evicts expired entities from registered memory
// collections. It never touches durable storage.
type Inspector struct {
	clock    clock.Clock
	interval time.Duration
	logger   logging.Logger

	mu      sync.Mutex
	targets []inspected
	ticker  *clock.Ticker
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewInspector(clk clock.Clock, interval time.Duration, logger logging.Logger) *Inspector {
	if interval <= 0 {
		interval = DefaultInspectInterval
	}
	return &Inspector{clock: clk, interval: interval, logger: logger}
}

// Register adds a collection. listener, if not nil, is called once per
// evicted entity.
func (in *Inspector) Register(name string, s Sweeper, listener func(Expirable)) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.targets = append(in.targets, inspected{name: name, sweeper: s, listener: listener})
}

// Start begins sweeping in the background until Stop or ctx is done.
func (in *Inspector) Start(ctx context.Context) {
	in.mu.Lock()
	if in.ticker != nil {
		in.mu.Unlock()
		return
	}
	in.ticker = in.clock.NewTicker(in.interval)
	in.done = make(chan struct{})
	ticker, done := in.ticker, in.done
	in.mu.Unlock()

	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		for {
			select {
			case <-ticker.C:
				in.Inspect(ctx)
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (in *Inspector) Stop() {
	in.mu.Lock()
	if in.ticker == nil {
		in.mu.Unlock()
		return
	}
	in.ticker.Stop()
	close(in.done)
	in.ticker = nil
	in.mu.Unlock()
	in.wg.Wait()
}

// Inspect runs one sweep and returns the number of evicted entities.
func (in *Inspector) Inspect(ctx context.Context) int {
	in.mu.Lock()
	targets := append([]inspected(nil), in.targets...)
	in.mu.Unlock()

	now := in.clock.Now()
	total := 0
	for _, t := range targets {
		evicted := t.sweeper.Sweep(now)
		total += len(evicted)
		if len(evicted) > 0 && in.logger != nil {
			in.logger.Debug(ctx, "evicted expired entities", "collection", t.name, "count", len(evicted))
		}
		if t.listener == nil {
			continue
		}
		for _, e := range evicted {
			t.listener(e)
		}
	}
	return total
}
