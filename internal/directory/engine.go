// Package directory keeps a local, consistent view of contacts and groups.
//
// Reads go through three tiers: memory, durable storage, then the remote
// pipeline. Pushed group deltas are reduced into the cached objects and
// surfaced as events. One Engine owns all session state (self, readiness,
// caches, appendices, the my-groups set); there is no package-level state.
//
// Entities handed out by the engine are the cached instances. The engine
// mutates them in place when deltas arrive, always while holding its own
// lock, so callers should treat them as read-mostly and must not write to
// them.
package directory

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/gophdirectory/internal/cache"
	"github.com/dmitrijs2005/gophdirectory/internal/clock"
	"github.com/dmitrijs2005/gophdirectory/internal/common"
	"github.com/dmitrijs2005/gophdirectory/internal/logging"
	"github.com/dmitrijs2005/gophdirectory/internal/models"
	"github.com/dmitrijs2005/gophdirectory/internal/pipeline"
	"github.com/dmitrijs2005/gophdirectory/internal/storage"
	"golang.org/x/sync/singleflight"
)

// Module names carried by errors.
const (
	moduleContact  = "contact"
	moduleGroup    = "group"
	moduleAppendix = "appendix"
	moduleSession  = "session"
	moduleBlock    = "blocklist"
	moduleTop      = "toplist"
)

var ErrListGroupsPending = errors.New("list groups already in progress")

type Config struct {
	Domain             string
	EntityLifespan     time.Duration
	InspectInterval    time.Duration
	ListGroupsTimeout  time.Duration
	SignInTimeout      time.Duration
	RecentGroupsWindow time.Duration
	RequestTimeout     time.Duration
	// ListGroupsPageSize bounds one ListGroups page.
	ListGroupsPageSize int
}

func (c Config) withDefaults() Config {
	if c.EntityLifespan <= 0 {
		c.EntityLifespan = models.DefaultLifespan
	}
	if c.InspectInterval <= 0 {
		c.InspectInterval = cache.DefaultInspectInterval
	}
	if c.ListGroupsTimeout <= 0 {
		c.ListGroupsTimeout = 10 * time.Second
	}
	if c.SignInTimeout <= 0 {
		c.SignInTimeout = 15 * time.Second
	}
	if c.RecentGroupsWindow <= 0 {
		c.RecentGroupsWindow = 30 * 24 * time.Hour
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 12 * time.Second
	}
	if c.ListGroupsPageSize <= 0 {
		c.ListGroupsPageSize = 50
	}
	return c
}

type Options struct {
	Config Config
	Clock  clock.Clock
	Logger logging.Logger
}

// Engine is the directory synchronization engine.
type Engine struct {
	pipe   pipeline.Pipeline
	store  storage.Storage
	clock  clock.Clock
	logger logging.Logger
	cfg    Config

	// mu guards the session fields below and every in-place mutation of a
	// cached entity or appendix.
	mu        sync.Mutex
	self      *models.Self
	selfReady bool
	myGroups  map[int64]struct{}
	blockList []int64
	topList   []int64

	contacts          cache.EntityMap[int64, *models.Contact]
	groups            cache.EntityMap[int64, *models.Group]
	contactAppendices *cache.OrderedMap[int64, *models.ContactAppendix]
	groupAppendices   *cache.OrderedMap[int64, *models.GroupAppendix]

	inflight  singleflight.Group
	inspector *cache.Inspector
	events    broker
	echoes    *echoLog
	listing   atomic.Bool

	pending     sync.WaitGroup
	unsubscribe func()
	closeOnce   sync.Once
}

func New(pipe pipeline.Pipeline, store storage.Storage, opts Options) *Engine {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	cfg := opts.Config.withDefaults()

	e := &Engine{
		pipe:              pipe,
		store:             store,
		clock:             clk,
		logger:            logger,
		cfg:               cfg,
		myGroups:          make(map[int64]struct{}),
		contacts:          cache.NewEntityMap[int64, *models.Contact](),
		groups:            cache.NewEntityMap[int64, *models.Group](),
		contactAppendices: cache.NewOrderedMap[int64, *models.ContactAppendix](),
		groupAppendices:   cache.NewOrderedMap[int64, *models.GroupAppendix](),
		echoes:            newEchoLog(2 * cfg.RequestTimeout),
	}

	e.inspector = cache.NewInspector(clk, cfg.InspectInterval, logger)
	e.inspector.Register("contacts", e.contacts, func(x cache.Expirable) {
		e.logger.Debug(context.Background(), "contact expired", "id", x.(*models.Contact).ID)
	})
	e.inspector.Register("groups", e.groups, func(x cache.Expirable) {
		e.logger.Debug(context.Background(), "group expired", "id", x.(*models.Group).ID)
	})

	return e
}

// Start subscribes to pushes and starts the expiry inspector.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.unsubscribe == nil {
		e.unsubscribe = e.pipe.Subscribe(e.handlePush)
	}
	e.mu.Unlock()
	e.inspector.Start(ctx)
}

// Close stops background work and waits for pending durable writes.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.inspector.Stop()
		e.mu.Lock()
		unsubscribe := e.unsubscribe
		e.unsubscribe = nil
		e.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
		e.pending.Wait()
	})
	return nil
}

// Subscribe registers fn for every event. The returned func unregisters it.
func (e *Engine) Subscribe(fn Listener) (unsubscribe func()) {
	return e.events.subscribe(fn)
}

// Inspect runs one expiry sweep immediately.
func (e *Engine) Inspect(ctx context.Context) int {
	return e.inspector.Inspect(ctx)
}

// Self returns the signed-in contact, nil when signed out.
func (e *Engine) Self() *models.Self {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.self
}

// SelfReady reports whether sign-in has fully settled.
func (e *Engine) SelfReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selfReady
}

// IsMyGroup reports whether id is in the signed-in user's working set.
func (e *Engine) IsMyGroup(id int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.myGroups[id]
	return ok
}

// MyGroups returns the cached groups of the working set, most recently
// active first.
func (e *Engine) MyGroups() []*models.Group {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*models.Group, 0, len(e.myGroups))
	for id := range e.myGroups {
		if g, ok := e.groups.Get(id); ok {
			out = append(out, g)
		}
	}
	slices.SortFunc(out, func(a, b *models.Group) int {
		return b.LastActiveTime.Compare(a.LastActiveTime)
	})
	return out
}

// send issues a request bounded by the request timeout and maps both
// transport and application failures to *common.Error.
func (e *Engine) send(ctx context.Context, module, action string, payload any, subject any) (*pipeline.Response, error) {
	ctx, cancel := contextWithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	resp, err := e.pipe.Send(ctx, action, payload)
	if err != nil {
		return nil, common.WrapError(module, common.CodeServerError, subject, err)
	}
	if err := resp.Err(module, subject); err != nil {
		return nil, err
	}
	return resp, nil
}

func contextWithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// background runs fn detached from the caller's cancellation and tracks it
// so Close can wait.
func (e *Engine) background(ctx context.Context, fn func(ctx context.Context)) {
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		ctx, cancel := contextWithTimeout(context.WithoutCancel(ctx), e.cfg.RequestTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (e *Engine) currentSelf() (*models.Self, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.self, e.self != nil
}

// adoptContactLocked makes c the canonical cached instance for its id, or
// refreshes the existing instance from c and returns it. A zero fresh keeps
// the expiry c already carries (durable promotion); otherwise the entity is
// touched at fresh.
func (e *Engine) adoptContactLocked(c *models.Contact, fresh time.Time) *models.Contact {
	if e.self != nil && c.ID == e.self.ID {
		if c != &e.self.Contact {
			e.self.Update(c)
		}
		if !fresh.IsZero() {
			e.self.Touch(fresh, e.cfg.EntityLifespan)
		}
		return &e.self.Contact
	}

	if cur, ok := e.contacts.Get(c.ID); ok {
		if cur != c {
			cur.Update(c)
			keepLater(&cur.Entity, &c.Entity)
		}
		if !fresh.IsZero() {
			cur.Touch(fresh, e.cfg.EntityLifespan)
		}
		return cur
	}

	if !fresh.IsZero() {
		c.Touch(fresh, e.cfg.EntityLifespan)
	}
	if a, ok := e.contactAppendices.Get(c.ID); ok {
		c.Appendix = a
	}
	e.contacts.Put(c.ID, c)
	return c
}

func (e *Engine) adoptGroupLocked(g *models.Group, fresh time.Time) *models.Group {
	if g.Owner != nil {
		g.Owner = e.adoptContactLocked(g.Owner, fresh)
	}

	if cur, ok := e.groups.Get(g.ID); ok {
		if cur != g {
			cur.Update(g)
			keepLater(&cur.Entity, &g.Entity)
		}
		if !fresh.IsZero() {
			cur.Touch(fresh, e.cfg.EntityLifespan)
		}
		return cur
	}

	if !fresh.IsZero() {
		g.Touch(fresh, e.cfg.EntityLifespan)
	}
	if a, ok := e.groupAppendices.Get(g.ID); ok {
		g.Appendix = a
	}
	e.groups.Put(g.ID, g)
	return g
}

// keepLater moves dst's expiry forward to src's when src lives longer.
func keepLater(dst, src *models.Entity) {
	if src.Expiry.After(dst.Expiry) {
		dst.Last = src.Last
		dst.Expiry = src.Expiry
	}
}

func snapshotContact(c *models.Contact) *models.Contact {
	cp := *c
	cp.Appendix = nil
	cp.Devices = slices.Clone(c.Devices)
	return &cp
}

func snapshotGroup(g *models.Group) *models.Group {
	cp := *g
	cp.Appendix = nil
	cp.MemberIDs = slices.Clone(g.MemberIDs)
	if g.Owner != nil {
		cp.Owner = snapshotContact(g.Owner)
	}
	return &cp
}

// persistContactLocked schedules a durable write of c. The write does not
// hold up the caller.
func (e *Engine) persistContactLocked(ctx context.Context, c *models.Contact) {
	if e.store == nil {
		return
	}
	snap := snapshotContact(c)
	e.background(ctx, func(ctx context.Context) {
		if err := e.store.WriteContact(ctx, snap); err != nil {
			e.logger.Warn(ctx, "durable contact write failed", "id", snap.ID, "error", err)
		}
	})
}

func (e *Engine) persistGroupLocked(ctx context.Context, g *models.Group) {
	if e.store == nil {
		return
	}
	snap := snapshotGroup(g)
	e.background(ctx, func(ctx context.Context) {
		if err := e.store.WriteGroup(ctx, snap); err != nil {
			e.logger.Warn(ctx, "durable group write failed", "id", snap.ID, "error", err)
		}
	})
}
