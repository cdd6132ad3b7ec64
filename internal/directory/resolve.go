package directory

import (
	"context"
	"strconv"
	"time"

	"github.com/dmitrijs2005/gophdirectory/internal/common"
	"github.com/dmitrijs2005/gophdirectory/internal/models"
	"github.com/dmitrijs2005/gophdirectory/internal/pipeline"
)

type entityRequest struct {
	ID     int64  `json:"id"`
	Domain string `json:"domain"`
}

// coalesce runs fn once per key for all concurrent callers. The shared call
// is detached from any single caller's cancellation; a caller that gives up
// returns early and the call still settles into the cache.
func (e *Engine) coalesce(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	ch := e.inflight.DoChan(key, func() (any, error) {
		fctx, cancel := contextWithTimeout(context.WithoutCancel(ctx), e.cfg.RequestTimeout)
		defer cancel()
		return fn(fctx)
	})

	select {
	case r := <-ch:
		return r.Val, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ResolveContact returns the contact with id from memory, durable storage
// or the pipeline, in that order.
func (e *Engine) ResolveContact(ctx context.Context, id int64) (*models.Contact, error) {
	if id <= 0 {
		return nil, common.NewError(moduleContact, common.CodeInvalidParameter, id)
	}

	now := e.clock.Now()
	e.mu.Lock()
	if e.self != nil && e.self.ID == id {
		c := &e.self.Contact
		e.mu.Unlock()
		return c, nil
	}
	if c, ok := e.contacts.Get(id); ok && c.IsValid(now) {
		e.mu.Unlock()
		return c, nil
	}
	e.mu.Unlock()

	v, err := e.coalesce(ctx, "contact:"+strconv.FormatInt(id, 10), func(ctx context.Context) (any, error) {
		return e.fetchContact(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Contact), nil
}

func (e *Engine) fetchContact(ctx context.Context, id int64) (*models.Contact, error) {
	if c := e.readDurableContact(ctx, id); c != nil {
		e.mu.Lock()
		c = e.adoptContactLocked(c, time.Time{})
		e.mu.Unlock()
		return c, nil
	}

	resp, err := e.send(ctx, moduleContact, pipeline.ActionGetContact,
		entityRequest{ID: id, Domain: e.cfg.Domain}, id)
	if err != nil {
		return nil, err
	}

	var c models.Contact
	if err := resp.Decode(&c); err != nil {
		return nil, common.WrapError(moduleContact, common.CodeServerError, id, err)
	}
	if c.ID == 0 {
		c.ID = id
	}

	e.mu.Lock()
	cached := e.adoptContactLocked(&c, e.clock.Now())
	e.persistContactLocked(ctx, cached)
	e.mu.Unlock()

	if _, err := e.ResolveContactAppendix(ctx, cached); err != nil {
		e.logger.Debug(ctx, "contact appendix not loaded", "id", id, "error", err)
	}
	return cached, nil
}

func (e *Engine) readDurableContact(ctx context.Context, id int64) *models.Contact {
	if e.store == nil {
		return nil
	}
	c, err := e.store.ReadContact(ctx, id)
	if err != nil {
		e.logger.Warn(ctx, "durable contact read failed", "id", id, "error", err)
		return nil
	}
	if c == nil || !c.IsValid(e.clock.Now()) {
		return nil
	}
	return c
}

// ResolveGroup returns the group with id from memory, durable storage or
// the pipeline, in that order.
func (e *Engine) ResolveGroup(ctx context.Context, id int64) (*models.Group, error) {
	if id <= 0 {
		return nil, common.NewError(moduleGroup, common.CodeInvalidParameter, id)
	}

	now := e.clock.Now()
	e.mu.Lock()
	if g, ok := e.groups.Get(id); ok && g.IsValid(now) {
		e.mu.Unlock()
		return g, nil
	}
	e.mu.Unlock()

	v, err := e.coalesce(ctx, "group:"+strconv.FormatInt(id, 10), func(ctx context.Context) (any, error) {
		return e.fetchGroup(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Group), nil
}

func (e *Engine) fetchGroup(ctx context.Context, id int64) (*models.Group, error) {
	if g := e.readDurableGroup(ctx, id); g != nil {
		e.mu.Lock()
		g = e.adoptGroupLocked(g, time.Time{})
		e.mu.Unlock()
		return g, nil
	}

	resp, err := e.send(ctx, moduleGroup, pipeline.ActionGetGroup,
		entityRequest{ID: id, Domain: e.cfg.Domain}, id)
	if err != nil {
		return nil, err
	}

	var g models.Group
	if err := resp.Decode(&g); err != nil {
		return nil, common.WrapError(moduleGroup, common.CodeServerError, id, err)
	}
	if g.ID == 0 {
		g.ID = id
	}

	e.mu.Lock()
	cached := e.adoptGroupLocked(&g, e.clock.Now())
	if e.self != nil && cached.HasMember(e.self.ID) && cached.State == models.GroupStateNormal {
		e.myGroups[cached.ID] = struct{}{}
	}
	e.persistGroupLocked(ctx, cached)
	e.mu.Unlock()

	if _, err := e.ResolveGroupAppendix(ctx, cached); err != nil {
		e.logger.Debug(ctx, "group appendix not loaded", "id", id, "error", err)
	}
	return cached, nil
}

func (e *Engine) readDurableGroup(ctx context.Context, id int64) *models.Group {
	if e.store == nil {
		return nil
	}
	g, err := e.store.ReadGroup(ctx, id)
	if err != nil {
		e.logger.Warn(ctx, "durable group read failed", "id", id, "error", err)
		return nil
	}
	if g == nil || !g.IsValid(e.clock.Now()) {
		return nil
	}
	return g
}

// QueryGroups lists durable groups whose last activity lies in
// [begin, end), filtered by states when given. Valid results are promoted
// into memory.
func (e *Engine) QueryGroups(ctx context.Context, begin, end time.Time, states []models.GroupState) ([]*models.Group, error) {
	if e.store == nil {
		return nil, nil
	}
	if !end.IsZero() && end.Before(begin) {
		return nil, common.NewError(moduleGroup, common.CodeInvalidParameter, [2]time.Time{begin, end})
	}

	found, err := e.store.ReadGroups(ctx, begin, end, states)
	if err != nil {
		return nil, common.WrapError(moduleGroup, common.CodeUnknown, "query", err)
	}

	now := e.clock.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*models.Group, 0, len(found))
	for _, g := range found {
		if cur, ok := e.groups.Get(g.ID); ok {
			out = append(out, cur)
			continue
		}
		if g.IsValid(now) {
			g = e.adoptGroupLocked(g, time.Time{})
		}
		out = append(out, g)
	}
	return out, nil
}
