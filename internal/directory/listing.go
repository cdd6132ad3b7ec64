package directory

import (
	"context"
	"slices"
	"strconv"
	"time"

	"github.com/dmitrijs2005/gophdirectory/internal/common"
	"github.com/dmitrijs2005/gophdirectory/internal/fanin"
	"github.com/dmitrijs2005/gophdirectory/internal/models"
	"github.com/dmitrijs2005/gophdirectory/internal/pipeline"
	"golang.org/x/sync/errgroup"
)

const memberFetchLimit = 8

type listGroupsRequest struct {
	Domain string `json:"domain"`
	Begin  int64  `json:"begin"`
	End    int64  `json:"end"`
	Page   int    `json:"page"`
	Size   int    `json:"size"`
}

type listGroupsPage struct {
	Groups []*models.Group `json:"groups"`
	More   bool            `json:"more"`
}

type groupBatchWriter interface {
	WriteGroups(ctx context.Context, groups []*models.Group) error
}

// ListGroups fetches the groups active within the recent-groups window,
// page by page, and folds them into the cache and the my-groups set.
//
// Only one listing runs at a time; an overlapping call fails with
// ErrListGroupsPending. If a page gets no response within the list-groups
// timeout the listing resolves to an empty result.
func (e *Engine) ListGroups(ctx context.Context) ([]*models.Group, error) {
	if !e.listing.CompareAndSwap(false, true) {
		return nil, ErrListGroupsPending
	}
	defer e.listing.Store(false)

	begin, end := e.recentWindow(e.clock.Now())
	req := listGroupsRequest{
		Domain: e.cfg.Domain,
		Begin:  begin.UnixMilli(),
		End:    end.UnixMilli(),
		Size:   e.cfg.ListGroupsPageSize,
	}

	var listed []*models.Group
	expired := false
	for page := 0; ; page++ {
		req.Page = page
		resp, timedOut, err := e.sendWatched(ctx, pipeline.ActionListGroups, req)
		if timedOut {
			e.logger.Warn(ctx, "list groups watchdog expired", "page", page)
			expired = true
			break
		}
		if err != nil {
			return nil, err
		}

		var p listGroupsPage
		if err := resp.Decode(&p); err != nil {
			return nil, common.WrapError(moduleGroup, common.CodeServerError, "list", err)
		}
		listed = append(listed, p.Groups...)
		if !p.More || len(p.Groups) == 0 {
			break
		}
	}

	groups := e.absorbListed(ctx, listed)
	if expired {
		return []*models.Group{}, nil
	}
	return groups, nil
}

// sendWatched sends one request and gives up when no response arrives
// within the list-groups timeout.
func (e *Engine) sendWatched(ctx context.Context, action string, payload any) (*pipeline.Response, bool, error) {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		resp *pipeline.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := e.send(sctx, moduleGroup, action, payload, "list")
		done <- result{resp, err}
	}()

	expired := make(chan struct{})
	watchdog := e.clock.AfterFunc(e.cfg.ListGroupsTimeout, func() { close(expired) })
	defer watchdog.Stop()

	select {
	case r := <-done:
		return r.resp, false, r.err
	case <-expired:
		return nil, true, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// absorbListed adopts listed groups into memory and schedules one durable
// batch write. Before writing it compares each group's last activity with
// the durable copy; that check only logs.
func (e *Engine) absorbListed(ctx context.Context, listed []*models.Group) []*models.Group {
	if len(listed) == 0 {
		return []*models.Group{}
	}

	now := e.clock.Now()
	out := make([]*models.Group, 0, len(listed))
	snaps := make([]*models.Group, 0, len(listed))

	e.mu.Lock()
	for _, g := range listed {
		cached := e.adoptGroupLocked(g, now)
		switch cached.State {
		case models.GroupStateDismissed, models.GroupStateDisabled:
			delete(e.myGroups, cached.ID)
		default:
			if e.self == nil || cached.HasMember(e.self.ID) {
				e.myGroups[cached.ID] = struct{}{}
			}
		}
		out = append(out, cached)
		snaps = append(snaps, snapshotGroup(cached))
	}
	e.mu.Unlock()

	if e.store != nil {
		e.background(ctx, func(ctx context.Context) {
			e.compareActivity(ctx, snaps)
			e.writeGroups(ctx, snaps)
		})
	}
	return out
}

func (e *Engine) compareActivity(ctx context.Context, listed []*models.Group) {
	for _, g := range listed {
		local, err := e.store.ReadGroup(ctx, g.ID)
		if err != nil {
			e.logger.Debug(ctx, "activity check skipped", "group", g.ID, "error", err)
			continue
		}
		if local != nil && local.LastActiveTime.Before(g.LastActiveTime) {
			e.logger.Debug(ctx, "group active since last sync", "group", g.ID,
				"local", local.LastActiveTime, "server", g.LastActiveTime)
		}
	}
}

func (e *Engine) writeGroups(ctx context.Context, groups []*models.Group) {
	if w, ok := e.store.(groupBatchWriter); ok {
		if err := w.WriteGroups(ctx, groups); err != nil {
			e.logger.Warn(ctx, "durable group batch write failed", "count", len(groups), "error", err)
		}
		return
	}
	for _, g := range groups {
		if err := e.store.WriteGroup(ctx, g); err != nil {
			e.logger.Warn(ctx, "durable group write failed", "id", g.ID, "error", err)
		}
	}
}

// GroupMembers resolves the owner and every member of g. Lookups run in
// parallel behind a fan-in barrier; a failed lookup is left out of the
// result rather than failing the call.
func (e *Engine) GroupMembers(ctx context.Context, g *models.Group) ([]*models.Contact, error) {
	if g == nil {
		return nil, common.NewError(moduleGroup, common.CodeInvalidParameter, nil)
	}

	e.mu.Lock()
	ids := uniqueIDs(g.MemberIDs)
	e.mu.Unlock()

	gate := fanin.New(e.clock, len(ids), e.cfg.RequestTimeout)

	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		var eg errgroup.Group
		eg.SetLimit(memberFetchLimit)
		for _, id := range ids {
			eg.Go(func() error {
				c, err := e.ResolveContact(ctx, id)
				gate.AnnounceResult(strconv.FormatInt(id, 10), c, err)
				return nil
			})
		}
		_ = eg.Wait()
	}()

	r, err := gate.Wait(ctx)
	if err != nil {
		return nil, err
	}

	members := make([]*models.Contact, 0, len(ids))
	for _, id := range ids {
		name := strconv.FormatInt(id, 10)
		if v, ok := r.Value(name); ok {
			members = append(members, v.(*models.Contact))
			continue
		}
		e.logger.Debug(ctx, "member not resolved", "group", g.ID, "member", id, "error", r.Err(name))
	}
	return slices.Clip(members), nil
}

// recentWindow returns the [begin, end) range ListGroups covers at now.
func (e *Engine) recentWindow(now time.Time) (time.Time, time.Time) {
	return now.Add(-e.cfg.RecentGroupsWindow), now
}
