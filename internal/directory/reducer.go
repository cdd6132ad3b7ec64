package directory

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dmitrijs2005/gophdirectory/internal/models"
	"github.com/dmitrijs2005/gophdirectory/internal/pipeline"
)

var errNoGroup = errors.New("delta carries no group")

// decodeBundle accepts either a GroupBundle or a bare Group payload.
func decodeBundle(resp *pipeline.Response) (*models.GroupBundle, error) {
	var fields map[string]json.RawMessage
	if err := resp.Decode(&fields); err != nil {
		return nil, err
	}

	b := &models.GroupBundle{}
	if _, ok := fields["group"]; ok {
		if err := json.Unmarshal(resp.Data, b); err != nil {
			return nil, err
		}
	} else {
		var g models.Group
		if err := json.Unmarshal(resp.Data, &g); err != nil {
			return nil, err
		}
		b.Group = &g
	}

	if b.Group == nil {
		return nil, errNoGroup
	}
	return b, nil
}

func isGroupAction(action string) bool {
	switch action {
	case pipeline.ActionCreateGroup,
		pipeline.ActionDismissGroup,
		pipeline.ActionAddGroupMember,
		pipeline.ActionRemoveGroupMember,
		pipeline.ActionModifyGroup,
		pipeline.ActionModifyGroupMember:
		return true
	}
	return false
}

// applyLocked folds bundle b produced by action into the cache and returns
// the event it implies. caller, when not nil, is the instance the
// requesting code holds; it is updated too so it reflects the change
// before the request returns.
func (e *Engine) applyLocked(ctx context.Context, action string, b *models.GroupBundle, caller *models.Group) Event {
	now := e.clock.Now()

	for i, c := range b.Modified {
		b.Modified[i] = e.adoptContactLocked(c, now)
	}
	if b.Operator != nil {
		b.Operator = e.adoptContactLocked(b.Operator, now)
	}

	var selfID int64
	if e.self != nil {
		selfID = e.self.ID
		b.MarkSelf(selfID)
	} else {
		b.IncludeSelf = false
	}

	if caller != nil && caller.ID == b.Group.ID {
		if _, cached := e.groups.Get(caller.ID); !cached {
			e.adoptGroupLocked(caller, now)
		}
	}
	g := e.adoptGroupLocked(b.Group, now)
	b.Group = g

	ev := Event{Group: g, Bundle: b}
	switch action {
	case pipeline.ActionCreateGroup:
		ev.Kind = EventGroupCreated
		if selfID != 0 && g.HasMember(selfID) {
			e.myGroups[g.ID] = struct{}{}
		}

	case pipeline.ActionDismissGroup:
		ev.Kind = EventGroupDismissed
		g.State = models.GroupStateDismissed
		delete(e.myGroups, g.ID)

	case pipeline.ActionAddGroupMember:
		ev.Kind = EventGroupMemberAdded
		g.AddMembers(b.ModifiedIDs()...)
		if b.IncludeSelf {
			if g.State == models.GroupStateDisabled {
				g.State = models.GroupStateNormal
			}
			e.myGroups[g.ID] = struct{}{}
		}

	case pipeline.ActionRemoveGroupMember:
		ev.Kind = EventGroupMemberRemoved
		g.RemoveMembers(b.ModifiedIDs()...)
		if b.IncludeSelf {
			g.State = models.GroupStateDisabled
			delete(e.myGroups, g.ID)
		}

	default:
		ev.Kind = EventGroupUpdated
	}

	if caller != nil && caller != g && caller.ID == g.ID {
		caller.Update(g)
		caller.State = g.State
		caller.Touch(g.Last, e.cfg.EntityLifespan)
	}

	e.persistGroupLocked(ctx, g)
	for _, c := range b.Modified {
		e.persistContactLocked(ctx, c)
	}
	return ev
}

func (e *Engine) handlePush(ctx context.Context, push *pipeline.Response) {
	if err := push.Err("push", push.Action); err != nil {
		e.logger.Warn(ctx, "dropping failed push", "action", push.Action, "error", err)
		return
	}

	switch {
	case isGroupAction(push.Action):
		e.reduceGroupPush(ctx, push)
	case push.Action == pipeline.ActionUpdateAppendix:
		e.reduceAppendixPush(ctx, push)
	case push.Action == pipeline.ActionSignOut:
		if self := e.clearSession(); self != nil {
			e.logger.Info(ctx, "signed out by server", "self", self.ID)
			e.events.emit(Event{Kind: EventSignOut, Self: self})
		}
	default:
		e.logger.Debug(ctx, "ignoring push", "action", push.Action)
	}
}

func (e *Engine) reduceGroupPush(ctx context.Context, push *pipeline.Response) {
	b, err := decodeBundle(push)
	if err != nil {
		e.logger.Warn(ctx, "dropping undecodable group push", "action", push.Action, "error", err)
		return
	}

	if e.echoes.consume(push.SN, echoKey(push.Action, b.Group.ID), e.clock.Now()) {
		e.logger.Debug(ctx, "skipping echo of own mutation", "action", push.Action, "group", b.Group.ID)
		return
	}

	e.mu.Lock()
	ev := e.applyLocked(ctx, push.Action, b, nil)
	e.mu.Unlock()

	e.events.emit(ev)
}

func (e *Engine) reduceAppendixPush(ctx context.Context, push *pipeline.Response) {
	var env models.AppendixEnvelope
	if err := push.Decode(&env); err != nil {
		e.logger.Warn(ctx, "dropping undecodable appendix push", "error", err)
		return
	}

	if e.echoes.consume(push.SN, appendixKey(env.Kind, env.OwnerID()), e.clock.Now()) {
		e.logger.Debug(ctx, "skipping echo of own appendix update", "owner", env.OwnerID())
		return
	}

	var ev Event
	e.mu.Lock()
	switch env.Kind {
	case models.AppendixGroup:
		a := e.adoptGroupAppendixLocked(env.Group)
		g, _ := e.groups.Get(a.OwnerID)
		ev = Event{Kind: EventGroupAppendixUpdated, Group: g, GroupAppendix: a}
	default:
		a := e.adoptContactAppendixLocked(env.Contact)
		c, _ := e.contacts.Get(a.OwnerID)
		if c == nil && e.self != nil && e.self.ID == a.OwnerID {
			c = &e.self.Contact
		}
		ev = Event{Kind: EventContactAppendixUpdated, Contact: c, ContactAppendix: a}
	}
	e.mu.Unlock()

	e.events.emit(ev)
}
