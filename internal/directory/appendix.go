package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dmitrijs2005/gophdirectory/internal/common"
	"github.com/dmitrijs2005/gophdirectory/internal/models"
	"github.com/dmitrijs2005/gophdirectory/internal/pipeline"
	"github.com/google/uuid"
)

type appendixRequest struct {
	ContactID *int64 `json:"contactId,omitempty"`
	GroupID   *int64 `json:"groupId,omitempty"`
}

func appendixKey(kind models.AppendixKind, id int64) string {
	if kind == models.AppendixGroup {
		return pipeline.ActionUpdateAppendix + ":g:" + strconv.FormatInt(id, 10)
	}
	return pipeline.ActionUpdateAppendix + ":c:" + strconv.FormatInt(id, 10)
}

// ResolveAppendix resolves the appendix of a *models.Contact,
// *models.Self or *models.Group. It never resolves the entity itself.
func (e *Engine) ResolveAppendix(ctx context.Context, entity any) (*models.AppendixEnvelope, error) {
	switch v := entity.(type) {
	case *models.Self:
		a, err := e.ResolveContactAppendix(ctx, &v.Contact)
		if err != nil {
			return nil, err
		}
		return &models.AppendixEnvelope{Kind: models.AppendixContact, Contact: a}, nil
	case *models.Contact:
		a, err := e.ResolveContactAppendix(ctx, v)
		if err != nil {
			return nil, err
		}
		return &models.AppendixEnvelope{Kind: models.AppendixContact, Contact: a}, nil
	case *models.Group:
		a, err := e.ResolveGroupAppendix(ctx, v)
		if err != nil {
			return nil, err
		}
		return &models.AppendixEnvelope{Kind: models.AppendixGroup, Group: a}, nil
	default:
		return nil, common.NewError(moduleAppendix, common.CodeInvalidParameter, fmt.Sprintf("%T", entity))
	}
}

func (e *Engine) ResolveContactAppendix(ctx context.Context, c *models.Contact) (*models.ContactAppendix, error) {
	if c == nil {
		return nil, common.NewError(moduleAppendix, common.CodeInvalidParameter, nil)
	}

	e.mu.Lock()
	if a, ok := e.contactAppendices.Get(c.ID); ok {
		c.Appendix = a
		e.mu.Unlock()
		return a, nil
	}
	e.mu.Unlock()

	v, err := e.coalesce(ctx, "contact-appendix:"+strconv.FormatInt(c.ID, 10), func(ctx context.Context) (any, error) {
		return e.fetchAppendix(ctx, models.AppendixContact, c.ID)
	})
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	a := e.adoptContactAppendixLocked(v.(*models.AppendixEnvelope).Contact)
	c.Appendix = a
	return a, nil
}

func (e *Engine) ResolveGroupAppendix(ctx context.Context, g *models.Group) (*models.GroupAppendix, error) {
	if g == nil {
		return nil, common.NewError(moduleAppendix, common.CodeInvalidParameter, nil)
	}

	e.mu.Lock()
	if a, ok := e.groupAppendices.Get(g.ID); ok {
		g.Appendix = a
		e.mu.Unlock()
		return a, nil
	}
	e.mu.Unlock()

	v, err := e.coalesce(ctx, "group-appendix:"+strconv.FormatInt(g.ID, 10), func(ctx context.Context) (any, error) {
		return e.fetchAppendix(ctx, models.AppendixGroup, g.ID)
	})
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	a := e.adoptGroupAppendixLocked(v.(*models.AppendixEnvelope).Group)
	g.Appendix = a
	return a, nil
}

func (e *Engine) fetchAppendix(ctx context.Context, kind models.AppendixKind, id int64) (*models.AppendixEnvelope, error) {
	req := appendixRequest{}
	if kind == models.AppendixGroup {
		req.GroupID = &id
	} else {
		req.ContactID = &id
	}

	resp, err := e.send(ctx, moduleAppendix, pipeline.ActionGetAppendix, req, id)
	if err != nil {
		return nil, err
	}

	var env models.AppendixEnvelope
	if err := resp.Decode(&env); err != nil {
		return nil, common.WrapError(moduleAppendix, common.CodeServerError, id, err)
	}
	if env.Kind != kind {
		return nil, common.WrapError(moduleAppendix, common.CodeServerError, id,
			fmt.Errorf("asked for appendix kind %d, got %d", kind, env.Kind))
	}
	return &env, nil
}

// adoptContactAppendixLocked merges a into the cached appendix for its owner
// and attaches the result to the cached contact.
func (e *Engine) adoptContactAppendixLocked(a *models.ContactAppendix) *models.ContactAppendix {
	cur, ok := e.contactAppendices.Get(a.OwnerID)
	if ok {
		cur.Merge(a)
	} else {
		cur = a
		e.contactAppendices.Put(a.OwnerID, cur)
	}

	if c, ok := e.contacts.Get(a.OwnerID); ok {
		c.Appendix = cur
	}
	if e.self != nil && e.self.ID == a.OwnerID {
		e.self.Appendix = cur
	}
	return cur
}

func (e *Engine) adoptGroupAppendixLocked(a *models.GroupAppendix) *models.GroupAppendix {
	cur, ok := e.groupAppendices.Get(a.OwnerID)
	if ok {
		cur.Merge(a)
	} else {
		cur = a
		if cur.MemberRemarks == nil {
			cur.MemberRemarks = map[int64]string{}
		}
		e.groupAppendices.Put(a.OwnerID, cur)
	}

	if g, ok := e.groups.Get(a.OwnerID); ok {
		g.Appendix = cur
	}
	return cur
}

// contactAppendixLocked returns the cached appendix for id, creating an
// empty one when none is cached.
func (e *Engine) contactAppendixLocked(id int64) *models.ContactAppendix {
	a, ok := e.contactAppendices.Get(id)
	if !ok {
		a = &models.ContactAppendix{OwnerID: id}
		a = e.adoptContactAppendixLocked(a)
	}
	return a
}

func (e *Engine) groupAppendixLocked(id int64) *models.GroupAppendix {
	a, ok := e.groupAppendices.Get(id)
	if !ok {
		a = e.adoptGroupAppendixLocked(&models.GroupAppendix{OwnerID: id})
	}
	return a
}

// updateAppendix sends one UpdateAppendix request and, only after the
// server accepted it, applies the change locally.
func (e *Engine) updateAppendix(ctx context.Context, kind models.AppendixKind, id int64, payload map[string]any, apply func()) error {
	if _, ok := e.currentSelf(); !ok {
		return common.NewError(moduleAppendix, common.CodeNotAllowed, id)
	}

	key := appendixKey(kind, id)
	sn := uuid.NewString()
	marker := e.echoes.expect(key, sn, e.clock.Now())
	ctx = pipeline.WithSN(ctx, sn)

	resp, err := e.send(ctx, moduleAppendix, pipeline.ActionUpdateAppendix, payload, id)
	if err != nil {
		e.echoes.cancel(marker)
		return err
	}
	e.echoes.confirm(marker, key, resp.SN, e.clock.Now())

	e.mu.Lock()
	apply()
	e.mu.Unlock()
	return nil
}

// RemarkContact sets the signed-in user's remark name for c.
func (e *Engine) RemarkContact(ctx context.Context, c *models.Contact, remark string) error {
	if c == nil {
		return common.NewError(moduleAppendix, common.CodeInvalidParameter, nil)
	}

	var a *models.ContactAppendix
	err := e.updateAppendix(ctx, models.AppendixContact, c.ID,
		map[string]any{"contactId": c.ID, "remarkName": remark},
		func() {
			a = e.contactAppendixLocked(c.ID)
			a.RemarkName = remark
			c.Appendix = a
		})
	if err != nil {
		return err
	}

	e.events.emit(Event{Kind: EventContactAppendixUpdated, Contact: c, ContactAppendix: a})
	return nil
}

// AssignContactData stores value under key in c's assigned data.
func (e *Engine) AssignContactData(ctx context.Context, c *models.Contact, key string, value any) error {
	if c == nil || key == "" {
		return common.NewError(moduleAppendix, common.CodeInvalidParameter, key)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return common.WrapError(moduleAppendix, common.CodeInvalidParameter, key, err)
	}

	var a *models.ContactAppendix
	err = e.updateAppendix(ctx, models.AppendixContact, c.ID,
		map[string]any{"contactId": c.ID, "assignedData": map[string]json.RawMessage{key: raw}},
		func() {
			a = e.contactAppendixLocked(c.ID)
			if a.AssignedData == nil {
				a.AssignedData = map[string]json.RawMessage{}
			}
			a.AssignedData[key] = raw
			c.Appendix = a
		})
	if err != nil {
		return err
	}

	e.events.emit(Event{Kind: EventContactAppendixUpdated, Contact: c, ContactAppendix: a})
	return nil
}

// RemarkGroup sets the signed-in user's remark for g. An empty remark
// clears it.
func (e *Engine) RemarkGroup(ctx context.Context, g *models.Group, remark string) error {
	if g == nil {
		return common.NewError(moduleAppendix, common.CodeInvalidParameter, nil)
	}

	var a *models.GroupAppendix
	err := e.updateAppendix(ctx, models.AppendixGroup, g.ID,
		map[string]any{"groupId": g.ID, "remark": remark},
		func() {
			a = e.groupAppendixLocked(g.ID)
			a.Remark = remark
			g.Appendix = a
		})
	if err != nil {
		return err
	}

	e.events.emit(Event{Kind: EventGroupAppendixUpdated, Group: g, GroupAppendix: a})
	return nil
}

// UpdateNotice replaces the notice of g. Only the owner may do this.
func (e *Engine) UpdateNotice(ctx context.Context, g *models.Group, notice string) error {
	if g == nil {
		return common.NewError(moduleAppendix, common.CodeInvalidParameter, nil)
	}
	self, ok := e.currentSelf()
	if !ok || !e.isOwner(g, self.ID) {
		return common.NewError(moduleAppendix, common.CodeNotAllowed, g.ID)
	}

	var a *models.GroupAppendix
	err := e.updateAppendix(ctx, models.AppendixGroup, g.ID,
		map[string]any{"groupId": g.ID, "notice": notice},
		func() {
			a = e.groupAppendixLocked(g.ID)
			a.Notice = notice
			g.Appendix = a
		})
	if err != nil {
		return err
	}

	e.events.emit(Event{Kind: EventGroupAppendixUpdated, Group: g, GroupAppendix: a})
	return nil
}

// RemarkMember sets the signed-in user's remark for member inside g.
func (e *Engine) RemarkMember(ctx context.Context, g *models.Group, member int64, remark string) error {
	if g == nil {
		return common.NewError(moduleAppendix, common.CodeInvalidParameter, nil)
	}
	if !e.hasMember(g, member) {
		return common.NewError(moduleAppendix, common.CodeNotAllowed, member)
	}

	var a *models.GroupAppendix
	err := e.updateAppendix(ctx, models.AppendixGroup, g.ID,
		map[string]any{
			"groupId":       g.ID,
			"memberRemarks": map[string]string{strconv.FormatInt(member, 10): remark},
		},
		func() {
			a = e.groupAppendixLocked(g.ID)
			a.MemberRemarks[member] = remark
			g.Appendix = a
		})
	if err != nil {
		return err
	}

	e.events.emit(Event{Kind: EventGroupAppendixUpdated, Group: g, GroupAppendix: a})
	return nil
}

func (e *Engine) isOwner(g *models.Group, id int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return g.IsOwner(id)
}

func (e *Engine) hasMember(g *models.Group, id int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return g.HasMember(id)
}
