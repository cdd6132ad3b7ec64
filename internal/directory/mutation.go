package directory

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/dmitrijs2005/gophdirectory/internal/common"
	"github.com/dmitrijs2005/gophdirectory/internal/models"
	"github.com/dmitrijs2005/gophdirectory/internal/pipeline"
	"github.com/google/uuid"
)

type createGroupRequest struct {
	Name    string          `json:"name"`
	Tag     string          `json:"tag,omitempty"`
	Domain  string          `json:"domain"`
	Owner   *models.Contact `json:"owner"`
	Members []int64         `json:"members"`
}

type membersRequest struct {
	ID      int64   `json:"id"`
	Domain  string  `json:"domain"`
	Members []int64 `json:"members"`
}

type modifyGroupRequest struct {
	ID      int64           `json:"id"`
	Domain  string          `json:"domain"`
	Name    *string         `json:"name,omitempty"`
	Tag     *string         `json:"tag,omitempty"`
	Owner   int64           `json:"owner,omitempty"`
	Context json.RawMessage `json:"context,omitempty"`
}

type modifyMemberRequest struct {
	ID     int64           `json:"id"`
	Domain string          `json:"domain"`
	Member *models.Contact `json:"member"`
}

// GroupChange lists the group fields ModifyGroup should change. Nil or
// zero fields are left alone.
type GroupChange struct {
	Name    *string
	Tag     *string
	OwnerID int64
	Context json.RawMessage
}

func (c GroupChange) empty() bool {
	return c.Name == nil && c.Tag == nil && c.OwnerID == 0 && len(c.Context) == 0
}

func notAllowed(subject any) error {
	return common.NewError(moduleGroup, common.CodeNotAllowed, subject)
}

// mutate sends a group mutation and applies the result to the cache and to
// caller before returning. The matching push is recognised as an echo and
// not applied twice.
func (e *Engine) mutate(ctx context.Context, action string, caller *models.Group, groupID int64, payload any, requested []int64) (*models.GroupBundle, error) {
	sn := uuid.NewString()
	marker := e.echoes.expect(echoKey(action, groupID), sn, e.clock.Now())
	ctx = pipeline.WithSN(ctx, sn)

	resp, err := e.send(ctx, moduleGroup, action, payload, groupID)
	if err != nil {
		e.echoes.cancel(marker)
		return nil, err
	}

	b, err := decodeBundle(resp)
	if err != nil {
		e.echoes.cancel(marker)
		return nil, common.WrapError(moduleGroup, common.CodeServerError, groupID, err)
	}
	e.echoes.confirm(marker, echoKey(action, b.Group.ID), resp.SN, e.clock.Now())

	e.mu.Lock()
	if len(b.Modified) == 0 && len(requested) > 0 {
		b.Modified = e.contactsForLocked(requested)
	}
	ev := e.applyLocked(ctx, action, b, caller)
	e.mu.Unlock()

	e.events.emit(ev)
	return b, nil
}

// contactsForLocked returns the cached contacts for ids, with bare
// placeholders for the ones not cached.
func (e *Engine) contactsForLocked(ids []int64) []*models.Contact {
	out := make([]*models.Contact, 0, len(ids))
	for _, id := range ids {
		switch c, ok := e.contacts.Get(id); {
		case e.self != nil && e.self.ID == id:
			out = append(out, &e.self.Contact)
		case ok:
			out = append(out, c)
		default:
			out = append(out, &models.Contact{Entity: models.Entity{ID: id}})
		}
	}
	return out
}

// membership snapshots what local validation needs under the engine lock.
type membership struct {
	self    *models.Self
	ownerID int64
	owner   bool
	member  bool
	members []int64
}

func (e *Engine) membershipOf(g *models.Group) membership {
	e.mu.Lock()
	defer e.mu.Unlock()
	m := membership{self: e.self, members: slices.Clone(g.MemberIDs)}
	if g.Owner != nil {
		m.ownerID = g.Owner.ID
	}
	if e.self != nil {
		m.owner = g.IsOwner(e.self.ID)
		m.member = g.HasMember(e.self.ID)
	}
	return m
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup || id <= 0 {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// CreateGroup creates a group owned by the signed-in user with the given
// initial members.
func (e *Engine) CreateGroup(ctx context.Context, name, tag string, members []int64) (*models.Group, error) {
	self, ok := e.currentSelf()
	if !ok {
		return nil, notAllowed(name)
	}
	if name == "" {
		return nil, common.NewError(moduleGroup, common.CodeInvalidParameter, "name")
	}

	e.mu.Lock()
	owner := snapshotContact(&self.Contact)
	e.mu.Unlock()

	ids := slices.DeleteFunc(uniqueIDs(members), func(id int64) bool { return id == self.ID })
	req := createGroupRequest{
		Name:    name,
		Tag:     tag,
		Domain:  e.cfg.Domain,
		Owner:   owner,
		Members: ids,
	}

	b, err := e.mutate(ctx, pipeline.ActionCreateGroup, nil, 0, req, nil)
	if err != nil {
		return nil, err
	}
	return b.Group, nil
}

// DismissGroup dismisses g. Only the owner may do this.
func (e *Engine) DismissGroup(ctx context.Context, g *models.Group) error {
	if g == nil {
		return common.NewError(moduleGroup, common.CodeInvalidParameter, nil)
	}
	m := e.membershipOf(g)
	if m.self == nil || !m.owner {
		return notAllowed(g.ID)
	}

	_, err := e.mutate(ctx, pipeline.ActionDismissGroup, g, g.ID,
		entityRequest{ID: g.ID, Domain: e.cfg.Domain}, nil)
	return err
}

// QuitGroup removes the signed-in user from g. The owner cannot quit.
func (e *Engine) QuitGroup(ctx context.Context, g *models.Group) error {
	if g == nil {
		return common.NewError(moduleGroup, common.CodeInvalidParameter, nil)
	}
	m := e.membershipOf(g)
	if m.self == nil || m.owner || !m.member {
		return notAllowed(g.ID)
	}

	ids := []int64{m.self.ID}
	_, err := e.mutate(ctx, pipeline.ActionRemoveGroupMember, g, g.ID,
		membersRequest{ID: g.ID, Domain: e.cfg.Domain, Members: ids}, ids)
	return err
}

// AddGroupMembers adds ids to g. Ids that are already members are skipped;
// nothing left to add is an invalid parameter.
func (e *Engine) AddGroupMembers(ctx context.Context, g *models.Group, ids []int64) (*models.GroupBundle, error) {
	if g == nil {
		return nil, common.NewError(moduleGroup, common.CodeInvalidParameter, nil)
	}
	m := e.membershipOf(g)
	if m.self == nil || !m.member {
		return nil, notAllowed(g.ID)
	}

	add := slices.DeleteFunc(uniqueIDs(ids), func(id int64) bool {
		return slices.Contains(m.members, id)
	})
	if len(add) == 0 {
		return nil, common.NewError(moduleGroup, common.CodeInvalidParameter, ids)
	}

	return e.mutate(ctx, pipeline.ActionAddGroupMember, g, g.ID,
		membersRequest{ID: g.ID, Domain: e.cfg.Domain, Members: add}, add)
}

// RemoveGroupMembers removes ids from g. Every id must be a member and the
// owner cannot be removed. Only the owner may remove others; a member may
// remove itself.
func (e *Engine) RemoveGroupMembers(ctx context.Context, g *models.Group, ids []int64) (*models.GroupBundle, error) {
	if g == nil {
		return nil, common.NewError(moduleGroup, common.CodeInvalidParameter, nil)
	}
	remove := uniqueIDs(ids)
	if len(remove) == 0 {
		return nil, common.NewError(moduleGroup, common.CodeInvalidParameter, ids)
	}

	m := e.membershipOf(g)
	if m.self == nil || !m.member {
		return nil, notAllowed(g.ID)
	}
	for _, id := range remove {
		if !slices.Contains(m.members, id) {
			return nil, notAllowed(id)
		}
		if id == m.ownerID {
			return nil, notAllowed(id)
		}
		if id != m.self.ID && !m.owner {
			return nil, notAllowed(id)
		}
	}

	return e.mutate(ctx, pipeline.ActionRemoveGroupMember, g, g.ID,
		membersRequest{ID: g.ID, Domain: e.cfg.Domain, Members: remove}, remove)
}

// ModifyGroup changes the name, tag, owner or context of g. Changing the
// owner is reserved to the current owner and the new owner must be a
// member.
func (e *Engine) ModifyGroup(ctx context.Context, g *models.Group, change GroupChange) (*models.Group, error) {
	if g == nil || change.empty() {
		return nil, common.NewError(moduleGroup, common.CodeInvalidParameter, change)
	}
	m := e.membershipOf(g)
	if m.self == nil || !m.member {
		return nil, notAllowed(g.ID)
	}
	if change.OwnerID != 0 {
		if !m.owner || !slices.Contains(m.members, change.OwnerID) {
			return nil, notAllowed(change.OwnerID)
		}
	}

	req := modifyGroupRequest{
		ID:      g.ID,
		Domain:  e.cfg.Domain,
		Name:    change.Name,
		Tag:     change.Tag,
		Owner:   change.OwnerID,
		Context: change.Context,
	}
	b, err := e.mutate(ctx, pipeline.ActionModifyGroup, g, g.ID, req, nil)
	if err != nil {
		return nil, err
	}
	return b.Group, nil
}

// ModifyGroupMember updates the member-level record of member inside g.
// Members may change their own record; the owner may change anyone's.
func (e *Engine) ModifyGroupMember(ctx context.Context, g *models.Group, member *models.Contact) (*models.GroupBundle, error) {
	if g == nil || member == nil {
		return nil, common.NewError(moduleGroup, common.CodeInvalidParameter, nil)
	}
	m := e.membershipOf(g)
	if m.self == nil || !slices.Contains(m.members, member.ID) {
		return nil, notAllowed(member.ID)
	}
	if member.ID != m.self.ID && !m.owner {
		return nil, notAllowed(member.ID)
	}

	req := modifyMemberRequest{ID: g.ID, Domain: e.cfg.Domain, Member: member}
	return e.mutate(ctx, pipeline.ActionModifyGroupMember, g, g.ID, req, []int64{member.ID})
}
