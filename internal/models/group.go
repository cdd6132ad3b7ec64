package models

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// GroupState is the lifecycle state of a group.
type GroupState int

const (
	GroupStateUnknown   GroupState = -1
	GroupStateNormal    GroupState = 0
	GroupStateDismissed GroupState = 1
	GroupStateForbidden GroupState = 2
	GroupStateHighRisk  GroupState = 3
	// GroupStateDisabled marks a group the signed-in user was removed from
	// or left. It is local only and never sent to the server.
	GroupStateDisabled GroupState = 9
)

func (s GroupState) String() string {
	switch s {
	case GroupStateNormal:
		return "normal"
	case GroupStateDismissed:
		return "dismissed"
	case GroupStateForbidden:
		return "forbidden"
	case GroupStateHighRisk:
		return "high-risk"
	case GroupStateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

func ParseGroupState(v int) GroupState {
	switch s := GroupState(v); s {
	case GroupStateNormal, GroupStateDismissed, GroupStateForbidden, GroupStateHighRisk, GroupStateDisabled:
		return s
	default:
		return GroupStateUnknown
	}
}

// Group is a set of contacts with an owner.
//
// The owner is always a member. Groups returned by the engine are shared
// with its caches and mutated in place when deltas arrive.
type Group struct {
	Entity

	Owner          *Contact
	Name           string
	Tag            string
	Domain         string
	CreationTime   time.Time
	LastActiveTime time.Time
	MemberIDs      []int64
	State          GroupState
	Appendix       *GroupAppendix
}

type groupWire struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	Tag        string          `json:"tag,omitempty"`
	Domain     string          `json:"domain"`
	Owner      *Contact        `json:"owner"`
	Creation   int64           `json:"creation"`
	LastActive int64           `json:"lastActive"`
	State      int             `json:"state"`
	Members    []int64         `json:"members"`
	Timestamp  int64           `json:"timestamp,omitempty"`
	Last       int64           `json:"last,omitempty"`
	Context    json.RawMessage `json:"context,omitempty"`
}

func (g *Group) MarshalJSON() ([]byte, error) {
	state := g.State
	if state == GroupStateDisabled {
		state = GroupStateNormal
	}
	return json.Marshal(groupWire{
		ID:         g.ID,
		Name:       g.Name,
		Tag:        g.Tag,
		Domain:     g.Domain,
		Owner:      g.Owner,
		Creation:   millis(g.CreationTime),
		LastActive: millis(g.LastActiveTime),
		State:      int(state),
		Members:    g.MemberIDs,
		Timestamp:  millis(g.Timestamp),
		Last:       millis(g.Last),
		Context:    g.Context,
	})
}

func (g *Group) UnmarshalJSON(data []byte) error {
	var w groupWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Owner == nil {
		return fmt.Errorf("group %d: missing owner", w.ID)
	}
	ts := w.Timestamp
	if ts == 0 {
		ts = w.Creation
	}
	last := w.Last
	if last == 0 {
		last = w.LastActive
	}
	initEntity(&g.Entity, w.ID, ts, last, w.Context)
	g.Owner = w.Owner
	g.Name = w.Name
	g.Tag = w.Tag
	g.Domain = w.Domain
	g.CreationTime = fromMillis(w.Creation)
	g.LastActiveTime = fromMillis(w.LastActive)
	g.State = ParseGroupState(w.State)
	g.MemberIDs = slices.Clone(w.Members)
	g.ensureOwner()
	return nil
}

// ensureOwner keeps the owner at the head of the member list.
func (g *Group) ensureOwner() {
	if g.Owner == nil {
		return
	}
	if i := slices.Index(g.MemberIDs, g.Owner.ID); i >= 0 {
		if i == 0 {
			return
		}
		g.MemberIDs = slices.Delete(g.MemberIDs, i, i+1)
	}
	g.MemberIDs = slices.Insert(g.MemberIDs, 0, g.Owner.ID)
}

func (g *Group) IsOwner(id int64) bool {
	return g.Owner != nil && g.Owner.ID == id
}

func (g *Group) HasMember(id int64) bool {
	return slices.Contains(g.MemberIDs, id)
}

// AddMembers appends ids not yet present and returns the ones added.
func (g *Group) AddMembers(ids ...int64) []int64 {
	var added []int64
	for _, id := range ids {
		if !g.HasMember(id) {
			g.MemberIDs = append(g.MemberIDs, id)
			added = append(added, id)
		}
	}
	return added
}

// RemoveMembers drops ids from the member list. The owner is never removed.
func (g *Group) RemoveMembers(ids ...int64) []int64 {
	var removed []int64
	g.MemberIDs = slices.DeleteFunc(g.MemberIDs, func(id int64) bool {
		if g.IsOwner(id) || !slices.Contains(ids, id) {
			return false
		}
		removed = append(removed, id)
		return true
	})
	return removed
}

// Update copies the server snapshot src into g in place, keeping g's
// appendix. A local Disabled marker survives a Normal snapshot.
func (g *Group) Update(src *Group) {
	g.Owner = src.Owner
	g.Name = src.Name
	g.Tag = src.Tag
	g.Domain = src.Domain
	g.Context = src.Context
	if !src.CreationTime.IsZero() {
		g.CreationTime = src.CreationTime
	}
	if src.LastActiveTime.After(g.LastActiveTime) {
		g.LastActiveTime = src.LastActiveTime
	}
	if src.MemberIDs != nil {
		g.MemberIDs = slices.Clone(src.MemberIDs)
	}
	if !(g.State == GroupStateDisabled && src.State == GroupStateNormal) {
		g.State = src.State
	}
	g.ensureOwner()
}
