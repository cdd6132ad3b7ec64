package models

import (
	"encoding/json"
	"slices"
)

// GroupBundle describes the outcome of a group mutation: the group after
// the change, the contacts that were added, removed or changed, and who
// did it. It is never persisted.
type GroupBundle struct {
	Group       *Group
	Modified    []*Contact
	Operator    *Contact
	IncludeSelf bool
}

type groupBundleWire struct {
	Group    *Group     `json:"group"`
	Modified []*Contact `json:"modified"`
	Operator *Contact   `json:"operator,omitempty"`
}

func (b *GroupBundle) UnmarshalJSON(data []byte) error {
	var w groupBundleWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	b.Group = w.Group
	b.Modified = w.Modified
	b.Operator = w.Operator
	return nil
}

func (b *GroupBundle) MarshalJSON() ([]byte, error) {
	return json.Marshal(groupBundleWire{Group: b.Group, Modified: b.Modified, Operator: b.Operator})
}

// MarkSelf sets IncludeSelf from whether selfID is among the modified contacts.
func (b *GroupBundle) MarkSelf(selfID int64) {
	b.IncludeSelf = slices.Contains(b.ModifiedIDs(), selfID)
}

func (b *GroupBundle) ModifiedIDs() []int64 {
	ids := make([]int64, 0, len(b.Modified))
	for _, c := range b.Modified {
		ids = append(ids, c.ID)
	}
	return ids
}
