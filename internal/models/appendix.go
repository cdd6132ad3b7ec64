package models

import (
	"encoding/json"
	"errors"
	"maps"
	"strconv"
)

// fieldSet records which fields a decoded appendix payload carried.
type fieldSet uint8

const (
	fieldRemarkName fieldSet = 1 << iota
	fieldAssignedData
	fieldRemark
	fieldNotice
	fieldMemberRemarks
)

// ContactAppendix is the signed-in user's private metadata about a contact.
type ContactAppendix struct {
	OwnerID      int64
	RemarkName   string
	AssignedData map[string]json.RawMessage

	// partial is set on appendices decoded from a payload; only the
	// fields in present are known.
	partial bool
	present fieldSet
}

// GroupAppendix is the metadata attached to a group: the user's remark, the
// group notice and per-member remarks. An empty Remark means none is set.
type GroupAppendix struct {
	OwnerID       int64
	Remark        string
	Notice        string
	MemberRemarks map[int64]string

	partial bool
	present fieldSet
}

// MemberRemark returns the remark for member id, if any.
func (a *GroupAppendix) MemberRemark(id int64) (string, bool) {
	r, ok := a.MemberRemarks[id]
	return r, ok
}

type contactAppendixWire struct {
	ContactID    int64                      `json:"contactId"`
	RemarkName   string                     `json:"remarkName"`
	AssignedData map[string]json.RawMessage `json:"assignedData,omitempty"`
}

type groupAppendixWire struct {
	GroupID       int64             `json:"groupId"`
	Remark        *string           `json:"remark"`
	Notice        string            `json:"notice"`
	MemberRemarks map[string]string `json:"memberRemarks,omitempty"`
}

// AppendixKind discriminates AppendixEnvelope.
type AppendixKind int

const (
	AppendixContact AppendixKind = iota + 1
	AppendixGroup
)

var ErrUnknownAppendix = errors.New("appendix carries neither contactId nor groupId")

// AppendixEnvelope is a decoded GetAppendix/UpdateAppendix payload. Exactly
// one of Contact and Group is set, according to Kind.
type AppendixEnvelope struct {
	Kind    AppendixKind
	Contact *ContactAppendix
	Group   *GroupAppendix
}

// OwnerID is the id of the entity the appendix belongs to.
func (a *AppendixEnvelope) OwnerID() int64 {
	if a.Kind == AppendixGroup {
		return a.Group.OwnerID
	}
	return a.Contact.OwnerID
}

func (a *AppendixEnvelope) UnmarshalJSON(data []byte) error {
	var head struct {
		ContactID *int64 `json:"contactId"`
		GroupID   *int64 `json:"groupId"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	has := func(key string, f fieldSet) fieldSet {
		if _, ok := keys[key]; ok {
			return f
		}
		return 0
	}

	switch {
	case head.ContactID != nil:
		var w contactAppendixWire
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		*a = AppendixEnvelope{Kind: AppendixContact, Contact: &ContactAppendix{
			OwnerID:      w.ContactID,
			RemarkName:   w.RemarkName,
			AssignedData: w.AssignedData,
			partial:      true,
			present:      has("remarkName", fieldRemarkName) | has("assignedData", fieldAssignedData),
		}}
	case head.GroupID != nil:
		var w groupAppendixWire
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		ga := &GroupAppendix{
			OwnerID:       w.GroupID,
			Notice:        w.Notice,
			MemberRemarks: map[int64]string{},
			partial:       true,
			present:       has("remark", fieldRemark) | has("notice", fieldNotice) | has("memberRemarks", fieldMemberRemarks),
		}
		if w.Remark != nil {
			ga.Remark = *w.Remark
		}
		for k, v := range w.MemberRemarks {
			id, err := strconv.ParseInt(k, 10, 64)
			if err != nil {
				return err
			}
			ga.MemberRemarks[id] = v
		}
		*a = AppendixEnvelope{Kind: AppendixGroup, Group: ga}
	default:
		return ErrUnknownAppendix
	}
	return nil
}

func (a ContactAppendix) MarshalJSON() ([]byte, error) {
	return json.Marshal(contactAppendixWire{
		ContactID:    a.OwnerID,
		RemarkName:   a.RemarkName,
		AssignedData: a.AssignedData,
	})
}

func (a GroupAppendix) MarshalJSON() ([]byte, error) {
	w := groupAppendixWire{GroupID: a.OwnerID, Notice: a.Notice}
	if a.Remark != "" {
		remark := a.Remark
		w.Remark = &remark
	}
	if len(a.MemberRemarks) > 0 {
		w.MemberRemarks = make(map[string]string, len(a.MemberRemarks))
		for id, r := range a.MemberRemarks {
			w.MemberRemarks[strconv.FormatInt(id, 10)] = r
		}
	}
	return json.Marshal(w)
}

func (a *ContactAppendix) carries(f fieldSet) bool {
	return !a.partial || a.present&f != 0
}

func (a *GroupAppendix) carries(f fieldSet) bool {
	return !a.partial || a.present&f != 0
}

// Merge copies src's values into a in place. When src was decoded from a
// payload, fields the payload left out keep their current value.
func (a *ContactAppendix) Merge(src *ContactAppendix) {
	if src.carries(fieldRemarkName) {
		a.RemarkName = src.RemarkName
	}
	if src.carries(fieldAssignedData) && src.AssignedData != nil {
		if a.AssignedData == nil {
			a.AssignedData = map[string]json.RawMessage{}
		}
		maps.Copy(a.AssignedData, src.AssignedData)
	}
}

// Merge copies src's values into a in place. When src was decoded from a
// payload, fields the payload left out keep their current value.
func (a *GroupAppendix) Merge(src *GroupAppendix) {
	if src.carries(fieldRemark) {
		a.Remark = src.Remark
	}
	if src.carries(fieldNotice) {
		a.Notice = src.Notice
	}
	if a.MemberRemarks == nil {
		a.MemberRemarks = map[int64]string{}
	}
	maps.Copy(a.MemberRemarks, src.MemberRemarks)
}
