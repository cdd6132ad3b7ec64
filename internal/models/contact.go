package models

import (
	"encoding/json"
	"time"
)

// Device is a terminal the contact is signed in from.
type Device struct {
	Name     string `json:"name"`
	Platform string `json:"platform"`
}

// Contact is a person in the directory.
//
// Contacts returned by the engine are shared with its caches and are
// mutated in place by the engine; copy fields out if they must not change.
type Contact struct {
	Entity

	Name     string
	Domain   string
	Devices  []Device
	Appendix *ContactAppendix
}

type contactWire struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Domain    string          `json:"domain"`
	Timestamp int64           `json:"timestamp"`
	Last      int64           `json:"last,omitempty"`
	Devices   []Device        `json:"devices,omitempty"`
	Context   json.RawMessage `json:"context,omitempty"`
}

func NewContact(id int64, name, domain string, now time.Time) *Contact {
	c := &Contact{Name: name, Domain: domain}
	c.ID = id
	c.Timestamp = now
	c.Touch(now, DefaultLifespan)
	return c
}

func (c *Contact) MarshalJSON() ([]byte, error) {
	return json.Marshal(contactWire{
		ID:        c.ID,
		Name:      c.Name,
		Domain:    c.Domain,
		Timestamp: millis(c.Timestamp),
		Last:      millis(c.Last),
		Devices:   c.Devices,
		Context:   c.Context,
	})
}

func (c *Contact) UnmarshalJSON(data []byte) error {
	var w contactWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	initEntity(&c.Entity, w.ID, w.Timestamp, w.Last, w.Context)
	c.Name = w.Name
	c.Domain = w.Domain
	c.Devices = w.Devices
	return nil
}

// Update copies the server-side fields of src into c, keeping c's appendix.
func (c *Contact) Update(src *Contact) {
	c.Name = src.Name
	c.Domain = src.Domain
	c.Devices = src.Devices
	c.Context = src.Context
	if !src.Timestamp.IsZero() {
		c.Timestamp = src.Timestamp
	}
}

// PriorityName is the remark name when one is set, the contact name otherwise.
func (c *Contact) PriorityName() string {
	if c.Appendix != nil && c.Appendix.RemarkName != "" {
		return c.Appendix.RemarkName
	}
	return c.Name
}

// Self is the signed-in contact. At most one exists per engine.
type Self struct {
	Contact
}

func NewSelf(id int64, name, domain string, now time.Time) *Self {
	return &Self{Contact: *NewContact(id, name, domain, now)}
}
