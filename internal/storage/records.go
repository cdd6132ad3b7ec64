package storage

import (
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/gophdirectory/internal/models"
)

type deviceRecord struct {
	Name     string `cbor:"name"`
	Platform string `cbor:"platform"`
}

type contactRecord struct {
	ID        int64          `cbor:"id"`
	Name      string         `cbor:"name"`
	Domain    string         `cbor:"domain"`
	Timestamp int64          `cbor:"ts"`
	Last      int64          `cbor:"last"`
	Devices   []deviceRecord `cbor:"devices,omitempty"`
	Context   []byte         `cbor:"ctx,omitempty"`
}

type groupRecord struct {
	ID         int64         `cbor:"id"`
	Name       string        `cbor:"name"`
	Tag        string        `cbor:"tag,omitempty"`
	Domain     string        `cbor:"domain"`
	Owner      contactRecord `cbor:"owner"`
	Creation   int64         `cbor:"creation"`
	LastActive int64         `cbor:"lastActive"`
	State      int           `cbor:"state"`
	Members    []int64       `cbor:"members"`
	Timestamp  int64         `cbor:"ts"`
	Last       int64         `cbor:"last"`
	Context    []byte        `cbor:"ctx,omitempty"`
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func newContactRecord(c *models.Contact) contactRecord {
	r := contactRecord{
		ID:        c.ID,
		Name:      c.Name,
		Domain:    c.Domain,
		Timestamp: toMillis(c.Timestamp),
		Last:      toMillis(c.Last),
		Context:   c.Context,
	}
	for _, d := range c.Devices {
		r.Devices = append(r.Devices, deviceRecord(d))
	}
	return r
}

func (r contactRecord) contact(lifespan time.Duration) *models.Contact {
	c := &models.Contact{Name: r.Name, Domain: r.Domain}
	c.ID = r.ID
	c.Timestamp = fromMillis(r.Timestamp)
	c.Touch(fromMillis(r.Last), lifespan)
	if len(r.Context) > 0 {
		c.Context = json.RawMessage(r.Context)
	}
	for _, d := range r.Devices {
		c.Devices = append(c.Devices, models.Device(d))
	}
	return c
}

func newGroupRecord(g *models.Group) groupRecord {
	r := groupRecord{
		ID:         g.ID,
		Name:       g.Name,
		Tag:        g.Tag,
		Domain:     g.Domain,
		Creation:   toMillis(g.CreationTime),
		LastActive: toMillis(g.LastActiveTime),
		State:      int(g.State),
		Members:    g.MemberIDs,
		Timestamp:  toMillis(g.Timestamp),
		Last:       toMillis(g.Last),
		Context:    g.Context,
	}
	if g.Owner != nil {
		r.Owner = newContactRecord(g.Owner)
	}
	return r
}

func (r groupRecord) group(lifespan time.Duration) *models.Group {
	g := &models.Group{
		Owner:          r.Owner.contact(lifespan),
		Name:           r.Name,
		Tag:            r.Tag,
		Domain:         r.Domain,
		CreationTime:   fromMillis(r.Creation),
		LastActiveTime: fromMillis(r.LastActive),
		State:          models.ParseGroupState(r.State),
		MemberIDs:      append([]int64(nil), r.Members...),
	}
	g.ID = r.ID
	g.Timestamp = fromMillis(r.Timestamp)
	g.Touch(fromMillis(r.Last), lifespan)
	if len(r.Context) > 0 {
		g.Context = json.RawMessage(r.Context)
	}
	return g
}
