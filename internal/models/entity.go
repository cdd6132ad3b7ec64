// Package models defines the directory's cacheable entities (contacts and
// groups), their appendices, and the bundle describing a group mutation.
//
// Wire encoding follows the pipeline's JSON payloads: identifiers are
// integers and instants are Unix milliseconds.
package models

import (
	"encoding/json"
	"time"
)

// DefaultLifespan is how long an entity stays valid after its last update
// unless the engine is configured otherwise.
const DefaultLifespan = 7 * 24 * time.Hour

// Entity holds the fields shared by every cached object.
//
// Expiry is always derived from Last; use Touch to move both.
type Entity struct {
	ID        int64
	Timestamp time.Time
	Last      time.Time
	Expiry    time.Time
	Context   json.RawMessage
}

// Touch records an update at last and recomputes Expiry.
func (e *Entity) Touch(last time.Time, lifespan time.Duration) {
	if lifespan <= 0 {
		lifespan = DefaultLifespan
	}
	e.Last = last
	e.Expiry = last.Add(lifespan)
}

// IsValid reports whether the entity has not expired at now.
func (e *Entity) IsValid(now time.Time) bool {
	return e.Expiry.After(now)
}

func (e *Entity) EntityID() int64 { return e.ID }

func (e *Entity) ExpiresAt() time.Time { return e.Expiry }

func millis(t time.Time) int64 {
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

// initEntity fills the entity from wire fields. A missing last update
// falls back to the creation timestamp.
func initEntity(e *Entity, id, timestamp, last int64, context json.RawMessage) {
	e.ID = id
	e.Timestamp = fromMillis(timestamp)
	if last == 0 {
		last = timestamp
	}
	e.Touch(fromMillis(last), DefaultLifespan)
	if len(context) > 0 && string(context) != "null" {
		e.Context = context
	} else {
		e.Context = nil
	}
}
