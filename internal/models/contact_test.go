package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContact_UnmarshalDerivesExpiryFromLast(t *testing.T) {
	var c Contact
	data := `{"id":7,"name":"bob","domain":"d","timestamp":1700000000000,"last":1700000100000,
	          "devices":[{"name":"Web","platform":"Chrome"}],"context":{"avatar":"a.png"}}`
	require.NoError(t, json.Unmarshal([]byte(data), &c))

	assert.Equal(t, int64(7), c.ID)
	assert.Equal(t, time.UnixMilli(1700000100000), c.Last)
	assert.Equal(t, c.Last.Add(DefaultLifespan), c.Expiry)
	assert.JSONEq(t, `{"avatar":"a.png"}`, string(c.Context))
	assert.Equal(t, []Device{{Name: "Web", Platform: "Chrome"}}, c.Devices)
}

func TestContact_NullContextIsDropped(t *testing.T) {
	var c Contact
	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"timestamp":5,"context":null}`), &c))
	assert.Nil(t, c.Context)
	assert.Equal(t, time.UnixMilli(5), c.Last)
}

func TestEntity_TouchAndIsValid(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewContact(1, "a", "d", now)
	c.Touch(now, time.Minute)

	assert.True(t, c.IsValid(now.Add(59*time.Second)))
	assert.False(t, c.IsValid(now.Add(time.Minute)))
}

func TestContact_PriorityName(t *testing.T) {
	c := NewContact(1, "alice", "d", time.Now())
	assert.Equal(t, "alice", c.PriorityName())

	c.Appendix = &ContactAppendix{OwnerID: 1, RemarkName: "Al"}
	assert.Equal(t, "Al", c.PriorityName())
}
