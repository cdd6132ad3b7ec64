package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophdirectory/internal/clock"
	"github.com/dmitrijs2005/gophdirectory/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	id     int64
	expiry time.Time
}

func (i *item) ExpiresAt() time.Time { return i.expiry }

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestInspector_InspectEvictsExpiredOnly(t *testing.T) {
	clk := clock.Fake(epoch)
	m := NewEntityMap[int64, *item]()
	m.Put(1, &item{id: 1, expiry: epoch.Add(-time.Second)})
	m.Put(2, &item{id: 2, expiry: epoch.Add(time.Hour)})

	var evicted []int64
	in := NewInspector(clk, time.Second, logging.Discard())
	in.Register("contacts", m, func(e Expirable) { evicted = append(evicted, e.(*item).id) })

	require.Equal(t, 1, in.Inspect(context.Background()))
	assert.Equal(t, []int64{1}, evicted)

	_, ok := m.Get(1)
	assert.False(t, ok)
	_, ok = m.Get(2)
	assert.True(t, ok)
}

func TestInspector_TickSweepsInBackground(t *testing.T) {
	clk := clock.Fake(epoch)
	m := NewEntityMap[int64, *item]()
	m.Put(7, &item{id: 7, expiry: epoch.Add(5 * time.Second)})

	var mu sync.Mutex
	evicted := make(chan int64, 1)
	in := NewInspector(clk, DefaultInspectInterval, nil)
	in.Register("groups", m, func(e Expirable) {
		mu.Lock()
		defer mu.Unlock()
		evicted <- e.(*item).id
	})

	in.Start(context.Background())
	defer in.Stop()

	clk.WaitForTimers(1)
	clk.Advance(DefaultInspectInterval)

	select {
	case id := <-evicted:
		assert.Equal(t, int64(7), id)
	case <-time.After(2 * time.Second):
		t.Fatal("inspector did not sweep on tick")
	}
	assert.Equal(t, 0, m.Len())
}

func TestInspector_StopIsIdempotent(t *testing.T) {
	in := NewInspector(clock.Fake(epoch), time.Second, nil)
	in.Start(context.Background())
	in.Stop()
	in.Stop()
}
