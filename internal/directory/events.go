package directory

import (
	"sync"

	"github.com/dmitrijs2005/gophdirectory/internal/models"
)

type EventKind int

const (
	EventGroupCreated EventKind = iota + 1
	EventGroupDismissed
	EventGroupMemberAdded
	EventGroupMemberRemoved
	EventGroupUpdated
	EventGroupAppendixUpdated
	EventContactAppendixUpdated
	EventSignIn
	EventSignOut
	EventComeback
)

func (k EventKind) String() string {
	switch k {
	case EventGroupCreated:
		return "GroupCreated"
	case EventGroupDismissed:
		return "GroupDismissed"
	case EventGroupMemberAdded:
		return "GroupMemberAdded"
	case EventGroupMemberRemoved:
		return "GroupMemberRemoved"
	case EventGroupUpdated:
		return "GroupUpdated"
	case EventGroupAppendixUpdated:
		return "GroupAppendixUpdated"
	case EventContactAppendixUpdated:
		return "ContactAppendixUpdated"
	case EventSignIn:
		return "SignIn"
	case EventSignOut:
		return "SignOut"
	case EventComeback:
		return "Comeback"
	default:
		return "Unknown"
	}
}

// Event is an observable change. Only the fields relevant to Kind are set.
type Event struct {
	Kind EventKind

	Group           *models.Group
	Bundle          *models.GroupBundle
	Contact         *models.Contact
	Self            *models.Self
	GroupAppendix   *models.GroupAppendix
	ContactAppendix *models.ContactAppendix
}

// Listener receives events synchronously on the goroutine that produced
// them. It must not block.
type Listener func(Event)

type broker struct {
	mu        sync.RWMutex
	next      int
	listeners map[int]Listener
	order     []int
}

func (b *broker) subscribe(fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listeners == nil {
		b.listeners = make(map[int]Listener)
	}
	id := b.next
	b.next++
	b.listeners[id] = fn
	b.order = append(b.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.listeners, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (b *broker) emit(ev Event) {
	b.mu.RLock()
	fns := make([]Listener, 0, len(b.order))
	for _, id := range b.order {
		fns = append(fns, b.listeners[id])
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}
