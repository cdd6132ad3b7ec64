package pipeline

import (
	"context"
	"sync"
)

// Handlers is a registry of push handlers. Transports embed it to implement
// Subscribe and fan pushes out.
type Handlers struct {
	mu    sync.RWMutex
	next  int
	byID  map[int]PushHandler
	order []int
}

func (h *Handlers) Subscribe(fn PushHandler) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byID == nil {
		h.byID = make(map[int]PushHandler)
	}
	id := h.next
	h.next++
	h.byID[id] = fn
	h.order = append(h.order, id)

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.byID, id)
		for i, v := range h.order {
			if v == id {
				h.order = append(h.order[:i], h.order[i+1:]...)
				break
			}
		}
	}
}

// Dispatch delivers push to every handler in subscription order.
func (h *Handlers) Dispatch(ctx context.Context, push *Response) {
	h.mu.RLock()
	fns := make([]PushHandler, 0, len(h.order))
	for _, id := range h.order {
		fns = append(fns, h.byID[id])
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(ctx, push)
	}
}
