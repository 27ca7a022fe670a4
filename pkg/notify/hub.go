package notify

import (
	"context"
	"sync"
)

const defaultBuffer = 4

// Hub fans out values of type T to all current subscribers.
// All methods are safe for concurrent use.
type Hub[T any] struct {
	mu          sync.RWMutex
	subscribers map[chan T]struct{}
	buffer      int
	closed      bool
}

// NewHub returns a hub whose subscriber channels buffer up to buffer
// values. A buffer below 1 is raised to the default.
func NewHub[T any](buffer int) *Hub[T] {
	if buffer < 1 {
		buffer = defaultBuffer
	}
	return &Hub[T]{
		subscribers: make(map[chan T]struct{}),
		buffer:      buffer,
	}
}

// Subscribe registers a new subscriber. The returned channel is closed when
// ctx is cancelled or the hub is closed. On a closed hub the returned
// channel is already closed.
func (h *Hub[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, h.buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch
	}
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			h.unsubscribe(ch)
		}()
	}

	return ch
}

// Publish delivers v to every subscriber whose buffer has room.
// Values are dropped for full buffers; subscribers re-query for state.
func (h *Hub[T]) Publish(v T) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}

	for ch := range h.subscribers {
		select {
		case ch <- v:
		default:
		}
	}
}

// Close shuts down the hub and closes all subscriber channels.
// Safe to call multiple times.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for ch := range h.subscribers {
		close(ch)
	}
	clear(h.subscribers)
}

func (h *Hub[T]) unsubscribe(ch chan T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[ch]; ok {
		delete(h.subscribers, ch)
		close(ch)
	}
}
