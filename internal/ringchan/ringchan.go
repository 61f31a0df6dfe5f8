// Package ringchan provides a bounded channel with overwrite-oldest
// semantics, used to stream discovery events without ever blocking the
// BLE advertisement handler.
package ringchan

// Ring wraps a buffered channel so that sends never block: when the buffer
// is full the oldest element is dropped to make room.
type Ring[T any] struct {
	ch chan T
}

// New creates a Ring with the given capacity.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &Ring[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel. Consumers can range over
// it until Close.
func (r *Ring[T]) C() <-chan T {
	return r.ch
}

// Send inserts an item, dropping the oldest buffered element if the ring is
// full. Reports whether an element was dropped.
func (r *Ring[T]) Send(v T) bool {
	select {
	case r.ch <- v:
		return false
	default:
	}

	dropped := false
	select {
	case <-r.ch:
		dropped = true
	default:
	}
	r.ch <- v
	return dropped
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int { return len(r.ch) }

// Close closes the underlying channel. Sends after Close panic.
func (r *Ring[T]) Close() { close(r.ch) }
