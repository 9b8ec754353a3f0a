// Package history implements the bounded FIFO durability buffer attached
// to each publisher record.
package history

import "encoding/json"

// Buffer is a fixed-capacity FIFO of published contents. A zero-capacity
// buffer retains nothing: Append is a no-op and Snapshot always returns
// an empty slice.
type Buffer struct {
	capacity int
	items    []json.RawMessage
}

// New creates a history buffer with the given capacity.
func New(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{capacity: capacity}
}

// Capacity returns the buffer's declared retention depth.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Append adds content to the buffer, evicting the oldest entry if the
// buffer is already at capacity. A capacity-0 buffer never grows.
func (b *Buffer) Append(content json.RawMessage) {
	if b.capacity == 0 {
		return
	}
	b.items = append(b.items, content)
	if over := len(b.items) - b.capacity; over > 0 {
		b.items = b.items[over:]
	}
}

// Snapshot returns a deep copy of the buffer's contents, oldest first, so
// that later appends never race with a recipient holding the snapshot.
func (b *Buffer) Snapshot() []json.RawMessage {
	out := make([]json.RawMessage, len(b.items))
	for i, item := range b.items {
		cp := make(json.RawMessage, len(item))
		copy(cp, item)
		out[i] = cp
	}
	return out
}

// Len reports the number of entries currently retained.
func (b *Buffer) Len() int {
	return len(b.items)
}
