// Package projection builds local views from observed chat events.
// Handles bounded history and per-sender display windows.
// Does not emit events or interact with the transport directly.
package projection

import (
	"cursor-chat/domain"
	"sync"

	"github.com/google/uuid"
)

const DefaultHistoryCapacity = 100

// Timeline is a bounded recent-history buffer in receipt order.
// Once full, each append evicts the oldest message.
type Timeline struct {
	mu       sync.Mutex
	messages []domain.ChatMessage
	head     int
	size     int
}

func NewTimeline(capacity int) *Timeline {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &Timeline{messages: make([]domain.ChatMessage, capacity)}
}

func (t *Timeline) Append(msg domain.ChatMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	capacity := len(t.messages)
	t.messages[(t.head+t.size)%capacity] = msg
	if t.size < capacity {
		t.size++
		return
	}
	t.head = (t.head + 1) % capacity
}

// Remove drops the most recent message with id, if still buffered.
func (t *Timeline) Remove(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	ordered := t.orderedLocked()
	for i := len(ordered) - 1; i >= 0; i-- {
		if ordered[i].ID == id {
			ordered = append(ordered[:i], ordered[i+1:]...)
			t.resetLocked(ordered)
			return true
		}
	}
	return false
}

// Messages returns the buffered messages, oldest first.
func (t *Timeline) Messages() []domain.ChatMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.orderedLocked()
}

func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

func (t *Timeline) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked(nil)
}

func (t *Timeline) orderedLocked() []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, t.size)
	for i := 0; i < t.size; i++ {
		out = append(out, t.messages[(t.head+i)%len(t.messages)])
	}
	return out
}

func (t *Timeline) resetLocked(ordered []domain.ChatMessage) {
	clear(t.messages)
	copy(t.messages, ordered)
	t.head = 0
	t.size = len(ordered)
}
