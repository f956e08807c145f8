package projection

import (
	"cursor-chat/clock"
	"cursor-chat/domain"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

const DefaultVisibilityWindow = 3 * time.Second

type scheduledEntry struct {
	entry domain.TransientDisplayEntry
	// token identifies the Show call that owns the entry and its timer.
	token uint64
	timer *clock.Timer
}

// TransientScheduler keeps at most one visible bubble per sender.
// A newer message replaces the bubble and restarts its window; an expiry
// check only removes the entry that scheduled it.
type TransientScheduler struct {
	mu        sync.Mutex
	clock     clock.Clock
	window    time.Duration
	entries   map[string]*scheduledEntry
	next      uint64
	listeners []func()
	closed    bool
}

func NewTransientScheduler(clk clock.Clock, window time.Duration) *TransientScheduler {
	if window <= 0 {
		window = DefaultVisibilityWindow
	}
	return &TransientScheduler{
		clock:   clk,
		window:  window,
		entries: make(map[string]*scheduledEntry),
	}
}

// OnChange registers fn, called after an entry appears, expires or is retracted.
func (s *TransientScheduler) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Show displays msg for its sender, superseding any live entry.
func (s *TransientScheduler) Show(msg domain.ChatMessage) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	now := s.clock.Now()
	s.next++
	token := s.next
	if previous, ok := s.entries[msg.SenderID]; ok {
		previous.timer.Stop()
	}
	scheduled := &scheduledEntry{
		entry: domain.TransientDisplayEntry{
			SenderID:  msg.SenderID,
			MessageID: msg.ID,
			Text:      msg.Text,
			ShownAt:   now,
			ExpiresAt: now.Add(s.window),
		},
		token: token,
	}
	scheduled.timer = s.clock.AfterFunc(s.window, func() { s.expire(msg.SenderID, token) })
	s.entries[msg.SenderID] = scheduled
	s.mu.Unlock()

	s.notify()
}

func (s *TransientScheduler) expire(senderID string, token uint64) {
	s.mu.Lock()
	current, ok := s.entries[senderID]
	if !ok || current.token != token {
		s.mu.Unlock()
		return
	}
	delete(s.entries, senderID)
	s.mu.Unlock()

	s.notify()
}

// Retract removes the entry of msg if it is still the one shown for its
// sender. A newer bubble of the same sender is left alone.
func (s *TransientScheduler) Retract(msg domain.ChatMessage) {
	s.mu.Lock()
	current, ok := s.entries[msg.SenderID]
	if !ok || current.entry.MessageID != msg.ID {
		s.mu.Unlock()
		return
	}
	current.timer.Stop()
	delete(s.entries, msg.SenderID)
	s.mu.Unlock()

	s.notify()
}

// Visible returns the live entries keyed by sender.
func (s *TransientScheduler) Visible() map[string]domain.TransientDisplayEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.MapValues(s.entries, func(e *scheduledEntry, _ string) domain.TransientDisplayEntry {
		return e.entry
	})
}

// Entry returns the live entry of one sender.
func (s *TransientScheduler) Entry(senderID string) (domain.TransientDisplayEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[senderID]
	if !ok {
		return domain.TransientDisplayEntry{}, false
	}
	return e.entry, true
}

// IsShowing reports whether messageID is the live entry of its sender.
func (s *TransientScheduler) IsShowing(senderID string, messageID uuid.UUID) bool {
	e, ok := s.Entry(senderID)
	return ok && e.MessageID == messageID
}

// Close cancels every pending expiry and clears the entries.
func (s *TransientScheduler) Close() {
	s.mu.Lock()
	for _, e := range s.entries {
		e.timer.Stop()
	}
	s.entries = make(map[string]*scheduledEntry)
	s.closed = true
	s.mu.Unlock()
}

func (s *TransientScheduler) notify() {
	s.mu.Lock()
	listeners := append([]func(){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}
