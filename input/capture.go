// Package input turns raw key presses into a chat draft. Every change of the
// draft is reported as a typing preview and Enter commits it.
package input

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

const DefaultMaxLength = 50

const (
	KeyBackspace = "Backspace"
	KeyEnter     = "Enter"
	KeyEscape    = "Escape"
)

type State int

const (
	Idle State = iota
	Composing
)

func (s State) String() string {
	if s == Composing {
		return "composing"
	}
	return "idle"
}

// KeyEvent is a single key press as delivered by the host UI.
// TargetEditable is set when a native text field had the focus.
type KeyEvent struct {
	Key            string
	Ctrl           bool
	Meta           bool
	Alt            bool
	TargetEditable bool
}

func (e KeyEvent) printable() (rune, bool) {
	if e.Ctrl || e.Meta || e.Alt || utf8.RuneCountInString(e.Key) != 1 {
		return 0, false
	}
	r, _ := utf8.DecodeRuneInString(e.Key)
	return r, unicode.IsPrint(r)
}

type Capture struct {
	mu        sync.Mutex
	state     State
	buffer    []rune
	maxLength int
	onPreview func(string)
	onCommit  func(string)
}

func NewCapture(maxLength int, onPreview, onCommit func(string)) *Capture {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	if onPreview == nil {
		onPreview = func(string) {}
	}
	if onCommit == nil {
		onCommit = func(string) {}
	}
	return &Capture{maxLength: maxLength, onPreview: onPreview, onCommit: onCommit}
}

// Handle applies one key press and reports whether it was consumed.
// Callbacks run after the state change, outside the lock.
func (c *Capture) Handle(ev KeyEvent) bool {
	if ev.TargetEditable {
		return false
	}

	c.mu.Lock()
	preview, commit, consumed := c.transitionLocked(ev)
	c.mu.Unlock()

	if preview != nil {
		c.onPreview(*preview)
	}
	if commit != "" {
		c.onCommit(commit)
	}
	return consumed
}

func (c *Capture) transitionLocked(ev KeyEvent) (preview *string, commit string, consumed bool) {
	if r, ok := ev.printable(); ok {
		if c.state == Composing && len(c.buffer) >= c.maxLength {
			// Capped silently
			return nil, "", true
		}
		c.state = Composing
		c.buffer = append(c.buffer, r)
		text := string(c.buffer)
		return &text, "", true
	}

	if c.state != Composing {
		return nil, "", false
	}

	switch ev.Key {
	case KeyBackspace:
		if len(c.buffer) > 0 {
			c.buffer = c.buffer[:len(c.buffer)-1]
		}
		text := string(c.buffer)
		if len(c.buffer) == 0 {
			c.state = Idle
		}
		return &text, "", true
	case KeyEnter:
		trimmed := strings.TrimSpace(string(c.buffer))
		if trimmed == "" {
			return nil, "", false
		}
		c.reset()
		empty := ""
		return &empty, trimmed, true
	case KeyEscape:
		c.reset()
		empty := ""
		return &empty, "", true
	}
	return nil, "", false
}

func (c *Capture) reset() {
	c.state = Idle
	c.buffer = c.buffer[:0]
}

func (c *Capture) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Capture) Buffer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.buffer)
}
