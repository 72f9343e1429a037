// Package scanner turns the rapid synthetic keystrokes of a barcode
// scanning device into discrete tokens. A short debounce window
// distinguishes one scan burst from the next; an explicit terminator
// key flushes immediately.
package scanner

import (
	"strings"
	"time"
)

// DefaultWindow matches the burst timing of the hand scanners in use.
const DefaultWindow = 60 * time.Millisecond

// State of the debouncer.
type State int

const (
	Idle State = iota
	Accumulating
)

// Debouncer is a per-screen state machine. It is driven by timestamps
// rather than wall-clock timers so a synthetic timed character sequence
// exercises it fully.
type Debouncer struct {
	window   time.Duration
	state    State
	buf      strings.Builder
	deadline time.Time
}

// New creates a debouncer with the given window. A non-positive window
// falls back to DefaultWindow.
func New(window time.Duration) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Debouncer{window: window}
}

// State returns the current state.
func (d *Debouncer) CurrentState() State {
	return d.state
}

// Deadline returns the instant the pending buffer should be flushed.
// Only meaningful while accumulating.
func (d *Debouncer) Deadline() (time.Time, bool) {
	return d.deadline, d.state == Accumulating
}

// Feed consumes one character event. If a previous burst expired before
// this character arrived, its token is emitted first and the character
// starts a new buffer.
func (d *Debouncer) Feed(ch rune, now time.Time) (token string, emitted bool) {
	if d.state == Accumulating && now.After(d.deadline) {
		token, emitted = d.flush()
	}
	d.buf.WriteRune(ch)
	d.state = Accumulating
	d.deadline = now.Add(d.window)
	return token, emitted
}

// Terminate consumes an explicit terminator key, emitting the pending
// token immediately and cancelling the window.
func (d *Debouncer) Terminate(now time.Time) (string, bool) {
	return d.flush()
}

// Expire flushes the buffer if the debounce window has elapsed. Called
// when a window timer fires; a stale timer (superseded by a later Feed)
// is a no-op.
func (d *Debouncer) Expire(now time.Time) (string, bool) {
	if d.state != Accumulating || now.Before(d.deadline) {
		return "", false
	}
	return d.flush()
}

// flush emits the trimmed buffer and resets to Idle. An empty trimmed
// buffer emits nothing.
func (d *Debouncer) flush() (string, bool) {
	if d.state != Accumulating {
		return "", false
	}
	token := strings.TrimSpace(d.buf.String())
	d.buf.Reset()
	d.state = Idle
	d.deadline = time.Time{}
	if token == "" {
		return "", false
	}
	return token, true
}
