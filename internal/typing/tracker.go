// Package typing tracks the transient "who is typing" state of the
// conversation.
package typing

import "time"

// TTL is how long a typing notice stays visible without a newer one.
const TTL = 1500 * time.Millisecond

// Tracker keeps at most one active typer at a time. A newer notice from
// a different user overwrites the previous one; repeated notices from
// the same user push the deadline forward. Expiry is a pure function of
// the supplied clock, so there are no timers to cancel.
type Tracker struct {
	self      string
	active    string
	expiresAt time.Time
}

// NewTracker returns a tracker that suppresses notices from self. A
// user's own keystrokes echo back from the server and must not show up
// as a typing indicator for themselves.
func NewTracker(self string) *Tracker {
	return &Tracker{self: self}
}

// Notify records that username is typing as of now.
func (t *Tracker) Notify(username string, now time.Time) {
	if username == t.self {
		return
	}
	t.active = username
	t.expiresAt = now.Add(TTL)
}

// Current returns the active typer, if the notice has not expired. An
// expired notice clears the state.
func (t *Tracker) Current(now time.Time) (string, bool) {
	if t.active == "" {
		return "", false
	}
	if !now.Before(t.expiresAt) {
		t.active = ""
		t.expiresAt = time.Time{}
		return "", false
	}
	return t.active, true
}
