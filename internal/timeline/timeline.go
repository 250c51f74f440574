// Package timeline owns the ordered message sequence of a conversation
// and its grouping by calendar day for display.
package timeline

import (
	"errors"
	"time"

	"github.com/NatanOuaki/realtime-chat-x-updev/internal/model"
)

// ErrAlreadySeeded reports a second Seed call on the same timeline.
var ErrAlreadySeeded = errors.New("timeline: already seeded")

// Timeline is the append-only message sequence. Entries keep their
// insertion order: the history backlog first, then live messages as they
// arrive. Messages are never removed or reordered, and the sequence is
// not re-sorted by timestamp. Deduplication by ID is left to the server.
type Timeline struct {
	seeded   bool
	messages []model.ChatMessage
}

// New returns an empty timeline.
func New() *Timeline {
	return &Timeline{}
}

// Seed bulk-loads the history backlog. It may be called at most once,
// before or after live appends have started; a second call fails and
// leaves the sequence untouched.
func (tl *Timeline) Seed(messages []model.ChatMessage) error {
	if tl.seeded {
		return ErrAlreadySeeded
	}
	tl.seeded = true

	// The backlog goes in front of any live messages that won the race.
	merged := make([]model.ChatMessage, 0, len(messages)+len(tl.messages))
	merged = append(merged, messages...)
	merged = append(merged, tl.messages...)
	tl.messages = merged
	return nil
}

// Append adds one live message to the end of the sequence.
func (tl *Timeline) Append(msg model.ChatMessage) {
	tl.messages = append(tl.messages, msg)
}

// Len reports the number of messages.
func (tl *Timeline) Len() int {
	return len(tl.messages)
}

// All returns a copy of the current sequence.
func (tl *Timeline) All() []model.ChatMessage {
	out := make([]model.ChatMessage, len(tl.messages))
	copy(out, tl.messages)
	return out
}

// DayGroup is a contiguous run of messages sharing a calendar day.
type DayGroup struct {
	Label    string
	Date     time.Time
	Messages []model.ChatMessage
}

// GroupedByDay walks the sequence once and starts a new group whenever a
// message's calendar date (in loc) differs from the previous one. The
// label compares the group's date against now: "Today", "Yesterday", or
// the full date. Pure function of the current sequence; no caching.
func (tl *Timeline) GroupedByDay(loc *time.Location, now time.Time) []DayGroup {
	var groups []DayGroup

	for _, msg := range tl.messages {
		day := msg.Timestamp.In(loc)
		if len(groups) == 0 || !sameDay(groups[len(groups)-1].Date, day) {
			groups = append(groups, DayGroup{
				Label: dayLabel(day, now.In(loc)),
				Date:  day,
			})
		}
		last := &groups[len(groups)-1]
		last.Messages = append(last.Messages, msg)
	}

	return groups
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func dayLabel(day, now time.Time) string {
	switch {
	case sameDay(day, now):
		return "Today"
	case sameDay(day, now.AddDate(0, 0, -1)):
		return "Yesterday"
	default:
		return day.Format("January 2, 2006")
	}
}
