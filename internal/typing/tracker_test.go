package typing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrackerExpiry(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	tr := NewTracker("me")

	tr.Notify("alice", t0)

	tests := []struct {
		name     string
		at       time.Time
		want     string
		wantSeen bool
	}{
		{"immediately", t0, "alice", true},
		{"just before deadline", t0.Add(TTL - time.Millisecond), "alice", true},
		{"at deadline", t0.Add(TTL), "", false},
		{"after deadline", t0.Add(5 * time.Second), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, seen := tr.Current(tt.at)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantSeen, seen)
		})
	}
}

func TestTrackerExpiryClearsState(t *testing.T) {
	t0 := time.Now()
	tr := NewTracker("me")

	tr.Notify("alice", t0)

	// Reading past the deadline clears the state; an earlier clock
	// afterwards must not resurrect it.
	_, seen := tr.Current(t0.Add(2 * time.Second))
	assert.False(t, seen)

	_, seen = tr.Current(t0)
	assert.False(t, seen)
}

func TestTrackerSelfSuppressed(t *testing.T) {
	t0 := time.Now()
	tr := NewTracker("me")

	tr.Notify("me", t0)
	_, seen := tr.Current(t0)
	assert.False(t, seen)

	// Self notices must not extend or overwrite someone else's notice.
	tr.Notify("alice", t0)
	tr.Notify("me", t0.Add(time.Second))

	got, seen := tr.Current(t0.Add(time.Second))
	assert.True(t, seen)
	assert.Equal(t, "alice", got)
}

func TestTrackerSingleTyper(t *testing.T) {
	t0 := time.Now()
	tr := NewTracker("me")

	tr.Notify("alice", t0)
	tr.Notify("bob", t0.Add(100*time.Millisecond))

	got, seen := tr.Current(t0.Add(200 * time.Millisecond))
	assert.True(t, seen)
	assert.Equal(t, "bob", got)
}

func TestTrackerRepeatNoticeExtends(t *testing.T) {
	t0 := time.Now()
	tr := NewTracker("me")

	tr.Notify("alice", t0)
	tr.Notify("alice", t0.Add(time.Second))

	got, seen := tr.Current(t0.Add(2 * time.Second))
	assert.True(t, seen)
	assert.Equal(t, "alice", got)
}
