package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NatanOuaki/realtime-chat-x-updev/internal/conn"
	"github.com/NatanOuaki/realtime-chat-x-updev/internal/model"
	"github.com/NatanOuaki/realtime-chat-x-updev/internal/wire"
)

// fakeTransport captures outbound frames and lets tests inject inbound
// ones.
type fakeTransport struct {
	mu     sync.Mutex
	state  conn.State
	events chan []byte
	sent   [][]byte
}

func newFakeTransport(state conn.State) *fakeTransport {
	return &fakeTransport{
		state:  state,
		events: make(chan []byte, 16),
	}
}

func (f *fakeTransport) Send(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != conn.StateOpen {
		return conn.ErrNotReady
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeTransport) Events() <-chan []byte { return f.events }

func (f *fakeTransport) State() conn.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != conn.StateClosed {
		f.state = conn.StateClosed
		close(f.events)
	}
	return nil
}

func (f *fakeTransport) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

type historyFunc func(ctx context.Context) ([]model.ChatMessage, error)

func (fn historyFunc) RecentMessages(ctx context.Context) ([]model.ChatMessage, error) {
	return fn(ctx)
}

func testSession() model.Session {
	return model.Session{Username: "me", Token: "tok-123"}
}

func inboundMessage(t *testing.T, username, content string) []byte {
	t.Helper()
	raw, err := wire.EncodeMessageEvent(model.ChatMessage{
		ID:        uuid.New(),
		Username:  username,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)
	return raw
}

func inboundTyping(t *testing.T, username string) []byte {
	t.Helper()
	raw, err := wire.EncodeTypingEvent(username)
	require.NoError(t, err)
	return raw
}

func TestHistorySeedsTimeline(t *testing.T) {
	backlog := []model.ChatMessage{
		{ID: uuid.New(), Username: "alice", Content: "first", Timestamp: time.Now()},
		{ID: uuid.New(), Username: "bob", Content: "second", Timestamp: time.Now()},
	}

	tr := newFakeTransport(conn.StateOpen)
	e := New(testSession(), historyFunc(func(context.Context) ([]model.ChatMessage, error) {
		return backlog, nil
	}), tr)
	e.Start(testContext(t))
	defer e.Teardown()

	require.Eventually(t, func() bool {
		return len(e.Messages()) == 2
	}, 2*time.Second, 5*time.Millisecond)

	all := e.Messages()
	assert.Equal(t, backlog[0].ID, all[0].ID)
	assert.Equal(t, backlog[1].ID, all[1].ID)
}

func TestHistoryUnavailableIsRecoverable(t *testing.T) {
	tr := newFakeTransport(conn.StateOpen)
	e := New(testSession(), historyFunc(func(context.Context) ([]model.ChatMessage, error) {
		return nil, errors.New("backend down")
	}), tr)
	e.Start(testContext(t))
	defer e.Teardown()

	select {
	case n := <-e.Notices():
		assert.Equal(t, NoticeHistoryUnavailable, n.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a history notice")
	}

	// Live messages still flow after the failed fetch.
	tr.events <- inboundMessage(t, "alice", "still here")
	require.Eventually(t, func() bool {
		return len(e.Messages()) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestInboundRouting(t *testing.T) {
	tr := newFakeTransport(conn.StateOpen)
	e := New(testSession(), nil, tr)
	e.Start(testContext(t))
	defer e.Teardown()

	tr.events <- inboundMessage(t, "alice", "hello")
	tr.events <- inboundTyping(t, "alice")

	require.Eventually(t, func() bool {
		_, seen := e.TypingUser()
		return len(e.Messages()) == 1 && seen
	}, 2*time.Second, 5*time.Millisecond)

	who, _ := e.TypingUser()
	assert.Equal(t, "alice", who)
	assert.Equal(t, "hello", e.Messages()[0].Content)
}

func TestOwnTypingEchoSuppressed(t *testing.T) {
	tr := newFakeTransport(conn.StateOpen)
	e := New(testSession(), nil, tr)
	e.Start(testContext(t))
	defer e.Teardown()

	tr.events <- inboundTyping(t, "me")
	tr.events <- inboundMessage(t, "me", "marker")

	// The marker message proves both frames were consumed.
	require.Eventually(t, func() bool {
		return len(e.Messages()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, seen := e.TypingUser()
	assert.False(t, seen)
}

func TestUndecodableFramesDropped(t *testing.T) {
	tr := newFakeTransport(conn.StateOpen)
	e := New(testSession(), nil, tr)
	e.Start(testContext(t))
	defer e.Teardown()

	tr.events <- []byte(`{"event":"poke"}`)
	tr.events <- []byte(`not even json`)
	tr.events <- inboundMessage(t, "alice", "after garbage")

	require.Eventually(t, func() bool {
		return len(e.Messages()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// The connection stayed up the whole time.
	assert.Equal(t, conn.StateOpen, tr.State())
}

func TestSendMessageGating(t *testing.T) {
	tr := newFakeTransport(conn.StateOpen)
	e := New(testSession(), nil, tr)
	e.Start(testContext(t))
	defer e.Teardown()

	ctx := testContext(t)

	assert.ErrorIs(t, e.SendMessage(ctx, ""), ErrEmptyMessage)
	assert.ErrorIs(t, e.SendMessage(ctx, "   "), ErrEmptyMessage)
	assert.Empty(t, tr.sentFrames())

	require.NoError(t, e.SendMessage(ctx, "hi"))

	frames := tr.sentFrames()
	require.Len(t, frames, 1)

	var f wire.ClientFrame
	require.NoError(t, json.Unmarshal(frames[0], &f))
	assert.Equal(t, wire.EventMessage, f.Event)
	assert.Equal(t, "tok-123", f.Token)
	assert.Equal(t, "hi", f.Content)
}

func TestSendMessageNotReadyWhenClosed(t *testing.T) {
	tr := newFakeTransport(conn.StateClosed)
	e := New(testSession(), nil, tr)

	err := e.SendMessage(testContext(t), "hi")
	assert.ErrorIs(t, err, conn.ErrNotReady)
	assert.Empty(t, tr.sentFrames())
}

func TestNoLocalEchoOnSend(t *testing.T) {
	tr := newFakeTransport(conn.StateOpen)
	e := New(testSession(), nil, tr)
	e.Start(testContext(t))
	defer e.Teardown()

	require.NoError(t, e.SendMessage(testContext(t), "hello"))

	// Exactly one outbound frame, zero immediate timeline growth.
	assert.Len(t, tr.sentFrames(), 1)
	assert.Empty(t, e.Messages())

	// Only the server echo appends it.
	tr.events <- inboundMessage(t, "me", "hello")
	require.Eventually(t, func() bool {
		return len(e.Messages()) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSendTyping(t *testing.T) {
	tr := newFakeTransport(conn.StateOpen)
	e := New(testSession(), nil, tr)

	require.NoError(t, e.SendTyping(testContext(t)))

	frames := tr.sentFrames()
	require.Len(t, frames, 1)

	var f wire.ClientFrame
	require.NoError(t, json.Unmarshal(frames[0], &f))
	assert.Equal(t, wire.EventTyping, f.Event)
	assert.Equal(t, "tok-123", f.Token)
	assert.Empty(t, f.Content)

	tr.Close()
	assert.ErrorIs(t, e.SendTyping(testContext(t)), conn.ErrNotReady)
}

func TestTeardownDiscardsLateHistory(t *testing.T) {
	release := make(chan struct{})
	tr := newFakeTransport(conn.StateOpen)
	e := New(testSession(), historyFunc(func(context.Context) ([]model.ChatMessage, error) {
		<-release
		return []model.ChatMessage{
			{ID: uuid.New(), Username: "alice", Content: "late", Timestamp: time.Now()},
		}, nil
	}), tr)
	e.Start(testContext(t))

	e.Teardown()
	close(release)

	select {
	case <-e.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not exit after teardown")
	}
	assert.Empty(t, e.Messages())
}

func TestConnectionClosedNotice(t *testing.T) {
	tr := newFakeTransport(conn.StateOpen)
	e := New(testSession(), nil, tr)
	e.Start(testContext(t))

	// Remote termination, not a deliberate teardown.
	tr.Close()

	select {
	case n := <-e.Notices():
		assert.Equal(t, NoticeConnectionClosed, n.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a connection closed notice")
	}
}

// testContext is a stand-in for t.Context(), which requires Go 1.24+.
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
