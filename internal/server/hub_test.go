package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NatanOuaki/realtime-chat-x-updev/internal/model"
	"github.com/NatanOuaki/realtime-chat-x-updev/internal/wire"
)

// fakeStore assigns ids and timestamps the way the database would.
type fakeStore struct {
	mu    sync.Mutex
	saved []model.ChatMessage
}

func (f *fakeStore) SaveMessage(_ context.Context, username, content string) (model.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := model.ChatMessage{
		ID:        uuid.New(),
		Username:  username,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	f.saved = append(f.saved, msg)
	return msg, nil
}

func (f *fakeStore) savedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

func registerClient(t *testing.T, hub *Hub) *Client {
	t.Helper()
	c := &Client{send: make(chan []byte, 8)}
	reg := Registration{Client: c, Done: make(chan struct{})}
	hub.Register <- reg
	<-reg.Done
	return c
}

func recvEvent(t *testing.T, c *Client) wire.Event {
	t.Helper()
	select {
	case frame := <-c.send:
		ev, err := wire.Decode(frame)
		require.NoError(t, err)
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
		return nil
	}
}

func TestHubBroadcastsStoredMessage(t *testing.T) {
	db := &fakeStore{}
	hub := NewHub(db, nil)

	ctx, cancel := context.WithCancel(testContext(t))
	defer cancel()
	go hub.Run(ctx)

	alice := registerClient(t, hub)
	bob := registerClient(t, hub)

	hub.ClientMsg <- InboundMessage{Username: "alice", Content: "hello"}

	for _, c := range []*Client{alice, bob} {
		ev := recvEvent(t, c)
		msg, ok := ev.(wire.MessageEvent)
		require.True(t, ok)
		assert.Equal(t, "alice", msg.Message.Username)
		assert.Equal(t, "hello", msg.Message.Content)
		assert.NotEqual(t, uuid.Nil, msg.Message.ID)
	}
	assert.Equal(t, 1, db.savedCount())
}

func TestHubSanitizesContent(t *testing.T) {
	db := &fakeStore{}
	hub := NewHub(db, nil)

	ctx, cancel := context.WithCancel(testContext(t))
	defer cancel()
	go hub.Run(ctx)

	c := registerClient(t, hub)

	hub.ClientMsg <- InboundMessage{Username: "mallory", Content: `hi<script>alert(1)</script>`}

	ev := recvEvent(t, c)
	msg, ok := ev.(wire.MessageEvent)
	require.True(t, ok)
	assert.Equal(t, "hi", msg.Message.Content)
}

func TestHubDropsBlankAfterSanitize(t *testing.T) {
	db := &fakeStore{}
	hub := NewHub(db, nil)

	ctx, cancel := context.WithCancel(testContext(t))
	defer cancel()
	go hub.Run(ctx)

	c := registerClient(t, hub)

	// Nothing but markup; sanitizing leaves an empty message.
	hub.ClientMsg <- InboundMessage{Username: "mallory", Content: `<script>alert(1)</script>`}
	hub.ClientMsg <- InboundMessage{Username: "alice", Content: "marker"}

	ev := recvEvent(t, c)
	msg, ok := ev.(wire.MessageEvent)
	require.True(t, ok)
	assert.Equal(t, "marker", msg.Message.Content)
	assert.Equal(t, 1, db.savedCount())
}

func TestHubTypingNotStored(t *testing.T) {
	db := &fakeStore{}
	hub := NewHub(db, nil)

	ctx, cancel := context.WithCancel(testContext(t))
	defer cancel()
	go hub.Run(ctx)

	c := registerClient(t, hub)

	hub.TypingMsg <- "alice"

	ev := recvEvent(t, c)
	typ, ok := ev.(wire.TypingEvent)
	require.True(t, ok)
	assert.Equal(t, "alice", typ.Username)
	assert.Equal(t, 0, db.savedCount())
}

func TestHubPublishesInsteadOfLoopback(t *testing.T) {
	db := &fakeStore{}
	published := make(chan model.ChatMessage, 1)
	hub := NewHub(db, func(_ context.Context, msg model.ChatMessage) error {
		published <- msg
		return nil
	})

	ctx, cancel := context.WithCancel(testContext(t))
	defer cancel()
	go hub.Run(ctx)

	c := registerClient(t, hub)

	hub.ClientMsg <- InboundMessage{Username: "alice", Content: "via broker"}

	var stored model.ChatMessage
	select {
	case stored = <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("message was not published")
	}

	// Nothing reaches clients until the broker delivers it back.
	select {
	case <-c.send:
		t.Fatal("hub broadcast directly despite a publisher")
	case <-time.After(100 * time.Millisecond):
	}

	hub.BrokerMsg <- stored

	ev := recvEvent(t, c)
	msg, ok := ev.(wire.MessageEvent)
	require.True(t, ok)
	assert.Equal(t, stored.ID, msg.Message.ID)
}

func TestHubUnregisterClosesSend(t *testing.T) {
	db := &fakeStore{}
	hub := NewHub(db, nil)

	ctx, cancel := context.WithCancel(testContext(t))
	defer cancel()
	go hub.Run(ctx)

	c := registerClient(t, hub)
	hub.Unregister <- c

	select {
	case _, ok := <-c.send:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("send channel not closed on unregister")
	}
}

// testContext is a stand-in for t.Context(), which requires Go 1.24+.
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
