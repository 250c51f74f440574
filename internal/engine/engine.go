// Package engine reconciles the one-shot history fetch with the live
// event stream and exposes a render-ready view of the conversation.
package engine

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/NatanOuaki/realtime-chat-x-updev/internal/conn"
	"github.com/NatanOuaki/realtime-chat-x-updev/internal/model"
	"github.com/NatanOuaki/realtime-chat-x-updev/internal/timeline"
	"github.com/NatanOuaki/realtime-chat-x-updev/internal/typing"
	"github.com/NatanOuaki/realtime-chat-x-updev/internal/wire"
)

// A stalled backlog fetch must not hold the conversation hostage.
const historyTimeout = 10 * time.Second

// ErrEmptyMessage reports a send attempt with blank content. No frame
// goes out for these.
var ErrEmptyMessage = errors.New("engine: empty message")

// Transport is the live connection surface the engine drives.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Events() <-chan []byte
	State() conn.State
	Close() error
}

// HistoryFetcher loads the message backlog once at conversation start.
type HistoryFetcher interface {
	RecentMessages(ctx context.Context) ([]model.ChatMessage, error)
}

// NoticeKind classifies non-fatal conditions surfaced to the
// presentation layer.
type NoticeKind int

const (
	// NoticeHistoryUnavailable means the backlog fetch failed; the
	// conversation continues live-only.
	NoticeHistoryUnavailable NoticeKind = iota
	// NoticeConnectionClosed means the transport terminated. Terminal
	// for this engine; re-entering the conversation dials a new one.
	NoticeConnectionClosed
)

// Notice is an inline, non-fatal condition for the UI to display.
type Notice struct {
	Kind NoticeKind
	Err  error
}

type historyResult struct {
	messages []model.ChatMessage
	err      error
}

// Engine owns all mutable conversation state. Mutations happen only on
// the run loop; the mutex exists because the presentation layer reads
// snapshots from its own goroutine.
type Engine struct {
	session   model.Session
	history   HistoryFetcher
	transport Transport

	mu       sync.Mutex
	timeline *timeline.Timeline
	tracker  *typing.Tracker
	torn     bool

	now     func() time.Time
	notices chan Notice
	updates chan struct{}
	done    chan struct{}
}

// New wires an engine for one conversation view. The session is
// supplied externally and never persisted here.
func New(session model.Session, history HistoryFetcher, transport Transport) *Engine {
	return &Engine{
		session:   session,
		history:   history,
		transport: transport,
		timeline:  timeline.New(),
		tracker:   typing.NewTracker(session.Username),
		now:       time.Now,
		notices:   make(chan Notice, 8),
		updates:   make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Start issues the history fetch and begins consuming transport events.
func (e *Engine) Start(ctx context.Context) {
	historyCh := make(chan historyResult, 1)
	if e.history != nil {
		go func() {
			fetchCtx, cancel := context.WithTimeout(ctx, historyTimeout)
			defer cancel()

			messages, err := e.history.RecentMessages(fetchCtx)
			historyCh <- historyResult{messages: messages, err: err}
		}()
	}
	go e.run(ctx, historyCh)
}

func (e *Engine) run(ctx context.Context, historyCh chan historyResult) {
	defer close(e.done)

	events := e.transport.Events()
	for {
		select {
		case res := <-historyCh:
			historyCh = nil // one-shot
			e.applyHistory(res)

		case data, ok := <-events:
			if !ok {
				e.connectionClosed()
				return
			}
			e.route(data)

		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) applyHistory(res historyResult) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// A fetch resolving after teardown must not touch the timeline.
	if e.torn {
		return
	}

	if res.err != nil {
		log.Printf("history fetch failed: %v", res.err)
		e.pushNotice(Notice{Kind: NoticeHistoryUnavailable, Err: res.err})
		return
	}

	if err := e.timeline.Seed(res.messages); err != nil {
		log.Printf("history seed rejected: %v", err)
		return
	}
	e.signalUpdate()
}

func (e *Engine) route(data []byte) {
	ev, err := wire.Decode(data)
	if err != nil {
		// Malformed frames are dropped; the connection stays up.
		log.Printf("dropping undecodable frame: %v", err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.torn {
		return
	}

	switch ev := ev.(type) {
	case wire.MessageEvent:
		e.timeline.Append(ev.Message)
	case wire.TypingEvent:
		e.tracker.Notify(ev.Username, e.now())
	}
	e.signalUpdate()
}

func (e *Engine) connectionClosed() {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Deliberate teardown is not worth a notice.
	if e.torn {
		return
	}
	e.pushNotice(Notice{Kind: NoticeConnectionClosed})
	e.signalUpdate()
}

// SendMessage transmits a chat message. Blank content is rejected
// locally without a network round trip. Transmission is fire-and-forget
// and the message is not appended locally; it enters the timeline only
// when the server echoes it back.
func (e *Engine) SendMessage(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}
	if e.transport.State() != conn.StateOpen {
		return conn.ErrNotReady
	}

	frame, err := wire.EncodeSend(e.session.Token, content)
	if err != nil {
		return err
	}
	if err := e.transport.Send(ctx, frame); err != nil {
		if errors.Is(err, conn.ErrNotReady) {
			return err
		}
		log.Printf("message send failed: %v", err)
	}
	return nil
}

// SendTyping signals that the local user is composing a message. No
// throttling here; the receiving side expires notices on its own.
func (e *Engine) SendTyping(ctx context.Context) error {
	if e.transport.State() != conn.StateOpen {
		return conn.ErrNotReady
	}

	frame, err := wire.EncodeTypingSignal(e.session.Token)
	if err != nil {
		return err
	}
	return e.transport.Send(ctx, frame)
}

// Teardown closes the live connection and marks the engine so that any
// in-flight history result is discarded.
func (e *Engine) Teardown() {
	e.mu.Lock()
	e.torn = true
	e.mu.Unlock()

	if err := e.transport.Close(); err != nil {
		log.Printf("transport close failed: %v", err)
	}
}

// Session returns the identity this engine was started with.
func (e *Engine) Session() model.Session {
	return e.session
}

// Messages returns a snapshot of the full ordered sequence.
func (e *Engine) Messages() []model.ChatMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timeline.All()
}

// DayGroups returns the conversation partitioned by calendar day in loc.
func (e *Engine) DayGroups(loc *time.Location) []timeline.DayGroup {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timeline.GroupedByDay(loc, e.now())
}

// TypingUser returns who is typing right now, if anyone.
func (e *Engine) TypingUser() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracker.Current(e.now())
}

// Notices delivers non-fatal conditions for inline display.
func (e *Engine) Notices() <-chan Notice {
	return e.notices
}

// Updates is a coalescing redraw signal for the presentation layer.
func (e *Engine) Updates() <-chan struct{} {
	return e.updates
}

// Done is closed when the run loop has exited.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// callers hold e.mu
func (e *Engine) signalUpdate() {
	select {
	case e.updates <- struct{}{}:
	default:
	}
}

func (e *Engine) pushNotice(n Notice) {
	select {
	case e.notices <- n:
	default:
		log.Printf("notice dropped: kind=%d err=%v", n.Kind, n.Err)
	}
}
