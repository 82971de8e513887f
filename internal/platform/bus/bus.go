// Package bus is the session-scoped publish/subscribe channel that connects
// isolated surfaces and the host page.
//
// Every participant joins a Hub with the form's session token and gets an
// Endpoint. An Endpoint owns exactly one event-loop goroutine: all handlers
// registered on it, reply callbacks addressed to it and work scheduled with
// Post or Do run there one at a time. Payloads cross endpoints JSON-encoded,
// so participants never share memory.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Overland-East-Bay/hosted-fields/internal/domain"
	"github.com/Overland-East-Bay/hosted-fields/internal/platform/logging"
)

var (
	// ErrClosed indicates the endpoint has left the bus.
	ErrClosed = errors.New("bus endpoint closed")

	// ErrNoReply indicates a request was not answered before its context ended.
	ErrNoReply = errors.New("bus request not answered")
)

// Message is one delivered emission (or reply).
type Message struct {
	Event   string
	Origin  string
	Payload json.RawMessage
}

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 || string(m.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Event, err)
	}
	return nil
}

// Reply answers a request. Only the first call across all receivers is delivered.
type Reply func(payload any)

// Handler receives a message on the subscribing endpoint's loop.
// reply is never nil; for plain emissions it discards its argument.
type Handler func(msg Message, reply Reply)

// Hub routes messages between endpoints that share a session token.
// It is safe for concurrent use.
type Hub struct {
	log *zap.Logger

	mu       sync.Mutex
	sessions map[domain.SessionToken][]*Endpoint
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log:      logging.OrNop(log),
		sessions: make(map[domain.SessionToken][]*Endpoint),
	}
}

// Join attaches a new endpoint named name to the session's channel and starts its loop.
func (h *Hub) Join(token domain.SessionToken, name string) *Endpoint {
	ep := &Endpoint{
		hub:      h,
		token:    token,
		name:     name,
		log:      h.log.With(zap.String("session", string(token)), zap.String("endpoint", name)),
		handlers: make(map[string][]Handler),
		wake:     make(chan struct{}, 1),
		stopped:  make(chan struct{}),
	}
	h.mu.Lock()
	h.sessions[token] = append(h.sessions[token], ep)
	h.mu.Unlock()

	go ep.loop()
	return ep
}

// Members returns the names of endpoints currently joined to token.
func (h *Hub) Members(token domain.SessionToken) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	eps := h.sessions[token]
	out := make([]string, 0, len(eps))
	for _, ep := range eps {
		out = append(out, ep.name)
	}
	return out
}

func (h *Hub) peers(self *Endpoint) []*Endpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	eps := h.sessions[self.token]
	out := make([]*Endpoint, 0, len(eps))
	for _, ep := range eps {
		if ep != self {
			out = append(out, ep)
		}
	}
	return out
}

func (h *Hub) leave(self *Endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	eps := h.sessions[self.token]
	for i, ep := range eps {
		if ep == self {
			eps = append(eps[:i], eps[i+1:]...)
			break
		}
	}
	if len(eps) == 0 {
		delete(h.sessions, self.token)
		return
	}
	h.sessions[self.token] = eps
}

// Endpoint is one participant's view of the bus.
type Endpoint struct {
	hub   *Hub
	token domain.SessionToken
	name  string
	log   *zap.Logger

	mu       sync.Mutex
	handlers map[string][]Handler
	queue    []func()
	closed   bool

	wake    chan struct{}
	stopped chan struct{}
}

func (e *Endpoint) Name() string { return e.name }
func (e *Endpoint) Token() domain.SessionToken { return e.token }

// On subscribes h to event. Handlers for the same event run in registration order.
func (e *Endpoint) On(event string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[event] = append(e.handlers[event], h)
}

// Emit publishes payload to every other endpoint in the session.
func (e *Endpoint) Emit(event string, payload any) error {
	return e.publish(event, payload, func(any) {})
}

// EmitWithReply publishes payload and schedules cb on this endpoint's loop when
// the first receiver replies. cb never runs if nobody replies.
func (e *Endpoint) EmitWithReply(event string, payload any, cb func(Message)) error {
	reply := e.newReply(event, func(m Message) {
		if !e.post(func() { cb(m) }) {
			e.log.Debug("reply dropped after close", zap.String("event", event))
		}
	})
	return e.publish(event, payload, reply)
}

// Request publishes payload and blocks until the first reply or until ctx ends.
// It must not be called from this endpoint's own loop.
func (e *Endpoint) Request(ctx context.Context, event string, payload any) (Message, error) {
	ch := make(chan Message, 1)
	reply := e.newReply(event, func(m Message) { ch <- m })
	if err := e.publish(event, payload, reply); err != nil {
		return Message{}, err
	}
	select {
	case m := <-ch:
		return m, nil
	case <-e.stopped:
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, fmt.Errorf("%w: %s: %v", ErrNoReply, event, ctx.Err())
	}
}

// Post schedules fn on this endpoint's loop.
func (e *Endpoint) Post(fn func()) error {
	if !e.post(fn) {
		return ErrClosed
	}
	return nil
}

// Do runs fn on this endpoint's loop and waits for it to finish.
// It must not be called from this endpoint's own loop.
func (e *Endpoint) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !e.post(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-e.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close leaves the bus. Pending work is discarded.
func (e *Endpoint) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.queue = nil
	e.mu.Unlock()

	e.hub.leave(e)
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Stopped is closed when the loop has exited.
func (e *Endpoint) Stopped() <-chan struct{} { return e.stopped }

func (e *Endpoint) publish(event string, payload any, reply Reply) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}

	raw, err := encode(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}
	for _, peer := range e.hub.peers(e) {
		msg := Message{
			Event:   event,
			Origin:  e.name,
			Payload: append(json.RawMessage(nil), raw...),
		}
		peer.dispatch(msg, reply)
	}
	return nil
}

func (e *Endpoint) dispatch(msg Message, reply Reply) {
	e.post(func() {
		e.mu.Lock()
		hs := append([]Handler(nil), e.handlers[msg.Event]...)
		e.mu.Unlock()
		for _, h := range hs {
			e.invoke(msg, reply, h)
		}
	})
}

func (e *Endpoint) invoke(msg Message, reply Reply, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("bus handler panicked", zap.String("event", msg.Event), zap.Any("panic", r))
		}
	}()
	h(msg, reply)
}

func (e *Endpoint) newReply(event string, deliver func(Message)) Reply {
	var once sync.Once
	return func(payload any) {
		fired := false
		once.Do(func() {
			fired = true
			raw, err := encode(payload)
			if err != nil {
				e.log.Error("reply encode failed", zap.String("event", event), zap.Error(err))
				raw = nil
			}
			deliver(Message{Event: event, Origin: e.name, Payload: raw})
		})
		if !fired {
			e.log.Warn("duplicate reply dropped", zap.String("event", event))
		}
	}
}

func (e *Endpoint) post(fn func()) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.queue = append(e.queue, fn)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
	return true
}

func (e *Endpoint) loop() {
	defer close(e.stopped)
	for {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return
		}
		if len(e.queue) == 0 {
			e.mu.Unlock()
			<-e.wake
			continue
		}
		fn := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()

		e.run(fn)
	}
}

func (e *Endpoint) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("bus task panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

func encode(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(payload)
}
