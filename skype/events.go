package skype

import (
	"context"
	"encoding/json"
	"sync"
)

//go:generate mockgen -source=events.go -destination=mock_events_test.go -package=skype

// Event is a domain event handed to the EventDispatcher.
type Event interface {
	// EventType names the event variant, e.g. "chat_joined".
	EventType() string
}

// ChatJoinedEvent is dispatched once the first time a thread update
// names a chat this session has not seen.
type ChatJoinedEvent struct {
	Chat *Chat
}

func (ChatJoinedEvent) EventType() string { return "chat_joined" }

// DisconnectedEvent is dispatched when a poll or keepalive request
// fails. Only a poll failure ends the session; check Session.Live to
// tell them apart.
type DisconnectedEvent struct {
	Cause error
}

func (DisconnectedEvent) EventType() string { return "disconnected" }

// EventDispatcher receives every domain event the session produces.
// Dispatch is called from dispatch workers and the session loops
// concurrently and must be safe for concurrent use.
type EventDispatcher interface {
	Dispatch(event Event)
}

// MessageHandler interprets the resource of one NewMessage envelope.
// Handlers typically build their own Event values and hand them to
// s.Dispatcher().
type MessageHandler interface {
	HandleMessage(ctx context.Context, s *Session, resource json.RawMessage) error
}

// MessageHandlerFunc adapts a function to MessageHandler.
type MessageHandlerFunc func(ctx context.Context, s *Session, resource json.RawMessage) error

func (f MessageHandlerFunc) HandleMessage(ctx context.Context, s *Session, resource json.RawMessage) error {
	return f(ctx, s, resource)
}

// MessageHandlers resolves a protocol message type (the "messagetype"
// field, e.g. "RichText") to its handler.
type MessageHandlers interface {
	Handler(messageType string) (MessageHandler, bool)
}

// HandlerRegistry is a MessageHandlers backed by a map. It must not be
// modified once the session is logged in.
type HandlerRegistry map[string]MessageHandler

func (r HandlerRegistry) Handler(messageType string) (MessageHandler, bool) {
	h, ok := r[messageType]
	return h, ok
}

// Listeners is an in-process EventDispatcher that calls every
// registered listener synchronously, in registration order.
type Listeners struct {
	mu        sync.RWMutex
	listeners []func(Event)
}

// NewListeners creates an empty listener set.
func NewListeners() *Listeners {
	return &Listeners{}
}

// Listen registers fn to receive every event.
func (l *Listeners) Listen(fn func(Event)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.listeners = append(l.listeners, fn)
}

func (l *Listeners) Dispatch(event Event) {
	l.mu.RLock()
	fns := l.listeners
	l.mu.RUnlock()

	for _, fn := range fns {
		fn(event)
	}
}

// discard drops every event. Used when no dispatcher is configured.
type discard struct{}

func (discard) Dispatch(Event) {}
