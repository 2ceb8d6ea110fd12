package skype

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"
)

// ResourceType classifies an event envelope.
type ResourceType int

const (
	ResourceUnknown ResourceType = iota
	ResourceNewMessage
	ResourceEndpointPresence
	ResourceUserPresence
	ResourceConversationUpdate
	ResourceThreadUpdate
)

var resourceTypeNames = map[ResourceType]string{
	ResourceNewMessage:         "NewMessage",
	ResourceEndpointPresence:   "EndpointPresence",
	ResourceUserPresence:       "UserPresence",
	ResourceConversationUpdate: "ConversationUpdate",
	ResourceThreadUpdate:       "ThreadUpdate",
}

// ParseResourceType maps the wire tag to its variant, ignoring case.
// Tags this client does not know map to ResourceUnknown.
func ParseResourceType(tag string) ResourceType {
	for rt, name := range resourceTypeNames {
		if strings.EqualFold(tag, name) {
			return rt
		}
	}

	return ResourceUnknown
}

func (rt ResourceType) String() string {
	if name, ok := resourceTypeNames[rt]; ok {
		return name
	}

	return "Unknown"
}

// dispatchBatch handles every envelope of one poll batch in order. A
// failing envelope is logged with its payload and skipped.
func (s *Session) dispatchBatch(ctx context.Context, batch []EventEnvelope) {
	for i := range batch {
		if ctx.Err() != nil {
			return
		}

		env := &batch[i]
		if err := s.dispatchEnvelope(ctx, env); err != nil {
			s.logger.Error("handling event",
				slog.String("resource_type", env.ResourceType),
				slog.String("event_id", string(env.ID)),
				slog.String("error", err.Error()),
				slog.String("payload", sanitizeResponseBody(env.Resource)),
			)
		}
	}
}

func (s *Session) dispatchEnvelope(ctx context.Context, env *EventEnvelope) error {
	switch ParseResourceType(env.ResourceType) {
	case ResourceNewMessage:
		return s.handleNewMessage(ctx, env)

	case ResourceEndpointPresence, ResourceUserPresence, ResourceConversationUpdate:
		return nil

	case ResourceThreadUpdate:
		return s.handleThreadUpdate(env)

	default:
		s.logger.Warn("unhandled resource type",
			slog.String("resource_type", env.ResourceType),
			slog.String("resource_link", env.ResourceLink),
			slog.String("payload", sanitizeResponseBody(env.Resource)),
		)

		return nil
	}
}

func (s *Session) handleNewMessage(ctx context.Context, env *EventEnvelope) (err error) {
	if !gjson.ValidBytes(env.Resource) {
		return errors.New("resource is not valid JSON")
	}

	messageType := gjson.GetBytes(env.Resource, "messagetype")
	if messageType.Type != gjson.String {
		return errors.New("message has no messagetype")
	}

	h, ok := s.handlers.Handler(messageType.Str)
	if !ok {
		s.logger.Debug("no handler for message type", slog.String("message_type", messageType.Str))
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler for %s panicked: %v", messageType.Str, r)
		}
	}()

	if err := h.HandleMessage(ctx, s, env.Resource); err != nil {
		return fmt.Errorf("handling %s message: %w", messageType.Str, err)
	}

	return nil
}

func (s *Session) handleThreadUpdate(env *EventEnvelope) error {
	id := gjson.GetBytes(env.Resource, "id")
	if id.Type != gjson.String || id.Str == "" {
		return errors.New("thread update has no id")
	}

	chat, created := s.chats.AddIfAbsent(id.Str)
	if !created {
		return nil
	}

	s.logger.Info("joined chat", slog.String("chat_id", chat.ID), slog.String("kind", chat.Kind.String()))
	s.dispatcher.Dispatch(ChatJoinedEvent{Chat: chat})

	return nil
}
