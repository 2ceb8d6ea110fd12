package skype

import (
	"sort"
	"strings"
	"sync"
)

// ChatKind classifies a chat by the prefix of its id.
type ChatKind int

const (
	ChatUnknown ChatKind = iota
	ChatIndividual
	ChatGroup
	ChatBot
)

func (k ChatKind) String() string {
	switch k {
	case ChatIndividual:
		return "individual"
	case ChatGroup:
		return "group"
	case ChatBot:
		return "bot"
	}

	return "unknown"
}

// Chat is a handle for one conversation. It is immutable once created.
type Chat struct {
	ID   string
	Kind ChatKind
}

func newChat(id string) *Chat {
	kind := ChatUnknown

	switch {
	case strings.HasPrefix(id, "19:"):
		kind = ChatGroup
	case strings.HasPrefix(id, "8:"):
		kind = ChatIndividual
	case strings.HasPrefix(id, "28:"):
		kind = ChatBot
	}

	return &Chat{ID: id, Kind: kind}
}

// ChatRegistry maps chat ids to handles. Entries are only ever added.
type ChatRegistry struct {
	mu    sync.RWMutex
	chats map[string]*Chat
}

// NewChatRegistry creates an empty registry.
func NewChatRegistry() *ChatRegistry {
	return &ChatRegistry{chats: make(map[string]*Chat)}
}

// Get returns the chat with the given id.
func (r *ChatRegistry) Get(id string) (*Chat, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.chats[id]

	return c, ok
}

// AddIfAbsent inserts a chat for id unless one exists. It reports
// whether this call created the entry; concurrent callers racing on the
// same id see exactly one true.
func (r *ChatRegistry) AddIfAbsent(id string) (*Chat, bool) {
	if c, ok := r.Get(id); ok {
		return c, false
	}

	chat := newChat(id)

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.chats[id]; ok {
		return c, false
	}

	r.chats[id] = chat

	return chat, true
}

// All returns every chat ordered by id.
func (r *ChatRegistry) All() []*Chat {
	r.mu.RLock()
	out := make([]*Chat, 0, len(r.chats))

	for _, c := range r.chats {
		out = append(out, c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// Len returns the number of chats.
func (r *ChatRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.chats)
}
