// Package mcpserver registers MCP tools that expose the running Skype
// session. It adapts the skype package to the MCP SDK's tool handler interface.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alexjbarnes/webskype/internal/auth"
	"github.com/alexjbarnes/webskype/internal/models"
	"github.com/alexjbarnes/webskype/skype"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// SessionView is the part of *skype.Session the tools read and drive.
type SessionView interface {
	Status() skype.Status
	AllChats() []*skype.Chat
	GetChat(id string) (*skype.Chat, bool)
	LoadChat(id string) (*skype.Chat, error)
}

// Store is the persistent state the tools read past sessions from and
// record loaded chats in.
type Store interface {
	Sessions(account string) ([]models.SessionRecord, error)
	SaveChat(account string, rec models.ChatRecord) error
}

// RegisterTools adds all session tools to the given MCP server.
func RegisterTools(server *mcp.Server, s SessionView, store Store, logger *slog.Logger) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "session_status",
		Description: "Report whether the Skype session is live, with its cloud, endpoint id, login time and number of known chats.",
	}, statusHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "chats_list",
		Description: "List every chat the session knows about, ordered by id, with its kind (individual, group, bot or unknown).",
	}, listChatsHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "chat_get",
		Description: "Look up one chat by id. Fails if the session has not seen the chat.",
	}, getChatHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "chat_load",
		Description: "Register a chat id with the session so it is known before any thread update names it, and record it so it survives a restart. Fails if the chat is already known.",
	}, loadChatHandler(s, store, logger))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "session_history",
		Description: "List past logins of this account, oldest first, with when and why each ended.",
	}, historyHandler(s, store))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// StatusInput has no parameters.
type StatusInput struct{}

// ListChatsInput has no parameters.
type ListChatsInput struct{}

// ChatInput holds parameters for chat_get and chat_load.
type ChatInput struct {
	ID string `json:"id" jsonschema:"required,chat id such as 8:live:alice or 19:abc@thread.skype"`
}

// HistoryInput holds parameters for session_history.
type HistoryInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of most recent sessions to return, 0 means all"`
}

// --- Output types ---

// StatusResult is the output of session_status. Times are RFC 3339 in UTC.
type StatusResult struct {
	Username   string `json:"username"`
	Live       bool   `json:"live"`
	Cloud      string `json:"cloud,omitempty"`
	EndpointID string `json:"endpoint_id,omitempty"`
	Chats      int    `json:"chats"`
	LoggedInAt string `json:"logged_in_at,omitempty"`
}

// ChatInfo describes one chat.
type ChatInfo struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// ListChatsResult is the output of chats_list.
type ListChatsResult struct {
	Total int        `json:"total"`
	Chats []ChatInfo `json:"chats"`
}

// SessionInfo is one past login.
type SessionInfo struct {
	EndpointID string `json:"endpoint_id"`
	Cloud      string `json:"cloud,omitempty"`
	LoggedInAt string `json:"logged_in_at"`
	EndedAt    string `json:"ended_at,omitempty"`
	EndReason  string `json:"end_reason,omitempty"`
}

// HistoryResult is the output of session_history.
type HistoryResult struct {
	Username string        `json:"username"`
	Sessions []SessionInfo `json:"sessions"`
}

func chatInfo(c *skype.Chat) ChatInfo {
	return ChatInfo{ID: c.ID, Kind: c.Kind.String()}
}

// --- Handlers ---

func statusHandler(s SessionView) mcp.ToolHandlerFor[StatusInput, *StatusResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, *StatusResult, error) {
		st := s.Status()

		result := &StatusResult{
			Username:   st.Username,
			Live:       st.Live,
			Cloud:      string(st.Cloud),
			EndpointID: st.EndpointID,
			Chats:      st.Chats,
		}

		if !st.LoggedInAt.IsZero() {
			result.LoggedInAt = st.LoggedInAt.UTC().Format(time.RFC3339)
		}

		return textResult(result), result, nil
	}
}

func listChatsHandler(s SessionView) mcp.ToolHandlerFor[ListChatsInput, *ListChatsResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ ListChatsInput) (*mcp.CallToolResult, *ListChatsResult, error) {
		chats := s.AllChats()

		result := &ListChatsResult{Total: len(chats), Chats: make([]ChatInfo, 0, len(chats))}
		for _, c := range chats {
			result.Chats = append(result.Chats, chatInfo(c))
		}

		return textResult(result), result, nil
	}
}

func getChatHandler(s SessionView) mcp.ToolHandlerFor[ChatInput, *ChatInfo] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input ChatInput) (*mcp.CallToolResult, *ChatInfo, error) {
		c, ok := s.GetChat(input.ID)
		if !ok {
			return nil, nil, fmt.Errorf("chat %q not found", input.ID)
		}

		result := chatInfo(c)

		return textResult(result), &result, nil
	}
}

func loadChatHandler(s SessionView, store Store, logger *slog.Logger) mcp.ToolHandlerFor[ChatInput, *ChatInfo] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ChatInput) (*mcp.CallToolResult, *ChatInfo, error) {
		c, err := s.LoadChat(input.ID)
		if err != nil {
			return nil, nil, err
		}

		// The chat is live in the session either way; a failed save only
		// means it is not preloaded after a restart.
		err = store.SaveChat(s.Status().Username, models.ChatRecord{
			ID:        c.ID,
			Kind:      c.Kind.String(),
			Source:    models.ChatSourceLoaded,
			FirstSeen: time.Now(),
		})
		if err != nil {
			logger.Warn("failed to save loaded chat", slog.String("chat", c.ID), slog.String("error", err.Error()))
		}

		logger.Info("chat loaded via MCP",
			slog.String("chat", c.ID),
			slog.String("user_id", auth.RequestUserID(ctx)),
			slog.String("ip", auth.RequestRemoteIP(ctx)),
		)

		result := chatInfo(c)

		return textResult(result), &result, nil
	}
}

func historyHandler(s SessionView, h Store) mcp.ToolHandlerFor[HistoryInput, *HistoryResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input HistoryInput) (*mcp.CallToolResult, *HistoryResult, error) {
		username := s.Status().Username

		records, err := h.Sessions(username)
		if err != nil {
			return nil, nil, fmt.Errorf("reading session history: %w", err)
		}

		if input.Limit > 0 && len(records) > input.Limit {
			records = records[len(records)-input.Limit:]
		}

		result := &HistoryResult{Username: username, Sessions: make([]SessionInfo, 0, len(records))}
		for _, rec := range records {
			info := SessionInfo{
				EndpointID: rec.EndpointID,
				Cloud:      rec.Cloud,
				LoggedInAt: rec.LoggedInAt.UTC().Format(time.RFC3339),
				EndReason:  rec.EndReason,
			}

			if !rec.EndedAt.IsZero() {
				info.EndedAt = rec.EndedAt.UTC().Format(time.RFC3339)
			}

			result.Sessions = append(result.Sessions, info)
		}

		return textResult(result), result, nil
	}
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
