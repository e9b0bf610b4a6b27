// Package mcpserver registers MCP tools that expose chat operations.
// It adapts the chat client to the MCP SDK's tool handler interface.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alexjbarnes/hrchat/internal/chat"
	"github.com/alexjbarnes/hrchat/internal/models"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// defaultMessageLimit caps the messages returned by chat_open and
// chat_load_older when the caller does not ask for a limit.
const defaultMessageLimit = 50

// Chat is the client surface the tools drive. Sends and history loads
// open the named conversation first when it is not already open.
type Chat interface {
	Conversations(ctx context.Context) ([]models.Conversation, bool, error)
	Open(ctx context.Context, conversationID int64) (chat.Snapshot, error)
	LoadOlder(ctx context.Context, conversationID int64) (int, chat.Snapshot, error)
	SendText(ctx context.Context, conversationID int64, text string) (chat.Message, error)
	SendFile(ctx context.Context, conversationID int64, path, name, mimeType string) (chat.Message, error)
	StartDirect(ctx context.Context, userID int64) (models.Conversation, error)
	SearchUsers(ctx context.Context, query string) ([]models.User, error)
}

// RegisterTools adds all chat tools to the given MCP server.
func RegisterTools(server *mcp.Server, c Chat) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "chat_conversations",
		Description: "List the user's conversations with unread counts and the last message. Falls back to the last cached list when the backend is unreachable; stale is true in that case.",
	}, conversationsHandler(c))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "chat_open",
		Description: "Open a conversation and return its most recent messages, newest first. Marks the conversation read up to its last message.",
	}, openHandler(c))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "chat_load_older",
		Description: "Fetch the next page of older history for a conversation and return the merged message list, newest first. has_more is false once the start of history is reached.",
	}, loadOlderHandler(c))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "chat_send",
		Description: "Send a text message to a conversation. The returned message is pending until the server echoes it back.",
	}, sendHandler(c))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "chat_send_file",
		Description: "Upload a local file and send it to a conversation. Fails without sending anything if the upload fails.",
	}, sendFileHandler(c))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "chat_dm",
		Description: "Start or reuse a private conversation with a user and return it.",
	}, dmHandler(c))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "chat_search_users",
		Description: "Search the user directory by name or email.",
	}, searchUsersHandler(c))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// ConversationsInput has no parameters.
type ConversationsInput struct{}

// OpenInput holds parameters for chat_open.
type OpenInput struct {
	ConversationID int64 `json:"conversation_id" jsonschema:"required,conversation id"`
	Limit          int   `json:"limit,omitempty" jsonschema:"maximum number of messages to return, defaults to 50"`
}

// LoadOlderInput holds parameters for chat_load_older.
type LoadOlderInput struct {
	ConversationID int64 `json:"conversation_id" jsonschema:"required,conversation id"`
	Limit          int   `json:"limit,omitempty" jsonschema:"maximum number of messages to return, defaults to 50"`
}

// SendInput holds parameters for chat_send.
type SendInput struct {
	ConversationID int64  `json:"conversation_id" jsonschema:"required,conversation id"`
	Text           string `json:"text" jsonschema:"required,message text"`
}

// SendFileInput holds parameters for chat_send_file.
type SendFileInput struct {
	ConversationID int64  `json:"conversation_id" jsonschema:"required,conversation id"`
	Path           string `json:"path" jsonschema:"required,local path of the file to send"`
	Name           string `json:"name,omitempty" jsonschema:"file name shown to recipients, defaults to the base name of path"`
	MimeType       string `json:"mime_type,omitempty" jsonschema:"MIME type, detected from the extension when empty"`
}

// DMInput holds parameters for chat_dm.
type DMInput struct {
	UserID int64 `json:"user_id" jsonschema:"required,id of the user to message"`
}

// SearchUsersInput holds parameters for chat_search_users.
type SearchUsersInput struct {
	Query string `json:"query" jsonschema:"required,search query"`
}

// --- Output types ---

// MessageView is a chat message as tools report it.
type MessageView struct {
	ID         int64  `json:"id,omitempty"`
	ClientKey  string `json:"client_key,omitempty"`
	SenderID   int64  `json:"sender_id"`
	SenderName string `json:"sender_name,omitempty"`
	Type       string `json:"type"`
	Content    string `json:"content,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
	FileName   string `json:"file_name,omitempty"`
	FileType   string `json:"file_type,omitempty"`
	FileURL    string `json:"file_url,omitempty"`
	FileSize   int64  `json:"file_size,omitempty"`
	Pending    bool   `json:"pending,omitempty"`
}

// ConversationsResult is the output of chat_conversations.
type ConversationsResult struct {
	Conversations []models.Conversation `json:"conversations"`
	Stale         bool                  `json:"stale,omitempty"`
}

// ThreadResult is the output of chat_open and chat_load_older.
type ThreadResult struct {
	Conversation models.Conversation `json:"conversation"`
	Messages     []MessageView       `json:"messages"`
	Total        int                 `json:"total"`
	HasMore      bool                `json:"has_more"`
	Loaded       int                 `json:"loaded,omitempty"`
}

// SendResult is the output of chat_send and chat_send_file.
type SendResult struct {
	ConversationID int64       `json:"conversation_id"`
	Message        MessageView `json:"message"`
}

// UsersResult is the output of chat_search_users.
type UsersResult struct {
	Users []models.User `json:"users"`
}

func viewOf(m chat.Message) MessageView {
	v := MessageView{
		ID:         m.ServerID,
		ClientKey:  m.ClientKey,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Type:       m.Type,
		Content:    m.Content,
		FileName:   m.FileName,
		FileType:   m.FileType,
		FileURL:    m.FileURL,
		FileSize:   m.FileSize,
		Pending:    m.Pending,
	}

	if !m.CreatedAt.IsZero() {
		v.CreatedAt = m.CreatedAt.UTC().Format(time.RFC3339)
	}

	return v
}

func threadOf(snap chat.Snapshot, limit, loaded int) *ThreadResult {
	if limit <= 0 {
		limit = defaultMessageLimit
	}

	msgs := snap.Messages
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}

	out := &ThreadResult{
		Conversation: snap.Conversation,
		Messages:     make([]MessageView, 0, len(msgs)),
		Total:        len(snap.Messages),
		HasMore:      snap.HasMore,
		Loaded:       loaded,
	}

	for _, m := range msgs {
		out.Messages = append(out.Messages, viewOf(m))
	}

	return out
}

// --- Handlers ---

func conversationsHandler(c Chat) mcp.ToolHandlerFor[ConversationsInput, *ConversationsResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ ConversationsInput) (*mcp.CallToolResult, *ConversationsResult, error) {
		convs, stale, err := c.Conversations(ctx)
		if err != nil {
			return nil, nil, err
		}

		if convs == nil {
			convs = []models.Conversation{}
		}

		result := &ConversationsResult{Conversations: convs, Stale: stale}

		return textResult(result), result, nil
	}
}

func openHandler(c Chat) mcp.ToolHandlerFor[OpenInput, *ThreadResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input OpenInput) (*mcp.CallToolResult, *ThreadResult, error) {
		if input.ConversationID <= 0 {
			return nil, nil, fmt.Errorf("conversation_id must be positive")
		}

		snap, err := c.Open(ctx, input.ConversationID)
		if err != nil {
			return nil, nil, err
		}

		result := threadOf(snap, input.Limit, 0)

		return textResult(result), result, nil
	}
}

func loadOlderHandler(c Chat) mcp.ToolHandlerFor[LoadOlderInput, *ThreadResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input LoadOlderInput) (*mcp.CallToolResult, *ThreadResult, error) {
		if input.ConversationID <= 0 {
			return nil, nil, fmt.Errorf("conversation_id must be positive")
		}

		loaded, snap, err := c.LoadOlder(ctx, input.ConversationID)
		if err != nil {
			return nil, nil, err
		}

		result := threadOf(snap, input.Limit, loaded)

		return textResult(result), result, nil
	}
}

func sendHandler(c Chat) mcp.ToolHandlerFor[SendInput, *SendResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SendInput) (*mcp.CallToolResult, *SendResult, error) {
		if input.ConversationID <= 0 {
			return nil, nil, fmt.Errorf("conversation_id must be positive")
		}

		if input.Text == "" {
			return nil, nil, fmt.Errorf("text must not be empty")
		}

		msg, err := c.SendText(ctx, input.ConversationID, input.Text)
		if err != nil {
			return nil, nil, err
		}

		result := &SendResult{ConversationID: input.ConversationID, Message: viewOf(msg)}

		return textResult(result), result, nil
	}
}

func sendFileHandler(c Chat) mcp.ToolHandlerFor[SendFileInput, *SendResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SendFileInput) (*mcp.CallToolResult, *SendResult, error) {
		if input.ConversationID <= 0 {
			return nil, nil, fmt.Errorf("conversation_id must be positive")
		}

		if input.Path == "" {
			return nil, nil, fmt.Errorf("path must not be empty")
		}

		msg, err := c.SendFile(ctx, input.ConversationID, input.Path, input.Name, input.MimeType)
		if err != nil {
			return nil, nil, err
		}

		result := &SendResult{ConversationID: input.ConversationID, Message: viewOf(msg)}

		return textResult(result), result, nil
	}
}

func dmHandler(c Chat) mcp.ToolHandlerFor[DMInput, *models.Conversation] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input DMInput) (*mcp.CallToolResult, *models.Conversation, error) {
		if input.UserID <= 0 {
			return nil, nil, fmt.Errorf("user_id must be positive")
		}

		conv, err := c.StartDirect(ctx, input.UserID)
		if err != nil {
			return nil, nil, err
		}

		return textResult(conv), &conv, nil
	}
}

func searchUsersHandler(c Chat) mcp.ToolHandlerFor[SearchUsersInput, *UsersResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SearchUsersInput) (*mcp.CallToolResult, *UsersResult, error) {
		users, err := c.SearchUsers(ctx, input.Query)
		if err != nil {
			return nil, nil, err
		}

		if users == nil {
			users = []models.User{}
		}

		result := &UsersResult{Users: users}

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
