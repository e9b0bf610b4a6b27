// Package models defines types shared across internal packages: the
// wire shapes exchanged with the chat backend and the uniform REST
// result envelope.
package models

// Message types carried in the "type" field of chat frames.
const (
	MessageTypeText = "text"
	MessageTypeFile = "file"
)

// WireMessage is the JSON shape of a chat message as the backend sends
// it, both in history pages and in live socket frames. ID is zero until
// the server has assigned one.
type WireMessage struct {
	ID             int64  `json:"id,omitempty"`
	ClientMsgID    string `json:"client_msg_id,omitempty"`
	ConversationID int64  `json:"conversation_id"`
	SenderID       int64  `json:"sender_id"`
	SenderName     string `json:"sender_name,omitempty"`
	Content        string `json:"content"`
	Type           string `json:"type"`
	CreatedAt      string `json:"created_at,omitempty"`
	FileID         string `json:"file_id,omitempty"`
	FileName       string `json:"file_name,omitempty"`
	FileType       string `json:"file_type,omitempty"`
	FileSize       int64  `json:"file_size,omitempty"`
	FileURL        string `json:"file_url,omitempty"`
	FilePath       string `json:"file_path,omitempty"`
}

// Conversation is the summary identity of a chat as returned by the
// conversation list and detail endpoints.
type Conversation struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	Avatar            string `json:"avatar,omitempty"`
	Type              string `json:"type,omitempty"`
	LastMessage       string `json:"last_message,omitempty"`
	LastMessageID     int64  `json:"last_message_id,omitempty"`
	LastMessageAt     string `json:"last_message_at,omitempty"`
	LastMessageSender string `json:"last_message_sender,omitempty"`
	UnreadCount       int    `json:"unread_count"`
	LastReadMessageID int64  `json:"last_read_message_id,omitempty"`
}

// ConversationDetail is a conversation summary plus its first page of
// messages (newest first) and participants.
type ConversationDetail struct {
	Conversation
	Messages     []WireMessage `json:"messages"`
	Participants []User        `json:"participants,omitempty"`
}

// User is a directory entry returned by user search.
type User struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Avatar     string `json:"avatar,omitempty"`
	Department string `json:"department,omitempty"`
}

// FileDescriptor describes an uploaded file.
type FileDescriptor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	URL  string `json:"url,omitempty"`
}

// Identity is the authenticated user the client acts as.
type Identity struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
}

// AuthResult is the login response.
type AuthResult struct {
	AccessToken string `json:"access_token"`
	User        User   `json:"user"`
}
