package socket

import (
	"encoding/json"
	"fmt"

	"github.com/alexjbarnes/hrchat/internal/models"
	"github.com/tidwall/gjson"
)

// Frame type values on the wire.
const (
	TypeText       = models.MessageTypeText
	TypeFile       = models.MessageTypeFile
	TypeMarkAsRead = "mark_as_read"
)

// FrameKind tags the decoded variant of an inbound frame.
type FrameKind int

const (
	KindUnknown FrameKind = iota
	KindText
	KindFile
	KindMarkAsRead
)

func (k FrameKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindFile:
		return "file"
	case KindMarkAsRead:
		return "mark_as_read"
	default:
		return "unknown"
	}
}

// Frame is one decoded inbound socket frame. The concrete type is one of
// TextFrame, FileFrame, ReadReceiptFrame or UnknownFrame. Frames are
// values and are shared by every bus handler, so handlers treat them as
// read-only.
type Frame interface {
	Kind() FrameKind
}

// TextFrame is a chat text message pushed by the server.
type TextFrame struct {
	Message models.WireMessage
}

// FileFrame is a chat file message pushed by the server.
type FileFrame struct {
	Message models.WireMessage
}

// ReadReceiptFrame reports that a participant read up to a message.
type ReadReceiptFrame struct {
	ConversationID    int64 `json:"conversation_id"`
	SenderID          int64 `json:"sender_id"`
	LastReadMessageID int64 `json:"last_read_message_id"`
}

// UnknownFrame carries any frame whose type this client does not handle.
type UnknownFrame struct {
	Type string
	Raw  json.RawMessage
}

func (TextFrame) Kind() FrameKind        { return KindText }
func (FileFrame) Kind() FrameKind        { return KindFile }
func (ReadReceiptFrame) Kind() FrameKind { return KindMarkAsRead }
func (UnknownFrame) Kind() FrameKind     { return KindUnknown }

// MessageOf returns the chat message carried by f, if any.
func MessageOf(f Frame) (models.WireMessage, bool) {
	switch v := f.(type) {
	case TextFrame:
		return v.Message, true
	case FileFrame:
		return v.Message, true
	default:
		return models.WireMessage{}, false
	}
}

// DecodeFrame decodes one inbound text frame into its tagged variant.
// The type field is peeked first so control frames are never decoded
// as chat content. A frame without a type is treated as text.
func DecodeFrame(data []byte) (Frame, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("frame is not valid JSON")
	}

	typ := gjson.GetBytes(data, "type")

	switch {
	case typ.Str == TypeMarkAsRead:
		var rr ReadReceiptFrame
		if err := json.Unmarshal(data, &rr); err != nil {
			return nil, fmt.Errorf("decoding read receipt: %w", err)
		}

		return rr, nil

	case typ.Str == TypeFile:
		var msg models.WireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decoding file message: %w", err)
		}

		return FileFrame{Message: msg}, nil

	case typ.Str == TypeText || !typ.Exists():
		var msg models.WireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decoding text message: %w", err)
		}

		msg.Type = TypeText

		return TextFrame{Message: msg}, nil

	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)

		return UnknownFrame{Type: typ.String(), Raw: raw}, nil
	}
}

// Outbound is a frame the client publishes through Manager.Send.
type Outbound interface {
	FrameType() string
}

// TextMessage is the outgoing text frame.
type TextMessage struct {
	ClientMsgID    string `json:"client_msg_id"`
	ConversationID int64  `json:"conversation_id"`
	Content        string `json:"content"`
	Type           string `json:"type"`
	SenderID       int64  `json:"sender_id"`
	SenderName     string `json:"sender_name"`
}

// FileMessage is the outgoing file frame. Content is always empty.
type FileMessage struct {
	ClientMsgID    string `json:"client_msg_id"`
	ConversationID int64  `json:"conversation_id"`
	Type           string `json:"type"`
	Content        string `json:"content"`
	SenderID       int64  `json:"sender_id"`
	SenderName     string `json:"sender_name"`
	FileID         string `json:"file_id"`
	FileName       string `json:"file_name"`
	FileType       string `json:"file_type"`
	FileSize       int64  `json:"file_size"`
}

// MarkAsRead is the outgoing read receipt.
type MarkAsRead struct {
	Type              string `json:"type"`
	ConversationID    int64  `json:"conversation_id"`
	SenderID          int64  `json:"sender_id"`
	LastReadMessageID int64  `json:"last_read_message_id"`
}

func (TextMessage) FrameType() string { return TypeText }
func (FileMessage) FrameType() string { return TypeFile }
func (MarkAsRead) FrameType() string  { return TypeMarkAsRead }

// EncodeFrame marshals f, forcing its type field to match FrameType.
func EncodeFrame(f Outbound) ([]byte, error) {
	switch v := f.(type) {
	case TextMessage:
		v.Type = TypeText
		f = v
	case FileMessage:
		v.Type = TypeFile
		v.Content = ""
		f = v
	case MarkAsRead:
		v.Type = TypeMarkAsRead
		f = v
	}

	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshalling %s frame: %w", f.FrameType(), err)
	}

	return data, nil
}
