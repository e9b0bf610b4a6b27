// Package chat keeps the per-conversation message list consistent while
// messages arrive from history pages, live socket frames and local
// optimistic sends.
package chat

import (
	"fmt"
	"strconv"
	"time"

	"github.com/alexjbarnes/hrchat/internal/models"
	"github.com/google/uuid"
)

// Message is one chat unit as the engine tracks it. ServerID is zero
// until the server has confirmed the message; ClientKey is empty for
// messages that did not originate on this client.
type Message struct {
	ServerID       int64
	ClientKey      string
	ConversationID int64
	SenderID       int64
	SenderName     string
	Content        string
	Type           string
	CreatedAt      time.Time

	FileID   string
	FileName string
	FileType string
	FileURL  string
	FilePath string
	FileSize int64

	Pending bool
}

// IsFile reports whether the message carries a file.
func (m Message) IsFile() bool {
	return m.Type == models.MessageTypeFile
}

// timestampLayouts are tried in order when parsing created_at. The
// backend emits RFC 3339 but some endpoints drop the zone.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// parseTimestamp returns the zero time for empty, unparseable and
// "0001-01-01..." values. All three are normalized the same way.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() <= 1 {
				return time.Time{}
			}

			return t
		}
	}

	return time.Time{}
}

// FromWire converts a backend message. The result is not normalized.
func FromWire(w models.WireMessage) Message {
	typ := w.Type
	if typ == "" {
		typ = models.MessageTypeText
	}

	return Message{
		ServerID:       w.ID,
		ClientKey:      w.ClientMsgID,
		ConversationID: w.ConversationID,
		SenderID:       w.SenderID,
		SenderName:     w.SenderName,
		Content:        w.Content,
		Type:           typ,
		CreatedAt:      parseTimestamp(w.CreatedAt),
		FileID:         w.FileID,
		FileName:       w.FileName,
		FileType:       w.FileType,
		FileURL:        w.FileURL,
		FilePath:       w.FilePath,
		FileSize:       w.FileSize,
	}
}

// FromWireList converts a page of backend messages.
func FromWireList(ws []models.WireMessage) []Message {
	out := make([]Message, len(ws))
	for i, w := range ws {
		out[i] = FromWire(w)
	}

	return out
}

// normalize replaces a missing or sentinel timestamp with now.
func normalize(m Message, now time.Time) Message {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}

	return m
}

// key returns the identity a message is deduplicated under: the client
// key when present, else the server id. Messages with neither cannot be
// merged safely.
func key(m Message) (string, bool) {
	if m.ClientKey != "" {
		return m.ClientKey, true
	}

	if m.ServerID != 0 {
		return "id-" + strconv.FormatInt(m.ServerID, 10), true
	}

	return "", false
}

// NewClientKey returns a fresh idempotency key for a message sent by
// senderID. The random suffix keeps keys unique across sends in the same
// millisecond.
func NewClientKey(senderID int64, now time.Time) string {
	return fmt.Sprintf("%d-%d-%s", senderID, now.UnixMilli(), uuid.NewString())
}
