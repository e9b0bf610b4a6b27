package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/alexjbarnes/hrchat/internal/chat"
	"github.com/alexjbarnes/hrchat/internal/models"
)

func humanSize(n int64) string {
	const unit = 1024

	if n < unit {
		return fmt.Sprintf("%d B", n)
	}

	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func formatConversation(c models.Conversation) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%6d  %s", c.ID, c.Name)

	if c.UnreadCount > 0 {
		fmt.Fprintf(&b, "  (%d unread)", c.UnreadCount)
	}

	if c.LastMessage != "" {
		last := c.LastMessage
		if r := []rune(last); len(r) > 60 {
			last = string(r[:60]) + "..."
		}

		if c.LastMessageSender != "" {
			fmt.Fprintf(&b, "\n        %s: %s", c.LastMessageSender, last)
		} else {
			fmt.Fprintf(&b, "\n        %s", last)
		}
	}

	return b.String()
}

func formatMessage(m chat.Message) string {
	var b strings.Builder

	if m.CreatedAt.IsZero() {
		b.WriteString("[--:--] ")
	} else {
		fmt.Fprintf(&b, "[%s] ", m.CreatedAt.Local().Format("15:04"))
	}

	name := m.SenderName
	if name == "" {
		name = fmt.Sprintf("user %d", m.SenderID)
	}

	b.WriteString(name)
	b.WriteString(": ")

	if m.IsFile() {
		fmt.Fprintf(&b, "[file %s, %s]", m.FileName, humanSize(m.FileSize))

		if m.FileURL != "" {
			b.WriteString(" " + m.FileURL)
		}
	} else {
		b.WriteString(m.Content)
	}

	if m.Pending {
		b.WriteString(" (sending)")
	}

	return b.String()
}

func formatUser(u models.User) string {
	line := fmt.Sprintf("%6d  %s", u.ID, u.Name)

	if u.Email != "" {
		line += "  <" + u.Email + ">"
	}

	if u.Department != "" {
		line += "  " + u.Department
	}

	return line
}

// printer writes each message of a conversation once, oldest first, as
// snapshots arrive. An optimistic send and its echo print once.
type printer struct {
	mu   sync.Mutex
	w    io.Writer
	seen map[string]bool
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, seen: make(map[string]bool)}
}

func messageKey(m chat.Message) string {
	if m.ClientKey != "" {
		return m.ClientKey
	}

	return fmt.Sprintf("id-%d", m.ServerID)
}

func (p *printer) update(snap chat.Snapshot) {
	if !snap.Open() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for i := len(snap.Messages) - 1; i >= 0; i-- {
		m := snap.Messages[i]

		k := messageKey(m)
		if p.seen[k] {
			continue
		}

		p.seen[k] = true
		fmt.Fprintln(p.w, formatMessage(m))
	}
}

// confirmation waits for the echo of one optimistic send.
type confirmation struct {
	mu   sync.Mutex
	key  string
	done chan chat.Message
}

func newConfirmation() *confirmation {
	return &confirmation{done: make(chan chat.Message, 1)}
}

// expect sets the client key to wait for and checks snap in case the
// echo already arrived.
func (c *confirmation) expect(key string, snap chat.Snapshot) {
	c.mu.Lock()
	c.key = key
	c.mu.Unlock()

	c.observe(snap)
}

func (c *confirmation) observe(snap chat.Snapshot) {
	c.mu.Lock()
	key := c.key
	c.mu.Unlock()

	if key == "" {
		return
	}

	for _, m := range snap.Messages {
		if m.ClientKey == key && !m.Pending {
			select {
			case c.done <- m:
			default:
			}

			return
		}
	}
}

func (c *confirmation) wait(timeout time.Duration) (chat.Message, bool) {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case m := <-c.done:
		return m, true
	case <-t.C:
		return chat.Message{}, false
	}
}
