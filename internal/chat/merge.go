package chat

import (
	"sort"
	"time"
)

// Merge folds incoming messages into existing and returns a new list
// sorted newest first. Neither input is modified.
func Merge(existing, incoming []Message) []Message {
	return MergeAt(existing, incoming, time.Now())
}

// MergeAt is Merge with an explicit clock for timestamp normalization.
//
// Incoming messages come from history pages or socket frames and are
// therefore never pending. An incoming message collapses onto an
// existing entry with the same client key, or failing that the same
// server id. When it does, its non-zero fields overwrite the entry,
// except that an unconfirmed incoming message never replaces a
// confirmed entry. Incoming messages with neither key are dropped.
func MergeAt(existing, incoming []Message, now time.Time) []Message {
	out := make([]Message, 0, len(existing)+len(incoming))
	byKey := make(map[string]int, len(existing)+len(incoming))
	byServerID := make(map[int64]int, len(existing)+len(incoming))

	index := func(i int) {
		m := out[i]
		if k, ok := key(m); ok {
			byKey[k] = i
		}

		if m.ServerID != 0 {
			byServerID[m.ServerID] = i
		}
	}

	for _, m := range existing {
		k, ok := key(m)
		if !ok {
			continue
		}

		m = normalize(m, now)

		if i, dup := byKey[k]; dup {
			out[i] = m
			index(i)

			continue
		}

		out = append(out, m)
		index(len(out) - 1)
	}

	for _, m := range incoming {
		k, ok := key(m)
		if !ok {
			continue
		}

		m.Pending = false

		i, found := byKey[k]
		if !found && m.ServerID != 0 {
			i, found = byServerID[m.ServerID]
		}

		if !found {
			out = append(out, normalize(m, now))
			index(len(out) - 1)

			continue
		}

		if out[i].ServerID != 0 && m.ServerID == 0 {
			continue
		}

		out[i] = overlay(out[i], m)
		index(i)
	}

	sortNewestFirst(out)

	return out
}

// overlay copies every non-zero field of in over base and marks the
// result confirmed.
func overlay(base, in Message) Message {
	if in.ServerID != 0 {
		base.ServerID = in.ServerID
	}

	if in.ClientKey != "" {
		base.ClientKey = in.ClientKey
	}

	if in.ConversationID != 0 {
		base.ConversationID = in.ConversationID
	}

	if in.SenderID != 0 {
		base.SenderID = in.SenderID
	}

	if in.SenderName != "" {
		base.SenderName = in.SenderName
	}

	if in.Content != "" {
		base.Content = in.Content
	}

	if in.Type != "" {
		base.Type = in.Type
	}

	if !in.CreatedAt.IsZero() {
		base.CreatedAt = in.CreatedAt
	}

	if in.FileID != "" {
		base.FileID = in.FileID
	}

	if in.FileName != "" {
		base.FileName = in.FileName
	}

	if in.FileType != "" {
		base.FileType = in.FileType
	}

	if in.FileURL != "" {
		base.FileURL = in.FileURL
	}

	if in.FilePath != "" {
		base.FilePath = in.FilePath
	}

	if in.FileSize != 0 {
		base.FileSize = in.FileSize
	}

	base.Pending = false

	return base
}

// sortNewestFirst orders by CreatedAt descending. Ties fall back to the
// server id, then the client key, so the order never depends on input
// order.
func sortNewestFirst(ms []Message) {
	sort.SliceStable(ms, func(i, j int) bool {
		a, b := ms[i], ms[j]

		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}

		if a.ServerID != b.ServerID {
			return a.ServerID > b.ServerID
		}

		return a.ClientKey > b.ClientKey
	})
}
