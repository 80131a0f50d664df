package chat

import "github.com/DanielGrotan/chat-app/protocol"

// History is the append-only log of chat messages relayed in a room. It is
// not safe for concurrent use; the Room serializes access to it.
type History struct {
	entries []protocol.ChatMessage
}

// Add appends an entry to the history.
func (h *History) Add(entry protocol.ChatMessage) {
	h.entries = append(h.entries, entry)
}

// Len returns the number of entries in the history.
func (h *History) Len() int {
	return len(h.entries)
}

// Get returns a copy of the most recent num entries, oldest first.
func (h *History) Get(num int) []protocol.ChatMessage {
	if num > len(h.entries) {
		num = len(h.entries)
	}
	if num < 0 {
		num = 0
	}

	r := make([]protocol.ChatMessage, num)
	copy(r, h.entries[len(h.entries)-num:])
	return r
}

// All returns a copy of every entry, oldest first.
func (h *History) All() []protocol.ChatMessage {
	return h.Get(len(h.entries))
}
