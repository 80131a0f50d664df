package chat

import (
	"time"

	"github.com/DanielGrotan/chat-app/protocol"
)

// Participant is a registry entry: who is connected and where to deliver
// frames destined for them.
type Participant struct {
	ID       protocol.ID
	Username string
	Outbox   *Outbox
}

// NewParticipant returns a Participant with a fresh Outbox.
func NewParticipant(id protocol.ID, username string) Participant {
	return Participant{
		ID:       id,
		Username: username,
		Outbox:   NewOutbox(),
	}
}

// Member returns the roster entry for the participant.
func (p Participant) Member() protocol.Member {
	return protocol.Member{ID: p.ID, Username: p.Username}
}

// roomMember is a Participant with per-Room metadata attached to it.
type roomMember struct {
	Participant
	seq    uint64
	joined time.Time
}
