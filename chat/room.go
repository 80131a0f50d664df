package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/DanielGrotan/chat-app/protocol"
)

// The error returned when joining a room that is already closed.
var ErrRoomClosed = errors.New("room closed")

// The error returned when a participant joins with an ID that is already
// registered.
var ErrIDTaken = errors.New("id already taken")

// The error returned when a participant without an Outbox joins.
var ErrNoOutbox = errors.New("participant has no outbox")

// The error returned when relaying on behalf of an ID that is not in the room.
var ErrNotMember = errors.New("not a member of the room")

// EncodeError is returned when a broadcast frame could not be built. The room
// mutation that triggered the broadcast has already been applied.
type EncodeError struct {
	Message protocol.ServerMessage
	Err     error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("failed to encode %T: %s", e.Message, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// Snapshot is a consistent copy of the room state.
type Snapshot struct {
	History      []protocol.ChatMessage
	Participants []protocol.Member
}

// Room is the shared chat room. The participant registry and the message
// history are guarded by one lock, so every membership change and every relay
// happens in a single total order.
type Room struct {
	mu         sync.RWMutex
	members    map[protocol.ID]*roomMember
	history    History
	seq        uint64
	closed     bool
	transcript *Outbox
	flushed    chan struct{}
	now        func() time.Time
}

// NewRoom creates a new room.
func NewRoom() *Room {
	return &Room{
		members: map[protocol.ID]*roomMember{},
		now:     time.Now,
	}
}

// SetLogging writes a transcript of the room to out, one line per chat
// message, join and leave. Writes happen on a separate goroutine so a slow
// writer never holds up the room. A nil out stops the transcript; lines
// already queued for the previous writer are still written to it.
func (r *Room) SetLogging(out io.Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.transcript != nil {
		r.transcript.Finish()
		r.transcript = nil
	}
	if out == nil || r.closed {
		return
	}

	t := NewOutbox()
	flushed := make(chan struct{})
	r.transcript = t
	r.flushed = flushed
	go func() {
		defer close(flushed)
		for {
			line, err := t.Next(context.Background())
			if err != nil {
				return
			}
			if _, err := out.Write(line); err != nil {
				logger.Errorf("Failed to write transcript: %s", err)
			}
		}
	}()
}

// Join adds p to the room and announces it to everyone else. The returned
// snapshot holds every earlier chat message and every other participant, in
// join order; it does not include p itself.
func (r *Room) Join(p Participant) (Snapshot, error) {
	if p.Outbox == nil {
		return Snapshot{}, ErrNoOutbox
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return Snapshot{}, ErrRoomClosed
	}
	if _, ok := r.members[p.ID]; ok {
		return Snapshot{}, ErrIDTaken
	}

	snapshot := r.snapshot()

	r.seq++
	r.members[p.ID] = &roomMember{
		Participant: p,
		seq:         r.seq,
		joined:      r.now(),
	}
	r.log("* %s joined. (Connected: %d)", p.Username, len(r.members))

	err := r.broadcast(protocol.UserJoined{ID: p.ID, Username: p.Username}, p.ID)
	return snapshot, err
}

// Leave removes the participant with the given id and announces it to
// everyone remaining. Leaving with an id that is not in the room is a no-op.
// The participant's Outbox is closed.
func (r *Room) Leave(id protocol.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[id]
	if !ok {
		return nil
	}
	delete(r.members, id)
	m.Outbox.Close()
	r.log("* %s left.", m.Username)

	return r.broadcast(protocol.UserLeft{ID: id}, id)
}

// Relay records text as a chat message from the participant with the given
// id and sends it to every other participant. The message stays in the
// history even if encoding the broadcast fails.
func (r *Room) Relay(text string, from protocol.ID) (protocol.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return protocol.ChatMessage{}, ErrRoomClosed
	}
	m, ok := r.members[from]
	if !ok {
		return protocol.ChatMessage{}, ErrNotMember
	}

	msg := protocol.ChatMessage{
		From:      from,
		Text:      text,
		Timestamp: uint64(r.now().Unix()),
	}
	r.history.Add(msg)
	r.log("%s: %s", m.Username, text)

	return msg, r.broadcast(protocol.ChatEvent{ChatMessage: msg}, from)
}

// Snapshot returns a copy of the history and of the whole roster.
func (r *Room) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot()
}

// Participant returns the registry entry for id.
func (r *Room) Participant(id protocol.ID) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[id]
	if !ok {
		return Participant{}, false
	}
	return m.Participant, true
}

// Joined returns when the participant with the given id joined.
func (r *Room) Joined(id protocol.ID) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[id]
	if !ok {
		return time.Time{}, false
	}
	return m.joined, true
}

// Len returns the number of participants.
func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Close the room. Every participant's Outbox is closed and further joins
// fail with ErrRoomClosed. Close returns once every transcript line has been
// written.
func (r *Room) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for id, m := range r.members {
		m.Outbox.Close()
		delete(r.members, id)
	}
	var flushed chan struct{}
	if r.transcript != nil {
		r.transcript.Finish()
		r.transcript = nil
		flushed = r.flushed
	}
	r.mu.Unlock()

	if flushed != nil {
		<-flushed
	}
}

// snapshot must be called with r.mu held.
func (r *Room) snapshot() Snapshot {
	members := make([]*roomMember, 0, len(r.members))
	for _, m := range r.members {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].seq < members[j].seq
	})

	participants := make([]protocol.Member, len(members))
	for i, m := range members {
		participants[i] = m.Member()
	}
	return Snapshot{
		History:      r.history.All(),
		Participants: participants,
	}
}

// broadcast pushes m to every participant except skip. It must be called
// with r.mu held.
func (r *Room) broadcast(m protocol.ServerMessage, skip protocol.ID) error {
	frame, err := protocol.Encode(m)
	if err != nil {
		return &EncodeError{Message: m, Err: err}
	}

	n := 0
	for id, member := range r.members {
		if id == skip {
			// Skip self
			continue
		}
		if err := member.Outbox.Push(frame); err != nil {
			logger.Debugf("Dropped %T for %s: %s", m, member.Username, err)
			continue
		}
		n++
	}
	logger.Debugf("Broadcast %T to %d participants", m, n)
	return nil
}

// log appends a line to the transcript, if any. It must be called with r.mu
// held.
func (r *Room) log(format string, args ...interface{}) {
	if r.transcript == nil {
		return
	}
	line := r.now().UTC().Format(time.RFC3339) + " " + fmt.Sprintf(format, args...) + "\n"
	r.transcript.Push([]byte(line))
}
