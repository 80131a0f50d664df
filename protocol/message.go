package protocol

// ChatMessage is a chat line as recorded in the room history.
type ChatMessage struct {
	From      ID
	Text      string
	Timestamp uint64 // Seconds since the unix epoch.
}

// Member is a roster entry.
type Member struct {
	ID       ID
	Username string
}

// Message is any value that can be framed onto the wire.
type Message interface {
	encode(e *encoder)
}

// ClientMessage is sent by clients to the server. The set of implementations
// is closed: Chat and JoinRequest.
type ClientMessage interface {
	Message
	clientMessage()
}

// ServerMessage is sent by the server to clients. The set of implementations
// is closed: ChatEvent, JoinAccepted, UserJoined and UserLeft.
type ServerMessage interface {
	Message
	serverMessage()
}

// Variant tags, in declaration order.
const (
	tagClientChat uint32 = iota
	tagClientJoinRequest
)

const (
	tagServerChat uint32 = iota
	tagServerJoinAccepted
	tagServerUserJoined
	tagServerUserLeft
)

// Chat is a line of text typed by a joined client.
type Chat struct {
	Text string
}

// JoinRequest must be the first and only join frame on a connection.
type JoinRequest struct {
	Username string
}

// ChatEvent relays a chat line from another participant.
type ChatEvent struct {
	ChatMessage
}

// JoinAccepted is the direct reply to a JoinRequest.
type JoinAccepted struct {
	History      []ChatMessage
	Participants []Member
}

// UserJoined announces a new participant.
type UserJoined struct {
	ID       ID
	Username string
}

// UserLeft announces that a participant disconnected.
type UserLeft struct {
	ID ID
}

func (Chat) clientMessage()        {}
func (JoinRequest) clientMessage() {}

func (ChatEvent) serverMessage()    {}
func (JoinAccepted) serverMessage() {}
func (UserJoined) serverMessage()   {}
func (UserLeft) serverMessage()     {}

func (m Chat) encode(e *encoder) {
	e.uint(uint64(tagClientChat))
	e.string(m.Text)
}

func (m JoinRequest) encode(e *encoder) {
	e.uint(uint64(tagClientJoinRequest))
	e.string(m.Username)
}

func (m ChatEvent) encode(e *encoder) {
	e.uint(uint64(tagServerChat))
	e.chatMessage(m.ChatMessage)
}

func (m JoinAccepted) encode(e *encoder) {
	e.uint(uint64(tagServerJoinAccepted))
	e.uint(uint64(len(m.History)))
	for _, msg := range m.History {
		e.chatMessage(msg)
	}
	e.uint(uint64(len(m.Participants)))
	for _, member := range m.Participants {
		e.id(member.ID)
		e.string(member.Username)
	}
}

func (m UserJoined) encode(e *encoder) {
	e.uint(uint64(tagServerUserJoined))
	e.id(m.ID)
	e.string(m.Username)
}

func (m UserLeft) encode(e *encoder) {
	e.uint(uint64(tagServerUserLeft))
	e.id(m.ID)
}

func decodeClientMessage(d *decoder) (ClientMessage, error) {
	tag, err := d.tag()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagClientChat:
		text, err := d.string()
		if err != nil {
			return nil, err
		}
		return Chat{Text: text}, nil
	case tagClientJoinRequest:
		username, err := d.string()
		if err != nil {
			return nil, err
		}
		return JoinRequest{Username: username}, nil
	}
	return nil, malformed("unknown client message tag %d", tag)
}

func decodeServerMessage(d *decoder) (ServerMessage, error) {
	tag, err := d.tag()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagServerChat:
		msg, err := d.chatMessage()
		if err != nil {
			return nil, err
		}
		return ChatEvent{ChatMessage: msg}, nil
	case tagServerJoinAccepted:
		msg, err := d.joinAccepted()
		if err != nil {
			return nil, err
		}
		return msg, nil
	case tagServerUserJoined:
		id, err := d.id()
		if err != nil {
			return nil, err
		}
		username, err := d.string()
		if err != nil {
			return nil, err
		}
		return UserJoined{ID: id, Username: username}, nil
	case tagServerUserLeft:
		id, err := d.id()
		if err != nil {
			return nil, err
		}
		return UserLeft{ID: id}, nil
	}
	return nil, malformed("unknown server message tag %d", tag)
}
