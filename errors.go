package chatapp

import (
	"errors"
	"fmt"

	"github.com/DanielGrotan/chat-app/protocol"
)

// The error returned when a connection does not open with a valid
// JoinRequest. Nothing in the room has changed when it is returned.
var ErrFailedToJoin = errors.New("failed to join")

// The error matched by AlreadyJoinedError.
var ErrAlreadyJoined = errors.New("already joined")

// The error returned by the client when asked to join with a blank username.
var ErrInvalidName = errors.New("invalid name")

// The error returned by the client when the server breaks the protocol.
var ErrUnexpectedMessage = errors.New("unexpected message from server")

// ConnectionClosedError ends a joined connection whose peer went away, sent
// something undecodable, or could no longer be written to. It matches
// protocol.ErrConnectionClosed.
type ConnectionClosedError struct {
	ID       protocol.ID
	Username string
	Err      error
}

func (e *ConnectionClosedError) Error() string {
	return fmt.Sprintf("connection of %s (%s) closed: %s", e.Username, e.ID, e.Err)
}

func (e *ConnectionClosedError) Unwrap() error {
	return e.Err
}

func (e *ConnectionClosedError) Is(target error) bool {
	return target == protocol.ErrConnectionClosed
}

// AlreadyJoinedError ends a connection that sent a second JoinRequest.
type AlreadyJoinedError struct {
	ID       protocol.ID
	Username string
}

func (e *AlreadyJoinedError) Error() string {
	return fmt.Sprintf("%s (%s) %s", e.Username, e.ID, ErrAlreadyJoined)
}

func (e *AlreadyJoinedError) Is(target error) bool {
	return target == ErrAlreadyJoined
}
