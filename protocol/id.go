package protocol

import "github.com/google/uuid"

// IDSize is the number of bytes an ID occupies on the wire.
const IDSize = 16

// ID identifies a participant for the lifetime of its connection.
type ID [IDSize]byte

// NewID returns a random (version 4) ID.
func NewID() ID {
	return ID(uuid.New())
}

// String returns the canonical UUID text form of the ID.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is the zero value, which is never handed out by
// NewID.
func (id ID) IsZero() bool {
	return id == ID{}
}
