/*
Package protocol implements the wire format spoken between chat clients and
the server.

Every message travels as one frame: a 4-byte big-endian payload length
followed by that many bytes of payload. A payload starts with a varint variant
tag and continues with the fields of that variant. Integers use the compact
varint form (one byte below 251, otherwise a marker byte and a little-endian
u16, u32 or u64), strings and sequences carry a varint length, and IDs are
written as their raw 16 bytes.

This package knows nothing about rooms or sockets beyond io.Reader and
io.Writer.
*/
package protocol
