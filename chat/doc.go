/*
`chat` package is a transport-agnostic implementation of the shared chat room:
the participant registry, the message history and the fan-out of encoded
frames to each participant's Outbox.

This package should not know anything about sockets. Connection handling lives
in the root package, which drains each Outbox onto its own connection.
*/

package chat
