/*
Package chatapp is a relay server for a single shared chat room over a framed
binary protocol.

protocol subdirectory contains the wire format, which knows nothing about
rooms.

chat subdirectory contains the room, which knows nothing about sockets.

transport subdirectory contains the TCP and WebSocket listeners.

The Host type is the glue between the transport and chat pieces, and Client is
a minimal protocol client for the same wire contract.
*/
package chatapp
