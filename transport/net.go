// Package transport accepts the byte streams that carry the chat protocol.
// It knows nothing about chat: every listener simply yields net.Conn values.
package transport

import "net"

// ListenTCP makes a plain TCP listener socket.
func ListenTCP(laddr string) (net.Listener, error) {
	socket, err := net.Listen("tcp", laddr)
	if err != nil {
		return nil, err
	}
	logger.Infof("Listening for TCP connections on %s", socket.Addr())
	return socket, nil
}

// DialTCP connects to a TCP chat server.
func DialTCP(addr string) (net.Conn, error) {
	return net.Dial("tcp", addr)
}
