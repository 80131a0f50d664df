package chatapp

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/DanielGrotan/chat-app/protocol"
	"github.com/DanielGrotan/chat-app/transport"
)

// Client is one joined connection to a chat server.
type Client struct {
	Username string

	conn    net.Conn
	reader  *protocol.Reader
	writeMu sync.Mutex
}

// Dial connects to addr and joins as username. Addresses starting with ws://
// or wss:// go through the WebSocket transport, anything else is dialed as
// TCP.
func Dial(addr, username string) (*Client, *protocol.JoinAccepted, error) {
	var conn net.Conn
	var err error
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		conn, err = transport.DialWebsocket(addr)
	} else {
		conn, err = transport.DialTCP(addr)
	}
	if err != nil {
		return nil, nil, err
	}

	c, accepted, err := NewClient(conn, username)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return c, accepted, nil
}

// NewClient sends the JoinRequest on conn and waits for the server to accept
// it. Surrounding whitespace is trimmed from username and a blank one fails
// with ErrInvalidName before anything is sent. The caller owns conn if an
// error is returned.
func NewClient(conn net.Conn, username string) (*Client, *protocol.JoinAccepted, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, nil, ErrInvalidName
	}
	c := &Client{
		Username: username,
		conn:     conn,
		reader:   protocol.NewReader(conn, 0),
	}
	if err := c.write(protocol.JoinRequest{Username: username}); err != nil {
		return nil, nil, err
	}

	m, err := c.reader.ReadServerMessage()
	if err != nil {
		return nil, nil, err
	}
	accepted, ok := m.(protocol.JoinAccepted)
	if !ok {
		return nil, nil, fmt.Errorf("%w: expected join accepted, got %T", ErrUnexpectedMessage, m)
	}
	logger.Debugf("[%s] Joined as %s: %d messages, %d participants", conn.RemoteAddr(), username, len(accepted.History), len(accepted.Participants))
	return c, &accepted, nil
}

// Send a chat message. It is safe to call Send while another goroutine is
// blocked in Next.
func (c *Client) Send(text string) error {
	return c.write(protocol.Chat{Text: text})
}

// Next blocks until the next event from the server. A second JoinAccepted is
// a protocol violation and returns ErrUnexpectedMessage.
func (c *Client) Next() (protocol.ServerMessage, error) {
	m, err := c.reader.ReadServerMessage()
	if err != nil {
		return nil, err
	}
	if _, ok := m.(protocol.JoinAccepted); ok {
		return nil, fmt.Errorf("%w: second join accepted", ErrUnexpectedMessage)
	}
	return m, nil
}

// Close the connection. Any blocked Next returns protocol.ErrConnectionClosed.
func (c *Client) Close() error {
	err := c.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (c *Client) write(m protocol.ClientMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.Write(c.conn, m)
}
