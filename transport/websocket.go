package transport

import (
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultWebsocketBufferSize        = 4096
	defaultWebsocketHandshakeTimeout  = 3 * time.Second
	defaultWebsocketCloseWriteTimeout = 2 * time.Second
)

// The error returned when a peer sends a text message; the chat protocol is
// carried in binary messages only.
var ErrTextMessage = errors.New("websocket text messages are not supported")

// WebsocketListener accepts WebSocket upgrades on one HTTP path and yields
// each upgraded connection as a net.Conn carrying the same byte stream a TCP
// client would send.
type WebsocketListener struct {
	socket   net.Listener
	server   *http.Server
	upgrader websocket.Upgrader

	conns     chan net.Conn
	done      chan struct{}
	closeOnce sync.Once
}

// ListenWebsocket starts an HTTP server on laddr that upgrades requests for
// path.
func ListenWebsocket(laddr, path string) (*WebsocketListener, error) {
	socket, err := net.Listen("tcp", laddr)
	if err != nil {
		return nil, err
	}

	l := &WebsocketListener{
		socket: socket,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: defaultWebsocketHandshakeTimeout,
			ReadBufferSize:   defaultWebsocketBufferSize,
			WriteBufferSize:  defaultWebsocketBufferSize,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
		conns: make(chan net.Conn),
		done:  make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, l.upgrade)
	l.server = &http.Server{Handler: mux}

	go func() {
		err := l.server.Serve(socket)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Websocket server failed: %s", err)
		}
		l.Close()
	}()

	logger.Infof("Listening for websocket connections on %s%s", socket.Addr(), path)
	return l, nil
}

func (l *WebsocketListener) upgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		logger.Debugf("[%s] Websocket upgrade failed: %s", r.RemoteAddr, err)
		return
	}

	conn := newWebsocketConn(ws)
	select {
	case l.conns <- conn:
	case <-l.done:
		conn.Close()
	}
}

// Accept waits for and returns the next upgraded connection.
func (l *WebsocketListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

// Close stops the HTTP server. Connections that were already accepted stay
// open.
func (l *WebsocketListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.server.Close()
	})
	return err
}

// Addr returns the listener's network address.
func (l *WebsocketListener) Addr() net.Addr {
	return l.socket.Addr()
}

// DialWebsocket connects to a chat server's WebSocket endpoint, e.g.
// ws://127.0.0.1:8081/chat.
func DialWebsocket(url string) (net.Conn, error) {
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return newWebsocketConn(ws), nil
}

// websocketConn exposes the payloads of consecutive binary messages as one
// byte stream. Each Write is sent as one binary message. At most one
// goroutine may Read and one may Write at a time.
type websocketConn struct {
	ws        *websocket.Conn
	reader    io.Reader
	closeOnce sync.Once
}

func newWebsocketConn(ws *websocket.Conn) *websocketConn {
	return &websocketConn{ws: ws}
}

func (c *websocketConn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			messageType, r, err := c.ws.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if messageType != websocket.BinaryMessage {
				return 0, ErrTextMessage
			}
			c.reader = r
		}

		n, err := c.reader.Read(p)
		if err == io.EOF {
			// End of this message, continue with the next one.
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *websocketConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a close message, best effort, and closes the connection.
func (c *websocketConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(defaultWebsocketCloseWriteTimeout)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if wsErr := c.ws.WriteControl(websocket.CloseMessage, msg, deadline); wsErr != nil {
			logger.Debugf("[%s] Failed to send websocket close: %s", c.RemoteAddr(), wsErr)
		}
		err = c.ws.Close()
	})
	return err
}

func (c *websocketConn) LocalAddr() net.Addr {
	return c.ws.LocalAddr()
}

func (c *websocketConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

func (c *websocketConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *websocketConn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

func (c *websocketConn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}
