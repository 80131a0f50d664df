package chatapp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/DanielGrotan/chat-app/chat"
	"github.com/DanielGrotan/chat-app/internal/humantime"
	"github.com/DanielGrotan/chat-app/protocol"
)

// DefaultMaxFrameSize bounds the payload of frames read from clients.
const DefaultMaxFrameSize = 64 * 1024

const maxAcceptDelay = time.Second

// Host is the bridge between the transport listeners and the chat room.
type Host struct {
	*chat.Room

	maxFrameSize int

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	conns     map[net.Conn]struct{}
	closed    bool
	wg        sync.WaitGroup
}

// NewHost creates a Host serving room.
func NewHost(room *chat.Room) *Host {
	return &Host{
		Room:         room,
		maxFrameSize: DefaultMaxFrameSize,
		listeners:    map[net.Listener]struct{}{},
		conns:        map[net.Conn]struct{}{},
	}
}

// SetMaxFrameSize changes the largest frame payload accepted from clients. A
// value of zero or less removes the limit.
func (h *Host) SetMaxFrameSize(n int) {
	h.mu.Lock()
	h.maxFrameSize = n
	h.mu.Unlock()
}

// Serve accepts connections on l until it is closed, handling each one on its
// own goroutine. It returns nil once l is closed.
func (h *Host) Serve(l net.Listener) error {
	if !h.track(l) {
		l.Close()
		return nil
	}
	defer h.untrack(l)

	var delay time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || h.isClosed() {
				return nil
			}
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else if delay *= 2; delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}
			logger.Errorf("Failed to accept connection: %v; retrying in %v", err, delay)
			time.Sleep(delay)
			continue
		}
		delay = 0

		if !h.trackConn(conn) {
			conn.Close()
			return nil
		}
		// Goroutineify to resume accepting sockets early.
		go func() {
			defer h.wg.Done()
			defer h.untrackConn(conn)

			err := h.Connect(conn)
			switch {
			case errors.Is(err, ErrFailedToJoin):
				logger.Debugf("[%s] Failed to join: %s", conn.RemoteAddr(), err)
			case errors.Is(err, ErrAlreadyJoined), errors.Is(err, protocol.ErrMalformedFrame):
				logger.Infof("[%s] Protocol violation: %s", conn.RemoteAddr(), err)
			case err != nil && !errors.Is(err, protocol.ErrConnectionClosed):
				logger.Errorf("[%s] Connection error: %s", conn.RemoteAddr(), err)
			}
		}()
	}
}

// Connect runs the chat protocol on conn until either side gives up. It
// returns the reason the connection ended and always closes conn.
func (h *Host) Connect(conn net.Conn) error {
	defer conn.Close()

	h.mu.Lock()
	reader := protocol.NewReader(conn, h.maxFrameSize)
	h.mu.Unlock()

	p, snapshot, err := h.join(reader)
	if err != nil {
		return err
	}
	logger.Debugf("[%s] Joined: %s (%s)", conn.RemoteAddr(), p.Username, p.ID)

	joined, ok := h.Joined(p.ID)
	if !ok {
		joined = time.Now()
	}
	err = h.handle(conn, reader, p, snapshot)

	if leaveErr := h.Leave(p.ID); leaveErr != nil {
		logger.Errorf("[%s] Failed to leave: %s", conn.RemoteAddr(), leaveErr)
	}
	logger.Debugf("[%s] Leaving: %s (connected %s): %s", conn.RemoteAddr(), p.Username, humantime.Since(joined), err)
	return err
}

// join waits for the JoinRequest and registers the participant.
func (h *Host) join(reader *protocol.Reader) (chat.Participant, chat.Snapshot, error) {
	m, err := reader.ReadClientMessage()
	if err != nil {
		return chat.Participant{}, chat.Snapshot{}, fmt.Errorf("%w: %w", ErrFailedToJoin, err)
	}
	req, ok := m.(protocol.JoinRequest)
	if !ok {
		return chat.Participant{}, chat.Snapshot{}, fmt.Errorf("%w: expected join request, got %T", ErrFailedToJoin, m)
	}

	p := chat.NewParticipant(protocol.NewID(), req.Username)
	snapshot, err := h.Join(p)
	var encodeErr *chat.EncodeError
	if errors.As(err, &encodeErr) {
		// Joined, but nobody was told.
		logger.Errorf("Failed to announce %s: %s", p.Username, err)
		err = nil
	}
	if err != nil {
		return chat.Participant{}, chat.Snapshot{}, fmt.Errorf("%w: %w", ErrFailedToJoin, err)
	}
	return p, snapshot, nil
}

// handle replies to the join and runs the inbound and outbound loops until
// the first one fails. Both loops have returned by the time handle does.
func (h *Host) handle(conn net.Conn, reader *protocol.Reader, p chat.Participant, snapshot chat.Snapshot) error {
	accepted := protocol.JoinAccepted{
		History:      snapshot.History,
		Participants: snapshot.Participants,
	}
	if err := protocol.Write(conn, accepted); err != nil {
		if errors.Is(err, protocol.ErrEncode) {
			return &chat.EncodeError{Message: accepted, Err: err}
		}
		return &ConnectionClosedError{ID: p.ID, Username: p.Username, Err: err}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		errc <- h.readLoop(reader, p)
	}()
	go func() {
		defer wg.Done()
		errc <- writeLoop(ctx, conn, p)
	}()

	err := <-errc

	// Tear down the other loop: the writer waits on ctx, the reader on conn.
	cancel()
	conn.Close()
	wg.Wait()
	return err
}

func (h *Host) readLoop(reader *protocol.Reader, p chat.Participant) error {
	for {
		m, err := reader.ReadClientMessage()
		if err != nil {
			return &ConnectionClosedError{ID: p.ID, Username: p.Username, Err: err}
		}

		switch m := m.(type) {
		case protocol.Chat:
			_, err := h.Relay(m.Text, p.ID)
			var encodeErr *chat.EncodeError
			if errors.As(err, &encodeErr) {
				logger.Errorf("Failed to relay message from %s: %s", p.Username, err)
				continue
			}
			if err != nil {
				return &ConnectionClosedError{ID: p.ID, Username: p.Username, Err: err}
			}
		case protocol.JoinRequest:
			return &AlreadyJoinedError{ID: p.ID, Username: p.Username}
		}
	}
}

func writeLoop(ctx context.Context, conn net.Conn, p chat.Participant) error {
	for {
		frame, err := p.Outbox.Next(ctx)
		if err != nil {
			return &ConnectionClosedError{ID: p.ID, Username: p.Username, Err: err}
		}
		if err := protocol.WriteFrame(conn, frame); err != nil {
			return &ConnectionClosedError{ID: p.ID, Username: p.Username, Err: err}
		}
	}
}

// Close stops every listener passed to Serve, closes the room and every open
// connection, and waits for the connection handlers to finish.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	listeners := make([]net.Listener, 0, len(h.listeners))
	for l := range h.listeners {
		listeners = append(listeners, l)
	}
	conns := make([]net.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	var errs multiError
	for _, l := range listeners {
		if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	h.Room.Close()
	for _, conn := range conns {
		conn.Close()
	}
	h.wg.Wait()
	return errs.errorOrNil()
}

func (h *Host) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Host) track(l net.Listener) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.listeners[l] = struct{}{}
	return true
}

func (h *Host) untrack(l net.Listener) {
	h.mu.Lock()
	delete(h.listeners, l)
	h.mu.Unlock()
}

// trackConn registers conn with the wait group; the handler goroutine must
// call untrackConn and h.wg.Done.
func (h *Host) trackConn(conn net.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[conn] = struct{}{}
	h.wg.Add(1)
	return true
}

func (h *Host) untrackConn(conn net.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
}
