package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	flags "github.com/jessevdk/go-flags"

	chatapp "github.com/DanielGrotan/chat-app"
	"github.com/DanielGrotan/chat-app/log"
	"github.com/DanielGrotan/chat-app/protocol"
)

// Options contains the flag options
type Options struct {
	Verbose  []bool `short:"v" long:"verbose" description:"Show verbose logging."`
	Addr     string `long:"addr" description:"Host and port of the chat server." default:"127.0.0.1:8080"`
	Ws       string `long:"ws" description:"WebSocket URL of the chat server, e.g. ws://127.0.0.1:8081/chat. Overrides --addr."`
	Username string `short:"u" long:"username" description:"Name to join the room with." required:"true"`
}

func fail(code int, format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(code)
}

// screen prints room events, resolving sender IDs to the usernames it has
// seen so far.
type screen struct {
	out   io.Writer
	names map[protocol.ID]string
	now   func() time.Time
}

func newScreen(out io.Writer, accepted *protocol.JoinAccepted) *screen {
	s := &screen{
		out:   out,
		names: map[protocol.ID]string{},
		now:   time.Now,
	}
	for _, m := range accepted.Participants {
		s.names[m.ID] = m.Username
	}
	return s
}

func (s *screen) name(id protocol.ID) string {
	if name, ok := s.names[id]; ok {
		return name
	}
	return id.String()
}

func (s *screen) chat(m protocol.ChatMessage) {
	ts := humanize.RelTime(time.Unix(int64(m.Timestamp), 0), s.now(), "ago", "from now")
	fmt.Fprintf(s.out, "[%s] %s: %s\n", ts, s.name(m.From), m.Text)
}

func (s *screen) welcome(accepted *protocol.JoinAccepted) {
	for _, m := range accepted.History {
		s.chat(m)
	}
	names := make([]string, 0, len(accepted.Participants))
	for _, m := range accepted.Participants {
		names = append(names, m.Username)
	}
	if len(names) == 0 {
		fmt.Fprintln(s.out, "-> You are alone in the room.")
		return
	}
	fmt.Fprintf(s.out, "-> %d connected: %s\n", len(names), strings.Join(names, ", "))
}

func (s *screen) event(m protocol.ServerMessage) {
	switch m := m.(type) {
	case protocol.ChatEvent:
		s.chat(m.ChatMessage)
	case protocol.UserJoined:
		s.names[m.ID] = m.Username
		fmt.Fprintf(s.out, "-> %s joined.\n", m.Username)
	case protocol.UserLeft:
		fmt.Fprintf(s.out, "-> %s left.\n", s.name(m.ID))
		delete(s.names, m.ID)
	}
}

func main() {
	options := Options{}
	parser := flags.NewParser(&options, flags.Default)
	p, err := parser.Parse()
	if err != nil {
		if p == nil {
			fmt.Print(err)
		}
		return
	}

	logger := log.Init(os.Stderr, len(options.Verbose))

	addr := options.Addr
	if options.Ws != "" {
		addr = options.Ws
	}

	client, accepted, err := chatapp.Dial(addr, options.Username)
	if err != nil {
		fail(1, "Failed to join %s: %v\n", addr, err)
	}
	defer client.Close()

	s := newScreen(os.Stdout, accepted)
	s.welcome(accepted)

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := client.Send(line); err != nil {
				logger.Errorf("Failed to send: %s", err)
				break
			}
		}
		client.Close()
	}()

	for {
		m, err := client.Next()
		if errors.Is(err, protocol.ErrConnectionClosed) {
			fmt.Fprintln(os.Stderr, "Disconnected.")
			return
		}
		if err != nil {
			fail(2, "Connection error: %v\n", err)
		}
		s.event(m)
	}
}
