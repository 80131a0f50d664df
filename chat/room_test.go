package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DanielGrotan/chat-app/protocol"
)

// drain decodes everything currently queued for p.
func drain(t *testing.T, p Participant) []protocol.ServerMessage {
	t.Helper()
	var r []protocol.ServerMessage
	for p.Outbox.Len() > 0 {
		frame, err := p.Outbox.Next(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		m, err := protocol.ReadServerMessage(bytes.NewReader(frame))
		if err != nil {
			t.Fatal(err)
		}
		r = append(r, m)
	}
	return r
}

func join(t *testing.T, room *Room, name string) (Participant, Snapshot) {
	t.Helper()
	p := NewParticipant(protocol.NewID(), name)
	snapshot, err := room.Join(p)
	if err != nil {
		t.Fatal(err)
	}
	return p, snapshot
}

func fixedClock(ts int64) func() time.Time {
	return func() time.Time { return time.Unix(ts, 0) }
}

func TestRoomScenario(t *testing.T) {
	room := NewRoom()
	room.now = fixedClock(1700000000)

	alice, snapshot := join(t, room, "alice")
	if len(snapshot.History) != 0 || len(snapshot.Participants) != 0 {
		t.Errorf("Got: %+v; Expected an empty snapshot", snapshot)
	}

	bob, snapshot := join(t, room, "bob")
	expected := []protocol.Member{{ID: alice.ID, Username: "alice"}}
	if !reflect.DeepEqual(snapshot.Participants, expected) {
		t.Errorf("Got: %v; Expected: %v", snapshot.Participants, expected)
	}
	if actual, expected := drain(t, alice), []protocol.ServerMessage{protocol.UserJoined{ID: bob.ID, Username: "bob"}}; !reflect.DeepEqual(actual, expected) {
		t.Errorf("Got: %v; Expected: %v", actual, expected)
	}

	if _, err := room.Relay("hi", alice.ID); err != nil {
		t.Fatal(err)
	}
	if actual := drain(t, alice); len(actual) != 0 {
		t.Errorf("Sender received its own message: %v", actual)
	}
	chat := protocol.ChatEvent{ChatMessage: protocol.ChatMessage{From: alice.ID, Text: "hi", Timestamp: 1700000000}}
	if actual, expected := drain(t, bob), []protocol.ServerMessage{chat}; !reflect.DeepEqual(actual, expected) {
		t.Errorf("Got: %v; Expected: %v", actual, expected)
	}

	if err := room.Leave(bob.ID); err != nil {
		t.Fatal(err)
	}
	if actual, expected := drain(t, alice), []protocol.ServerMessage{protocol.UserLeft{ID: bob.ID}}; !reflect.DeepEqual(actual, expected) {
		t.Errorf("Got: %v; Expected: %v", actual, expected)
	}
	if _, ok := room.Participant(bob.ID); ok {
		t.Error("bob is still registered after leaving")
	}
	if actual, expected := room.Len(), 1; actual != expected {
		t.Errorf("Got: %d; Expected: %d", actual, expected)
	}
}

func TestRoomNoSelfEcho(t *testing.T) {
	room := NewRoom()
	a, _ := join(t, room, "a")
	b, _ := join(t, room, "b")
	c, _ := join(t, room, "c")
	drain(t, a)
	drain(t, b)

	if _, err := room.Relay("T", a.ID); err != nil {
		t.Fatal(err)
	}

	if actual := drain(t, a); len(actual) != 0 {
		t.Errorf("Got: %v; Expected nothing for the sender", actual)
	}
	for _, p := range []Participant{b, c} {
		actual := drain(t, p)
		if len(actual) != 1 {
			t.Fatalf("%s: Got %d messages; Expected: 1", p.Username, len(actual))
		}
		m, ok := actual[0].(protocol.ChatEvent)
		if !ok || m.From != a.ID || m.Text != "T" {
			t.Errorf("%s: Got: %v; Expected chat T from a", p.Username, actual[0])
		}
	}
}

func TestRoomJoinSnapshot(t *testing.T) {
	room := NewRoom()

	var members []protocol.Member
	var senders []Participant
	for _, name := range []string{"p1", "p2", "p3"} {
		p, _ := join(t, room, name)
		members = append(members, p.Member())
		senders = append(senders, p)
	}

	var history []protocol.ChatMessage
	for i := 0; i < 5; i++ {
		msg, err := room.Relay(fmt.Sprintf("m%d", i), senders[i%len(senders)].ID)
		if err != nil {
			t.Fatal(err)
		}
		history = append(history, msg)
	}

	_, snapshot := join(t, room, "p4")
	if !reflect.DeepEqual(snapshot.History, history) {
		t.Errorf("Got: %v; Expected: %v", snapshot.History, history)
	}
	if !reflect.DeepEqual(snapshot.Participants, members) {
		t.Errorf("Got: %v; Expected: %v", snapshot.Participants, members)
	}

	full := room.Snapshot()
	if actual, expected := len(full.Participants), 4; actual != expected {
		t.Errorf("Got: %d; Expected: %d", actual, expected)
	}
	if actual, expected := full.Participants[3].Username, "p4"; actual != expected {
		t.Errorf("Got: %q; Expected: %q", actual, expected)
	}
}

func TestRoomLeaveIdempotent(t *testing.T) {
	room := NewRoom()
	alice, _ := join(t, room, "alice")
	bob, _ := join(t, room, "bob")
	drain(t, alice)

	if err := room.Leave(bob.ID); err != nil {
		t.Fatal(err)
	}
	if err := room.Leave(bob.ID); err != nil {
		t.Fatal(err)
	}
	if err := room.Leave(protocol.NewID()); err != nil {
		t.Fatal(err)
	}

	if actual, expected := drain(t, alice), []protocol.ServerMessage{protocol.UserLeft{ID: bob.ID}}; !reflect.DeepEqual(actual, expected) {
		t.Errorf("Got: %v; Expected: %v", actual, expected)
	}

	select {
	case <-bob.Outbox.Done():
	default:
		t.Error("Outbox of a participant that left is still open")
	}
}

func TestRoomSlowConsumer(t *testing.T) {
	room := NewRoom()
	join(t, room, "stalled") // never drained
	fast, _ := join(t, room, "fast")
	sender, _ := join(t, room, "sender")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			if _, err := room.Relay("spam", sender.ID); err != nil {
				t.Error(err)
				return
			}
		}
		late := NewParticipant(protocol.NewID(), "late")
		if _, err := room.Join(late); err != nil {
			t.Error(err)
			return
		}
		room.Leave(late.ID)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("room operations stalled behind a slow consumer")
	}

	// sender and late joining, 1000 messages, late leaving.
	if actual, expected := len(drain(t, fast)), 1+1000+2; actual != expected {
		t.Errorf("Got: %d; Expected: %d", actual, expected)
	}
}

func TestRoomEncodeFailure(t *testing.T) {
	room := NewRoom()
	alice, _ := join(t, room, "alice")
	bob, _ := join(t, room, "bob")
	drain(t, alice)

	_, err := room.Relay("\xff", alice.ID)
	var encodeErr *EncodeError
	if !errors.As(err, &encodeErr) {
		t.Fatalf("Got: %v; Expected an EncodeError", err)
	}
	if !errors.Is(err, protocol.ErrEncode) {
		t.Errorf("Got: %v; Expected: %v", err, protocol.ErrEncode)
	}
	if _, ok := encodeErr.Message.(protocol.ChatEvent); !ok {
		t.Errorf("Got: %T; Expected: protocol.ChatEvent", encodeErr.Message)
	}

	if actual, expected := len(room.Snapshot().History), 1; actual != expected {
		t.Errorf("History was rolled back: Got %d entries; Expected: %d", actual, expected)
	}
	if actual := drain(t, bob); len(actual) != 0 {
		t.Errorf("Got: %v; Expected no broadcast", actual)
	}

	// The room keeps working.
	if _, err := room.Relay("ok", alice.ID); err != nil {
		t.Fatal(err)
	}
	if actual, expected := len(drain(t, bob)), 1; actual != expected {
		t.Errorf("Got: %d; Expected: %d", actual, expected)
	}
}

func TestRoomJoinErrors(t *testing.T) {
	room := NewRoom()
	alice, _ := join(t, room, "alice")

	tests := []struct {
		input    Participant
		expected error
	}{
		{Participant{ID: protocol.NewID(), Username: "nobox"}, ErrNoOutbox},
		{NewParticipant(alice.ID, "impostor"), ErrIDTaken},
	}

	for _, test := range tests {
		if _, err := room.Join(test.input); err != test.expected {
			t.Errorf("Got: %v; Expected: %v", err, test.expected)
		}
	}
	if actual, expected := room.Len(), 1; actual != expected {
		t.Errorf("Got: %d; Expected: %d", actual, expected)
	}
	if actual := drain(t, alice); len(actual) != 0 {
		t.Errorf("Failed joins were announced: %v", actual)
	}
}

func TestRoomRelayNotMember(t *testing.T) {
	room := NewRoom()
	if _, err := room.Relay("hi", protocol.NewID()); err != ErrNotMember {
		t.Errorf("Got: %v; Expected: %v", err, ErrNotMember)
	}
	if actual := len(room.Snapshot().History); actual != 0 {
		t.Errorf("Got %d history entries; Expected: 0", actual)
	}
}

func TestRoomClose(t *testing.T) {
	room := NewRoom()
	alice, _ := join(t, room, "alice")

	room.Close()
	room.Close()

	select {
	case <-alice.Outbox.Done():
	default:
		t.Error("Outbox still open after the room closed")
	}
	if _, err := room.Join(NewParticipant(protocol.NewID(), "bob")); err != ErrRoomClosed {
		t.Errorf("Got: %v; Expected: %v", err, ErrRoomClosed)
	}
	if _, err := room.Relay("hi", alice.ID); err != ErrRoomClosed {
		t.Errorf("Got: %v; Expected: %v", err, ErrRoomClosed)
	}
	if actual := room.Len(); actual != 0 {
		t.Errorf("Got: %d; Expected: 0", actual)
	}
}

func TestRoomJoinAnyName(t *testing.T) {
	room := NewRoom()
	alice, _ := join(t, room, "alice")

	for _, name := range []string{"", "  bob  "} {
		p, _ := join(t, room, name)
		if actual, ok := room.Participant(p.ID); !ok || actual.Username != name {
			t.Errorf("Got: %q; Expected: %q", actual.Username, name)
		}
	}

	expected := []string{"", "  bob  "}
	for i, m := range drain(t, alice) {
		joined, ok := m.(protocol.UserJoined)
		if !ok || joined.Username != expected[i] {
			t.Errorf("Got: %v; Expected UserJoined for %q", m, expected[i])
		}
	}
}

type lineWriter chan string

func (w lineWriter) Write(p []byte) (int, error) {
	w <- string(p)
	return len(p), nil
}

func TestRoomTranscript(t *testing.T) {
	room := NewRoom()
	room.now = fixedClock(0)
	out := make(lineWriter, 10)
	room.SetLogging(out)
	defer room.Close()

	alice, _ := join(t, room, "alice")
	room.Relay("hello", alice.ID)
	room.Leave(alice.ID)

	expected := []string{
		"1970-01-01T00:00:00Z * alice joined. (Connected: 1)\n",
		"1970-01-01T00:00:00Z alice: hello\n",
		"1970-01-01T00:00:00Z * alice left.\n",
	}
	for _, line := range expected {
		select {
		case actual := <-out:
			if actual != line {
				t.Errorf("Got: %q; Expected: %q", actual, line)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", line)
		}
	}
}

func TestRoomConcurrent(t *testing.T) {
	room := NewRoom()
	observer, _ := join(t, room, "observer")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := NewParticipant(protocol.NewID(), fmt.Sprintf("user%d", i))
			if _, err := room.Join(p); err != nil {
				t.Error(err)
				return
			}
			for j := 0; j < 10; j++ {
				room.Relay(strings.Repeat("x", j), p.ID)
			}
			room.Leave(p.ID)
		}(i)
	}
	wg.Wait()

	if actual, expected := len(room.Snapshot().History), 100; actual != expected {
		t.Errorf("Got: %d; Expected: %d", actual, expected)
	}
	if actual, expected := room.Len(), 1; actual != expected {
		t.Errorf("Got: %d; Expected: %d", actual, expected)
	}
	// 10 joins, 100 messages, 10 leaves.
	if actual, expected := len(drain(t, observer)), 120; actual != expected {
		t.Errorf("Got: %d; Expected: %d", actual, expected)
	}
}

// slowWriter records every write after a short pause.
type slowWriter struct {
	mu    sync.Mutex
	lines []string
}

func (w *slowWriter) Write(p []byte) (int, error) {
	time.Sleep(time.Millisecond)
	w.mu.Lock()
	w.lines = append(w.lines, string(p))
	w.mu.Unlock()
	return len(p), nil
}

func TestRoomCloseFlushesTranscript(t *testing.T) {
	room := NewRoom()
	out := &slowWriter{}
	room.SetLogging(out)

	alice, _ := join(t, room, "alice")
	for i := 0; i < 50; i++ {
		room.Relay(fmt.Sprintf("m%d", i), alice.ID)
	}
	room.Close()

	out.mu.Lock()
	defer out.mu.Unlock()
	// One join and 50 messages; nobody left before the room closed.
	if actual, expected := len(out.lines), 51; actual != expected {
		t.Fatalf("Got: %d lines; Expected: %d", actual, expected)
	}
	if actual := out.lines[50]; !strings.HasSuffix(actual, " alice: m49\n") {
		t.Errorf("Got: %q; Expected the last message", actual)
	}
}
