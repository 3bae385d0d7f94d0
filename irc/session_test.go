package irc

import (
	"encoding/base64"
	"strings"
	"testing"
)

// drainMessages returns every message currently queued on out without
// blocking.
func drainMessages(out chan Message) []Message {
	var msgs []Message
	for {
		select {
		case m, ok := <-out:
			if !ok {
				return msgs
			}
			msgs = append(msgs, m)
		default:
			return msgs
		}
	}
}

func feedLine(t *testing.T, s *Session, line string) Event {
	t.Helper()
	msg, err := ParseMessage(line)
	if err != nil {
		t.Fatalf("%q: parse failed: %v", line, err)
	}
	ev, err := s.HandleMessage(msg)
	if err != nil {
		t.Fatalf("%q: handling failed: %v", line, err)
	}
	return ev
}

func newTestSession(t *testing.T, params SessionParams) (*Session, chan Message) {
	t.Helper()
	out := make(chan Message, 128)
	s := NewSession(out, params)
	greeting := drainMessages(out)
	if len(greeting) != 3 || greeting[0].Command != "CAP" || greeting[1].Command != "NICK" || greeting[2].Command != "USER" {
		t.Fatalf("unexpected greeting: %v", greeting)
	}
	return s, out
}

func registerTestSession(t *testing.T) (*Session, chan Message) {
	t.Helper()
	s, out := newTestSession(t, SessionParams{Nickname: "alice", Username: "alice", RealName: "Alice"})
	feedLine(t, s, ":chat.example.org CAP * LS :batch draft/multiline message-tags server-time")
	feedLine(t, s, ":chat.example.org CAP * ACK :batch draft/multiline message-tags server-time")
	feedLine(t, s, ":chat.example.org 001 alice :Welcome alice")
	ev := feedLine(t, s, ":chat.example.org 005 alice CASEMAPPING=ascii NETWORK=Example :are supported by this server")
	rev, ok := ev.(RegisteredEvent)
	if !ok {
		t.Fatalf("expected RegisteredEvent, got %#v", ev)
	}
	if rev.Network != "Example" {
		t.Fatalf("expected network name %q, got %q", "Example", rev.Network)
	}
	drainMessages(out)
	return s, out
}

func TestCapNegotiation(t *testing.T) {
	s, out := newTestSession(t, SessionParams{Nickname: "alice", Username: "alice", RealName: "Alice"})

	for _, line := range []string{
		":chat.example.org CAP * LS * :away-notify batch cap-notify",
		":chat.example.org CAP * LS * :echo-message message-tags unknown-cap",
		":chat.example.org CAP * LS * :multi-prefix draft/multiline",
	} {
		feedLine(t, s, line)
		if msgs := drainMessages(out); len(msgs) != 0 {
			t.Fatalf("sent %v before the LS listing was complete", msgs)
		}
	}
	if s.CapEnded() {
		t.Fatalf("negotiation concluded before the LS listing was complete")
	}
	feedLine(t, s, ":chat.example.org CAP * LS :sasl=PLAIN server-time")
	if !s.CapEnded() {
		t.Fatalf("expected negotiation to conclude after the final LS line")
	}

	msgs := drainMessages(out)
	if len(msgs) != 3 {
		t.Fatalf("expected REQ, METADATA SUB and END, got %v", msgs)
	}
	if msgs[0].Command != "CAP" || msgs[0].Params[0] != "REQ" {
		t.Fatalf("expected a CAP REQ, got %v", msgs[0])
	}
	expected := "away-notify batch cap-notify draft/multiline echo-message message-tags multi-prefix sasl server-time"
	if msgs[0].Params[1] != expected {
		t.Errorf("expected request for %q, got %q", expected, msgs[0].Params[1])
	}
	if msgs[1].Command != "METADATA" || msgs[1].Params[1] != "SUB" {
		t.Errorf("expected a METADATA SUB, got %v", msgs[1])
	}
	if msgs[2].Command != "CAP" || msgs[2].Params[0] != "END" {
		t.Errorf("expected a CAP END, got %v", msgs[2])
	}
}

func TestCapNew(t *testing.T) {
	s, out := registerTestSession(t)

	feedLine(t, s, ":chat.example.org CAP alice NEW :away-notify")
	msgs := drainMessages(out)
	if len(msgs) != 1 || msgs[0].Command != "CAP" || msgs[0].Params[0] != "REQ" || msgs[0].Params[1] != "away-notify" {
		t.Errorf("expected a request for the new capability, got %v", msgs)
	}

	feedLine(t, s, ":chat.example.org CAP alice ACK :away-notify")
	if !s.HasCapability("away-notify") {
		t.Errorf("expected away-notify to be enabled")
	}
	feedLine(t, s, ":chat.example.org CAP alice DEL :away-notify")
	if s.HasCapability("away-notify") {
		t.Errorf("expected away-notify to be disabled")
	}
}

func TestSASL(t *testing.T) {
	s, out := newTestSession(t, SessionParams{
		Nickname: "alice",
		Username: "alice",
		RealName: "Alice",
		Auth:     &SASLPlain{Username: "alice", Password: "hunter2"},
	})

	feedLine(t, s, ":chat.example.org CAP * LS :sasl=PLAIN server-time")
	msgs := drainMessages(out)
	if len(msgs) != 1 || msgs[0].Command != "CAP" || msgs[0].Params[0] != "REQ" {
		t.Fatalf("expected only a CAP REQ while authenticating, got %v", msgs)
	}

	feedLine(t, s, ":chat.example.org CAP alice ACK :sasl server-time")
	msgs = drainMessages(out)
	if len(msgs) != 1 || msgs[0].Command != "AUTHENTICATE" || msgs[0].Params[0] != "PLAIN" {
		t.Fatalf("expected the mechanism announcement, got %v", msgs)
	}

	feedLine(t, s, "AUTHENTICATE +")
	msgs = drainMessages(out)
	payload := base64.StdEncoding.EncodeToString([]byte("alice\x00alice\x00hunter2"))
	if len(msgs) != 1 || msgs[0].Command != "AUTHENTICATE" || msgs[0].Params[0] != payload {
		t.Fatalf("expected the plain response, got %v", msgs)
	}

	feedLine(t, s, ":chat.example.org 900 alice alice!a@example.org alice :You are now logged in")
	feedLine(t, s, ":chat.example.org 903 alice :SASL authentication successful")
	msgs = drainMessages(out)
	if len(msgs) != 1 || msgs[0].Command != "CAP" || msgs[0].Params[0] != "END" {
		t.Fatalf("expected a CAP END after authentication, got %v", msgs)
	}
}

func TestAuthRequired(t *testing.T) {
	s, out := newTestSession(t, SessionParams{
		Nickname:     "alice",
		Username:     "alice",
		RealName:     "Alice",
		Auth:         &SASLPlain{Username: "alice", Password: "hunter2"},
		AuthRequired: true,
	})

	// the server does not advertise sasl
	ev := feedLine(t, s, ":chat.example.org CAP * LS :batch server-time")
	if _, ok := ev.(AuthErrorEvent); !ok {
		t.Fatalf("expected AuthErrorEvent, got %#v", ev)
	}
	drainMessages(out)
	if _, ok := <-out; ok {
		t.Errorf("expected the outgoing channel to be closed")
	}
}

func TestNickInUse(t *testing.T) {
	s, out := newTestSession(t, SessionParams{Nickname: "alice", Username: "alice", RealName: "Alice"})
	feedLine(t, s, ":chat.example.org 433 * alice :Nickname is already in use")
	msgs := drainMessages(out)
	if len(msgs) != 1 || msgs[0].Command != "NICK" || msgs[0].Params[0] != "alice_" {
		t.Errorf("expected a fallback NICK, got %v", msgs)
	}
}

func TestISupport(t *testing.T) {
	s, out := registerTestSession(t)
	drainMessages(out)

	if ev := feedLine(t, s, ":chat.example.org 005 alice LINELEN=1024 PREFIX=(qaohv)~&@%+ :are supported by this server"); ev != nil {
		t.Errorf("expected no event on a later 005, got %#v", ev)
	}
	if s.linelen != 1024 {
		t.Errorf("expected linelen 1024, got %d", s.linelen)
	}
	if s.prefixModes != "qaohv" || s.prefixSymbols != "~&@%+" {
		t.Errorf("unexpected prefix parsing: %q %q", s.prefixModes, s.prefixSymbols)
	}
	if s.Casemap("Nick[a]") != "nick[a]" {
		t.Errorf("expected the ascii casemapping to be in effect")
	}
}

func TestMultilineReassembly(t *testing.T) {
	s, out := registerTestSession(t)

	for _, content := range []string{
		"the quick brown fox jumps over the lazy dog\nand a second line",
		strings.Repeat("a", 1000),
	} {
		var ev Event
		for _, msg := range composeMessage("#chan", content, 40, true, MultilineConcat) {
			msg.Prefix = &Prefix{Name: "bob", User: "b", Host: "example.org"}
			e, err := s.HandleMessage(msg)
			if err != nil {
				t.Fatalf("handling failed: %v", err)
			}
			if e != nil {
				ev = e
			}
		}
		mev, ok := ev.(MessageEvent)
		if !ok {
			t.Fatalf("expected MessageEvent, got %#v", ev)
		}
		if mev.User != "bob" || mev.Target != "#chan" {
			t.Errorf("unexpected message source: %q %q", mev.User, mev.Target)
		}
		if mev.Content != content {
			t.Errorf("reassembly produced %q, expected %q", mev.Content, content)
		}
	}
	drainMessages(out)
}

func TestClosedSessionDropsLines(t *testing.T) {
	s, out := newTestSession(t, SessionParams{
		Nickname:     "alice",
		Username:     "alice",
		RealName:     "Alice",
		Auth:         &SASLPlain{Username: "alice", Password: "hunter2"},
		AuthRequired: true,
	})
	feedLine(t, s, ":chat.example.org CAP * LS :sasl=PLAIN server-time")
	feedLine(t, s, ":chat.example.org CAP alice ACK :sasl server-time")
	feedLine(t, s, "AUTHENTICATE +")
	drainMessages(out)

	ev := feedLine(t, s, ":chat.example.org 904 alice :SASL authentication failed")
	if _, ok := ev.(AuthErrorEvent); !ok {
		t.Fatalf("expected AuthErrorEvent, got %#v", ev)
	}

	// lines queued behind the failure are dropped, not handled
	if ev := feedLine(t, s, "PING :token"); ev != nil {
		t.Errorf("expected no event on a closed session, got %#v", ev)
	}
	// commands on the dead session are dropped too
	s.PrivMsg("#chan", "hello")
	s.Join("#chan", "")
	if msgs := drainMessages(out); len(msgs) != 0 {
		t.Errorf("expected no messages from a closed session, got %v", msgs)
	}
}

func TestServerError(t *testing.T) {
	s, out := registerTestSession(t)
	if ev := feedLine(t, s, "ERROR :closing link"); ev != nil {
		t.Fatalf("expected no event, got %#v", ev)
	}
	if ev := feedLine(t, s, "PING :token"); ev != nil {
		t.Errorf("expected no event after the connection ended, got %#v", ev)
	}
	s.PrivMsg("#chan", "hello")
	if msgs := drainMessages(out); len(msgs) != 0 {
		t.Errorf("expected no messages after the connection ended, got %v", msgs)
	}
}

func TestChannelState(t *testing.T) {
	s, out := registerTestSession(t)

	feedLine(t, s, ":alice!a@example.org JOIN #go")
	feedLine(t, s, ":chat.example.org 353 alice = #go :@bob alice +carol")
	feedLine(t, s, ":chat.example.org 332 alice #go :all about go")
	feedLine(t, s, ":chat.example.org 333 alice #go bob!b@example.org 1577882340")
	ev := feedLine(t, s, ":chat.example.org 366 alice #go :End of names list")
	if _, ok := ev.(SelfJoinEvent); !ok {
		t.Fatalf("expected SelfJoinEvent, got %#v", ev)
	}

	names := s.Names("#go")
	if len(names) != 3 {
		t.Fatalf("expected 3 members, got %v", names)
	}
	for i, expected := range []struct {
		powerLevel string
		name       string
		self       bool
	}{
		{"@", "bob", false},
		{"+", "carol", false},
		{"", "alice", true},
	} {
		if names[i].PowerLevel != expected.powerLevel || names[i].Name.Name != expected.name || names[i].Self != expected.self {
			t.Errorf("member #%d: expected %q %q, got %q %q", i,
				expected.powerLevel, expected.name, names[i].PowerLevel, names[i].Name.Name)
		}
	}

	topic, who, at := s.Topic("#go")
	if topic != "all about go" || who == nil || who.Name != "bob" || at.Unix() != 1577882340 {
		t.Errorf("unexpected topic state: %q %v %v", topic, who, at)
	}

	if users := s.Users(); len(users) != 3 {
		t.Errorf("expected 3 known users, got %v", users)
	}
	if shared := s.ChannelsSharedWith("bob"); len(shared) != 1 || shared[0] != "#go" {
		t.Errorf("unexpected shared channels: %v", shared)
	}

	feedLine(t, s, "@+typing=active :bob!b@example.org TAGMSG #go")
	if typings := s.Typings("#go"); len(typings) != 1 || typings[0] != "bob" {
		t.Errorf("unexpected typing members: %v", typings)
	}

	drainMessages(out)
}

func TestCommands(t *testing.T) {
	s, out := registerTestSession(t)

	s.ChangeNick("ani")
	s.Away("brb")
	s.Away("")
	s.Invite("bob", "#go")
	s.Quit("bye")
	s.SendRaw("PING :token")
	s.Send("PONG", "token")

	msgs := drainMessages(out)
	expected := []string{
		"NICK ani",
		"AWAY brb",
		"AWAY",
		"INVITE bob #go",
		"QUIT bye",
		"PING :token",
		"PONG token",
	}
	if len(msgs) != len(expected) {
		t.Fatalf("expected %d messages, got %v", len(expected), msgs)
	}
	for i := range msgs {
		if msgs[i].String() != expected[i] {
			t.Errorf("message #%d: expected %q, got %q", i, expected[i], msgs[i].String())
		}
	}
}

func TestPrivMsg(t *testing.T) {
	s, out := registerTestSession(t)

	s.PrivMsg("#chan", "hello")
	msgs := drainMessages(out)
	if len(msgs) != 1 || msgs[0].Command != "PRIVMSG" || msgs[0].Params[1] != "hello" {
		t.Fatalf("expected a single PRIVMSG, got %v", msgs)
	}

	// draft/multiline was negotiated: long content goes out as a batch
	s.PrivMsg("#chan", strings.Repeat("a", 1000))
	msgs = drainMessages(out)
	if len(msgs) < 4 || msgs[0].Command != "BATCH" || msgs[len(msgs)-1].Command != "BATCH" {
		t.Fatalf("expected a multiline batch, got %v", msgs)
	}
}
