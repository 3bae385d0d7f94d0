package kouhai

import (
	"testing"

	"git.sr.ht/~delthas/kouhai/irc"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg, err := Defaults()
	if err != nil {
		t.Fatalf("defaults failed: %v", err)
	}
	cfg.Addr = "chat.example.org"
	cfg.Nick = "alice"
	cfg.User = "alice"
	cfg.Real = "Alice"
	app, err := NewApp(cfg)
	if err != nil {
		t.Fatalf("app creation failed: %v", err)
	}
	return app
}

func feedApp(t *testing.T, app *App, line string) {
	t.Helper()
	msg, err := irc.ParseMessage(line)
	if err != nil {
		t.Fatalf("%q: parse failed: %v", line, err)
	}
	app.handleIRCEvent("", msg)
}

// appStates returns the connection states reported so far, in order.
func appStates(app *App) []ConnState {
	var states []ConnState
	for {
		select {
		case ev := <-app.out:
			if cs, ok := ev.Event.(ConnStatusEvent); ok {
				states = append(states, cs.State)
			}
		default:
			return states
		}
	}
}

func TestConnStates(t *testing.T) {
	app := newTestApp(t)
	out := make(chan irc.Message, 128)
	session := irc.NewSession(out, irc.SessionParams{
		Nickname: "alice",
		Username: "alice",
		RealName: "Alice",
	})
	app.handleIRCEvent("", session)

	feedApp(t, app, ":chat.example.org CAP * LS :batch server-time")
	feedApp(t, app, ":chat.example.org 001 alice :Welcome alice")
	feedApp(t, app, ":chat.example.org 005 alice CASEMAPPING=ascii :are supported by this server")

	states := appStates(app)
	expected := []ConnState{CapNegotiating, Registering, Connected}
	if len(states) != len(expected) {
		t.Fatalf("expected states %v, got %v", expected, states)
	}
	for i := range states {
		if states[i] != expected[i] {
			t.Fatalf("expected states %v, got %v", expected, states)
		}
	}
}

func TestAuthErrorTeardown(t *testing.T) {
	app := newTestApp(t)
	out := make(chan irc.Message, 128)
	session := irc.NewSession(out, irc.SessionParams{
		Nickname:     "alice",
		Username:     "alice",
		RealName:     "Alice",
		Auth:         &irc.SASLPlain{Username: "alice", Password: "hunter2"},
		AuthRequired: true,
	})
	app.handleIRCEvent("", session)

	// mandatory authentication fails: the server does not advertise sasl
	feedApp(t, app, ":chat.example.org CAP * LS :batch server-time")
	if _, ok := app.sessions[""]; ok {
		t.Fatalf("expected the session to be dropped")
	}
	if app.states[""] != Closed {
		t.Fatalf("expected state %v, got %v", Closed, app.states[""])
	}
	if app.wantsNetwork("") {
		t.Errorf("expected the network to be removed")
	}

	// lines queued behind the failure are ignored, commands are no-ops
	feedApp(t, app, "PING :token")
	feedApp(t, app, ":chat.example.org CAP * NEW :away-notify")
	app.handleIRCEvent("", action{f: func(s *irc.Session) {
		s.PrivMsg("#chan", "hello")
	}})
}
