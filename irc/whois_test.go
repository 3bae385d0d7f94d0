package irc

import (
	"testing"
	"time"
)

func TestWhois(t *testing.T) {
	s, out := registerTestSession(t)

	if ev := s.Whois("Bob"); ev != nil {
		t.Fatalf("expected no cached result, got %#v", ev)
	}
	msgs := drainMessages(out)
	if len(msgs) != 1 || msgs[0].Command != "WHOIS" || msgs[0].Params[0] != "Bob" {
		t.Fatalf("expected a single WHOIS request, got %v", msgs)
	}

	// a second lookup while the first is in flight stays off the wire
	if ev := s.Whois("bob"); ev != nil {
		t.Fatalf("expected no result while in flight, got %#v", ev)
	}
	if msgs := drainMessages(out); len(msgs) != 0 {
		t.Fatalf("expected no duplicate request, got %v", msgs)
	}

	feedLine(t, s, ":chat.example.org 311 alice Bob bob example.org * :Bob Burger")
	feedLine(t, s, ":chat.example.org 312 alice Bob irc.example.org :Example server")
	feedLine(t, s, ":chat.example.org 319 alice Bob :#chan1 #chan2")
	feedLine(t, s, ":chat.example.org 317 alice Bob 120 1577882340 :seconds idle, signon time")
	feedLine(t, s, ":chat.example.org 671 alice Bob :is using a secure connection")
	ev := feedLine(t, s, ":chat.example.org 318 alice Bob :End of /WHOIS list")

	wev, ok := ev.(WhoisEvent)
	if !ok {
		t.Fatalf("expected WhoisEvent, got %#v", ev)
	}
	if wev.Nick != "Bob" || wev.User != "bob" || wev.Host != "example.org" || wev.Realname != "Bob Burger" {
		t.Errorf("unexpected identity: %#v", wev)
	}
	if wev.Server != "irc.example.org" {
		t.Errorf("unexpected server: %q", wev.Server)
	}
	if len(wev.Channels) != 2 || wev.Channels[0] != "#chan1" || wev.Channels[1] != "#chan2" {
		t.Errorf("unexpected channels: %v", wev.Channels)
	}
	if wev.Idle != 120*time.Second {
		t.Errorf("unexpected idle time: %v", wev.Idle)
	}
	if !wev.Secure {
		t.Errorf("expected a secure connection")
	}

	// now answered from the cache, without wire traffic
	cached := s.Whois("BOB")
	if cached == nil {
		t.Fatalf("expected a cached result")
	}
	if cached.User != "bob" || len(cached.Channels) != 2 {
		t.Errorf("unexpected cached result: %#v", cached)
	}
	if msgs := drainMessages(out); len(msgs) != 0 {
		t.Errorf("expected no request for a cached lookup, got %v", msgs)
	}
}

func TestWhoisExpiry(t *testing.T) {
	s, out := registerTestSession(t)

	s.whois["bob"] = &whoisRecord{
		ev:     WhoisEvent{Nick: "bob", User: "bob"},
		sealed: time.Now().Add(-2 * whoisTTL),
	}
	if ev := s.Whois("bob"); ev != nil {
		t.Fatalf("expected the stale record to be refreshed, got %#v", ev)
	}
	msgs := drainMessages(out)
	if len(msgs) != 1 || msgs[0].Command != "WHOIS" {
		t.Errorf("expected a new WHOIS request, got %v", msgs)
	}
}

func TestWhoisUnsolicited(t *testing.T) {
	s, out := registerTestSession(t)

	// replies for a nick we never asked about are dropped
	if ev := feedLine(t, s, ":chat.example.org 311 alice mallory m example.org * :Mallory"); ev != nil {
		t.Errorf("expected no event, got %#v", ev)
	}
	if ev := feedLine(t, s, ":chat.example.org 318 alice mallory :End of /WHOIS list"); ev != nil {
		t.Errorf("expected no event, got %#v", ev)
	}
	if msgs := drainMessages(out); len(msgs) != 0 {
		t.Errorf("expected no wire traffic, got %v", msgs)
	}
}
