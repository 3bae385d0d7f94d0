package irc

import (
	"testing"
	"time"
)

func assertRoundTrip(t *testing.T, line string) {
	t.Helper()
	msg, err := ParseMessage(line)
	if err != nil {
		t.Errorf("%q: parse failed: %v", line, err)
		return
	}
	if actual := msg.String(); actual != line {
		t.Errorf("%q: round trip produced %q", line, actual)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	for _, line := range []string{
		"PING",
		"PING chat.example.org",
		"PRIVMSG #chan :hello world",
		"PRIVMSG #chan hello",
		"PRIVMSG #chan ::)",
		"PRIVMSG #chan :",
		":nick!user@host PRIVMSG #chan :hello world",
		":chat.example.org 001 nick :Welcome to the network",
		"@msgid=abc :nick!user@host TAGMSG #chan",
		"@+typing=active;msgid=abc :nick!user@host TAGMSG #chan",
		"@time=2020-01-01T12:00:00.000Z :nick!user@host PRIVMSG nick :hi",
		"@key=value\\swith\\sspaces PRIVMSG #chan :tagged",
		"@empty PRIVMSG #chan :empty tag value",
		"CAP REQ :message-tags sasl server-time",
		"AUTHENTICATE +",
	} {
		assertRoundTrip(t, line)
	}
}

func TestParseMessage(t *testing.T) {
	msg, err := ParseMessage("@time=2020-06-02T21:19:00.123Z;+typing=active :nick!user@host PRIVMSG #chan :hello there")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if msg.Command != "PRIVMSG" {
		t.Errorf("expected command PRIVMSG, got %q", msg.Command)
	}
	if msg.Prefix == nil || msg.Prefix.Name != "nick" || msg.Prefix.User != "user" || msg.Prefix.Host != "host" {
		t.Errorf("unexpected prefix: %+v", msg.Prefix)
	}
	if len(msg.Params) != 2 || msg.Params[0] != "#chan" || msg.Params[1] != "hello there" {
		t.Errorf("unexpected params: %v", msg.Params)
	}
	if msg.Tags["+typing"] != "active" {
		t.Errorf("unexpected tags: %v", msg.Tags)
	}
	ts, ok := msg.Time()
	if !ok {
		t.Fatalf("expected a time tag")
	}
	expected := time.Date(2020, 6, 2, 21, 19, 0, 123_000_000, time.UTC)
	if !ts.Equal(expected) {
		t.Errorf("expected time %v, got %v", expected, ts)
	}
}

func TestParseMessageErrors(t *testing.T) {
	for _, line := range []string{
		"",
		"    ",
		"@tag=value",
		"@tag=value :nick!user@host",
		":nick!user@host",
	} {
		if _, err := ParseMessage(line); err == nil {
			t.Errorf("%q: expected an error", line)
		}
	}
}

func TestTagEscapes(t *testing.T) {
	for _, test := range []struct {
		escaped   string
		unescaped string
	}{
		{"", ""},
		{"hello", "hello"},
		{"hello\\sworld", "hello world"},
		{"semi\\:colon", "semi;colon"},
		{"back\\\\slash", "back\\slash"},
		{"new\\nline", "new\nline"},
		{"carriage\\rreturn", "carriage\rreturn"},
	} {
		if actual := unescapeTagValue(test.escaped); actual != test.unescaped {
			t.Errorf("%q: expected unescape %q, got %q", test.escaped, test.unescaped, actual)
		}
		if actual := escapeTagValue(test.unescaped); actual != test.escaped {
			t.Errorf("%q: expected escape %q, got %q", test.unescaped, test.escaped, actual)
		}
	}
	// a trailing backslash is dropped
	if actual := unescapeTagValue("value\\"); actual != "value" {
		t.Errorf("expected %q, got %q", "value", actual)
	}
}

func TestParseParams(t *testing.T) {
	msg := NewMessage("PRIVMSG", "#chan", "hello")
	var target, content string
	if err := msg.ParseParams(&target, &content); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target != "#chan" || content != "hello" {
		t.Errorf("unexpected params: %q %q", target, content)
	}
	if err := msg.ParseParams(nil, nil, &content); err == nil {
		t.Errorf("expected an error for missing params")
	}
}

func TestParseCaps(t *testing.T) {
	caps := ParseCaps("sasl=PLAIN,EXTERNAL -batch draft/multiline=max-bytes=4096")
	if len(caps) != 3 {
		t.Fatalf("expected 3 caps, got %d", len(caps))
	}
	if caps[0].Name != "sasl" || !caps[0].Enable || caps[0].Value != "PLAIN,EXTERNAL" {
		t.Errorf("unexpected cap: %+v", caps[0])
	}
	if caps[1].Name != "batch" || caps[1].Enable {
		t.Errorf("unexpected cap: %+v", caps[1])
	}
	if caps[2].Name != "draft/multiline" || caps[2].Value != "max-bytes=4096" {
		t.Errorf("unexpected cap: %+v", caps[2])
	}
}

func TestCasemap(t *testing.T) {
	if CasemapASCII("Nick[a]") != "nick[a]" {
		t.Errorf("unexpected ascii casemap")
	}
	if CasemapRFC1459("Nick[a]~") != "nick{a}^" {
		t.Errorf("unexpected rfc1459 casemap")
	}
}
