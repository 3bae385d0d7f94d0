package irc

import (
	"strings"
	"testing"
)

func TestComposeMessageSingle(t *testing.T) {
	msgs := composeMessage("#chan", "hello world", 400, true, MultilineConcat)
	if len(msgs) != 1 {
		t.Fatalf("expected a single message, got %d", len(msgs))
	}
	if msgs[0].Command != "PRIVMSG" || msgs[0].Params[0] != "#chan" || msgs[0].Params[1] != "hello world" {
		t.Errorf("unexpected message: %v", msgs[0])
	}
	if len(msgs[0].Tags) != 0 {
		t.Errorf("unexpected tags on a plain message: %v", msgs[0].Tags)
	}
}

func TestComposeMessageBatch(t *testing.T) {
	content := strings.Repeat("a", 1000)
	msgs := composeMessage("#chan", content, 400, true, MultilineConcat)
	if len(msgs) < 4 {
		t.Fatalf("expected an open, at least 2 fragments and a close, got %d messages", len(msgs))
	}

	open := msgs[0]
	if open.Command != "BATCH" || !strings.HasPrefix(open.Params[0], "+") {
		t.Fatalf("expected an opening BATCH, got %v", open)
	}
	if open.Params[1] != "draft/multiline" || open.Params[2] != "#chan" {
		t.Errorf("unexpected batch parameters: %v", open.Params)
	}
	id := open.Params[0][1:]

	closing := msgs[len(msgs)-1]
	if closing.Command != "BATCH" || closing.Params[0] != "-"+id {
		t.Errorf("expected a closing BATCH for %q, got %v", id, closing)
	}

	var sb strings.Builder
	for i, msg := range msgs[1 : len(msgs)-1] {
		if msg.Command != "PRIVMSG" {
			t.Fatalf("unexpected batch member: %v", msg)
		}
		if len(msg.Params[1]) > 400 {
			t.Errorf("fragment #%d exceeds the budget: %d bytes", i, len(msg.Params[1]))
		}
		if msg.Tags["batch"] != id {
			t.Errorf("fragment #%d is not tagged with the batch id", i)
		}
		_, concat := msg.Tags[multilineConcatTag]
		if concat != (i > 0) {
			t.Errorf("fragment #%d: unexpected concat tag presence %v", i, concat)
		}
		sb.WriteString(msg.Params[1])
	}
	if sb.String() != content {
		t.Errorf("fragment concatenation does not reproduce the content")
	}
}

func TestComposeMessageBatchLines(t *testing.T) {
	// "aaaa bbbb" splits into two fragments of one line, then a new line
	msgs := composeMessage("#chan", "aaaa bbbb\ncc", 5, true, MultilineConcat)
	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages, got %d: %v", len(msgs), msgs)
	}
	for i, expected := range []struct {
		content string
		concat  bool
	}{
		{"aaaa ", false},
		{"bbbb", true},
		{"cc", false},
	} {
		msg := msgs[i+1]
		if msg.Params[1] != expected.content {
			t.Errorf("fragment #%d: expected %q, got %q", i, expected.content, msg.Params[1])
		}
		if _, concat := msg.Tags[multilineConcatTag]; concat != expected.concat {
			t.Errorf("fragment #%d: unexpected concat tag presence %v", i, concat)
		}
	}
}

func TestComposeMessageFallback(t *testing.T) {
	msgs := composeMessage("#chan", "line1\nline2", 400, false, MultilineConcat)
	if len(msgs) != 1 {
		t.Fatalf("expected a single concatenated message, got %v", msgs)
	}
	if msgs[0].Command != "PRIVMSG" || msgs[0].Params[1] != "line1 line2" {
		t.Errorf("unexpected message: %v", msgs[0])
	}

	msgs = composeMessage("#chan", "line1\nline2", 400, false, MultilineSeparate)
	if len(msgs) != 2 {
		t.Fatalf("expected two messages, got %v", msgs)
	}
	if msgs[0].Params[1] != "line1" || msgs[1].Params[1] != "line2" {
		t.Errorf("unexpected messages: %v", msgs)
	}
}

func TestComposeMessageEmpty(t *testing.T) {
	for _, content := range []string{"", "   ", " \n ", "\r\n"} {
		if msgs := composeMessage("#chan", content, 400, true, MultilineConcat); msgs != nil {
			t.Errorf("%q: expected no messages, got %v", content, msgs)
		}
	}
}
