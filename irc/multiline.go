package irc

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// draft/multiline batch type and member tag names.
const (
	multilineCap       = "draft/multiline"
	multilineConcatTag = "draft/multiline-concat"
)

// MultilineFallback is how a message spanning several lines is sent to a
// server that does not support multiline batches.
type MultilineFallback int

const (
	// MultilineConcat joins all lines with a space into a single message.
	MultilineConcat MultilineFallback = iota
	// MultilineSeparate sends each line as its own message.
	MultilineSeparate
)

// composeMessage renders text destined to target into wire messages.
//
// A single line within budget is sent as one PRIVMSG. When multiline is
// enabled, anything else becomes one batch: each line is split on word
// boundaries into fragments of at most budget bytes, and every fragment
// after the first of a line carries the concat tag, so that reassembly
// joins fragments without a separator and distinct lines with a newline.
// Without multiline, fallback decides whether lines are first joined with
// a space or sent separately.
func composeMessage(target, text string, budget int, multiline bool, fallback MultilineFallback) []Message {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return nil
	}
	lines := strings.Split(text, "\n")

	if len(lines) == 1 && len(lines[0]) <= budget {
		return []Message{NewMessage("PRIVMSG", target, lines[0])}
	}

	if !multiline {
		if fallback == MultilineConcat {
			lines = []string{strings.Join(lines, " ")}
		}
		var msgs []Message
		for _, line := range lines {
			if line == "" {
				continue
			}
			for _, frag := range splitWords(line, budget) {
				msgs = append(msgs, NewMessage("PRIVMSG", target, frag))
			}
		}
		return msgs
	}

	id := uuid.NewString()
	msgs := make([]Message, 0, len(lines)+2)
	msgs = append(msgs, NewMessage("BATCH", "+"+id, multilineCap, target))
	for _, line := range lines {
		for i, frag := range splitWords(line, budget) {
			m := NewMessage("PRIVMSG", target, frag).WithTag("batch", id)
			if i > 0 {
				m = m.WithTag(multilineConcatTag, "")
			}
			msgs = append(msgs, m)
		}
	}
	msgs = append(msgs, NewMessage("BATCH", "-"+id))
	return msgs
}

// multilineBatch accumulates the members of one incoming multiline batch
// until the closing BATCH line.
type multilineBatch struct {
	target  string
	from    *Prefix
	command string
	time    time.Time
	started bool

	content strings.Builder
}
