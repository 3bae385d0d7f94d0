package irc

import (
	"strings"

	"github.com/rivo/uniseg"
)

// worst case IPv4 host, used to estimate our mask before the server tells us
// our actual host.
const fallbackHostLen = len("255.255.255.255")

// budgetSlack is subtracted from every computed budget on top of the rendered
// mask estimate. Its exact value is not derivable from the protocol limits;
// it is validated by the splitting tests.
const budgetSlack = 10

// MessageBudget is the maximum byte length of the content of a single
// PRIVMSG to target, such that the line as relayed by the server (with our
// full ":nick!user@host " mask prepended) stays within linelen bytes,
// "\r\n" included.
func MessageBudget(linelen int, nick, user, host, target string) int {
	hostLen := len(host)
	if hostLen == 0 {
		hostLen = fallbackHostLen
	}
	return linelen -
		len(":!@ PRIVMSG  :\r\n") -
		len(nick) -
		len(user) -
		hostLen -
		len(target) -
		budgetSlack
}

// splitChunks splits s into chunks of at most chunkLen bytes, at grapheme
// cluster boundaries.
func splitChunks(s string, chunkLen int) (chunks []string) {
	if chunkLen <= 0 || len(s) <= chunkLen {
		return []string{s}
	}

	b := 0
	n := 0
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		cw := len(g.Str())
		if n+cw > chunkLen {
			chunks = append(chunks, s[b:b+n])
			b += n
			n = cw
			continue
		}
		n += cw
	}
	if b < len(s) {
		chunks = append(chunks, s[b:])
	}
	return
}

// splitWords splits s into fragments of at most budget bytes, preferring
// word boundaries. A word longer than the budget is hard-split with
// splitChunks. The concatenation of all fragments is exactly s: split points
// keep the separating space at the end of the left fragment.
func splitWords(s string, budget int) (fragments []string) {
	if budget <= 0 || len(s) <= budget {
		return []string{s}
	}

	for len(s) > budget {
		if i := strings.LastIndexByte(s[:budget], ' '); i >= 0 {
			fragments = append(fragments, s[:i+1])
			s = s[i+1:]
			continue
		}
		// unsplittable word: hard split
		c := splitChunks(s, budget)[0]
		if c == "" {
			// a single grapheme cluster exceeds the budget; split at the
			// byte boundary as a last resort
			c = s[:budget]
		}
		fragments = append(fragments, c)
		s = s[len(c):]
	}
	fragments = append(fragments, s)
	return
}
