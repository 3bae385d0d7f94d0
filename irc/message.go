package irc

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// CasemapASCII of name is the canonical representation of name according to
// the ascii casemapping.
func CasemapASCII(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	for _, r := range name {
		if 'A' <= r && r <= 'Z' {
			r += 'a' - 'A'
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// CasemapRFC1459 of name is the canonical representation of name according to
// the rfc-1459 casemapping.
func CasemapRFC1459(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	for _, r := range name {
		if 'A' <= r && r <= 'Z' {
			r += 'a' - 'A'
		} else if r == '[' {
			r = '{'
		} else if r == ']' {
			r = '}'
		} else if r == '\\' {
			r = '|'
		} else if r == '~' {
			r = '^'
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// word returns the first word of s and the rest of s.
func word(s string) (word, rest string) {
	split := strings.SplitN(s, " ", 2)
	if len(split) < 2 {
		word = split[0]
		rest = ""
	} else {
		word = split[0]
		rest = split[1]
	}
	return
}

// tagEscape maps escape sequence characters to their meaning, as defined by
// the message-tags specification.
var tagEscape = map[byte]byte{
	':':  ';',
	's':  ' ',
	'r':  '\r',
	'n':  '\n',
	'\\': '\\',
}

func unescapeTagValue(escaped string) string {
	if !strings.ContainsRune(escaped, '\\') {
		return escaped
	}
	var sb strings.Builder
	sb.Grow(len(escaped))
	for i := 0; i < len(escaped); i++ {
		c := escaped[i]
		if c != '\\' {
			sb.WriteByte(c)
			continue
		}
		if i == len(escaped)-1 {
			// trailing lone backslash is dropped
			break
		}
		i++
		if unescaped, ok := tagEscape[escaped[i]]; ok {
			sb.WriteByte(unescaped)
		} else {
			sb.WriteByte(escaped[i])
		}
	}
	return sb.String()
}

func escapeTagValue(unescaped string) string {
	if !strings.ContainsAny(unescaped, "; \r\n\\") {
		return unescaped
	}
	var sb strings.Builder
	sb.Grow(len(unescaped) * 2)
	for i := 0; i < len(unescaped); i++ {
		switch c := unescaped[i]; c {
		case ';':
			sb.WriteString("\\:")
		case ' ':
			sb.WriteString("\\s")
		case '\r':
			sb.WriteString("\\r")
		case '\n':
			sb.WriteString("\\n")
		case '\\':
			sb.WriteString("\\\\")
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

func parseTags(s string) (tags map[string]string) {
	tags = map[string]string{}
	for _, item := range strings.Split(s, ";") {
		if item == "" || item == "=" || item == "+" || item == "+=" {
			continue
		}
		kv := strings.SplitN(item, "=", 2)
		if len(kv) < 2 {
			tags[kv[0]] = ""
		} else {
			tags[kv[0]] = unescapeTagValue(kv[1])
		}
	}
	return
}

// formatTags formats tags as a wire tag segment (without the leading '@').
// Keys are emitted in sorted order so that output is deterministic; tag order
// carries no meaning on the wire.
func formatTags(tags map[string]string) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		if sb.Len() > 0 {
			sb.WriteByte(';')
		}
		sb.WriteString(k)
		if v := tags[k]; v != "" {
			sb.WriteByte('=')
			sb.WriteString(escapeTagValue(v))
		}
	}
	return sb.String()
}

var (
	errEmptyMessage      = fmt.Errorf("empty message")
	errIncompleteMessage = fmt.Errorf("message is incomplete")
)

// Prefix is the source of a message, as in ":nick!user@host".
type Prefix struct {
	Name string
	User string
	Host string
}

// ParsePrefix parses a "nick!user@host" combination (a prefix) from s.
func ParsePrefix(s string) (p *Prefix) {
	if s == "" {
		return
	}

	p = &Prefix{}

	spl0 := strings.Split(s, "@")
	if 1 < len(spl0) {
		p.Host = spl0[1]
	}

	spl1 := strings.Split(spl0[0], "!")
	if 1 < len(spl1) {
		p.User = spl1[1]
	}

	p.Name = spl1[0]

	return
}

// Copy makes a copy of the prefix, but doesn't copy the internal strings.
func (p *Prefix) Copy() *Prefix {
	if p == nil {
		return nil
	}
	res := &Prefix{}
	*res = *p
	return res
}

// String returns the "nick!user@host" representation of the prefix.
func (p *Prefix) String() string {
	if p == nil {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(p.Name)
	if p.User != "" {
		sb.WriteRune('!')
		sb.WriteString(p.User)
	}
	if p.Host != "" {
		sb.WriteRune('@')
		sb.WriteString(p.Host)
	}

	return sb.String()
}

// Message is the representation of a single IRC line.
type Message struct {
	Tags    map[string]string
	Prefix  *Prefix
	Command string
	Params  []string

	// whether the last parameter was a trailing parameter on the wire.
	trailing bool
}

// NewMessage returns a message with the given command and parameters, with no
// tags and no prefix.
func NewMessage(command string, params ...string) Message {
	return Message{Command: command, Params: params}
}

// WithTag returns a copy of the message with the given tag set.
func (msg Message) WithTag(key, value string) Message {
	tags := make(map[string]string, len(msg.Tags)+1)
	for k, v := range msg.Tags {
		tags[k] = v
	}
	tags[key] = value
	msg.Tags = tags
	return msg
}

// ParseMessage parses the message from the given string, which must be
// trimmed of "\r\n" beforehand.
func ParseMessage(line string) (msg Message, err error) {
	line = strings.TrimLeft(line, " ")
	if line == "" {
		err = errEmptyMessage
		return
	}

	if line[0] == '@' {
		var tags string

		tags, line = word(line[1:])
		msg.Tags = parseTags(tags)
	}

	line = strings.TrimLeft(line, " ")
	if line == "" {
		err = errIncompleteMessage
		return
	}

	if line[0] == ':' {
		var prefix string

		prefix, line = word(line[1:])
		msg.Prefix = ParsePrefix(prefix)
	}

	line = strings.TrimLeft(line, " ")
	if line == "" {
		err = errIncompleteMessage
		return
	}

	msg.Command, line = word(line)
	msg.Command = strings.ToUpper(msg.Command)

	msg.Params = make([]string, 0, 15)
	for line != "" {
		if line[0] == ':' {
			msg.Params = append(msg.Params, line[1:])
			msg.trailing = true
			break
		}

		var param string
		param, line = word(line)
		msg.Params = append(msg.Params, param)
	}

	return
}

// String returns the wire representation of the message, without "\r\n".
// Serialization is the exact inverse of ParseMessage for well-formed lines
// with sorted tags.
func (msg Message) String() string {
	var sb strings.Builder

	if len(msg.Tags) != 0 {
		sb.WriteRune('@')
		sb.WriteString(formatTags(msg.Tags))
		sb.WriteRune(' ')
	}

	if msg.Prefix != nil {
		sb.WriteRune(':')
		sb.WriteString(msg.Prefix.String())
		sb.WriteRune(' ')
	}

	sb.WriteString(msg.Command)

	if len(msg.Params) != 0 {
		for _, p := range msg.Params[:len(msg.Params)-1] {
			sb.WriteRune(' ')
			sb.WriteString(p)
		}
		last := msg.Params[len(msg.Params)-1]
		sb.WriteRune(' ')
		if msg.trailing || last == "" || strings.HasPrefix(last, ":") || strings.ContainsRune(last, ' ') {
			sb.WriteRune(':')
		}
		sb.WriteString(last)
	}

	return sb.String()
}

// errNotEnoughParams returns an error indicating that the message doesn't
// have the number of parameters its command requires.
func (msg *Message) errNotEnoughParams(expected int) error {
	return fmt.Errorf("expected at least %d params for %q, got %d", expected, msg.Command, len(msg.Params))
}

// ParseParams assigns the message parameters to the given pointers in order.
// nil pointers skip the parameter at their position. It returns an error if
// the message has fewer parameters than arguments.
func (msg *Message) ParseParams(params ...*string) error {
	if len(msg.Params) < len(params) {
		return msg.errNotEnoughParams(len(params))
	}
	for i := range params {
		if params[i] != nil {
			*params[i] = msg.Params[i]
		}
	}
	return nil
}

// IsReply reports whether the message command is a numeric reply.
func (msg *Message) IsReply() bool {
	if len(msg.Command) != 3 {
		return false
	}
	for i := 0; i < len(msg.Command); i++ {
		if msg.Command[i] < '0' || '9' < msg.Command[i] {
			return false
		}
	}
	return true
}

// Time returns the time when the message has been sent, if present.
func (msg *Message) Time() (t time.Time, ok bool) {
	var tag string

	tag, ok = msg.Tags["time"]
	if !ok {
		return
	}

	return parseTimestamp(tag)
}

// TimeOrNow returns the time when the message has been sent, or time.Now() if
// absent or malformed.
func (msg *Message) TimeOrNow() time.Time {
	if t, ok := msg.Time(); ok {
		return t
	}
	return time.Now().UTC()
}

// parseTimestamp parses a server-time timestamp such as
// "2006-01-02T15:04:05.999Z".
func parseTimestamp(timestamp string) (time.Time, bool) {
	t, err := time.Parse("2006-01-02T15:04:05.999Z", timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// Cap is a capability token in "CAP" server responses.
type Cap struct {
	Name   string
	Value  string
	Enable bool
}

// ParseCaps parses the last parameter of a "CAP" server response.
func ParseCaps(caps string) (diff []Cap) {
	for _, c := range strings.Split(caps, " ") {
		if c == "" || c == "-" || c == "=" || c == "-=" {
			continue
		}

		var item Cap

		if strings.HasPrefix(c, "-") {
			item.Enable = false
			c = c[1:]
		} else {
			item.Enable = true
		}

		kv := strings.SplitN(c, "=", 2)
		item.Name = strings.ToLower(kv[0])
		if len(kv) > 1 {
			item.Value = kv[1]
		}

		diff = append(diff, item)
	}

	return
}
