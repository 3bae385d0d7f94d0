package irc

import (
	"time"
)

// Event is any event returned by Session.HandleMessage. The set of event
// types is closed: consumers dispatch with a type switch and never see raw
// wire lines.
type Event interface{}

// RegisteredEvent is emitted once connection registration completes. Network
// is the NETWORK ISUPPORT value, if the server advertised one by then.
type RegisteredEvent struct {
	Network string
}

type SelfNickEvent struct {
	FormerNick string
}

type UserNickEvent struct {
	User       string
	FormerNick string
	Time       time.Time
}

type SelfJoinEvent struct {
	Channel string
	Topic   string
	// Requested is true when the join is a response to a recent Join call.
	Requested bool
}

type UserJoinEvent struct {
	User    string
	Channel string
	Time    time.Time
}

type SelfPartEvent struct {
	Channel string
}

type UserPartEvent struct {
	User    string
	Channel string
	Time    time.Time
}

type UserQuitEvent struct {
	User     string
	Channels []string
	Time     time.Time
}

type TopicChangeEvent struct {
	Channel string
	Topic   string
	Who     string
	Time    time.Time
}

type ModeChangeEvent struct {
	Channel string
	Mode    string
	Time    time.Time
}

// MessageEvent is a fully reassembled message: a multiline batch is
// delivered as a single MessageEvent whose Content contains newlines.
type MessageEvent struct {
	User            string
	Target          string
	TargetIsChannel bool
	Command         string
	Content         string
	Time            time.Time
}

type MetadataChangeEvent struct {
	Target string
	Pinned bool
	Muted  bool
}

// WhoisEvent is the aggregated result of a whois exchange for one nick.
type WhoisEvent struct {
	Nick     string
	User     string
	Host     string
	Realname string

	Server     string
	ServerInfo string

	Account  string
	Operator bool
	Secure   bool
	Away     string

	Channels []string
	Idle     time.Duration
	Signon   time.Time
}

type InfoEvent struct {
	Prefix  string
	Message string
}

type Severity int

const (
	SeverityNote Severity = iota
	SeverityWarn
	SeverityFail
)

// ReplySeverity returns the severity of a server reply.
func ReplySeverity(reply string) Severity {
	switch reply[0] {
	case '4', '5', '9':
		if reply == errNomotd {
			return SeverityNote
		}
		return SeverityFail
	default:
		return SeverityNote
	}
}

type ErrorEvent struct {
	Severity Severity
	Code     string
	Message  string
}

// AuthErrorEvent is terminal: authentication was required and the server
// rejected it. The session closes after emitting it.
type AuthErrorEvent struct {
	Code    string
	Message string
}
